package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"email-extractor-go/internal/mailbox"
	"email-extractor-go/internal/metrics"
	"email-extractor-go/internal/model"
	"email-extractor-go/internal/scheduler"
	"email-extractor-go/internal/service"
)

const serviceName = "Email Extractor API"

// Authenticator validates logins and bearer tokens
type Authenticator interface {
	ValidateEmail(email string) error
	GenerateToken(ctx context.Context, email, ipAddress, userAgent string) (string, error)
	VerifyToken(token string) (*service.Claims, error)
}

// OTPIssuer issues and checks one-time codes
type OTPIssuer interface {
	RequestOTP(ctx context.Context, email string) error
	VerifyOTP(ctx context.Context, email, code string) error
}

// Mailbox searches the remote inbox
type Mailbox interface {
	Connect(ctx context.Context) error
	Search(ctx context.Context, criteria mailbox.SearchCriteria) ([]model.EmailSummary, error)
}

// Ingestor runs the ingestion pipeline
type Ingestor interface {
	ProcessMessages(ctx context.Context, uids []uint32, opts service.IngestOptions) (*model.IngestReport, error)
}

// Exporter renders stored rows with a template
type Exporter interface {
	Export(ctx context.Context, req service.ExportRequest) (*service.Export, error)
}

// DataStore reads stored emails, rows and templates
type DataStore interface {
	ListEmailsWithAttachments(ctx context.Context) ([]model.EmailAttachmentView, error)
	GetRowsByAttachmentID(ctx context.Context, attachmentID uint) ([]model.Row, error)
	SaveTemplate(ctx context.Context, tpl *model.MerchantTemplate) error
	ListTemplates(ctx context.Context) ([]model.MerchantTemplate, error)
	Ping(ctx context.Context) error
}

// SweepStatus reports the OTP sweep schedule
type SweepStatus interface {
	Status() scheduler.Status
}

// Dependencies are the collaborators of Handlers
type Dependencies struct {
	Auth              Authenticator
	OTP               OTPIssuer
	Mailbox           Mailbox
	Ingestor          Ingestor
	Exporter          Exporter
	Store             DataStore
	Sweeper           SweepStatus
	Metrics           *metrics.Metrics
	MetricsHandler    http.Handler
	ProtectDataRoutes bool
}

// Handlers contains all HTTP handlers
type Handlers struct {
	auth              Authenticator
	otp               OTPIssuer
	mailbox           Mailbox
	ingestor          Ingestor
	exporter          Exporter
	store             DataStore
	sweeper           SweepStatus
	metrics           *metrics.Metrics
	metricsHandler    http.Handler
	protectDataRoutes bool
}

// NewHandlers creates new HTTP handlers
func NewHandlers(deps Dependencies) *Handlers {
	mh := deps.MetricsHandler
	if mh == nil {
		mh = promhttp.Handler()
	}

	return &Handlers{
		auth:              deps.Auth,
		otp:               deps.OTP,
		mailbox:           deps.Mailbox,
		ingestor:          deps.Ingestor,
		exporter:          deps.Exporter,
		store:             deps.Store,
		sweeper:           deps.Sweeper,
		metrics:           deps.Metrics,
		metricsHandler:    mh,
		protectDataRoutes: deps.ProtectDataRoutes,
	}
}

// SetupRoutes sets up all HTTP routes
func (h *Handlers) SetupRoutes(router *gin.Engine) {
	router.GET("/health", h.HealthCheck)
	router.GET("/metrics", gin.WrapH(h.metricsHandler))

	auth := router.Group("/api/auth")
	{
		auth.POST("/request-otp", h.RequestOTP)
		auth.POST("/verify-otp", h.VerifyOTP)
		auth.GET("/validate", h.ValidateToken)
	}

	gmail := router.Group("/api/gmail", h.AuthRequired())
	{
		gmail.POST("/emails", h.SearchEmails)
		gmail.POST("/process", h.ProcessEmails)
		gmail.GET("/test-connection", h.TestConnection)
	}

	data := router.Group("/api/data")
	if h.protectDataRoutes {
		data.Use(h.AuthRequired())
	}
	{
		data.GET("/emails", h.ListEmails)
		data.GET("/excel-data/:attachmentId", h.GetExcelData)
		data.POST("/export-formatted-excel", h.ExportFormattedExcel)
		data.POST("/templates", h.SaveTemplate)
		data.GET("/templates", h.ListTemplates)
	}

	router.NoRoute(h.NotFound)
}

// HealthCheck handles health check requests
func (h *Handlers) HealthCheck(c *gin.Context) {
	response := HealthResponse{
		Status:    "OK",
		Timestamp: time.Now(),
		Service:   serviceName,
		Database:  "ok",
	}

	if err := h.store.Ping(c.Request.Context()); err != nil {
		response.Status = "DEGRADED"
		response.Database = "error"
		logrus.WithError(err).Error("Database health check failed")
	}

	if h.sweeper != nil {
		response.OTPSweeper = h.sweeper.Status()
	}

	statusCode := http.StatusOK
	if response.Database != "ok" {
		statusCode = http.StatusServiceUnavailable
	}
	c.JSON(statusCode, response)
}

// NotFound answers unknown paths
func (h *Handlers) NotFound(c *gin.Context) {
	message := "Not found"
	if strings.HasPrefix(c.Request.URL.Path, "/api") {
		message = "API endpoint not found"
	}
	c.JSON(http.StatusNotFound, ErrorResponse{Message: message})
}

// badRequest answers with a 400 carrying message
func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Message: message})
}

// respondError maps a service error to a status code. Only server-side
// failures expose the underlying error text.
func respondError(c *gin.Context, err error, fallback string) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, service.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, service.ErrAuth):
		status = http.StatusUnauthorized
	case errors.Is(err, service.ErrNotFound):
		status = http.StatusNotFound
	}

	resp := ErrorResponse{Message: service.Message(err, fallback)}
	if status == http.StatusInternalServerError {
		resp.Message = fallback
		resp.Error = err.Error()
		logrus.WithError(err).WithField("path", c.FullPath()).Error(fallback)
	}
	c.JSON(status, resp)
}
