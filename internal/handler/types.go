package handler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	"email-extractor-go/internal/model"
	"email-extractor-go/internal/scheduler"
)

// ID accepts a JSON number or a numeric string
type ID uint

func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*id = 0
		return nil
	}

	s := string(b)
	if len(b) > 0 && b[0] == '"' {
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if s == "" {
			*id = 0
			return nil
		}
	}

	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid id %q", s)
	}
	*id = ID(n)
	return nil
}

// RequestOTPRequest is the body of POST /api/auth/request-otp
type RequestOTPRequest struct {
	Email string `json:"email"`
}

// VerifyOTPRequest is the body of POST /api/auth/verify-otp
type VerifyOTPRequest struct {
	Email string `json:"email"`
	OTP   string `json:"otp"`
}

// UserResponse identifies the logged in user
type UserResponse struct {
	Email string `json:"email"`
}

// SearchRequest is the body of POST /api/gmail/emails
type SearchRequest struct {
	Query       string `json:"query"`
	SenderEmail string `json:"senderEmail"`
	MaxResults  int    `json:"maxResults"`
}

// ProcessRequest is the body of POST /api/gmail/process
type ProcessRequest struct {
	EmailIDs    []ID   `json:"emailIds"`
	SenderEmail string `json:"senderEmail"`
}

// UIDs converts the requested ids to mailbox UIDs. Zero and out of range
// ids are rejected.
func (r ProcessRequest) UIDs() ([]uint32, error) {
	uids := make([]uint32, 0, len(r.EmailIDs))
	for _, id := range r.EmailIDs {
		if id == 0 || uint64(id) > math.MaxUint32 {
			return nil, fmt.Errorf("invalid email id %d", id)
		}
		uids = append(uids, uint32(id))
	}
	return uids, nil
}

// ProcessResponse is the ingestion report with the success flag
type ProcessResponse struct {
	Success bool `json:"success"`
	*model.IngestReport
}

// ExportRequest is the body of POST /api/data/export-formatted-excel
type ExportRequest struct {
	AttachmentID ID     `json:"attachmentId"`
	TemplateID   ID     `json:"templateId"`
	FileName     string `json:"fileName"`
}

// TemplateRequest is the body of POST /api/data/templates
type TemplateRequest struct {
	MerchantName string            `json:"merchantName"`
	TemplateName string            `json:"templateName"`
	HeaderRows   *model.HeaderRows `json:"headerRows"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status     string           `json:"status"`
	Timestamp  time.Time        `json:"timestamp"`
	Service    string           `json:"service"`
	Database   string           `json:"database"`
	OTPSweeper scheduler.Status `json:"otpSweeper"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}
