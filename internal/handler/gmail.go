package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"email-extractor-go/internal/mailbox"
	"email-extractor-go/internal/service"
)

// SearchEmails handles POST /api/gmail/emails
func (h *Handlers) SearchEmails(c *gin.Context) {
	var req SearchRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "Invalid search request")
			return
		}
	}

	criteria := mailbox.SearchCriteria{
		SenderEmail: req.SenderEmail,
		Query:       req.Query,
		MaxResults:  req.MaxResults,
	}
	if criteria.Query == "" {
		criteria.Query = mailbox.DefaultQuery
	}
	if criteria.MaxResults <= 0 {
		criteria.MaxResults = mailbox.DefaultMaxResults
	}

	emails, err := h.mailbox.Search(c.Request.Context(), criteria)
	if err != nil {
		h.metrics.MailboxSearches.WithLabelValues("error").Inc()
		respondError(c, err, "Failed to search emails")
		return
	}
	h.metrics.MailboxSearches.WithLabelValues("ok").Inc()

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"emails":  emails,
		"count":   len(emails),
	})
}

// ProcessEmails handles POST /api/gmail/process
func (h *Handlers) ProcessEmails(c *gin.Context) {
	var req ProcessRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.EmailIDs) == 0 {
		badRequest(c, "Email IDs are required")
		return
	}
	uids, err := req.UIDs()
	if err != nil {
		badRequest(c, "Invalid email ID")
		return
	}

	// a started batch runs to completion even if the client goes away
	ctx := context.WithoutCancel(c.Request.Context())

	report, err := h.ingestor.ProcessMessages(ctx, uids, service.IngestOptions{SenderEmail: req.SenderEmail})
	if err != nil {
		respondError(c, err, "Failed to process emails")
		return
	}

	c.JSON(http.StatusOK, ProcessResponse{Success: true, IngestReport: report})
}

// TestConnection handles GET /api/gmail/test-connection
func (h *Handlers) TestConnection(c *gin.Context) {
	if err := h.mailbox.Connect(c.Request.Context()); err != nil {
		respondError(c, err, "Gmail IMAP connection failed")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Gmail IMAP connection successful",
	})
}
