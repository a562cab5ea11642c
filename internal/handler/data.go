package handler

import (
	"fmt"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"email-extractor-go/internal/model"
	"email-extractor-go/internal/service"
)

// ListEmails handles GET /api/data/emails
func (h *Handlers) ListEmails(c *gin.Context) {
	emails, err := h.store.ListEmailsWithAttachments(c.Request.Context())
	if err != nil {
		respondError(c, err, "Failed to fetch emails from database")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"emails":  emails,
		"count":   len(emails),
	})
}

// GetExcelData handles GET /api/data/excel-data/:attachmentId
func (h *Handlers) GetExcelData(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("attachmentId"), 10, 64)
	if err != nil {
		badRequest(c, "Invalid attachment ID")
		return
	}

	rows, err := h.store.GetRowsByAttachmentID(c.Request.Context(), uint(id))
	if err != nil {
		respondError(c, err, "Failed to fetch excel data")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"data":     rows,
		"rowCount": len(rows),
	})
}

// ExportFormattedExcel handles POST /api/data/export-formatted-excel
func (h *Handlers) ExportFormattedExcel(c *gin.Context) {
	var req ExportRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.AttachmentID == 0 {
		badRequest(c, "Attachment ID is required")
		return
	}

	export, err := h.exporter.Export(c.Request.Context(), service.ExportRequest{
		AttachmentID: uint(req.AttachmentID),
		TemplateID:   uint(req.TemplateID),
		FileName:     strings.TrimSpace(req.FileName),
	})
	if err != nil {
		respondError(c, err, "Failed to export formatted Excel file")
		return
	}

	disposition := mime.FormatMediaType("attachment", map[string]string{"filename": export.FileName})
	if disposition == "" {
		disposition = fmt.Sprintf("attachment; filename=%q", fmt.Sprintf("formatted_excel_%d.xlsx", req.AttachmentID))
	}
	c.Header("Content-Disposition", disposition)
	c.Data(http.StatusOK, service.XLSXContentType, export.Content)
}

// SaveTemplate handles POST /api/data/templates
func (h *Handlers) SaveTemplate(c *gin.Context) {
	var req TemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil ||
		strings.TrimSpace(req.MerchantName) == "" ||
		strings.TrimSpace(req.TemplateName) == "" ||
		req.HeaderRows == nil {
		badRequest(c, "Merchant name, template name, and header rows are required")
		return
	}

	rows := *req.HeaderRows
	if len(rows) > model.TemplateHeaderRowCount {
		rows = rows[:model.TemplateHeaderRowCount]
	}

	tpl := &model.MerchantTemplate{
		MerchantName: strings.TrimSpace(req.MerchantName),
		TemplateName: strings.TrimSpace(req.TemplateName),
		HeaderRows:   rows,
	}
	if err := h.store.SaveTemplate(c.Request.Context(), tpl); err != nil {
		respondError(c, err, "Failed to save template")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"message":    "Template saved successfully",
		"templateId": tpl.ID,
	})
}

// ListTemplates handles GET /api/data/templates
func (h *Handlers) ListTemplates(c *gin.Context) {
	templates, err := h.store.ListTemplates(c.Request.Context())
	if err != nil {
		respondError(c, err, "Failed to fetch templates")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"templates": templates,
		"count":     len(templates),
	})
}
