package model

import "time"

// EmailSummary is one search hit returned by the mailbox
type EmailSummary struct {
	ID              uint32    `json:"id"`
	UID             uint32    `json:"uid"`
	Subject         string    `json:"subject"`
	From            string    `json:"from"`
	Date            time.Time `json:"date"`
	HasAttachments  bool      `json:"hasAttachments"`
	AttachmentCount int       `json:"attachmentCount"`
}

// ProcessedAttachment is the in-memory result of ingesting one attachment
type ProcessedAttachment struct {
	Filename    string   `json:"filename"`
	ContentType string   `json:"contentType"`
	Size        int64    `json:"size"`
	Data        []Row    `json:"data"`
	Headers     []string `json:"headers"`
	ColumnCount int      `json:"columnCount"`
	RowCount    int      `json:"rowCount"`
}

// ProcessedEmail is the in-memory result of ingesting one message
type ProcessedEmail struct {
	ID          uint32                `json:"id"`
	UID         uint32                `json:"uid"`
	Subject     string                `json:"subject"`
	From        string                `json:"from"`
	Date        time.Time             `json:"date"`
	Attachments []ProcessedAttachment `json:"attachments"`
}

// IngestReport summarizes a batch ingestion
type IngestReport struct {
	Processed []ProcessedEmail `json:"processed"`
	Count     int              `json:"count"`
	Total     int              `json:"total"`
	Failed    int              `json:"failed"`
}

// EmailAttachmentView is one row of the stored email/attachment listing.
// Attachment fields are nil for emails stored without attachments.
type EmailAttachmentView struct {
	ID           uint      `json:"id"`
	EmailUID     string    `json:"email_uid"`
	Subject      string    `json:"subject"`
	FromAddress  string    `json:"from_address"`
	DateReceived time.Time `json:"date_received"`
	AttachmentID *uint     `json:"attachment_id"`
	Filename     *string   `json:"filename"`
	ContentType  *string   `json:"content_type"`
	Size         *int64    `json:"size"`
}
