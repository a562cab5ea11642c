package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"email-extractor-go/internal/model"
)

const rowBatchSize = 200

// Repository is the persistence gateway for ingested mail, templates and logins.
// Every method runs in its own transaction scope; callers never share one.
type Repository struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// UpsertEmail inserts the email or, when email_uid already exists, overwrites
// subject, sender and date. email.ID is set to the stored surrogate key.
func (r *Repository) UpsertEmail(ctx context.Context, email *model.Email) error {
	email.ID = 0
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "email_uid"}},
			DoUpdates: clause.AssignmentColumns([]string{"subject", "from_address", "date_received"}),
		}).Omit(clause.Associations).Create(email)
		if result.Error != nil {
			return result.Error
		}

		var stored model.Email
		if err := tx.Select("id", "created_at").Where("email_uid = ?", email.EmailUID).First(&stored).Error; err != nil {
			return err
		}
		email.ID = stored.ID
		email.CreatedAt = stored.CreatedAt
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to upsert email %s: %w", email.EmailUID, err)
	}
	return nil
}

// SaveAttachment always inserts a new attachment record
func (r *Repository) SaveAttachment(ctx context.Context, attachment *model.Attachment) error {
	if err := r.db.WithContext(ctx).Omit(clause.Associations).Create(attachment).Error; err != nil {
		return fmt.Errorf("failed to save attachment %s: %w", attachment.Filename, err)
	}
	return nil
}

// SaveRows stores decoded rows for an attachment, keeping their positions
func (r *Repository) SaveRows(ctx context.Context, attachmentID uint, rows []model.Row) error {
	if len(rows) == 0 {
		return nil
	}

	records := make([]model.ExcelRow, len(rows))
	for i, row := range rows {
		records[i] = model.ExcelRow{
			AttachmentID: attachmentID,
			RowIndex:     i,
			Data:         row,
		}
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.CreateInBatches(records, rowBatchSize).Error
	})
	if err != nil {
		return fmt.Errorf("failed to save rows for attachment %d: %w", attachmentID, err)
	}
	return nil
}

// ListEmailsWithAttachments returns one entry per stored attachment, newest email first.
// Emails without attachments appear once with empty attachment fields.
func (r *Repository) ListEmailsWithAttachments(ctx context.Context) ([]model.EmailAttachmentView, error) {
	views := []model.EmailAttachmentView{}
	err := r.db.WithContext(ctx).
		Table("email_metadata AS em").
		Select("em.id, em.email_uid, em.subject, em.from_address, em.date_received, " +
			"a.id AS attachment_id, a.filename, a.content_type, a.size").
		Joins("LEFT JOIN attachments a ON em.id = a.email_id").
		Order("em.date_received DESC").
		Order("a.id ASC").
		Scan(&views).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list emails: %w", err)
	}
	return views, nil
}

// GetRowsByAttachmentID returns the stored rows of an attachment in sheet order
func (r *Repository) GetRowsByAttachmentID(ctx context.Context, attachmentID uint) ([]model.Row, error) {
	var records []model.ExcelRow
	err := r.db.WithContext(ctx).
		Where("attachment_id = ?", attachmentID).
		Order("row_index ASC").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get rows for attachment %d: %w", attachmentID, err)
	}

	rows := make([]model.Row, len(records))
	for i, rec := range records {
		rows[i] = rec.Data
	}
	return rows, nil
}

// SaveTemplate inserts a merchant template
func (r *Repository) SaveTemplate(ctx context.Context, tpl *model.MerchantTemplate) error {
	if err := r.db.WithContext(ctx).Create(tpl).Error; err != nil {
		return fmt.Errorf("failed to save template: %w", err)
	}
	return nil
}

// GetTemplate returns the template or nil when it does not exist
func (r *Repository) GetTemplate(ctx context.Context, id uint) (*model.MerchantTemplate, error) {
	var tpl model.MerchantTemplate
	err := r.db.WithContext(ctx).First(&tpl, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get template %d: %w", id, err)
	}
	return &tpl, nil
}

// ListTemplates returns all templates, newest first
func (r *Repository) ListTemplates(ctx context.Context) ([]model.MerchantTemplate, error) {
	templates := []model.MerchantTemplate{}
	if err := r.db.WithContext(ctx).Order("created_at DESC").Order("id DESC").Find(&templates).Error; err != nil {
		return nil, fmt.Errorf("failed to get templates: %w", err)
	}
	return templates, nil
}

// SaveLoginHistory appends a login event
func (r *Repository) SaveLoginHistory(ctx context.Context, email string, ipAddress, userAgent string) error {
	entry := model.LoginHistory{
		Email:     email,
		IPAddress: optional(ipAddress),
		UserAgent: optional(userAgent),
	}
	if err := r.db.WithContext(ctx).Create(&entry).Error; err != nil {
		return fmt.Errorf("failed to save login history: %w", err)
	}
	return nil
}

// Ping checks the database connection
func (r *Repository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
