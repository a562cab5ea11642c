package model

import (
	"time"
)

// Email is the persisted metadata of an ingested mailbox message
type Email struct {
	ID           uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	EmailUID     string    `json:"email_uid" gorm:"column:email_uid;type:varchar(255);not null;uniqueIndex"`
	Subject      string    `json:"subject" gorm:"type:varchar(500)"`
	FromAddress  string    `json:"from_address" gorm:"column:from_address;type:varchar(255)"`
	DateReceived time.Time `json:"date_received" gorm:"column:date_received"`
	CreatedAt    time.Time `json:"created_at"`

	Attachments []Attachment `json:"attachments,omitempty" gorm:"foreignKey:EmailID;constraint:OnDelete:CASCADE"`
}

// TableName specifies the table name for Email
func (Email) TableName() string {
	return "email_metadata"
}

// Attachment is a file attached to an ingested email
type Attachment struct {
	ID          uint   `json:"id" gorm:"primaryKey;autoIncrement"`
	EmailID     uint   `json:"email_id" gorm:"not null;index"`
	Filename    string `json:"filename" gorm:"type:varchar(255)"`
	ContentType string `json:"content_type" gorm:"type:varchar(255)"`
	Size        int64  `json:"size"`

	Rows []ExcelRow `json:"-" gorm:"foreignKey:AttachmentID;constraint:OnDelete:CASCADE"`
}

// TableName specifies the table name for Attachment
func (Attachment) TableName() string {
	return "attachments"
}

// ExcelRow is one decoded row of a spreadsheet attachment
type ExcelRow struct {
	ID           uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	AttachmentID uint      `json:"attachment_id" gorm:"not null;index"`
	RowIndex     int       `json:"row_index" gorm:"not null"`
	Data         Row       `json:"data" gorm:"type:json"`
	CreatedAt    time.Time `json:"created_at"`
}

// TableName specifies the table name for ExcelRow
func (ExcelRow) TableName() string {
	return "excel_data"
}

// LoginHistory is an append-only record of a successful login
type LoginHistory struct {
	ID        uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	Email     string    `json:"email" gorm:"type:varchar(255);index"`
	LoginTime time.Time `json:"login_time" gorm:"autoCreateTime"`
	IPAddress *string   `json:"ip_address" gorm:"type:varchar(45)"`
	UserAgent *string   `json:"user_agent" gorm:"type:text"`
}

// TableName specifies the table name for LoginHistory
func (LoginHistory) TableName() string {
	return "user_login_history"
}
