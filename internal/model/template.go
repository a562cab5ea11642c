package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// TemplateHeaderRowCount is the number of rows every export starts with
const TemplateHeaderRowCount = 5

// HeaderRows holds the rows a merchant template places in front of exported data
type HeaderRows [][]string

// UnmarshalJSON accepts rows of arbitrary JSON scalars and keeps their text form
func (h *HeaderRows) UnmarshalJSON(data []byte) error {
	var raw [][]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	rows := make(HeaderRows, len(raw))
	for i, cells := range raw {
		rows[i] = make([]string, len(cells))
		for j, cell := range cells {
			rows[i][j] = scalarText(cell)
		}
	}
	*h = rows
	return nil
}

// Value implements driver.Valuer
func (h HeaderRows) Value() (driver.Value, error) {
	if h == nil {
		h = HeaderRows{}
	}
	b, err := json.Marshal([][]string(h))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner
func (h *HeaderRows) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*h = HeaderRows{}
		return nil
	case []byte:
		return h.UnmarshalJSON(v)
	case string:
		return h.UnmarshalJSON([]byte(v))
	default:
		return fmt.Errorf("header rows: unsupported scan type %T", src)
	}
}

// MerchantTemplate is a named set of header rows used when exporting data
type MerchantTemplate struct {
	ID           uint       `json:"id" gorm:"primaryKey;autoIncrement"`
	MerchantName string     `json:"merchant_name" gorm:"type:varchar(255)"`
	TemplateName string     `json:"template_name" gorm:"type:varchar(255)"`
	HeaderRows   HeaderRows `json:"header_rows" gorm:"type:json"`
	CreatedAt    time.Time  `json:"created_at"`
}

// TableName specifies the table name for MerchantTemplate
func (MerchantTemplate) TableName() string {
	return "merchant_templates"
}
