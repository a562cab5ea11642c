package service

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/xuri/excelize/v2"

	"email-extractor-go/internal/metrics"
	"email-extractor-go/internal/model"
)

const (
	exportSheet       = "Data"
	XLSXContentType   = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	defaultExportName = "formatted_excel_%d_%d.xlsx"
)

// BuildMatrix lays out the export: exactly model.TemplateHeaderRowCount header
// rows taken from tpl (padded with empty rows), then every data row's values.
func BuildMatrix(rows []model.Row, tpl *model.MerchantTemplate) [][]string {
	matrix := make([][]string, 0, model.TemplateHeaderRowCount+len(rows))
	for i := 0; i < model.TemplateHeaderRowCount; i++ {
		if tpl != nil && i < len(tpl.HeaderRows) {
			matrix = append(matrix, tpl.HeaderRows[i])
		} else {
			matrix = append(matrix, []string{})
		}
	}
	for _, row := range rows {
		matrix = append(matrix, row.Values())
	}
	return matrix
}

// Render writes the matrix into a single-sheet workbook
func Render(rows []model.Row, tpl *model.MerchantTemplate) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), exportSheet); err != nil {
		return nil, fmt.Errorf("failed to name sheet: %w", err)
	}

	for i, cells := range BuildMatrix(rows, tpl) {
		if len(cells) == 0 {
			continue
		}
		values := make([]interface{}, len(cells))
		for j, v := range cells {
			values[j] = v
		}
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return nil, err
		}
		if err := f.SetSheetRow(exportSheet, cell, &values); err != nil {
			return nil, fmt.Errorf("failed to write row %d: %w", i+1, err)
		}
	}

	buf := new(bytes.Buffer)
	if _, err := f.WriteTo(buf); err != nil {
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

// ExportStore reads stored rows and templates
type ExportStore interface {
	GetRowsByAttachmentID(ctx context.Context, attachmentID uint) ([]model.Row, error)
	GetTemplate(ctx context.Context, id uint) (*model.MerchantTemplate, error)
}

// ExportRequest selects the rows and template to export
type ExportRequest struct {
	AttachmentID uint
	TemplateID   uint
	FileName     string
}

// Export is a rendered workbook ready for download
type Export struct {
	FileName string
	Content  []byte
}

// Formatter merges stored rows with merchant header templates
type Formatter struct {
	store   ExportStore
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewFormatter(store ExportStore, m *metrics.Metrics) *Formatter {
	return &Formatter{store: store, metrics: m, now: time.Now}
}

// Export renders the rows of an attachment. An unknown template renders
// empty header rows.
func (f *Formatter) Export(ctx context.Context, req ExportRequest) (*Export, error) {
	if req.AttachmentID == 0 {
		return nil, newError(ErrValidation, "Attachment ID is required", nil)
	}

	rows, err := f.store.GetRowsByAttachmentID(ctx, req.AttachmentID)
	if err != nil {
		return nil, newError(ErrPersistence, "Failed to export formatted Excel file", err)
	}
	if len(rows) == 0 {
		return nil, newError(ErrNotFound, "No data found for the given attachment", nil)
	}

	var tpl *model.MerchantTemplate
	if req.TemplateID != 0 {
		tpl, err = f.store.GetTemplate(ctx, req.TemplateID)
		if err != nil {
			return nil, newError(ErrPersistence, "Failed to export formatted Excel file", err)
		}
		if tpl == nil {
			logrus.WithField("template_id", req.TemplateID).Warn("Template not found, exporting without header rows")
		}
	}

	content, err := Render(rows, tpl)
	if err != nil {
		return nil, fmt.Errorf("failed to render export for attachment %d: %w", req.AttachmentID, err)
	}

	name := req.FileName
	if name == "" {
		name = fmt.Sprintf(defaultExportName, req.AttachmentID, f.now().UnixMilli())
	}
	f.metrics.Exports.Inc()

	return &Export{FileName: name, Content: content}, nil
}
