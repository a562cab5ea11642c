package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"email-extractor-go/internal/mailbox"
	"email-extractor-go/internal/metrics"
	"email-extractor-go/internal/model"
	"email-extractor-go/internal/spreadsheet"
)

// AttachmentKind is the decode route chosen from an attachment's extension
type AttachmentKind string

const (
	KindSpreadsheet AttachmentKind = "spreadsheet"
	KindDelimited   AttachmentKind = "delimited"
	KindOther       AttachmentKind = "other"
)

// Classify picks the decode route from the filename extension, ignoring case
func Classify(filename string) AttachmentKind {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".xlsx", ".xls", ".xlsm", ".xlsb":
		return KindSpreadsheet
	case ".csv":
		return KindDelimited
	default:
		return KindOther
	}
}

// Format maps the kind onto the decoder the content must satisfy
func (k AttachmentKind) Format() spreadsheet.Format {
	switch k {
	case KindSpreadsheet:
		return spreadsheet.FormatWorkbook
	case KindDelimited:
		return spreadsheet.FormatDelimited
	default:
		return spreadsheet.FormatUnknown
	}
}

// MessageFetcher retrieves full messages from the mailbox
type MessageFetcher interface {
	FetchFull(ctx context.Context, uid uint32) (*mailbox.Message, error)
}

// IngestStore persists ingested emails, attachments and rows
type IngestStore interface {
	UpsertEmail(ctx context.Context, email *model.Email) error
	SaveAttachment(ctx context.Context, attachment *model.Attachment) error
	SaveRows(ctx context.Context, attachmentID uint, rows []model.Row) error
}

// IngestOptions carries caller filters for a batch
type IngestOptions struct {
	SenderEmail string
}

// Processor runs the fetch, decode and persist pipeline
type Processor struct {
	fetcher    MessageFetcher
	store      IngestStore
	fs         afero.Fs
	stagingDir string
	metrics    *metrics.Metrics
	now        func() time.Time
}

// NewProcessor creates a Processor staging attachments under stagingDir on fs
func NewProcessor(fetcher MessageFetcher, store IngestStore, fs afero.Fs, stagingDir string, m *metrics.Metrics) *Processor {
	return &Processor{
		fetcher:    fetcher,
		store:      store,
		fs:         fs,
		stagingDir: stagingDir,
		metrics:    m,
		now:        time.Now,
	}
}

// ProcessMessages ingests each uid in order. A fetch failure abandons that
// message and counts it as failed. Persistence failures are logged only.
func (p *Processor) ProcessMessages(ctx context.Context, uids []uint32, opts IngestOptions) (*model.IngestReport, error) {
	start := p.now()
	defer func() {
		p.metrics.ProcessingTime.Observe(time.Since(start).Seconds())
	}()

	staging, cleanup, err := p.stage()
	if err != nil {
		return nil, newError(ErrUpstream, "Failed to prepare attachment staging area", err)
	}
	defer cleanup()

	report := &model.IngestReport{
		Processed: []model.ProcessedEmail{},
		Total:     len(uids),
	}

	for _, uid := range uids {
		log := logrus.WithFields(logrus.Fields{
			"uid":           uid,
			"sender_filter": opts.SenderEmail,
		})

		msg, err := p.fetcher.FetchFull(ctx, uid)
		if err != nil {
			log.WithError(err).Error("Failed to fetch email")
			p.metrics.EmailFetchFailures.Inc()
			report.Failed++
			continue
		}

		report.Processed = append(report.Processed, p.processMessage(ctx, log, staging, uid, msg))
		p.metrics.EmailsProcessed.Inc()
	}

	report.Count = len(report.Processed)
	logrus.WithFields(logrus.Fields{
		"total":  report.Total,
		"count":  report.Count,
		"failed": report.Failed,
	}).Info("Email batch processed")

	return report, nil
}

func (p *Processor) processMessage(ctx context.Context, log *logrus.Entry, staging string, uid uint32, msg *mailbox.Message) model.ProcessedEmail {
	email := &model.Email{
		EmailUID:     strconv.FormatUint(uint64(uid), 10),
		Subject:      msg.Subject,
		FromAddress:  msg.From,
		DateReceived: msg.Date,
	}

	var emailID uint
	if err := p.store.UpsertEmail(ctx, email); err != nil {
		log.WithError(err).Warn("Could not save email metadata to database")
		p.metrics.PersistenceFailures.WithLabelValues("email").Inc()
	} else {
		emailID = email.ID
	}

	record := model.ProcessedEmail{
		ID:          uid,
		UID:         uid,
		Subject:     msg.Subject,
		From:        msg.From,
		Date:        msg.Date,
		Attachments: []model.ProcessedAttachment{},
	}

	for _, att := range msg.Attachments {
		record.Attachments = append(record.Attachments, p.processAttachment(ctx, log, staging, emailID, att))
	}
	return record
}

func (p *Processor) processAttachment(ctx context.Context, log *logrus.Entry, staging string, emailID uint, att mailbox.Attachment) model.ProcessedAttachment {
	filename := att.Filename
	if filename == "" {
		filename = fmt.Sprintf("attachment_%d", p.now().UnixMilli())
	}
	log = log.WithField("attachment", filename)

	record := model.ProcessedAttachment{
		Filename:    filename,
		ContentType: att.ContentType,
		Size:        att.Size(),
		Data:        []model.Row{},
		Headers:     []string{},
	}

	kind := Classify(filename)
	p.metrics.AttachmentsDecoded.WithLabelValues(string(kind)).Inc()
	if kind == KindOther {
		return record
	}

	parsed := spreadsheet.Parse(p.readStaged(log, staging, filename, att.Content), kind.Format())
	record.Data = parsed.Rows
	record.Headers = parsed.Headers
	record.ColumnCount = parsed.ColumnCount
	record.RowCount = parsed.RowCount

	if emailID == 0 {
		return record
	}

	stored := &model.Attachment{
		EmailID:     emailID,
		Filename:    filename,
		ContentType: att.ContentType,
		Size:        att.Size(),
	}
	if err := p.store.SaveAttachment(ctx, stored); err != nil {
		log.WithError(err).Warn("Could not save attachment to database")
		p.metrics.PersistenceFailures.WithLabelValues("attachment").Inc()
		return record
	}
	if err := p.store.SaveRows(ctx, stored.ID, parsed.Rows); err != nil {
		log.WithError(err).Warn("Could not save attachment rows to database")
		p.metrics.PersistenceFailures.WithLabelValues("rows").Inc()
		return record
	}
	p.metrics.RowsStored.Add(float64(len(parsed.Rows)))

	return record
}

// readStaged writes content into the staging area and reads it back for
// decoding. Staging errors fall back to the in-memory bytes.
func (p *Processor) readStaged(log *logrus.Entry, staging, filename string, content []byte) []byte {
	name := filepath.Join(staging, uuid.NewString()+strings.ToLower(filepath.Ext(filename)))
	if err := afero.WriteFile(p.fs, name, content, 0o600); err != nil {
		log.WithError(err).Warn("Failed to stage attachment")
		return content
	}

	data, err := afero.ReadFile(p.fs, name)
	if err != nil {
		log.WithError(err).Warn("Failed to read staged attachment")
		return content
	}
	return data
}

// stage creates a per-batch directory under the staging root
func (p *Processor) stage() (string, func(), error) {
	if err := p.fs.MkdirAll(p.stagingDir, os.ModePerm); err != nil {
		return "", nil, fmt.Errorf("failed to create staging root %s: %w", p.stagingDir, err)
	}

	dir, err := afero.TempDir(p.fs, p.stagingDir, "batch-")
	if err != nil {
		return "", nil, fmt.Errorf("failed to create staging directory: %w", err)
	}

	return dir, func() {
		if err := p.fs.RemoveAll(dir); err != nil {
			logrus.WithError(err).WithField("dir", dir).Warn("Failed to remove staging directory")
		}
	}, nil
}
