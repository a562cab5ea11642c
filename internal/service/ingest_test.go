package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"email-extractor-go/internal/mailbox"
	"email-extractor-go/internal/metrics"
	"email-extractor-go/internal/model"
	"email-extractor-go/internal/spreadsheet"
)

type fakeFetcher struct {
	messages map[uint32]*mailbox.Message
	calls    []uint32
}

func (f *fakeFetcher) FetchFull(ctx context.Context, uid uint32) (*mailbox.Message, error) {
	f.calls = append(f.calls, uid)
	msg, ok := f.messages[uid]
	if !ok {
		return nil, mailbox.ErrNotFound
	}
	return msg, nil
}

type fakeIngestStore struct {
	mu          sync.Mutex
	failEmail   bool
	failRows    bool
	nextID      uint
	emails      []model.Email
	attachments []model.Attachment
	rows        map[uint][]model.Row
}

func newFakeIngestStore() *fakeIngestStore {
	return &fakeIngestStore{rows: make(map[uint][]model.Row)}
}

func (s *fakeIngestStore) UpsertEmail(ctx context.Context, email *model.Email) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failEmail {
		return errors.New("database down")
	}
	s.nextID++
	email.ID = s.nextID
	s.emails = append(s.emails, *email)
	return nil
}

func (s *fakeIngestStore) SaveAttachment(ctx context.Context, attachment *model.Attachment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	attachment.ID = s.nextID
	s.attachments = append(s.attachments, *attachment)
	return nil
}

func (s *fakeIngestStore) SaveRows(ctx context.Context, attachmentID uint, rows []model.Row) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failRows {
		return errors.New("rows rejected")
	}
	s.rows[attachmentID] = rows
	return nil
}

func newTestProcessor(fetcher MessageFetcher, store IngestStore, fs afero.Fs) *Processor {
	return NewProcessor(fetcher, store, fs, "/staging", metrics.NewMetrics(prometheus.NewRegistry()))
}

func csvMessage(subject string) *mailbox.Message {
	return &mailbox.Message{
		Subject: subject,
		From:    "billing@shop.com",
		Date:    time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		Attachments: []mailbox.Attachment{
			{Filename: "report.csv", ContentType: "text/csv", Content: []byte("Item,Qty\nPen,3\nInk,1\n")},
		},
	}
}

func TestProcessMessagesIsolatesFetchFailures(t *testing.T) {
	fetcher := &fakeFetcher{messages: map[uint32]*mailbox.Message{
		1: csvMessage("A"),
		3: csvMessage("C"),
	}}
	store := newFakeIngestStore()
	fs := afero.NewMemMapFs()

	report, err := newTestProcessor(fetcher, store, fs).ProcessMessages(context.Background(), []uint32{1, 2, 3}, IngestOptions{})
	require.NoError(t, err)

	assert.Equal(t, 3, report.Total)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 2, report.Count)
	require.Len(t, report.Processed, 2)
	assert.Equal(t, "A", report.Processed[0].Subject)
	assert.Equal(t, uint32(1), report.Processed[0].UID)
	assert.Equal(t, "C", report.Processed[1].Subject)
	assert.Equal(t, []uint32{1, 2, 3}, fetcher.calls)

	att := report.Processed[0].Attachments[0]
	assert.Equal(t, []string{"Item", "Qty"}, att.Headers)
	assert.Equal(t, 2, att.RowCount)
	assert.Equal(t, 2, att.ColumnCount)

	require.Len(t, store.emails, 2)
	assert.Equal(t, "1", store.emails[0].EmailUID)
	require.Len(t, store.attachments, 2)
	assert.Len(t, store.rows[store.attachments[0].ID], 2)

	entries, err := afero.ReadDir(fs, "/staging")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestProcessMessagesClassifiesAttachments(t *testing.T) {
	msg := &mailbox.Message{
		Subject: "Mixed",
		Attachments: []mailbox.Attachment{
			{Filename: "invoice.XLSX", ContentType: "application/octet-stream", Content: []byte("not really a workbook")},
			{Filename: "notes.txt", ContentType: "text/plain", Content: []byte("hello")},
		},
	}
	store := newFakeIngestStore()
	fetcher := &fakeFetcher{messages: map[uint32]*mailbox.Message{5: msg}}

	report, err := newTestProcessor(fetcher, store, afero.NewMemMapFs()).ProcessMessages(context.Background(), []uint32{5}, IngestOptions{})
	require.NoError(t, err)
	require.Len(t, report.Processed, 1)

	atts := report.Processed[0].Attachments
	require.Len(t, atts, 2)

	assert.Equal(t, "invoice.XLSX", atts[0].Filename)
	assert.Empty(t, atts[0].Data)

	assert.Equal(t, "notes.txt", atts[1].Filename)
	assert.Equal(t, int64(5), atts[1].Size)
	assert.Empty(t, atts[1].Data)
	assert.Empty(t, atts[1].Headers)
	assert.Equal(t, 0, atts[1].RowCount)

	require.Len(t, store.attachments, 1)
	assert.Equal(t, "invoice.XLSX", store.attachments[0].Filename)
}

func TestProcessMessagesStoresNoRowsForCorruptContent(t *testing.T) {
	binary := []byte{0x00, 0x13, 0x7f, 0x01, '\n', 0x02, 0xff, 0xfe, 0x03, '\n', 0x04, 0x05}
	msg := &mailbox.Message{
		Subject: "Corrupt",
		Attachments: []mailbox.Attachment{
			{Filename: "export.csv", ContentType: "text/csv", Content: binary},
			{Filename: "ledger.xlsx", ContentType: "application/octet-stream", Content: binary},
			{Filename: "plain.xls", ContentType: "application/vnd.ms-excel", Content: []byte("Item,Qty\nPen,3\n")},
		},
	}
	store := newFakeIngestStore()
	fetcher := &fakeFetcher{messages: map[uint32]*mailbox.Message{8: msg}}

	report, err := newTestProcessor(fetcher, store, afero.NewMemMapFs()).ProcessMessages(context.Background(), []uint32{8}, IngestOptions{})
	require.NoError(t, err)
	require.Len(t, report.Processed, 1)

	for _, att := range report.Processed[0].Attachments {
		assert.Empty(t, att.Data, att.Filename)
		assert.Empty(t, att.Headers, att.Filename)
		assert.Equal(t, 0, att.RowCount, att.Filename)
	}

	require.Len(t, store.attachments, 3)
	for _, stored := range store.attachments {
		assert.Empty(t, store.rows[stored.ID], stored.Filename)
	}
}

func TestAttachmentKindFormat(t *testing.T) {
	assert.Equal(t, spreadsheet.FormatWorkbook, KindSpreadsheet.Format())
	assert.Equal(t, spreadsheet.FormatDelimited, KindDelimited.Format())
	assert.Equal(t, spreadsheet.FormatUnknown, KindOther.Format())
}

func TestProcessMessagesPersistenceIsBestEffort(t *testing.T) {
	store := newFakeIngestStore()
	store.failEmail = true
	fetcher := &fakeFetcher{messages: map[uint32]*mailbox.Message{1: csvMessage("A")}}

	report, err := newTestProcessor(fetcher, store, afero.NewMemMapFs()).ProcessMessages(context.Background(), []uint32{1}, IngestOptions{})
	require.NoError(t, err)

	assert.Equal(t, 1, report.Count)
	assert.Equal(t, 0, report.Failed)
	assert.Equal(t, 2, report.Processed[0].Attachments[0].RowCount)
	assert.Empty(t, store.attachments)

	store = newFakeIngestStore()
	store.failRows = true
	report, err = newTestProcessor(fetcher, store, afero.NewMemMapFs()).ProcessMessages(context.Background(), []uint32{1}, IngestOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Count)
	assert.Len(t, store.attachments, 1)
}

func TestProcessMessagesSynthesizesFilename(t *testing.T) {
	msg := &mailbox.Message{Attachments: []mailbox.Attachment{{Content: []byte("x")}}}
	fetcher := &fakeFetcher{messages: map[uint32]*mailbox.Message{1: msg}}

	p := newTestProcessor(fetcher, newFakeIngestStore(), afero.NewMemMapFs())
	p.now = func() time.Time { return time.UnixMilli(1700000000000) }

	report, err := p.ProcessMessages(context.Background(), []uint32{1}, IngestOptions{})
	require.NoError(t, err)
	assert.Equal(t, "attachment_1700000000000", report.Processed[0].Attachments[0].Filename)
}

func TestProcessMessagesStagingFailure(t *testing.T) {
	fetcher := &fakeFetcher{}
	p := newTestProcessor(fetcher, newFakeIngestStore(), afero.NewReadOnlyFs(afero.NewMemMapFs()))

	_, err := p.ProcessMessages(context.Background(), []uint32{1}, IngestOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUpstream)
	assert.Empty(t, fetcher.calls)
}

func TestClassify(t *testing.T) {
	cases := map[string]AttachmentKind{
		"invoice.XLSX": KindSpreadsheet,
		"old.xls":      KindSpreadsheet,
		"macro.Xlsm":   KindSpreadsheet,
		"bin.xlsb":     KindSpreadsheet,
		"data.CSV":     KindDelimited,
		"notes.txt":    KindOther,
		"noext":        KindOther,
	}
	for name, want := range cases {
		assert.Equal(t, want, Classify(name), name)
	}
}
