package mailbox

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/emersion/go-imap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const multipartMessage = "From: \"Billing Team\" <billing@shop.com>\r\n" +
	"To: reports@allowed.com\r\n" +
	"Subject: March invoice\r\n" +
	"Date: Fri, 01 Mar 2024 10:00:00 +0000\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: multipart/mixed; boundary=\"XYZ\"\r\n" +
	"\r\n" +
	"--XYZ\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"See attached.\r\n" +
	"--XYZ\r\n" +
	"Content-Type: text/csv; name=\"sales.csv\"\r\n" +
	"Content-Disposition: attachment; filename=\"sales.csv\"\r\n" +
	"Content-Transfer-Encoding: base64\r\n" +
	"\r\n" +
	"SXRlbSxRdHkKUGVuLDMK\r\n" +
	"--XYZ\r\n" +
	"Content-Type: image/png; name=\"logo.png\"\r\n" +
	"\r\n" +
	"PNGDATA\r\n" +
	"--XYZ--\r\n"

func TestParseMessageExtractsAttachments(t *testing.T) {
	msg, err := ParseMessage(42, []byte(multipartMessage))
	require.NoError(t, err)

	assert.Equal(t, uint32(42), msg.UID)
	assert.Equal(t, "March invoice", msg.Subject)
	assert.Equal(t, "Billing Team <billing@shop.com>", msg.From)
	assert.Equal(t, time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC), msg.Date.UTC())
	assert.Contains(t, msg.Text, "See attached.")

	require.Len(t, msg.Attachments, 2)
	assert.Equal(t, "sales.csv", msg.Attachments[0].Filename)
	assert.Equal(t, "text/csv", msg.Attachments[0].ContentType)
	assert.Equal(t, "Item,Qty\nPen,3\n", string(msg.Attachments[0].Content))
	assert.Equal(t, int64(len("Item,Qty\nPen,3\n")), msg.Attachments[0].Size())

	assert.Equal(t, "logo.png", msg.Attachments[1].Filename)
	assert.Equal(t, "image/png", msg.Attachments[1].ContentType)
}

func TestParseMessageDefaults(t *testing.T) {
	raw := "Content-Type: text/plain\r\n\r\nhello\r\n"
	before := time.Now()

	msg, err := ParseMessage(7, []byte(raw))
	require.NoError(t, err)
	assert.Equal(t, DefaultSubject, msg.Subject)
	assert.Equal(t, UnknownSender, msg.From)
	assert.False(t, msg.Date.Before(before))
	assert.Empty(t, msg.Attachments)
}

func TestParseMessageEmpty(t *testing.T) {
	_, err := ParseMessage(9, nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCountAttachments(t *testing.T) {
	tree := &imap.BodyStructure{
		MIMEType:    "multipart",
		MIMESubType: "mixed",
		Parts: []*imap.BodyStructure{
			{MIMEType: "text", MIMESubType: "plain"},
			{MIMEType: "application", MIMESubType: "pdf", Disposition: "ATTACHMENT"},
			{
				MIMEType:    "multipart",
				MIMESubType: "related",
				Parts: []*imap.BodyStructure{
					{MIMEType: "image", MIMESubType: "png", Disposition: "inline"},
					{MIMEType: "text", MIMESubType: "csv", Disposition: "attachment"},
				},
			},
		},
	}

	assert.Equal(t, 2, countAttachments(tree))
	assert.Equal(t, 0, countAttachments(nil))
	assert.Equal(t, 1, countAttachments(&imap.BodyStructure{Disposition: "attachment"}))
}

func TestSearchArgs(t *testing.T) {
	args := searchArgs(SearchCriteria{SenderEmail: " billing@shop.com ", Query: "invoice"})
	assert.Equal(t, []interface{}{
		imap.RawString("FROM"), "billing@shop.com",
		imap.RawString("X-GM-RAW"), "has:attachment invoice",
	}, args)

	args = searchArgs(SearchCriteria{Query: DefaultQuery})
	assert.Equal(t, []interface{}{imap.RawString("X-GM-RAW"), "has:attachment"}, args)

	cmd := (&gmailSearch{args: args}).Command()
	assert.Equal(t, "SEARCH", cmd.Name)
}

func TestSummarizeDefaults(t *testing.T) {
	msg := &imap.Message{
		SeqNum: 3,
		Uid:    300,
		Envelope: &imap.Envelope{
			From: []*imap.Address{{PersonalName: "Ops", MailboxName: "ops", HostName: "shop.com"}},
		},
		BodyStructure: &imap.BodyStructure{
			Parts: []*imap.BodyStructure{{Disposition: "attachment"}},
		},
	}

	summary := summarize(msg)
	assert.Equal(t, uint32(3), summary.ID)
	assert.Equal(t, uint32(300), summary.UID)
	assert.Equal(t, DefaultSubject, summary.Subject)
	assert.Equal(t, "Ops <ops@shop.com>", summary.From)
	assert.False(t, summary.Date.IsZero())
	assert.True(t, summary.HasAttachments)
	assert.Equal(t, 1, summary.AttachmentCount)
}

func TestConnectFailureSharedAcrossCallers(t *testing.T) {
	s := NewSession(Config{Host: "127.0.0.1", Port: 1, User: "u", Password: "p"})
	assert.Equal(t, StateDisconnected, s.State())

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.Connect(context.Background())
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.Error(t, err)
		assert.True(t, strings.Contains(err.Error(), "failed to connect"))
	}
	assert.Equal(t, StateFailed, s.State())
	assert.Error(t, s.LastError())

	assert.NoError(t, s.Disconnect())
	assert.NoError(t, s.Disconnect())
	assert.Equal(t, StateDisconnected, s.State())
}

func TestFetchFullWithoutServer(t *testing.T) {
	s := NewSession(Config{Host: "127.0.0.1", Port: 1})
	_, err := s.FetchFull(context.Background(), 5)
	assert.Error(t, err)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "ready", StateReady.String())
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "state(9)", State(9).String())
}
