package mailbox

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-imap/commands"
	"github.com/emersion/go-imap/responses"

	"email-extractor-go/internal/model"
)

const (
	DefaultMaxResults = 50
	DefaultQuery      = "has:attachment"

	DefaultSubject = "No Subject"
	UnknownSender  = "Unknown"
)

// SearchCriteria filters the inbox. Query uses Gmail search syntax.
type SearchCriteria struct {
	SenderEmail string
	Query       string
	MaxResults  int
}

// gmailSearch is a SEARCH command carrying the X-GM-RAW extension
type gmailSearch struct {
	args []interface{}
}

func (cmd *gmailSearch) Command() *imap.Command {
	return &imap.Command{Name: "SEARCH", Arguments: cmd.args}
}

func searchArgs(criteria SearchCriteria) []interface{} {
	var args []interface{}
	if sender := strings.TrimSpace(criteria.SenderEmail); sender != "" {
		args = append(args, imap.RawString("FROM"), sender)
	}

	raw := DefaultQuery
	if q := strings.TrimSpace(criteria.Query); q != "" && q != DefaultQuery {
		raw = DefaultQuery + " " + q
	}
	return append(args, imap.RawString("X-GM-RAW"), raw)
}

// Search returns summaries of inbox messages that have attachments
func (s *Session) Search(ctx context.Context, criteria SearchCriteria) ([]model.EmailSummary, error) {
	limit := criteria.MaxResults
	if limit <= 0 {
		limit = DefaultMaxResults
	}

	summaries := []model.EmailSummary{}
	err := s.withInbox(ctx, func(c *client.Client) error {
		uids, err := uidSearch(c, searchArgs(criteria))
		if err != nil {
			return err
		}
		if len(uids) == 0 {
			return nil
		}
		if len(uids) > limit {
			uids = uids[:limit]
		}

		byUID, err := fetchSummaries(c, uids)
		if err != nil {
			return err
		}
		for _, uid := range uids {
			if summary, ok := byUID[uid]; ok {
				summaries = append(summaries, summary)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search emails: %w", err)
	}
	return summaries, nil
}

func uidSearch(c *client.Client, args []interface{}) ([]uint32, error) {
	cmd := &commands.Uid{Cmd: &gmailSearch{args: args}}
	res := new(responses.Search)

	status, err := c.Execute(cmd, res)
	if err != nil {
		return nil, err
	}
	if err := status.Err(); err != nil {
		return nil, err
	}
	return res.Ids, nil
}

func fetchSummaries(c *client.Client, uids []uint32) (map[uint32]model.EmailSummary, error) {
	items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchBodyStructure, imap.FetchUid, imap.FetchInternalDate}
	messages := make(chan *imap.Message, len(uids))
	done := make(chan error, 1)

	go func() {
		done <- c.UidFetch(uidSet(uids...), items, messages)
	}()

	byUID := make(map[uint32]model.EmailSummary, len(uids))
	for msg := range messages {
		byUID[msg.Uid] = summarize(msg)
	}

	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}
	return byUID, nil
}

func summarize(msg *imap.Message) model.EmailSummary {
	summary := model.EmailSummary{
		ID:      msg.SeqNum,
		UID:     msg.Uid,
		Subject: DefaultSubject,
		From:    UnknownSender,
		Date:    msg.InternalDate,
	}

	if env := msg.Envelope; env != nil {
		if env.Subject != "" {
			summary.Subject = env.Subject
		}
		if from := envelopeSender(env.From); from != "" {
			summary.From = from
		}
		if !env.Date.IsZero() {
			summary.Date = env.Date
		}
	}
	if summary.Date.IsZero() {
		summary.Date = time.Now()
	}

	summary.AttachmentCount = countAttachments(msg.BodyStructure)
	summary.HasAttachments = summary.AttachmentCount > 0
	return summary
}

func envelopeSender(addrs []*imap.Address) string {
	parts := make([]string, 0, len(addrs))
	for _, addr := range addrs {
		if addr == nil {
			continue
		}
		parts = append(parts, formatAddress(addr.PersonalName, addr.Address()))
	}
	return strings.Join(parts, ", ")
}

// countAttachments walks the MIME tree counting attachment dispositions
func countAttachments(bs *imap.BodyStructure) int {
	if bs == nil {
		return 0
	}

	count := 0
	if strings.EqualFold(bs.Disposition, "attachment") {
		count++
	}
	for _, part := range bs.Parts {
		count += countAttachments(part)
	}
	return count
}

func formatAddress(name, address string) string {
	switch {
	case name == "":
		return address
	case address == "":
		return name
	default:
		return fmt.Sprintf("%s <%s>", name, address)
	}
}
