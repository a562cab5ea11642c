package mailbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
)

// Attachment is a decoded attachment of a fetched message
type Attachment struct {
	Filename    string
	ContentType string
	Content     []byte
}

// Size is the decoded byte size
func (a Attachment) Size() int64 {
	return int64(len(a.Content))
}

// Message is a fully fetched and parsed message
type Message struct {
	UID         uint32
	Subject     string
	From        string
	Date        time.Time
	Text        string
	HTML        string
	Attachments []Attachment
}

// FetchFull downloads and parses one message by UID without marking it seen
func (s *Session) FetchFull(ctx context.Context, uid uint32) (*Message, error) {
	var raw []byte
	err := s.withInbox(ctx, func(c *client.Client) error {
		var err error
		raw, err = fetchRaw(c, uid)
		return err
	})
	if err != nil {
		return nil, err
	}
	return ParseMessage(uid, raw)
}

func fetchRaw(c *client.Client, uid uint32) ([]byte, error) {
	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{section.FetchItem(), imap.FetchUid}

	messages := make(chan *imap.Message, 1)
	done := make(chan error, 1)
	go func() {
		done <- c.UidFetch(uidSet(uid), items, messages)
	}()

	var raw []byte
	var readErr error
	for msg := range messages {
		body := msg.GetBody(section)
		if body == nil || raw != nil {
			continue
		}
		raw, readErr = io.ReadAll(body)
	}

	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to fetch message %d: %w", uid, err)
	}
	if readErr != nil {
		return nil, fmt.Errorf("failed to read message %d: %w", uid, readErr)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("message %d: %w", uid, ErrNotFound)
	}
	return raw, nil
}

// ParseMessage decodes a raw RFC 5322 message. Parts with an attachment
// disposition and non-text inline parts are returned as attachments.
func ParseMessage(uid uint32, raw []byte) (*Message, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("message %d: %w", uid, ErrNotFound)
	}

	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, fmt.Errorf("failed to parse message %d: %w", uid, err)
	}
	defer mr.Close()

	msg := &Message{
		UID:     uid,
		Subject: DefaultSubject,
		From:    UnknownSender,
	}

	if subject, err := mr.Header.Subject(); err == nil && subject != "" {
		msg.Subject = subject
	}
	if from := headerSender(mr.Header); from != "" {
		msg.From = from
	}
	if date, err := mr.Header.Date(); err == nil && !date.IsZero() {
		msg.Date = date
	} else {
		msg.Date = time.Now()
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil && !message.IsUnknownCharset(err) {
			return nil, fmt.Errorf("failed to read part of message %d: %w", uid, err)
		}
		if part == nil {
			continue
		}

		body, err := io.ReadAll(part.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to read part body of message %d: %w", uid, err)
		}

		switch h := part.Header.(type) {
		case *mail.AttachmentHeader:
			ct, _, _ := h.ContentType()
			filename, _ := h.Filename()
			msg.Attachments = append(msg.Attachments, Attachment{
				Filename:    filename,
				ContentType: ct,
				Content:     body,
			})
		case *mail.InlineHeader:
			ct, params, _ := h.ContentType()
			switch {
			case ct == "text/plain" || ct == "":
				msg.Text += string(body)
			case ct == "text/html":
				msg.HTML += string(body)
			case strings.HasPrefix(ct, "multipart/"):
			default:
				msg.Attachments = append(msg.Attachments, Attachment{
					Filename:    inlineFilename(h, params),
					ContentType: ct,
					Content:     body,
				})
			}
		}
	}

	return msg, nil
}

func headerSender(h mail.Header) string {
	addrs, err := h.AddressList("From")
	if err != nil || len(addrs) == 0 {
		return strings.TrimSpace(h.Get("From"))
	}

	parts := make([]string, 0, len(addrs))
	for _, addr := range addrs {
		parts = append(parts, formatAddress(addr.Name, addr.Address))
	}
	return strings.Join(parts, ", ")
}

func inlineFilename(h *mail.InlineHeader, ctParams map[string]string) string {
	if _, params, err := h.ContentDisposition(); err == nil {
		if name := params["filename"]; name != "" {
			return decodeWord(name)
		}
	}
	return decodeWord(ctParams["name"])
}

func decodeWord(s string) string {
	dec := new(mime.WordDecoder)
	if out, err := dec.DecodeHeader(s); err == nil {
		return out
	}
	return s
}
