package service

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"html/template"
	"net"
	"strconv"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"email-extractor-go/internal/config"
)

const (
	otpSubject    = "Your Login OTP - Email Extractor"
	otpSenderName = "Email Extractor"
)

// Mailer delivers one-time codes
type Mailer interface {
	SendOTP(ctx context.Context, to, code string, expiry time.Duration) error
}

var otpTemplate = template.Must(template.New("otp").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333;">
  <div style="max-width: 600px; margin: 0 auto; padding: 20px;">
    <h1>Login Verification</h1>
    <p>You requested to log in to Email Extractor. Use the code below to complete your login:</p>
    <div style="border: 2px dashed #667eea; padding: 20px; text-align: center; margin: 20px 0;">
      <p style="margin: 0; color: #666; font-size: 14px;">Your OTP Code</p>
      <div style="font-size: 32px; font-weight: bold; color: #667eea; letter-spacing: 8px;">{{.Code}}</div>
    </div>
    <p><strong>This code will expire in {{.Minutes}} minutes.</strong></p>
    <p>If you didn't request this code, please ignore this email.</p>
    <p style="font-size: 12px; color: #666;">This is an automated email. Please do not reply.</p>
  </div>
</body>
</html>
`))

// composeOTPMessage builds an RFC 5322 HTML message carrying code
func composeOTPMessage(from, to, code string, expiry time.Duration, now time.Time) ([]byte, error) {
	var h mail.Header
	h.SetDate(now)
	h.SetAddressList("From", []*mail.Address{{Name: otpSenderName, Address: from}})
	h.SetAddressList("To", []*mail.Address{{Address: to}})
	h.SetSubject(otpSubject)
	h.SetContentType("text/html", map[string]string{"charset": "utf-8"})

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("failed to create message writer: %w", err)
	}

	data := struct {
		Code    string
		Minutes int
	}{Code: code, Minutes: int(expiry / time.Minute)}
	if err := otpTemplate.Execute(w, data); err != nil {
		return nil, fmt.Errorf("failed to render otp email: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish otp email: %w", err)
	}
	return buf.Bytes(), nil
}

// LogMailer writes codes to the log instead of sending them. Meant for local development.
type LogMailer struct{}

func (LogMailer) SendOTP(_ context.Context, to, code string, expiry time.Duration) error {
	logrus.WithFields(logrus.Fields{
		"email":  to,
		"otp":    code,
		"expiry": expiry.String(),
	}).Warn("OTP mailer is in log mode, code not delivered")
	return nil
}

// SMTPMailer sends codes through an SMTP relay with PLAIN auth
type SMTPMailer struct {
	addr string
	from string
	auth sasl.Client
	now  func() time.Time
}

func NewSMTPMailer(cfg config.SMTPConfig) *SMTPMailer {
	var auth sasl.Client
	if cfg.User != "" {
		auth = sasl.NewPlainClient("", cfg.User, cfg.Password)
	}

	from := cfg.From
	if from == "" {
		from = cfg.User
	}

	return &SMTPMailer{
		addr: net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		from: from,
		auth: auth,
		now:  time.Now,
	}
}

func (m *SMTPMailer) SendOTP(_ context.Context, to, code string, expiry time.Duration) error {
	msg, err := composeOTPMessage(m.from, to, code, expiry, m.now())
	if err != nil {
		return err
	}

	if err := smtp.SendMail(m.addr, m.auth, m.from, []string{to}, bytes.NewReader(msg)); err != nil {
		return fmt.Errorf("failed to send otp email via %s: %w", m.addr, err)
	}

	logrus.WithField("email", to).Info("OTP sent")
	return nil
}

// GmailAPIMailer sends codes with the Gmail API using an OAuth2 refresh token
type GmailAPIMailer struct {
	service   *gmail.Service
	userEmail string
	now       func() time.Time
}

func NewGmailAPIMailer(ctx context.Context, cfg config.GmailConfig) (*GmailAPIMailer, error) {
	oauth2Config := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Scopes:       []string{gmail.GmailSendScope},
		Endpoint:     google.Endpoint,
	}

	tokenSource := oauth2Config.TokenSource(ctx, &oauth2.Token{RefreshToken: cfg.RefreshToken})

	service, err := gmail.NewService(ctx, option.WithTokenSource(tokenSource))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gmail service: %w", err)
	}

	return &GmailAPIMailer{
		service:   service,
		userEmail: cfg.UserEmail,
		now:       time.Now,
	}, nil
}

func (m *GmailAPIMailer) SendOTP(ctx context.Context, to, code string, expiry time.Duration) error {
	msg, err := composeOTPMessage(m.userEmail, to, code, expiry, m.now())
	if err != nil {
		return err
	}

	raw := &gmail.Message{Raw: base64.URLEncoding.EncodeToString(msg)}
	if _, err := m.service.Users.Messages.Send(m.userEmail, raw).Context(ctx).Do(); err != nil {
		return fmt.Errorf("failed to send otp email via Gmail API: %w", err)
	}

	logrus.WithField("email", to).Info("OTP sent")
	return nil
}
