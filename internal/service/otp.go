package service

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"email-extractor-go/internal/metrics"
)

const (
	otpMin   = 100000
	otpRange = 900000
)

// GenerateOTP returns a random six digit code
func GenerateOTP() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(otpRange))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d", n.Int64()+otpMin), nil
}

// OTPService issues and verifies single-use login codes
type OTPService struct {
	store    OTPStore
	mailer   Mailer
	expiry   time.Duration
	metrics  *metrics.Metrics
	now      func() time.Time
	generate func() (string, error)
}

func NewOTPService(store OTPStore, mailer Mailer, expiry time.Duration, m *metrics.Metrics) *OTPService {
	return &OTPService{
		store:    store,
		mailer:   mailer,
		expiry:   expiry,
		metrics:  m,
		now:      time.Now,
		generate: GenerateOTP,
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// RequestOTP stores a fresh challenge for email, replacing any earlier one,
// and delivers the code.
func (s *OTPService) RequestOTP(ctx context.Context, email string) error {
	code, err := s.generate()
	if err != nil {
		s.metrics.OTPRequests.WithLabelValues("error").Inc()
		return newError(ErrUpstream, "Failed to send OTP. Please try again.", err)
	}

	challenge := Challenge{Code: code, ExpiresAt: s.now().Add(s.expiry)}
	if err := s.store.Put(ctx, normalizeEmail(email), challenge, s.expiry); err != nil {
		s.metrics.OTPRequests.WithLabelValues("error").Inc()
		return newError(ErrPersistence, "Failed to send OTP. Please try again.", err)
	}

	if err := s.mailer.SendOTP(ctx, email, code, s.expiry); err != nil {
		s.metrics.OTPRequests.WithLabelValues("error").Inc()
		return newError(ErrUpstream, "Failed to send OTP. Please try again.", err)
	}

	s.metrics.OTPRequests.WithLabelValues("sent").Inc()
	return nil
}

// VerifyOTP consumes the challenge for email when code matches. An expired
// challenge is deleted as a side effect.
func (s *OTPService) VerifyOTP(ctx context.Context, email, code string) error {
	key := normalizeEmail(email)

	challenge, ok, err := s.store.Get(ctx, key)
	if err != nil {
		return newError(ErrPersistence, "Failed to verify OTP. Please try again.", err)
	}
	if !ok {
		s.metrics.OTPVerifications.WithLabelValues("not_found").Inc()
		return newError(ErrAuth, "OTP not found or expired", nil)
	}

	if challenge.Expired(s.now()) {
		if err := s.store.Delete(ctx, key); err != nil {
			logrus.WithError(err).WithField("email", key).Warn("Failed to delete expired OTP")
		}
		s.metrics.OTPVerifications.WithLabelValues("expired").Inc()
		return newError(ErrAuth, "OTP has expired", nil)
	}

	if subtle.ConstantTimeCompare([]byte(challenge.Code), []byte(strings.TrimSpace(code))) != 1 {
		s.metrics.OTPVerifications.WithLabelValues("invalid").Inc()
		return newError(ErrAuth, "Invalid OTP", nil)
	}

	if err := s.store.Delete(ctx, key); err != nil {
		return newError(ErrPersistence, "Failed to verify OTP. Please try again.", err)
	}
	s.metrics.OTPVerifications.WithLabelValues("ok").Inc()
	return nil
}

// Sweep removes expired challenges from the store
func (s *OTPService) Sweep(ctx context.Context) (int, error) {
	removed, err := s.store.SweepExpired(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep expired otps: %w", err)
	}
	if removed > 0 {
		s.metrics.OTPSwept.Add(float64(removed))
		logrus.WithField("removed", removed).Info("Cleaned up expired OTPs")
	}
	return removed, nil
}
