package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"email-extractor-go/internal/config"
)

type fakeRecorder struct {
	emails []string
	ips    []string
	err    error
}

func (r *fakeRecorder) SaveLoginHistory(ctx context.Context, email, ip, ua string) error {
	if r.err != nil {
		return r.err
	}
	r.emails = append(r.emails, email)
	r.ips = append(r.ips, ip)
	return nil
}

func newTestAuthService(recorder LoginRecorder, domains ...string) *AuthService {
	return NewAuthService(config.AuthConfig{
		JWTSecret:      "test-secret",
		AllowedDomains: domains,
		TokenTTL:       24 * time.Hour,
	}, recorder)
}

func TestValidateEmail(t *testing.T) {
	svc := newTestAuthService(nil, "allowed.com")

	assert.NoError(t, svc.ValidateEmail("user@allowed.com"))
	assert.NoError(t, svc.ValidateEmail("user@Allowed.COM"))

	err := svc.ValidateEmail("user@other.com")
	assert.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, "Only emails from allowed.com are allowed", Message(err, ""))

	err = svc.ValidateEmail("not an email")
	assert.Equal(t, "Invalid email format", Message(err, ""))

	multi := newTestAuthService(nil, "allowed.com", "partner.io")
	assert.Equal(t, "Only emails from allowed.com, partner.io are allowed", Message(multi.ValidateEmail("a@b.com"), ""))

	open := newTestAuthService(nil)
	assert.NoError(t, open.ValidateEmail("anyone@anywhere.org"))
}

func TestTokenRoundTrip(t *testing.T) {
	recorder := &fakeRecorder{}
	svc := newTestAuthService(recorder, "allowed.com")
	login := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return login }

	token, err := svc.GenerateToken(context.Background(), "user@allowed.com", "10.0.0.1", "curl")
	require.NoError(t, err)
	assert.Equal(t, []string{"user@allowed.com"}, recorder.emails)
	assert.Equal(t, []string{"10.0.0.1"}, recorder.ips)

	claims, err := svc.VerifyToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user@allowed.com", claims.Email)
	assert.True(t, claims.LoginTime.Equal(login))
	assert.True(t, claims.ExpiresAt.Equal(login.Add(24*time.Hour)))

	svc.now = func() time.Time { return login.Add(25 * time.Hour) }
	_, err = svc.VerifyToken(token)
	assert.ErrorIs(t, err, ErrAuth)
	assert.Equal(t, "Invalid or expired token", Message(err, ""))
}

func TestGenerateTokenIgnoresRecorderFailure(t *testing.T) {
	svc := newTestAuthService(&fakeRecorder{err: errors.New("db down")})
	token, err := svc.GenerateToken(context.Background(), "user@allowed.com", "", "")
	require.NoError(t, err)
	assert.NotEmpty(t, token)
}

func TestVerifyTokenRejectsForeignTokens(t *testing.T) {
	svc := newTestAuthService(nil)

	other := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"email": "user@allowed.com",
		"exp":   time.Now().Add(time.Hour).Unix(),
	})
	signed, err := other.SignedString([]byte("another-secret"))
	require.NoError(t, err)
	_, err = svc.VerifyToken(signed)
	assert.ErrorIs(t, err, ErrAuth)

	noExp := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"email": "user@allowed.com"})
	signed, err = noExp.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	_, err = svc.VerifyToken(signed)
	assert.ErrorIs(t, err, ErrAuth)

	_, err = svc.VerifyToken("garbage")
	assert.ErrorIs(t, err, ErrAuth)
}

func TestExtractTokenFromHeader(t *testing.T) {
	assert.Equal(t, "abc.def", ExtractTokenFromHeader("Bearer abc.def"))
	assert.Equal(t, "", ExtractTokenFromHeader("Basic xyz"))
	assert.Equal(t, "", ExtractTokenFromHeader(""))
}
