package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"

	"email-extractor-go/internal/config"
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// LoginRecorder appends login events
type LoginRecorder interface {
	SaveLoginHistory(ctx context.Context, email, ipAddress, userAgent string) error
}

// Claims is the verified token payload
type Claims struct {
	Email     string
	LoginTime time.Time
	ExpiresAt time.Time
}

// AuthService validates login addresses and issues HS256 bearer tokens
type AuthService struct {
	secret         []byte
	allowedDomains []string
	ttl            time.Duration
	recorder       LoginRecorder
	now            func() time.Time
}

func NewAuthService(cfg config.AuthConfig, recorder LoginRecorder) *AuthService {
	return &AuthService{
		secret:         []byte(cfg.JWTSecret),
		allowedDomains: cfg.AllowedDomains,
		ttl:            cfg.TokenTTL,
		recorder:       recorder,
		now:            time.Now,
	}
}

// ValidateEmail checks the address format and the domain allowlist
func (s *AuthService) ValidateEmail(email string) error {
	if !emailPattern.MatchString(email) {
		return newError(ErrValidation, "Invalid email format", nil)
	}

	if len(s.allowedDomains) == 0 {
		return nil
	}

	domain := strings.ToLower(email[strings.LastIndex(email, "@")+1:])
	for _, allowed := range s.allowedDomains {
		if domain == allowed {
			return nil
		}
	}
	return newError(ErrValidation, fmt.Sprintf("Only emails from %s are allowed", strings.Join(s.allowedDomains, ", ")), nil)
}

// GenerateToken records the login and signs a token for email. A failed
// login record is logged and does not block the token.
func (s *AuthService) GenerateToken(ctx context.Context, email, ipAddress, userAgent string) (string, error) {
	if s.recorder != nil {
		if err := s.recorder.SaveLoginHistory(ctx, email, ipAddress, userAgent); err != nil {
			logrus.WithError(err).WithField("email", email).Error("Failed to save login history")
		}
	}

	now := s.now()
	claims := jwt.MapClaims{
		"email":     email,
		"loginTime": now.UnixMilli(),
		"iat":       now.Unix(),
		"exp":       now.Add(s.ttl).Unix(),
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return token, nil
}

// VerifyToken checks the signature and expiry of a token
func (s *AuthService) VerifyToken(tokenStr string) (*Claims, error) {
	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, newError(ErrAuth, "Invalid or expired token", err)
	}

	mc, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, newError(ErrAuth, "Invalid or expired token", jwt.ErrTokenInvalidClaims)
	}

	email, _ := mc["email"].(string)
	if email == "" {
		return nil, newError(ErrAuth, "Invalid or expired token", errors.New("token has no email claim"))
	}

	claims := &Claims{Email: email}
	if ms, ok := mc["loginTime"].(float64); ok {
		claims.LoginTime = time.UnixMilli(int64(ms))
	}
	if exp, err := mc.GetExpirationTime(); err == nil && exp != nil {
		claims.ExpiresAt = exp.Time
	}
	return claims, nil
}

// ExtractTokenFromHeader returns the bearer token or "" when absent
func ExtractTokenFromHeader(header string) string {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}
