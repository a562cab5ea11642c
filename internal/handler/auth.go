package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"email-extractor-go/internal/service"
)

const userContextKey = "user"

// AuthRequired rejects requests without a valid bearer token and stores the
// verified claims in the context.
func (h *Handlers) AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := service.ExtractTokenFromHeader(c.GetHeader("Authorization"))
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Message: "No authentication token provided"})
			return
		}

		claims, err := h.auth.VerifyToken(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Message: service.Message(err, "Authentication failed")})
			return
		}

		c.Set(userContextKey, claims)
		c.Next()
	}
}

// RequestOTP handles POST /api/auth/request-otp
func (h *Handlers) RequestOTP(c *gin.Context) {
	var req RequestOTPRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Email) == "" {
		badRequest(c, "Email is required")
		return
	}
	email := strings.TrimSpace(req.Email)

	if err := h.auth.ValidateEmail(email); err != nil {
		respondError(c, err, "Invalid email")
		return
	}

	if err := h.otp.RequestOTP(c.Request.Context(), email); err != nil {
		logrus.WithError(err).WithField("email", email).Error("Error requesting OTP")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Message: "Failed to send OTP. Please try again."})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "OTP sent to your email. Please check your inbox.",
	})
}

// VerifyOTP handles POST /api/auth/verify-otp
func (h *Handlers) VerifyOTP(c *gin.Context) {
	var req VerifyOTPRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Email) == "" || strings.TrimSpace(req.OTP) == "" {
		badRequest(c, "Email and OTP are required")
		return
	}
	email := strings.TrimSpace(req.Email)
	ctx := c.Request.Context()

	if err := h.otp.VerifyOTP(ctx, email, req.OTP); err != nil {
		if !errors.Is(err, service.ErrAuth) {
			respondError(c, err, "Failed to verify OTP. Please try again.")
			return
		}
		badRequest(c, service.Message(err, "Invalid OTP"))
		return
	}

	token, err := h.auth.GenerateToken(ctx, email, c.ClientIP(), c.Request.UserAgent())
	if err != nil {
		respondError(c, err, "Failed to verify OTP. Please try again.")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Login successful",
		"token":   token,
		"user":    UserResponse{Email: email},
	})
}

// ValidateToken handles GET /api/auth/validate
func (h *Handlers) ValidateToken(c *gin.Context) {
	token := service.ExtractTokenFromHeader(c.GetHeader("Authorization"))
	if token == "" {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Message: "No token provided"})
		return
	}

	claims, err := h.auth.VerifyToken(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Message: service.Message(err, "Invalid or expired token")})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"user":    UserResponse{Email: claims.Email},
	})
}
