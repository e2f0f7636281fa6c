package handlers

import (
	"crypto/subtle"
	"log/slog"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
)

// APIKeyHeader carries the ingestion key.
const APIKeyHeader = "X-API-Key"

// ══════════════════════════════════════════════════════════════════════════════
// AUTHENTICATION MIDDLEWARE
// ══════════════════════════════════════════════════════════════════════════════

// APIKeyAuth provides API key authentication.
type APIKeyAuth struct {
	headerName string
	validKeys  [][]byte
}

// NewAPIKeyAuth creates a new API key authenticator. Empty keys are ignored.
func NewAPIKeyAuth(headerName string, keys []string) *APIKeyAuth {
	a := &APIKeyAuth{headerName: headerName}
	for _, key := range keys {
		if key != "" {
			a.validKeys = append(a.validKeys, []byte(key))
		}
	}
	return a
}

// IsValid checks an API key in constant time per configured key.
func (a *APIKeyAuth) IsValid(key string) bool {
	for _, valid := range a.validKeys {
		if subtle.ConstantTimeCompare([]byte(key), valid) == 1 {
			return true
		}
	}
	return false
}

// Middleware rejects requests without a valid key in the configured header
// or an Authorization: Bearer header.
func (a *APIKeyAuth) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		key := c.Get(a.headerName)
		if key == "" {
			if auth := c.Get(fiber.HeaderAuthorization); strings.HasPrefix(auth, "Bearer ") {
				key = strings.TrimPrefix(auth, "Bearer ")
			}
		}

		if key == "" {
			return fiber.NewError(fiber.StatusUnauthorized, "API key is required")
		}
		if !a.IsValid(key) {
			return fiber.NewError(fiber.StatusUnauthorized, "invalid API key")
		}
		return c.Next()
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// ACCESS LOG MIDDLEWARE
// ══════════════════════════════════════════════════════════════════════════════

// RequestLogger writes one access log record per request. Errors are
// rendered through the app's error handler first so the logged status is
// the one the client sees.
func RequestLogger(log *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		if err := c.Next(); err != nil {
			if herr := c.App().Config().ErrorHandler(c, err); herr != nil {
				_ = c.SendStatus(fiber.StatusInternalServerError)
			}
		}

		status := c.Response().StatusCode()
		level := slog.LevelInfo
		switch {
		case status >= fiber.StatusInternalServerError:
			level = slog.LevelError
		case status >= fiber.StatusBadRequest:
			level = slog.LevelWarn
		}
		log.Log(c.UserContext(), level, "http request",
			"method", c.Method(),
			"path", c.Path(),
			"status", status,
			"latency", time.Since(start).String(),
			"ip", c.IP(),
			"request_id", c.GetRespHeader(fiber.HeaderXRequestID),
		)
		return nil
	}
}
