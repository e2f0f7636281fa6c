package http

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/alem-hub/learning-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// RESPONSE ENVELOPE
// ══════════════════════════════════════════════════════════════════════════════

// Response is the envelope of every API response.
type Response struct {
	Success bool              `json:"success"`
	Message string            `json:"message,omitempty"`
	Data    interface{}       `json:"data,omitempty"`
	Errors  map[string]string `json:"errors,omitempty"`
}

func success(c *fiber.Ctx, status int, message string, data interface{}) error {
	return c.Status(status).JSON(Response{Success: true, Message: message, Data: data})
}

func failure(c *fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(Response{Success: false, Message: message})
}

// bind parses the JSON body into req and validates it. A non-nil error has
// already been written to the response.
func (s *Server) bind(c *fiber.Ctx, req interface{}) error {
	if err := c.BodyParser(req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid JSON body")
	}
	if err := s.validate.Struct(req); err != nil {
		var ve validator.ValidationErrors
		if !errors.As(err, &ve) {
			return fiber.NewError(fiber.StatusBadRequest, "invalid input")
		}
		fields := make(map[string]string, len(ve))
		for _, fe := range ve {
			fields[fe.Field()] = fe.Tag()
		}
		_ = c.Status(fiber.StatusBadRequest).JSON(Response{
			Success: false,
			Message: "validation failed",
			Errors:  fields,
		})
		return errResponded
	}
	return nil
}

// errResponded marks an error whose response is already written.
var errResponded = errors.New("response already written")

// queryLimit reads ?limit=, rejecting values that are not integers.
func queryLimit(c *fiber.Ctx) (int, error) {
	raw := c.Query("limit")
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fiber.NewError(fiber.StatusBadRequest, fmt.Sprintf("limit %q is not a number", raw))
	}
	return n, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// ERROR MAPPING
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleError(c *fiber.Ctx, err error) error {
	if errors.Is(err, errResponded) {
		return nil
	}
	status := statusFor(err)
	message := publicMessage(err, status)
	if status >= fiber.StatusInternalServerError {
		s.logger.ErrorContext(c.UserContext(), "request failed",
			"method", c.Method(),
			"path", c.Path(),
			"status", status,
			"error", err,
		)
	}
	return failure(c, status, message)
}

// statusFor maps domain error kinds onto HTTP status codes.
func statusFor(err error) int {
	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		return fe.Code
	case shared.IsValidation(err):
		return fiber.StatusBadRequest
	case shared.IsNotFound(err):
		return fiber.StatusNotFound
	case errors.Is(err, shared.ErrForbidden):
		return fiber.StatusForbidden
	case errors.Is(err, shared.ErrLimitReached),
		errors.Is(err, shared.ErrAlreadyApplied),
		errors.Is(err, shared.ErrAlreadyExists):
		return fiber.StatusConflict
	case shared.IsRetryable(err):
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}

func publicMessage(err error, status int) string {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return fe.Message
	}
	if status == fiber.StatusInternalServerError {
		return "internal error"
	}
	if status == fiber.StatusServiceUnavailable {
		return "temporarily unavailable, retry later"
	}
	var de *shared.DomainError
	if errors.As(err, &de) && de.Message != "" {
		return de.Message
	}
	return err.Error()
}
