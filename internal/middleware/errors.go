package middleware

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/qrpay/qrpay/internal/apperr"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Kind      string `json:"kind"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// ErrorHandler renders every error as {"error": {"kind", "message"}}. Domain
// errors map to a status by kind; unexpected errors are logged and their
// message is hidden from clients.
func ErrorHandler(logger *slog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		status, detail := describe(err)
		detail.RequestID = GetRequestID(c)
		if status >= http.StatusInternalServerError {
			logger.Error("request failed",
				slog.String("method", c.Method()),
				slog.String("path", c.Path()),
				slog.String("request_id", detail.RequestID),
				slog.Any("error", err),
			)
		}
		return c.Status(status).JSON(errorBody{Error: detail})
	}
}

// StatusOf returns the HTTP status an error is rendered with.
func StatusOf(err error) int {
	status, _ := describe(err)
	return status
}

func describe(err error) (int, errorDetail) {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return fe.Code, errorDetail{Kind: fiberKind(fe.Code), Message: fe.Message}
	}
	kind := apperr.KindOf(err)
	status := apperr.HTTPStatus(kind)
	msg := err.Error()
	if kind == apperr.KindUnavailable {
		msg = "internal error"
	}
	return status, errorDetail{Kind: string(kind), Message: msg}
}

func fiberKind(code int) string {
	switch code {
	case http.StatusNotFound:
		return string(apperr.KindNotFound)
	case http.StatusConflict:
		return "conflict"
	case http.StatusTooManyRequests:
		return "rate_limited"
	case http.StatusMethodNotAllowed:
		return "method_not_allowed"
	case http.StatusRequestEntityTooLarge:
		return "payload_too_large"
	case http.StatusServiceUnavailable:
		return string(apperr.KindUnavailable)
	}
	if code >= http.StatusInternalServerError {
		return string(apperr.KindUnavailable)
	}
	return string(apperr.KindInvalidArgument)
}
