package middleware

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"

	"github.com/qrpay/qrpay/internal/apperr"
	"github.com/qrpay/qrpay/internal/logging"
)

var errBoom = apperr.New(apperr.KindInsufficientFunds, "insufficient funds")

func errorApp(logger *slog.Logger) *fiber.App {
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler(logger)})
	app.Use(RequestID())
	app.Use(Audit(logger))
	app.Get("/domain", func(c *fiber.Ctx) error {
		return fmt.Errorf("transfer: %w", errBoom)
	})
	app.Get("/internal", func(c *fiber.Ctx) error {
		return fmt.Errorf("dial tcp: connection refused")
	})
	app.Get("/fiber", func(c *fiber.Ctx) error {
		return fiber.NewError(fiber.StatusBadRequest, "bad json")
	})
	return app
}

func decodeError(t *testing.T, body io.Reader) errorDetail {
	t.Helper()
	var out errorBody
	if err := json.NewDecoder(body).Decode(&out); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return out.Error
}

func TestErrorHandlerMapsKinds(t *testing.T) {
	app := errorApp(logging.Discard())

	tests := []struct {
		path    string
		status  int
		kind    string
		message string
	}{
		{"/domain", fiber.StatusPaymentRequired, "insufficient_funds", "transfer: insufficient funds"},
		{"/internal", fiber.StatusInternalServerError, "unavailable", "internal error"},
		{"/fiber", fiber.StatusBadRequest, "invalid_argument", "bad json"},
		{"/missing", fiber.StatusNotFound, "not_found", "Cannot GET /missing"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, tt.path, nil))
			if err != nil {
				t.Fatalf("app.Test: %v", err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != tt.status {
				t.Fatalf("expected %d got %d", tt.status, resp.StatusCode)
			}
			detail := decodeError(t, resp.Body)
			if detail.Kind != tt.kind || detail.Message != tt.message {
				t.Fatalf("unexpected error body: %+v", detail)
			}
			if detail.RequestID == "" || detail.RequestID != resp.Header.Get(requestIDHeader) {
				t.Fatalf("expected request id in body and header")
			}
		})
	}
}

func TestRequestIDPropagatesClientValue(t *testing.T) {
	app := fiber.New()
	app.Use(RequestID())
	app.Get("/", func(c *fiber.Ctx) error {
		return c.SendString(RequestIDFromContext(c.UserContext()))
	})

	req := httptest.NewRequest(fiber.MethodGet, "/", nil)
	req.Header.Set(requestIDHeader, "client-123")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(body) != "client-123" || resp.Header.Get(requestIDHeader) != "client-123" {
		t.Fatalf("expected client request id to be kept, got %q", body)
	}

	req = httptest.NewRequest(fiber.MethodGet, "/", nil)
	req.Header.Set(requestIDHeader, strings.Repeat("x", 500))
	resp, err = app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	resp.Body.Close()
	if got := resp.Header.Get(requestIDHeader); len(got) != 36 {
		t.Fatalf("expected oversized id to be replaced with a uuid, got %q", got)
	}
}

func TestAuditLogsRenderedStatus(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	app := errorApp(logger)

	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/domain", nil))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	resp.Body.Close()

	var rec map[string]any
	if err := json.Unmarshal(bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))[0], &rec); err != nil {
		t.Fatalf("decode audit record: %v", err)
	}
	if rec["status"] != float64(fiber.StatusPaymentRequired) || rec["level"] != "WARN" {
		t.Fatalf("unexpected audit record: %v", rec)
	}
}
