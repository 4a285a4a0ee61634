package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/qrpay/qrpay/internal/transfer"
)

// RegisterTransactionRoutes wires transfer endpoints. rateLimiter guards
// submissions only.
func RegisterTransactionRoutes(r fiber.Router, h *transfer.Handler, rateLimiter fiber.Handler) {
	if rateLimiter != nil {
		r.Post("/transactions", rateLimiter, h.Submit)
	} else {
		r.Post("/transactions", h.Submit)
	}
	r.Post("/transactions/verify", h.Verify)
	r.Get("/transactions", h.List)
	r.Get("/transactions/:id", h.Get)
}
