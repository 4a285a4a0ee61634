package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/qrpay/qrpay/internal/auth"
)

// RegisterAuthRoutes wires challenge and address validation endpoints.
func RegisterAuthRoutes(r fiber.Router, h *auth.Handler) {
	group := r.Group("/auth")
	group.Post("/challenge", h.Challenge)
	group.Post("/challenge/verify", h.Verify)
	group.Post("/validate-address", h.ValidateAddress)
}
