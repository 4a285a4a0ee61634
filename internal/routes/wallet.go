package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/qrpay/qrpay/internal/wallet"
)

// RegisterWalletRoutes wires wallet-related endpoints.
func RegisterWalletRoutes(r fiber.Router, h *wallet.Handler) {
	r.Post("/wallets", h.Create)
	r.Get("/wallets/:address", h.Get)
	r.Get("/wallets/:address/balance", h.Balance)
	r.Get("/wallets/:address/transactions", h.Transactions)
	r.Post("/wallets/:address/key-exchange", h.KeyExchange)
}
