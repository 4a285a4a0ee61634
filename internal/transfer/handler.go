package transfer

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/qrpay/qrpay/internal/apperr"
	"github.com/qrpay/qrpay/internal/ledger"
	"github.com/qrpay/qrpay/internal/wallet"
)

// Handler exposes transaction endpoints.
type Handler struct {
	engine *Engine
}

// NewHandler constructs a transaction handler.
func NewHandler(engine *Engine) *Handler {
	return &Handler{engine: engine}
}

type submitRequest struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Amount      int64  `json:"amount"`
	Description string `json:"description"`
	Nonce       int64  `json:"nonce"`
	Signature   []byte `json:"signature"`
}

type verifyRequest struct {
	Address   string `json:"address"`
	PublicKey []byte `json:"public_key"`
	Message   string `json:"message"`
	Signature []byte `json:"signature"`
}

// Submit authenticates and applies a signed transfer.
func (h *Handler) Submit(c *fiber.Ctx) error {
	var req submitRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	receipt, err := h.engine.Submit(c.UserContext(), Request{
		From:        req.From,
		To:          req.To,
		Amount:      req.Amount,
		Description: req.Description,
		Nonce:       req.Nonce,
		Signature:   req.Signature,
	})
	if err != nil {
		if apperr.Retryable(err) {
			c.Set(fiber.HeaderRetryAfter, "1")
		}
		return err
	}

	tx := receipt.Transaction
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"transaction_id": tx.ID,
		"hash":           tx.Hash,
		"status":         tx.Status,
		"timestamp":      tx.CreatedAt,
		"from_balance":   receipt.FromBalance,
	})
}

// Get returns one transaction.
func (h *Handler) Get(c *fiber.Ctx) error {
	tx, err := h.engine.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(wallet.ToTransactionResponse(tx, ""))
}

// List returns the most recent transactions.
func (h *Handler) List(c *fiber.Ctx) error {
	txs, err := h.engine.List(c.UserContext(), c.QueryInt("limit", ledger.DefaultListLimit))
	if err != nil {
		return err
	}
	out := make([]wallet.TransactionResponse, 0, len(txs))
	for _, tx := range txs {
		out = append(out, wallet.ToTransactionResponse(tx, ""))
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"transactions": out})
}

// Verify checks a signature over an arbitrary message.
func (h *Handler) Verify(c *fiber.Ctx) error {
	var req verifyRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	res, err := h.engine.VerifySignature(c.UserContext(), VerifyRequest{
		Address:   req.Address,
		PublicKey: req.PublicKey,
		Message:   []byte(req.Message),
		Signature: req.Signature,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"valid":       res.Valid,
		"algorithm":   res.Algorithm,
		"verified_at": res.VerifiedAt.Format(time.RFC3339Nano),
	})
}
