package wallet

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/qrpay/qrpay/internal/ledger"
)

// Handler exposes wallet HTTP endpoints.
type Handler struct {
	service *Service
}

// NewHandler builds a wallet HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type createRequest struct {
	Name         string `json:"name"`
	PublicKey    []byte `json:"public_key"`
	KEMPublicKey []byte `json:"kem_public_key"`
}

type walletResponse struct {
	Address        string    `json:"address"`
	Name           string    `json:"name"`
	PublicKey      []byte    `json:"public_key"`
	Algorithm      string    `json:"algorithm"`
	HasKeyExchange bool      `json:"has_key_exchange"`
	Balance        int64     `json:"balance"`
	CreatedAt      time.Time `json:"created_at"`
}

// TransactionResponse is the JSON form of a ledger transaction.
type TransactionResponse struct {
	ID            string    `json:"id"`
	From          string    `json:"from"`
	To            string    `json:"to"`
	Amount        int64     `json:"amount"`
	Description   string    `json:"description"`
	Nonce         int64     `json:"nonce"`
	Signature     []byte    `json:"signature"`
	Status        string    `json:"status"`
	FailureReason string    `json:"failure_reason,omitempty"`
	Direction     string    `json:"direction,omitempty"`
	Hash          string    `json:"hash"`
	Timestamp     time.Time `json:"timestamp"`
}

// ToTransactionResponse renders a transaction, optionally from the point of
// view of one wallet.
func ToTransactionResponse(tx ledger.Transaction, viewer string) TransactionResponse {
	resp := TransactionResponse{
		ID:            tx.ID,
		From:          tx.From,
		To:            tx.To,
		Amount:        tx.Amount,
		Description:   tx.Description,
		Nonce:         tx.Nonce,
		Signature:     tx.Signature,
		Status:        string(tx.Status),
		FailureReason: tx.FailureReason,
		Hash:          tx.Hash,
		Timestamp:     tx.CreatedAt,
	}
	switch viewer {
	case "":
	case tx.From:
		resp.Direction = "send"
	default:
		resp.Direction = "receive"
	}
	return resp
}

func toWalletResponse(w ledger.Wallet) walletResponse {
	return walletResponse{
		Address:        w.Address,
		Name:           w.Name,
		PublicKey:      w.PublicKey,
		Algorithm:      w.Algorithm,
		HasKeyExchange: len(w.KEMPublicKey) > 0,
		Balance:        w.Balance,
		CreatedAt:      w.CreatedAt,
	}
}

// Create registers a wallet for the submitted public keys.
func (h *Handler) Create(c *fiber.Ctx) error {
	var req createRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	w, err := h.service.Create(c.UserContext(), CreateInput{
		Name:         req.Name,
		PublicKey:    req.PublicKey,
		KEMPublicKey: req.KEMPublicKey,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(toWalletResponse(w))
}

// Get returns the wallet stored at the address.
func (h *Handler) Get(c *fiber.Ctx) error {
	w, err := h.service.Get(c.UserContext(), c.Params("address"))
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(toWalletResponse(w))
}

// Balance returns the wallet balance.
func (h *Handler) Balance(c *fiber.Ctx) error {
	balance, err := h.service.Balance(c.UserContext(), c.Params("address"))
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"address":   balance.Address,
		"balance":   balance.Amount,
		"timestamp": balance.AsOf,
	})
}

// Transactions lists the wallet history newest first.
func (h *Handler) Transactions(c *fiber.Ctx) error {
	address := c.Params("address")
	txs, err := h.service.History(c.UserContext(), address, c.QueryInt("limit", ledger.DefaultListLimit))
	if err != nil {
		return err
	}
	out := make([]TransactionResponse, 0, len(txs))
	for _, tx := range txs {
		out = append(out, ToTransactionResponse(tx, address))
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"address": address, "transactions": out})
}

// KeyExchange encapsulates a shared secret to the wallet's ML-KEM key.
func (h *Handler) KeyExchange(c *fiber.Ctx) error {
	kx, err := h.service.KeyExchange(c.UserContext(), c.Params("address"))
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"address":      kx.Address,
		"algorithm":    kx.Algorithm,
		"ciphertext":   kx.Ciphertext,
		"confirmation": kx.Confirmation,
		"created_at":   kx.CreatedAt,
	})
}
