package auth

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
)

// Handler exposes challenge and address validation endpoints.
type Handler struct {
	svc *Service
}

// NewHandler constructs an auth handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

type challengeRequest struct {
	Address string `json:"address"`
}

type verifyRequest struct {
	Address   string `json:"address"`
	Token     string `json:"token"`
	Signature []byte `json:"signature"`
}

type addressRequest struct {
	Address string `json:"address"`
}

// Challenge issues a new challenge. The body is optional.
func (h *Handler) Challenge(c *fiber.Ctx) error {
	var req challengeRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
	}
	ch, err := h.svc.IssueChallenge(req.Address)
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"challenge":  ch.Value,
		"token":      ch.Token,
		"address":    ch.Address,
		"algorithm":  ch.Algorithm,
		"expires_at": ch.ExpiresAt,
	})
}

// Verify checks a signed challenge response.
func (h *Handler) Verify(c *fiber.Ctx) error {
	var req verifyRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	v, err := h.svc.VerifyChallenge(c.UserContext(), req.Address, req.Token, req.Signature)
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"address":     v.Address,
		"verified":    true,
		"verified_at": v.VerifiedAt,
	})
}

// ValidateAddress reports whether the submitted address is well formed. The
// address may come from the JSON body or the "address" query parameter.
func (h *Handler) ValidateAddress(c *fiber.Ctx) error {
	var req addressRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
	}
	if req.Address == "" {
		req.Address = c.Query("address")
	}
	check := ValidateAddress(req.Address)
	resp := fiber.Map{"address": check.Address, "valid": check.Valid}
	if !check.Valid {
		resp["reason"] = check.Reason
	}
	return c.Status(http.StatusOK).JSON(resp)
}
