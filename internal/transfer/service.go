// Package transfer authenticates signed transfer requests and applies them to
// the ledger.
package transfer

import (
	"context"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/qrpay/qrpay/internal/apperr"
	"github.com/qrpay/qrpay/internal/ledger"
	"github.com/qrpay/qrpay/internal/metrics"
	"github.com/qrpay/qrpay/internal/notification"
	"github.com/qrpay/qrpay/internal/pqcrypto"
)

const maxDescriptionLength = 256

var (
	// ErrInvalidSignature is returned when the signature does not verify
	// against the sender's registered key.
	ErrInvalidSignature = apperr.New(apperr.KindInvalidSignature, "invalid signature")

	// ErrReplayDetected is returned when the sender already used the nonce.
	ErrReplayDetected = apperr.New(apperr.KindReplayDetected, "replay detected")

	// ErrStaleNonce rejects nonces outside the replay window.
	ErrStaleNonce = apperr.New(apperr.KindInvalidArgument, "nonce outside replay window")

	// ErrInvalidRequest rejects malformed transfer requests.
	ErrInvalidRequest = apperr.New(apperr.KindInvalidArgument, "invalid transfer request")
)

// KeySource resolves the signing key registered for a wallet.
type KeySource interface {
	SigningKey(ctx context.Context, address string) ([]byte, error)
}

// Request is a signed transfer submitted by a client. Nonce is the client's
// Unix time in milliseconds.
type Request struct {
	From        string
	To          string
	Amount      int64
	Description string
	Nonce       int64
	Signature   []byte
}

// Receipt describes a completed transfer.
type Receipt struct {
	Transaction ledger.Transaction
	FromBalance int64
}

// VerifyRequest asks whether signature is valid for message. The key is
// given directly or looked up from Address.
type VerifyRequest struct {
	Address   string
	PublicKey []byte
	Message   []byte
	Signature []byte
}

// VerifyResult is the outcome of a standalone verification.
type VerifyResult struct {
	Valid      bool
	Algorithm  string
	VerifiedAt time.Time
}

// Config tunes the engine.
type Config struct {
	// ReplayWindow is the accepted distance between a nonce and the server
	// clock.
	ReplayWindow time.Duration
	// CommitTimeout bounds a ledger commit once it has started.
	CommitTimeout time.Duration
	// Now overrides the clock, for tests.
	Now func() time.Time
}

func (c Config) withDefaults() Config {
	if c.ReplayWindow <= 0 {
		c.ReplayWindow = 5 * time.Minute
	}
	if c.CommitTimeout <= 0 {
		c.CommitTimeout = 5 * time.Second
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Engine runs the transfer pipeline: shape checks, signature verification,
// replay protection and the atomic ledger posting.
type Engine struct {
	ledger   ledger.Store
	keys     KeySource
	verifier pqcrypto.Verifier
	replay   ReplayGuard
	notifier notification.Notifier
	logger   *slog.Logger
	cfg      Config
}

// NewEngine constructs a transfer engine. notifier may be nil.
func NewEngine(store ledger.Store, keys KeySource, verifier pqcrypto.Verifier, replay ReplayGuard, notifier notification.Notifier, logger *slog.Logger, cfg Config) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		ledger:   store,
		keys:     keys,
		verifier: verifier,
		replay:   replay,
		notifier: notifier,
		logger:   logger,
		cfg:      cfg.withDefaults(),
	}
}

// Submit authenticates and applies one transfer.
func (e *Engine) Submit(ctx context.Context, req Request) (Receipt, error) {
	receipt, err := e.submit(ctx, req)
	if err != nil {
		metrics.ObserveTransfer(string(apperr.KindOf(err)), req.Amount)
		return Receipt{}, err
	}
	metrics.ObserveTransfer(string(ledger.StatusCompleted), req.Amount)
	return receipt, nil
}

func (e *Engine) submit(ctx context.Context, req Request) (Receipt, error) {
	if err := e.validate(req); err != nil {
		return Receipt{}, err
	}

	publicKey, err := e.keys.SigningKey(ctx, req.From)
	if err != nil {
		return Receipt{}, err
	}

	msg := CanonicalMessage(req.From, req.To, req.Amount, req.Nonce, req.Description)
	started := time.Now()
	valid, err := e.verifier.Verify(publicKey, msg, req.Signature)
	metrics.ObserveVerify(e.verifier.Algorithm(), time.Since(started))
	if err != nil {
		return Receipt{}, err
	}

	// Failure records and the commit must not be cut short by a client that
	// hangs up after the request was accepted.
	commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.CommitTimeout)
	defer cancel()

	if !valid {
		e.recordFailure(commitCtx, req, apperr.KindInvalidSignature)
		return Receipt{}, ErrInvalidSignature
	}

	reserved, err := e.replay.Reserve(ctx, req.From, req.Nonce)
	if err != nil {
		return Receipt{}, err
	}
	if !reserved {
		e.recordFailure(commitCtx, req, apperr.KindReplayDetected)
		return Receipt{}, fmt.Errorf("%w: nonce %d", ErrReplayDetected, req.Nonce)
	}

	started = time.Now()
	res, err := e.ledger.Transfer(commitCtx, ledger.TransferInput{
		From:        req.From,
		To:          req.To,
		Amount:      req.Amount,
		Description: req.Description,
		Nonce:       req.Nonce,
		Signature:   req.Signature,
	})
	metrics.ObserveCommit(time.Since(started))
	if err != nil {
		return Receipt{}, e.handleLedgerError(commitCtx, req, err)
	}

	e.notify(commitCtx, res.Transaction)
	return Receipt{Transaction: res.Transaction, FromBalance: res.FromBalance}, nil
}

func (e *Engine) validate(req Request) error {
	if err := pqcrypto.ValidateAddress(req.From); err != nil {
		return fmt.Errorf("from: %w", err)
	}
	if err := pqcrypto.ValidateAddress(req.To); err != nil {
		return fmt.Errorf("to: %w", err)
	}
	if req.From == req.To {
		return ledger.ErrSameWallet
	}
	if req.Amount <= 0 {
		return ledger.ErrInvalidAmount
	}
	if len(req.Signature) == 0 {
		return fmt.Errorf("%w: missing signature", ErrInvalidRequest)
	}
	if !utf8.ValidString(req.Description) || len(req.Description) > maxDescriptionLength {
		return fmt.Errorf("%w: description must be valid UTF-8 of at most %d bytes", ErrInvalidRequest, maxDescriptionLength)
	}
	now := e.cfg.Now().UnixMilli()
	window := e.cfg.ReplayWindow.Milliseconds()
	if req.Nonce < now-window || req.Nonce > now+window {
		return fmt.Errorf("%w: %d", ErrStaleNonce, req.Nonce)
	}
	return nil
}

func (e *Engine) handleLedgerError(ctx context.Context, req Request, err error) error {
	kind := apperr.KindOf(err)
	switch kind {
	case apperr.KindContention:
		// Nothing was applied; the client may retry with the same nonce.
		if relErr := e.replay.Release(ctx, req.From, req.Nonce); relErr != nil {
			e.logger.Warn("release nonce failed", "from", req.From, "nonce", req.Nonce, "error", relErr)
		}
		return err
	case apperr.KindInsufficientFunds, apperr.KindNotFound, apperr.KindInvalidAmount,
		apperr.KindInvalidArgument, apperr.KindReplayDetected:
		e.recordFailure(ctx, req, kind)
		return err
	default:
		e.logger.Error("ledger transfer failed", "from", req.From, "to", req.To, "nonce", req.Nonce, "error", err)
		return err
	}
}

func (e *Engine) recordFailure(ctx context.Context, req Request, reason apperr.Kind) {
	tx, err := e.ledger.RecordFailure(ctx, ledger.Transaction{
		From:          req.From,
		To:            req.To,
		Amount:        req.Amount,
		Description:   req.Description,
		Nonce:         req.Nonce,
		Signature:     req.Signature,
		FailureReason: string(reason),
	})
	if err != nil {
		e.logger.Warn("record failed transfer", "from", req.From, "reason", reason, "error", err)
		return
	}
	e.logger.Info("transfer rejected", "transaction_id", tx.ID, "from", req.From, "reason", reason)
}

func (e *Engine) notify(ctx context.Context, tx ledger.Transaction) {
	if e.notifier == nil {
		return
	}
	messages := []notification.Message{
		{
			Kind:          notification.KindTransferSent,
			Destination:   tx.From,
			TransactionID: tx.ID,
			Amount:        tx.Amount,
			Body:          fmt.Sprintf("You sent %d to %s", tx.Amount, tx.To),
		},
		{
			Kind:          notification.KindTransferReceived,
			Destination:   tx.To,
			TransactionID: tx.ID,
			Amount:        tx.Amount,
			Body:          fmt.Sprintf("You received %d from %s", tx.Amount, tx.From),
		},
	}
	for _, msg := range messages {
		if err := e.notifier.Send(ctx, msg); err != nil {
			e.logger.Warn("notification failed", "kind", msg.Kind, "transaction_id", tx.ID, "error", err)
		}
	}
}

// VerifySignature checks a signature without touching the ledger.
func (e *Engine) VerifySignature(ctx context.Context, req VerifyRequest) (VerifyResult, error) {
	publicKey := req.PublicKey
	if len(publicKey) == 0 {
		if req.Address == "" {
			return VerifyResult{}, fmt.Errorf("%w: public key or address is required", ErrInvalidRequest)
		}
		key, err := e.keys.SigningKey(ctx, req.Address)
		if err != nil {
			return VerifyResult{}, err
		}
		publicKey = key
	}
	started := time.Now()
	valid, err := e.verifier.Verify(publicKey, req.Message, req.Signature)
	metrics.ObserveVerify(e.verifier.Algorithm(), time.Since(started))
	if err != nil {
		return VerifyResult{}, err
	}
	return VerifyResult{Valid: valid, Algorithm: e.verifier.Algorithm(), VerifiedAt: e.cfg.Now().UTC()}, nil
}

// Get returns a transaction by id.
func (e *Engine) Get(ctx context.Context, id string) (ledger.Transaction, error) {
	if id == "" {
		return ledger.Transaction{}, fmt.Errorf("%w: missing transaction id", ErrInvalidRequest)
	}
	return e.ledger.GetTransaction(ctx, id)
}

// List returns the most recent transactions across all wallets.
func (e *Engine) List(ctx context.Context, limit int) ([]ledger.Transaction, error) {
	return e.ledger.ListAll(ctx, limit)
}
