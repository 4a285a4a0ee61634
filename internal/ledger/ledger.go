package ledger

import (
	"context"
	"time"

	"github.com/qrpay/qrpay/internal/apperr"
)

var (
	// ErrNotFound is returned for unknown wallets or transactions.
	ErrNotFound = apperr.New(apperr.KindNotFound, "not found")

	// ErrInsufficientFunds occurs when the source wallet lacks available balance
	// to cover a requested transfer.
	ErrInsufficientFunds = apperr.New(apperr.KindInsufficientFunds, "insufficient funds")

	// ErrInvalidAmount is returned for non-positive transfer amounts.
	ErrInvalidAmount = apperr.New(apperr.KindInvalidAmount, "amount must be positive")

	// ErrBalanceOverflow rejects credits that would overflow the recipient's
	// balance.
	ErrBalanceOverflow = apperr.New(apperr.KindInvalidAmount, "amount overflows recipient balance")

	// ErrDuplicateAddress indicates a wallet with the derived address already
	// exists.
	ErrDuplicateAddress = apperr.New(apperr.KindDuplicateAddress, "duplicate address")

	// ErrDuplicateNonce indicates the sender already completed a transfer with
	// the same nonce.
	ErrDuplicateNonce = apperr.New(apperr.KindReplayDetected, "nonce already used by sender")

	// ErrSameWallet rejects transfers whose source and destination match.
	ErrSameWallet = apperr.New(apperr.KindInvalidArgument, "source and destination wallets must differ")

	// ErrContention is returned when locks could not be acquired within the
	// retry budget. Nothing was applied and the call may be retried.
	ErrContention = apperr.New(apperr.KindContention, "ledger contention, retry later")

	// ErrInvalidRecord rejects malformed failure records.
	ErrInvalidRecord = apperr.New(apperr.KindInvalidArgument, "invalid transaction record")
)

const (
	// DefaultListLimit applies when callers do not pass a limit.
	DefaultListLimit = 50
	// MaxListLimit bounds every history listing.
	MaxListLimit = 100
)

// Store is the durable ledger of wallets and transactions and the only
// component that mutates balances.
type Store interface {
	CreateWallet(ctx context.Context, w NewWallet) (Wallet, error)
	GetWallet(ctx context.Context, address string) (Wallet, error)
	Balance(ctx context.Context, address string) (int64, error)
	// Transfer atomically debits From, credits To and appends a completed
	// transaction. Either all of it is applied or none of it.
	Transfer(ctx context.Context, in TransferInput) (TransferResult, error)
	// RecordFailure appends a failed transaction without touching balances.
	RecordFailure(ctx context.Context, tx Transaction) (Transaction, error)
	GetTransaction(ctx context.Context, id string) (Transaction, error)
	// ListTransactions returns transactions sent by address and completed
	// transfers it received, newest first.
	ListTransactions(ctx context.Context, address string, limit int) ([]Transaction, error)
	ListAll(ctx context.Context, limit int) ([]Transaction, error)
}

// Options tunes a Store backend.
type Options struct {
	// InitialBalance seeds every new wallet.
	InitialBalance int64
	// MaxRetries bounds retries of a transfer that hit lock contention.
	MaxRetries int
	// LockTimeout bounds how long a transfer waits for wallet locks per attempt.
	LockTimeout time.Duration
	// Now overrides the clock, for tests.
	Now func() time.Time
}

func (o Options) withDefaults() Options {
	if o.MaxRetries <= 0 {
		o.MaxRetries = 5
	}
	if o.LockTimeout <= 0 {
		o.LockTimeout = 250 * time.Millisecond
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.InitialBalance < 0 {
		o.InitialBalance = 0
	}
	return o
}

// timestamp truncates to microseconds so hashes survive a Postgres round trip.
func (o Options) timestamp() time.Time {
	return o.Now().UTC().Truncate(time.Microsecond)
}

// ClampLimit applies the default and maximum list sizes.
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultListLimit
	case limit > MaxListLimit:
		return MaxListLimit
	default:
		return limit
	}
}
