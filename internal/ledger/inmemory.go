package ledger

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"
)

type account struct {
	mu     sync.Mutex
	wallet Wallet
}

type inMemoryLedger struct {
	opts Options

	mu       sync.RWMutex
	accounts map[string]*account

	logMu     sync.RWMutex
	log       []Transaction
	byID      map[string]int
	byAddress map[string][]int
	nonces    map[string]string
}

// NewInMemory creates a concurrency-safe in-memory ledger for development and
// tests. Each wallet has its own lock so transfers between disjoint pairs run
// in parallel.
func NewInMemory(opts Options) Store {
	return &inMemoryLedger{
		opts:      opts.withDefaults(),
		accounts:  make(map[string]*account),
		byID:      make(map[string]int),
		byAddress: make(map[string][]int),
		nonces:    make(map[string]string),
	}
}

func (l *inMemoryLedger) CreateWallet(_ context.Context, nw NewWallet) (Wallet, error) {
	if nw.Address == "" || len(nw.PublicKey) == 0 {
		return Wallet{}, fmt.Errorf("%w: address and public key are required", ErrInvalidRecord)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.accounts[nw.Address]; exists {
		return Wallet{}, fmt.Errorf("%w: %s", ErrDuplicateAddress, nw.Address)
	}
	w := Wallet{
		Address:      nw.Address,
		Name:         nw.Name,
		PublicKey:    bytes.Clone(nw.PublicKey),
		KEMPublicKey: bytes.Clone(nw.KEMPublicKey),
		Algorithm:    nw.Algorithm,
		Balance:      l.opts.InitialBalance,
		CreatedAt:    l.opts.timestamp(),
	}
	l.accounts[nw.Address] = &account{wallet: w}
	return w, nil
}

func (l *inMemoryLedger) lookup(address string) (*account, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	acc, ok := l.accounts[address]
	if !ok {
		return nil, fmt.Errorf("%w: wallet %s", ErrNotFound, address)
	}
	return acc, nil
}

func (l *inMemoryLedger) GetWallet(_ context.Context, address string) (Wallet, error) {
	acc, err := l.lookup(address)
	if err != nil {
		return Wallet{}, err
	}
	acc.mu.Lock()
	defer acc.mu.Unlock()
	return acc.wallet, nil
}

func (l *inMemoryLedger) Balance(ctx context.Context, address string) (int64, error) {
	w, err := l.GetWallet(ctx, address)
	if err != nil {
		return 0, err
	}
	return w.Balance, nil
}

func (l *inMemoryLedger) Transfer(ctx context.Context, in TransferInput) (TransferResult, error) {
	if in.Amount <= 0 {
		return TransferResult{}, ErrInvalidAmount
	}
	if in.From == in.To {
		return TransferResult{}, ErrSameWallet
	}

	from, err := l.lookup(in.From)
	if err != nil {
		return TransferResult{}, err
	}
	to, err := l.lookup(in.To)
	if err != nil {
		return TransferResult{}, err
	}

	if err := l.acquire(ctx, from, to); err != nil {
		return TransferResult{}, err
	}
	defer from.mu.Unlock()
	defer to.mu.Unlock()

	nonceKey := in.From + ":" + strconv.FormatInt(in.Nonce, 10)
	l.logMu.RLock()
	_, used := l.nonces[nonceKey]
	l.logMu.RUnlock()
	if used {
		return TransferResult{}, fmt.Errorf("%w: %d", ErrDuplicateNonce, in.Nonce)
	}

	if from.wallet.Balance < in.Amount {
		return TransferResult{}, ErrInsufficientFunds
	}
	if to.wallet.Balance > math.MaxInt64-in.Amount {
		return TransferResult{}, ErrBalanceOverflow
	}

	from.wallet.Balance -= in.Amount
	to.wallet.Balance += in.Amount

	tx := seal(Transaction{
		From:        in.From,
		To:          in.To,
		Amount:      in.Amount,
		Description: in.Description,
		Nonce:       in.Nonce,
		Signature:   bytes.Clone(in.Signature),
		Status:      StatusCompleted,
	}, l.opts.timestamp())

	l.logMu.Lock()
	l.appendLocked(tx)
	l.nonces[nonceKey] = tx.ID
	l.logMu.Unlock()

	return TransferResult{
		Transaction: tx,
		FromBalance: from.wallet.Balance,
		ToBalance:   to.wallet.Balance,
	}, nil
}

// acquire makes up to MaxRetries+1 attempts to lock both wallets, each bounded
// by LockTimeout, the same budget the Postgres backend gives a transfer.
func (l *inMemoryLedger) acquire(ctx context.Context, a, b *account) error {
	for attempt := 0; attempt <= l.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, time.Duration(attempt)*10*time.Millisecond); err != nil {
				return fmt.Errorf("%w: %v", ErrContention, err)
			}
		}
		err := l.lockPair(ctx, a, b)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
	}
	return fmt.Errorf("%w: %d attempts", ErrContention, l.opts.MaxRetries+1)
}

// lockPair acquires both wallet locks in address order. It never blocks on a
// held lock: it retries with backoff until LockTimeout and then reports
// ErrContention.
func (l *inMemoryLedger) lockPair(ctx context.Context, a, b *account) error {
	first, second := a, b
	if b.wallet.Address < a.wallet.Address {
		first, second = b, a
	}

	deadline := time.Now().Add(l.opts.LockTimeout)
	backoff := 20 * time.Microsecond
	for {
		if first.mu.TryLock() {
			if second.mu.TryLock() {
				return nil
			}
			first.mu.Unlock()
		}
		if time.Now().After(deadline) {
			return ErrContention
		}
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%w: %v", ErrContention, ctx.Err())
		case <-timer.C:
		}
		if backoff < 2*time.Millisecond {
			backoff *= 2
		}
	}
}

func (l *inMemoryLedger) RecordFailure(_ context.Context, tx Transaction) (Transaction, error) {
	if tx.From == "" || tx.FailureReason == "" {
		return Transaction{}, fmt.Errorf("%w: sender and failure reason are required", ErrInvalidRecord)
	}
	tx.Status = StatusFailed
	tx.Signature = bytes.Clone(tx.Signature)
	tx = seal(tx, l.opts.timestamp())

	l.logMu.Lock()
	defer l.logMu.Unlock()
	l.appendLocked(tx)
	return tx, nil
}

func (l *inMemoryLedger) appendLocked(tx Transaction) {
	idx := len(l.log)
	l.log = append(l.log, tx)
	l.byID[tx.ID] = idx
	l.byAddress[tx.From] = append(l.byAddress[tx.From], idx)
	// Anyone can name a recipient in a rejected request, so only completed
	// transfers show up in the recipient's history.
	if tx.Status == StatusCompleted && tx.To != "" && tx.To != tx.From {
		l.byAddress[tx.To] = append(l.byAddress[tx.To], idx)
	}
}

func (l *inMemoryLedger) GetTransaction(_ context.Context, id string) (Transaction, error) {
	l.logMu.RLock()
	defer l.logMu.RUnlock()
	idx, ok := l.byID[id]
	if !ok {
		return Transaction{}, fmt.Errorf("%w: transaction %s", ErrNotFound, id)
	}
	return l.log[idx], nil
}

func (l *inMemoryLedger) ListTransactions(_ context.Context, address string, limit int) ([]Transaction, error) {
	limit = ClampLimit(limit)

	l.logMu.RLock()
	defer l.logMu.RUnlock()
	indexes := l.byAddress[address]
	out := make([]Transaction, 0, min(limit, len(indexes)))
	for i := len(indexes) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, l.log[indexes[i]])
	}
	return out, nil
}

func (l *inMemoryLedger) ListAll(_ context.Context, limit int) ([]Transaction, error) {
	limit = ClampLimit(limit)

	l.logMu.RLock()
	defer l.logMu.RUnlock()
	out := make([]Transaction, 0, min(limit, len(l.log)))
	for i := len(l.log) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, l.log[i])
	}
	return out, nil
}
