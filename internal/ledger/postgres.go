package ledger

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

const (
	sqlstateUniqueViolation      = "23505"
	sqlstateSerializationFailure = "40001"
	sqlstateDeadlockDetected     = "40P01"
	sqlstateLockNotAvailable     = "55P03"

	constraintWalletsPK      = "wallets_pkey"
	constraintCompletedNonce = "transactions_completed_nonce"
)

const transactionColumns = `id, from_address, to_address, amount, description, nonce,
        signature, status, failure_reason, hash, created_at`

// PostgresLedger persists wallets and the transaction log in PostgreSQL.
type PostgresLedger struct {
	db   *pgxpool.Pool
	opts Options
}

var _ Store = (*PostgresLedger)(nil)

// NewPostgres constructs a Postgres-backed ledger implementation.
func NewPostgres(db *pgxpool.Pool, opts Options) *PostgresLedger {
	return &PostgresLedger{db: db, opts: opts.withDefaults()}
}

// Migrate applies the embedded schema. It is idempotent.
func (l *PostgresLedger) Migrate(ctx context.Context) error {
	if _, err := l.db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply ledger schema: %w", err)
	}
	return nil
}

// CreateWallet inserts a wallet seeded with the configured initial balance.
func (l *PostgresLedger) CreateWallet(ctx context.Context, nw NewWallet) (Wallet, error) {
	if nw.Address == "" || len(nw.PublicKey) == 0 {
		return Wallet{}, fmt.Errorf("%w: address and public key are required", ErrInvalidRecord)
	}
	w := Wallet{
		Address:      nw.Address,
		Name:         nw.Name,
		PublicKey:    nw.PublicKey,
		KEMPublicKey: nw.KEMPublicKey,
		Algorithm:    nw.Algorithm,
		Balance:      l.opts.InitialBalance,
		CreatedAt:    l.opts.timestamp(),
	}
	_, err := l.db.Exec(ctx, `INSERT INTO wallets (address, name, public_key, kem_public_key, algorithm, balance, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		w.Address, w.Name, w.PublicKey, w.KEMPublicKey, w.Algorithm, w.Balance, w.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == sqlstateUniqueViolation && pgErr.ConstraintName == constraintWalletsPK {
			return Wallet{}, fmt.Errorf("%w: %s", ErrDuplicateAddress, w.Address)
		}
		return Wallet{}, fmt.Errorf("insert wallet: %w", err)
	}
	return w, nil
}

// GetWallet fetches a wallet by address.
func (l *PostgresLedger) GetWallet(ctx context.Context, address string) (Wallet, error) {
	row := l.db.QueryRow(ctx, `SELECT address, name, public_key, kem_public_key, algorithm, balance, created_at
        FROM wallets WHERE address = $1`, address)
	var w Wallet
	if err := row.Scan(&w.Address, &w.Name, &w.PublicKey, &w.KEMPublicKey, &w.Algorithm, &w.Balance, &w.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Wallet{}, fmt.Errorf("%w: wallet %s", ErrNotFound, address)
		}
		return Wallet{}, fmt.Errorf("select wallet: %w", err)
	}
	w.CreatedAt = w.CreatedAt.UTC()
	return w, nil
}

// Balance returns the balance of the wallet at address.
func (l *PostgresLedger) Balance(ctx context.Context, address string) (int64, error) {
	var balance int64
	if err := l.db.QueryRow(ctx, `SELECT balance FROM wallets WHERE address = $1`, address).Scan(&balance); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("%w: wallet %s", ErrNotFound, address)
		}
		return 0, fmt.Errorf("select balance: %w", err)
	}
	return balance, nil
}

// Transfer applies a debit, a credit and the log entry in one database
// transaction. Lock conflicts are retried up to MaxRetries times.
func (l *PostgresLedger) Transfer(ctx context.Context, in TransferInput) (TransferResult, error) {
	if in.Amount <= 0 {
		return TransferResult{}, ErrInvalidAmount
	}
	if in.From == in.To {
		return TransferResult{}, ErrSameWallet
	}

	var lastErr error
	for attempt := 0; attempt <= l.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, time.Duration(attempt)*10*time.Millisecond); err != nil {
				return TransferResult{}, fmt.Errorf("%w: %v", ErrContention, err)
			}
		}
		res, err := l.transferOnce(ctx, in)
		if err == nil || !isContention(err) {
			return res, err
		}
		lastErr = err
	}
	return TransferResult{}, fmt.Errorf("%w: %d attempts: %v", ErrContention, l.opts.MaxRetries+1, lastErr)
}

func (l *PostgresLedger) transferOnce(ctx context.Context, in TransferInput) (TransferResult, error) {
	tx, err := l.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return TransferResult{}, fmt.Errorf("begin transfer: %w", err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", l.opts.LockTimeout.Milliseconds())); err != nil {
		return TransferResult{}, fmt.Errorf("set lock timeout: %w", err)
	}

	// Rows are locked in address order so concurrent transfers over the same
	// pair cannot deadlock.
	rows, err := tx.Query(ctx, `SELECT address, balance FROM wallets
        WHERE address = ANY($1) ORDER BY address FOR UPDATE`, []string{in.From, in.To})
	if err != nil {
		return TransferResult{}, fmt.Errorf("lock wallets: %w", err)
	}
	balances := make(map[string]int64, 2)
	for rows.Next() {
		var address string
		var balance int64
		if err := rows.Scan(&address, &balance); err != nil {
			rows.Close()
			return TransferResult{}, fmt.Errorf("scan wallet: %w", err)
		}
		balances[address] = balance
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return TransferResult{}, fmt.Errorf("lock wallets: %w", err)
	}

	fromBalance, ok := balances[in.From]
	if !ok {
		return TransferResult{}, fmt.Errorf("%w: wallet %s", ErrNotFound, in.From)
	}
	toBalance, ok := balances[in.To]
	if !ok {
		return TransferResult{}, fmt.Errorf("%w: wallet %s", ErrNotFound, in.To)
	}
	if fromBalance < in.Amount {
		return TransferResult{}, ErrInsufficientFunds
	}
	if toBalance > math.MaxInt64-in.Amount {
		return TransferResult{}, ErrBalanceOverflow
	}

	if _, err := tx.Exec(ctx, `UPDATE wallets SET balance = balance - $1 WHERE address = $2`, in.Amount, in.From); err != nil {
		return TransferResult{}, fmt.Errorf("debit wallet: %w", err)
	}
	if _, err := tx.Exec(ctx, `UPDATE wallets SET balance = balance + $1 WHERE address = $2`, in.Amount, in.To); err != nil {
		return TransferResult{}, fmt.Errorf("credit wallet: %w", err)
	}

	record := seal(Transaction{
		From:        in.From,
		To:          in.To,
		Amount:      in.Amount,
		Description: in.Description,
		Nonce:       in.Nonce,
		Signature:   in.Signature,
		Status:      StatusCompleted,
	}, l.opts.timestamp())
	if err := insertTransaction(ctx, tx, record); err != nil {
		return TransferResult{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return TransferResult{}, fmt.Errorf("commit transfer: %w", err)
	}

	return TransferResult{
		Transaction: record,
		FromBalance: fromBalance - in.Amount,
		ToBalance:   toBalance + in.Amount,
	}, nil
}

// RecordFailure appends a failed transaction for audit.
func (l *PostgresLedger) RecordFailure(ctx context.Context, record Transaction) (Transaction, error) {
	if record.From == "" || record.FailureReason == "" {
		return Transaction{}, fmt.Errorf("%w: sender and failure reason are required", ErrInvalidRecord)
	}
	record.Status = StatusFailed
	if record.Signature == nil {
		record.Signature = []byte{}
	}
	record = seal(record, l.opts.timestamp())
	if err := insertTransaction(ctx, l.db, record); err != nil {
		return Transaction{}, err
	}
	return record, nil
}

type execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

func insertTransaction(ctx context.Context, db execer, t Transaction) error {
	_, err := db.Exec(ctx, `INSERT INTO transactions (`+transactionColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		t.ID, t.From, t.To, t.Amount, t.Description, t.Nonce, t.Signature, string(t.Status), t.FailureReason, t.Hash, t.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == sqlstateUniqueViolation && pgErr.ConstraintName == constraintCompletedNonce {
			return fmt.Errorf("%w: %d", ErrDuplicateNonce, t.Nonce)
		}
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

// GetTransaction fetches a log entry by identifier.
func (l *PostgresLedger) GetTransaction(ctx context.Context, id string) (Transaction, error) {
	row := l.db.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id)
	t, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transaction{}, fmt.Errorf("%w: transaction %s", ErrNotFound, id)
		}
		return Transaction{}, fmt.Errorf("select transaction: %w", err)
	}
	return t, nil
}

// ListTransactions returns the newest transactions sent by address and the
// completed transfers it received.
func (l *PostgresLedger) ListTransactions(ctx context.Context, address string, limit int) ([]Transaction, error) {
	rows, err := l.db.Query(ctx, `SELECT `+transactionColumns+` FROM transactions
        WHERE from_address = $1 OR (to_address = $1 AND status = 'completed')
        ORDER BY created_at DESC, id DESC LIMIT $2`, address, ClampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return collectTransactions(rows)
}

// ListAll returns the newest transactions across all wallets.
func (l *PostgresLedger) ListAll(ctx context.Context, limit int) ([]Transaction, error) {
	rows, err := l.db.Query(ctx, `SELECT `+transactionColumns+` FROM transactions
        ORDER BY created_at DESC, id DESC LIMIT $1`, ClampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return collectTransactions(rows)
}

func collectTransactions(rows pgx.Rows) ([]Transaction, error) {
	defer rows.Close()
	out := make([]Transaction, 0)
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return out, nil
}

func scanTransaction(row pgx.Row) (Transaction, error) {
	var (
		t      Transaction
		status string
	)
	if err := row.Scan(&t.ID, &t.From, &t.To, &t.Amount, &t.Description, &t.Nonce,
		&t.Signature, &status, &t.FailureReason, &t.Hash, &t.CreatedAt); err != nil {
		return Transaction{}, err
	}
	t.Status = Status(status)
	t.CreatedAt = t.CreatedAt.UTC()
	return t, nil
}

func isContention(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case sqlstateSerializationFailure, sqlstateDeadlockDetected, sqlstateLockNotAvailable:
		return true
	}
	return false
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
