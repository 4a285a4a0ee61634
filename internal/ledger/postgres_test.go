package ledger

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// newTestPostgres connects to TEST_DATABASE_URL and resets the schema. The
// test is skipped when the variable is unset.
func newTestPostgres(t *testing.T, opts Options) *PostgresLedger {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)

	if _, err := pool.Exec(ctx, `DROP TABLE IF EXISTS transactions; DROP TABLE IF EXISTS wallets`); err != nil {
		t.Fatalf("reset schema: %v", err)
	}
	l := NewPostgres(pool, opts)
	if err := l.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := l.Migrate(ctx); err != nil {
		t.Fatalf("migrate twice: %v", err)
	}
	return l
}

func TestPostgresTransfer(t *testing.T) {
	l := newTestPostgres(t, Options{InitialBalance: 1_000})
	ctx := context.Background()

	alice := createWallet(t, l, "alice")
	bob := createWallet(t, l, "bob")

	res, err := l.Transfer(ctx, TransferInput{From: alice, To: bob, Amount: 300, Nonce: 1, Signature: []byte{1}})
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if res.FromBalance != 700 || res.ToBalance != 1_300 {
		t.Fatalf("unexpected balances: %+v", res)
	}

	stored, err := l.GetTransaction(ctx, res.Transaction.ID)
	if err != nil {
		t.Fatalf("get transaction: %v", err)
	}
	if !VerifyHash(stored) {
		t.Fatalf("hash does not survive a round trip: %+v", stored)
	}

	if _, err := l.Transfer(ctx, TransferInput{From: alice, To: bob, Amount: 5, Nonce: 1, Signature: []byte{1}}); !errors.Is(err, ErrDuplicateNonce) {
		t.Fatalf("expected duplicate nonce, got %v", err)
	}
	if _, err := l.Transfer(ctx, TransferInput{From: alice, To: bob, Amount: 800, Nonce: 2, Signature: []byte{1}}); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
	if b, _ := l.Balance(ctx, alice); b != 700 {
		t.Fatalf("expected alice balance unchanged at 700, got %d", b)
	}

	if _, err := l.RecordFailure(ctx, Transaction{From: alice, To: bob, Amount: 1, Nonce: 3, FailureReason: "invalid_signature"}); err != nil {
		t.Fatalf("record failure: %v", err)
	}
	received, err := l.ListTransactions(ctx, bob, 0)
	if err != nil {
		t.Fatalf("list bob: %v", err)
	}
	if len(received) != 1 || received[0].ID != res.Transaction.ID {
		t.Fatalf("expected only the completed transfer in bob's history, got %+v", received)
	}
	if sent, _ := l.ListTransactions(ctx, alice, 0); len(sent) != 2 {
		t.Fatalf("expected completed and failed entries in alice's history, got %d", len(sent))
	}

	if _, err := l.db.Exec(ctx, `UPDATE transactions SET amount = 1 WHERE id = $1`, res.Transaction.ID); err == nil {
		t.Fatalf("expected transactions to be append-only")
	}
}

func TestPostgresConcurrentTransfersConserveValue(t *testing.T) {
	l := newTestPostgres(t, Options{InitialBalance: 100, LockTimeout: time.Second})
	ctx := context.Background()

	a := createWallet(t, l, "a")
	b := createWallet(t, l, "b")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			from, to := a, b
			if i%2 == 1 {
				from, to = b, a
			}
			_, _ = l.Transfer(ctx, TransferInput{From: from, To: to, Amount: 7, Nonce: int64(i), Signature: []byte{1}})
		}(i)
	}
	wg.Wait()

	ba, _ := l.Balance(ctx, a)
	bb, _ := l.Balance(ctx, b)
	if ba+bb != 200 || ba < 0 || bb < 0 {
		t.Fatalf("value not conserved: %d + %d", ba, bb)
	}
}

func createWallet(t *testing.T, l Store, name string) string {
	t.Helper()
	address := "qrpay_" + name
	if _, err := l.CreateWallet(context.Background(), NewWallet{Address: address, Name: name, PublicKey: []byte(name), Algorithm: "test"}); err != nil {
		t.Fatalf("create wallet %s: %v", name, err)
	}
	return address
}
