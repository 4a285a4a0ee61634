package wallet

import (
	"context"
	"errors"
	"testing"

	"github.com/qrpay/qrpay/internal/ledger"
	"github.com/qrpay/qrpay/internal/pqcrypto"
)

func newTestService(t *testing.T, opts ledger.Options) (*Service, ledger.Store) {
	t.Helper()
	led := ledger.NewInMemory(opts)
	svc, err := NewService(led, pqcrypto.NewMLDSA65(), pqcrypto.NewMLKEM768())
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc, led
}

func TestServiceCreateAndBalance(t *testing.T) {
	svc, led := newTestService(t, ledger.Options{InitialBalance: 1_000})
	ctx := context.Background()

	kp, err := pqcrypto.NewMLDSA65().GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	w, err := svc.Create(ctx, CreateInput{Name: " savings ", PublicKey: kp.PublicKey})
	if err != nil {
		t.Fatalf("create wallet: %v", err)
	}

	want, _ := pqcrypto.DeriveAddress(kp.PublicKey)
	if w.Address != want {
		t.Fatalf("expected derived address %s, got %s", want, w.Address)
	}
	if w.Name != "savings" || w.Algorithm != "ML-DSA-65" || w.Balance != 1_000 {
		t.Fatalf("unexpected wallet: %+v", w)
	}

	ledger.SeedBalance(led, w.Address, 2_500)

	balance, err := svc.Balance(ctx, w.Address)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Amount != 2_500 {
		t.Fatalf("expected balance 2500, got %d", balance.Amount)
	}

	key, err := svc.SigningKey(ctx, w.Address)
	if err != nil {
		t.Fatalf("signing key: %v", err)
	}
	if string(key) != string(kp.PublicKey) {
		t.Fatalf("signing key does not match registered key")
	}
}

func TestServiceCreateRejectsDuplicateKey(t *testing.T) {
	svc, _ := newTestService(t, ledger.Options{})
	ctx := context.Background()
	kp, _ := pqcrypto.NewMLDSA65().GenerateKey()

	if _, err := svc.Create(ctx, CreateInput{PublicKey: kp.PublicKey}); err != nil {
		t.Fatalf("create wallet: %v", err)
	}
	if _, err := svc.Create(ctx, CreateInput{PublicKey: kp.PublicKey}); !errors.Is(err, ledger.ErrDuplicateAddress) {
		t.Fatalf("expected duplicate address, got %v", err)
	}
}

func TestServiceCreateRejectsInvalidKeys(t *testing.T) {
	svc, _ := newTestService(t, ledger.Options{})
	ctx := context.Background()
	kp, _ := pqcrypto.NewMLDSA65().GenerateKey()

	if _, err := svc.Create(ctx, CreateInput{PublicKey: []byte("short")}); !errors.Is(err, pqcrypto.ErrInvalidPublicKey) {
		t.Fatalf("expected invalid public key, got %v", err)
	}
	if _, err := svc.Create(ctx, CreateInput{}); !errors.Is(err, pqcrypto.ErrInvalidArgument) {
		t.Fatalf("expected invalid argument for empty key, got %v", err)
	}
	if _, err := svc.Create(ctx, CreateInput{PublicKey: kp.PublicKey, KEMPublicKey: []byte("bad")}); !errors.Is(err, pqcrypto.ErrInvalidPublicKey) {
		t.Fatalf("expected invalid kem key, got %v", err)
	}
}

func TestServiceGetUnknownAndMalformed(t *testing.T) {
	svc, _ := newTestService(t, ledger.Options{})
	ctx := context.Background()

	unknown, _ := pqcrypto.DeriveAddress([]byte("nobody"))
	if _, err := svc.Get(ctx, unknown); !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := svc.Balance(ctx, "qrpay_short"); !errors.Is(err, pqcrypto.ErrInvalidAddress) {
		t.Fatalf("expected invalid address, got %v", err)
	}
}

func TestServiceKeyExchange(t *testing.T) {
	svc, _ := newTestService(t, ledger.Options{})
	ctx := context.Background()

	sig, _ := pqcrypto.NewMLDSA65().GenerateKey()
	kemImpl := pqcrypto.NewMLKEM768()
	kem, err := kemImpl.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate kem key: %v", err)
	}

	w, err := svc.Create(ctx, CreateInput{PublicKey: sig.PublicKey, KEMPublicKey: kem.PublicKey})
	if err != nil {
		t.Fatalf("create wallet: %v", err)
	}

	kx, err := svc.KeyExchange(ctx, w.Address)
	if err != nil {
		t.Fatalf("key exchange: %v", err)
	}
	secret, err := kemImpl.Decapsulate(kem.PrivateKey, kx.Ciphertext)
	if err != nil {
		t.Fatalf("decapsulate: %v", err)
	}
	if string(pqcrypto.ConfirmationTag(secret)) != string(kx.Confirmation) {
		t.Fatalf("confirmation tag does not match decapsulated secret")
	}

	other, _ := pqcrypto.NewMLDSA65().GenerateKey()
	plain, err := svc.Create(ctx, CreateInput{PublicKey: other.PublicKey})
	if err != nil {
		t.Fatalf("create wallet: %v", err)
	}
	if _, err := svc.KeyExchange(ctx, plain.Address); !errors.Is(err, ErrNoKeyExchangeKey) {
		t.Fatalf("expected missing kem key error, got %v", err)
	}
}
