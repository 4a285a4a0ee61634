package wallet

import (
	"context"
	"fmt"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/qrpay/qrpay/internal/apperr"
	"github.com/qrpay/qrpay/internal/ledger"
	"github.com/qrpay/qrpay/internal/metrics"
	"github.com/qrpay/qrpay/internal/pqcrypto"
)

const (
	defaultKeyCacheSize = 10_000
	maxNameLength       = 64
)

var (
	// ErrNoKeyExchangeKey is returned when a wallet registered no ML-KEM key.
	ErrNoKeyExchangeKey = apperr.New(apperr.KindInvalidArgument, "wallet has no key-exchange public key")

	// ErrInvalidName rejects over-long display names.
	ErrInvalidName = apperr.New(apperr.KindInvalidArgument, "wallet name too long")
)

type signingKey struct {
	publicKey []byte
	algorithm string
}

// Service exposes wallet operations backed by the ledger.
type Service struct {
	ledger   ledger.Store
	verifier pqcrypto.Verifier
	kem      pqcrypto.KeyExchanger
	keys     *lru.Cache[string, signingKey]
	now      func() time.Time
}

// NewService builds a wallet service instance. kem may be nil, in which case
// key-exchange keys are neither validated nor usable.
func NewService(store ledger.Store, verifier pqcrypto.Verifier, kem pqcrypto.KeyExchanger) (*Service, error) {
	if store == nil || verifier == nil {
		return nil, fmt.Errorf("wallet service requires a ledger and a verifier")
	}
	keys, err := lru.New[string, signingKey](defaultKeyCacheSize)
	if err != nil {
		return nil, fmt.Errorf("build key cache: %w", err)
	}
	return &Service{ledger: store, verifier: verifier, kem: kem, keys: keys, now: time.Now}, nil
}

// Create validates the submitted keys, derives the wallet address and stores
// the wallet in the ledger.
func (s *Service) Create(ctx context.Context, input CreateInput) (ledger.Wallet, error) {
	name := strings.TrimSpace(input.Name)
	if len(name) > maxNameLength {
		return ledger.Wallet{}, ErrInvalidName
	}
	if err := s.verifier.ValidatePublicKey(input.PublicKey); err != nil {
		return ledger.Wallet{}, err
	}
	if len(input.KEMPublicKey) > 0 {
		if s.kem == nil {
			return ledger.Wallet{}, fmt.Errorf("%w: key exchange is disabled", pqcrypto.ErrInvalidArgument)
		}
		if err := s.kem.ValidatePublicKey(input.KEMPublicKey); err != nil {
			return ledger.Wallet{}, err
		}
	}

	address, err := s.verifier.DeriveAddress(input.PublicKey)
	if err != nil {
		return ledger.Wallet{}, err
	}

	w, err := s.ledger.CreateWallet(ctx, ledger.NewWallet{
		Address:      address,
		Name:         name,
		PublicKey:    input.PublicKey,
		KEMPublicKey: input.KEMPublicKey,
		Algorithm:    s.verifier.Algorithm(),
	})
	if err != nil {
		return ledger.Wallet{}, err
	}
	s.keys.Add(w.Address, signingKey{publicKey: w.PublicKey, algorithm: w.Algorithm})
	metrics.WalletCreated()
	return w, nil
}

// Get retrieves a wallet including its current balance.
func (s *Service) Get(ctx context.Context, address string) (ledger.Wallet, error) {
	if err := pqcrypto.ValidateAddress(address); err != nil {
		return ledger.Wallet{}, err
	}
	return s.ledger.GetWallet(ctx, address)
}

// Balance returns the ledger balance for the wallet.
func (s *Service) Balance(ctx context.Context, address string) (Balance, error) {
	if err := pqcrypto.ValidateAddress(address); err != nil {
		return Balance{}, err
	}
	amount, err := s.ledger.Balance(ctx, address)
	if err != nil {
		return Balance{}, err
	}
	return Balance{Address: address, Amount: amount, AsOf: s.now().UTC()}, nil
}

// SigningKey returns the public key registered for address. Keys never change
// after registration so lookups are served from an LRU cache.
func (s *Service) SigningKey(ctx context.Context, address string) ([]byte, error) {
	if k, ok := s.keys.Get(address); ok {
		return k.publicKey, nil
	}
	w, err := s.Get(ctx, address)
	if err != nil {
		return nil, err
	}
	s.keys.Add(w.Address, signingKey{publicKey: w.PublicKey, algorithm: w.Algorithm})
	return w.PublicKey, nil
}

// History lists the wallet's transactions newest first.
func (s *Service) History(ctx context.Context, address string, limit int) ([]ledger.Transaction, error) {
	if _, err := s.Get(ctx, address); err != nil {
		return nil, err
	}
	return s.ledger.ListTransactions(ctx, address, limit)
}

// KeyExchange encapsulates a fresh shared secret to the wallet's ML-KEM key.
// Only the ciphertext and a confirmation tag leave the service.
func (s *Service) KeyExchange(ctx context.Context, address string) (KeyExchange, error) {
	if s.kem == nil {
		return KeyExchange{}, fmt.Errorf("%w: key exchange is disabled", ErrNoKeyExchangeKey)
	}
	w, err := s.Get(ctx, address)
	if err != nil {
		return KeyExchange{}, err
	}
	if len(w.KEMPublicKey) == 0 {
		return KeyExchange{}, fmt.Errorf("%w: %s", ErrNoKeyExchangeKey, address)
	}
	enc, err := s.kem.Encapsulate(w.KEMPublicKey)
	if err != nil {
		return KeyExchange{}, err
	}
	return KeyExchange{
		Address:      w.Address,
		Algorithm:    s.kem.Algorithm(),
		Ciphertext:   enc.Ciphertext,
		Confirmation: enc.Confirmation(),
		CreatedAt:    s.now().UTC(),
	}, nil
}
