// Package auth issues and checks wallet ownership challenges. A wallet proves
// control of its address by signing a server-issued challenge with its
// registered key; there are no passwords or sessions.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/qrpay/qrpay/internal/apperr"
	"github.com/qrpay/qrpay/internal/pqcrypto"
)

const (
	challengeBytes  = 32
	challengeIssuer = "qrpay"
	messageDomain   = "qrpay:challenge:v1|"
)

var (
	// ErrInvalidChallenge is returned for malformed, expired or foreign
	// challenge tokens.
	ErrInvalidChallenge = apperr.New(apperr.KindInvalidArgument, "invalid or expired challenge")

	// ErrChallengeSignature is returned when the challenge signature does not
	// verify against the wallet key.
	ErrChallengeSignature = apperr.New(apperr.KindInvalidSignature, "challenge signature does not verify")
)

// KeySource resolves the signing key registered for a wallet.
type KeySource interface {
	SigningKey(ctx context.Context, address string) ([]byte, error)
}

// Challenge is a random nonce a wallet must sign. Token carries the nonce and
// its expiry so the server keeps no state between issue and verify.
type Challenge struct {
	Value     string
	Token     string
	Address   string
	Algorithm string
	ExpiresAt time.Time
}

// Verification is the outcome of a successful challenge response.
type Verification struct {
	Address    string
	VerifiedAt time.Time
}

// AddressCheck reports whether a string is a well-formed wallet address.
type AddressCheck struct {
	Address string
	Valid   bool
	Reason  string
}

type challengeClaims struct {
	Challenge string `json:"chl"`
	jwt.RegisteredClaims
}

// Service issues HS256-signed challenge tokens and verifies wallet responses.
type Service struct {
	secret   []byte
	ttl      time.Duration
	keys     KeySource
	verifier pqcrypto.Verifier
	now      func() time.Time
}

// NewService constructs a challenge service.
func NewService(secret string, ttl time.Duration, keys KeySource, verifier pqcrypto.Verifier) (*Service, error) {
	if secret == "" {
		return nil, fmt.Errorf("challenge secret is required")
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Service{secret: []byte(secret), ttl: ttl, keys: keys, verifier: verifier, now: time.Now}, nil
}

// ChallengeMessage returns the bytes a wallet signs to answer challenge.
func ChallengeMessage(challenge string) []byte {
	return []byte(messageDomain + challenge)
}

// IssueChallenge creates a fresh challenge, optionally bound to address.
func (s *Service) IssueChallenge(address string) (Challenge, error) {
	if address != "" {
		if err := pqcrypto.ValidateAddress(address); err != nil {
			return Challenge{}, err
		}
	}

	raw := make([]byte, challengeBytes)
	if _, err := rand.Read(raw); err != nil {
		return Challenge{}, fmt.Errorf("generate challenge: %w", err)
	}
	value := hex.EncodeToString(raw)

	now := s.now()
	expires := now.Add(s.ttl)
	claims := challengeClaims{
		Challenge: value,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    challengeIssuer,
			Subject:   address,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return Challenge{}, fmt.Errorf("sign challenge: %w", err)
	}

	return Challenge{
		Value:     value,
		Token:     token,
		Address:   address,
		Algorithm: s.verifier.Algorithm(),
		ExpiresAt: expires.UTC(),
	}, nil
}

// VerifyChallenge checks that token is a live challenge issued by this
// service and that signature over it verifies against the key of address.
func (s *Service) VerifyChallenge(ctx context.Context, address, token string, signature []byte) (Verification, error) {
	if err := pqcrypto.ValidateAddress(address); err != nil {
		return Verification{}, err
	}

	claims, err := s.parse(token)
	if err != nil {
		return Verification{}, err
	}
	if claims.Subject != "" && claims.Subject != address {
		return Verification{}, fmt.Errorf("%w: issued for another address", ErrInvalidChallenge)
	}

	publicKey, err := s.keys.SigningKey(ctx, address)
	if err != nil {
		return Verification{}, err
	}
	ok, err := s.verifier.Verify(publicKey, ChallengeMessage(claims.Challenge), signature)
	if err != nil {
		return Verification{}, err
	}
	if !ok {
		return Verification{}, ErrChallengeSignature
	}
	return Verification{Address: address, VerifiedAt: s.now().UTC()}, nil
}

func (s *Service) parse(token string) (*challengeClaims, error) {
	claims := new(challengeClaims)
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(challengeIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	parsed, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidChallenge
	}
	if len(claims.Challenge) != 2*challengeBytes {
		return nil, ErrInvalidChallenge
	}
	return claims, nil
}

// ValidateAddress checks the format of address and explains failures.
func ValidateAddress(address string) AddressCheck {
	address = strings.TrimSpace(address)
	if err := pqcrypto.ValidateAddress(address); err != nil {
		return AddressCheck{Address: address, Valid: false, Reason: err.Error()}
	}
	return AddressCheck{Address: address, Valid: true}
}
