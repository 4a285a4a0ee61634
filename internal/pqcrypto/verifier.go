// Package pqcrypto wraps post-quantum signature and key-encapsulation schemes
// behind small capability interfaces. Callers depend on Verifier and
// KeyExchanger only, so schemes can be swapped by configuration.
package pqcrypto

import (
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/sha3"

	"github.com/qrpay/qrpay/internal/apperr"
)

const (
	// AddressPrefix marks QrPay wallet addresses.
	AddressPrefix = "qrpay_"
	// addressHashBytes is the number of digest bytes kept in an address.
	addressHashBytes = 20
	// AddressLength is the fixed width of every derived address.
	AddressLength = len(AddressPrefix) + 2*addressHashBytes
)

var (
	// ErrInvalidArgument is returned for programmer errors such as an empty
	// public key. Malformed keys or signatures never produce it; they fail
	// verification instead.
	ErrInvalidArgument = apperr.New(apperr.KindInvalidArgument, "invalid argument")

	// ErrInvalidPublicKey is returned when a key cannot be decoded by a scheme.
	ErrInvalidPublicKey = apperr.New(apperr.KindInvalidArgument, "invalid public key")

	// ErrInvalidAddress is returned when an address is not well formed.
	ErrInvalidAddress = apperr.New(apperr.KindInvalidArgument, "invalid address")

	// ErrUnknownScheme is returned by ByName for unsupported algorithms.
	ErrUnknownScheme = apperr.New(apperr.KindInvalidArgument, "unknown signature scheme")
)

// Verifier authenticates messages signed with a post-quantum signature scheme.
// Implementations are stateless and safe for concurrent use.
type Verifier interface {
	// Algorithm names the underlying scheme, e.g. "ML-DSA-65".
	Algorithm() string
	// Verify reports whether signature is valid for message under publicKey.
	// It returns false for malformed keys or signatures and an error only when
	// publicKey is empty.
	Verify(publicKey, message, signature []byte) (bool, error)
	// DeriveAddress maps a public key to its wallet address.
	DeriveAddress(publicKey []byte) (string, error)
	// ValidatePublicKey checks that publicKey decodes under the scheme.
	ValidatePublicKey(publicKey []byte) error
}

// DeriveAddress returns the scheme-independent address of publicKey:
// the prefix followed by the hex encoded first 20 bytes of SHA3-256(publicKey).
func DeriveAddress(publicKey []byte) (string, error) {
	if len(publicKey) == 0 {
		return "", fmt.Errorf("%w: empty public key", ErrInvalidArgument)
	}
	digest := sha3.Sum256(publicKey)
	return AddressPrefix + hex.EncodeToString(digest[:addressHashBytes]), nil
}

// ValidateAddress checks the prefix, width and alphabet of an address.
func ValidateAddress(address string) error {
	if !strings.HasPrefix(address, AddressPrefix) {
		return fmt.Errorf("%w: missing %q prefix", ErrInvalidAddress, AddressPrefix)
	}
	if len(address) != AddressLength {
		return fmt.Errorf("%w: expected %d characters, got %d", ErrInvalidAddress, AddressLength, len(address))
	}
	body := address[len(AddressPrefix):]
	if strings.ToLower(body) != body {
		return fmt.Errorf("%w: address must be lower-case hex", ErrInvalidAddress)
	}
	if _, err := hex.DecodeString(body); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	return nil
}
