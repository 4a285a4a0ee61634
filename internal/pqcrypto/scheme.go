package pqcrypto

import (
	"fmt"
	"sort"

	"github.com/cloudflare/circl/sign"
	"github.com/cloudflare/circl/sign/dilithium/mode3"
	"github.com/cloudflare/circl/sign/mldsa/mldsa44"
	"github.com/cloudflare/circl/sign/mldsa/mldsa65"
	"github.com/cloudflare/circl/sign/mldsa/mldsa87"
)

// DefaultScheme is used when no scheme is configured.
const DefaultScheme = "ML-DSA-65"

var _ Verifier = (*Scheme)(nil)

var registry = map[string]func() sign.Scheme{
	"ML-DSA-44":  mldsa44.Scheme,
	"ML-DSA-65":  mldsa65.Scheme,
	"ML-DSA-87":  mldsa87.Scheme,
	"Dilithium3": mode3.Scheme,
}

// Scheme adapts a CIRCL signature scheme to the Verifier interface.
type Scheme struct {
	name   string
	scheme sign.Scheme
}

// ByName returns the adapter for a registered scheme name.
func ByName(name string) (*Scheme, error) {
	if name == "" {
		name = DefaultScheme
	}
	ctor, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s (supported: %v)", ErrUnknownScheme, name, SchemeNames())
	}
	return &Scheme{name: name, scheme: ctor()}, nil
}

// NewMLDSA65 returns the default ML-DSA-65 adapter.
func NewMLDSA65() *Scheme {
	return &Scheme{name: "ML-DSA-65", scheme: mldsa65.Scheme()}
}

// SchemeNames lists the registered scheme names in sorted order.
func SchemeNames() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Algorithm implements Verifier.
func (s *Scheme) Algorithm() string { return s.name }

// DeriveAddress implements Verifier.
func (s *Scheme) DeriveAddress(publicKey []byte) (string, error) {
	return DeriveAddress(publicKey)
}

// ValidatePublicKey implements Verifier.
func (s *Scheme) ValidatePublicKey(publicKey []byte) error {
	if len(publicKey) == 0 {
		return fmt.Errorf("%w: empty public key", ErrInvalidArgument)
	}
	if _, err := s.scheme.UnmarshalBinaryPublicKey(publicKey); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidPublicKey, s.name, err)
	}
	return nil
}

// Verify implements Verifier. Decoding failures and panics inside the scheme
// are reported as an invalid signature.
func (s *Scheme) Verify(publicKey, message, signature []byte) (ok bool, err error) {
	if len(publicKey) == 0 {
		return false, fmt.Errorf("%w: empty public key", ErrInvalidArgument)
	}
	if len(signature) != s.scheme.SignatureSize() {
		return false, nil
	}
	pk, err := s.scheme.UnmarshalBinaryPublicKey(publicKey)
	if err != nil {
		return false, nil
	}
	defer func() {
		if recover() != nil {
			ok, err = false, nil
		}
	}()
	return s.scheme.Verify(pk, message, signature, nil), nil
}

// KeyPair is a marshalled signing key pair.
type KeyPair struct {
	PublicKey  []byte
	PrivateKey []byte
}

// GenerateKey creates a fresh key pair. It exists for tests and operator
// tooling; wallets bring their own keys.
func (s *Scheme) GenerateKey() (KeyPair, error) {
	pk, sk, err := s.scheme.GenerateKey()
	if err != nil {
		return KeyPair{}, fmt.Errorf("generate %s key: %w", s.name, err)
	}
	pub, err := pk.MarshalBinary()
	if err != nil {
		return KeyPair{}, fmt.Errorf("marshal public key: %w", err)
	}
	priv, err := sk.MarshalBinary()
	if err != nil {
		return KeyPair{}, fmt.Errorf("marshal private key: %w", err)
	}
	return KeyPair{PublicKey: pub, PrivateKey: priv}, nil
}

// Sign signs message with a marshalled private key.
func (s *Scheme) Sign(privateKey, message []byte) ([]byte, error) {
	sk, err := s.scheme.UnmarshalBinaryPrivateKey(privateKey)
	if err != nil {
		return nil, fmt.Errorf("%w: private key: %v", ErrInvalidArgument, err)
	}
	return s.scheme.Sign(sk, message, nil), nil
}
