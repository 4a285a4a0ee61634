package pqcrypto

import (
	"fmt"

	"github.com/cloudflare/circl/kem"
	"github.com/cloudflare/circl/kem/mlkem/mlkem768"
	"golang.org/x/crypto/sha3"
)

// KeyExchanger is the optional key-encapsulation capability. It is not used
// on the transfer path.
type KeyExchanger interface {
	Algorithm() string
	ValidatePublicKey(publicKey []byte) error
	// Encapsulate derives a fresh shared secret for the holder of publicKey.
	Encapsulate(publicKey []byte) (Encapsulation, error)
	Decapsulate(privateKey, ciphertext []byte) ([]byte, error)
}

// Encapsulation is the result of a key encapsulation.
type Encapsulation struct {
	Ciphertext   []byte
	SharedSecret []byte
}

// Confirmation returns a key-confirmation tag for the shared secret so a peer
// can check it decapsulated the same value without revealing it.
func (e Encapsulation) Confirmation() []byte {
	return ConfirmationTag(e.SharedSecret)
}

// ConfirmationTag hashes a shared secret under a fixed domain label.
func ConfirmationTag(sharedSecret []byte) []byte {
	h := sha3.New256()
	h.Write([]byte("qrpay:kem-confirm:v1"))
	h.Write(sharedSecret)
	return h.Sum(nil)
}

// MLKEM adapts CIRCL's ML-KEM-768 to KeyExchanger.
type MLKEM struct {
	scheme kem.Scheme
}

var _ KeyExchanger = (*MLKEM)(nil)

// NewMLKEM768 returns the ML-KEM-768 adapter.
func NewMLKEM768() *MLKEM {
	return &MLKEM{scheme: mlkem768.Scheme()}
}

// Algorithm implements KeyExchanger.
func (m *MLKEM) Algorithm() string { return m.scheme.Name() }

// ValidatePublicKey implements KeyExchanger.
func (m *MLKEM) ValidatePublicKey(publicKey []byte) error {
	if len(publicKey) == 0 {
		return fmt.Errorf("%w: empty key-exchange public key", ErrInvalidArgument)
	}
	if _, err := m.scheme.UnmarshalBinaryPublicKey(publicKey); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidPublicKey, m.scheme.Name(), err)
	}
	return nil
}

// Encapsulate implements KeyExchanger.
func (m *MLKEM) Encapsulate(publicKey []byte) (Encapsulation, error) {
	pk, err := m.scheme.UnmarshalBinaryPublicKey(publicKey)
	if err != nil {
		return Encapsulation{}, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	ct, ss, err := m.scheme.Encapsulate(pk)
	if err != nil {
		return Encapsulation{}, fmt.Errorf("encapsulate: %w", err)
	}
	return Encapsulation{Ciphertext: ct, SharedSecret: ss}, nil
}

// Decapsulate implements KeyExchanger.
func (m *MLKEM) Decapsulate(privateKey, ciphertext []byte) ([]byte, error) {
	sk, err := m.scheme.UnmarshalBinaryPrivateKey(privateKey)
	if err != nil {
		return nil, fmt.Errorf("%w: private key: %v", ErrInvalidArgument, err)
	}
	if len(ciphertext) != m.scheme.CiphertextSize() {
		return nil, fmt.Errorf("%w: ciphertext must be %d bytes", ErrInvalidArgument, m.scheme.CiphertextSize())
	}
	ss, err := m.scheme.Decapsulate(sk, ciphertext)
	if err != nil {
		return nil, fmt.Errorf("decapsulate: %w", err)
	}
	return ss, nil
}

// GenerateKeyPair creates a marshalled ML-KEM key pair for tests and tooling.
func (m *MLKEM) GenerateKeyPair() (KeyPair, error) {
	pk, sk, err := m.scheme.GenerateKeyPair()
	if err != nil {
		return KeyPair{}, fmt.Errorf("generate %s key: %w", m.scheme.Name(), err)
	}
	pub, err := pk.MarshalBinary()
	if err != nil {
		return KeyPair{}, err
	}
	priv, err := sk.MarshalBinary()
	if err != nil {
		return KeyPair{}, err
	}
	return KeyPair{PublicKey: pub, PrivateKey: priv}, nil
}
