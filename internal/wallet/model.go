package wallet

import "time"

// Balance encapsulates available funds for a wallet.
type Balance struct {
	Address string
	Amount  int64
	AsOf    time.Time
}

// CreateInput captures data required to register a wallet.
type CreateInput struct {
	Name         string
	PublicKey    []byte
	KEMPublicKey []byte
}

// KeyExchange is the server side of an ML-KEM encapsulation to a wallet.
type KeyExchange struct {
	Address      string
	Algorithm    string
	Ciphertext   []byte
	Confirmation []byte
	CreatedAt    time.Time
}
