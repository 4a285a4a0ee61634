package ledger

import (
	"encoding/binary"
	"encoding/hex"
	"hash"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/crypto/sha3"
)

// Status is the lifecycle state of a transaction.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Wallet is a ledger account identified by an address derived from its
// signing key.
type Wallet struct {
	Address      string
	Name         string
	PublicKey    []byte
	KEMPublicKey []byte
	Algorithm    string
	Balance      int64
	CreatedAt    time.Time
}

// NewWallet carries the data needed to register a wallet. Address must
// already be derived from PublicKey.
type NewWallet struct {
	Address      string
	Name         string
	PublicKey    []byte
	KEMPublicKey []byte
	Algorithm    string
}

// TransferInput describes an authenticated transfer to apply.
type TransferInput struct {
	From        string
	To          string
	Amount      int64
	Description string
	Nonce       int64
	Signature   []byte
}

// Transaction is an immutable entry of the transaction log.
type Transaction struct {
	ID            string
	From          string
	To            string
	Amount        int64
	Description   string
	Nonce         int64
	Signature     []byte
	Status        Status
	FailureReason string
	Hash          string
	CreatedAt     time.Time
}

// TransferResult captures the outcome of a ledger posting.
type TransferResult struct {
	Transaction Transaction
	FromBalance int64
	ToBalance   int64
}

// ComputeHash returns the tamper-evidence hash of tx: hex SHA3-256 over a
// length-prefixed encoding of every immutable field except the identifier.
func ComputeHash(tx Transaction) string {
	h := sha3.New256()
	writeField(h, []byte(tx.From))
	writeField(h, []byte(tx.To))
	writeInt(h, tx.Amount)
	writeField(h, []byte(tx.Description))
	writeInt(h, tx.Nonce)
	writeField(h, tx.Signature)
	writeField(h, []byte(tx.Status))
	writeField(h, []byte(tx.FailureReason))
	writeInt(h, tx.CreatedAt.UTC().UnixMicro())
	return hex.EncodeToString(h.Sum(nil))
}

// VerifyHash reports whether tx.Hash matches its fields.
func VerifyHash(tx Transaction) bool {
	return tx.Hash != "" && tx.Hash == ComputeHash(tx)
}

func writeField(h hash.Hash, b []byte) {
	var n [4]byte
	binary.BigEndian.PutUint32(n[:], uint32(len(b)))
	h.Write(n[:])
	h.Write(b)
}

func writeInt(h hash.Hash, v int64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	h.Write(b[:])
}

// newTransactionID returns a time-ordered identifier.
func newTransactionID() string {
	return ulid.Make().String()
}

// seal assigns identifier, timestamp and hash to a new log entry.
func seal(tx Transaction, now time.Time) Transaction {
	tx.ID = newTransactionID()
	tx.CreatedAt = now
	tx.Hash = ComputeHash(tx)
	return tx
}
