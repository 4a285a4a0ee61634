package transfer

import "strconv"

const messageDomain = "qrpay:transfer:v1"

// CanonicalMessage returns the bytes a sender signs to authorize a transfer.
// Fields are joined in a fixed order so that client and server agree on the
// exact byte sequence.
func CanonicalMessage(from, to string, amount, nonce int64, description string) []byte {
	b := make([]byte, 0, len(messageDomain)+len(from)+len(to)+len(description)+48)
	b = append(b, messageDomain...)
	b = append(b, '|')
	b = append(b, from...)
	b = append(b, '|')
	b = append(b, to...)
	b = append(b, '|')
	b = strconv.AppendInt(b, amount, 10)
	b = append(b, '|')
	b = strconv.AppendInt(b, nonce, 10)
	b = append(b, '|')
	b = append(b, description...)
	return b
}
