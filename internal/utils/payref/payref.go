package payref

import (
	"crypto/rand"
	"math/big"
)

const (
	prefix  = "PAY-"
	charset = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	length  = 10
)

// New generates a payment reference like "PAY-7KQ2M9XR4T". The charset
// omits visually ambiguous characters (0/O, 1/I) since references appear
// on patient receipts.
func New() string {
	result := make([]byte, length)
	max := big.NewInt(int64(len(charset)))
	for i := range result {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand only fails when the OS entropy source is broken
			result[i] = charset[0]
			continue
		}
		result[i] = charset[n.Int64()]
	}
	return prefix + string(result)
}
