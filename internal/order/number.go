package order

import (
	"crypto/rand"
	"math/big"
	"strconv"
	"strings"
	"time"
)

const (
	numberPrefix       = "SH"
	numberSuffixLength = 5
	base36Alphabet     = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
)

// NewOrderNumber returns a human readable order reference of the form
// SH-<base36 unix millis>-<5 random base36 chars>. It is not a primary key.
func NewOrderNumber(now time.Time) (string, error) {
	var suffix strings.Builder
	radix := big.NewInt(int64(len(base36Alphabet)))
	for range numberSuffixLength {
		n, err := rand.Int(rand.Reader, radix)
		if err != nil {
			return "", err
		}
		suffix.WriteByte(base36Alphabet[n.Int64()])
	}

	stamp := strings.ToUpper(strconv.FormatInt(now.UnixMilli(), 36))
	return numberPrefix + "-" + stamp + "-" + suffix.String(), nil
}
