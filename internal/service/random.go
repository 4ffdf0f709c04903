package service

import (
	"crypto/rand"
	"math/big"
	"strconv"
)

// randomDigits returns a random n-digit number as a string, first digit
// never zero. Panics if the system's cryptographic random number
// generator fails.
func randomDigits(n int) string {
	low := int64(1)
	for i := 1; i < n; i++ {
		low *= 10
	}
	r, err := rand.Int(rand.Reader, big.NewInt(9*low))
	if err != nil {
		panic("crypto/rand.Int failed: " + err.Error())
	}
	return strconv.FormatInt(low+r.Int64(), 10)
}
