package random

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// IntN returns a cryptographically secure integer in [0, n).
func IntN(n int) (int, error) {
	if n <= 0 {
		return 0, fmt.Errorf("invalid bound %d", n)
	}
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, fmt.Errorf("failed to generate random number: %w", err)
	}
	return int(v.Int64()), nil
}

// Digits returns count independent values in [0, 10).
func Digits(count int) ([]int, error) {
	out := make([]int, count)
	for i := range out {
		d, err := IntN(10)
		if err != nil {
			return nil, err
		}
		out[i] = d
	}
	return out, nil
}
