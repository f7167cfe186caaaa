package tonconnect

import (
	"fmt"
	"math/big"
)

// ParseNanotons parses a non-negative decimal amount of nanotons.
func ParseNanotons(s string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("amount %q is not a decimal integer", s)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("amount %q is negative", s)
	}
	return amount, nil
}
