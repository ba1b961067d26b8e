package gateway

import (
	"fmt"
	"math/big"
	"strings"

	"merklepay/crypto"
)

func parseAddress(raw string) ([20]byte, error) {
	return crypto.ParseAddress(raw)
}

func parseHash(raw string) ([32]byte, error) {
	return crypto.ParseHash(raw)
}

func parseAmount(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("amount required")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("amount %q is not a base-10 integer", raw)
	}
	return amount, nil
}

func hexAddress(addr [20]byte) string {
	return crypto.FormatAddress(addr)
}

func hexHash(hash [32]byte) string {
	return crypto.FormatHash(hash)
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
