// Package crypto holds the byte-level identity helpers shared by the ledger,
// the gateway, and the oracle pipeline.
package crypto

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// ParseAddress normalises and validates a 20-byte principal expressed as a
// hex string with optional 0x prefix.
func ParseAddress(raw string) ([20]byte, error) {
	var addr [20]byte
	trimmed := strip0x(raw)
	if len(trimmed) != 40 {
		return addr, fmt.Errorf("crypto: address must be 20 bytes (got %d hex chars)", len(trimmed))
	}
	decoded, err := hex.DecodeString(trimmed)
	if err != nil {
		return addr, fmt.Errorf("crypto: decode address: %w", err)
	}
	copy(addr[:], decoded)
	return addr, nil
}

// ParseHash normalises and validates a 32-byte digest expressed as a hex
// string with optional 0x prefix.
func ParseHash(raw string) ([32]byte, error) {
	var hash [32]byte
	trimmed := strip0x(raw)
	if len(trimmed) != 64 {
		return hash, fmt.Errorf("crypto: hash must be 32 bytes (got %d hex chars)", len(trimmed))
	}
	decoded, err := hex.DecodeString(trimmed)
	if err != nil {
		return hash, fmt.Errorf("crypto: decode hash: %w", err)
	}
	copy(hash[:], decoded)
	return hash, nil
}

// FormatAddress renders a principal as 0x-prefixed hex.
func FormatAddress(addr [20]byte) string {
	return "0x" + hex.EncodeToString(addr[:])
}

// FormatHash renders a digest as 0x-prefixed hex.
func FormatHash(hash [32]byte) string {
	return "0x" + hex.EncodeToString(hash[:])
}

func strip0x(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "0x") || strings.HasPrefix(trimmed, "0X") {
		trimmed = trimmed[2:]
	}
	return trimmed
}
