package token

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"merklepay/state"
)

var (
	ErrTokenExists          = errors.New("token: already registered")
	ErrTokenNotFound        = errors.New("token: not registered")
	ErrInvalidSymbol        = errors.New("token: invalid symbol")
	ErrInvalidAmount        = errors.New("token: amount must be positive")
	ErrInsufficientBalance  = errors.New("token: insufficient balance")
	ErrInsufficientAllowance = errors.New("token: insufficient allowance")
)

// Metadata captures the registration record for a transferable asset.
type Metadata struct {
	Symbol   string
	Name     string
	Decimals uint8
}

func metadataKey(symbol string) []byte {
	return []byte("token/meta/" + symbol)
}

func balanceKey(symbol string, addr [20]byte) []byte {
	buf := make([]byte, 0, len("token/balance/")+len(symbol)+1+len(addr))
	buf = append(buf, "token/balance/"...)
	buf = append(buf, symbol...)
	buf = append(buf, ':')
	buf = append(buf, addr[:]...)
	return buf
}

func allowanceKey(symbol string, owner, spender [20]byte) []byte {
	buf := make([]byte, 0, len("token/allowance/")+len(symbol)+1+len(owner)+len(spender))
	buf = append(buf, "token/allowance/"...)
	buf = append(buf, symbol...)
	buf = append(buf, ':')
	buf = append(buf, owner[:]...)
	buf = append(buf, spender[:]...)
	return buf
}

// NormalizeSymbol canonicalises a token symbol for storage keys.
func NormalizeSymbol(symbol string) (string, error) {
	trimmed := strings.ToUpper(strings.TrimSpace(symbol))
	if trimmed == "" {
		return "", fmt.Errorf("%w: symbol required", ErrInvalidSymbol)
	}
	return trimmed, nil
}

// Register stores the metadata for a new token symbol.
func Register(tx *state.Tx, meta Metadata) error {
	symbol, err := NormalizeSymbol(meta.Symbol)
	if err != nil {
		return err
	}
	meta.Symbol = symbol
	existing := new(Metadata)
	found, err := tx.KVGet(metadataKey(symbol), existing)
	if err != nil {
		return err
	}
	if found {
		return fmt.Errorf("%w: %s", ErrTokenExists, symbol)
	}
	return tx.KVPut(metadataKey(symbol), &meta)
}

// Exists reports whether a token symbol has been registered.
func Exists(tx *state.Tx, symbol string) (bool, error) {
	normalized, err := NormalizeSymbol(symbol)
	if err != nil {
		return false, err
	}
	return tx.KVHas(metadataKey(normalized))
}

// BalanceOf returns the balance held by addr. Unknown accounts hold zero.
func BalanceOf(tx *state.Tx, symbol string, addr [20]byte) (*big.Int, error) {
	normalized, err := NormalizeSymbol(symbol)
	if err != nil {
		return nil, err
	}
	balance := new(big.Int)
	if _, err := tx.KVGet(balanceKey(normalized, addr), balance); err != nil {
		return nil, err
	}
	return balance, nil
}

// Allowance returns how much spender may draw from owner's balance.
func Allowance(tx *state.Tx, symbol string, owner, spender [20]byte) (*big.Int, error) {
	normalized, err := NormalizeSymbol(symbol)
	if err != nil {
		return nil, err
	}
	allowance := new(big.Int)
	if _, err := tx.KVGet(allowanceKey(normalized, owner, spender), allowance); err != nil {
		return nil, err
	}
	return allowance, nil
}

// Mint credits amount to addr, creating supply out of thin air. Intended for
// genesis funding and tests.
func Mint(tx *state.Tx, symbol string, addr [20]byte, amount *big.Int) error {
	normalized, err := requireToken(tx, symbol)
	if err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	return credit(tx, normalized, addr, amount)
}

// Approve sets spender's allowance over owner's balance. A zero amount
// revokes the allowance.
func Approve(tx *state.Tx, symbol string, owner, spender [20]byte, amount *big.Int) error {
	normalized, err := requireToken(tx, symbol)
	if err != nil {
		return err
	}
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	return tx.KVPut(allowanceKey(normalized, owner, spender), amount)
}

// Transfer moves amount from one account to another.
func Transfer(tx *state.Tx, symbol string, from, to [20]byte, amount *big.Int) error {
	normalized, err := requireToken(tx, symbol)
	if err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if err := debit(tx, normalized, from, amount); err != nil {
		return err
	}
	return credit(tx, normalized, to, amount)
}

// TransferFrom moves amount from owner to recipient on behalf of spender,
// consuming allowance.
func TransferFrom(tx *state.Tx, symbol string, spender, owner, recipient [20]byte, amount *big.Int) error {
	normalized, err := requireToken(tx, symbol)
	if err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	allowance := new(big.Int)
	if _, err := tx.KVGet(allowanceKey(normalized, owner, spender), allowance); err != nil {
		return err
	}
	if allowance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientAllowance, allowance, amount)
	}
	if err := debit(tx, normalized, owner, amount); err != nil {
		return err
	}
	if err := tx.KVPut(allowanceKey(normalized, owner, spender), new(big.Int).Sub(allowance, amount)); err != nil {
		return err
	}
	return credit(tx, normalized, recipient, amount)
}

func requireToken(tx *state.Tx, symbol string) (string, error) {
	normalized, err := NormalizeSymbol(symbol)
	if err != nil {
		return "", err
	}
	exists, err := tx.KVHas(metadataKey(normalized))
	if err != nil {
		return "", err
	}
	if !exists {
		return "", fmt.Errorf("%w: %s", ErrTokenNotFound, normalized)
	}
	return normalized, nil
}

func credit(tx *state.Tx, symbol string, addr [20]byte, amount *big.Int) error {
	balance := new(big.Int)
	if _, err := tx.KVGet(balanceKey(symbol, addr), balance); err != nil {
		return err
	}
	return tx.KVPut(balanceKey(symbol, addr), new(big.Int).Add(balance, amount))
}

func debit(tx *state.Tx, symbol string, addr [20]byte, amount *big.Int) error {
	balance := new(big.Int)
	if _, err := tx.KVGet(balanceKey(symbol, addr), balance); err != nil {
		return err
	}
	if balance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientBalance, balance, amount)
	}
	return tx.KVPut(balanceKey(symbol, addr), new(big.Int).Sub(balance, amount))
}
