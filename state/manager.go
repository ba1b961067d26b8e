package state

import (
	"fmt"
	"sync"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"merklepay/storage"
)

// Manager is the single serialization point for the settlement ledger. Every
// mutation runs inside Update, which holds the manager lock and stages writes
// in memory until the callback returns; a failed callback discards the staged
// writes so no partial effects ever reach the backing store.
type Manager struct {
	mu sync.Mutex
	db storage.Database
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

// Update runs fn inside a write transaction. Effects are flushed to the
// database only if fn returns nil.
func (m *Manager) Update(fn func(tx *Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx := &Tx{db: m.db, writes: make(map[string][]byte)}
	if err := fn(tx); err != nil {
		return err
	}
	return tx.flush()
}

// View runs fn against a read-only snapshot of the store.
func (m *Manager) View(fn func(tx *Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(&Tx{db: m.db})
}

// Tx is a staged view over the database. Reads observe staged writes before
// falling through to the underlying store.
type Tx struct {
	db     storage.Database
	writes map[string][]byte
}

// KVGet decodes the value stored under key into out. It reports whether the
// key was present.
func (tx *Tx) KVGet(key []byte, out interface{}) (bool, error) {
	hashed := kvKey(key)
	if tx.writes != nil {
		if raw, ok := tx.writes[string(hashed)]; ok {
			if err := rlp.DecodeBytes(raw, out); err != nil {
				return false, fmt.Errorf("state: decode %q: %w", key, err)
			}
			return true, nil
		}
	}
	raw, err := tx.db.Get(hashed)
	if err != nil {
		if err == storage.ErrNotFound {
			return false, nil
		}
		return false, err
	}
	if err := rlp.DecodeBytes(raw, out); err != nil {
		return false, fmt.Errorf("state: decode %q: %w", key, err)
	}
	return true, nil
}

// KVPut encodes value and stages it under key.
func (tx *Tx) KVPut(key []byte, value interface{}) error {
	if tx.writes == nil {
		return fmt.Errorf("state: put inside read-only transaction")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return fmt.Errorf("state: encode %q: %w", key, err)
	}
	tx.writes[string(kvKey(key))] = encoded
	return nil
}

// KVHas reports whether key holds a value.
func (tx *Tx) KVHas(key []byte) (bool, error) {
	hashed := kvKey(key)
	if tx.writes != nil {
		if _, ok := tx.writes[string(hashed)]; ok {
			return true, nil
		}
	}
	return tx.db.Has(hashed)
}

func (tx *Tx) flush() error {
	for key, value := range tx.writes {
		if err := tx.db.Put([]byte(key), value); err != nil {
			return err
		}
	}
	return nil
}

func kvKey(key []byte) []byte {
	return ethcrypto.Keccak256(key)
}
