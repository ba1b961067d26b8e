package campaign

import (
	"fmt"
	"math/big"

	"merklepay/core/events"
	"merklepay/state"
)

// Owner returns the principal allowed to rotate the oracle.
func (l *Ledger) Owner() ([20]byte, error) {
	var owner [20]byte
	err := l.st.View(func(tx *state.Tx) error {
		_, err := tx.KVGet(ownerKey, &owner)
		return err
	})
	return owner, err
}

// Oracle returns the currently designated oracle principal. The zero address
// means no oracle has been set.
func (l *Ledger) Oracle() ([20]byte, error) {
	var oracle [20]byte
	err := l.st.View(func(tx *state.Tx) error {
		_, err := tx.KVGet(oracleKey, &oracle)
		return err
	})
	return oracle, err
}

// SetOracle points the settlement authority at a new oracle identity. Only
// the owner may call; re-pointing an already-set oracle is allowed.
func (l *Ledger) SetOracle(caller, oracle [20]byte) error {
	if oracle == ([20]byte{}) {
		return ErrZeroOracle
	}
	var previous [20]byte
	err := l.st.Update(func(tx *state.Tx) error {
		var owner [20]byte
		if _, err := tx.KVGet(ownerKey, &owner); err != nil {
			return err
		}
		if caller != owner {
			return fmt.Errorf("%w: only the owner can set the oracle", ErrUnauthorized)
		}
		if _, err := tx.KVGet(oracleKey, &previous); err != nil {
			return err
		}
		return tx.KVPut(oracleKey, oracle)
	})
	if err != nil {
		return err
	}
	l.emit(events.OracleRotated{Previous: previous, Oracle: oracle})
	return nil
}

// PublishResults commits the final allocation set for a campaign. The root
// is write-once: a second publish for the same campaign always fails with
// ErrResultsPublished. Publishing also deactivates the campaign. The ledger
// deliberately does not require the campaign to have ended; the temporal
// gate is oracle policy, enforced in the pipeline.
func (l *Ledger) PublishResults(caller [20]byte, id uint64, root [32]byte, totalAllocated *big.Int) error {
	if root == ([32]byte{}) {
		return ErrEmptyRoot
	}
	if totalAllocated == nil || totalAllocated.Sign() <= 0 {
		return fmt.Errorf("%w: total must be greater than zero", ErrInvalidAllocation)
	}
	err := l.st.Update(func(tx *state.Tx) error {
		var oracle [20]byte
		if _, err := tx.KVGet(oracleKey, &oracle); err != nil {
			return err
		}
		if oracle == ([20]byte{}) || caller != oracle {
			return fmt.Errorf("%w: only the oracle can publish results", ErrUnauthorized)
		}
		record, err := loadCampaign(tx, id)
		if err != nil {
			return err
		}
		if record.ResultsPublished() {
			return ErrResultsPublished
		}
		if totalAllocated.Cmp(record.Budget) > 0 {
			return fmt.Errorf("%w: %s exceeds budget %s", ErrInvalidAllocation, totalAllocated, record.Budget)
		}
		record.MerkleRoot = root
		record.TotalAllocated = new(big.Int).Set(totalAllocated)
		record.IsActive = false
		return tx.KVPut(campaignKey(id), record)
	})
	if err != nil {
		return err
	}
	l.emit(events.ResultsPublished{
		ID:             id,
		MerkleRoot:     root,
		TotalAllocated: new(big.Int).Set(totalAllocated),
		Timestamp:      l.nowFn(),
	})
	return nil
}
