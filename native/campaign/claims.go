package campaign

import (
	"fmt"
	"math/big"

	"merklepay/core/events"
	"merklepay/merkle"
	"merklepay/native/token"
	"merklepay/state"
)

// ClaimReward pays out the caller's attested share of a campaign. The claim
// record is marked before the payout moves funds, so a reentrant call with
// the same proof observes claimed=true; if the payout fails the transaction
// rolls back and the mark is discarded with it.
func (l *Ledger) ClaimReward(caller [20]byte, id uint64, amount *big.Int, proof [][32]byte) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	err := l.st.Update(func(tx *state.Tx) error {
		record, err := loadCampaign(tx, id)
		if err != nil {
			return err
		}
		if !record.ResultsPublished() {
			return ErrResultsNotPublished
		}
		claimed, err := tx.KVHas(claimKey(id, caller))
		if err != nil {
			return err
		}
		if claimed {
			return ErrAlreadyClaimed
		}
		leaf, err := merkle.LeafHash(caller, amount)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidProof, err)
		}
		if !merkle.Verify(record.MerkleRoot, leaf, proof) {
			return ErrInvalidProof
		}
		if err := tx.KVPut(claimKey(id, caller), true); err != nil {
			return err
		}
		if err := token.Transfer(tx, record.RewardToken, VaultAddress(id), caller, amount); err != nil {
			return fmt.Errorf("%w: %v", ErrEscrowTransfer, err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	l.emit(events.RewardClaimed{
		ID:        id,
		Recipient: caller,
		Amount:    new(big.Int).Set(amount),
		Timestamp: l.nowFn(),
	})
	return nil
}

// HasClaimed reports whether the recipient has already been paid for the
// campaign. Unknown recipients simply report false; an unknown campaign id
// is an error.
func (l *Ledger) HasClaimed(id uint64, recipient [20]byte) (bool, error) {
	var claimed bool
	err := l.st.View(func(tx *state.Tx) error {
		if _, err := loadCampaign(tx, id); err != nil {
			return err
		}
		has, err := tx.KVHas(claimKey(id, recipient))
		if err != nil {
			return err
		}
		claimed = has
		return nil
	})
	return claimed, err
}
