package oracled

import (
	"errors"
	"fmt"
	"math/big"
)

var (
	ErrNoEngagement = errors.New("oracled: no engagement entries")
	ErrOverBudget   = errors.New("oracled: allocation exceeds budget")
)

// Allocation is one recipient's computed share of a campaign budget.
type Allocation struct {
	Recipient [20]byte
	Amount    *big.Int
}

// Allocator turns an engagement snapshot into a reward mapping. The scoring
// function is externally supplied and opaque to the pipeline; the only
// contract is determinism for a given snapshot and a total that never
// exceeds the budget.
type Allocator interface {
	Allocate(snapshot *Snapshot, budget *big.Int) ([]Allocation, error)
}

// ProportionalAllocator splits the budget pro rata by score, flooring each
// share. The division remainder stays unallocated in escrow rather than
// being redistributed, so the result is reproducible without tie-break
// rules.
type ProportionalAllocator struct{}

// Allocate implements Allocator.
func (ProportionalAllocator) Allocate(snapshot *Snapshot, budget *big.Int) ([]Allocation, error) {
	if snapshot == nil || len(snapshot.Entries) == 0 {
		return nil, ErrNoEngagement
	}
	if budget == nil || budget.Sign() <= 0 {
		return nil, fmt.Errorf("oracled: budget must be positive")
	}
	totalScore := new(big.Int)
	for _, entry := range snapshot.Entries {
		totalScore.Add(totalScore, new(big.Int).SetUint64(entry.Score))
	}
	if totalScore.Sign() == 0 {
		return nil, fmt.Errorf("%w: all scores are zero", ErrNoEngagement)
	}
	allocations := make([]Allocation, 0, len(snapshot.Entries))
	for _, entry := range snapshot.Entries {
		share := new(big.Int).SetUint64(entry.Score)
		share.Mul(share, budget)
		share.Quo(share, totalScore)
		if share.Sign() == 0 {
			continue
		}
		allocations = append(allocations, Allocation{Recipient: entry.Recipient, Amount: share})
	}
	if len(allocations) == 0 {
		return nil, fmt.Errorf("%w: every share floored to zero", ErrNoEngagement)
	}
	return allocations, nil
}

// SumAllocations totals a reward mapping and checks it against the budget.
func SumAllocations(allocations []Allocation, budget *big.Int) (*big.Int, error) {
	total := new(big.Int)
	for _, allocation := range allocations {
		if allocation.Amount == nil || allocation.Amount.Sign() <= 0 {
			return nil, fmt.Errorf("oracled: allocation for %x must be positive", allocation.Recipient)
		}
		total.Add(total, allocation.Amount)
	}
	if budget != nil && total.Cmp(budget) > 0 {
		return nil, fmt.Errorf("%w: %s > %s", ErrOverBudget, total, budget)
	}
	return total, nil
}
