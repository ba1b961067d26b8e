package campaign

import (
	"encoding/binary"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Campaign is the authoritative record of a funded reward pool. Everything
// except MerkleRoot, TotalAllocated and IsActive is immutable after
// creation; the root transitions zero → non-zero exactly once.
type Campaign struct {
	ID             uint64
	Brand          [20]byte
	RewardToken    string
	Budget         *big.Int
	EndTime        uint64
	IsActive       bool
	MerkleRoot     [32]byte
	TotalAllocated *big.Int
}

// ResultsPublished reports whether the oracle has committed an allocation
// set for this campaign.
func (c *Campaign) ResultsPublished() bool {
	return c.MerkleRoot != [32]byte{}
}

// RemainingBudget returns budget minus the published allocation.
func (c *Campaign) RemainingBudget() *big.Int {
	return new(big.Int).Sub(c.Budget, c.TotalAllocated)
}

// Clone produces a deep copy so callers cannot mutate ledger state through
// shared big.Int references.
func (c *Campaign) Clone() *Campaign {
	if c == nil {
		return nil
	}
	out := *c
	out.Budget = cloneBigInt(c.Budget)
	out.TotalAllocated = cloneBigInt(c.TotalAllocated)
	return &out
}

// Status is the derived projection served by read accessors.
type Status struct {
	ID               uint64
	HasEnded         bool
	ResultsPublished bool
	IsActive         bool
	RemainingBudget  *big.Int
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

var (
	counterKey = []byte("campaign/count")
	ownerKey   = []byte("campaign/owner")
	oracleKey  = []byte("campaign/oracle")
)

func campaignKey(id uint64) []byte {
	buf := make([]byte, 0, len("campaign/record/")+8)
	buf = append(buf, "campaign/record/"...)
	buf = binary.BigEndian.AppendUint64(buf, id)
	return buf
}

func claimKey(id uint64, recipient [20]byte) []byte {
	buf := make([]byte, 0, len("campaign/claim/")+8+len(recipient))
	buf = append(buf, "campaign/claim/"...)
	buf = binary.BigEndian.AppendUint64(buf, id)
	buf = append(buf, recipient[:]...)
	return buf
}

// EscrowAddress is the module account brands approve before creating a
// campaign; creation draws the budget from the brand through this principal.
func EscrowAddress() [20]byte {
	var addr [20]byte
	copy(addr[:], ethcrypto.Keccak256([]byte("campaign/escrow"))[12:])
	return addr
}

// VaultAddress derives the per-campaign account holding that campaign's
// escrowed budget. Keeping vaults separate stops one campaign's claims from
// draining another's escrow.
func VaultAddress(id uint64) [20]byte {
	buf := make([]byte, 0, len("campaign/vault/")+8)
	buf = append(buf, "campaign/vault/"...)
	buf = binary.BigEndian.AppendUint64(buf, id)
	var addr [20]byte
	copy(addr[:], ethcrypto.Keccak256(buf)[12:])
	return addr
}
