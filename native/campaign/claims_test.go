package campaign_test

import (
	"errors"
	"math/big"
	"testing"

	"merklepay/core/events"
	"merklepay/merkle"
	"merklepay/native/campaign"
	"merklepay/native/token"
	"merklepay/state"
)

type allocation struct {
	recipient [20]byte
	amount    *big.Int
}

// publishAllocations builds the commitment over the given allocations and
// publishes it as the oracle, returning per-recipient proofs.
func publishAllocations(t *testing.T, ledger *campaign.Ledger, id uint64, allocs []allocation) map[[20]byte][][32]byte {
	t.Helper()
	leaves := make([][32]byte, len(allocs))
	total := new(big.Int)
	for i, a := range allocs {
		leaf, err := merkle.LeafHash(a.recipient, a.amount)
		if err != nil {
			t.Fatalf("leaf %d: %v", i, err)
		}
		leaves[i] = leaf
		total.Add(total, a.amount)
	}
	tree, err := merkle.NewTree(leaves)
	if err != nil {
		t.Fatalf("build tree: %v", err)
	}
	if err := ledger.PublishResults(oracleAddr, id, tree.Root(), total); err != nil {
		t.Fatalf("publish: %v", err)
	}
	proofs := make(map[[20]byte][][32]byte, len(allocs))
	for i, a := range allocs {
		proof, err := tree.Proof(i)
		if err != nil {
			t.Fatalf("proof %d: %v", i, err)
		}
		proofs[a.recipient] = proof
	}
	return proofs
}

func balanceOf(t *testing.T, manager *state.Manager, addr [20]byte) *big.Int {
	t.Helper()
	var out *big.Int
	err := manager.View(func(tx *state.Tx) error {
		var err error
		out, err = token.BalanceOf(tx, testToken, addr)
		return err
	})
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return out
}

func TestClaimRewardSettlesAllocations(t *testing.T) {
	ledger, manager := newTestLedger(t)
	emitter := &capturingEmitter{}
	ledger.SetEmitter(emitter)
	id := mustCreate(t, ledger, 1000)

	allocs := []allocation{
		{addr(0x11), big.NewInt(100)},
		{addr(0x12), big.NewInt(150)},
		{addr(0x13), big.NewInt(75)},
	}
	proofs := publishAllocations(t, ledger, id, allocs)

	for _, a := range allocs {
		if err := ledger.ClaimReward(a.recipient, id, a.amount, proofs[a.recipient]); err != nil {
			t.Fatalf("claim for %x: %v", a.recipient, err)
		}
		if got := balanceOf(t, manager, a.recipient); got.Cmp(a.amount) != 0 {
			t.Fatalf("recipient %x holds %s, want %s", a.recipient, got, a.amount)
		}
		claimed, err := ledger.HasClaimed(id, a.recipient)
		if err != nil {
			t.Fatalf("hasClaimed: %v", err)
		}
		if !claimed {
			t.Fatalf("recipient %x not marked claimed", a.recipient)
		}
	}

	// 1000 escrowed, 325 paid out.
	if got := vaultBalance(t, manager, id); got.Cmp(big.NewInt(675)) != 0 {
		t.Fatalf("vault holds %s after payouts, want 675", got)
	}

	claimedEvents := 0
	for _, event := range emitter.events {
		if _, ok := event.(events.RewardClaimed); ok {
			claimedEvents++
		}
	}
	if claimedEvents != len(allocs) {
		t.Fatalf("expected %d claim events, got %d", len(allocs), claimedEvents)
	}
}

func TestClaimRewardRejectsDoubleClaim(t *testing.T) {
	ledger, manager := newTestLedger(t)
	id := mustCreate(t, ledger, 1000)

	recipient := addr(0x11)
	allocs := []allocation{
		{recipient, big.NewInt(100)},
		{addr(0x12), big.NewInt(150)},
	}
	proofs := publishAllocations(t, ledger, id, allocs)

	if err := ledger.ClaimReward(recipient, id, big.NewInt(100), proofs[recipient]); err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if err := ledger.ClaimReward(recipient, id, big.NewInt(100), proofs[recipient]); !errors.Is(err, campaign.ErrAlreadyClaimed) {
		t.Fatalf("second claim: expected ErrAlreadyClaimed, got %v", err)
	}
	if got := balanceOf(t, manager, recipient); got.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("double claim paid twice, balance = %s", got)
	}
}

func TestClaimRewardRejectsBadProofs(t *testing.T) {
	ledger, _ := newTestLedger(t)
	id := mustCreate(t, ledger, 1000)

	alice, bob := addr(0x11), addr(0x12)
	allocs := []allocation{
		{alice, big.NewInt(100)},
		{bob, big.NewInt(150)},
	}
	proofs := publishAllocations(t, ledger, id, allocs)

	// Another recipient's valid proof does not transfer.
	if err := ledger.ClaimReward(alice, id, big.NewInt(150), proofs[bob]); !errors.Is(err, campaign.ErrInvalidProof) {
		t.Fatalf("borrowed proof: expected ErrInvalidProof, got %v", err)
	}
	// The right proof bound to the wrong amount.
	if err := ledger.ClaimReward(alice, id, big.NewInt(101), proofs[alice]); !errors.Is(err, campaign.ErrInvalidProof) {
		t.Fatalf("inflated amount: expected ErrInvalidProof, got %v", err)
	}
	// Unlisted recipient with a real proof.
	if err := ledger.ClaimReward(addr(0x99), id, big.NewInt(100), proofs[alice]); !errors.Is(err, campaign.ErrInvalidProof) {
		t.Fatalf("unlisted recipient: expected ErrInvalidProof, got %v", err)
	}

	// Failed attempts must not leave a claim mark behind.
	claimed, err := ledger.HasClaimed(id, alice)
	if err != nil {
		t.Fatalf("hasClaimed: %v", err)
	}
	if claimed {
		t.Fatalf("rejected claim left a mark")
	}

	// The legitimate claim still goes through afterwards.
	if err := ledger.ClaimReward(alice, id, big.NewInt(100), proofs[alice]); err != nil {
		t.Fatalf("legitimate claim after rejections: %v", err)
	}
}

func TestClaimRewardGuards(t *testing.T) {
	ledger, _ := newTestLedger(t)
	id := mustCreate(t, ledger, 1000)

	proof := [][32]byte{nonZeroRoot(0x01)}
	if err := ledger.ClaimReward(addr(0x11), id, big.NewInt(0), proof); !errors.Is(err, campaign.ErrInvalidAmount) {
		t.Fatalf("zero amount: expected ErrInvalidAmount, got %v", err)
	}
	if err := ledger.ClaimReward(addr(0x11), id, nil, proof); !errors.Is(err, campaign.ErrInvalidAmount) {
		t.Fatalf("nil amount: expected ErrInvalidAmount, got %v", err)
	}
	if err := ledger.ClaimReward(addr(0x11), id, big.NewInt(100), proof); !errors.Is(err, campaign.ErrResultsNotPublished) {
		t.Fatalf("claim before publish: expected ErrResultsNotPublished, got %v", err)
	}
	if err := ledger.ClaimReward(addr(0x11), 999, big.NewInt(100), proof); !errors.Is(err, campaign.ErrCampaignNotFound) {
		t.Fatalf("unknown campaign: expected ErrCampaignNotFound, got %v", err)
	}
}

func TestClaimRewardSingleRecipient(t *testing.T) {
	ledger, manager := newTestLedger(t)
	id := mustCreate(t, ledger, 1000)

	recipient := addr(0x11)
	proofs := publishAllocations(t, ledger, id, []allocation{{recipient, big.NewInt(1000)}})

	// A single-leaf commitment verifies with an empty proof.
	if len(proofs[recipient]) != 0 {
		t.Fatalf("single leaf proof should be empty, got %d digests", len(proofs[recipient]))
	}
	if err := ledger.ClaimReward(recipient, id, big.NewInt(1000), proofs[recipient]); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if got := vaultBalance(t, manager, id); got.Sign() != 0 {
		t.Fatalf("vault should be drained, holds %s", got)
	}
}
