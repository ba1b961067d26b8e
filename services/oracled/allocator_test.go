package oracled

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

func testAddr(last byte) [20]byte {
	var a [20]byte
	a[19] = last
	return a
}

func TestProportionalAllocatorSplitsProRata(t *testing.T) {
	snapshot := &Snapshot{
		CampaignID: 1,
		Entries: []Entry{
			{Recipient: testAddr(0x01), Score: 40},
			{Recipient: testAddr(0x02), Score: 60},
			{Recipient: testAddr(0x03), Score: 30},
		},
	}
	allocations, err := ProportionalAllocator{}.Allocate(snapshot, big.NewInt(1000))
	require.NoError(t, err)
	require.Len(t, allocations, 3)

	// 1000 * 40/130 = 307, 1000 * 60/130 = 461, 1000 * 30/130 = 230.
	require.Equal(t, "307", allocations[0].Amount.String())
	require.Equal(t, "461", allocations[1].Amount.String())
	require.Equal(t, "230", allocations[2].Amount.String())

	total, err := SumAllocations(allocations, big.NewInt(1000))
	require.NoError(t, err)
	require.Equal(t, "998", total.String(), "floor remainder stays unallocated")
}

func TestProportionalAllocatorDeterminism(t *testing.T) {
	snapshot := &Snapshot{
		CampaignID: 1,
		Entries: []Entry{
			{Recipient: testAddr(0x01), Score: 7},
			{Recipient: testAddr(0x02), Score: 13},
			{Recipient: testAddr(0x03), Score: 1},
		},
	}
	first, err := ProportionalAllocator{}.Allocate(snapshot, big.NewInt(999))
	require.NoError(t, err)
	second, err := ProportionalAllocator{}.Allocate(snapshot, big.NewInt(999))
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestProportionalAllocatorSkipsZeroShares(t *testing.T) {
	snapshot := &Snapshot{
		CampaignID: 1,
		Entries: []Entry{
			{Recipient: testAddr(0x01), Score: 1},
			{Recipient: testAddr(0x02), Score: 1_000_000},
		},
	}
	allocations, err := ProportionalAllocator{}.Allocate(snapshot, big.NewInt(10))
	require.NoError(t, err)
	require.Len(t, allocations, 1, "floored-to-zero shares are dropped")
	require.Equal(t, testAddr(0x02), allocations[0].Recipient)
}

func TestProportionalAllocatorRejectsEmptyInput(t *testing.T) {
	_, err := ProportionalAllocator{}.Allocate(nil, big.NewInt(10))
	require.ErrorIs(t, err, ErrNoEngagement)

	_, err = ProportionalAllocator{}.Allocate(&Snapshot{CampaignID: 1}, big.NewInt(10))
	require.ErrorIs(t, err, ErrNoEngagement)

	snapshot := &Snapshot{
		CampaignID: 1,
		Entries:    []Entry{{Recipient: testAddr(0x01), Score: 0}},
	}
	_, err = ProportionalAllocator{}.Allocate(snapshot, big.NewInt(10))
	require.ErrorIs(t, err, ErrNoEngagement)
}

func TestSumAllocationsEnforcesBudget(t *testing.T) {
	allocations := []Allocation{
		{Recipient: testAddr(0x01), Amount: big.NewInt(600)},
		{Recipient: testAddr(0x02), Amount: big.NewInt(500)},
	}
	_, err := SumAllocations(allocations, big.NewInt(1000))
	require.ErrorIs(t, err, ErrOverBudget)

	total, err := SumAllocations(allocations, big.NewInt(1100))
	require.NoError(t, err)
	require.Equal(t, "1100", total.String())

	_, err = SumAllocations([]Allocation{{Recipient: testAddr(0x01), Amount: big.NewInt(0)}}, big.NewInt(10))
	require.Error(t, err)
}
