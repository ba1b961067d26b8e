package events

import "math/big"

const (
	// TypeCampaignCreated is emitted when a brand funds a new campaign.
	TypeCampaignCreated = "campaign.created"
	// TypeCampaignClosed is emitted when a brand closes its campaign before
	// results are published.
	TypeCampaignClosed = "campaign.closed"
	// TypeOracleRotated is emitted when the owner points the settlement
	// authority at a new oracle identity.
	TypeOracleRotated = "campaign.oracle.rotated"
	// TypeResultsPublished is emitted when the oracle commits the final
	// allocation set for a campaign.
	TypeResultsPublished = "campaign.results.published"
	// TypeRewardClaimed is emitted when a recipient proves membership and is
	// paid out.
	TypeRewardClaimed = "campaign.reward.claimed"
)

// CampaignCreated captures the full initial record of a new campaign.
type CampaignCreated struct {
	ID          uint64
	Brand       [20]byte
	RewardToken string
	Budget      *big.Int
	EndTime     int64
}

func (CampaignCreated) EventType() string { return TypeCampaignCreated }

// CampaignClosed records an administrative close by the owning brand.
type CampaignClosed struct {
	ID        uint64
	Brand     [20]byte
	Timestamp int64
}

func (CampaignClosed) EventType() string { return TypeCampaignClosed }

// OracleRotated records a change of the designated oracle principal.
type OracleRotated struct {
	Previous [20]byte
	Oracle   [20]byte
}

func (OracleRotated) EventType() string { return TypeOracleRotated }

// ResultsPublished records the one-time commitment of a campaign's
// allocation set.
type ResultsPublished struct {
	ID             uint64
	MerkleRoot     [32]byte
	TotalAllocated *big.Int
	Timestamp      int64
}

func (ResultsPublished) EventType() string { return TypeResultsPublished }

// RewardClaimed records a successful, proof-backed payout.
type RewardClaimed struct {
	ID        uint64
	Recipient [20]byte
	Amount    *big.Int
	Timestamp int64
}

func (RewardClaimed) EventType() string { return TypeRewardClaimed }
