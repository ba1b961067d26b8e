package campaign

import "errors"

var (
	ErrUnauthorized        = errors.New("campaign: unauthorized")
	ErrCampaignNotFound    = errors.New("campaign: campaign not found")
	ErrInvalidCampaign     = errors.New("campaign: invalid campaign")
	ErrInvalidAmount       = errors.New("campaign: amount must be positive")
	ErrZeroOracle          = errors.New("campaign: oracle cannot be zero address")
	ErrEmptyRoot           = errors.New("campaign: merkle root cannot be empty")
	ErrInvalidAllocation   = errors.New("campaign: invalid allocation")
	ErrCampaignClosed      = errors.New("campaign: campaign is already closed")
	ErrResultsPublished    = errors.New("campaign: results already published")
	ErrResultsNotPublished = errors.New("campaign: results not published yet")
	ErrAlreadyClaimed      = errors.New("campaign: reward already claimed")
	ErrInvalidProof        = errors.New("campaign: invalid merkle proof")
	ErrEscrowTransfer      = errors.New("campaign: escrow transfer failed")
)
