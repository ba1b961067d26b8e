package campaign

import (
	"fmt"
	"math/big"
	"time"

	"merklepay/core/events"
	"merklepay/native/token"
	"merklepay/state"
)

// Ledger is the authoritative campaign store plus the two capabilities
// attached to it: the owner (may rotate the oracle) and the oracle (may
// publish results). All mutations run as atomic transactions against the
// state manager; a failed call leaves no observable effects.
type Ledger struct {
	st      *state.Manager
	emitter events.Emitter
	nowFn   func() int64
}

// NewLedger constructs a ledger over the provided state manager. The owner
// capability is persisted on first construction; on restart the stored owner
// wins so the capability cannot be rebound by restarting with a different
// address.
func NewLedger(st *state.Manager, owner [20]byte) (*Ledger, error) {
	if st == nil {
		return nil, fmt.Errorf("campaign: state manager required")
	}
	l := &Ledger{
		st:      st,
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
	err := st.Update(func(tx *state.Tx) error {
		var stored [20]byte
		found, err := tx.KVGet(ownerKey, &stored)
		if err != nil {
			return err
		}
		if found {
			return nil
		}
		return tx.KVPut(ownerKey, owner)
	})
	if err != nil {
		return nil, err
	}
	return l, nil
}

// SetEmitter configures the event emitter. Passing nil resets it to a no-op
// implementation.
func (l *Ledger) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		l.emitter = events.NoopEmitter{}
		return
	}
	l.emitter = emitter
}

// SetNowFunc overrides the time source. Intended for tests.
func (l *Ledger) SetNowFunc(now func() int64) {
	if now == nil {
		l.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	l.nowFn = now
}

func (l *Ledger) emit(event events.Event) {
	if l.emitter == nil {
		return
	}
	l.emitter.Emit(event)
}

// CreateCampaign escrows budget units of rewardToken from the caller and
// stores a fresh campaign record. The caller becomes the campaign's brand.
// The escrow pull and the record write commit together or not at all.
func (l *Ledger) CreateCampaign(caller [20]byte, rewardToken string, budget *big.Int, endTime int64) (uint64, error) {
	if budget == nil || budget.Sign() <= 0 {
		return 0, fmt.Errorf("%w: budget must be greater than zero", ErrInvalidCampaign)
	}
	now := l.nowFn()
	if endTime <= now {
		return 0, fmt.Errorf("%w: end time must be in the future", ErrInvalidCampaign)
	}
	symbol, err := token.NormalizeSymbol(rewardToken)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidCampaign, err)
	}
	var id uint64
	err = l.st.Update(func(tx *state.Tx) error {
		var count uint64
		if _, err := tx.KVGet(counterKey, &count); err != nil {
			return err
		}
		id = count + 1
		record := &Campaign{
			ID:             id,
			Brand:          caller,
			RewardToken:    symbol,
			Budget:         new(big.Int).Set(budget),
			EndTime:        uint64(endTime),
			IsActive:       true,
			TotalAllocated: big.NewInt(0),
		}
		if err := token.TransferFrom(tx, symbol, EscrowAddress(), caller, VaultAddress(id), budget); err != nil {
			return fmt.Errorf("%w: %v", ErrEscrowTransfer, err)
		}
		if err := tx.KVPut(campaignKey(id), record); err != nil {
			return err
		}
		return tx.KVPut(counterKey, id)
	})
	if err != nil {
		return 0, err
	}
	l.emit(events.CampaignCreated{
		ID:          id,
		Brand:       caller,
		RewardToken: symbol,
		Budget:      new(big.Int).Set(budget),
		EndTime:     endTime,
	})
	return id, nil
}

// CloseCampaign deactivates a campaign. Only the owning brand may close,
// escrow and allocation fields are untouched, and there is no refund path:
// funds locked in a closed, unpublished campaign can only exit through a
// later PublishResults.
func (l *Ledger) CloseCampaign(caller [20]byte, id uint64) error {
	var brand [20]byte
	err := l.st.Update(func(tx *state.Tx) error {
		record, err := loadCampaign(tx, id)
		if err != nil {
			return err
		}
		if record.Brand != caller {
			return fmt.Errorf("%w: only the campaign brand can close", ErrUnauthorized)
		}
		if !record.IsActive {
			return ErrCampaignClosed
		}
		record.IsActive = false
		brand = record.Brand
		return tx.KVPut(campaignKey(id), record)
	})
	if err != nil {
		return err
	}
	l.emit(events.CampaignClosed{ID: id, Brand: brand, Timestamp: l.nowFn()})
	return nil
}

// GetCampaign returns a deep copy of the stored record.
func (l *Ledger) GetCampaign(id uint64) (*Campaign, error) {
	var record *Campaign
	err := l.st.View(func(tx *state.Tx) error {
		loaded, err := loadCampaign(tx, id)
		if err != nil {
			return err
		}
		record = loaded.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// GetCampaignStatus projects the derived lifecycle view of a campaign.
func (l *Ledger) GetCampaignStatus(id uint64) (*Status, error) {
	record, err := l.GetCampaign(id)
	if err != nil {
		return nil, err
	}
	return &Status{
		ID:               record.ID,
		HasEnded:         uint64(l.nowFn()) >= record.EndTime,
		ResultsPublished: record.ResultsPublished(),
		IsActive:         record.IsActive,
		RemainingBudget:  record.RemainingBudget(),
	}, nil
}

// CampaignCount returns the number of campaigns ever created.
func (l *Ledger) CampaignCount() (uint64, error) {
	var count uint64
	err := l.st.View(func(tx *state.Tx) error {
		_, err := tx.KVGet(counterKey, &count)
		return err
	})
	return count, err
}

func loadCampaign(tx *state.Tx, id uint64) (*Campaign, error) {
	if id == 0 {
		return nil, fmt.Errorf("%w: id 0", ErrCampaignNotFound)
	}
	record := new(Campaign)
	found, err := tx.KVGet(campaignKey(id), record)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: id %d", ErrCampaignNotFound, id)
	}
	return record, nil
}
