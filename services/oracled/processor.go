package oracled

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"path/filepath"
	"time"

	"merklepay/crypto"
	"merklepay/merkle"
	"merklepay/native/campaign"
	"merklepay/observability"
)

// Processor is the oracle computation pipeline: it watches the ledger for
// ended campaigns without published results, computes the allocation set,
// builds the commitment, and publishes it. It is safe to restart at any
// point because publishing is idempotent against the write-once root.
type Processor struct {
	client    LedgerClient
	source    EngagementSource
	allocator Allocator
	logger    *slog.Logger
	metrics   *observability.OracledMetrics

	proofDir     string
	pollInterval time.Duration
	maxAttempts  int
	backoff      time.Duration
	maxBackoff   time.Duration
	now          func() time.Time
}

// ProcessorOption customises the processor instance.
type ProcessorOption func(*Processor)

// WithAllocator overrides the default proportional allocator.
func WithAllocator(a Allocator) ProcessorOption {
	return func(p *Processor) { p.allocator = a }
}

// WithLogger supplies a structured logger.
func WithLogger(logger *slog.Logger) ProcessorOption {
	return func(p *Processor) { p.logger = logger }
}

// WithProofDir sets the directory where claim proof bundles are exported.
func WithProofDir(dir string) ProcessorOption {
	return func(p *Processor) { p.proofDir = dir }
}

// WithPollInterval configures the ledger polling cadence.
func WithPollInterval(interval time.Duration) ProcessorOption {
	return func(p *Processor) { p.pollInterval = interval }
}

// WithRetry configures the transient-failure retry policy.
func WithRetry(maxAttempts int, initial, max time.Duration) ProcessorOption {
	return func(p *Processor) {
		p.maxAttempts = maxAttempts
		p.backoff = initial
		p.maxBackoff = max
	}
}

// WithClock sets the time source. Intended for tests.
func WithClock(now func() time.Time) ProcessorOption {
	return func(p *Processor) { p.now = now }
}

// NewProcessor constructs a pipeline over the supplied ledger client and
// engagement source.
func NewProcessor(client LedgerClient, source EngagementSource, opts ...ProcessorOption) *Processor {
	p := &Processor{
		client:       client,
		source:       source,
		allocator:    ProportionalAllocator{},
		logger:       slog.Default(),
		metrics:      observability.Oracled(),
		pollInterval: 30 * time.Second,
		maxAttempts:  5,
		backoff:      time.Second,
		maxBackoff:   time.Minute,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run polls the ledger until ctx is cancelled.
func (p *Processor) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()
	for {
		if err := p.Sweep(ctx); err != nil {
			p.logger.Error("sweep failed", "err", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Sweep settles every campaign that has ended without published results.
// Campaigns that fail permanently are logged and skipped so one poisoned
// campaign cannot wedge the rest.
func (p *Processor) Sweep(ctx context.Context) error {
	count, err := p.client.CampaignCount(ctx)
	if err != nil {
		p.metrics.RecordError("list")
		return fmt.Errorf("oracled: campaign count: %w", err)
	}
	pending := 0
	for id := uint64(1); id <= count; id++ {
		view, err := p.client.Campaign(ctx, id)
		if err != nil {
			p.metrics.RecordError("fetch")
			p.logger.Error("fetch campaign failed", "campaign", id, "err", err)
			continue
		}
		if !view.HasEnded || view.ResultsPublished {
			continue
		}
		pending++
		if err := p.Settle(ctx, view); err != nil {
			p.logger.Error("settle failed", "campaign", id, "err", err)
			continue
		}
		pending--
	}
	p.metrics.SetPending(pending)
	return nil
}

// Settle computes and publishes the allocation set for one ended campaign.
func (p *Processor) Settle(ctx context.Context, view *CampaignView) error {
	if !view.HasEnded {
		return fmt.Errorf("oracled: campaign %d has not ended", view.ID)
	}
	start := p.now()

	snapshot, err := p.source.Snapshot(ctx, view.ID)
	if err != nil {
		p.metrics.RecordError("engagement")
		return err
	}
	allocations, err := p.allocator.Allocate(snapshot, view.Budget)
	if err != nil {
		p.metrics.RecordError("allocate")
		return err
	}
	total, err := SumAllocations(allocations, view.Budget)
	if err != nil {
		p.metrics.RecordError("allocate")
		return err
	}

	leaves := make([][32]byte, len(allocations))
	for i, allocation := range allocations {
		leaf, err := merkle.LeafHash(allocation.Recipient, allocation.Amount)
		if err != nil {
			p.metrics.RecordError("commit")
			return err
		}
		leaves[i] = leaf
	}
	tree, err := merkle.NewTree(leaves)
	if err != nil {
		p.metrics.RecordError("commit")
		return err
	}
	root := tree.Root()

	if err := p.publish(ctx, view.ID, root, total); err != nil {
		return err
	}
	p.metrics.ObservePublish("ok", p.now().Sub(start))
	p.logger.Info("results published",
		"campaign", view.ID,
		"root", crypto.FormatHash(root),
		"totalAllocated", total.String(),
		"recipients", len(allocations),
	)

	if p.proofDir != "" {
		if err := p.exportProofs(view.ID, root, total.String(), allocations, tree); err != nil {
			// Publication already landed; losing the export is recoverable by
			// recomputing from the same snapshot.
			p.logger.Error("proof export failed", "campaign", view.ID, "err", err)
		}
	}
	return nil
}

// publish submits the commitment, retrying transient failures with
// exponential backoff. An already-published rejection is idempotent success;
// permanent rejections surface immediately and are never retried.
func (p *Processor) publish(ctx context.Context, id uint64, root [32]byte, total *big.Int) error {
	delay := p.backoff
	var lastErr error
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		err := p.client.PublishResults(ctx, id, root, total)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, campaign.ErrResultsPublished):
			// A previous run (or a crash-restart race) already committed this
			// campaign. The root is final either way.
			p.metrics.ObservePublish("already_published", 0)
			p.logger.Info("results already published", "campaign", id)
			return nil
		case errors.Is(err, ErrPermanent):
			p.metrics.RecordError("publish_permanent")
			return err
		}
		lastErr = err
		p.metrics.RecordError("publish_transient")
		p.logger.Warn("publish attempt failed",
			"campaign", id, "attempt", attempt, "err", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > p.maxBackoff {
			delay = p.maxBackoff
		}
	}
	return fmt.Errorf("oracled: publish campaign %d: %w", id, lastErr)
}

type proofBundle struct {
	CampaignID     uint64       `json:"campaignId"`
	MerkleRoot     string       `json:"merkleRoot"`
	TotalAllocated string       `json:"totalAllocated"`
	Claims         []proofClaim `json:"claims"`
}

type proofClaim struct {
	Recipient string   `json:"recipient"`
	Amount    string   `json:"amount"`
	Proof     []string `json:"proof"`
}

// exportProofs writes the full (recipient, amount, proof) set as JSON so the
// distribution channel can hand each recipient its claim material.
func (p *Processor) exportProofs(id uint64, root [32]byte, total string, allocations []Allocation, tree *merkle.Tree) error {
	bundle := proofBundle{
		CampaignID:     id,
		MerkleRoot:     crypto.FormatHash(root),
		TotalAllocated: total,
		Claims:         make([]proofClaim, 0, len(allocations)),
	}
	for i, allocation := range allocations {
		proof, err := tree.Proof(i)
		if err != nil {
			return err
		}
		encoded := make([]string, len(proof))
		for j, sibling := range proof {
			encoded[j] = crypto.FormatHash(sibling)
		}
		bundle.Claims = append(bundle.Claims, proofClaim{
			Recipient: crypto.FormatAddress(allocation.Recipient),
			Amount:    allocation.Amount.String(),
			Proof:     encoded,
		})
	}
	if err := os.MkdirAll(p.proofDir, 0o755); err != nil {
		return err
	}
	payload, err := json.MarshalIndent(bundle, "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(p.proofDir, fmt.Sprintf("campaign-%d.json", id))
	return os.WriteFile(path, payload, 0o644)
}
