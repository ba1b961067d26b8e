package oracled

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"merklepay/crypto"
)

// Entry is one recipient's raw engagement metric for a campaign.
type Entry struct {
	Recipient [20]byte
	Score     uint64
}

// Snapshot aggregates the engagement data for one ended campaign. Entries
// are kept sorted by recipient so every independent recomputation walks the
// same order.
type Snapshot struct {
	CampaignID uint64
	Entries    []Entry
}

// EngagementSource supplies per-recipient raw metrics for a campaign. The
// data is only meaningful once the campaign has ended; the processor never
// asks earlier.
type EngagementSource interface {
	Snapshot(ctx context.Context, campaignID uint64) (*Snapshot, error)
}

type fileEntry struct {
	Recipient string `json:"recipient"`
	Score     uint64 `json:"score"`
}

// FileSource reads engagement snapshots from JSON files named
// campaign-<id>.json in a directory, the hand-off format produced by the
// upstream analytics batch job.
type FileSource struct {
	dir string
}

// NewFileSource creates a source rooted at dir.
func NewFileSource(dir string) *FileSource {
	return &FileSource{dir: dir}
}

// Snapshot implements EngagementSource.
func (f *FileSource) Snapshot(_ context.Context, campaignID uint64) (*Snapshot, error) {
	path := filepath.Join(f.dir, fmt.Sprintf("campaign-%d.json", campaignID))
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("oracled: read engagement file: %w", err)
	}
	var entries []fileEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("oracled: decode engagement file %s: %w", path, err)
	}
	snapshot := &Snapshot{CampaignID: campaignID, Entries: make([]Entry, 0, len(entries))}
	for _, entry := range entries {
		recipient, err := crypto.ParseAddress(entry.Recipient)
		if err != nil {
			return nil, fmt.Errorf("oracled: engagement file %s: %w", path, err)
		}
		snapshot.Entries = append(snapshot.Entries, Entry{Recipient: recipient, Score: entry.Score})
	}
	sortEntries(snapshot.Entries)
	return snapshot, nil
}

func sortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i].Recipient, entries[j].Recipient
		for k := range a {
			if a[k] != b[k] {
				return a[k] < b[k]
			}
		}
		return false
	})
}
