package oracled

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"merklepay/crypto"
	"merklepay/native/campaign"
)

// ErrPermanent wraps ledger rejections that retrying cannot fix
// (authorization and validation failures). The processor surfaces them to
// the operator instead of backing off.
var ErrPermanent = errors.New("oracled: permanent ledger rejection")

// CampaignView is the slice of ledger state the pipeline needs per campaign.
type CampaignView struct {
	ID               uint64
	RewardToken      string
	Budget           *big.Int
	EndTime          uint64
	HasEnded         bool
	ResultsPublished bool
}

// LedgerClient is the pipeline's handle on the settlement ledger.
type LedgerClient interface {
	CampaignCount(ctx context.Context) (uint64, error)
	Campaign(ctx context.Context, id uint64) (*CampaignView, error)
	PublishResults(ctx context.Context, id uint64, root [32]byte, totalAllocated *big.Int) error
}

// LocalClient runs the pipeline in-process against a ledger instance. Used
// by the single-binary deployment and by tests.
type LocalClient struct {
	ledger *campaign.Ledger
	oracle [20]byte
}

// NewLocalClient wraps a ledger, acting as the supplied oracle principal.
func NewLocalClient(ledger *campaign.Ledger, oracle [20]byte) *LocalClient {
	return &LocalClient{ledger: ledger, oracle: oracle}
}

func (c *LocalClient) CampaignCount(context.Context) (uint64, error) {
	return c.ledger.CampaignCount()
}

func (c *LocalClient) Campaign(_ context.Context, id uint64) (*CampaignView, error) {
	record, err := c.ledger.GetCampaign(id)
	if err != nil {
		return nil, err
	}
	status, err := c.ledger.GetCampaignStatus(id)
	if err != nil {
		return nil, err
	}
	return &CampaignView{
		ID:               record.ID,
		RewardToken:      record.RewardToken,
		Budget:           record.Budget,
		EndTime:          record.EndTime,
		HasEnded:         status.HasEnded,
		ResultsPublished: status.ResultsPublished,
	}, nil
}

func (c *LocalClient) PublishResults(_ context.Context, id uint64, root [32]byte, totalAllocated *big.Int) error {
	return mapLedgerPublishError(c.ledger.PublishResults(c.oracle, id, root, totalAllocated))
}

// mapLedgerPublishError sorts ledger rejections into the retry taxonomy:
// already-published passes through untouched, authorization and validation
// failures become permanent, anything else stays transient.
func mapLedgerPublishError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, campaign.ErrResultsPublished):
		return campaign.ErrResultsPublished
	case errors.Is(err, campaign.ErrUnauthorized),
		errors.Is(err, campaign.ErrEmptyRoot),
		errors.Is(err, campaign.ErrInvalidAllocation),
		errors.Is(err, campaign.ErrCampaignNotFound):
		return fmt.Errorf("%w: %v", ErrPermanent, err)
	default:
		return err
	}
}

// HTTPClient talks to a remote settlement gateway. Requests carry the oracle
// principal in the X-Caller header and flow through an otel-instrumented
// transport.
type HTTPClient struct {
	base   string
	oracle [20]byte
	client *http.Client
}

// NewHTTPClient builds a gateway client rooted at baseURL.
func NewHTTPClient(baseURL string, oracle [20]byte) *HTTPClient {
	return &HTTPClient{
		base:   strings.TrimRight(baseURL, "/"),
		oracle: oracle,
		client: &http.Client{
			Timeout:   15 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

func (c *HTTPClient) CampaignCount(ctx context.Context) (uint64, error) {
	var out struct {
		Count uint64 `json:"count"`
	}
	if err := c.get(ctx, "/v1/campaigns/count", &out); err != nil {
		return 0, err
	}
	return out.Count, nil
}

func (c *HTTPClient) Campaign(ctx context.Context, id uint64) (*CampaignView, error) {
	var out struct {
		ID               uint64 `json:"id"`
		RewardToken      string `json:"rewardToken"`
		Budget           string `json:"budget"`
		EndTime          uint64 `json:"endTime"`
		HasEnded         bool   `json:"hasEnded"`
		ResultsPublished bool   `json:"resultsPublished"`
	}
	if err := c.get(ctx, fmt.Sprintf("/v1/campaigns/%d", id), &out); err != nil {
		return nil, err
	}
	budget, ok := new(big.Int).SetString(out.Budget, 10)
	if !ok {
		return nil, fmt.Errorf("oracled: gateway returned malformed budget %q", out.Budget)
	}
	return &CampaignView{
		ID:               out.ID,
		RewardToken:      out.RewardToken,
		Budget:           budget,
		EndTime:          out.EndTime,
		HasEnded:         out.HasEnded,
		ResultsPublished: out.ResultsPublished,
	}, nil
}

func (c *HTTPClient) PublishResults(ctx context.Context, id uint64, root [32]byte, totalAllocated *big.Int) error {
	payload, err := json.Marshal(map[string]string{
		"merkleRoot":     crypto.FormatHash(root),
		"totalAllocated": totalAllocated.String(),
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/v1/campaigns/%d/results", c.base, id), bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Caller", crypto.FormatAddress(c.oracle))
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusConflict:
		// The root is write-once: a conflict means a previous attempt (or a
		// concurrent run) already landed.
		return campaign.ErrResultsPublished
	case resp.StatusCode == http.StatusForbidden,
		resp.StatusCode == http.StatusBadRequest,
		resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrPermanent, readError(resp.Body))
	default:
		return fmt.Errorf("oracled: gateway status %d: %s", resp.StatusCode, readError(resp.Body))
	}
}

func (c *HTTPClient) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("oracled: gateway status %d: %s", resp.StatusCode, readError(resp.Body))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func readError(body io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(body, 4096))
	if err != nil {
		return err.Error()
	}
	var payload struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(raw, &payload) == nil && payload.Error != "" {
		return payload.Error
	}
	return strings.TrimSpace(string(raw))
}
