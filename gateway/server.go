// Package gateway exposes the settlement ledger over HTTP. It is a trusted
// front-end: the caller principal arrives in the X-Caller header, placed
// there by whatever authentication proxy sits ahead of this service.
package gateway

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"merklepay/native/campaign"
	"merklepay/native/token"
	"merklepay/observability"
	"merklepay/state"
)

const headerCaller = "X-Caller"

// Server is the HTTP front-end for the campaign settlement ledger.
type Server struct {
	ledger  *campaign.Ledger
	st      *state.Manager
	logger  *slog.Logger
	metrics *observability.GatewayMetrics
	router  chi.Router
}

// Config customises the server construction.
type Config struct {
	ClaimsPerMinute float64
	ClaimBurst      int
}

// NewServer wires a ledger and its state manager behind the HTTP API.
func NewServer(ledger *campaign.Ledger, st *state.Manager, logger *slog.Logger, cfg Config) *Server {
	if ledger == nil {
		panic("gateway: ledger required")
	}
	if st == nil {
		panic("gateway: state manager required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		ledger:  ledger,
		st:      st,
		logger:  logger,
		metrics: observability.Gateway(),
	}
	if cfg.ClaimsPerMinute <= 0 {
		cfg.ClaimsPerMinute = 60
	}
	limiter := newClaimLimiter(cfg.ClaimsPerMinute, cfg.ClaimBurst)

	r := chi.NewRouter()
	r.Use(requestID)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(v1 chi.Router) {
		v1.With(s.route("create")).Post("/campaigns", s.handleCreateCampaign)
		v1.With(s.route("close")).Post("/campaigns/{id}/close", s.handleCloseCampaign)
		v1.With(s.route("publish")).Post("/campaigns/{id}/results", s.handlePublishResults)
		v1.With(s.route("claim"), limiter.middleware).Post("/campaigns/{id}/claims", s.handleClaimReward)
		v1.With(s.route("set-oracle")).Post("/oracle", s.handleSetOracle)

		v1.With(s.route("read")).Get("/campaigns/{id}", s.handleGetCampaign)
		v1.With(s.route("read")).Get("/campaigns/{id}/struct", s.handleGetCampaignStruct)
		v1.With(s.route("read")).Get("/campaigns/{id}/status", s.handleGetCampaignStatus)
		v1.With(s.route("read")).Get("/campaigns/{id}/claimed/{recipient}", s.handleHasClaimed)
		v1.With(s.route("read")).Get("/campaigns/count", s.handleCampaignCount)
		v1.With(s.route("read")).Get("/owner", s.handleOwner)
		v1.With(s.route("read")).Get("/oracle", s.handleOracle)
		v1.With(s.route("read")).Get("/escrow-address", s.handleEscrowAddress)

		v1.With(s.route("token")).Post("/tokens", s.handleRegisterToken)
		v1.With(s.route("token")).Post("/tokens/{symbol}/mint", s.handleMintToken)
		v1.With(s.route("token")).Post("/tokens/{symbol}/approve", s.handleApproveToken)
		v1.With(s.route("read")).Get("/tokens/{symbol}/balance/{addr}", s.handleTokenBalance)
		v1.With(s.route("read")).Get("/tokens/{symbol}/allowance/{owner}/{spender}", s.handleTokenAllowance)
	})
	s.router = r
	return s
}

func (s *Server) route(name string) func(http.Handler) http.Handler {
	return observe(s.metrics, s.logger, name)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type createCampaignRequest struct {
	RewardToken string `json:"rewardToken"`
	Budget      string `json:"budget"`
	EndTime     int64  `json:"endTime"`
}

func (s *Server) handleCreateCampaign(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	var req createCampaignRequest
	if !s.decode(w, r, &req) {
		return
	}
	budget, err := parseAmount(req.Budget)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	id, err := s.ledger.CreateCampaign(caller, req.RewardToken, budget, req.EndTime)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]any{"id": id})
}

func (s *Server) handleCloseCampaign(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	id, ok := s.campaignID(w, r)
	if !ok {
		return
	}
	if err := s.ledger.CloseCampaign(caller, id); err != nil {
		s.writeLedgerError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"id": id, "isActive": false})
}

type setOracleRequest struct {
	Oracle string `json:"oracle"`
}

func (s *Server) handleSetOracle(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	var req setOracleRequest
	if !s.decode(w, r, &req) {
		return
	}
	oracle, err := parseAddress(req.Oracle)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.ledger.SetOracle(caller, oracle); err != nil {
		s.writeLedgerError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"oracle": hexAddress(oracle)})
}

type publishResultsRequest struct {
	MerkleRoot     string `json:"merkleRoot"`
	TotalAllocated string `json:"totalAllocated"`
}

func (s *Server) handlePublishResults(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	id, ok := s.campaignID(w, r)
	if !ok {
		return
	}
	var req publishResultsRequest
	if !s.decode(w, r, &req) {
		return
	}
	root, err := parseHash(req.MerkleRoot)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	total, err := parseAmount(req.TotalAllocated)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.ledger.PublishResults(caller, id, root, total); err != nil {
		s.writeLedgerError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"id":             id,
		"merkleRoot":     hexHash(root),
		"totalAllocated": formatAmount(total),
	})
}

type claimRewardRequest struct {
	Amount string   `json:"amount"`
	Proof  []string `json:"proof"`
}

func (s *Server) handleClaimReward(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	id, ok := s.campaignID(w, r)
	if !ok {
		return
	}
	var req claimRewardRequest
	if !s.decode(w, r, &req) {
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	proof := make([][32]byte, 0, len(req.Proof))
	for _, entry := range req.Proof {
		sibling, err := parseHash(entry)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err)
			return
		}
		proof = append(proof, sibling)
	}
	if err := s.ledger.ClaimReward(caller, id, amount, proof); err != nil {
		s.writeLedgerError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"id":        id,
		"recipient": hexAddress(caller),
		"amount":    formatAmount(amount),
	})
}

func (s *Server) handleGetCampaign(w http.ResponseWriter, r *http.Request) {
	id, ok := s.campaignID(w, r)
	if !ok {
		return
	}
	record, err := s.ledger.GetCampaign(id)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	status, err := s.ledger.GetCampaignStatus(id)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"id":               record.ID,
		"brand":            hexAddress(record.Brand),
		"rewardToken":      record.RewardToken,
		"budget":           formatAmount(record.Budget),
		"endTime":          record.EndTime,
		"isActive":         record.IsActive,
		"merkleRoot":       hexHash(record.MerkleRoot),
		"totalAllocated":   formatAmount(record.TotalAllocated),
		"hasEnded":         status.HasEnded,
		"resultsPublished": status.ResultsPublished,
		"remainingBudget":  formatAmount(status.RemainingBudget),
	})
}

func (s *Server) handleGetCampaignStruct(w http.ResponseWriter, r *http.Request) {
	id, ok := s.campaignID(w, r)
	if !ok {
		return
	}
	record, err := s.ledger.GetCampaign(id)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"id":             record.ID,
		"brand":          hexAddress(record.Brand),
		"rewardToken":    record.RewardToken,
		"budget":         formatAmount(record.Budget),
		"endTime":        record.EndTime,
		"isActive":       record.IsActive,
		"merkleRoot":     hexHash(record.MerkleRoot),
		"totalAllocated": formatAmount(record.TotalAllocated),
	})
}

func (s *Server) handleGetCampaignStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := s.campaignID(w, r)
	if !ok {
		return
	}
	status, err := s.ledger.GetCampaignStatus(id)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"id":               status.ID,
		"hasEnded":         status.HasEnded,
		"resultsPublished": status.ResultsPublished,
		"isActive":         status.IsActive,
		"remainingBudget":  formatAmount(status.RemainingBudget),
	})
}

func (s *Server) handleHasClaimed(w http.ResponseWriter, r *http.Request) {
	id, ok := s.campaignID(w, r)
	if !ok {
		return
	}
	recipient, err := parseAddress(chi.URLParam(r, "recipient"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	claimed, err := s.ledger.HasClaimed(id, recipient)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"id":        id,
		"recipient": hexAddress(recipient),
		"claimed":   claimed,
	})
}

func (s *Server) handleCampaignCount(w http.ResponseWriter, _ *http.Request) {
	count, err := s.ledger.CampaignCount()
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"count": count})
}

func (s *Server) handleOwner(w http.ResponseWriter, _ *http.Request) {
	owner, err := s.ledger.Owner()
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"owner": hexAddress(owner)})
}

func (s *Server) handleOracle(w http.ResponseWriter, _ *http.Request) {
	oracle, err := s.ledger.Oracle()
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"oracle": hexAddress(oracle)})
}

func (s *Server) caller(w http.ResponseWriter, r *http.Request) ([20]byte, bool) {
	raw := strings.TrimSpace(r.Header.Get(headerCaller))
	if raw == "" {
		s.writeError(w, http.StatusUnauthorized, errors.New("missing X-Caller header"))
		return [20]byte{}, false
	}
	caller, err := parseAddress(raw)
	if err != nil {
		s.writeError(w, http.StatusUnauthorized, err)
		return [20]byte{}, false
	}
	return caller, true
}

func (s *Server) campaignID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		s.writeError(w, http.StatusBadRequest, errors.New("campaign id must be a positive integer"))
		return 0, false
	}
	return id, true
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, out any) bool {
	defer r.Body.Close()
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := decoder.Decode(out); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return false
	}
	return true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

// writeLedgerError maps the ledger's error taxonomy onto HTTP statuses.
func (s *Server) writeLedgerError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, campaign.ErrUnauthorized):
		status = http.StatusForbidden
	case errors.Is(err, campaign.ErrCampaignNotFound):
		status = http.StatusNotFound
	case errors.Is(err, campaign.ErrInvalidCampaign),
		errors.Is(err, campaign.ErrInvalidAmount),
		errors.Is(err, campaign.ErrZeroOracle),
		errors.Is(err, campaign.ErrEmptyRoot),
		errors.Is(err, campaign.ErrInvalidAllocation):
		status = http.StatusBadRequest
	case errors.Is(err, campaign.ErrCampaignClosed),
		errors.Is(err, campaign.ErrResultsPublished),
		errors.Is(err, campaign.ErrResultsNotPublished),
		errors.Is(err, campaign.ErrAlreadyClaimed):
		status = http.StatusConflict
	case errors.Is(err, campaign.ErrInvalidProof):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, campaign.ErrEscrowTransfer),
		errors.Is(err, token.ErrInsufficientBalance),
		errors.Is(err, token.ErrInsufficientAllowance):
		status = http.StatusPaymentRequired
	}
	s.writeError(w, status, err)
}
