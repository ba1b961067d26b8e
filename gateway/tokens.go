package gateway

import (
	"errors"
	"math/big"
	"net/http"

	"github.com/go-chi/chi/v5"

	"merklepay/native/campaign"
	"merklepay/native/token"
	"merklepay/state"
)

type registerTokenRequest struct {
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
	Decimals uint8  `json:"decimals"`
}

// handleRegisterToken registers a new transferable asset. Owner-gated: the
// token registry shares the ledger owner's capability.
func (s *Server) handleRegisterToken(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	if !s.requireOwner(w, caller) {
		return
	}
	var req registerTokenRequest
	if !s.decode(w, r, &req) {
		return
	}
	err := s.st.Update(func(tx *state.Tx) error {
		return token.Register(tx, token.Metadata{Symbol: req.Symbol, Name: req.Name, Decimals: req.Decimals})
	})
	if err != nil {
		s.writeTokenError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]any{"symbol": req.Symbol})
}

type mintTokenRequest struct {
	To     string `json:"to"`
	Amount string `json:"amount"`
}

func (s *Server) handleMintToken(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	if !s.requireOwner(w, caller) {
		return
	}
	var req mintTokenRequest
	if !s.decode(w, r, &req) {
		return
	}
	to, err := parseAddress(req.To)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	symbol := chi.URLParam(r, "symbol")
	err = s.st.Update(func(tx *state.Tx) error {
		return token.Mint(tx, symbol, to, amount)
	})
	if err != nil {
		s.writeTokenError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"symbol": symbol,
		"to":     hexAddress(to),
		"amount": formatAmount(amount),
	})
}

type approveTokenRequest struct {
	Spender string `json:"spender"`
	Amount  string `json:"amount"`
}

func (s *Server) handleApproveToken(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	var req approveTokenRequest
	if !s.decode(w, r, &req) {
		return
	}
	spender, err := parseAddress(req.Spender)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	symbol := chi.URLParam(r, "symbol")
	err = s.st.Update(func(tx *state.Tx) error {
		return token.Approve(tx, symbol, caller, spender, amount)
	})
	if err != nil {
		s.writeTokenError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"symbol":  symbol,
		"owner":   hexAddress(caller),
		"spender": hexAddress(spender),
		"amount":  formatAmount(amount),
	})
}

func (s *Server) handleTokenBalance(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddress(chi.URLParam(r, "addr"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	symbol := chi.URLParam(r, "symbol")
	var balance *big.Int
	err = s.st.View(func(tx *state.Tx) error {
		var viewErr error
		balance, viewErr = token.BalanceOf(tx, symbol, addr)
		return viewErr
	})
	if err != nil {
		s.writeTokenError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"symbol":  symbol,
		"address": hexAddress(addr),
		"balance": formatAmount(balance),
	})
}

func (s *Server) handleTokenAllowance(w http.ResponseWriter, r *http.Request) {
	owner, err := parseAddress(chi.URLParam(r, "owner"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	spender, err := parseAddress(chi.URLParam(r, "spender"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	symbol := chi.URLParam(r, "symbol")
	var allowance *big.Int
	err = s.st.View(func(tx *state.Tx) error {
		var viewErr error
		allowance, viewErr = token.Allowance(tx, symbol, owner, spender)
		return viewErr
	})
	if err != nil {
		s.writeTokenError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"symbol":    symbol,
		"owner":     hexAddress(owner),
		"spender":   hexAddress(spender),
		"allowance": formatAmount(allowance),
	})
}

// handleEscrowAddress tells brands which principal to approve before
// creating a campaign.
func (s *Server) handleEscrowAddress(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"escrowAddress": hexAddress(campaign.EscrowAddress()),
	})
}

func (s *Server) requireOwner(w http.ResponseWriter, caller [20]byte) bool {
	owner, err := s.ledger.Owner()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return false
	}
	if caller != owner {
		s.writeError(w, http.StatusForbidden, errors.New("only the owner can manage tokens"))
		return false
	}
	return true
}

func (s *Server) writeTokenError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, token.ErrTokenExists):
		status = http.StatusConflict
	case errors.Is(err, token.ErrTokenNotFound):
		status = http.StatusNotFound
	case errors.Is(err, token.ErrInvalidSymbol), errors.Is(err, token.ErrInvalidAmount):
		status = http.StatusBadRequest
	case errors.Is(err, token.ErrInsufficientBalance), errors.Is(err, token.ErrInsufficientAllowance):
		status = http.StatusPaymentRequired
	}
	s.writeError(w, status, err)
}
