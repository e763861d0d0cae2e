package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/rs/zerolog"

	"LoanLedger/internal/config"
	"LoanLedger/internal/core"
	"LoanLedger/internal/custody"
	"LoanLedger/internal/loan"
	"LoanLedger/internal/observability"
	"LoanLedger/internal/query"
)

// callerHeader carries the caller identity on mutating requests. The
// service trusts its perimeter for authentication; the engine enforces
// authorization.
const callerHeader = "X-Caller-Address"

// API exposes the engine operations as an HTTP/JSON surface on the
// grpc-gateway mux. Mutating routes read the caller from X-Caller-Address
// and the forwarded value from an explicit payment object in the body.
type API struct {
	engine  *core.Engine
	history *query.Service
	metrics *observability.Metrics
	log     zerolog.Logger
}

// NewAPI builds the API surface. history may be nil when the service runs
// without a database-backed read side.
func NewAPI(engine *core.Engine, history *query.Service, metrics *observability.Metrics, log zerolog.Logger) *API {
	return &API{engine: engine, history: history, metrics: metrics, log: log}
}

// Mux builds the route table.
func (a *API) Mux() (*runtime.ServeMux, error) {
	mux := runtime.NewServeMux()

	routes := []struct {
		method  string
		pattern string
		handler runtime.HandlerFunc
	}{
		{http.MethodPost, "/v1/loans/request", a.handleRequestLoan},
		{http.MethodPost, "/v1/loans/offer", a.handleOfferLoan},
		{http.MethodPost, "/v1/loans/{id}/fill-request", a.handleFillLoanRequest},
		{http.MethodPost, "/v1/loans/{id}/fill-offer", a.handleFillLenderRequest},
		{http.MethodPost, "/v1/loans/{id}/repay", a.handleRepayLoan},
		{http.MethodPost, "/v1/loans/{id}/cancel", a.handleCancelLoan},
		{http.MethodPost, "/v1/loans/{id}/cancel-offer", a.handleCancelLenderOffer},
		{http.MethodPost, "/v1/loans/{id}/liquidate", a.handleLiquidate},

		{http.MethodGet, "/v1/loans/length", a.handleLoanLength},
		{http.MethodGet, "/v1/loans/{id}", a.handleGetLoan},
		{http.MethodGet, "/v1/loans/{id}/status", a.handleGetLoanStatus},

		{http.MethodGet, "/v1/protocol/config", a.handleGetConfig},
		{http.MethodGet, "/v1/protocol/status", a.handleGetStatus},
		{http.MethodGet, "/v1/protocol/owner", a.handleGetOwner},
		{http.MethodGet, "/v1/protocol/admins", a.handleGetAdmins},
		{http.MethodPost, "/v1/protocol/admins", a.handleAddAdmin},
		{http.MethodPut, "/v1/protocol/config", a.handleUpdateConfig},
		{http.MethodPut, "/v1/protocol/status", a.handleUpdateStatus},
		{http.MethodPut, "/v1/protocol/oracle/feeds", a.handleUpdateOracleFeed},

		{http.MethodPost, "/v1/accounts/deposit", a.handleDeposit},
		{http.MethodGet, "/v1/accounts/{address}/balance", a.handleBalance},
	}
	if a.history != nil {
		routes = append(routes, []struct {
			method  string
			pattern string
			handler runtime.HandlerFunc
		}{
			{http.MethodGet, "/v1/history/loans/{id}", a.handleLoanEvents},
			{http.MethodGet, "/v1/history/journal/{address}", a.handleJournalHistory},
			{http.MethodGet, "/v1/accounts/{address}/escrow", a.handleEscrowBalances},
			{http.MethodGet, "/v1/admin/integrity", a.handleVerifyIntegrity},
		}...)
	}
	for _, r := range routes {
		if err := mux.HandlePath(r.method, r.pattern, a.instrument(r.pattern, r.handler)); err != nil {
			return nil, fmt.Errorf("register %s %s: %w", r.method, r.pattern, err)
		}
	}
	return mux, nil
}

func (a *API) instrument(pattern string, h runtime.HandlerFunc) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		h(sw, r, pathParams)
		if a.metrics != nil {
			a.metrics.APIRequests.WithLabelValues(pattern, strconv.Itoa(sw.code)).Inc()
			a.metrics.APIDuration.WithLabelValues(pattern).Observe(time.Since(start).Seconds())
		}
	}
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// --- lifecycle handlers ---

type createLoanRequest struct {
	Terms   loan.Terms   `json:"terms"`
	Payment loan.Payment `json:"payment"`
}

func (a *API) handleRequestLoan(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	caller, ok := a.caller(w, r)
	if !ok {
		return
	}
	var req createLoanRequest
	if !a.decode(w, r, &req) {
		return
	}
	id, err := a.engine.RequestLoan(caller, req.Terms, req.Payment)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusCreated, map[string]uint64{"id": id})
}

func (a *API) handleOfferLoan(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	caller, ok := a.caller(w, r)
	if !ok {
		return
	}
	var req createLoanRequest
	if !a.decode(w, r, &req) {
		return
	}
	id, err := a.engine.OfferLoan(caller, req.Terms, req.Payment)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusCreated, map[string]uint64{"id": id})
}

type paymentRequest struct {
	Payment loan.Payment `json:"payment"`
}

func (a *API) handleFillLoanRequest(w http.ResponseWriter, r *http.Request, p map[string]string) {
	a.paymentOp(w, r, p, a.engine.FillLoanRequest)
}

func (a *API) handleFillLenderRequest(w http.ResponseWriter, r *http.Request, p map[string]string) {
	a.paymentOp(w, r, p, a.engine.FillLenderRequest)
}

func (a *API) handleRepayLoan(w http.ResponseWriter, r *http.Request, p map[string]string) {
	a.paymentOp(w, r, p, a.engine.RepayLoan)
}

func (a *API) paymentOp(w http.ResponseWriter, r *http.Request, p map[string]string, op func(loan.Address, uint64, loan.Payment) error) {
	caller, ok := a.caller(w, r)
	if !ok {
		return
	}
	id, ok := a.loanID(w, p)
	if !ok {
		return
	}
	var req paymentRequest
	if !a.decode(w, r, &req) {
		return
	}
	if err := op(caller, id, req.Payment); err != nil {
		a.writeError(w, err)
		return
	}
	a.writeLoan(w, id)
}

func (a *API) handleCancelLoan(w http.ResponseWriter, r *http.Request, p map[string]string) {
	a.cancelOp(w, r, p, a.engine.CancelLoan)
}

func (a *API) handleCancelLenderOffer(w http.ResponseWriter, r *http.Request, p map[string]string) {
	a.cancelOp(w, r, p, a.engine.CancelLenderOffer)
}

func (a *API) cancelOp(w http.ResponseWriter, r *http.Request, p map[string]string, op func(loan.Address, uint64) error) {
	caller, ok := a.caller(w, r)
	if !ok {
		return
	}
	id, ok := a.loanID(w, p)
	if !ok {
		return
	}
	if err := op(caller, id); err != nil {
		a.writeError(w, err)
		return
	}
	a.writeLoan(w, id)
}

func (a *API) handleLiquidate(w http.ResponseWriter, r *http.Request, p map[string]string) {
	a.cancelOp(w, r, p, a.engine.Liquidate)
}

// --- read handlers ---

func (a *API) handleGetLoan(w http.ResponseWriter, _ *http.Request, p map[string]string) {
	id, ok := a.loanID(w, p)
	if !ok {
		return
	}
	a.writeLoan(w, id)
}

func (a *API) handleGetLoanStatus(w http.ResponseWriter, _ *http.Request, p map[string]string) {
	id, ok := a.loanID(w, p)
	if !ok {
		return
	}
	st, err := a.engine.GetLoanStatus(id)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":      uint8(st),
		"status_name": st.String(),
	})
}

func (a *API) handleLoanLength(w http.ResponseWriter, _ *http.Request, _ map[string]string) {
	a.writeJSON(w, http.StatusOK, map[string]uint64{"length": a.engine.GetLoanLength()})
}

func (a *API) handleGetConfig(w http.ResponseWriter, _ *http.Request, _ map[string]string) {
	a.writeJSON(w, http.StatusOK, a.engine.ProtocolConfig())
}

func (a *API) handleGetStatus(w http.ResponseWriter, _ *http.Request, _ map[string]string) {
	a.writeJSON(w, http.StatusOK, map[string]bool{"active": a.engine.ProtocolActive()})
}

func (a *API) handleGetOwner(w http.ResponseWriter, _ *http.Request, _ map[string]string) {
	a.writeJSON(w, http.StatusOK, map[string]string{"owner": a.engine.Owner().String()})
}

func (a *API) handleGetAdmins(w http.ResponseWriter, _ *http.Request, _ map[string]string) {
	admins := a.engine.Admins()
	out := make([]string, len(admins))
	for i, ad := range admins {
		out[i] = ad.String()
	}
	a.writeJSON(w, http.StatusOK, map[string][]string{"admins": out})
}

// --- governance handlers ---

func (a *API) handleAddAdmin(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	caller, ok := a.caller(w, r)
	if !ok {
		return
	}
	var req struct {
		Address loan.Address `json:"address"`
	}
	if !a.decode(w, r, &req) {
		return
	}
	if err := a.engine.AddAdmin(caller, req.Address); err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]string{"added": req.Address.String()})
}

func (a *API) handleUpdateConfig(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	caller, ok := a.caller(w, r)
	if !ok {
		return
	}
	var cfg config.ProtocolConfig
	if !a.decode(w, r, &cfg) {
		return
	}
	if err := a.engine.UpdateProtocolConfig(caller, cfg); err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, a.engine.ProtocolConfig())
}

func (a *API) handleUpdateStatus(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	caller, ok := a.caller(w, r)
	if !ok {
		return
	}
	var req struct {
		Active bool `json:"active"`
	}
	if !a.decode(w, r, &req) {
		return
	}
	if err := a.engine.UpdateProtocolStatus(caller, req.Active); err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]bool{"active": a.engine.ProtocolActive()})
}

func (a *API) handleUpdateOracleFeed(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	caller, ok := a.caller(w, r)
	if !ok {
		return
	}
	var req struct {
		Asset  loan.AssetID `json:"asset"`
		FeedID string       `json:"feed_id"`
	}
	if !a.decode(w, r, &req) {
		return
	}
	if err := a.engine.UpdateOracleFeedID(caller, req.Asset, req.FeedID); err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]string{"asset": req.Asset.String(), "feed_id": req.FeedID})
}

// --- account handlers ---

// handleDeposit credits a party account from the settlement layer. In a
// real deployment this is driven by confirmed on-chain deposits; here it is
// an operator endpoint.
func (a *API) handleDeposit(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var req struct {
		Address loan.Address `json:"address"`
		Asset   loan.AssetID `json:"asset"`
		Amount  uint64       `json:"amount"`
	}
	if !a.decode(w, r, &req) {
		return
	}
	if req.Amount == 0 {
		a.writeError(w, loan.ErrInvalidAmount)
		return
	}
	a.engine.Custody().Credit(req.Address, req.Asset, req.Amount)
	a.writeJSON(w, http.StatusOK, map[string]uint64{
		"balance": a.engine.Custody().BalanceOf(req.Address, req.Asset),
	})
}

func (a *API) handleBalance(w http.ResponseWriter, r *http.Request, p map[string]string) {
	addr, err := loan.ParseAddress(p["address"])
	if err != nil {
		a.writeJSON(w, http.StatusBadRequest, errBody("invalid address"))
		return
	}
	asset, err := loan.ParseAssetID(r.URL.Query().Get("asset"))
	if err != nil {
		a.writeJSON(w, http.StatusBadRequest, errBody("invalid asset"))
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]uint64{
		"balance": a.engine.Custody().BalanceOf(addr, asset),
	})
}

// --- history handlers ---

func (a *API) handleLoanEvents(w http.ResponseWriter, r *http.Request, p map[string]string) {
	id, ok := a.loanID(w, p)
	if !ok {
		return
	}
	limit, before, ok := a.pagination(w, r)
	if !ok {
		return
	}
	events, err := a.history.LoanEvents(r.Context(), int64(id), limit, before)
	if err != nil {
		a.log.Error().Err(err).Msg("loan events query")
		a.writeJSON(w, http.StatusInternalServerError, errBody("query failed"))
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]interface{}{"events": events})
}

func (a *API) handleJournalHistory(w http.ResponseWriter, r *http.Request, p map[string]string) {
	addr, err := loan.ParseAddress(p["address"])
	if err != nil {
		a.writeJSON(w, http.StatusBadRequest, errBody("invalid address"))
		return
	}
	limit, before, ok := a.pagination(w, r)
	if !ok {
		return
	}
	journals, err := a.history.JournalHistory(r.Context(), addr.String(), limit, before)
	if err != nil {
		a.log.Error().Err(err).Msg("journal history query")
		a.writeJSON(w, http.StatusInternalServerError, errBody("query failed"))
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]interface{}{"journals": journals})
}

func (a *API) handleEscrowBalances(w http.ResponseWriter, r *http.Request, p map[string]string) {
	addr, err := loan.ParseAddress(p["address"])
	if err != nil {
		a.writeJSON(w, http.StatusBadRequest, errBody("invalid address"))
		return
	}
	balances, err := a.history.EscrowBalances(r.Context(), addr.String())
	if err != nil {
		a.log.Error().Err(err).Msg("escrow balance query")
		a.writeJSON(w, http.StatusInternalServerError, errBody("query failed"))
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]interface{}{"balances": balances})
}

func (a *API) handleVerifyIntegrity(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	report, err := a.history.VerifyIntegrity(r.Context())
	if err != nil {
		a.log.Error().Err(err).Msg("integrity check")
		a.writeJSON(w, http.StatusInternalServerError, errBody("integrity check failed"))
		return
	}
	a.writeJSON(w, http.StatusOK, report)
}

// pagination reads limit and before_sequence query parameters.
func (a *API) pagination(w http.ResponseWriter, r *http.Request) (int, *int64, bool) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 500 {
			a.writeJSON(w, http.StatusBadRequest, errBody("limit must be between 1 and 500"))
			return 0, nil, false
		}
		limit = n
	}
	var before *int64
	if raw := r.URL.Query().Get("before_sequence"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			a.writeJSON(w, http.StatusBadRequest, errBody("invalid before_sequence"))
			return 0, nil, false
		}
		before = &n
	}
	return limit, before, true
}

// --- plumbing ---

func (a *API) caller(w http.ResponseWriter, r *http.Request) (loan.Address, bool) {
	raw := r.Header.Get(callerHeader)
	if raw == "" {
		a.writeJSON(w, http.StatusUnauthorized, errBody("missing "+callerHeader+" header"))
		return loan.Address{}, false
	}
	addr, err := loan.ParseAddress(raw)
	if err != nil {
		a.writeJSON(w, http.StatusBadRequest, errBody("invalid caller address"))
		return loan.Address{}, false
	}
	return addr, true
}

func (a *API) loanID(w http.ResponseWriter, p map[string]string) (uint64, bool) {
	id, err := strconv.ParseUint(p["id"], 10, 64)
	if err != nil {
		a.writeJSON(w, http.StatusBadRequest, errBody("invalid loan id"))
		return 0, false
	}
	return id, true
}

func (a *API) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		a.writeJSON(w, http.StatusBadRequest, errBody("invalid request body: "+err.Error()))
		return false
	}
	return true
}

func (a *API) writeLoan(w http.ResponseWriter, id uint64) {
	l, err := a.engine.GetLoan(id)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, l)
}

func (a *API) writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.log.Error().Err(err).Msg("encode response")
	}
}

func (a *API) writeError(w http.ResponseWriter, err error) {
	a.writeJSON(w, httpStatus(err), errBody(err.Error()))
}

func errBody(msg string) map[string]string {
	return map[string]string{"error": msg}
}

func httpStatus(err error) int {
	switch {
	case errors.Is(err, loan.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, loan.ErrUnauthorized),
		errors.Is(err, loan.ErrWrongBorrower):
		return http.StatusForbidden
	case errors.Is(err, loan.ErrInvalidAmount),
		errors.Is(err, loan.ErrAmountMismatch),
		errors.Is(err, loan.ErrDurationTooShort),
		errors.Is(err, custody.ErrInsufficientBalance):
		return http.StatusBadRequest
	case errors.Is(err, loan.ErrNotPending),
		errors.Is(err, loan.ErrNotActive),
		errors.Is(err, loan.ErrExpired),
		errors.Is(err, loan.ErrAlreadyLiquidated),
		errors.Is(err, loan.ErrNotEligible),
		errors.Is(err, loan.ErrDuplicateAdmin),
		errors.Is(err, loan.ErrReentrantCall):
		return http.StatusConflict
	case errors.Is(err, loan.ErrProtocolInactive),
		errors.Is(err, loan.ErrStaleOracle),
		errors.Is(err, loan.ErrOracleUnset):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
