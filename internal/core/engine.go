package core

import (
	"fmt"
	"math"
	"math/big"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"LoanLedger/internal/config"
	"LoanLedger/internal/custody"
	"LoanLedger/internal/event"
	"LoanLedger/internal/ledger"
	"LoanLedger/internal/loan"
	"LoanLedger/internal/observability"
	"LoanLedger/internal/oracle"
)

// Operation names used in logs, metrics, and journal batches.
const (
	OpRequestLoan       = "request_loan"
	OpOfferLoan         = "offer_loan"
	OpFillLoanRequest   = "fill_loan_request"
	OpFillLenderRequest = "fill_lender_request"
	OpRepayLoan         = "repay_loan"
	OpCancelLoan        = "cancel_loan"
	OpCancelLenderOffer = "cancel_lender_offer"
	OpLiquidate         = "liquidate"
)

// Output is what the engine emits after each committed transition: the
// event envelope plus the custody batch that moved with it.
type Output struct {
	Envelope *event.Envelope
	Batch    *ledger.Batch
}

// Engine is the loan lifecycle state machine. All mutating operations run
// one-at-a-time under the engine mutex; every external read (oracle price,
// config) is a point-in-time snapshot taken once per operation; a failed
// operation commits nothing.
type Engine struct {
	mu       sync.Mutex
	inflight map[uint64]struct{}

	book    *ledger.Book
	store   *config.Store
	oracle  *oracle.Gateway
	custody *custody.Adapter

	clock    func() int64
	sequence int64

	log     zerolog.Logger
	metrics *observability.Metrics

	// persistChan blocks when full (durability over liveness);
	// publishChan drops when full (liveness over completeness).
	persistChan chan<- Output
	publishChan chan<- Output
}

// EngineConfig carries the engine's injected dependencies. Store, Oracle,
// and Custody are required; the rest default to sane values.
type EngineConfig struct {
	Store   *config.Store
	Oracle  *oracle.Gateway
	Custody *custody.Adapter
	Metrics *observability.Metrics
	Logger  zerolog.Logger
	Clock   func() int64

	// StartSequence seeds the event sequence counter, so a restarted
	// service continues numbering after the last persisted event.
	StartSequence int64

	PersistChan chan<- Output
	PublishChan chan<- Output
}

func NewEngine(cfg EngineConfig) *Engine {
	clock := cfg.Clock
	if clock == nil {
		clock = func() int64 { return time.Now().Unix() }
	}
	return &Engine{
		inflight:    make(map[uint64]struct{}),
		book:        ledger.NewBook(),
		store:       cfg.Store,
		oracle:      cfg.Oracle,
		custody:     cfg.Custody,
		clock:       clock,
		sequence:    cfg.StartSequence,
		log:         cfg.Logger,
		metrics:     cfg.Metrics,
		persistChan: cfg.PersistChan,
		publishChan: cfg.PublishChan,
	}
}

// Custody exposes the custody adapter for account funding and balance reads.
func (e *Engine) Custody() *custody.Adapter {
	return e.custody
}

// --- creation ---

// RequestLoan opens a borrower-initiated pending loan. The borrower
// forwards the collateral, which stays escrowed until the loan terminates.
func (e *Engine) RequestLoan(caller loan.Address, terms loan.Terms, pay loan.Payment) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	start := time.Now()

	if caller != terms.Borrower {
		return 0, e.reject(OpRequestLoan, loan.ErrUnauthorized)
	}
	if err := e.validateCreation(terms); err != nil {
		return 0, e.reject(OpRequestLoan, err)
	}
	if err := requireExact(pay, terms.Collateral, terms.CollateralAmount); err != nil {
		return 0, e.reject(OpRequestLoan, err)
	}
	if !e.custody.CanDebit(caller, terms.Collateral, terms.CollateralAmount) {
		return 0, e.reject(OpRequestLoan, custody.ErrInsufficientBalance)
	}

	now := e.clock()
	l := newPendingLoan(terms, loan.SideBorrower, now)
	id := e.book.Append(l)

	batch := ledger.NewBatch(id, OpRequestLoan, now)
	e.mustEscrow(batch, caller, terms.Collateral, terms.CollateralAmount)

	e.commit(OpRequestLoan, event.TypeLoanRequested, caller, l, batch, start)
	return id, nil
}

// OfferLoan opens a lender-initiated pending loan. The lender forwards the
// principal, which stays escrowed until a borrower fills or the lender
// cancels.
func (e *Engine) OfferLoan(caller loan.Address, terms loan.Terms, pay loan.Payment) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	start := time.Now()

	if caller != terms.Lender {
		return 0, e.reject(OpOfferLoan, loan.ErrUnauthorized)
	}
	if err := e.validateCreation(terms); err != nil {
		return 0, e.reject(OpOfferLoan, err)
	}
	if err := requireExact(pay, terms.Asset, terms.AssetAmount); err != nil {
		return 0, e.reject(OpOfferLoan, err)
	}
	if !e.custody.CanDebit(caller, terms.Asset, terms.AssetAmount) {
		return 0, e.reject(OpOfferLoan, custody.ErrInsufficientBalance)
	}

	now := e.clock()
	l := newPendingLoan(terms, loan.SideLender, now)
	id := e.book.Append(l)

	batch := ledger.NewBatch(id, OpOfferLoan, now)
	e.mustEscrow(batch, caller, terms.Asset, terms.AssetAmount)

	e.commit(OpOfferLoan, event.TypeLoanOffered, caller, l, batch, start)
	return id, nil
}

// --- fill ---

// FillLoanRequest activates a borrower-initiated loan. The designated
// lender forwards the principal, which is released straight to the
// borrower; the borrower's collateral stays escrowed.
func (e *Engine) FillLoanRequest(caller loan.Address, id uint64, pay loan.Payment) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	start := time.Now()

	l, err := e.beginLoanOp(OpFillLoanRequest, id)
	if err != nil {
		return err
	}
	defer e.endLoanOp(id)

	if caller != l.Lender {
		return e.reject(OpFillLoanRequest, loan.ErrUnauthorized)
	}
	now := e.clock()
	if err := e.fillPreconditions(l, now); err != nil {
		return e.reject(OpFillLoanRequest, err)
	}
	if l.Side != loan.SideBorrower {
		return e.reject(OpFillLoanRequest, loan.ErrUnauthorized)
	}
	if err := requireExact(pay, l.Asset, l.AssetAmount); err != nil {
		return e.reject(OpFillLoanRequest, err)
	}
	if !e.custody.CanDebit(caller, l.Asset, l.AssetAmount) {
		return e.reject(OpFillLoanRequest, custody.ErrInsufficientBalance)
	}

	batch := ledger.NewBatch(id, OpFillLoanRequest, now)
	e.mustEscrow(batch, caller, l.Asset, l.AssetAmount)
	e.mustRelease(batch, l.Borrower, l.Asset, l.AssetAmount)

	l.StartTimestamp = now
	l.Status = loan.StatusActive

	e.commit(OpFillLoanRequest, event.TypeLoanFilled, caller, l, batch, start)
	return nil
}

// FillLenderRequest activates a lender-initiated loan. The designated
// borrower forwards the collateral; the escrowed principal is released to
// the borrower.
func (e *Engine) FillLenderRequest(caller loan.Address, id uint64, pay loan.Payment) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	start := time.Now()

	l, err := e.beginLoanOp(OpFillLenderRequest, id)
	if err != nil {
		return err
	}
	defer e.endLoanOp(id)

	if caller != l.Borrower {
		return e.reject(OpFillLenderRequest, loan.ErrUnauthorized)
	}
	now := e.clock()
	if err := e.fillPreconditions(l, now); err != nil {
		return e.reject(OpFillLenderRequest, err)
	}
	if l.Side != loan.SideLender {
		return e.reject(OpFillLenderRequest, loan.ErrUnauthorized)
	}
	if err := requireExact(pay, l.Collateral, l.CollateralAmount); err != nil {
		return e.reject(OpFillLenderRequest, err)
	}
	if !e.custody.CanDebit(caller, l.Collateral, l.CollateralAmount) {
		return e.reject(OpFillLenderRequest, custody.ErrInsufficientBalance)
	}

	batch := ledger.NewBatch(id, OpFillLenderRequest, now)
	e.mustEscrow(batch, caller, l.Collateral, l.CollateralAmount)
	e.mustRelease(batch, l.Borrower, l.Asset, l.AssetAmount)

	l.StartTimestamp = now
	l.Status = loan.StatusActive

	e.commit(OpFillLenderRequest, event.TypeLoanFilled, caller, l, batch, start)
	return nil
}

// --- repay ---

// RepayLoan settles an active loan. The borrower forwards exactly the
// repayment amount; the protocol fee goes to the fee receiver, the rest to
// the lender, and the collateral returns to the borrower.
func (e *Engine) RepayLoan(caller loan.Address, id uint64, pay loan.Payment) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	start := time.Now()

	l, err := e.beginLoanOp(OpRepayLoan, id)
	if err != nil {
		return err
	}
	defer e.endLoanOp(id)

	if caller != l.Borrower {
		return e.reject(OpRepayLoan, loan.ErrWrongBorrower)
	}
	if l.Status != loan.StatusActive {
		return e.reject(OpRepayLoan, loan.ErrNotActive)
	}
	if !e.store.Active() {
		return e.reject(OpRepayLoan, loan.ErrProtocolInactive)
	}
	if err := requireExact(pay, l.Asset, l.RepaymentAmount); err != nil {
		return e.reject(OpRepayLoan, err)
	}
	if !e.custody.CanDebit(caller, l.Asset, l.RepaymentAmount) {
		return e.reject(OpRepayLoan, custody.ErrInsufficientBalance)
	}

	cfg := e.store.Config()
	fee, err := bpsFee(l.RepaymentAmount, cfg.ProtocolFee)
	if err != nil {
		return e.reject(OpRepayLoan, err)
	}
	yield := l.RepaymentAmount - fee

	now := e.clock()
	batch := ledger.NewBatch(id, OpRepayLoan, now)
	e.mustEscrow(batch, caller, l.Asset, l.RepaymentAmount)
	if fee > 0 {
		e.mustRelease(batch, cfg.ProtocolFeeReceiver, l.Asset, fee)
	}
	if yield > 0 {
		e.mustRelease(batch, l.Lender, l.Asset, yield)
	}
	e.mustRelease(batch, l.Borrower, l.Collateral, l.CollateralAmount)

	l.Status = loan.StatusRepaid

	e.commit(OpRepayLoan, event.TypeLoanRepaid, caller, l, batch, start)
	return nil
}

// --- cancel ---

// CancelLoan cancels a pending borrower-initiated loan and returns the
// escrowed collateral to the borrower.
func (e *Engine) CancelLoan(caller loan.Address, id uint64) error {
	return e.cancel(OpCancelLoan, caller, id)
}

// CancelLenderOffer cancels a pending lender-initiated loan and returns the
// escrowed principal to the lender.
func (e *Engine) CancelLenderOffer(caller loan.Address, id uint64) error {
	return e.cancel(OpCancelLenderOffer, caller, id)
}

func (e *Engine) cancel(op string, caller loan.Address, id uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	start := time.Now()

	l, err := e.beginLoanOp(op, id)
	if err != nil {
		return err
	}
	defer e.endLoanOp(id)

	// The authorization check comes first so that a non-initiator is told
	// Unauthorized no matter what state the loan is in.
	if caller != l.Initiator() {
		return e.reject(op, loan.ErrUnauthorized)
	}
	if l.Status != loan.StatusPending {
		return e.reject(op, loan.ErrNotPending)
	}
	if !e.store.Active() {
		return e.reject(op, loan.ErrProtocolInactive)
	}

	initiator := l.Initiator()
	asset, amount := l.Collateral, l.CollateralAmount
	if l.Side == loan.SideLender {
		asset, amount = l.Asset, l.AssetAmount
	}

	now := e.clock()
	batch := ledger.NewBatch(id, op, now)
	e.mustRelease(batch, initiator, asset, amount)

	l.Status = loan.StatusCanceled

	e.commit(op, event.TypeLoanCanceled, caller, l, batch, start)
	return nil
}

// --- liquidation ---

// Liquidate seizes the collateral of an eligible active loan. Anyone may
// call it (permissionless keeper model). Eligibility: the loan's duration
// has elapsed without repayment, or fresh oracle prices show the collateral
// value below the loan's threshold of the owed value. The liquidator fee
// goes to the caller, the protocol liquidation fee to the fee receiver, and
// the remainder to the lender.
func (e *Engine) Liquidate(caller loan.Address, id uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	start := time.Now()

	l, err := e.beginLoanOp(OpLiquidate, id)
	if err != nil {
		return err
	}
	defer e.endLoanOp(id)

	if l.Status != loan.StatusActive {
		return e.reject(OpLiquidate, loan.ErrNotActive)
	}
	if l.Liquidation.Triggered {
		return e.reject(OpLiquidate, loan.ErrAlreadyLiquidated)
	}
	if !e.store.Active() {
		return e.reject(OpLiquidate, loan.ErrProtocolInactive)
	}

	now := e.clock()
	cfg := e.store.Config()
	trigger, err := e.liquidationTrigger(l, cfg, now)
	if err != nil {
		return e.reject(OpLiquidate, err)
	}

	liqFee, err := bpsFee(l.CollateralAmount, cfg.LiquidatorFee)
	if err != nil {
		return e.reject(OpLiquidate, err)
	}
	protoFee, err := bpsFee(l.CollateralAmount, cfg.ProtocolLiquidationFee)
	if err != nil {
		return e.reject(OpLiquidate, err)
	}
	if protoFee > l.CollateralAmount-liqFee {
		protoFee = l.CollateralAmount - liqFee
	}
	remainder := l.CollateralAmount - liqFee - protoFee

	// The trigger flag flips before any movement so a re-entered call can
	// never seize twice.
	l.Liquidation.Triggered = true

	batch := ledger.NewBatch(id, OpLiquidate, now)
	if liqFee > 0 {
		e.mustRelease(batch, caller, l.Collateral, liqFee)
	}
	if protoFee > 0 {
		e.mustRelease(batch, cfg.ProtocolFeeReceiver, l.Collateral, protoFee)
	}
	if remainder > 0 {
		e.mustRelease(batch, l.Lender, l.Collateral, remainder)
	}

	l.Status = loan.StatusLiquidated

	if e.metrics != nil {
		e.metrics.LiquidationsTriggered.WithLabelValues(trigger).Inc()
		e.metrics.LiquidationSeized.Add(float64(l.CollateralAmount))
	}
	e.commit(OpLiquidate, event.TypeLoanLiquidated, caller, l, batch, start)
	return nil
}

// liquidationTrigger reports why the loan is liquidatable: "expiry" when
// the duration has elapsed, "undercollateralized" when fresh oracle prices
// put the collateral value below the threshold. Otherwise ErrNotEligible,
// or an oracle error when the price check could not be made.
func (e *Engine) liquidationTrigger(l *loan.Loan, cfg config.ProtocolConfig, now int64) (string, error) {
	if now-l.StartTimestamp > l.Duration {
		return "expiry", nil
	}

	collPrice, err := e.freshPrice(l.Collateral, cfg, now)
	if err != nil {
		return "", err
	}
	assetPrice, err := e.freshPrice(l.Asset, cfg, now)
	if err != nil {
		return "", err
	}

	// collValue*10000 < owedValue*threshold, in big.Int to dodge overflow.
	collValue := new(big.Int).Mul(
		new(big.Int).SetUint64(collPrice.Value),
		new(big.Int).SetUint64(l.CollateralAmount),
	)
	collValue.Mul(collValue, big.NewInt(10000))

	owedValue := new(big.Int).Mul(
		new(big.Int).SetUint64(assetPrice.Value),
		new(big.Int).SetUint64(l.RepaymentAmount),
	)
	owedValue.Mul(owedValue, new(big.Int).SetUint64(l.Liquidation.ThresholdBps))

	if collValue.Cmp(owedValue) < 0 {
		return "undercollateralized", nil
	}
	return "", loan.ErrNotEligible
}

func (e *Engine) freshPrice(asset loan.AssetID, cfg config.ProtocolConfig, now int64) (oracle.Price, error) {
	p, err := e.oracle.Price(asset)
	if err != nil {
		if e.metrics != nil {
			e.metrics.OracleLookups.WithLabelValues("unset").Inc()
		}
		return oracle.Price{}, err
	}
	if now-p.UpdatedAt > cfg.OracleMaxStale {
		if e.metrics != nil {
			e.metrics.OracleLookups.WithLabelValues("stale").Inc()
		}
		return oracle.Price{}, loan.ErrStaleOracle
	}
	if e.metrics != nil {
		e.metrics.OracleLookups.WithLabelValues("fresh").Inc()
	}
	return p, nil
}

// --- reads ---

// GetLoan returns a copy of the loan with the given id.
func (e *Engine) GetLoan(id uint64) (loan.Loan, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.book.Get(id)
	if !ok {
		return loan.Loan{}, loan.ErrNotFound
	}
	return *l, nil
}

// GetLoanStatus returns the lifecycle status of the loan with the given id.
func (e *Engine) GetLoanStatus(id uint64) (loan.Status, error) {
	l, err := e.GetLoan(id)
	if err != nil {
		return 0, err
	}
	return l.Status, nil
}

// GetLoanLength returns the number of loans ever recorded.
func (e *Engine) GetLoanLength() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.book.Len()
}

// ProtocolConfig returns the current protocol parameter set.
func (e *Engine) ProtocolConfig() config.ProtocolConfig {
	return e.store.Config()
}

// ProtocolActive reports whether mutating operations are currently allowed.
func (e *Engine) ProtocolActive() bool {
	return e.store.Active()
}

// Owner returns the genesis owner address.
func (e *Engine) Owner() loan.Address {
	return e.store.Owner()
}

// Admins returns the registered admin set.
func (e *Engine) Admins() []loan.Address {
	return e.store.Admins()
}

// --- governance ---

// AddAdmin registers a new admin. Owner only.
func (e *Engine) AddAdmin(caller, addr loan.Address) error {
	if err := e.store.AddAdmin(caller, addr); err != nil {
		return e.reject("add_admin", err)
	}
	e.emitGovernance("add_admin", event.TypeAdminAdded, caller)
	return nil
}

// UpdateProtocolConfig swaps the protocol parameter singleton. Admin gated.
func (e *Engine) UpdateProtocolConfig(caller loan.Address, cfg config.ProtocolConfig) error {
	if err := e.store.UpdateConfig(caller, cfg); err != nil {
		return e.reject("update_protocol_config", err)
	}
	e.emitGovernance("update_protocol_config", event.TypeConfigUpdated, caller)
	return nil
}

// UpdateProtocolStatus flips the protocol-active gate. Admin gated.
func (e *Engine) UpdateProtocolStatus(caller loan.Address, active bool) error {
	if err := e.store.UpdateStatus(caller, active); err != nil {
		return e.reject("update_protocol_status", err)
	}
	e.emitGovernance("update_protocol_status", event.TypeStatusUpdated, caller)
	return nil
}

// UpdateOracleSource replaces the oracle endpoint. Admin gated.
func (e *Engine) UpdateOracleSource(caller loan.Address, feed oracle.PriceFeed) error {
	if !e.store.IsAdmin(caller) {
		return e.reject("update_oracle_source", loan.ErrUnauthorized)
	}
	e.oracle.SetSource(feed)
	return nil
}

// UpdateOracleFeedID registers or replaces the feed mapping for an asset.
// Admin gated.
func (e *Engine) UpdateOracleFeedID(caller loan.Address, asset loan.AssetID, feedID string) error {
	if !e.store.IsAdmin(caller) {
		return e.reject("update_oracle_feed_id", loan.ErrUnauthorized)
	}
	e.oracle.SetFeedID(asset, feedID)
	return nil
}

// --- internals ---

func newPendingLoan(terms loan.Terms, side loan.Side, now int64) *loan.Loan {
	return &loan.Loan{
		Borrower:         terms.Borrower,
		Lender:           terms.Lender,
		Asset:            terms.Asset,
		Collateral:       terms.Collateral,
		AssetAmount:      terms.AssetAmount,
		RepaymentAmount:  terms.RepaymentAmount,
		CollateralAmount: terms.CollateralAmount,
		CreatedTimestamp: now,
		Duration:         terms.Duration,
		Side:             side,
		Status:           loan.StatusPending,
		Liquidation: loan.Liquidation{
			ThresholdBps: terms.LiquidationThresholdBps,
		},
	}
}

func (e *Engine) validateCreation(terms loan.Terms) error {
	if !e.store.Active() {
		return loan.ErrProtocolInactive
	}
	if terms.AssetAmount == 0 || terms.CollateralAmount == 0 {
		return loan.ErrInvalidAmount
	}
	// Distinct legs are required: per-loan escrow is keyed by asset, so a
	// shared asset would conflate principal and collateral balances.
	if terms.Asset == terms.Collateral {
		return loan.ErrInvalidAmount
	}
	if terms.RepaymentAmount < terms.AssetAmount {
		return loan.ErrInvalidAmount
	}
	if terms.Duration < e.store.Config().MinLoanDuration {
		return loan.ErrDurationTooShort
	}
	return nil
}

func (e *Engine) fillPreconditions(l *loan.Loan, now int64) error {
	if l.Status != loan.StatusPending {
		return loan.ErrNotPending
	}
	if now-l.CreatedTimestamp > e.store.Config().TimeRequestLoanExpires {
		return loan.ErrExpired
	}
	if !e.store.Active() {
		return loan.ErrProtocolInactive
	}
	return nil
}

// beginLoanOp looks up the loan and marks it in flight. Callers must pair
// it with endLoanOp.
func (e *Engine) beginLoanOp(op string, id uint64) (*loan.Loan, error) {
	l, ok := e.book.Get(id)
	if !ok {
		return nil, e.reject(op, loan.ErrNotFound)
	}
	if _, busy := e.inflight[id]; busy {
		return nil, e.reject(op, loan.ErrReentrantCall)
	}
	e.inflight[id] = struct{}{}
	return l, nil
}

func (e *Engine) endLoanOp(id uint64) {
	delete(e.inflight, id)
}

// requireExact checks the forwarded payment against the expected leg.
func requireExact(pay loan.Payment, asset loan.AssetID, amount uint64) error {
	if pay.Asset != asset || pay.Amount != amount {
		return loan.ErrAmountMismatch
	}
	return nil
}

// bpsFee computes amount*bps/10000 with any nonzero division remainder
// rounded up into the fee, so no residue is silently dropped.
func bpsFee(amount, bps uint64) (uint64, error) {
	if bps == 0 {
		return 0, nil
	}
	if amount > math.MaxUint64/bps {
		return 0, loan.ErrInvalidAmount
	}
	p := amount * bps
	fee := p / 10000
	if p%10000 != 0 {
		fee++
	}
	return fee, nil
}

// mustEscrow and mustRelease run after every validation has passed; a
// failure here means the engine's own accounting is broken and the process
// must not continue.
func (e *Engine) mustEscrow(batch *ledger.Batch, party loan.Address, asset loan.AssetID, amount uint64) {
	if _, err := e.custody.Escrow(batch, party, asset, amount); err != nil {
		panic(fmt.Sprintf("FATAL: escrow failed after validation: %v", err))
	}
}

func (e *Engine) mustRelease(batch *ledger.Batch, party loan.Address, asset loan.AssetID, amount uint64) {
	if _, err := e.custody.Release(batch, party, asset, amount); err != nil {
		panic(fmt.Sprintf("FATAL: release failed after validation: %v", err))
	}
}

// commit finalizes a successful transition: validates the batch and vault
// conservation, assigns the event sequence, and emits to the persistence
// and publish channels.
func (e *Engine) commit(op string, evType event.Type, caller loan.Address, l *loan.Loan, batch *ledger.Batch, start time.Time) {
	if err := batch.Validate(); err != nil {
		panic(fmt.Sprintf("FATAL: malformed batch: %v", err))
	}
	if err := e.custody.Vault().ValidateConservation(); err != nil {
		panic(fmt.Sprintf("FATAL: %v", err))
	}

	e.sequence++
	snapshot := *l
	env := &event.Envelope{
		Sequence:  e.sequence,
		EventType: evType,
		LoanID:    l.ID,
		Caller:    caller,
		Timestamp: batch.Timestamp,
		Loan:      &snapshot,
		Journals:  batch.Journals,
	}

	e.emit(Output{Envelope: env, Batch: batch})

	if e.metrics != nil {
		e.metrics.OpsApplied.WithLabelValues(op).Inc()
		e.metrics.OpDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
		e.metrics.EngineSequence.Set(float64(e.sequence))
		e.metrics.LoansTotal.Set(float64(e.book.Len()))
		for _, j := range batch.Journals {
			e.metrics.Journals.WithLabelValues(j.Type.String()).Inc()
		}
	}
	e.log.Info().
		Str("op", op).
		Uint64("loan_id", l.ID).
		Str("status", l.Status.String()).
		Int64("sequence", e.sequence).
		Int("journals", len(batch.Journals)).
		Msg("transition committed")
}

func (e *Engine) emitGovernance(op string, evType event.Type, caller loan.Address) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sequence++
	env := &event.Envelope{
		Sequence:  e.sequence,
		EventType: evType,
		Caller:    caller,
		Timestamp: e.clock(),
	}
	e.emit(Output{Envelope: env})
	if e.metrics != nil {
		e.metrics.OpsApplied.WithLabelValues(op).Inc()
		e.metrics.EngineSequence.Set(float64(e.sequence))
	}
	e.log.Info().Str("op", op).Int64("sequence", e.sequence).Msg("governance applied")
}

func (e *Engine) emit(out Output) {
	if e.persistChan != nil {
		select {
		case e.persistChan <- out:
		default:
			if e.metrics != nil {
				e.metrics.PersistBackpressure.Inc()
			}
			e.persistChan <- out
		}
	}
	if e.publishChan != nil {
		select {
		case e.publishChan <- out:
		default:
			if e.metrics != nil {
				e.metrics.PublishDrops.Inc()
			}
		}
	}
}

func (e *Engine) reject(op string, err error) error {
	if e.metrics != nil {
		e.metrics.OpsRejected.WithLabelValues(op, reasonLabel(err)).Inc()
	}
	e.log.Debug().Str("op", op).Err(err).Msg("operation rejected")
	return err
}

func reasonLabel(err error) string {
	switch err {
	case loan.ErrUnauthorized:
		return "unauthorized"
	case loan.ErrWrongBorrower:
		return "wrong_borrower"
	case loan.ErrNotPending:
		return "not_pending"
	case loan.ErrNotActive:
		return "not_active"
	case loan.ErrExpired:
		return "expired"
	case loan.ErrAlreadyLiquidated:
		return "already_liquidated"
	case loan.ErrNotEligible:
		return "not_eligible"
	case loan.ErrInvalidAmount:
		return "invalid_amount"
	case loan.ErrAmountMismatch:
		return "amount_mismatch"
	case loan.ErrDurationTooShort:
		return "duration_too_short"
	case loan.ErrProtocolInactive:
		return "protocol_inactive"
	case loan.ErrDuplicateAdmin:
		return "duplicate_admin"
	case loan.ErrStaleOracle:
		return "stale_oracle"
	case loan.ErrOracleUnset:
		return "oracle_unset"
	case loan.ErrNotFound:
		return "not_found"
	case loan.ErrReentrantCall:
		return "reentrant_call"
	case custody.ErrInsufficientBalance:
		return "insufficient_balance"
	default:
		return "other"
	}
}
