package core

import (
	"errors"
	"testing"

	"LoanLedger/internal/loan"
)

// activateLoan requests and fills the default loan so liquidation tests
// start from Active.
func activateLoan(t *testing.T, env *testEnv, terms loan.Terms) uint64 {
	t.Helper()
	id := mustRequest(t, env, terms)
	if err := env.engine.FillLoanRequest(lender, id, principalPayment(terms)); err != nil {
		t.Fatalf("fill: %v", err)
	}
	return id
}

func registerFeeds(t *testing.T, env *testEnv) {
	t.Helper()
	e := env.engine
	if err := e.UpdateOracleFeedID(owner, assetA, "ASSET_A"); err != nil {
		t.Fatalf("register asset feed: %v", err)
	}
	if err := e.UpdateOracleFeedID(owner, collateralB, "COLL_B"); err != nil {
		t.Fatalf("register collateral feed: %v", err)
	}
}

func TestLiquidateAfterExpiry(t *testing.T) {
	env := newTestEnv(t)
	e := env.engine
	terms := defaultTerms()
	id := activateLoan(t, env, terms)

	env.advance(terms.Duration + 1)
	if err := e.Liquidate(stranger, id); err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	if got, _ := e.GetLoanStatus(id); got != loan.StatusLiquidated {
		t.Fatalf("status = %v, want Liquidated", got)
	}

	// 100 B collateral: 1% liquidator fee, 1% protocol fee, remainder to
	// the lender. The three parts must sum to the full collateral.
	if got := e.Custody().BalanceOf(stranger, collateralB); got != 1 {
		t.Fatalf("liquidator cut = %d, want 1", got)
	}
	if got := e.Custody().BalanceOf(feeReceiver, collateralB); got != 1 {
		t.Fatalf("protocol cut = %d, want 1", got)
	}
	if got := e.Custody().BalanceOf(lender, collateralB); got != 98 {
		t.Fatalf("lender cut = %d, want 98", got)
	}
	if got := e.Custody().Vault().Balance(collateralB); got != 0 {
		t.Fatalf("vault collateral residue = %d, want 0", got)
	}

	if err := e.Liquidate(stranger, id); !errors.Is(err, loan.ErrNotActive) {
		t.Fatalf("second liquidate err = %v, want ErrNotActive", err)
	}
}

func TestLiquidateUndercollateralized(t *testing.T) {
	env := newTestEnv(t)
	e := env.engine
	terms := defaultTerms()
	id := activateLoan(t, env, terms)
	registerFeeds(t, env)

	// Threshold 8000 bps: eligible when collPrice*100*10000 < assetPrice*1100*8000.
	env.feed.Set("ASSET_A", 1, *env.now)
	env.feed.Set("COLL_B", 8, *env.now)

	if err := e.Liquidate(stranger, id); err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	if got, _ := e.GetLoanStatus(id); got != loan.StatusLiquidated {
		t.Fatalf("status = %v, want Liquidated", got)
	}
}

func TestLiquidateNotEligible(t *testing.T) {
	env := newTestEnv(t)
	e := env.engine
	terms := defaultTerms()
	id := activateLoan(t, env, terms)
	registerFeeds(t, env)

	env.feed.Set("ASSET_A", 1, *env.now)
	env.feed.Set("COLL_B", 9, *env.now)

	if err := e.Liquidate(stranger, id); !errors.Is(err, loan.ErrNotEligible) {
		t.Fatalf("err = %v, want ErrNotEligible", err)
	}
	if got, _ := e.GetLoanStatus(id); got != loan.StatusActive {
		t.Fatalf("status = %v, want Active", got)
	}
	if got := e.Custody().Vault().Balance(collateralB); got != 100 {
		t.Fatalf("vault collateral = %d, want 100 (nothing seized)", got)
	}
}

func TestLiquidateStaleOracle(t *testing.T) {
	env := newTestEnv(t)
	e := env.engine
	terms := defaultTerms()
	id := activateLoan(t, env, terms)
	registerFeeds(t, env)

	stale := *env.now - e.ProtocolConfig().OracleMaxStale - 1
	env.feed.Set("ASSET_A", 1, *env.now)
	env.feed.Set("COLL_B", 8, stale)

	if err := e.Liquidate(stranger, id); !errors.Is(err, loan.ErrStaleOracle) {
		t.Fatalf("err = %v, want ErrStaleOracle", err)
	}
}

func TestLiquidateOracleUnset(t *testing.T) {
	env := newTestEnv(t)
	e := env.engine
	terms := defaultTerms()
	id := activateLoan(t, env, terms)

	// No feeds registered and the loan has not expired.
	if err := e.Liquidate(stranger, id); !errors.Is(err, loan.ErrOracleUnset) {
		t.Fatalf("err = %v, want ErrOracleUnset", err)
	}
}

func TestLiquidatePendingLoan(t *testing.T) {
	env := newTestEnv(t)
	e := env.engine
	terms := defaultTerms()
	id := mustRequest(t, env, terms)

	if err := e.Liquidate(stranger, id); !errors.Is(err, loan.ErrNotActive) {
		t.Fatalf("err = %v, want ErrNotActive", err)
	}
}

func TestLiquidateTriggeredFlagGuards(t *testing.T) {
	env := newTestEnv(t)
	e := env.engine
	terms := defaultTerms()
	id := activateLoan(t, env, terms)

	l, ok := e.book.Get(id)
	if !ok {
		t.Fatalf("loan %d missing", id)
	}
	l.Liquidation.Triggered = true

	env.advance(terms.Duration + 1)
	if err := e.Liquidate(stranger, id); !errors.Is(err, loan.ErrAlreadyLiquidated) {
		t.Fatalf("err = %v, want ErrAlreadyLiquidated", err)
	}
}

func TestLiquidationFeeRoundingOnTinyCollateral(t *testing.T) {
	env := newTestEnv(t)
	e := env.engine
	terms := defaultTerms()
	terms.AssetAmount = 10
	terms.RepaymentAmount = 11
	terms.CollateralAmount = 1
	id := activateLoan(t, env, terms)

	env.advance(terms.Duration + 1)
	if err := e.Liquidate(stranger, id); err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	// The liquidator fee rounds up to the whole unit; the protocol fee is
	// capped so the split never exceeds the collateral.
	if got := e.Custody().BalanceOf(stranger, collateralB); got != 1 {
		t.Fatalf("liquidator cut = %d, want 1", got)
	}
	if got := e.Custody().BalanceOf(feeReceiver, collateralB); got != 0 {
		t.Fatalf("protocol cut = %d, want 0", got)
	}
	if got := e.Custody().BalanceOf(lender, collateralB); got != 0 {
		t.Fatalf("lender cut = %d, want 0", got)
	}
	if got := e.Custody().Vault().Balance(collateralB); got != 0 {
		t.Fatalf("vault residue = %d, want 0", got)
	}
}
