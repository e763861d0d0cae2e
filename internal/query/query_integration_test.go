package query

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"

	"LoanLedger/internal/persistence"
	"LoanLedger/internal/projection"
	"LoanLedger/internal/testutil"
)

const (
	partyA = "0x0000000000000000000000000000000000000000000000000000000000000010"
	partyB = "0x0000000000000000000000000000000000000000000000000000000000000020"
	assetX = "0x00000000000000000000000000000000000000000000000000000000000000a0"
)

func writeRow(t *testing.T, ctx context.Context, db *sql.DB, w *persistence.EventLogWriter, seq, loanID int64, eventType, journalType, party string, amount int64) {
	t.Helper()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin tx: %v", err)
	}
	ev := persistence.EventRow{
		Sequence:  seq,
		EventType: eventType,
		LoanID:    loanID,
		Caller:    party,
		Payload:   []byte(`{}`),
		Timestamp: 1700000000 + seq,
	}
	jr := persistence.JournalRow{
		JournalID:   uuid.NewString(),
		BatchID:     uuid.NewString(),
		Sequence:    seq,
		LoanID:      loanID,
		JournalType: journalType,
		Party:       party,
		Asset:       assetX,
		Amount:      amount,
		Timestamp:   1700000000 + seq,
	}
	if err := w.WriteEventBatch(ctx, []persistence.EventRow{ev}, tx); err != nil {
		t.Fatalf("write event: %v", err)
	}
	if err := w.WriteJournalBatch(ctx, []persistence.JournalRow{jr}, tx); err != nil {
		t.Fatalf("write journal: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

func setupHistory(t *testing.T) (*sql.DB, context.Context, func()) {
	t.Helper()
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)

	if err := persistence.NewMigrator(db, "../../migrations").Up(ctx); err != nil {
		cancel()
		cleanup()
		t.Fatalf("migrate: %v", err)
	}

	w := persistence.NewEventLogWriter(db)
	writeRow(t, ctx, db, w, 1, 7, "loan_requested", "escrow", partyA, 500)
	writeRow(t, ctx, db, w, 2, 7, "loan_canceled", "release", partyA, 500)
	writeRow(t, ctx, db, w, 3, 8, "loan_requested", "escrow", partyB, 900)

	if err := projection.Rebuild(ctx, db); err != nil {
		cancel()
		cleanup()
		t.Fatalf("rebuild: %v", err)
	}

	return db, ctx, func() {
		cancel()
		cleanup()
	}
}

func TestLoanEventsPagination(t *testing.T) {
	db, ctx, done := setupHistory(t)
	defer done()

	svc := NewService(db)

	events, err := svc.LoanEvents(ctx, 7, 10, nil)
	if err != nil {
		t.Fatalf("loan events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].Sequence != 2 || events[1].Sequence != 1 {
		t.Fatalf("events not newest first: %d, %d", events[0].Sequence, events[1].Sequence)
	}

	before := int64(2)
	page, err := svc.LoanEvents(ctx, 7, 10, &before)
	if err != nil {
		t.Fatalf("paginated loan events: %v", err)
	}
	if len(page) != 1 || page[0].Sequence != 1 {
		t.Fatalf("pagination returned wrong page: %+v", page)
	}
}

func TestJournalHistoryByParty(t *testing.T) {
	db, ctx, done := setupHistory(t)
	defer done()

	svc := NewService(db)

	journals, err := svc.JournalHistory(ctx, partyA, 10, nil)
	if err != nil {
		t.Fatalf("journal history: %v", err)
	}
	if len(journals) != 2 {
		t.Fatalf("got %d journals for party A, want 2", len(journals))
	}
	if journals[0].JournalType != "release" || journals[1].JournalType != "escrow" {
		t.Fatalf("unexpected ordering: %s, %s", journals[0].JournalType, journals[1].JournalType)
	}

	other, err := svc.JournalHistory(ctx, partyB, 10, nil)
	if err != nil {
		t.Fatalf("journal history: %v", err)
	}
	if len(other) != 1 || other[0].Amount != 900 {
		t.Fatalf("unexpected party B journals: %+v", other)
	}
}

func TestEscrowBalancesProjection(t *testing.T) {
	db, ctx, done := setupHistory(t)
	defer done()

	svc := NewService(db)

	// Party A escrowed and was released the same amount.
	balances, err := svc.EscrowBalances(ctx, partyA)
	if err != nil {
		t.Fatalf("escrow balances: %v", err)
	}
	if len(balances) != 1 || balances[0].Escrowed != 0 {
		t.Fatalf("party A balances = %+v, want single zero entry", balances)
	}
	if balances[0].AsOfSequence != 3 {
		t.Fatalf("as_of_sequence = %d, want 3", balances[0].AsOfSequence)
	}

	// Party B still has an open escrow.
	balances, err = svc.EscrowBalances(ctx, partyB)
	if err != nil {
		t.Fatalf("escrow balances: %v", err)
	}
	if len(balances) != 1 || balances[0].Escrowed != 900 {
		t.Fatalf("party B balances = %+v, want escrowed 900", balances)
	}
}

func TestVerifyIntegrityHealthy(t *testing.T) {
	db, ctx, done := setupHistory(t)
	defer done()

	svc := NewService(db)

	report, err := svc.VerifyIntegrity(ctx)
	if err != nil {
		t.Fatalf("verify integrity: %v", err)
	}
	if !report.IsHealthy {
		t.Fatalf("report unhealthy: %+v", report)
	}
}

func TestVerifyIntegrityDetectsGapAndOverRelease(t *testing.T) {
	db, ctx, done := setupHistory(t)
	defer done()

	w := persistence.NewEventLogWriter(db)
	// Sequence 5 with no 4 before it, releasing more than loan 8 escrowed.
	writeRow(t, ctx, db, w, 5, 8, "loan_repaid", "release", partyB, 5000)

	svc := NewService(db)
	report, err := svc.VerifyIntegrity(ctx)
	if err != nil {
		t.Fatalf("verify integrity: %v", err)
	}
	if report.IsHealthy {
		t.Fatal("report healthy, want unhealthy")
	}
	if len(report.SequenceGaps) != 1 || report.SequenceGaps[0] != 5 {
		t.Fatalf("sequence gaps = %v, want [5]", report.SequenceGaps)
	}
	if len(report.OverRedeemed) != 1 || report.OverRedeemed[0].LoanID != 8 {
		t.Fatalf("over redeemed = %+v, want loan 8", report.OverRedeemed)
	}
}
