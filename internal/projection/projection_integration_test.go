package projection

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"LoanLedger/internal/persistence"
	"LoanLedger/internal/testutil"
)

const (
	testParty = "0x0000000000000000000000000000000000000000000000000000000000000011"
	testAsset = "0x00000000000000000000000000000000000000000000000000000000000000a1"
)

func migratedDB(t *testing.T) (*sql.DB, context.Context, func()) {
	t.Helper()
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := persistence.NewMigrator(db, "../../migrations").Up(ctx); err != nil {
		cancel()
		cleanup()
		t.Fatalf("migrate: %v", err)
	}
	return db, ctx, func() {
		cancel()
		cleanup()
	}
}

func escrowedBalance(t *testing.T, ctx context.Context, db *sql.DB) int64 {
	t.Helper()
	var escrowed int64
	err := db.QueryRowContext(ctx, `
		SELECT escrowed FROM loan_ledger.balances WHERE party = $1 AND asset = $2
	`, testParty, testAsset).Scan(&escrowed)
	if err != nil {
		t.Fatalf("read balance: %v", err)
	}
	return escrowed
}

func TestWorkerAppliesUpdates(t *testing.T) {
	db, ctx, done := migratedDB(t)
	defer done()

	input := make(chan Update, 4)
	worker := NewWorker(db, input)

	workerDone := make(chan error, 1)
	go func() { workerDone <- worker.Run(ctx) }()

	input <- Update{
		Sequence:  1,
		Timestamp: 1700000000,
		Entries: []Entry{
			{LoanID: 1, JournalType: "escrow", Party: testParty, Asset: testAsset, Amount: 300},
		},
	}
	input <- Update{
		Sequence:  2,
		Timestamp: 1700000001,
		Entries: []Entry{
			{LoanID: 1, JournalType: "release", Party: testParty, Asset: testAsset, Amount: 100},
		},
	}
	close(input)
	if err := <-workerDone; err != nil {
		t.Fatalf("worker exit: %v", err)
	}

	if got := escrowedBalance(t, ctx, db); got != 200 {
		t.Fatalf("escrowed = %d, want 200", got)
	}

	var watermark int64
	if err := db.QueryRowContext(ctx, `
		SELECT last_sequence FROM loan_ledger.watermark WHERE worker_id = 'main'
	`).Scan(&watermark); err != nil {
		t.Fatalf("read watermark: %v", err)
	}
	if watermark != 2 {
		t.Fatalf("watermark = %d, want 2", watermark)
	}
}

func TestRebuildFromJournal(t *testing.T) {
	db, ctx, done := migratedDB(t)
	defer done()

	// Seed the journal log directly, then recompute projections from it.
	seed := []struct {
		journalID   string
		seq         int64
		journalType string
		amount      int64
	}{
		{"00000000-0000-0000-0000-000000000001", 1, "escrow", 700},
		{"00000000-0000-0000-0000-000000000002", 2, "release", 250},
	}
	for _, s := range seed {
		if _, err := db.ExecContext(ctx, `
			INSERT INTO loan_ledger.journal
				(journal_id, batch_id, sequence, loan_id, journal_type, party, asset, amount, timestamp)
			VALUES ($1, $1, $2, 1, $3, $4, $5, $6, 1700000000)
		`, s.journalID, s.seq, s.journalType, testParty, testAsset, s.amount); err != nil {
			t.Fatalf("seed journal: %v", err)
		}
	}

	// Stale projection row that the rebuild must replace.
	if _, err := db.ExecContext(ctx, `
		INSERT INTO loan_ledger.balances (party, asset, escrowed, last_sequence)
		VALUES ($1, $2, 99999, 1)
	`, testParty, testAsset); err != nil {
		t.Fatalf("seed stale balance: %v", err)
	}

	if err := Rebuild(ctx, db); err != nil {
		t.Fatalf("rebuild: %v", err)
	}

	if got := escrowedBalance(t, ctx, db); got != 450 {
		t.Fatalf("escrowed after rebuild = %d, want 450", got)
	}
}
