package projection

import (
	"context"
	"database/sql"
	"fmt"
	"log"
)

// Update carries the custody movements of one committed engine output.
// The orchestrator bridges between core.Output and this.
type Update struct {
	Sequence  int64
	Entries   []Entry
	Timestamp int64
}

// Entry is a single custody movement flattened for projection consumption.
type Entry struct {
	LoanID      int64
	JournalType string // "escrow" or "release"
	Party       string
	Asset       string
	Amount      int64
}

// Worker maintains the escrow balance projection from committed journals.
// Updates are best-effort: the projection channel drops under load, and a
// missed update is recoverable by rebuilding from the journal log.
type Worker struct {
	db        *sql.DB
	inputChan <-chan Update
	lastSeq   int64
}

func NewWorker(db *sql.DB, inputChan <-chan Update) *Worker {
	return &Worker{
		db:        db,
		inputChan: inputChan,
	}
}

// Run starts the projection loop.
func (pw *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case update, ok := <-pw.inputChan:
			if !ok {
				return nil
			}

			if err := pw.processUpdate(ctx, update); err != nil {
				log.Printf("WARN: projection update failed at seq=%d: %v", update.Sequence, err)
				// Eventually consistent, rebuildable from the journal log.
			}

			pw.lastSeq = update.Sequence
		}
	}
}

func (pw *Worker) processUpdate(ctx context.Context, update Update) error {
	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, e := range update.Entries {
		if err := pw.applyEntry(ctx, tx, e, update.Sequence); err != nil {
			return fmt.Errorf("balance projection: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO loan_ledger.watermark (worker_id, last_sequence, updated_at)
		VALUES ('main', $1, NOW())
		ON CONFLICT (worker_id) DO UPDATE SET last_sequence = $1, updated_at = NOW()
	`, update.Sequence); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}

	return tx.Commit()
}

func (pw *Worker) applyEntry(ctx context.Context, tx *sql.Tx, e Entry, seq int64) error {
	// Escrow moves funds into vault custody, release moves them back out.
	delta := e.Amount
	if e.JournalType == "release" {
		delta = -delta
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO loan_ledger.balances (party, asset, escrowed, last_sequence)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (party, asset)
		DO UPDATE SET escrowed = loan_ledger.balances.escrowed + $3, last_sequence = $4
	`, e.Party, e.Asset, delta, seq)
	return err
}

// Rebuild recomputes the balance projection from the journal log. Releases
// are credited to the receiving party, which may differ from the escrowing
// party, so per-party escrowed values can legitimately go negative; the
// per-asset sum across parties must stay non-negative.
func Rebuild(ctx context.Context, db *sql.DB) error {
	truncateStatements := []string{
		`TRUNCATE loan_ledger.balances`,
		`DELETE FROM loan_ledger.watermark WHERE worker_id = 'main'`,
	}

	for _, stmt := range truncateStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("truncate failed: %w", err)
		}
	}

	_, err := db.ExecContext(ctx, `
		INSERT INTO loan_ledger.balances (party, asset, escrowed, last_sequence)
		SELECT
			party,
			asset,
			SUM(CASE WHEN journal_type = 'escrow' THEN amount ELSE -amount END) AS escrowed,
			MAX(sequence) AS last_sequence
		FROM loan_ledger.journal
		GROUP BY party, asset
	`)
	if err != nil {
		return fmt.Errorf("rebuild balances: %w", err)
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO loan_ledger.watermark (worker_id, last_sequence, updated_at)
		SELECT 'main', COALESCE(MAX(sequence), 0), NOW() FROM loan_ledger.journal
		ON CONFLICT (worker_id) DO UPDATE
			SET last_sequence = EXCLUDED.last_sequence, updated_at = NOW()
	`)
	if err != nil {
		return fmt.Errorf("rebuild watermark: %w", err)
	}

	log.Println("INFO: projection rebuild complete")
	return nil
}
