package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"LoanLedger/internal/event"
	"LoanLedger/internal/ledger"
)

// EventLogWriter writes lifecycle events and custody journals to Postgres
// using multi-row INSERT. Writes are idempotent: replays of already-written
// sequences are no-ops.
type EventLogWriter struct {
	db *sql.DB
}

// EventRow represents a row in loan_ledger.events.
type EventRow struct {
	Sequence  int64
	EventType string
	LoanID    int64
	Caller    string
	Payload   []byte // JSON-encoded envelope
	Timestamp int64
}

// JournalRow represents a row in loan_ledger.journal.
type JournalRow struct {
	JournalID   string
	BatchID     string
	Sequence    int64
	LoanID      int64
	JournalType string
	Party       string
	Asset       string
	Amount      int64
	Timestamp   int64
}

// Record is one engine output flattened into rows. The orchestrator
// (cmd/loanledger) bridges core.Output into Records to avoid an import
// cycle between core and persistence.
type Record struct {
	EventRow    EventRow
	JournalRows []JournalRow
}

// NewRecord flattens an envelope and its batch into insertable rows.
func NewRecord(env *event.Envelope, batch *ledger.Batch) (Record, error) {
	payload, err := env.Encode()
	if err != nil {
		return Record{}, fmt.Errorf("encode envelope seq %d: %w", env.Sequence, err)
	}
	rec := Record{
		EventRow: EventRow{
			Sequence:  env.Sequence,
			EventType: env.EventType.String(),
			LoanID:    int64(env.LoanID),
			Caller:    env.Caller.String(),
			Payload:   payload,
			Timestamp: env.Timestamp,
		},
	}
	if batch == nil {
		return rec, nil
	}
	for _, j := range batch.Journals {
		rec.JournalRows = append(rec.JournalRows, JournalRow{
			JournalID:   j.JournalID.String(),
			BatchID:     j.BatchID.String(),
			Sequence:    env.Sequence,
			LoanID:      int64(j.LoanID),
			JournalType: j.Type.String(),
			Party:       j.Party.String(),
			Asset:       j.Asset.String(),
			Amount:      int64(j.Amount),
			Timestamp:   j.Timestamp,
		})
	}
	return rec, nil
}

func NewEventLogWriter(db *sql.DB) *EventLogWriter {
	return &EventLogWriter{db: db}
}

// WriteEventBatch writes a batch of events to loan_ledger.events inside the
// given transaction.
func (w *EventLogWriter) WriteEventBatch(ctx context.Context, events []EventRow, tx *sql.Tx) error {
	if len(events) == 0 {
		return nil
	}

	query := `INSERT INTO loan_ledger.events
		(sequence, event_type, loan_id, caller, payload, timestamp)
		VALUES `

	values := make([]string, 0, len(events))
	args := make([]interface{}, 0, len(events)*6)

	for i, e := range events {
		base := i * 6
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6,
		))
		args = append(args,
			e.Sequence, e.EventType, e.LoanID, e.Caller, e.Payload, e.Timestamp,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// WriteJournalBatch writes a batch of journal entries to loan_ledger.journal
// inside the given transaction.
func (w *EventLogWriter) WriteJournalBatch(ctx context.Context, journals []JournalRow, tx *sql.Tx) error {
	if len(journals) == 0 {
		return nil
	}

	query := `INSERT INTO loan_ledger.journal
		(journal_id, batch_id, sequence, loan_id, journal_type, party, asset, amount, timestamp)
		VALUES `

	values := make([]string, 0, len(journals))
	args := make([]interface{}, 0, len(journals)*9)

	for i, j := range journals {
		base := i * 9
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9,
		))
		args = append(args,
			j.JournalID, j.BatchID, j.Sequence, j.LoanID,
			j.JournalType, j.Party, j.Asset, j.Amount, j.Timestamp,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (journal_id) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// LastSequence returns the highest persisted event sequence, or 0 when the
// log is empty.
func (w *EventLogWriter) LastSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := w.db.QueryRowContext(ctx,
		`SELECT MAX(sequence) FROM loan_ledger.events`,
	).Scan(&seq)
	if err != nil {
		return 0, err
	}
	return seq.Int64, nil
}
