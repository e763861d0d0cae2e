package query

import (
	"context"
	"database/sql"
	"fmt"
)

// Service provides read-only access to the persisted event log and the
// balance projection. Responses carry as_of_sequence so callers can tell
// how far behind the live engine a read is.
type Service struct {
	db *sql.DB
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// LoanEvents returns the persisted lifecycle history of one loan, newest
// first, with cursor pagination on sequence.
func (s *Service) LoanEvents(
	ctx context.Context,
	loanID int64,
	limit int,
	beforeSequence *int64,
) ([]EventRecord, error) {
	query := `
		SELECT sequence, event_type, loan_id, caller, payload, timestamp
		FROM loan_ledger.events
		WHERE loan_id = $1
	`
	args := []interface{}{loanID}
	argIdx := 2

	if beforeSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *beforeSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []EventRecord
	for rows.Next() {
		var e EventRecord
		if err := rows.Scan(
			&e.Sequence, &e.EventType, &e.LoanID, &e.Caller, &e.Payload, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		events = append(events, e)
	}

	return events, rows.Err()
}

// JournalHistory returns custody movements touching one party, newest first,
// with cursor pagination on sequence.
func (s *Service) JournalHistory(
	ctx context.Context,
	party string,
	limit int,
	beforeSequence *int64,
) ([]JournalRecord, error) {
	query := `
		SELECT journal_id, batch_id, sequence, loan_id, journal_type,
		       party, asset, amount, timestamp
		FROM loan_ledger.journal
		WHERE party = $1
	`
	args := []interface{}{party}
	argIdx := 2

	if beforeSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *beforeSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []JournalRecord
	for rows.Next() {
		var j JournalRecord
		if err := rows.Scan(
			&j.JournalID, &j.BatchID, &j.Sequence, &j.LoanID, &j.JournalType,
			&j.Party, &j.Asset, &j.Amount, &j.Timestamp,
		); err != nil {
			return nil, err
		}
		entries = append(entries, j)
	}

	return entries, rows.Err()
}

// EscrowBalances returns the projected net escrow per asset for one party.
func (s *Service) EscrowBalances(ctx context.Context, party string) ([]EscrowBalance, error) {
	asOfSeq, err := s.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT asset, escrowed
		FROM loan_ledger.balances
		WHERE party = $1
		ORDER BY asset
	`, party)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var balances []EscrowBalance
	for rows.Next() {
		b := EscrowBalance{Party: party, AsOfSequence: asOfSeq}
		if err := rows.Scan(&b.Asset, &b.Escrowed); err != nil {
			return nil, err
		}
		balances = append(balances, b)
	}

	return balances, rows.Err()
}

// VerifyIntegrity checks the persisted log for sequence gaps and loans that
// released more of an asset than was ever escrowed for it.
func (s *Service) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	report := &IntegrityReport{}

	asOfSeq, err := s.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}
	report.AsOfSequence = asOfSeq

	// Sequence continuity: each event except the first must have a
	// predecessor.
	rows, err := s.db.QueryContext(ctx, `
		SELECT e1.sequence
		FROM loan_ledger.events e1
		LEFT JOIN loan_ledger.events e0 ON e0.sequence = e1.sequence - 1
		WHERE e1.sequence > 1 AND e0.sequence IS NULL
		ORDER BY e1.sequence
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			return nil, err
		}
		report.SequenceGaps = append(report.SequenceGaps, seq)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Conservation per loan and asset: releases never exceed escrows.
	balanceRows, err := s.db.QueryContext(ctx, `
		SELECT loan_id, asset,
		       SUM(CASE WHEN journal_type = 'escrow' THEN amount ELSE 0 END) AS escrowed,
		       SUM(CASE WHEN journal_type = 'release' THEN amount ELSE 0 END) AS released
		FROM loan_ledger.journal
		GROUP BY loan_id, asset
		HAVING SUM(CASE WHEN journal_type = 'release' THEN amount ELSE 0 END)
		     > SUM(CASE WHEN journal_type = 'escrow' THEN amount ELSE 0 END)
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer balanceRows.Close()

	for balanceRows.Next() {
		var o OverRedeemed
		if err := balanceRows.Scan(&o.LoanID, &o.Asset, &o.Escrowed, &o.Released); err != nil {
			return nil, err
		}
		report.OverRedeemed = append(report.OverRedeemed, o)
	}
	if err := balanceRows.Err(); err != nil {
		return nil, err
	}

	report.IsHealthy = len(report.SequenceGaps) == 0 && len(report.OverRedeemed) == 0
	return report, nil
}

func (s *Service) getWatermark(ctx context.Context) (int64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(last_sequence, 0) FROM loan_ledger.watermark WHERE worker_id = 'main'
	`).Scan(&seq)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return seq, err
}
