package query

import "encoding/json"

// EventRecord is a persisted lifecycle event for API queries.
type EventRecord struct {
	Sequence  int64           `json:"sequence"`
	EventType string          `json:"event_type"`
	LoanID    int64           `json:"loan_id"`
	Caller    string          `json:"caller"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp int64           `json:"timestamp"`
}

// JournalRecord is a persisted custody movement for API queries.
type JournalRecord struct {
	JournalID   string `json:"journal_id"`
	BatchID     string `json:"batch_id"`
	Sequence    int64  `json:"sequence"`
	LoanID      int64  `json:"loan_id"`
	JournalType string `json:"journal_type"`
	Party       string `json:"party"`
	Asset       string `json:"asset"`
	Amount      int64  `json:"amount"`
	Timestamp   int64  `json:"timestamp"`
}

// EscrowBalance is a projected net escrow position for one party and asset.
// Negative values are possible: releases credit the receiving party, which
// may never have escrowed anything (a borrower receiving principal).
type EscrowBalance struct {
	Party        string `json:"party"`
	Asset        string `json:"asset"`
	Escrowed     int64  `json:"escrowed"`
	AsOfSequence int64  `json:"as_of_sequence"`
}

// IntegrityReport is the result of an integrity verification sweep.
type IntegrityReport struct {
	IsHealthy    bool           `json:"is_healthy"`
	SequenceGaps []int64        `json:"sequence_gaps,omitempty"`
	OverRedeemed []OverRedeemed `json:"over_redeemed,omitempty"`
	AsOfSequence int64          `json:"as_of_sequence"`
}

// OverRedeemed flags a loan whose released amount exceeds what was ever
// escrowed for an asset. The engine makes this unreachable; a hit means
// the persisted log was tampered with or partially lost.
type OverRedeemed struct {
	LoanID   int64  `json:"loan_id"`
	Asset    string `json:"asset"`
	Escrowed int64  `json:"escrowed"`
	Released int64  `json:"released"`
}
