// Package event defines the records the engine emits after each committed
// lifecycle transition. Events carry a full loan snapshot so downstream
// consumers never need to reconstruct state from deltas.
package event

import (
	"encoding/json"

	"LoanLedger/internal/ledger"
	"LoanLedger/internal/loan"
)

// Type discriminator for lifecycle events.
type Type int32

const (
	TypeUnknown Type = iota
	TypeLoanRequested
	TypeLoanOffered
	TypeLoanFilled
	TypeLoanRepaid
	TypeLoanCanceled
	TypeLoanLiquidated
	TypeConfigUpdated
	TypeStatusUpdated
	TypeAdminAdded
)

func (t Type) String() string {
	switch t {
	case TypeLoanRequested:
		return "loan_requested"
	case TypeLoanOffered:
		return "loan_offered"
	case TypeLoanFilled:
		return "loan_filled"
	case TypeLoanRepaid:
		return "loan_repaid"
	case TypeLoanCanceled:
		return "loan_canceled"
	case TypeLoanLiquidated:
		return "loan_liquidated"
	case TypeConfigUpdated:
		return "config_updated"
	case TypeStatusUpdated:
		return "status_updated"
	case TypeAdminAdded:
		return "admin_added"
	default:
		return "unknown"
	}
}

// Envelope wraps every event in the log.
type Envelope struct {
	// Global monotonic sequence assigned by the engine.
	Sequence int64 `json:"sequence"`

	// Event type discriminator.
	EventType Type `json:"event_type"`

	// Loan the event belongs to. Zero for governance events.
	LoanID uint64 `json:"loan_id"`

	// Caller that triggered the transition.
	Caller loan.Address `json:"caller"`

	// Engine clock time of the transition (unix seconds).
	Timestamp int64 `json:"timestamp"`

	// Loan snapshot AFTER the transition. Nil for governance events.
	Loan *loan.Loan `json:"loan,omitempty"`

	// Custody movements committed with the transition.
	Journals []ledger.Journal `json:"journals,omitempty"`
}

// Encode serializes the envelope for persistence and publication.
func (e *Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// Decode deserializes an envelope produced by Encode.
func Decode(data []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return &e, nil
}
