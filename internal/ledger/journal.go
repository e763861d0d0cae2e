package ledger

import (
	"fmt"

	"github.com/google/uuid"

	"LoanLedger/internal/loan"
)

// JournalType says which direction an asset moved relative to the vault.
type JournalType int32

const (
	// JournalTypeEscrow pulls funds from a party into vault custody.
	JournalTypeEscrow JournalType = iota
	// JournalTypeRelease pushes escrowed funds from the vault to a party.
	JournalTypeRelease
)

func (t JournalType) String() string {
	switch t {
	case JournalTypeEscrow:
		return "escrow"
	case JournalTypeRelease:
		return "release"
	default:
		return "unknown"
	}
}

// Journal records a single custody movement tied to a loan.
type Journal struct {
	JournalID uuid.UUID    `json:"journal_id"`
	BatchID   uuid.UUID    `json:"batch_id"`
	LoanID    uint64       `json:"loan_id"`
	Type      JournalType  `json:"type"`
	Party     loan.Address `json:"party"` // Payer for escrow, recipient for release
	Asset     loan.AssetID `json:"asset"`
	Amount    uint64       `json:"amount"`
	Timestamp int64        `json:"timestamp"`
}

// Batch groups the custody movements of one lifecycle transition. A batch
// commits as a unit with the transition; a transition that fails validation
// produces no batch at all.
type Batch struct {
	BatchID   uuid.UUID
	LoanID    uint64
	Operation string
	Timestamp int64
	Journals  []Journal
}

// NewBatch starts an empty batch for one transition.
func NewBatch(loanID uint64, operation string, timestamp int64) *Batch {
	return &Batch{
		BatchID:   uuid.New(),
		LoanID:    loanID,
		Operation: operation,
		Timestamp: timestamp,
	}
}

// Validate ensures the batch is well-formed: positive amounts, consistent
// batch and loan ids.
func (b *Batch) Validate() error {
	for _, j := range b.Journals {
		if j.Amount == 0 {
			return fmt.Errorf("journal %s has zero amount", j.JournalID)
		}
		if j.BatchID != b.BatchID {
			return fmt.Errorf("journal %s has mismatched batch_id", j.JournalID)
		}
		if j.LoanID != b.LoanID {
			return fmt.Errorf("journal %s has mismatched loan_id", j.JournalID)
		}
	}
	return nil
}
