package ledger

import (
	"LoanLedger/internal/loan"
)

// Book is the append-only, index-addressed loan ledger. A loan's id is its
// index at append time; ids are never reused and records are never deleted.
type Book struct {
	loans []*loan.Loan
}

func NewBook() *Book {
	return &Book{}
}

// NextID returns the id the next appended loan will receive.
func (b *Book) NextID() uint64 {
	return uint64(len(b.loans))
}

// Append assigns the next sequential id to l and records it. The id is
// returned and also written to l.ID.
func (b *Book) Append(l *loan.Loan) uint64 {
	id := uint64(len(b.loans))
	l.ID = id
	b.loans = append(b.loans, l)
	return id
}

// Get returns the loan with the given id. The returned pointer is the live
// record; callers outside the engine's lock must copy before sharing.
func (b *Book) Get(id uint64) (*loan.Loan, bool) {
	if id >= uint64(len(b.loans)) {
		return nil, false
	}
	return b.loans[id], true
}

// Len returns the number of loans ever recorded.
func (b *Book) Len() uint64 {
	return uint64(len(b.loans))
}

// Snapshot returns copies of all loans, for state dumps and tests.
func (b *Book) Snapshot() []loan.Loan {
	out := make([]loan.Loan, len(b.loans))
	for i, l := range b.loans {
		out[i] = *l
	}
	return out
}
