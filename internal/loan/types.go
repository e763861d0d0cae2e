package loan

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Address is an opaque 256-bit account identifier.
type Address [32]byte

// AssetID is an opaque 256-bit asset identifier. It shares the encoding of
// Address but lives in a distinct namespace, so it gets a distinct type.
type AssetID [32]byte

// ParseAddress decodes a hex-encoded address, with or without a 0x prefix.
func ParseAddress(s string) (Address, error) {
	var a Address
	b, err := decode256(s)
	if err != nil {
		return a, fmt.Errorf("parse address %q: %w", s, err)
	}
	copy(a[:], b)
	return a, nil
}

// ParseAssetID decodes a hex-encoded asset identifier.
func ParseAssetID(s string) (AssetID, error) {
	var id AssetID
	b, err := decode256(s)
	if err != nil {
		return id, fmt.Errorf("parse asset id %q: %w", s, err)
	}
	copy(id[:], b)
	return id, nil
}

func decode256(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, err
	}
	if len(b) != 32 {
		return nil, fmt.Errorf("expected 32 bytes, got %d", len(b))
	}
	return b, nil
}

func (a Address) String() string { return "0x" + hex.EncodeToString(a[:]) }

// IsZero reports whether the address is the all-zero value.
func (a Address) IsZero() bool { return a == Address{} }

func (a Address) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

func (a *Address) UnmarshalText(b []byte) error {
	parsed, err := ParseAddress(string(b))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

func (id AssetID) String() string { return "0x" + hex.EncodeToString(id[:]) }

func (id AssetID) IsZero() bool { return id == AssetID{} }

func (id AssetID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

func (id *AssetID) UnmarshalText(b []byte) error {
	parsed, err := ParseAssetID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// Payment is the typed forwarded-value pair attached to every mutating
// lifecycle call. It is always explicit in the operation's input, never
// inferred from surrounding environment.
type Payment struct {
	Asset  AssetID `json:"asset"`
	Amount uint64  `json:"amount"`
}

// Side identifies which counterparty opened a loan. It is fixed at
// creation: RequestLoan records SideBorrower, OfferLoan SideLender.
type Side uint8

const (
	SideBorrower Side = iota
	SideLender
)

func (s Side) String() string {
	switch s {
	case SideBorrower:
		return "borrower"
	case SideLender:
		return "lender"
	default:
		return "unknown"
	}
}

// Initiator returns the address of the side that opened the loan.
func (l *Loan) Initiator() Address {
	if l.Side == SideLender {
		return l.Lender
	}
	return l.Borrower
}

// Liquidation carries the per-loan liquidation parameters and the internal
// once-only trigger flag.
type Liquidation struct {
	// ThresholdBps is the collateral-value floor, in basis points of the
	// owed value, below which the loan becomes liquidatable.
	ThresholdBps uint64 `json:"liquidation_threshold_in_bps"`

	// Triggered marks that liquidation has been initiated for this loan.
	// It is set exactly once, before any custody movement, and guards
	// against re-entrant double-liquidation.
	Triggered bool `json:"liquidation_flag_internal"`
}

// Loan is the central ledger entity. A loan is appended once, mutated only
// through lifecycle transitions, and never deleted.
type Loan struct {
	ID               uint64      `json:"id"`
	Borrower         Address     `json:"borrower"`
	Lender           Address     `json:"lender"`
	Asset            AssetID     `json:"asset"`
	Collateral       AssetID     `json:"collateral"`
	AssetAmount      uint64      `json:"asset_amount"`
	RepaymentAmount  uint64      `json:"repayment_amount"`
	CollateralAmount uint64      `json:"collateral_amount"`
	CreatedTimestamp int64       `json:"created_timestamp"`
	StartTimestamp   int64       `json:"start_timestamp"`
	Duration         int64       `json:"duration"`
	Side             Side        `json:"side"`
	Status           Status      `json:"status"`
	Liquidation      Liquidation `json:"liquidation"`
}

// Terms is the caller-supplied input to request_loan / offer_loan. The
// engine derives everything else (id, timestamps, status).
type Terms struct {
	Borrower                Address `json:"borrower"`
	Lender                  Address `json:"lender"`
	Asset                   AssetID `json:"asset"`
	Collateral              AssetID `json:"collateral"`
	AssetAmount             uint64  `json:"asset_amount"`
	RepaymentAmount         uint64  `json:"repayment_amount"`
	CollateralAmount        uint64  `json:"collateral_amount"`
	Duration                int64   `json:"duration"`
	LiquidationThresholdBps uint64  `json:"liquidation_threshold_in_bps"`
}
