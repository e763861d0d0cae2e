package loan

import "errors"

// Failure taxonomy for the lifecycle engine. Every failure is detected
// before any custody movement, so a failed call changes nothing and retry
// is always safe.
var (
	// Authorization.
	ErrUnauthorized  = errors.New("loan: unauthorized")
	ErrWrongBorrower = errors.New("loan: caller is not the borrower")

	// State preconditions.
	ErrNotPending        = errors.New("loan: loan is not pending")
	ErrNotActive         = errors.New("loan: loan is not active")
	ErrExpired           = errors.New("loan: pending loan has expired")
	ErrAlreadyLiquidated = errors.New("loan: liquidation already triggered")
	ErrNotEligible       = errors.New("loan: not eligible for liquidation")

	// Numeric / policy.
	ErrInvalidAmount    = errors.New("loan: invalid amount")
	ErrAmountMismatch   = errors.New("loan: forwarded payment does not match terms")
	ErrDurationTooShort = errors.New("loan: duration below protocol minimum")

	// Governance.
	ErrProtocolInactive = errors.New("loan: protocol is inactive")
	ErrDuplicateAdmin   = errors.New("loan: admin already registered")

	// External dependency.
	ErrStaleOracle = errors.New("loan: oracle price is stale")
	ErrOracleUnset = errors.New("loan: no oracle feed registered for asset")

	// Lookup / concurrency.
	ErrNotFound      = errors.New("loan: loan not found")
	ErrReentrantCall = errors.New("loan: operation already in flight for loan")
)
