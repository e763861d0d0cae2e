package loan

// Status is the loan lifecycle state. The numeric values are part of the
// wire contract and must not be reordered.
type Status uint8

const (
	StatusPending    Status = 0
	StatusCanceled   Status = 1
	StatusActive     Status = 2
	StatusRepaid     Status = 3
	StatusLiquidated Status = 4
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "Pending"
	case StatusCanceled:
		return "Canceled"
	case StatusActive:
		return "Active"
	case StatusRepaid:
		return "Repaid"
	case StatusLiquidated:
		return "Liquidated"
	default:
		return "Unknown"
	}
}

// Terminal reports whether no further transition is allowed from s.
func (s Status) Terminal() bool {
	switch s {
	case StatusCanceled, StatusRepaid, StatusLiquidated:
		return true
	}
	return false
}

// CanTransitionTo reports whether the state machine permits moving from s
// to next. Pending → {Active, Canceled}; Active → {Repaid, Liquidated}.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusActive || next == StatusCanceled
	case StatusActive:
		return next == StatusRepaid || next == StatusLiquidated
	}
	return false
}
