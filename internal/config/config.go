package config

import (
	"fmt"

	"LoanLedger/internal/loan"
)

// ProtocolConfig is the governance-controlled parameter singleton. Updates
// replace it wholesale; there are no partial-field updates.
type ProtocolConfig struct {
	ProtocolFeeReceiver loan.Address `json:"protocol_fee_receiver"`

	// Fees in basis points out of 10000.
	ProtocolFee            uint64 `json:"protocol_fee"`
	ProtocolLiquidationFee uint64 `json:"protocol_liquidation_fee"`
	LiquidatorFee          uint64 `json:"liquidator_fee"`

	// Timing bounds in seconds.
	TimeRequestLoanExpires int64 `json:"time_request_loan_expires"`
	OracleMaxStale         int64 `json:"oracle_max_stale"`
	MinLoanDuration        int64 `json:"min_loan_duration"`
}

// Default returns the genesis parameter set used by the reference
// deployment: 1% fees, 8h request expiry, 30s oracle tolerance, 60s
// minimum duration.
func Default(feeReceiver loan.Address) ProtocolConfig {
	return ProtocolConfig{
		ProtocolFeeReceiver:    feeReceiver,
		ProtocolFee:            100,
		ProtocolLiquidationFee: 100,
		LiquidatorFee:          100,
		TimeRequestLoanExpires: 28800,
		OracleMaxStale:         30,
		MinLoanDuration:        60,
	}
}

// Validate rejects parameter sets that could break fee accounting or make
// every loan instantly expired.
func (c ProtocolConfig) Validate() error {
	if c.ProtocolFee > 10000 {
		return fmt.Errorf("config: protocol_fee %d exceeds 10000 bps", c.ProtocolFee)
	}
	if c.ProtocolLiquidationFee+c.LiquidatorFee > 10000 {
		return fmt.Errorf("config: liquidation fees %d+%d exceed 10000 bps",
			c.ProtocolLiquidationFee, c.LiquidatorFee)
	}
	if c.TimeRequestLoanExpires <= 0 {
		return fmt.Errorf("config: time_request_loan_expires must be positive")
	}
	if c.OracleMaxStale <= 0 {
		return fmt.Errorf("config: oracle_max_stale must be positive")
	}
	if c.MinLoanDuration < 0 {
		return fmt.Errorf("config: min_loan_duration must not be negative")
	}
	return nil
}
