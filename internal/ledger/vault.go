package ledger

import (
	"fmt"

	"LoanLedger/internal/loan"
)

// Vault tracks the engine's custody balances. For every asset it holds the
// total vault balance and, per loan, the amount still escrowed. The two
// views must agree at all times: the sum of outstanding escrows per asset
// equals the vault balance for that asset. ValidateConservation checks
// exactly that and is run by the engine after every transition.
type Vault struct {
	balances map[loan.AssetID]uint64
	escrowed map[uint64]map[loan.AssetID]uint64
}

func NewVault() *Vault {
	return &Vault{
		balances: make(map[loan.AssetID]uint64),
		escrowed: make(map[uint64]map[loan.AssetID]uint64),
	}
}

// ApplyEscrow records amount of asset entering custody on behalf of loanID.
func (v *Vault) ApplyEscrow(loanID uint64, asset loan.AssetID, amount uint64) error {
	if amount == 0 {
		return fmt.Errorf("vault: zero escrow for loan %d", loanID)
	}
	v.balances[asset] += amount
	byAsset, ok := v.escrowed[loanID]
	if !ok {
		byAsset = make(map[loan.AssetID]uint64)
		v.escrowed[loanID] = byAsset
	}
	byAsset[asset] += amount
	return nil
}

// ApplyRelease records amount of asset leaving custody for loanID. Releasing
// more than is escrowed for the loan is an invariant violation, not a caller
// error.
func (v *Vault) ApplyRelease(loanID uint64, asset loan.AssetID, amount uint64) error {
	if amount == 0 {
		return fmt.Errorf("vault: zero release for loan %d", loanID)
	}
	byAsset := v.escrowed[loanID]
	if byAsset == nil || byAsset[asset] < amount {
		return fmt.Errorf("vault: release %d of %s exceeds escrow %d for loan %d",
			amount, asset, byAsset[asset], loanID)
	}
	if v.balances[asset] < amount {
		return fmt.Errorf("vault: release %d of %s exceeds vault balance %d",
			amount, asset, v.balances[asset])
	}
	byAsset[asset] -= amount
	if byAsset[asset] == 0 {
		delete(byAsset, asset)
	}
	v.balances[asset] -= amount
	return nil
}

// Balance returns the vault's total custody balance for an asset.
func (v *Vault) Balance(asset loan.AssetID) uint64 {
	return v.balances[asset]
}

// Escrowed returns the outstanding escrow for a loan and asset.
func (v *Vault) Escrowed(loanID uint64, asset loan.AssetID) uint64 {
	return v.escrowed[loanID][asset]
}

// ValidateConservation verifies that per-asset vault balances equal the sum
// of outstanding escrows. A mismatch means the engine created or destroyed
// funds and is fatal.
func (v *Vault) ValidateConservation() error {
	sums := make(map[loan.AssetID]uint64, len(v.balances))
	for _, byAsset := range v.escrowed {
		for asset, amount := range byAsset {
			sums[asset] += amount
		}
	}
	for asset, balance := range v.balances {
		if sums[asset] != balance {
			return fmt.Errorf("vault: escrow sum %d != balance %d for asset %s",
				sums[asset], balance, asset)
		}
	}
	for asset, sum := range sums {
		if v.balances[asset] != sum {
			return fmt.Errorf("vault: escrow sum %d != balance %d for asset %s",
				sum, v.balances[asset], asset)
		}
	}
	return nil
}
