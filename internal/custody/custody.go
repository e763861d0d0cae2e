// Package custody moves assets between party accounts and the engine vault.
// Every movement produces a journal; the engine commits journals in batches
// so a lifecycle transition either moves everything or nothing.
package custody

import (
	"errors"

	"github.com/google/uuid"

	"LoanLedger/internal/ledger"
	"LoanLedger/internal/loan"
)

var (
	// ErrInsufficientBalance means the party cannot cover the movement.
	ErrInsufficientBalance = errors.New("custody: insufficient balance")
	// ErrZeroAmount means a zero-value movement was attempted.
	ErrZeroAmount = errors.New("custody: zero amount")
)

// Adapter owns the party account book and the engine vault. Party accounts
// model the external settlement layer; the vault is the engine's own custody.
// The adapter never initiates movements on its own, it only executes what
// the engine has already validated.
type Adapter struct {
	vault    *ledger.Vault
	accounts map[loan.Address]map[loan.AssetID]uint64
}

func NewAdapter() *Adapter {
	return &Adapter{
		vault:    ledger.NewVault(),
		accounts: make(map[loan.Address]map[loan.AssetID]uint64),
	}
}

// Vault exposes the custody vault for conservation checks.
func (a *Adapter) Vault() *ledger.Vault {
	return a.vault
}

// Credit funds a party account from outside the engine, e.g. a deposit
// observed on the settlement layer.
func (a *Adapter) Credit(party loan.Address, asset loan.AssetID, amount uint64) {
	if amount == 0 {
		return
	}
	byAsset, ok := a.accounts[party]
	if !ok {
		byAsset = make(map[loan.AssetID]uint64)
		a.accounts[party] = byAsset
	}
	byAsset[asset] += amount
}

// BalanceOf returns the party's free balance for an asset.
func (a *Adapter) BalanceOf(party loan.Address, asset loan.AssetID) uint64 {
	return a.accounts[party][asset]
}

// CanDebit reports whether a party can cover an escrow of amount. The engine
// calls this during validation, before any state changes.
func (a *Adapter) CanDebit(party loan.Address, asset loan.AssetID, amount uint64) bool {
	return amount > 0 && a.accounts[party][asset] >= amount
}

// Escrow pulls amount of asset from the party into vault custody for loanID
// and returns the journal describing the movement.
func (a *Adapter) Escrow(batch *ledger.Batch, party loan.Address, asset loan.AssetID, amount uint64) (ledger.Journal, error) {
	if amount == 0 {
		return ledger.Journal{}, ErrZeroAmount
	}
	byAsset := a.accounts[party]
	if byAsset[asset] < amount {
		return ledger.Journal{}, ErrInsufficientBalance
	}
	byAsset[asset] -= amount
	if err := a.vault.ApplyEscrow(batch.LoanID, asset, amount); err != nil {
		byAsset[asset] += amount
		return ledger.Journal{}, err
	}
	j := ledger.Journal{
		JournalID: uuid.New(),
		BatchID:   batch.BatchID,
		LoanID:    batch.LoanID,
		Type:      ledger.JournalTypeEscrow,
		Party:     party,
		Asset:     asset,
		Amount:    amount,
		Timestamp: batch.Timestamp,
	}
	batch.Journals = append(batch.Journals, j)
	return j, nil
}

// Release pushes amount of asset out of vault custody to the party and
// returns the journal describing the movement.
func (a *Adapter) Release(batch *ledger.Batch, party loan.Address, asset loan.AssetID, amount uint64) (ledger.Journal, error) {
	if amount == 0 {
		return ledger.Journal{}, ErrZeroAmount
	}
	if err := a.vault.ApplyRelease(batch.LoanID, asset, amount); err != nil {
		return ledger.Journal{}, err
	}
	byAsset, ok := a.accounts[party]
	if !ok {
		byAsset = make(map[loan.AssetID]uint64)
		a.accounts[party] = byAsset
	}
	byAsset[asset] += amount
	j := ledger.Journal{
		JournalID: uuid.New(),
		BatchID:   batch.BatchID,
		LoanID:    batch.LoanID,
		Type:      ledger.JournalTypeRelease,
		Party:     party,
		Asset:     asset,
		Amount:    amount,
		Timestamp: batch.Timestamp,
	}
	batch.Journals = append(batch.Journals, j)
	return j, nil
}
