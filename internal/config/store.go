package config

import (
	"sort"
	"sync"

	"LoanLedger/internal/loan"
)

// Store holds the protocol configuration singleton and the role registry.
// The owner is fixed at genesis and never changes; admins are owner-managed;
// the active flag gates all mutating lifecycle operations (reads stay open).
//
// The store is an explicit value injected into the engine, never ambient
// global state, so tests can run with throwaway registries.
type Store struct {
	mu     sync.RWMutex
	owner  loan.Address
	admins map[loan.Address]struct{}
	active bool
	cfg    ProtocolConfig
}

// NewStore creates a store with the given immutable owner and genesis
// config. The protocol starts inactive; governance flips it on once the
// deployment is wired (matching the reference genesis).
func NewStore(owner loan.Address, cfg ProtocolConfig) *Store {
	return &Store{
		owner:  owner,
		admins: make(map[loan.Address]struct{}),
		cfg:    cfg,
	}
}

// Owner returns the genesis owner address.
func (s *Store) Owner() loan.Address {
	return s.owner
}

// Admins returns the current admin set in stable order.
func (s *Store) Admins() []loan.Address {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]loan.Address, 0, len(s.admins))
	for a := range s.admins {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// IsAdmin reports whether addr is the owner or a registered admin.
func (s *Store) IsAdmin(addr loan.Address) bool {
	if addr == s.owner {
		return true
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.admins[addr]
	return ok
}

// AddAdmin registers a new admin. Only the owner may call it. Adding an
// address that is already an admin is rejected explicitly rather than
// treated as a no-op, so misconfigured automation surfaces early.
func (s *Store) AddAdmin(caller, addr loan.Address) error {
	if caller != s.owner {
		return loan.ErrUnauthorized
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.admins[addr]; ok {
		return loan.ErrDuplicateAdmin
	}
	s.admins[addr] = struct{}{}
	return nil
}

// UpdateConfig swaps the parameter singleton wholesale. Owner or admin only.
func (s *Store) UpdateConfig(caller loan.Address, cfg ProtocolConfig) error {
	if !s.IsAdmin(caller) {
		return loan.ErrUnauthorized
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
	return nil
}

// UpdateStatus flips the protocol-active gate. Owner or admin only.
func (s *Store) UpdateStatus(caller loan.Address, active bool) error {
	if !s.IsAdmin(caller) {
		return loan.ErrUnauthorized
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = active
	return nil
}

// Active reports whether mutating lifecycle operations are allowed.
func (s *Store) Active() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// Config returns a point-in-time copy of the parameter singleton.
func (s *Store) Config() ProtocolConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}
