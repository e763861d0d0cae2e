package config

import (
	"errors"
	"testing"

	"LoanLedger/internal/loan"
)

func testAddr(b byte) loan.Address {
	var a loan.Address
	a[31] = b
	return a
}

func TestStoreStartsInactive(t *testing.T) {
	owner := testAddr(1)
	s := NewStore(owner, Default(testAddr(2)))
	if s.Active() {
		t.Fatal("store active at genesis")
	}
	if err := s.UpdateStatus(owner, true); err != nil {
		t.Fatalf("activate: %v", err)
	}
	if !s.Active() {
		t.Fatal("store inactive after activation")
	}
}

func TestAdminManagement(t *testing.T) {
	owner := testAddr(1)
	admin := testAddr(3)
	s := NewStore(owner, Default(testAddr(2)))

	if !s.IsAdmin(owner) {
		t.Fatal("owner not treated as admin")
	}
	if s.IsAdmin(admin) {
		t.Fatal("unregistered address treated as admin")
	}

	if err := s.AddAdmin(admin, admin); !errors.Is(err, loan.ErrUnauthorized) {
		t.Fatalf("self add err = %v, want ErrUnauthorized", err)
	}
	if err := s.AddAdmin(owner, admin); err != nil {
		t.Fatalf("add admin: %v", err)
	}
	if err := s.AddAdmin(owner, admin); !errors.Is(err, loan.ErrDuplicateAdmin) {
		t.Fatalf("duplicate add err = %v, want ErrDuplicateAdmin", err)
	}
	if !s.IsAdmin(admin) {
		t.Fatal("admin not registered")
	}
	admins := s.Admins()
	if len(admins) != 1 || admins[0] != admin {
		t.Fatalf("admins = %v", admins)
	}
	if s.Owner() != owner {
		t.Fatalf("owner = %v, want %v", s.Owner(), owner)
	}
}

func TestConfigUpdateGating(t *testing.T) {
	owner := testAddr(1)
	admin := testAddr(3)
	stranger := testAddr(4)
	s := NewStore(owner, Default(testAddr(2)))
	if err := s.AddAdmin(owner, admin); err != nil {
		t.Fatalf("add admin: %v", err)
	}

	cfg := s.Config()
	cfg.ProtocolFee = 250
	if err := s.UpdateConfig(stranger, cfg); !errors.Is(err, loan.ErrUnauthorized) {
		t.Fatalf("stranger update err = %v, want ErrUnauthorized", err)
	}
	if err := s.UpdateConfig(admin, cfg); err != nil {
		t.Fatalf("admin update: %v", err)
	}
	if s.Config().ProtocolFee != 250 {
		t.Fatalf("protocol fee = %d, want 250", s.Config().ProtocolFee)
	}
	if err := s.UpdateStatus(stranger, true); !errors.Is(err, loan.ErrUnauthorized) {
		t.Fatalf("stranger status err = %v, want ErrUnauthorized", err)
	}
}

func TestConfigValidate(t *testing.T) {
	base := Default(testAddr(2))
	if err := base.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}

	bad := base
	bad.ProtocolFee = 10001
	if err := bad.Validate(); err == nil {
		t.Fatal("fee above 10000 bps accepted")
	}

	bad = base
	bad.ProtocolLiquidationFee = 6000
	bad.LiquidatorFee = 5000
	if err := bad.Validate(); err == nil {
		t.Fatal("liquidation fees above 10000 bps accepted")
	}

	bad = base
	bad.OracleMaxStale = 0
	if err := bad.Validate(); err == nil {
		t.Fatal("zero staleness tolerance accepted")
	}

	owner := testAddr(1)
	s := NewStore(owner, base)
	badCfg := base
	badCfg.TimeRequestLoanExpires = 0
	if err := s.UpdateConfig(owner, badCfg); err == nil {
		t.Fatal("store accepted invalid config")
	}
}
