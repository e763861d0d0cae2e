package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"LoanLedger/internal/config"
	"LoanLedger/internal/core"
	"LoanLedger/internal/custody"
	"LoanLedger/internal/loan"
	"LoanLedger/internal/oracle"
)

func testAddr(b byte) loan.Address {
	var a loan.Address
	a[31] = b
	return a
}

func testAsset(b byte) loan.AssetID {
	var id loan.AssetID
	id[31] = b
	return id
}

var (
	apiOwner    = testAddr(0x01)
	apiBorrower = testAddr(0x10)
	apiLender   = testAddr(0x20)

	apiAsset      = testAsset(0xA0)
	apiCollateral = testAsset(0xB0)
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	store := config.NewStore(apiOwner, config.Default(testAddr(0x02)))
	engine := core.NewEngine(core.EngineConfig{
		Store:   store,
		Oracle:  oracle.NewGateway(oracle.NewStaticFeed()),
		Custody: custody.NewAdapter(),
		Logger:  zerolog.Nop(),
	})
	if err := engine.UpdateProtocolStatus(apiOwner, true); err != nil {
		t.Fatalf("activate: %v", err)
	}
	engine.Custody().Credit(apiBorrower, apiCollateral, 10_000)
	engine.Custody().Credit(apiLender, apiAsset, 10_000)

	api := NewAPI(engine, nil, nil, zerolog.Nop())
	mux, err := api.Mux()
	if err != nil {
		t.Fatalf("build mux: %v", err)
	}
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, srv *httptest.Server, method, path, caller string, body interface{}) (*http.Response, map[string]json.RawMessage) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, srv.URL+path, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if caller != "" {
		req.Header.Set("X-Caller-Address", caller)
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	fields := make(map[string]json.RawMessage)
	if err := json.NewDecoder(resp.Body).Decode(&fields); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp, fields
}

func apiTerms() loan.Terms {
	return loan.Terms{
		Borrower:                apiBorrower,
		Lender:                  apiLender,
		Asset:                   apiAsset,
		Collateral:              apiCollateral,
		AssetAmount:             1000,
		RepaymentAmount:         1100,
		CollateralAmount:        100,
		Duration:                3600,
		LiquidationThresholdBps: 8000,
	}
}

func TestRequestAndFillOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	terms := apiTerms()

	resp, fields := doJSON(t, srv, http.MethodPost, "/v1/loans/request", apiBorrower.String(), map[string]interface{}{
		"terms":   terms,
		"payment": loan.Payment{Asset: terms.Collateral, Amount: terms.CollateralAmount},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("request status = %d: %v", resp.StatusCode, fields)
	}
	var id uint64
	if err := json.Unmarshal(fields["id"], &id); err != nil {
		t.Fatalf("decode id: %v", err)
	}

	resp, fields = doJSON(t, srv, http.MethodPost, fmt.Sprintf("/v1/loans/%d/fill-request", id), apiLender.String(), map[string]interface{}{
		"payment": loan.Payment{Asset: terms.Asset, Amount: terms.AssetAmount},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("fill status = %d: %v", resp.StatusCode, fields)
	}
	var status loan.Status
	if err := json.Unmarshal(fields["status"], &status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if status != loan.StatusActive {
		t.Fatalf("loan status = %v, want Active", status)
	}

	resp, fields = doJSON(t, srv, http.MethodGet, fmt.Sprintf("/v1/loans/%d/status", id), "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d", resp.StatusCode)
	}
	var name string
	if err := json.Unmarshal(fields["status_name"], &name); err != nil {
		t.Fatalf("decode status_name: %v", err)
	}
	if name != "Active" {
		t.Fatalf("status_name = %q, want Active", name)
	}
}

func TestMutatingCallRequiresCallerHeader(t *testing.T) {
	srv := newTestServer(t)
	terms := apiTerms()

	resp, _ := doJSON(t, srv, http.MethodPost, "/v1/loans/request", "", map[string]interface{}{
		"terms":   terms,
		"payment": loan.Payment{Asset: terms.Collateral, Amount: terms.CollateralAmount},
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}

func TestErrorStatusMapping(t *testing.T) {
	srv := newTestServer(t)

	// Unknown loan id.
	resp, _ := doJSON(t, srv, http.MethodGet, "/v1/loans/42", "", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown loan status = %d, want 404", resp.StatusCode)
	}

	// Governance call by a stranger.
	resp, _ = doJSON(t, srv, http.MethodPut, "/v1/protocol/status", testAddr(0x55).String(), map[string]bool{"active": false})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("stranger governance status = %d, want 403", resp.StatusCode)
	}

	// Malformed caller address.
	resp, _ = doJSON(t, srv, http.MethodPut, "/v1/protocol/status", "not-hex", map[string]bool{"active": false})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad caller status = %d, want 400", resp.StatusCode)
	}
}

func TestDepositAndBalance(t *testing.T) {
	srv := newTestServer(t)
	party := testAddr(0x60)

	resp, fields := doJSON(t, srv, http.MethodPost, "/v1/accounts/deposit", "", map[string]interface{}{
		"address": party,
		"asset":   apiAsset,
		"amount":  500,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("deposit status = %d: %v", resp.StatusCode, fields)
	}

	path := "/v1/accounts/" + party.String() + "/balance?asset=" + apiAsset.String()
	resp, fields = doJSON(t, srv, http.MethodGet, path, "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("balance status = %d", resp.StatusCode)
	}
	if !strings.Contains(string(fields["balance"]), "500") {
		t.Fatalf("balance = %s, want 500", fields["balance"])
	}
}

func TestProtocolReads(t *testing.T) {
	srv := newTestServer(t)

	resp, fields := doJSON(t, srv, http.MethodGet, "/v1/protocol/config", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("config status = %d", resp.StatusCode)
	}
	var fee uint64
	if err := json.Unmarshal(fields["protocol_fee"], &fee); err != nil {
		t.Fatalf("decode protocol_fee: %v", err)
	}
	if fee != 100 {
		t.Fatalf("protocol_fee = %d, want 100", fee)
	}

	resp, fields = doJSON(t, srv, http.MethodGet, "/v1/protocol/owner", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("owner status = %d", resp.StatusCode)
	}
	var got string
	if err := json.Unmarshal(fields["owner"], &got); err != nil {
		t.Fatalf("decode owner: %v", err)
	}
	if got != apiOwner.String() {
		t.Fatalf("owner = %s, want %s", got, apiOwner)
	}
}
