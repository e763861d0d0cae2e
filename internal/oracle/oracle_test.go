package oracle

import (
	"errors"
	"testing"

	"LoanLedger/internal/loan"
)

func testAsset(b byte) loan.AssetID {
	var id loan.AssetID
	id[31] = b
	return id
}

func TestGatewayUnsetFeed(t *testing.T) {
	g := NewGateway(NewStaticFeed())
	if _, err := g.Price(testAsset(1)); !errors.Is(err, loan.ErrOracleUnset) {
		t.Fatalf("err = %v, want ErrOracleUnset", err)
	}

	g = NewGateway(nil)
	g.SetFeedID(testAsset(1), "X")
	if _, err := g.Price(testAsset(1)); !errors.Is(err, loan.ErrOracleUnset) {
		t.Fatalf("nil endpoint err = %v, want ErrOracleUnset", err)
	}
}

func TestGatewayPriceLookup(t *testing.T) {
	feed := NewStaticFeed()
	feed.Set("ETH_USD", 3200, 1700)

	g := NewGateway(feed)
	g.SetFeedID(testAsset(1), "ETH_USD")

	p, err := g.Price(testAsset(1))
	if err != nil {
		t.Fatalf("price: %v", err)
	}
	if p.Value != 3200 || p.UpdatedAt != 1700 {
		t.Fatalf("price = %+v", p)
	}

	id, ok := g.FeedID(testAsset(1))
	if !ok || id != "ETH_USD" {
		t.Fatalf("feed id = %q, %v", id, ok)
	}
}

func TestGatewaySourceReplacement(t *testing.T) {
	old := NewStaticFeed()
	old.Set("X", 1, 1)
	next := NewStaticFeed()
	next.Set("X", 2, 2)

	g := NewGateway(old)
	g.SetFeedID(testAsset(1), "X")
	g.SetSource(next)

	p, err := g.Price(testAsset(1))
	if err != nil {
		t.Fatalf("price: %v", err)
	}
	if p.Value != 2 {
		t.Fatalf("price after source swap = %d, want 2", p.Value)
	}
}

func TestStaticFeedUnknownID(t *testing.T) {
	feed := NewStaticFeed()
	if _, err := feed.Price("MISSING"); !errors.Is(err, loan.ErrOracleUnset) {
		t.Fatalf("err = %v, want ErrOracleUnset", err)
	}
}
