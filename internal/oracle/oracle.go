// Package oracle is the read-only gateway to external price feeds. It
// performs no retries: staleness and absence are terminal for the enclosing
// engine operation, and the caller retries the whole economic operation.
package oracle

import (
	"sync"

	"LoanLedger/internal/loan"
)

// Price is a point-in-time quote for one feed.
type Price struct {
	// Value is the asset price in the oracle's base-unit quote.
	Value uint64
	// UpdatedAt is the unix time the feed last refreshed.
	UpdatedAt int64
}

// PriceFeed is the endpoint contract the gateway reads from. Implementations
// wrap whatever transport the deployment uses; the engine only ever sees
// (price, updated_at).
type PriceFeed interface {
	Price(feedID string) (Price, error)
}

// Gateway maps asset identifiers to feed ids on a replaceable endpoint.
// Endpoint and feed registrations are admin-gated by the engine.
type Gateway struct {
	mu    sync.RWMutex
	feed  PriceFeed
	feeds map[loan.AssetID]string
}

func NewGateway(feed PriceFeed) *Gateway {
	return &Gateway{
		feed:  feed,
		feeds: make(map[loan.AssetID]string),
	}
}

// SetSource replaces the oracle endpoint.
func (g *Gateway) SetSource(feed PriceFeed) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.feed = feed
}

// SetFeedID registers or replaces the feed mapping for an asset.
func (g *Gateway) SetFeedID(asset loan.AssetID, feedID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.feeds[asset] = feedID
}

// FeedID returns the registered feed for an asset, if any.
func (g *Gateway) FeedID(asset loan.AssetID) (string, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	id, ok := g.feeds[asset]
	return id, ok
}

// Price returns the current quote for an asset. It fails with
// loan.ErrOracleUnset when no endpoint or feed is registered. Staleness is
// judged by the engine against its own clock.
func (g *Gateway) Price(asset loan.AssetID) (Price, error) {
	g.mu.RLock()
	feed := g.feed
	feedID, ok := g.feeds[asset]
	g.mu.RUnlock()

	if feed == nil || !ok {
		return Price{}, loan.ErrOracleUnset
	}
	return feed.Price(feedID)
}

// StaticFeed is an in-memory PriceFeed. It serves whatever was last Set:
// the NATS price subscriber keeps it current in a deployment, tests set
// quotes directly.
type StaticFeed struct {
	mu     sync.RWMutex
	quotes map[string]Price
}

func NewStaticFeed() *StaticFeed {
	return &StaticFeed{quotes: make(map[string]Price)}
}

// Set stores a quote for a feed id.
func (f *StaticFeed) Set(feedID string, value uint64, updatedAt int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.quotes[feedID] = Price{Value: value, UpdatedAt: updatedAt}
}

func (f *StaticFeed) Price(feedID string) (Price, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	p, ok := f.quotes[feedID]
	if !ok {
		return Price{}, loan.ErrOracleUnset
	}
	return p, nil
}
