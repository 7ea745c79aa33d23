package asset

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrUnknownAsset is returned when a ticker has not been registered.
	ErrUnknownAsset = errors.New("unknown asset")
	// ErrDuplicateAsset is returned when a ticker is registered twice.
	ErrDuplicateAsset = errors.New("asset already registered")
	// ErrUnauthorized is returned when a non-owner calls an admin operation.
	ErrUnauthorized = errors.New("unauthorized")
)

// Asset is a registered trading asset: a case-sensitive ticker bound to
// the 20-byte address of the external token contract it represents.
// Registered once, immutable thereafter.
type Asset struct {
	Ticker  string         `json:"ticker"`
	Address common.Address `json:"address"`
}

// Registry maps tickers to assets. Registration is gated on the owner
// address; lookups are open to everyone.
//
// One asset is designated as the quote asset at construction. All BUY-side
// escrow and trade notionals are denominated in it.
type Registry struct {
	mu     sync.RWMutex
	owner  common.Address
	quote  Asset
	assets map[string]Asset // ticker -> asset
}

// NewRegistry creates a registry owned by owner, with the quote asset
// pre-registered.
func NewRegistry(owner common.Address, quote Asset) *Registry {
	r := &Registry{
		owner:  owner,
		quote:  quote,
		assets: make(map[string]Asset),
	}
	r.assets[quote.Ticker] = quote
	return r
}

// Register adds a new asset. Only the registry owner may register;
// duplicate tickers are rejected.
func (r *Registry) Register(caller common.Address, ticker string, addr common.Address) error {
	if caller != r.owner {
		return fmt.Errorf("register %s: %w", ticker, ErrUnauthorized)
	}
	if ticker == "" {
		return fmt.Errorf("register: ticker cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.assets[ticker]; exists {
		return fmt.Errorf("register %s: %w", ticker, ErrDuplicateAsset)
	}
	r.assets[ticker] = Asset{Ticker: ticker, Address: addr}
	return nil
}

// Resolve looks up an asset by ticker. Pure lookup, no side effects.
func (r *Registry) Resolve(ticker string) (Asset, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, exists := r.assets[ticker]
	if !exists {
		return Asset{}, fmt.Errorf("%w: %s", ErrUnknownAsset, ticker)
	}
	return a, nil
}

// Exists reports whether a ticker is registered.
func (r *Registry) Exists(ticker string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.assets[ticker]
	return exists
}

// Quote returns the designated quote asset.
func (r *Registry) Quote() Asset {
	return r.quote
}

// Owner returns the address allowed to register assets.
func (r *Registry) Owner() common.Address {
	return r.owner
}

// List returns all registered assets sorted by ticker.
func (r *Registry) List() []Asset {
	r.mu.RLock()
	defer r.mu.RUnlock()

	assets := make([]Asset, 0, len(r.assets))
	for _, a := range r.assets {
		assets = append(assets, a)
	}
	sort.Slice(assets, func(i, j int) bool { return assets[i].Ticker < assets[j].Ticker })
	return assets
}

// Restore inserts an asset without the owner check. Used when reloading
// registry state from storage at startup.
func (r *Registry) Restore(a Asset) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.assets[a.Ticker] = a
}
