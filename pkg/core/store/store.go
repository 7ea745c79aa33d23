package store

import (
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"

	"github.com/hoyzach/dexcore/pkg/core/asset"
	"github.com/hoyzach/dexcore/pkg/core/book"
	"github.com/hoyzach/dexcore/pkg/core/engine"
	"github.com/hoyzach/dexcore/pkg/core/ledger"
)

// BalanceRecord is one persisted (account, ticker) balance.
type BalanceRecord struct {
	Account common.Address `json:"account"`
	Ticker  string         `json:"ticker"`
	Balance ledger.Balance `json:"balance"`
}

// Store provides pebble-backed persistence for balances, registered
// assets, open orders and trade history. It is not itself synchronized:
// all writes go through the exchange's mutex.
type Store struct {
	db *pebble.DB
}

// Open opens (or creates) a pebble database at path.
func Open(path string) (*Store, error) {
	opts := &pebble.Options{
		Cache:                    pebble.NewCache(64 << 20),
		MemTableSize:             32 << 20,
		MaxConcurrentCompactions: func() int { return 2 },
		L0CompactionThreshold:    2,
		L0StopWritesThreshold:    12,
		MaxOpenFiles:             1000,
		BytesPerSync:             512 << 10,
	}
	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("open pebble db at %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) set(key []byte, v any, sync *pebble.WriteOptions) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	if err := s.db.Set(key, data, sync); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// SaveBalance persists one balance record.
func (s *Store) SaveBalance(rec BalanceRecord) error {
	return s.set(balanceKey(rec.Account, rec.Ticker), rec, pebble.Sync)
}

// LoadBalances returns every persisted balance record.
func (s *Store) LoadBalances() ([]BalanceRecord, error) {
	return scan[BalanceRecord](s, []byte(prefixBalance))
}

// SaveAsset persists a registered asset.
func (s *Store) SaveAsset(a asset.Asset) error {
	return s.set(assetKey(a.Ticker), a, pebble.Sync)
}

// LoadAssets returns every registered asset.
func (s *Store) LoadAssets() ([]asset.Asset, error) {
	return scan[asset.Asset](s, []byte(prefixAsset))
}

// SaveOrder persists an open limit order.
func (s *Store) SaveOrder(o book.Order) error {
	return s.set(orderKey(o.ID), o, pebble.Sync)
}

// DeleteOrder removes an order once filled or cancelled.
func (s *Store) DeleteOrder(id uint64) error {
	if err := s.db.Delete(orderKey(id), pebble.Sync); err != nil {
		return fmt.Errorf("delete order %d: %w", id, err)
	}
	return nil
}

// LoadOrders returns all open orders in ascending id order.
func (s *Store) LoadOrders() ([]book.Order, error) {
	return scan[book.Order](s, []byte(prefixOrder))
}

// SaveTrade appends a trade to a ticker's history. Trades use NoSync:
// history is reconstructible and not part of the balance/book state.
func (s *Store) SaveTrade(seq uint64, tr engine.Trade) error {
	return s.set(tradeKey(tr.Ticker, seq), tr, pebble.NoSync)
}

// LoadRecentTrades returns up to limit trades for a ticker, newest first.
func (s *Store) LoadRecentTrades(ticker string, limit int) ([]engine.Trade, error) {
	prefix := tradePrefix(ticker)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("trade iter: %w", err)
	}
	defer iter.Close()

	var trades []engine.Trade
	for iter.Last(); iter.Valid() && len(trades) < limit; iter.Prev() {
		var tr engine.Trade
		if err := json.Unmarshal(iter.Value(), &tr); err != nil {
			continue
		}
		trades = append(trades, tr)
	}
	return trades, nil
}

// scan decodes every value under a prefix, in key order.
func scan[T any](s *Store, prefix []byte) ([]T, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("iter %s: %w", prefix, err)
	}
	defer iter.Close()

	var out []T
	for iter.First(); iter.Valid(); iter.Next() {
		var v T
		if err := json.Unmarshal(iter.Value(), &v); err != nil {
			continue
		}
		out = append(out, v)
	}
	return out, nil
}
