// Package core wires the asset registry, ledger, order book and matching
// engine into one exchange with a single operation surface. Every mutating
// operation runs under one lock, so ledger and book mutations of an
// operation are observed all-or-nothing.
package core

import (
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/hoyzach/dexcore/pkg/core/asset"
	"github.com/hoyzach/dexcore/pkg/core/book"
	"github.com/hoyzach/dexcore/pkg/core/engine"
	"github.com/hoyzach/dexcore/pkg/core/ledger"
	"github.com/hoyzach/dexcore/pkg/core/store"
)

// maxRecentTrades bounds the in-memory trade history per ticker.
const maxRecentTrades = 512

// Exchange is the spot exchange core: balances, per-asset order books and
// market-order matching, with optional pebble persistence underneath.
type Exchange struct {
	mu  sync.RWMutex
	log *zap.SugaredLogger

	registry *asset.Registry
	ledger   *ledger.Ledger
	book     *book.Book
	engine   *engine.Engine
	store    *store.Store // nil for in-memory operation

	tradeSeq uint64
	recent   map[string][]engine.Trade // ticker -> newest-last ring
	onTrade  func(engine.Trade)
}

// New creates an in-memory exchange. The owner address gates asset
// registration; quoteTicker names the asset all notionals are priced in.
func New(owner common.Address, quoteTicker string, logger *zap.Logger) *Exchange {
	if logger == nil {
		logger = zap.NewNop()
	}
	reg := asset.NewRegistry(owner, asset.Asset{Ticker: quoteTicker})
	led := ledger.New()
	b := book.New(reg, led)

	return &Exchange{
		log:      logger.Sugar(),
		registry: reg,
		ledger:   led,
		book:     b,
		engine:   engine.New(reg, led, b),
		tradeSeq: uint64(time.Now().UnixNano()),
		recent:   make(map[string][]engine.Trade),
	}
}

// NewWithStore creates an exchange backed by a pebble store and reloads
// assets, balances and open orders from it. Open orders are restored in
// ascending id order, preserving price/time priority; their escrow is
// already reflected in the restored balances.
func NewWithStore(owner common.Address, quoteTicker string, logger *zap.Logger, st *store.Store) (*Exchange, error) {
	e := New(owner, quoteTicker, logger)
	e.store = st

	assets, err := st.LoadAssets()
	if err != nil {
		return nil, fmt.Errorf("load assets: %w", err)
	}
	for _, a := range assets {
		e.registry.Restore(a)
	}

	balances, err := st.LoadBalances()
	if err != nil {
		return nil, fmt.Errorf("load balances: %w", err)
	}
	for _, rec := range balances {
		e.ledger.Restore(rec.Account, rec.Ticker, rec.Balance)
	}

	orders, err := st.LoadOrders()
	if err != nil {
		return nil, fmt.Errorf("load orders: %w", err)
	}
	for i := range orders {
		e.book.Restore(&orders[i])
	}

	e.log.Infow("exchange_restored",
		"assets", len(assets), "balances", len(balances), "open_orders", len(orders))
	return e, nil
}

// Close closes the underlying store, if any.
func (e *Exchange) Close() error {
	if e.store == nil {
		return nil
	}
	return e.store.Close()
}

// SetTradeHook installs a callback invoked for every executed trade,
// after the trade has been committed. Used by the API layer to stream
// fills to websocket subscribers.
func (e *Exchange) SetTradeHook(fn func(engine.Trade)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onTrade = fn
}

// RegisterAsset registers a ticker for trading. Admin-gated: only the
// exchange owner may call; duplicate tickers are rejected.
func (e *Exchange) RegisterAsset(caller common.Address, ticker string, addr common.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.registry.Register(caller, ticker, addr); err != nil {
		return err
	}
	if e.store != nil {
		if err := e.store.SaveAsset(asset.Asset{Ticker: ticker, Address: addr}); err != nil {
			return err
		}
	}
	e.log.Infow("asset_registered", "ticker", ticker, "address", addr.Hex())
	return nil
}

// Deposit credits bridged funds to an account's available balance.
func (e *Exchange) Deposit(account common.Address, ticker string, amount uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := e.registry.Resolve(ticker); err != nil {
		return err
	}
	e.ledger.Credit(account, ticker, amount)
	if err := e.saveBalance(account, ticker); err != nil {
		return err
	}
	e.log.Infow("deposit", "account", account.Hex(), "ticker", ticker, "amount", amount)
	return nil
}

// Withdraw debits an account's available balance for bridging out.
// Locked funds are never withdrawable.
func (e *Exchange) Withdraw(account common.Address, ticker string, amount uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := e.registry.Resolve(ticker); err != nil {
		return err
	}
	if err := e.ledger.Debit(account, ticker, amount); err != nil {
		return err
	}
	if err := e.saveBalance(account, ticker); err != nil {
		return err
	}
	e.log.Infow("withdraw", "account", account.Hex(), "ticker", ticker, "amount", amount)
	return nil
}

// PlaceLimitOrder escrows funds and rests a limit order, returning its id.
func (e *Exchange) PlaceLimitOrder(trader common.Address, ticker string, side book.Side, price, amount uint64) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	id, err := e.book.PlaceLimitOrder(trader, ticker, side, price, amount)
	if err != nil {
		return 0, err
	}

	if e.store != nil {
		if o, ok := e.book.Get(id); ok {
			if err := e.store.SaveOrder(o); err != nil {
				e.log.Warnw("persist_order_failed", "id", id, "err", err)
			}
		}
		e.persistEscrowBalance(trader, ticker, side)
	}

	e.log.Infow("limit_order_placed",
		"id", id, "trader", trader.Hex(), "ticker", ticker,
		"side", side.String(), "price", price, "amount", amount)
	return id, nil
}

// ExecuteMarketOrder fills a market order against resting liquidity and
// returns the fill report. Under-fill is a success outcome.
func (e *Exchange) ExecuteMarketOrder(taker common.Address, ticker string, side book.Side, amount uint64) (*engine.FillReport, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	report, err := e.engine.ExecuteMarketOrder(taker, ticker, side, amount)
	if err != nil {
		return nil, err
	}

	for i := range report.Trades {
		tr := &report.Trades[i]
		e.tradeSeq++
		tr.ID = fmt.Sprintf("t-%d", e.tradeSeq)
		e.commitTrade(e.tradeSeq, *tr)
	}

	e.log.Infow("market_order_executed",
		"taker", taker.Hex(), "ticker", ticker, "side", side.String(),
		"requested", report.Requested, "filled", report.Filled,
		"notional", report.Notional, "fills", len(report.Trades))
	return report, nil
}

// commitTrade records one fill: in-memory history, persistence of the
// trade, the touched balances and the maker order, then the stream hook.
// Caller must hold e.mu.
func (e *Exchange) commitTrade(seq uint64, tr engine.Trade) {
	ring := append(e.recent[tr.Ticker], tr)
	if len(ring) > maxRecentTrades {
		ring = ring[len(ring)-maxRecentTrades:]
	}
	e.recent[tr.Ticker] = ring

	if e.store != nil {
		if err := e.store.SaveTrade(seq, tr); err != nil {
			e.log.Warnw("persist_trade_failed", "id", tr.ID, "err", err)
		}
		quote := e.registry.Quote().Ticker
		for _, acct := range []common.Address{tr.Taker, tr.Maker} {
			if err := e.saveBalance(acct, tr.Ticker); err != nil {
				e.log.Warnw("persist_balance_failed", "account", acct.Hex(), "err", err)
			}
			if err := e.saveBalance(acct, quote); err != nil {
				e.log.Warnw("persist_balance_failed", "account", acct.Hex(), "err", err)
			}
		}
		if o, ok := e.book.Get(tr.MakerID); ok {
			if err := e.store.SaveOrder(o); err != nil {
				e.log.Warnw("persist_order_failed", "id", tr.MakerID, "err", err)
			}
		} else if err := e.store.DeleteOrder(tr.MakerID); err != nil {
			e.log.Warnw("delete_order_failed", "id", tr.MakerID, "err", err)
		}
	}

	if e.onTrade != nil {
		e.onTrade(tr)
	}
}

// CancelOrder removes a resting order owned by trader and returns its
// remaining escrow to the available balance.
func (e *Exchange) CancelOrder(trader common.Address, orderID uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	o, ok := e.book.Get(orderID)
	if err := e.book.Cancel(trader, orderID); err != nil {
		return err
	}

	if e.store != nil && ok {
		if err := e.store.DeleteOrder(orderID); err != nil {
			e.log.Warnw("delete_order_failed", "id", orderID, "err", err)
		}
		e.persistEscrowBalance(trader, o.Ticker, o.Side)
	}

	e.log.Infow("order_cancelled", "id", orderID, "trader", trader.Hex())
	return nil
}

// GetOrderBook returns a point-in-time snapshot of one side in priority
// order. Read-only; no side effects.
func (e *Exchange) GetOrderBook(ticker string, side book.Side) ([]book.Order, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.book.Snapshot(ticker, side)
}

// GetBalance returns the balance of (account, ticker).
func (e *Exchange) GetBalance(account common.Address, ticker string) (ledger.Balance, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if _, err := e.registry.Resolve(ticker); err != nil {
		return ledger.Balance{}, err
	}
	return e.ledger.Get(account, ticker), nil
}

// Balances returns all non-zero balances of an account.
func (e *Exchange) Balances(account common.Address) map[string]ledger.Balance {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ledger.Balances(account)
}

// Assets lists the registered assets.
func (e *Exchange) Assets() []asset.Asset {
	return e.registry.List()
}

// Quote returns the quote asset.
func (e *Exchange) Quote() asset.Asset {
	return e.registry.Quote()
}

// RecentTrades returns up to limit trades for a ticker, newest first.
func (e *Exchange) RecentTrades(ticker string, limit int) ([]engine.Trade, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if _, err := e.registry.Resolve(ticker); err != nil {
		return nil, err
	}
	ring := e.recent[ticker]
	if len(ring) == 0 && e.store != nil {
		return e.store.LoadRecentTrades(ticker, limit)
	}
	if limit > len(ring) {
		limit = len(ring)
	}
	out := make([]engine.Trade, 0, limit)
	for i := len(ring) - 1; i >= len(ring)-limit; i-- {
		out = append(out, ring[i])
	}
	return out, nil
}

// saveBalance persists one (account, ticker) balance. Caller holds e.mu.
func (e *Exchange) saveBalance(account common.Address, ticker string) error {
	if e.store == nil {
		return nil
	}
	return e.store.SaveBalance(store.BalanceRecord{
		Account: account,
		Ticker:  ticker,
		Balance: e.ledger.Get(account, ticker),
	})
}

// persistEscrowBalance saves the balance an order's escrow lives in: the
// quote asset for a BUY, the traded asset for a SELL. Caller holds e.mu.
func (e *Exchange) persistEscrowBalance(trader common.Address, ticker string, side book.Side) {
	escrowTicker := ticker
	if side == book.Buy {
		escrowTicker = e.registry.Quote().Ticker
	}
	if err := e.saveBalance(trader, escrowTicker); err != nil {
		e.log.Warnw("persist_balance_failed", "account", trader.Hex(), "err", err)
	}
}
