package book

import (
	"errors"
	"fmt"
	"math/bits"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/hoyzach/dexcore/pkg/core/asset"
	"github.com/hoyzach/dexcore/pkg/core/ledger"
)

var (
	// ErrOverflow is returned when price*amount exceeds uint64 range.
	ErrOverflow = errors.New("price*amount overflows")
	// ErrOrderNotFound is returned when an order id is not resting in any book.
	ErrOrderNotFound = errors.New("order not found")
	// ErrNotOrderOwner is returned when a cancel comes from a non-owner.
	ErrNotOrderOwner = errors.New("not order owner")
)

// Side is the direction of an order.
type Side int8

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "buy"
	case Sell:
		return "sell"
	default:
		return "unknown"
	}
}

// ParseSide converts "buy"/"sell" to a Side.
func ParseSide(s string) (Side, error) {
	switch s {
	case "buy":
		return Buy, nil
	case "sell":
		return Sell, nil
	default:
		return 0, fmt.Errorf("invalid side %q", s)
	}
}

// Order is a resting limit order. Filled only ever grows, and the order
// leaves its book exactly when Filled == Amount.
type Order struct {
	ID     uint64         `json:"id"`
	Trader common.Address `json:"trader"`
	Ticker string         `json:"ticker"`
	Side   Side           `json:"side"`
	Price  uint64         `json:"price"`
	Amount uint64         `json:"amount"`
	Filled uint64         `json:"filled"`
}

// Remaining returns the unfilled quantity.
func (o *Order) Remaining() uint64 {
	return o.Amount - o.Filled
}

// sides holds the two independent sequences for one asset.
// Buys are sorted by non-increasing price, sells by non-decreasing price,
// with FIFO ordering among equal prices.
type sides struct {
	buys  []*Order
	sells []*Order
}

// Book maintains price/time-ordered limit orders per (asset, side).
// Placing an order escrows its committed funds in the ledger, so an
// account can never commit the same balance to two orders.
type Book struct {
	mu       sync.RWMutex
	registry *asset.Registry
	ledger   *ledger.Ledger

	books  map[string]*sides // ticker -> two sides
	orders map[uint64]*Order // id -> resting order
	nextID uint64
}

// New creates an empty book backed by the given registry and ledger.
func New(registry *asset.Registry, led *ledger.Ledger) *Book {
	return &Book{
		registry: registry,
		ledger:   led,
		books:    make(map[string]*sides),
		orders:   make(map[uint64]*Order),
		nextID:   1,
	}
}

// escrow computes the funds a limit order must lock: the traded asset
// amount for a SELL, price*amount of the quote asset for a BUY.
func (b *Book) escrow(side Side, ticker string, price, amount uint64) (string, uint64, error) {
	if side == Sell {
		return ticker, amount, nil
	}
	hi, notional := bits.Mul64(price, amount)
	if hi != 0 {
		return "", 0, fmt.Errorf("buy %d @ %d: %w", amount, price, ErrOverflow)
	}
	return b.registry.Quote().Ticker, notional, nil
}

// PlaceLimitOrder validates the ticker, escrows the required funds and
// inserts the order at its price/time position. On any failure the ledger
// and book are left untouched. Returns the new order id.
func (b *Book) PlaceLimitOrder(trader common.Address, ticker string, side Side, price, amount uint64) (uint64, error) {
	if _, err := b.registry.Resolve(ticker); err != nil {
		return 0, err
	}

	escrowTicker, escrowAmount, err := b.escrow(side, ticker, price, amount)
	if err != nil {
		return 0, err
	}
	if err := b.ledger.Lock(trader, escrowTicker, escrowAmount); err != nil {
		return 0, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	o := &Order{
		ID:     b.nextID,
		Trader: trader,
		Ticker: ticker,
		Side:   side,
		Price:  price,
		Amount: amount,
	}
	b.nextID++
	b.insert(o)
	return o.ID, nil
}

// Restore re-inserts an order loaded from storage without touching the
// ledger (its escrow is already reflected in the restored balances).
// Must be called in ascending id order to preserve FIFO priority.
func (b *Book) Restore(o *Order) {
	b.mu.Lock()
	defer b.mu.Unlock()

	cp := *o
	b.insert(&cp)
	if cp.ID >= b.nextID {
		b.nextID = cp.ID + 1
	}
}

// insert places o before the first order it outranks on price, which keeps
// the side sorted and ties ordered by insertion time. Linear scan from the
// head; fine for the depths this core targets. Caller must hold b.mu.
func (b *Book) insert(o *Order) {
	s, ok := b.books[o.Ticker]
	if !ok {
		s = &sides{}
		b.books[o.Ticker] = s
	}

	seq := &s.buys
	better := func(a, b uint64) bool { return a > b }
	if o.Side == Sell {
		seq = &s.sells
		better = func(a, b uint64) bool { return a < b }
	}

	pos := len(*seq)
	for i, resting := range *seq {
		if better(o.Price, resting.Price) {
			pos = i
			break
		}
	}

	*seq = append(*seq, nil)
	copy((*seq)[pos+1:], (*seq)[pos:])
	(*seq)[pos] = o

	b.orders[o.ID] = o
}

// remove deletes an order from its side, preserving the relative order of
// the remaining entries. Caller must hold b.mu.
func (b *Book) remove(o *Order) {
	s := b.books[o.Ticker]
	seq := &s.buys
	if o.Side == Sell {
		seq = &s.sells
	}
	for i, resting := range *seq {
		if resting.ID == o.ID {
			*seq = append((*seq)[:i], (*seq)[i+1:]...)
			break
		}
	}
	delete(b.orders, o.ID)
}

// RemoveFilled removes a fully filled order from its book. Called by the
// matching engine once Filled == Amount.
func (b *Book) RemoveFilled(orderID uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	o, ok := b.orders[orderID]
	if !ok {
		return fmt.Errorf("remove filled %d: %w", orderID, ErrOrderNotFound)
	}
	if o.Filled != o.Amount {
		return fmt.Errorf("remove filled %d: order is open (%d/%d)", orderID, o.Filled, o.Amount)
	}
	b.remove(o)
	return nil
}

// Cancel removes a resting order and unlocks its remaining escrow.
// Only the order's owner may cancel.
func (b *Book) Cancel(trader common.Address, orderID uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	o, ok := b.orders[orderID]
	if !ok {
		return fmt.Errorf("cancel %d: %w", orderID, ErrOrderNotFound)
	}
	if o.Trader != trader {
		return fmt.Errorf("cancel %d: %w", orderID, ErrNotOrderOwner)
	}

	refundTicker := o.Ticker
	refund := o.Remaining()
	if o.Side == Buy {
		refundTicker = b.registry.Quote().Ticker
		// Cannot overflow: the full product passed the check at insertion.
		refund = o.Remaining() * o.Price
	}
	if err := b.ledger.Unlock(trader, refundTicker, refund); err != nil {
		return err
	}
	b.remove(o)
	return nil
}

// Get returns the resting order with the given id, if any.
func (b *Book) Get(orderID uint64) (Order, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	o, ok := b.orders[orderID]
	if !ok {
		return Order{}, false
	}
	return *o, true
}

// Snapshot returns a point-in-time copy of one side in priority order.
func (b *Book) Snapshot(ticker string, side Side) ([]Order, error) {
	if _, err := b.registry.Resolve(ticker); err != nil {
		return nil, err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	s, ok := b.books[ticker]
	if !ok {
		return []Order{}, nil
	}
	seq := s.buys
	if side == Sell {
		seq = s.sells
	}
	out := make([]Order, len(seq))
	for i, o := range seq {
		out[i] = *o
	}
	return out, nil
}

// Resting returns the live orders of one side in priority order. The
// matching engine mutates these through their pointers while it walks;
// callers rely on the exchange-level serialization for safety.
func (b *Book) Resting(ticker string, side Side) []*Order {
	b.mu.RLock()
	defer b.mu.RUnlock()

	s, ok := b.books[ticker]
	if !ok {
		return nil
	}
	seq := s.buys
	if side == Sell {
		seq = s.sells
	}
	out := make([]*Order, len(seq))
	copy(out, seq)
	return out
}

// Open returns every resting order across all books, ordered by id.
// Used for persistence snapshots.
func (b *Book) Open() []Order {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Order, 0, len(b.orders))
	for _, s := range b.books {
		for _, o := range s.buys {
			out = append(out, *o)
		}
		for _, o := range s.sells {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
