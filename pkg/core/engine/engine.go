package engine

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/hoyzach/dexcore/pkg/core/asset"
	"github.com/hoyzach/dexcore/pkg/core/book"
	"github.com/hoyzach/dexcore/pkg/core/ledger"
)

// Trade is one fill between a market-order taker and a resting maker.
type Trade struct {
	ID        string         `json:"id"`
	Ticker    string         `json:"ticker"`
	Price     uint64         `json:"price"`
	Amount    uint64         `json:"amount"`
	TakerSide string         `json:"side"` // taker side: "buy" or "sell"
	Taker     common.Address `json:"taker"`
	Maker     common.Address `json:"maker"`
	MakerID   uint64         `json:"makerOrderId"`
	Timestamp int64          `json:"timestamp"` // Unix milliseconds
}

// FillReport summarizes a market order execution. Filled may be less than
// Requested: under-fill against insufficient liquidity or insufficient
// taker funds is a success outcome, not an error.
type FillReport struct {
	Ticker    string  `json:"ticker"`
	Side      string  `json:"side"`
	Requested uint64  `json:"requested"`
	Filled    uint64  `json:"filled"`
	Notional  uint64  `json:"notional"` // quote asset moved across all fills
	Trades    []Trade `json:"trades"`
}

// Engine executes market orders against the resting liquidity of the
// contra-side book, moving balances through the ledger as it walks.
type Engine struct {
	registry *asset.Registry
	ledger   *ledger.Ledger
	book     *book.Book
}

// New creates a matching engine over the given registry, ledger and book.
func New(registry *asset.Registry, led *ledger.Ledger, b *book.Book) *Engine {
	return &Engine{registry: registry, ledger: led, book: b}
}

// ExecuteMarketOrder fills up to amount of ticker against the contra side
// in price/time priority. A BUY walks the sell book (lowest price first)
// spending quote funds from the taker's available balance; a SELL walks
// the buy book (highest price first) spending the taker's inventory.
//
// The walk stops when the request is satisfied, the book is exhausted, or
// the taker runs out of funds. An empty book is not an error. A SELL from
// an account holding none of the traded asset is rejected wholesale with
// ErrInsufficientAvailable before any book mutation.
func (e *Engine) ExecuteMarketOrder(taker common.Address, ticker string, side book.Side, amount uint64) (*FillReport, error) {
	if _, err := e.registry.Resolve(ticker); err != nil {
		return nil, err
	}
	quote := e.registry.Quote().Ticker

	if side == book.Sell && e.ledger.Get(taker, ticker).Available == 0 {
		return nil, fmt.Errorf("market sell %s: no inventory: %w", ticker, ledger.ErrInsufficientAvailable)
	}

	contra := book.Sell
	if side == book.Sell {
		contra = book.Buy
	}

	report := &FillReport{
		Ticker:    ticker,
		Side:      side.String(),
		Requested: amount,
	}
	remaining := amount

	for _, maker := range e.book.Resting(ticker, contra) {
		if remaining == 0 {
			break
		}
		open := maker.Remaining()
		if open == 0 {
			continue
		}
		tradable := remaining
		if open < tradable {
			tradable = open
		}

		if side == book.Buy {
			// Market buys spend directly from available quote funds.
			// Deeper asks are only equal-or-worse priced, so once the
			// taker cannot afford a single unit the walk is over.
			if maker.Price > 0 {
				affordable := e.ledger.Get(taker, quote).Available / maker.Price
				if affordable == 0 {
					break
				}
				if affordable < tradable {
					tradable = affordable
				}
			}
		} else {
			inventory := e.ledger.Get(taker, ticker).Available
			if inventory == 0 {
				break
			}
			if inventory < tradable {
				tradable = inventory
			}
		}

		if err := e.settle(taker, maker, side, quote, tradable); err != nil {
			return nil, err
		}

		maker.Filled += tradable
		remaining -= tradable
		// Bounded by the maker's escrow product checked at insertion.
		notional := tradable * maker.Price
		report.Notional += notional
		report.Trades = append(report.Trades, Trade{
			Ticker:    ticker,
			Price:     maker.Price,
			Amount:    tradable,
			TakerSide: side.String(),
			Taker:     taker,
			Maker:     maker.Trader,
			MakerID:   maker.ID,
			Timestamp: time.Now().UnixMilli(),
		})

		if maker.Remaining() == 0 {
			if err := e.book.RemoveFilled(maker.ID); err != nil {
				return nil, err
			}
		}
	}

	report.Filled = amount - remaining
	return report, nil
}

// settle moves funds for one match. Exactly one side is the resting maker,
// whose funds leave escrow via ReleaseAndDebit; the taker pays from
// available and both parties are credited the counter asset.
func (e *Engine) settle(taker common.Address, maker *book.Order, side book.Side, quote string, tradable uint64) error {
	notional := tradable * maker.Price

	if side == book.Buy {
		// Taker buys the asset, maker's escrowed inventory is spent.
		if err := e.ledger.Debit(taker, quote, notional); err != nil {
			return err
		}
		if err := e.ledger.ReleaseAndDebit(maker.Trader, maker.Ticker, tradable); err != nil {
			return err
		}
		e.ledger.Credit(taker, maker.Ticker, tradable)
		e.ledger.Credit(maker.Trader, quote, notional)
		return nil
	}

	// Taker sells the asset, maker's escrowed quote funds are spent.
	if err := e.ledger.Debit(taker, maker.Ticker, tradable); err != nil {
		return err
	}
	if err := e.ledger.ReleaseAndDebit(maker.Trader, quote, notional); err != nil {
		return err
	}
	e.ledger.Credit(taker, quote, notional)
	e.ledger.Credit(maker.Trader, maker.Ticker, tradable)
	return nil
}
