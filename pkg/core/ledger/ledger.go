package ledger

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// ErrInsufficientAvailable is returned when a debit or lock exceeds an
// account's available balance.
var ErrInsufficientAvailable = errors.New("insufficient available balance")

// Balance holds the funds of one (account, asset) pair.
// Available is unencumbered; Locked is escrowed against open limit orders
// and equals the unfilled remainder of those orders at any quiescent point.
type Balance struct {
	Available uint64 `json:"available"`
	Locked    uint64 `json:"locked"`
}

// Total returns the full holding, available plus locked.
func (b Balance) Total() uint64 {
	return b.Available + b.Locked
}

// Ledger tracks balances per (account, ticker). Accounts are implicit:
// an unseen account simply has zero balances. The ledger is the sole
// source of truth for fund availability.
type Ledger struct {
	mu       sync.RWMutex
	balances map[common.Address]map[string]*Balance
}

// New creates an empty ledger.
func New() *Ledger {
	return &Ledger{
		balances: make(map[common.Address]map[string]*Balance),
	}
}

// entry returns the balance record for (account, ticker), creating a
// zeroed one on first access. Caller must hold l.mu.
func (l *Ledger) entry(account common.Address, ticker string) *Balance {
	byTicker, ok := l.balances[account]
	if !ok {
		byTicker = make(map[string]*Balance)
		l.balances[account] = byTicker
	}
	b, ok := byTicker[ticker]
	if !ok {
		b = &Balance{}
		byTicker[ticker] = b
	}
	return b
}

// Credit increases an account's available balance. Amounts are validated
// by callers; credit itself has no failure condition.
func (l *Ledger) Credit(account common.Address, ticker string, amount uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entry(account, ticker).Available += amount
}

// Debit decreases an account's available balance.
// Fails with ErrInsufficientAvailable without mutating anything.
func (l *Ledger) Debit(account common.Address, ticker string, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.entry(account, ticker)
	if b.Available < amount {
		return fmt.Errorf("debit %d %s from %s (available %d): %w",
			amount, ticker, account.Hex(), b.Available, ErrInsufficientAvailable)
	}
	b.Available -= amount
	return nil
}

// Lock moves amount from available to locked, escrowing it against an
// open order. Fails with ErrInsufficientAvailable without mutating anything.
func (l *Ledger) Lock(account common.Address, ticker string, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.entry(account, ticker)
	if b.Available < amount {
		return fmt.Errorf("lock %d %s for %s (available %d): %w",
			amount, ticker, account.Hex(), b.Available, ErrInsufficientAvailable)
	}
	b.Available -= amount
	b.Locked += amount
	return nil
}

// Unlock returns amount from locked to available. Used when an order is
// cancelled and its remaining escrow is released.
func (l *Ledger) Unlock(account common.Address, ticker string, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.entry(account, ticker)
	if b.Locked < amount {
		return fmt.Errorf("unlock %d %s for %s exceeds locked %d",
			amount, ticker, account.Hex(), b.Locked)
	}
	b.Locked -= amount
	b.Available += amount
	return nil
}

// ReleaseAndDebit removes amount from locked entirely. Used when a resting
// order fills: the escrowed funds are spent, not returned to available.
func (l *Ledger) ReleaseAndDebit(account common.Address, ticker string, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.entry(account, ticker)
	if b.Locked < amount {
		return fmt.Errorf("release %d %s for %s exceeds locked %d",
			amount, ticker, account.Hex(), b.Locked)
	}
	b.Locked -= amount
	return nil
}

// Get returns a copy of the balance for (account, ticker).
// Unseen pairs read as zero.
func (l *Ledger) Get(account common.Address, ticker string) Balance {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if byTicker, ok := l.balances[account]; ok {
		if b, ok := byTicker[ticker]; ok {
			return *b
		}
	}
	return Balance{}
}

// Balances returns a copy of all non-zero balances of an account.
func (l *Ledger) Balances(account common.Address) map[string]Balance {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make(map[string]Balance)
	for ticker, b := range l.balances[account] {
		if b.Available == 0 && b.Locked == 0 {
			continue
		}
		out[ticker] = *b
	}
	return out
}

// Restore sets the balance for (account, ticker) directly. Used when
// reloading ledger state from storage at startup.
func (l *Ledger) Restore(account common.Address, ticker string, b Balance) {
	l.mu.Lock()
	defer l.mu.Unlock()
	*l.entry(account, ticker) = b
}
