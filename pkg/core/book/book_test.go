package book

import (
	"errors"
	"math"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/hoyzach/dexcore/pkg/core/asset"
	"github.com/hoyzach/dexcore/pkg/core/ledger"
)

var (
	admin = common.HexToAddress("0xAD00000000000000000000000000000000000000")
	alice = common.HexToAddress("0xAA00000000000000000000000000000000000000")
	bob   = common.HexToAddress("0xBB00000000000000000000000000000000000000")
)

func newTestBook(t *testing.T) (*Book, *ledger.Ledger) {
	t.Helper()
	reg := asset.NewRegistry(admin, asset.Asset{Ticker: "ETH"})
	if err := reg.Register(admin, "LINK", common.HexToAddress("0x5100000000000000000000000000000000000000")); err != nil {
		t.Fatalf("register LINK: %v", err)
	}
	led := ledger.New()
	return New(reg, led), led
}

func TestPlaceLimitOrderUnknownTicker(t *testing.T) {
	b, led := newTestBook(t)
	led.Credit(alice, "ETH", 1000)

	_, err := b.PlaceLimitOrder(alice, "ASDF", Buy, 1, 1)
	if !errors.Is(err, asset.ErrUnknownAsset) {
		t.Errorf("expected ErrUnknownAsset, got %v", err)
	}
	if got := led.Get(alice, "ETH"); got.Locked != 0 || got.Available != 1000 {
		t.Errorf("failed order mutated balances: %+v", got)
	}
}

func TestPlaceLimitOrderEscrow(t *testing.T) {
	b, led := newTestBook(t)
	led.Credit(alice, "ETH", 100)
	led.Credit(bob, "LINK", 20)

	// BUY escrows price*amount of the quote asset.
	if _, err := b.PlaceLimitOrder(alice, "LINK", Buy, 10, 5); err != nil {
		t.Fatalf("buy failed: %v", err)
	}
	if got := led.Get(alice, "ETH"); got.Available != 50 || got.Locked != 50 {
		t.Errorf("buyer balance = %+v, want available=50 locked=50", got)
	}

	// SELL escrows the traded asset amount.
	if _, err := b.PlaceLimitOrder(bob, "LINK", Sell, 10, 20); err != nil {
		t.Fatalf("sell failed: %v", err)
	}
	if got := led.Get(bob, "LINK"); got.Available != 0 || got.Locked != 20 {
		t.Errorf("seller balance = %+v, want available=0 locked=20", got)
	}
}

func TestPlaceLimitOrderNoOverCommitment(t *testing.T) {
	b, led := newTestBook(t)
	led.Credit(alice, "ETH", 100)

	// First order escrows 60; the second would need another 60 and must
	// fail even though the instantaneous total balance covers it.
	if _, err := b.PlaceLimitOrder(alice, "LINK", Buy, 20, 3); err != nil {
		t.Fatalf("first buy failed: %v", err)
	}
	_, err := b.PlaceLimitOrder(alice, "LINK", Buy, 20, 3)
	if !errors.Is(err, ledger.ErrInsufficientAvailable) {
		t.Errorf("expected ErrInsufficientAvailable, got %v", err)
	}

	buys, _ := b.Snapshot("LINK", Buy)
	if len(buys) != 1 {
		t.Errorf("failed order reached the book: %d orders", len(buys))
	}
	if got := led.Get(alice, "ETH"); got.Available != 40 || got.Locked != 60 {
		t.Errorf("balances after failed order: %+v", got)
	}
}

func TestPlaceLimitOrderSellInsufficient(t *testing.T) {
	b, led := newTestBook(t)
	led.Credit(alice, "LINK", 20)

	_, err := b.PlaceLimitOrder(alice, "LINK", Sell, 1, 30)
	if !errors.Is(err, ledger.ErrInsufficientAvailable) {
		t.Errorf("expected ErrInsufficientAvailable, got %v", err)
	}
	if _, err := b.PlaceLimitOrder(alice, "LINK", Sell, 6, 20); err != nil {
		t.Errorf("sell within balance failed: %v", err)
	}
}

func TestPlaceLimitOrderOverflow(t *testing.T) {
	b, led := newTestBook(t)
	led.Credit(alice, "ETH", 100)

	_, err := b.PlaceLimitOrder(alice, "LINK", Buy, math.MaxUint64, 2)
	if !errors.Is(err, ErrOverflow) {
		t.Errorf("expected ErrOverflow, got %v", err)
	}
	if got := led.Get(alice, "ETH"); got.Locked != 0 {
		t.Errorf("overflowing order locked funds: %+v", got)
	}
}

func TestBuySideSortedHighToLow(t *testing.T) {
	b, led := newTestBook(t)
	led.Credit(alice, "ETH", 1000)

	b.PlaceLimitOrder(alice, "LINK", Buy, 3, 5)
	b.PlaceLimitOrder(alice, "LINK", Buy, 5, 3)
	b.PlaceLimitOrder(alice, "LINK", Buy, 1, 4)

	buys, err := b.Snapshot("LINK", Buy)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(buys) != 3 {
		t.Fatalf("len = %d, want 3", len(buys))
	}
	for i := 0; i < len(buys)-1; i++ {
		if buys[i].Price < buys[i+1].Price {
			t.Errorf("buy side not sorted: %d before %d", buys[i].Price, buys[i+1].Price)
		}
	}
}

func TestSellSideSortedLowToHigh(t *testing.T) {
	b, led := newTestBook(t)
	led.Credit(alice, "LINK", 100)

	b.PlaceLimitOrder(alice, "LINK", Sell, 7, 5)
	b.PlaceLimitOrder(alice, "LINK", Sell, 9, 3)
	b.PlaceLimitOrder(alice, "LINK", Sell, 8, 1)

	sells, err := b.Snapshot("LINK", Sell)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(sells) != 3 {
		t.Fatalf("len = %d, want 3", len(sells))
	}
	for i := 0; i < len(sells)-1; i++ {
		if sells[i].Price > sells[i+1].Price {
			t.Errorf("sell side not sorted: %d before %d", sells[i].Price, sells[i+1].Price)
		}
	}
}

func TestFIFOWithinPriceLevel(t *testing.T) {
	b, led := newTestBook(t)
	led.Credit(alice, "LINK", 10)
	led.Credit(bob, "LINK", 10)

	first, _ := b.PlaceLimitOrder(alice, "LINK", Sell, 5, 10)
	second, _ := b.PlaceLimitOrder(bob, "LINK", Sell, 5, 10)

	sells, _ := b.Snapshot("LINK", Sell)
	if sells[0].ID != first || sells[1].ID != second {
		t.Errorf("equal-price orders out of insertion order: %d, %d", sells[0].ID, sells[1].ID)
	}
}

func TestOrderIDsMonotonic(t *testing.T) {
	b, led := newTestBook(t)
	led.Credit(alice, "ETH", 100)

	var last uint64
	for i := 0; i < 3; i++ {
		id, err := b.PlaceLimitOrder(alice, "LINK", Buy, 1, 1)
		if err != nil {
			t.Fatalf("place: %v", err)
		}
		if id <= last {
			t.Errorf("ids not monotonic: %d after %d", id, last)
		}
		last = id
	}
}

func TestRemoveFilled(t *testing.T) {
	b, led := newTestBook(t)
	led.Credit(alice, "LINK", 5)

	id, _ := b.PlaceLimitOrder(alice, "LINK", Sell, 3, 5)

	// Open orders may not be removed.
	if err := b.RemoveFilled(id); err == nil {
		t.Error("expected error removing an open order")
	}

	resting := b.Resting("LINK", Sell)
	resting[0].Filled = resting[0].Amount
	if err := b.RemoveFilled(id); err != nil {
		t.Fatalf("remove filled: %v", err)
	}

	sells, _ := b.Snapshot("LINK", Sell)
	if len(sells) != 0 {
		t.Errorf("filled order still in book")
	}
	if _, ok := b.Get(id); ok {
		t.Errorf("filled order still indexed")
	}
}

func TestCancelRefundsEscrow(t *testing.T) {
	b, led := newTestBook(t)
	led.Credit(alice, "ETH", 100)

	id, _ := b.PlaceLimitOrder(alice, "LINK", Buy, 10, 5)

	// Simulate a partial fill of 2: escrow for the open remainder is 30.
	resting := b.Resting("LINK", Buy)
	resting[0].Filled = 2
	led.ReleaseAndDebit(alice, "ETH", 20)

	if err := b.Cancel(bob, id); !errors.Is(err, ErrNotOrderOwner) {
		t.Errorf("expected ErrNotOrderOwner, got %v", err)
	}
	if err := b.Cancel(alice, id); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	got := led.Get(alice, "ETH")
	if got.Available != 80 || got.Locked != 0 {
		t.Errorf("after cancel: %+v, want available=80 locked=0", got)
	}
	if buys, _ := b.Snapshot("LINK", Buy); len(buys) != 0 {
		t.Errorf("cancelled order still in book")
	}

	if err := b.Cancel(alice, id); !errors.Is(err, ErrOrderNotFound) {
		t.Errorf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestCancelSellRefundsTradedAsset(t *testing.T) {
	b, led := newTestBook(t)
	led.Credit(bob, "LINK", 8)

	id, _ := b.PlaceLimitOrder(bob, "LINK", Sell, 4, 8)
	if err := b.Cancel(bob, id); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	got := led.Get(bob, "LINK")
	if got.Available != 8 || got.Locked != 0 {
		t.Errorf("after cancel: %+v, want available=8 locked=0", got)
	}
}

func TestRestorePreservesPriority(t *testing.T) {
	b, led := newTestBook(t)
	led.Credit(alice, "LINK", 30)

	b.PlaceLimitOrder(alice, "LINK", Sell, 5, 10)
	b.PlaceLimitOrder(alice, "LINK", Sell, 3, 10)
	b.PlaceLimitOrder(alice, "LINK", Sell, 5, 10)

	open := b.Open()
	if len(open) != 3 {
		t.Fatalf("open = %d, want 3", len(open))
	}

	reg := asset.NewRegistry(admin, asset.Asset{Ticker: "ETH"})
	reg.Register(admin, "LINK", common.HexToAddress("0x5100000000000000000000000000000000000000"))
	rebuilt := New(reg, ledger.New())
	for i := range open {
		rebuilt.Restore(&open[i])
	}

	want, _ := b.Snapshot("LINK", Sell)
	got, _ := rebuilt.Snapshot("LINK", Sell)
	if len(got) != len(want) {
		t.Fatalf("rebuilt len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].ID != want[i].ID {
			t.Errorf("position %d: id = %d, want %d", i, got[i].ID, want[i].ID)
		}
	}

	// New ids continue past the restored ones.
	id, err := rebuilt.PlaceLimitOrder(alice, "LINK", Buy, 0, 0)
	if err != nil {
		t.Fatalf("place after restore: %v", err)
	}
	if id != open[len(open)-1].ID+1 {
		t.Errorf("id after restore = %d, want %d", id, open[len(open)-1].ID+1)
	}
}
