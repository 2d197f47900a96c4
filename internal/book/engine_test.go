package book

import (
	"testing"

	"github.com/quantfall/goxfeed/internal/bus"
	"github.com/quantfall/goxfeed/internal/numeric"
	"github.com/quantfall/goxfeed/internal/schema"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	return NewEngine("USD", bus.New(nil), nil, nil)
}

func checkLadders(t *testing.T, e *Engine) {
	t.Helper()
	bids := e.Bids()
	for i := 1; i < len(bids); i++ {
		if bids[i].Price >= bids[i-1].Price {
			t.Fatalf("bids not strictly descending at %d: %d then %d", i, bids[i-1].Price, bids[i].Price)
		}
	}
	asks := e.Asks()
	for i := 1; i < len(asks); i++ {
		if asks[i].Price <= asks[i-1].Price {
			t.Fatalf("asks not strictly ascending at %d: %d then %d", i, asks[i-1].Price, asks[i].Price)
		}
	}
}

func checkTotals(t *testing.T, e *Engine) {
	t.Helper()
	var wantAsk schema.Amount
	for _, level := range e.Asks() {
		wantAsk += level.Volume
	}
	if got := e.TotalAskVolume(); got != wantAsk {
		t.Fatalf("ask total drifted: got %d want %d", got, wantAsk)
	}
	var wantBid schema.Amount
	for _, level := range e.Bids() {
		wantBid += numeric.Value(level.Volume, level.Price, "USD")
	}
	if got := e.TotalBidValue(); got != wantBid {
		t.Fatalf("bid total drifted: got %d want %d", got, wantBid)
	}
}

func TestDepthUpsertKeepsLaddersSorted(t *testing.T) {
	e := newTestEngine(t)
	prices := []schema.Amount{5000000, 3000000, 7000000, 4000000, 6000000}
	for _, p := range prices {
		e.ApplyDepth(schema.SideAsk, p, 100000000)
		e.ApplyDepth(schema.SideBid, p-1000000, 100000000)
	}
	checkLadders(t, e)
	checkTotals(t, e)

	if len(e.Asks()) != 5 || len(e.Bids()) != 5 {
		t.Fatalf("want 5 levels each side, got %d bids %d asks", len(e.Bids()), len(e.Asks()))
	}
}

func TestDepthUpdateReplacesNotAccumulates(t *testing.T) {
	e := newTestEngine(t)
	e.ApplyDepth(schema.SideAsk, 5000000, 100000000)
	e.ApplyDepth(schema.SideAsk, 5000000, 300000000)

	asks := e.Asks()
	if len(asks) != 1 {
		t.Fatalf("want single level, got %d", len(asks))
	}
	if asks[0].Volume != 300000000 {
		t.Fatalf("volume: got %d want 300000000", asks[0].Volume)
	}
	checkTotals(t, e)
}

func TestDepthZeroVolumeDeletes(t *testing.T) {
	e := newTestEngine(t)
	e.ApplyDepth(schema.SideBid, 5000000, 100000000)
	e.ApplyDepth(schema.SideBid, 4000000, 200000000)
	e.ApplyDepth(schema.SideBid, 5000000, 0)

	bids := e.Bids()
	if len(bids) != 1 || bids[0].Price != 4000000 {
		t.Fatalf("want only level 4000000, got %+v", bids)
	}
	checkTotals(t, e)
}

func TestDepthZeroVolumeForUnknownPriceIsNoop(t *testing.T) {
	e := newTestEngine(t)
	e.ApplyDepth(schema.SideAsk, 5000000, 100000000)
	e.ApplyDepth(schema.SideAsk, 9000000, 0)

	if len(e.Asks()) != 1 {
		t.Fatalf("unexpected ladder mutation: %+v", e.Asks())
	}
	checkTotals(t, e)
}

func TestTickerRepairsCrossedLevels(t *testing.T) {
	e := newTestEngine(t)
	e.ApplyDepth(schema.SideAsk, 4000000, 100000000)
	e.ApplyDepth(schema.SideAsk, 5000000, 100000000)
	e.ApplyDepth(schema.SideBid, 6000000, 100000000)
	e.ApplyDepth(schema.SideBid, 3000000, 100000000)

	// Trusted prices say the 4000000 ask and the 6000000 bid are stale.
	e.ApplyTicker(3500000, 4500000)

	if e.BestBid() != 3500000 || e.BestAsk() != 4500000 {
		t.Fatalf("best prices: got %d/%d", e.BestBid(), e.BestAsk())
	}
	asks := e.Asks()
	if len(asks) != 1 || asks[0].Price != 5000000 {
		t.Fatalf("crossed ask not removed: %+v", asks)
	}
	bids := e.Bids()
	if len(bids) != 1 || bids[0].Price != 3000000 {
		t.Fatalf("crossed bid not removed: %+v", bids)
	}
	checkTotals(t, e)
}

func TestTradeDecrementsTopOfBook(t *testing.T) {
	e := newTestEngine(t)
	e.ApplyDepth(schema.SideAsk, 5000000, 300000000)

	// A bid-typed trade consumed part of the resting ask.
	e.ApplyTrade(schema.TradeEvent{Price: 5000000, Volume: 100000000, Side: schema.SideBid})

	asks := e.Asks()
	if len(asks) != 1 || asks[0].Volume != 200000000 {
		t.Fatalf("top of book after partial fill: %+v", asks)
	}
	checkTotals(t, e)
}

func TestTradeConsumingWholeLevelRemovesIt(t *testing.T) {
	e := newTestEngine(t)
	e.ApplyDepth(schema.SideAsk, 5000000, 100000000)
	e.ApplyDepth(schema.SideAsk, 6000000, 100000000)

	// Overshoot: the trade reports more volume than the level holds.
	e.ApplyTrade(schema.TradeEvent{Price: 5000000, Volume: 150000000, Side: schema.SideBid})

	asks := e.Asks()
	if len(asks) != 1 || asks[0].Price != 6000000 {
		t.Fatalf("consumed level not removed: %+v", asks)
	}
	checkTotals(t, e)
}

func TestTradeOnBidSideUsesValueTotals(t *testing.T) {
	e := newTestEngine(t)
	e.ApplyDepth(schema.SideBid, 5000000, 300000000)

	e.ApplyTrade(schema.TradeEvent{Price: 5000000, Volume: 100000000, Side: schema.SideAsk})

	bids := e.Bids()
	if len(bids) != 1 || bids[0].Volume != 200000000 {
		t.Fatalf("bid top after fill: %+v", bids)
	}
	checkTotals(t, e)
}

func TestOwnTradeDoesNotTouchLadders(t *testing.T) {
	e := newTestEngine(t)
	e.ApplyDepth(schema.SideAsk, 5000000, 300000000)

	e.ApplyTrade(schema.TradeEvent{Price: 5000000, Volume: 100000000, Side: schema.SideBid, Own: true})

	if asks := e.Asks(); asks[0].Volume != 300000000 {
		t.Fatalf("own trade mutated the ladder: %+v", asks)
	}
}

func TestAddOwnInsertsPlaceholderOnCorrectSide(t *testing.T) {
	e := newTestEngine(t)
	e.ApplyDepth(schema.SideBid, 5000000, 100000000)

	e.AddOwn(schema.Order{ID: "o1", Side: schema.SideBid, Price: 4000000, Volume: 50000000})

	bids := e.Bids()
	if len(bids) != 2 {
		t.Fatalf("placeholder missing: %+v", bids)
	}
	if bids[1].Price != 4000000 || bids[1].Volume != 0 {
		t.Fatalf("placeholder wrong: %+v", bids[1])
	}
	if len(e.Asks()) != 0 {
		t.Fatalf("placeholder landed on the ask side: %+v", e.Asks())
	}
	checkTotals(t, e)
}

func TestPlaceholderSupersededByRealDepth(t *testing.T) {
	e := newTestEngine(t)
	e.AddOwn(schema.Order{ID: "o1", Side: schema.SideAsk, Price: 5000000, Volume: 50000000})

	e.ApplyDepth(schema.SideAsk, 5000000, 200000000)

	asks := e.Asks()
	if len(asks) != 1 || asks[0].Volume != 200000000 {
		t.Fatalf("placeholder not superseded: %+v", asks)
	}
	checkTotals(t, e)
}

func TestAddOwnIsIdempotentByID(t *testing.T) {
	e := newTestEngine(t)
	order := schema.Order{ID: "o1", Side: schema.SideBid, Price: 4000000, Volume: 50000000}
	e.AddOwn(order)
	e.AddOwn(order)

	if owns := e.Owns(); len(owns) != 1 {
		t.Fatalf("duplicate own order: %+v", owns)
	}
}

func TestUserOrderRemoveIsIdempotent(t *testing.T) {
	e := newTestEngine(t)
	e.AddOwn(schema.Order{ID: "o1", Side: schema.SideBid, Price: 4000000, Volume: 50000000})

	removal := schema.Order{ID: "o1", Status: schema.OrderStatusRemoved}
	e.ApplyUserOrder(removal)
	e.ApplyUserOrder(removal)

	if owns := e.Owns(); len(owns) != 0 {
		t.Fatalf("order not removed: %+v", owns)
	}
	if e.HasOwnOrder("o1") {
		t.Fatal("HasOwnOrder still true after removal")
	}
}

func TestUserOrderUpdatesInPlace(t *testing.T) {
	e := newTestEngine(t)
	e.AddOwn(schema.Order{ID: "o1", Side: schema.SideBid, Price: 4000000, Volume: 50000000, Status: schema.OrderStatusPending})

	e.ApplyUserOrder(schema.Order{ID: "o1", Side: schema.SideBid, Price: 4000000, Volume: 30000000, Status: "open"})

	owns := e.Owns()
	if len(owns) != 1 {
		t.Fatalf("want one own order, got %+v", owns)
	}
	if owns[0].Volume != 30000000 || owns[0].Status != "open" {
		t.Fatalf("update not applied: %+v", owns[0])
	}
}

func TestUserOrderDiscoveredWhenUnknown(t *testing.T) {
	e := newTestEngine(t)
	e.ApplyUserOrder(schema.Order{ID: "o9", Side: schema.SideAsk, Price: 7000000, Volume: 10000000, Status: "open"})

	if !e.HasOwnOrder("o9") {
		t.Fatal("unknown order not tracked")
	}
	if asks := e.Asks(); len(asks) != 1 || asks[0].Price != 7000000 {
		t.Fatalf("placeholder for discovered order missing: %+v", asks)
	}
}

func TestOwnVolumeAtSumsMatchingOrders(t *testing.T) {
	e := newTestEngine(t)
	e.AddOwn(schema.Order{ID: "a", Side: schema.SideBid, Price: 4000000, Volume: 10})
	e.AddOwn(schema.Order{ID: "b", Side: schema.SideBid, Price: 4000000, Volume: 20})
	e.AddOwn(schema.Order{ID: "c", Side: schema.SideAsk, Price: 4000000, Volume: 40})

	if got := e.OwnVolumeAt(schema.SideBid, 4000000); got != 30 {
		t.Fatalf("OwnVolumeAt: got %d want 30", got)
	}
}

func TestSnapshotReplacesBookAndRecomputesTotals(t *testing.T) {
	e := newTestEngine(t)
	e.ApplyDepth(schema.SideAsk, 9000000, 100000000)
	e.ApplyDepth(schema.SideBid, 1000000, 100000000)

	e.ApplySnapshot(schema.FullDepthEvent{
		Bids: []schema.PriceLevel{
			{Price: 4000000, Volume: 100000000},
			{Price: 3000000, Volume: 200000000},
		},
		Asks: []schema.PriceLevel{
			{Price: 6000000, Volume: 300000000},
			{Price: 5000000, Volume: 100000000},
		},
	})

	checkLadders(t, e)
	checkTotals(t, e)
	if e.BestBid() != 4000000 || e.BestAsk() != 5000000 {
		t.Fatalf("best prices after snapshot: %d/%d", e.BestBid(), e.BestAsk())
	}
	if e.SnapshotTime().IsZero() {
		t.Fatal("snapshot time not recorded")
	}
}

func TestBookChangedPublishedOnMutation(t *testing.T) {
	b := bus.New(nil)
	e := NewEngine("USD", b, nil, nil)

	changed := 0
	b.Subscribe(schema.TopicBookChanged, func(_ schema.Topic, _ any) {
		changed++
	})

	e.ApplyDepth(schema.SideAsk, 5000000, 100000000)
	e.ApplyTicker(4000000, 5000000)
	if changed != 2 {
		t.Fatalf("book change notifications: got %d want 2", changed)
	}
}

func TestAttachRoutesBusEvents(t *testing.T) {
	b := bus.New(nil)
	e := NewEngine("USD", b, nil, nil)
	e.Attach()
	defer e.Detach()

	b.Publish(schema.TopicDepth, schema.DepthEvent{Side: schema.SideAsk, Price: 5000000, TotalVolume: 100000000})
	b.Publish(schema.TopicTicker, schema.TickerEvent{Bid: 4000000, Ask: 5000000})

	if len(e.Asks()) != 1 {
		t.Fatalf("depth event not applied: %+v", e.Asks())
	}
	if e.BestAsk() != 5000000 {
		t.Fatalf("ticker event not applied: %d", e.BestAsk())
	}
}
