// Package book maintains the local view of the public order book and
// the account's own resting orders, repairing it against a feed that is
// known to silently drop or duplicate events.
package book

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/quantfall/goxfeed/internal/bus"
	"github.com/quantfall/goxfeed/internal/numeric"
	"github.com/quantfall/goxfeed/internal/schema"
	"github.com/quantfall/goxfeed/internal/telemetry"
)

// Engine holds both ladders and the own-order set. Mutations arrive
// serialized through the bus; the mutex exists for callers reading book
// state from goroutines outside bus delivery, making the serialization
// explicit instead of an accident of routing.
type Engine struct {
	currency string
	logger   *zap.Logger
	bus      *bus.Bus
	metrics  *telemetry.Metrics

	mu   sync.RWMutex
	bids []schema.PriceLevel // sorted by price descending
	asks []schema.PriceLevel // sorted by price ascending
	owns []schema.Order

	bestBid schema.Amount
	bestAsk schema.Amount
	// totalBidValue accumulates quote value (volume x price); the ask
	// total accumulates base volume alone. Both are maintained
	// incrementally and recomputed only on snapshot reload.
	totalBidValue  schema.Amount
	totalAskVolume schema.Amount

	snapshotAt time.Time

	subs []*bus.Subscription
}

// NewEngine constructs an empty book for the given quote currency.
func NewEngine(currency string, b *bus.Bus, metrics *telemetry.Metrics, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		currency: currency,
		logger:   logger.Named("book"),
		bus:      b,
		metrics:  metrics,
	}
}

// Attach subscribes the engine to every event topic that mutates book
// state. Handlers run inside bus delivery, which is what serializes all
// mutations.
func (e *Engine) Attach() {
	e.subs = append(e.subs,
		e.bus.Subscribe(schema.TopicTicker, func(_ schema.Topic, payload any) {
			if ev, ok := payload.(schema.TickerEvent); ok {
				e.ApplyTicker(ev.Bid, ev.Ask)
			}
		}),
		e.bus.Subscribe(schema.TopicDepth, func(_ schema.Topic, payload any) {
			if ev, ok := payload.(schema.DepthEvent); ok {
				e.ApplyDepth(ev.Side, ev.Price, ev.TotalVolume)
			}
		}),
		e.bus.Subscribe(schema.TopicTrade, func(_ schema.Topic, payload any) {
			if ev, ok := payload.(schema.TradeEvent); ok {
				e.ApplyTrade(ev)
			}
		}),
		e.bus.Subscribe(schema.TopicUserOrder, func(_ schema.Topic, payload any) {
			if ev, ok := payload.(schema.UserOrderEvent); ok {
				e.ApplyUserOrder(ev.Order)
			}
		}),
		e.bus.Subscribe(schema.TopicFullDepth, func(_ schema.Topic, payload any) {
			if ev, ok := payload.(schema.FullDepthEvent); ok {
				e.ApplySnapshot(ev)
			}
		}),
	)
}

// Detach removes every bus subscription.
func (e *Engine) Detach() {
	for _, sub := range e.subs {
		sub.Unsubscribe()
	}
	e.subs = nil
}

func (e *Engine) changed() {
	e.bus.Publish(schema.TopicBookChanged, schema.BookChangedEvent{})
}

// ApplyTicker records the authoritative best prices and repairs entries
// crossed beyond them. The ticker is the only fully trusted source of
// best-price truth.
func (e *Engine) ApplyTicker(bid, ask schema.Amount) {
	e.mu.Lock()
	e.bestBid = bid
	e.bestAsk = ask
	e.repairCrossedAsks(ask)
	e.repairCrossedBids(bid)
	e.mu.Unlock()
	e.changed()
}

// repairCrossedAsks removes ask levels priced below the trusted ask,
// deducting their volume from the running total.
func (e *Engine) repairCrossedAsks(ask schema.Amount) {
	for len(e.asks) > 0 && e.asks[0].Price < ask {
		e.totalAskVolume -= e.asks[0].Volume
		e.asks = e.asks[1:]
	}
}

// repairCrossedBids removes bid levels priced above the trusted bid.
func (e *Engine) repairCrossedBids(bid schema.Amount) {
	for len(e.bids) > 0 && e.bids[0].Price > bid {
		top := e.bids[0]
		e.totalBidValue -= numeric.Value(top.Volume, top.Price, e.currency)
		e.bids = e.bids[1:]
	}
}

// ApplyDepth sets the total volume resting at one price: zero deletes
// the level, otherwise the level is upserted at its sorted position.
func (e *Engine) ApplyDepth(side schema.Side, price, totalVolume schema.Amount) {
	e.mu.Lock()
	if side == schema.SideAsk {
		e.updateAsks(price, totalVolume)
	} else {
		e.updateBids(price, totalVolume)
	}
	e.mu.Unlock()
	e.changed()
}

func (e *Engine) updateAsks(price, totalVolume schema.Amount) {
	for i := range e.asks {
		level := &e.asks[i]
		if level.Price == price {
			e.totalAskVolume += totalVolume - level.Volume
			if totalVolume == 0 {
				e.asks = append(e.asks[:i], e.asks[i+1:]...)
			} else {
				level.Volume = totalVolume
			}
			return
		}
		if level.Price > price && totalVolume > 0 {
			e.asks = insertAt(e.asks, i, schema.PriceLevel{Price: price, Volume: totalVolume})
			e.totalAskVolume += totalVolume
			return
		}
	}
	if totalVolume > 0 {
		e.asks = append(e.asks, schema.PriceLevel{Price: price, Volume: totalVolume})
		e.totalAskVolume += totalVolume
		e.bestAsk = e.asks[0].Price
	}
}

func (e *Engine) updateBids(price, totalVolume schema.Amount) {
	for i := range e.bids {
		level := &e.bids[i]
		if level.Price == price {
			e.totalBidValue += numeric.Value(totalVolume, price, e.currency) -
				numeric.Value(level.Volume, price, e.currency)
			if totalVolume == 0 {
				e.bids = append(e.bids[:i], e.bids[i+1:]...)
			} else {
				level.Volume = totalVolume
			}
			return
		}
		if level.Price < price && totalVolume > 0 {
			e.bids = insertAt(e.bids, i, schema.PriceLevel{Price: price, Volume: totalVolume})
			e.totalBidValue += numeric.Value(totalVolume, price, e.currency)
			return
		}
	}
	if totalVolume > 0 {
		e.bids = append(e.bids, schema.PriceLevel{Price: price, Volume: totalVolume})
		e.totalBidValue += numeric.Value(totalVolume, price, e.currency)
		e.bestBid = e.bids[0].Price
	}
}

// ApplyTrade decrements the top of the side the trade consumed, after
// repairing entries crossed at the trade price. A bid-typed trade
// filled a resting ask; an ask-typed trade filled a resting bid. Own
// trades never mutate the public ladders, the authoritative user-order
// events do that.
func (e *Engine) ApplyTrade(ev schema.TradeEvent) {
	if ev.Own {
		e.logger.Info("own order traded",
			zap.String("price", numeric.Format(ev.Price, e.currency)),
			zap.String("volume", numeric.Format(ev.Volume, numeric.BaseAsset)))
		e.changed()
		return
	}

	e.mu.Lock()
	if ev.Side == schema.SideBid {
		e.repairCrossedAsks(ev.Price)
		if len(e.asks) > 0 && e.asks[0].Price == ev.Price {
			top := &e.asks[0]
			if top.Volume <= ev.Volume {
				e.totalAskVolume -= top.Volume
				e.asks = e.asks[1:]
			} else {
				top.Volume -= ev.Volume
				e.totalAskVolume -= ev.Volume
			}
		}
		if len(e.asks) > 0 {
			e.bestAsk = e.asks[0].Price
		}
	} else {
		e.repairCrossedBids(ev.Price)
		if len(e.bids) > 0 && e.bids[0].Price == ev.Price {
			top := &e.bids[0]
			if top.Volume <= ev.Volume {
				e.totalBidValue -= numeric.Value(top.Volume, top.Price, e.currency)
				e.bids = e.bids[1:]
			} else {
				top.Volume -= ev.Volume
				e.totalBidValue -= numeric.Value(ev.Volume, top.Price, e.currency)
			}
		}
		if len(e.bids) > 0 {
			e.bestBid = e.bids[0].Price
		}
	}
	e.mu.Unlock()
	e.changed()
}

// AddOwn starts tracking an own order. When no public level exists at
// its price yet, a volume-0 placeholder is inserted at the sorted
// position so the order is visible before authoritative depth arrives;
// a later genuine depth update at that price supersedes the placeholder.
func (e *Engine) AddOwn(order schema.Order) {
	e.mu.Lock()
	added := e.addOwnLocked(order)
	e.mu.Unlock()
	if added {
		e.changed()
	}
}

func (e *Engine) addOwnLocked(order schema.Order) bool {
	if order.ID != "" && e.hasOwnLocked(order.ID) {
		return false
	}
	e.owns = append(e.owns, order)
	if order.Side == schema.SideAsk {
		e.asks = insertPlaceholder(e.asks, order.Price, false)
	} else {
		e.bids = insertPlaceholder(e.bids, order.Price, true)
	}
	return true
}

// ApplyUserOrder applies an authoritative own-order update matched by
// id: removal when the status says so, in-place overwrite otherwise.
// Replayed updates leave state unchanged.
func (e *Engine) ApplyUserOrder(order schema.Order) {
	e.mu.Lock()
	if order.Status == schema.OrderStatusRemoved {
		removed := false
		for i := range e.owns {
			if e.owns[i].ID == order.ID {
				gone := e.owns[i]
				e.logger.Info("own order removed",
					zap.String("oid", gone.ID),
					zap.Stringer("side", gone.Side),
					zap.String("price", numeric.Format(gone.Price, e.currency)),
					zap.String("volume", numeric.Format(gone.Volume, numeric.BaseAsset)))
				e.owns = append(e.owns[:i], e.owns[i+1:]...)
				removed = true
				break
			}
		}
		e.mu.Unlock()
		if removed {
			e.changed()
		}
		return
	}

	found := false
	for i := range e.owns {
		own := &e.owns[i]
		if own.ID == order.ID {
			found = true
			if own.Status != order.Status {
				e.logger.Info("own order status changed",
					zap.String("oid", order.ID),
					zap.String("from", own.Status),
					zap.String("to", order.Status))
			}
			own.Price = order.Price
			own.Volume = order.Volume
			own.Side = order.Side
			own.Status = order.Status
			break
		}
	}
	if !found {
		e.logger.Info("own order discovered",
			zap.String("oid", order.ID),
			zap.Stringer("side", order.Side),
			zap.String("price", numeric.Format(order.Price, e.currency)),
			zap.String("status", order.Status))
		e.addOwnLocked(order)
	}
	e.mu.Unlock()
	e.changed()
}

// ResetOwns clears the own-order set ahead of an authoritative rebuild.
func (e *Engine) ResetOwns() {
	e.mu.Lock()
	e.owns = nil
	e.mu.Unlock()
	e.changed()
}

// ApplySnapshot replaces both ladders wholesale, recomputes the running
// totals from scratch and records the snapshot timestamp consumed by
// the staleness checks.
func (e *Engine) ApplySnapshot(ev schema.FullDepthEvent) {
	e.mu.Lock()
	e.bids = e.bids[:0]
	e.asks = e.asks[:0]
	e.totalBidValue = 0
	e.totalAskVolume = 0

	for _, level := range ev.Asks {
		e.asks = insertSorted(e.asks, level, false)
	}
	for _, level := range ev.Bids {
		e.bids = insertSorted(e.bids, level, true)
	}
	for _, level := range e.asks {
		e.totalAskVolume += level.Volume
	}
	for _, level := range e.bids {
		e.totalBidValue += numeric.Value(level.Volume, level.Price, e.currency)
	}
	if len(e.bids) > 0 {
		e.bestBid = e.bids[0].Price
	}
	if len(e.asks) > 0 {
		e.bestAsk = e.asks[0].Price
	}
	e.snapshotAt = time.Now()
	e.mu.Unlock()

	e.metrics.BookResync()
	e.logger.Info("book reloaded from snapshot",
		zap.Int("bids", len(ev.Bids)), zap.Int("asks", len(ev.Asks)))
	e.changed()
}

// SnapshotAge returns how long ago the last snapshot was applied. Before
// the first snapshot the age is effectively unbounded.
func (e *Engine) SnapshotAge(now time.Time) time.Duration {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return now.Sub(e.snapshotAt)
}
