package book

import (
	"time"

	"github.com/quantfall/goxfeed/internal/schema"
)

func insertAt(ladder []schema.PriceLevel, i int, level schema.PriceLevel) []schema.PriceLevel {
	ladder = append(ladder, schema.PriceLevel{})
	copy(ladder[i+1:], ladder[i:])
	ladder[i] = level
	return ladder
}

// insertSorted places a level at its sorted position, overwriting any
// existing level at the same price. Bids sort descending, asks
// ascending.
func insertSorted(ladder []schema.PriceLevel, level schema.PriceLevel, descending bool) []schema.PriceLevel {
	for i := range ladder {
		if ladder[i].Price == level.Price {
			ladder[i].Volume = level.Volume
			return ladder
		}
		before := ladder[i].Price > level.Price
		if descending {
			before = ladder[i].Price < level.Price
		}
		if before {
			return insertAt(ladder, i, level)
		}
	}
	return append(ladder, level)
}

// insertPlaceholder inserts a volume-0 level at price unless a level
// already exists there.
func insertPlaceholder(ladder []schema.PriceLevel, price schema.Amount, descending bool) []schema.PriceLevel {
	for i := range ladder {
		if ladder[i].Price == price {
			return ladder
		}
		before := ladder[i].Price > price
		if descending {
			before = ladder[i].Price < price
		}
		if before {
			return insertAt(ladder, i, schema.PriceLevel{Price: price})
		}
	}
	return append(ladder, schema.PriceLevel{Price: price})
}

// BestBid returns the trusted best bid price.
func (e *Engine) BestBid() schema.Amount {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.bestBid
}

// BestAsk returns the trusted best ask price.
func (e *Engine) BestAsk() schema.Amount {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.bestAsk
}

// TotalBidValue returns the summed quote value resting on the bid side.
func (e *Engine) TotalBidValue() schema.Amount {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.totalBidValue
}

// TotalAskVolume returns the summed base volume resting on the ask side.
func (e *Engine) TotalAskVolume() schema.Amount {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.totalAskVolume
}

// Bids returns a copy of the bid ladder, best first.
func (e *Engine) Bids() []schema.PriceLevel {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]schema.PriceLevel, len(e.bids))
	copy(out, e.bids)
	return out
}

// Asks returns a copy of the ask ladder, best first.
func (e *Engine) Asks() []schema.PriceLevel {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]schema.PriceLevel, len(e.asks))
	copy(out, e.asks)
	return out
}

// Owns returns a copy of the tracked own orders.
func (e *Engine) Owns() []schema.Order {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]schema.Order, len(e.owns))
	copy(out, e.owns)
	return out
}

// OwnVolumeAt sums the volume of own orders resting at one price on one
// side.
func (e *Engine) OwnVolumeAt(side schema.Side, price schema.Amount) schema.Amount {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var total schema.Amount
	for _, own := range e.owns {
		if own.Side == side && own.Price == price {
			total += own.Volume
		}
	}
	return total
}

// HasOwnOrder reports whether an order id is tracked.
func (e *Engine) HasOwnOrder(oid string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.hasOwnLocked(oid)
}

func (e *Engine) hasOwnLocked(oid string) bool {
	for _, own := range e.owns {
		if own.ID == oid {
			return true
		}
	}
	return false
}

// SnapshotTime returns when the last full snapshot was applied, zero
// before the first one.
func (e *Engine) SnapshotTime() time.Time {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.snapshotAt
}
