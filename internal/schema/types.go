// Package schema defines the canonical domain types shared across the
// goxfeed client: fixed-point amounts, order-book levels and own orders.
package schema

import "fmt"

// Amount is a monetary or quantity value in the exchange's fixed-point
// integer representation. The scale factor depends on the currency, see
// the numeric package.
type Amount = int64

// Side identifies which half of the book a level or order belongs to.
type Side uint8

const (
	// SideBid marks buy-side entries.
	SideBid Side = iota
	// SideAsk marks sell-side entries.
	SideAsk
)

// ParseSide converts the wire representation ("bid"/"ask") into a Side.
func ParseSide(s string) (Side, error) {
	switch s {
	case "bid":
		return SideBid, nil
	case "ask":
		return SideAsk, nil
	default:
		return SideBid, fmt.Errorf("unknown side %q", s)
	}
}

// String returns the wire representation of the side.
func (s Side) String() string {
	if s == SideAsk {
		return "ask"
	}
	return "bid"
}

// PriceLevel aggregates all resting interest at one price.
type PriceLevel struct {
	Price  Amount
	Volume Amount
}

// Order is an own order resting on the exchange. ID stays empty until
// the server has assigned one.
type Order struct {
	Price  Amount
	Volume Amount
	Side   Side
	ID     string
	Status string
}

// OrderStatusRemoved is the synthetic status used when the exchange
// reports an order as gone (filled or canceled).
const OrderStatusRemoved = "removed"

// OrderStatusPending marks an order that was acknowledged but is not yet
// confirmed open on the server.
const OrderStatusPending = "pending"

// HistoricTrade is one entry of the 24h public trade history.
type HistoricTrade struct {
	Timestamp int64
	Price     Amount
	Volume    Amount
}
