package goxfeed

import (
	"github.com/quantfall/goxfeed/internal/numeric"
	"github.com/quantfall/goxfeed/internal/schema"
)

// TradeEvent reports a trade execution as observed on the feed.
type TradeEvent = schema.TradeEvent

// HistoricTrade is one entry of the downloaded 24h trade history.
type HistoricTrade = schema.HistoricTrade

// FromFloat converts a float amount into the fixed-point representation
// for the given currency.
func FromFloat(v float64, currency string) Amount {
	return numeric.FromFloat(v, currency)
}

// Format renders a fixed-point amount as a decimal string.
func Format(a Amount, currency string) string {
	return numeric.Format(a, currency)
}

// BestBid returns the trusted best bid price.
func (s *Session) BestBid() Amount { return s.book.BestBid() }

// BestAsk returns the trusted best ask price.
func (s *Session) BestAsk() Amount { return s.book.BestAsk() }

// Bids returns a copy of the bid ladder, best first.
func (s *Session) Bids() []PriceLevel { return s.book.Bids() }

// Asks returns a copy of the ask ladder, best first.
func (s *Session) Asks() []PriceLevel { return s.book.Asks() }

// Owns returns a copy of the tracked own orders.
func (s *Session) Owns() []Order { return s.book.Owns() }

// TotalBidValue returns the summed quote value resting on the bid side.
func (s *Session) TotalBidValue() Amount { return s.book.TotalBidValue() }

// TotalAskVolume returns the summed base volume resting on the ask
// side.
func (s *Session) TotalAskVolume() Amount { return s.book.TotalAskVolume() }

// OwnVolumeAt sums own volume resting at one price on one side.
func (s *Session) OwnVolumeAt(side Side, price Amount) Amount {
	return s.book.OwnVolumeAt(side, price)
}

// Wallet returns a copy of the known balances keyed by currency.
func (s *Session) Wallet() map[string]Amount { return s.dispatcher.Wallet() }

// Currency returns the quote currency this session is filtered to.
func (s *Session) Currency() string { return s.cfg.Currency }
