package goxfeed

import (
	"github.com/quantfall/goxfeed/internal/schema"
)

// Callback registration. Handlers run serialized with all book
// mutations; a handler must not block and may publish further calls
// into the session, which are delivered after the current event
// finishes. Each registration returns its unsubscribe function, safe to
// call more than once.

// OnBookChanged fires after every order-book mutation. Notifications
// are redundant-by-design; handlers must be idempotent.
func (s *Session) OnBookChanged(fn func()) func() {
	sub := s.bus.Subscribe(schema.TopicBookChanged, func(_ schema.Topic, _ any) {
		fn()
	})
	return sub.Unsubscribe
}

// OnTicker fires on every best bid/ask update.
func (s *Session) OnTicker(fn func(bid, ask Amount)) func() {
	sub := s.bus.Subscribe(schema.TopicTicker, func(_ schema.Topic, payload any) {
		if ev, ok := payload.(schema.TickerEvent); ok {
			fn(ev.Bid, ev.Ask)
		}
	})
	return sub.Unsubscribe
}

// OnTrade fires on every observed trade, own trades included.
func (s *Session) OnTrade(fn func(trade TradeEvent)) func() {
	sub := s.bus.Subscribe(schema.TopicTrade, func(_ schema.Topic, payload any) {
		if ev, ok := payload.(schema.TradeEvent); ok {
			fn(ev)
		}
	})
	return sub.Unsubscribe
}

// OnUserOrder fires on every authoritative own-order update.
func (s *Session) OnUserOrder(fn func(order Order)) func() {
	sub := s.bus.Subscribe(schema.TopicUserOrder, func(_ schema.Topic, payload any) {
		if ev, ok := payload.(schema.UserOrderEvent); ok {
			fn(ev.Order)
		}
	})
	return sub.Unsubscribe
}

// OnWallet fires when one or more balances changed; read the new state
// with Wallet.
func (s *Session) OnWallet(fn func()) func() {
	sub := s.bus.Subscribe(schema.TopicWallet, func(_ schema.Topic, _ any) {
		fn()
	})
	return sub.Unsubscribe
}

// OnLag fires on order-processing lag reports.
func (s *Session) OnLag(fn func(microseconds int64, text string)) func() {
	sub := s.bus.Subscribe(schema.TopicLag, func(_ schema.Topic, payload any) {
		if ev, ok := payload.(schema.LagEvent); ok {
			fn(ev.Microseconds, ev.Text)
		}
	})
	return sub.Unsubscribe
}

// OnTradeHistory fires once per history download, oldest trade first.
func (s *Session) OnTradeHistory(fn func(trades []HistoricTrade)) func() {
	sub := s.bus.Subscribe(schema.TopicTradeHistory, func(_ schema.Topic, payload any) {
		if ev, ok := payload.(schema.TradeHistoryEvent); ok {
			fn(ev.Trades)
		}
	})
	return sub.Unsubscribe
}
