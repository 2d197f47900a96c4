package schema

// Topic keys bus subscriptions. Every event type below is published on
// exactly one topic.
type Topic string

const (
	// TopicFrame carries raw JSON frames from either transport or the
	// HTTP fallback worker.
	TopicFrame Topic = "frame"
	// TopicTicker carries best bid/ask updates.
	TopicTicker Topic = "ticker"
	// TopicDepth carries incremental depth updates.
	TopicDepth Topic = "depth"
	// TopicTrade carries public and own trade observations.
	TopicTrade Topic = "trade"
	// TopicUserOrder carries authoritative own-order updates.
	TopicUserOrder Topic = "user_order"
	// TopicWallet signals that wallet balances changed.
	TopicWallet Topic = "wallet"
	// TopicLag carries order-processing lag reports.
	TopicLag Topic = "lag"
	// TopicFullDepth carries full or partial book snapshots.
	TopicFullDepth Topic = "full_depth"
	// TopicTradeHistory carries the 24h public trade history.
	TopicTradeHistory Topic = "trade_history"
	// TopicBookChanged signals that the order book mutated. Consumers
	// must treat duplicate notifications as idempotent.
	TopicBookChanged Topic = "book_changed"
)

// FrameEvent is a decoded-but-unrouted JSON frame. Origin names the
// transport that produced it.
type FrameEvent struct {
	Origin string
	Data   []byte
}

// TickerEvent reports the authoritative best bid and ask.
type TickerEvent struct {
	Bid Amount
	Ask Amount
}

// DepthEvent reports the new total volume resting at one price.
type DepthEvent struct {
	Side        Side
	Price       Amount
	TotalVolume Amount
}

// TradeEvent reports a trade execution. Side is the taker type as
// reported by the exchange: a bid-typed trade filled an ask order and
// vice versa. Own trades never mutate the public ladders.
type TradeEvent struct {
	Timestamp int64
	Price     Amount
	Volume    Amount
	Side      Side
	Own       bool
}

// UserOrderEvent is an authoritative update to one own order. Status
// OrderStatusRemoved means the order is gone.
type UserOrderEvent struct {
	Order Order
}

// WalletEvent signals that one or more wallet balances changed.
type WalletEvent struct{}

// LagEvent reports the order-processing lag measured by the exchange.
type LagEvent struct {
	Microseconds int64
	Text         string
}

// FullDepthEvent carries an authoritative book snapshot. Bids and asks
// arrive unsorted; the book engine orders them on reload.
type FullDepthEvent struct {
	Bids []PriceLevel
	Asks []PriceLevel
}

// TradeHistoryEvent carries the public trade history, oldest first.
type TradeHistoryEvent struct {
	Trades []HistoricTrade
}

// BookChangedEvent signals that the order book mutated in some way.
type BookChangedEvent struct{}
