package dispatch

import (
	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/quantfall/goxfeed/internal/schema"
)

// onPrivate routes the broadcast channels. Every handler filters on the
// trading currency, the feed multiplexes all currencies over the same
// stream once the account channel is subscribed.
func (d *Dispatcher) onPrivate(f *frame) {
	kind, ok := channelKinds[f.Private]
	if !ok {
		d.logger.Debug("unknown private channel", zap.String("private", f.Private))
		return
	}
	d.channels[kind](f)
}

func (d *Dispatcher) onTicker(f *frame) {
	if f.Ticker == nil || f.Ticker.Buy.Currency != d.currency {
		return
	}
	d.bus.Publish(schema.TopicTicker, schema.TickerEvent{
		Bid: f.Ticker.Buy.ValueInt.Amount(),
		Ask: f.Ticker.Sell.ValueInt.Amount(),
	})
}

func (d *Dispatcher) onDepth(f *frame) {
	if f.Depth == nil || f.Depth.Currency != d.currency {
		return
	}
	side, err := schema.ParseSide(f.Depth.TypeStr)
	if err != nil {
		d.logger.Warn("depth with unknown side", zap.Error(err))
		return
	}
	d.bus.Publish(schema.TopicDepth, schema.DepthEvent{
		Side:        side,
		Price:       f.Depth.PriceInt.Amount(),
		TotalVolume: f.Depth.TotalVolumeInt.Amount(),
	})
}

func (d *Dispatcher) onTrade(f *frame) {
	if f.Trade == nil || f.Trade.PriceCurrency != d.currency {
		return
	}
	side, err := schema.ParseSide(f.Trade.TradeType)
	if err != nil {
		d.logger.Warn("trade with unknown side", zap.Error(err))
		return
	}
	d.bus.Publish(schema.TopicTrade, schema.TradeEvent{
		Timestamp: f.Trade.Date.Amount(),
		Price:     f.Trade.PriceInt.Amount(),
		Volume:    f.Trade.AmountInt.Amount(),
		Side:      side,
		Own:       f.Channel != publicTradeChannel,
	})
}

// onUserOrder translates an own-order broadcast. A message without a
// price block means the order is gone.
func (d *Dispatcher) onUserOrder(f *frame) {
	var msg userOrderMsg
	if err := json.Unmarshal(f.UserOrder, &msg); err != nil {
		d.logger.Warn("malformed user_order", zap.Error(err))
		return
	}
	if msg.Price == nil {
		d.bus.Publish(schema.TopicUserOrder, schema.UserOrderEvent{Order: schema.Order{
			ID:     msg.OID,
			Status: schema.OrderStatusRemoved,
		}})
		return
	}
	if msg.Price.Currency != d.currency {
		return
	}
	side, err := schema.ParseSide(msg.Type)
	if err != nil {
		d.logger.Warn("user_order with unknown side", zap.String("oid", msg.OID), zap.Error(err))
		return
	}
	var volume schema.Amount
	if msg.Amount != nil {
		volume = msg.Amount.ValueInt.Amount()
	}
	d.bus.Publish(schema.TopicUserOrder, schema.UserOrderEvent{Order: schema.Order{
		ID:     msg.OID,
		Side:   side,
		Price:  msg.Price.ValueInt.Amount(),
		Volume: volume,
		Status: msg.Status,
	}})
}

// onWallet applies a single-balance update and signals the change.
func (d *Dispatcher) onWallet(f *frame) {
	if f.Wallet == nil || f.Wallet.Balance.Currency == "" {
		return
	}
	d.mu.Lock()
	d.wallet[f.Wallet.Balance.Currency] = f.Wallet.Balance.ValueInt.Amount()
	d.mu.Unlock()
	d.bus.Publish(schema.TopicWallet, schema.WalletEvent{})
}

func (d *Dispatcher) onLag(f *frame) {
	if f.Lag == nil {
		return
	}
	d.bus.Publish(schema.TopicLag, schema.LagEvent{
		Microseconds: f.Lag.Age.Amount(),
		Text:         f.Lag.Text,
	})
}
