package dispatch

import (
	"strings"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/quantfall/goxfeed/internal/schema"
)

// onResult correlates a call result back to the request that produced
// it via the request id the call carried.
func (d *Dispatcher) onResult(f *frame) {
	switch {
	case f.ID == "idkey":
		d.resultIDKey(f)
	case f.ID == "orders":
		d.resultOrders(f)
	case f.ID == "info":
		d.resultInfo(f)
	case f.ID == "order_lag":
		d.resultOrderLag(f)
	case strings.HasPrefix(f.ID, "order_add:"):
		d.resultOrderAdd(f)
	case strings.HasPrefix(f.ID, "order_cancel:"):
		d.logger.Debug("cancel acknowledged", zap.String("id", f.ID))
	default:
		d.logger.Debug("uncorrelated result", zap.String("id", f.ID))
	}
}

// resultIDKey stores the stream key and immediately subscribes the
// account channel with it. The key expires server-side, so every
// reconnect requests a fresh one.
func (d *Dispatcher) resultIDKey(f *frame) {
	var idkey string
	if err := json.Unmarshal(f.Result, &idkey); err != nil || idkey == "" {
		d.logger.Warn("malformed idkey result", zap.Error(err))
		return
	}
	d.mu.Lock()
	d.idkey = idkey
	d.mu.Unlock()
	d.logger.Info("idkey received")
	if caller := d.callerRef(); caller != nil {
		caller.SubscribeKey(idkey)
	}
}

// resultOrders rebuilds the own-order set from the authoritative list,
// keeping only orders in our trading currency.
func (d *Dispatcher) resultOrders(f *frame) {
	var entries []orderEntry
	if err := json.Unmarshal(f.Result, &entries); err != nil {
		d.logger.Warn("malformed orders result", zap.Error(err))
		return
	}
	d.book.ResetOwns()
	kept := 0
	for _, entry := range entries {
		if entry.Price.Currency != d.currency {
			continue
		}
		side, err := schema.ParseSide(entry.Type)
		if err != nil {
			d.logger.Warn("order with unknown side", zap.String("oid", entry.OID), zap.Error(err))
			continue
		}
		d.book.AddOwn(schema.Order{
			ID:     entry.OID,
			Side:   side,
			Price:  entry.Price.ValueInt.Amount(),
			Volume: entry.Amount.ValueInt.Amount(),
			Status: entry.Status,
		})
		kept++
	}
	d.logger.Info("own orders rebuilt", zap.Int("orders", kept))
}

// resultInfo rebuilds the wallet map from the account info blob.
func (d *Dispatcher) resultInfo(f *frame) {
	var info infoResult
	if err := json.Unmarshal(f.Result, &info); err != nil {
		d.logger.Warn("malformed info result", zap.Error(err))
		return
	}
	d.mu.Lock()
	d.wallet = make(map[string]schema.Amount, len(info.Wallets))
	for cur, w := range info.Wallets {
		d.wallet[cur] = w.Balance.ValueInt.Amount()
	}
	d.mu.Unlock()
	d.logger.Info("wallet updated", zap.Int("currencies", len(info.Wallets)))
	d.bus.Publish(schema.TopicWallet, schema.WalletEvent{})
}

func (d *Dispatcher) resultOrderLag(f *frame) {
	var lag lagResult
	if err := json.Unmarshal(f.Result, &lag); err != nil {
		d.logger.Warn("malformed lag result", zap.Error(err))
		return
	}
	d.bus.Publish(schema.TopicLag, schema.LagEvent{
		Microseconds: lag.Lag.Amount(),
		Text:         lag.LagText,
	})
}

// resultOrderAdd publishes the acknowledged order as a pending own
// order. The request id encodes side, price and volume; the result body
// is the assigned order id.
func (d *Dispatcher) resultOrderAdd(f *frame) {
	side, price, volume, err := parseOrderAddID(f.ID)
	if err != nil {
		d.logger.Warn("unparseable order_add id", zap.String("id", f.ID), zap.Error(err))
		return
	}
	var oid string
	if err := json.Unmarshal(f.Result, &oid); err != nil || oid == "" {
		d.logger.Warn("malformed order_add result", zap.Error(err))
		return
	}
	d.logger.Info("order acknowledged", zap.String("oid", oid), zap.Stringer("side", side))
	d.bus.Publish(schema.TopicUserOrder, schema.UserOrderEvent{Order: schema.Order{
		ID:     oid,
		Side:   side,
		Price:  price,
		Volume: volume,
		Status: schema.OrderStatusPending,
	}})
}
