// Package dispatch routes decoded feed frames to typed bus events. It
// owns the pieces of account state that arrive interleaved with market
// data, the stream idkey and the wallet balances.
package dispatch

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/quantfall/goxfeed/internal/bus"
	"github.com/quantfall/goxfeed/internal/schema"
)

// Caller issues authenticated calls on behalf of the dispatcher, both
// for follow-ups triggered by results and for resubmitting calls the
// server rejected with a nonce remark.
type Caller interface {
	SubscribeKey(idkey string)
	RequestIDKey()
	RequestInfo()
	RequestOrders()
	AddOrder(side schema.Side, price, volume schema.Amount)
	CancelOrder(oid string)
}

// OwnBook is the slice of the book engine the dispatcher rebuilds when
// an authoritative order list arrives.
type OwnBook interface {
	ResetOwns()
	AddOwn(order schema.Order)
}

type opKind int

const (
	opSubscribe opKind = iota
	opUnsubscribe
	opRemark
	opResult
	opPrivate
	opError
	opKindCount
)

var opKinds = map[string]opKind{
	"subscribe":   opSubscribe,
	"unsubscribe": opUnsubscribe,
	"remark":      opRemark,
	"result":      opResult,
	"private":     opPrivate,
	"error":       opError,
}

type channelKind int

const (
	chTicker channelKind = iota
	chDepth
	chTrade
	chUserOrder
	chWallet
	chLag
	channelKindCount
)

var channelKinds = map[string]channelKind{
	"ticker":     chTicker,
	"depth":      chDepth,
	"trade":      chTrade,
	"user_order": chUserOrder,
	"wallet":     chWallet,
	"lag":        chLag,
}

// Dispatcher decodes raw frames and fans them out as typed events.
type Dispatcher struct {
	currency string
	logger   *zap.Logger
	bus      *bus.Bus
	book     OwnBook

	callerMu sync.RWMutex
	caller   Caller

	mu     sync.RWMutex
	idkey  string
	wallet map[string]schema.Amount

	ops      map[opKind]func(*frame)
	channels map[channelKind]func(*frame)

	sub *bus.Subscription
}

// New builds a dispatcher and validates that every known op and private
// channel has a handler bound.
func New(currency string, b *bus.Bus, book OwnBook, logger *zap.Logger) (*Dispatcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dispatcher{
		currency: currency,
		logger:   logger.Named("dispatch"),
		bus:      b,
		book:     book,
		wallet:   make(map[string]schema.Amount),
	}
	d.ops = map[opKind]func(*frame){
		opSubscribe:   d.onSubscribe,
		opUnsubscribe: d.onUnsubscribe,
		opRemark:      d.onRemark,
		opResult:      d.onResult,
		opPrivate:     d.onPrivate,
		opError:       d.onError,
	}
	d.channels = map[channelKind]func(*frame){
		chTicker:    d.onTicker,
		chDepth:     d.onDepth,
		chTrade:     d.onTrade,
		chUserOrder: d.onUserOrder,
		chWallet:    d.onWallet,
		chLag:       d.onLag,
	}
	for kind := opKind(0); kind < opKindCount; kind++ {
		if d.ops[kind] == nil {
			return nil, fmt.Errorf("dispatch: no handler for op kind %d", kind)
		}
	}
	for kind := channelKind(0); kind < channelKindCount; kind++ {
		if d.channels[kind] == nil {
			return nil, fmt.Errorf("dispatch: no handler for channel kind %d", kind)
		}
	}
	return d, nil
}

// SetCaller installs the authenticated-call sink. Must be set before
// frames start flowing.
func (d *Dispatcher) SetCaller(c Caller) {
	d.callerMu.Lock()
	d.caller = c
	d.callerMu.Unlock()
}

func (d *Dispatcher) callerRef() Caller {
	d.callerMu.RLock()
	defer d.callerMu.RUnlock()
	return d.caller
}

// Attach subscribes the dispatcher to raw frames on the bus.
func (d *Dispatcher) Attach() {
	d.sub = d.bus.Subscribe(schema.TopicFrame, func(_ schema.Topic, payload any) {
		if ev, ok := payload.(schema.FrameEvent); ok {
			d.Dispatch(ev.Data)
		}
	})
}

// Detach removes the frame subscription.
func (d *Dispatcher) Detach() {
	if d.sub != nil {
		d.sub.Unsubscribe()
		d.sub = nil
	}
}

// Dispatch decodes one raw frame and routes it by op. Unknown ops and
// undecodable frames are logged and dropped.
func (d *Dispatcher) Dispatch(raw []byte) {
	var f frame
	if err := json.Unmarshal(raw, &f); err != nil {
		d.logger.Warn("undecodable frame", zap.Error(err), zap.Int("bytes", len(raw)))
		return
	}
	if f.Op == "" {
		return
	}
	kind, ok := opKinds[f.Op]
	if !ok {
		d.logger.Debug("unknown op", zap.String("op", f.Op))
		return
	}
	d.ops[kind](&f)
}

// IDKey returns the stream key received from the server, empty until
// the idkey result arrives.
func (d *Dispatcher) IDKey() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.idkey
}

// Wallet returns a copy of the known account balances keyed by
// currency.
func (d *Dispatcher) Wallet() map[string]schema.Amount {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[string]schema.Amount, len(d.wallet))
	for cur, bal := range d.wallet {
		out[cur] = bal
	}
	return out
}

func (d *Dispatcher) onSubscribe(f *frame) {
	d.logger.Debug("channel subscribed", zap.String("channel", f.Channel))
}

func (d *Dispatcher) onUnsubscribe(f *frame) {
	d.logger.Debug("channel unsubscribed", zap.String("channel", f.Channel))
}

func (d *Dispatcher) onError(f *frame) {
	d.logger.Warn("server error", zap.String("message", f.Message))
}

// onRemark handles server-side rejections. A signed call bounced for a
// stale nonce is safe to resubmit for a small whitelist of idempotent
// calls; everything else is only logged.
func (d *Dispatcher) onRemark(f *frame) {
	if f.Success != nil && !*f.Success && f.Message == "Invalid call" {
		d.resubmit(f.ID)
		return
	}
	d.logger.Warn("remark", zap.String("message", f.Message), zap.String("id", f.ID))
}

func (d *Dispatcher) resubmit(reqid string) {
	caller := d.callerRef()
	if caller == nil {
		d.logger.Warn("invalid call with no caller bound", zap.String("id", reqid))
		return
	}
	switch {
	case reqid == "idkey":
		d.logger.Info("resubmitting rejected call", zap.String("id", reqid))
		caller.RequestIDKey()
	case reqid == "info":
		d.logger.Info("resubmitting rejected call", zap.String("id", reqid))
		caller.RequestInfo()
	case reqid == "orders":
		d.logger.Info("resubmitting rejected call", zap.String("id", reqid))
		caller.RequestOrders()
	case strings.HasPrefix(reqid, "order_add:"):
		side, price, volume, err := parseOrderAddID(reqid)
		if err != nil {
			d.logger.Warn("unparseable order_add id", zap.String("id", reqid), zap.Error(err))
			return
		}
		d.logger.Info("resubmitting rejected call", zap.String("id", reqid))
		caller.AddOrder(side, price, volume)
	case strings.HasPrefix(reqid, "order_cancel:"):
		oid := strings.TrimPrefix(reqid, "order_cancel:")
		d.logger.Info("resubmitting rejected call", zap.String("id", reqid))
		caller.CancelOrder(oid)
	default:
		d.logger.Warn("invalid call not resubmitted", zap.String("id", reqid))
	}
}

func parseOrderAddID(reqid string) (schema.Side, schema.Amount, schema.Amount, error) {
	parts := strings.Split(reqid, ":")
	if len(parts) != 4 {
		return 0, 0, 0, fmt.Errorf("want 4 fields, got %d", len(parts))
	}
	side, err := schema.ParseSide(parts[1])
	if err != nil {
		return 0, 0, 0, err
	}
	price, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return 0, 0, 0, err
	}
	volume, err := strconv.ParseInt(parts[3], 10, 64)
	if err != nil {
		return 0, 0, 0, err
	}
	return side, schema.Amount(price), schema.Amount(volume), nil
}
