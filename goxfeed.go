// Package goxfeed is a streaming client for the exchange's market-data
// and order-management API. A Session owns two stream transports with
// automatic failover, a signed HTTP fallback path, and a self-healing
// local order book, and exposes trading calls plus typed event
// callbacks on top of them.
package goxfeed

import (
	"context"
	"net/url"
	"strconv"
	"sync"

	"github.com/sourcegraph/conc"
	"go.uber.org/zap"

	"github.com/quantfall/goxfeed/config"
	"github.com/quantfall/goxfeed/internal/book"
	"github.com/quantfall/goxfeed/internal/bus"
	"github.com/quantfall/goxfeed/internal/dispatch"
	"github.com/quantfall/goxfeed/internal/feed"
	"github.com/quantfall/goxfeed/internal/schema"
	"github.com/quantfall/goxfeed/internal/telemetry"
)

// Re-exported domain types so callers never import internal packages.
type (
	// Amount is a fixed-point integer value, see FromFloat and Format.
	Amount = schema.Amount
	// Side identifies the book half of a level or order.
	Side = schema.Side
	// PriceLevel aggregates resting interest at one price.
	PriceLevel = schema.PriceLevel
	// Order is one own order resting on the exchange.
	Order = schema.Order
)

const (
	// SideBid marks buy-side entries.
	SideBid = schema.SideBid
	// SideAsk marks sell-side entries.
	SideAsk = schema.SideAsk
)

// Session is the top-level client. Construct with New, then Start; all
// methods are safe for concurrent use.
type Session struct {
	cfg     config.Settings
	logger  *zap.Logger
	bus     *bus.Bus
	metrics *telemetry.Metrics

	book       *book.Engine
	dispatcher *dispatch.Dispatcher
	signer     *feed.Signer
	rest       *feed.RESTClient
	primary    *feed.SessionTransport
	backup     *feed.WSTransport
	supervisor *feed.Supervisor

	lifeMu sync.Mutex
	cancel context.CancelFunc
	wg     conc.WaitGroup
}

// New wires a complete client from settings. Nothing connects until
// Start is called.
func New(cfg config.Settings, logger *zap.Logger) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics, err := telemetry.NewMetrics()
	if err != nil {
		return nil, err
	}

	b := bus.New(logger)
	engine := book.NewEngine(cfg.Currency, b, metrics, logger)
	engine.Attach()

	dispatcher, err := dispatch.New(cfg.Currency, b, engine, logger)
	if err != nil {
		return nil, err
	}
	dispatcher.Attach()

	signer := feed.NewSigner(cfg.Credentials, cfg.Currency, feed.NewNonceSource())
	rest := feed.NewRESTClient(cfg, b, metrics, logger)

	s := &Session{
		cfg:        cfg,
		logger:     logger.Named("session"),
		bus:        b,
		metrics:    metrics,
		book:       engine,
		dispatcher: dispatcher,
		signer:     signer,
		rest:       rest,
	}

	// Each transport owns an independent HTTP worker so queued signed
	// calls survive that transport's reconnects.
	s.primary = feed.NewSessionTransport(cfg, feed.TransportDeps{
		Logger:  logger,
		Bus:     b,
		Metrics: metrics,
		Worker:  feed.NewHTTPWorker(cfg, signer, b, metrics, logger),
		Rest:    rest,
		Book:    engine,
	})
	s.backup = feed.NewWSTransport(cfg, feed.TransportDeps{
		Logger:  logger,
		Bus:     b,
		Metrics: metrics,
		Worker:  feed.NewHTTPWorker(cfg, signer, b, metrics, logger),
		Rest:    rest,
		Book:    engine,
	})
	s.primary.SetHooks(s)
	s.backup.SetHooks(s)
	s.primary.SetFallback(s.backup.Start)
	s.supervisor = feed.NewSupervisor(s.primary, s.backup, engine, rest, cfg, metrics, logger)
	dispatcher.SetCaller(s)
	return s, nil
}

// Start connects the primary transport and runs the failover supervisor
// until Stop. Idempotent.
func (s *Session) Start() {
	s.lifeMu.Lock()
	if s.cancel != nil {
		s.lifeMu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.lifeMu.Unlock()

	s.logger.Info("starting",
		zap.String("currency", s.cfg.Currency),
		zap.Bool("authenticated", s.signer.Ready()))
	s.primary.Start()
	s.wg.Go(func() { s.supervisor.Run(ctx) })
	if s.cfg.LoadHistory {
		s.wg.Go(func() { s.rest.History(ctx) })
	}
}

// Stop disconnects both transports and waits for background work to
// finish. Idempotent.
func (s *Session) Stop() {
	s.lifeMu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.lifeMu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	s.primary.Stop()
	s.backup.Stop()
	s.wg.Wait()
	s.dispatcher.Detach()
	s.book.Detach()
	s.logger.Info("stopped")
}

// IDKey returns the account channel key, empty before the server has
// issued one.
func (s *Session) IDKey() string { return s.dispatcher.IDKey() }

// RequestIDKey asks the server for a fresh account channel key.
func (s *Session) RequestIDKey() {
	s.sendAuthenticated("idkey", "idkey", nil)
}

// RequestInfo asks for the account info blob that carries the wallet.
func (s *Session) RequestInfo() {
	s.sendAuthenticated("info", "info", nil)
}

// RequestOrders asks for the authoritative open-order list.
func (s *Session) RequestOrders() {
	s.sendAuthenticated("orders", "orders", nil)
}

// RequestOrderLag asks for the server's order-processing lag.
func (s *Session) RequestOrderLag() {
	s.sendAuthenticated("order_lag", "order/lag", nil)
}

// SubscribeKey subscribes the account channel on every connected
// transport.
func (s *Session) SubscribeKey(idkey string) {
	frame := feed.KeySubscribeFrame(idkey)
	if s.primary.State() == feed.StateConnected {
		s.primary.Send(frame)
	}
	if s.backup.State() == feed.StateConnected {
		s.backup.Send(frame)
	}
	// With the account channel attached, pull the account state that
	// only arrives on request.
	s.RequestOrders()
	s.RequestInfo()
}

// Buy places a limit buy at the given fixed-point price and volume.
func (s *Session) Buy(price, volume Amount) { s.AddOrder(SideBid, price, volume) }

// Sell places a limit sell at the given fixed-point price and volume.
func (s *Session) Sell(price, volume Amount) { s.AddOrder(SideAsk, price, volume) }

// AddOrder places a limit order. The acknowledgement arrives as a
// pending own order; the open confirmation follows on the account
// channel.
func (s *Session) AddOrder(side Side, price, volume Amount) {
	reqid := "order_add:" + side.String() +
		":" + strconv.FormatInt(price, 10) +
		":" + strconv.FormatInt(volume, 10)
	params := map[string]any{
		"type":       side.String(),
		"price_int":  price,
		"amount_int": volume,
	}
	s.sendAuthenticated(reqid, "order/add", params)
}

// CancelOrder cancels one order by id.
func (s *Session) CancelOrder(oid string) {
	s.sendAuthenticated("order_cancel:"+oid, "order/cancel", map[string]any{"oid": oid})
}

// CancelByPrice cancels every own order resting at one price on one
// side.
func (s *Session) CancelByPrice(side Side, price Amount) {
	for _, own := range s.book.Owns() {
		if own.Side == side && own.Price == price && own.ID != "" {
			s.CancelOrder(own.ID)
		}
	}
}

// CancelByType cancels every own order on one side.
func (s *Session) CancelByType(side Side) {
	for _, own := range s.book.Owns() {
		if own.Side == side && own.ID != "" {
			s.CancelOrder(own.ID)
		}
	}
}

// sendAuthenticated routes one signed call: through the HTTP worker of
// the transport that will receive the result, or as a signed socket
// call on the connected stream. Unconfigured credentials make this a
// logged no-op.
func (s *Session) sendAuthenticated(reqid, call string, params map[string]any) {
	if !s.signer.Ready() {
		s.logger.Info("credentials not configured, dropping call", zap.String("call", call))
		return
	}
	if s.cfg.UseHTTPAPI {
		endpoint, form := httpCall(call, s.cfg.Currency, params)
		s.activeTransport().Worker().Enqueue(endpoint, form, reqid)
		return
	}
	frame, err := s.signer.SignCall(reqid, "private/"+call, params)
	if err != nil {
		s.logger.Warn("signing failed", zap.String("call", call), zap.Error(err))
		return
	}
	s.activeTransport().Send(frame)
}

// activeTransport prefers the primary whenever it is connected.
func (s *Session) activeTransport() feed.Transport {
	if s.primary.State() == feed.StateConnected || s.backup.State() != feed.StateConnected {
		return s.primary
	}
	return s.backup
}

// httpCall maps a socket call name onto its HTTP endpoint and form
// parameters. Order placement is the one market-scoped endpoint.
func httpCall(call, currency string, params map[string]any) (string, url.Values) {
	form := url.Values{}
	for key, value := range params {
		switch v := value.(type) {
		case string:
			form.Set(key, v)
		case int64:
			form.Set(key, strconv.FormatInt(v, 10))
		case int:
			form.Set(key, strconv.Itoa(v))
		}
	}
	switch call {
	case "order/add":
		return "BTC" + currency + "/money/order/add", form
	case "order/cancel":
		return "money/order/cancel", form
	case "order/lag":
		return "money/order/lag", form
	default:
		return "money/" + call, form
	}
}
