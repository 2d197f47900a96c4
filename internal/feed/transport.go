// Package feed implements the connection layer to the exchange: the two
// stream transports, request signing, the HTTP fallback worker, the
// unauthenticated REST reads and the failover supervisor.
package feed

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/quantfall/goxfeed/config"
	"github.com/quantfall/goxfeed/internal/bus"
	"github.com/quantfall/goxfeed/internal/schema"
	"github.com/quantfall/goxfeed/internal/telemetry"
)

// ConnState tracks one transport's connection lifecycle.
type ConnState int32

const (
	// StateDisconnected means no usable connection exists.
	StateDisconnected ConnState = iota
	// StateConnecting means a dial or handshake is in progress.
	StateConnecting
	// StateConnected means the read loop is consuming frames.
	StateConnected
)

// String returns a log-friendly state name.
func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// writeTimeout bounds every socket write so a stalled peer cannot wedge
// a sender.
const writeTimeout = 5 * time.Second

// Control writes (heartbeats, subscriptions, signed calls) are paced the
// way the exchange expects; bursts cover a reconnect handshake.
const (
	controlWriteInterval = 250 * time.Millisecond
	controlWriteBurst    = 4
)

// SessionHooks gives transports access to account-level state owned by
// the session: the private channel identity and the authenticated
// requests issued during handshakes and keepalives.
type SessionHooks interface {
	IDKey() string
	RequestIDKey()
	RequestOrderLag()
}

// BookInfo exposes the snapshot staleness consulted during handshakes
// and by the failover supervisor.
type BookInfo interface {
	SnapshotAge(now time.Time) time.Duration
}

// Transport is one long-lived stream connection to the exchange.
type Transport interface {
	Start()
	Stop()
	Name() string
	State() ConnState
	Running() bool
	LastFrame() time.Time
	ConnectedSince() time.Time
	Send(payload []byte)
	Worker() *HTTPWorker
}

// TransportDeps bundles the collaborators shared by both transports.
type TransportDeps struct {
	Logger  *zap.Logger
	Bus     *bus.Bus
	Metrics *telemetry.Metrics
	Worker  *HTTPWorker
	Rest    *RESTClient
	Book    BookInfo
}

// transportCore carries the state machine shared by both transport
// variants: idempotent start/stop, the guarded connection handle, frame
// accounting and the reconnect handshake.
type transportCore struct {
	name     string
	currency string

	logger     *zap.Logger
	bus        *bus.Bus
	metrics    *telemetry.Metrics
	worker     *HTTPWorker
	rest       *RESTClient
	book       BookInfo
	thresholds config.Thresholds
	loadFull   bool

	hooks   SessionHooks
	hooksMu sync.RWMutex

	// wrap applies the variant's outbound framing; loop is the variant's
	// connect/receive loop.
	wrap func([]byte) []byte
	loop func(ctx context.Context)

	lifeMu sync.Mutex
	cancel context.CancelFunc
	runCtx context.Context

	connMu sync.RWMutex
	conn   *websocket.Conn

	limiter *rate.Limiter

	state     atomic.Int32
	lastFrame atomic.Int64
	created   atomic.Int64
}

func newTransportCore(name string, cfg config.Settings, deps TransportDeps) transportCore {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return transportCore{
		name:       name,
		currency:   cfg.Currency,
		logger:     logger.Named(name),
		bus:        deps.Bus,
		metrics:    deps.Metrics,
		worker:     deps.Worker,
		rest:       deps.Rest,
		book:       deps.Book,
		thresholds: cfg.Thresholds,
		loadFull:   cfg.LoadFullDepth,
		wrap:       func(b []byte) []byte { return b },
		limiter:    rate.NewLimiter(rate.Every(controlWriteInterval), controlWriteBurst),
	}
}

// SetHooks wires the session-level callbacks. Must be called before
// Start.
func (c *transportCore) SetHooks(hooks SessionHooks) {
	c.hooksMu.Lock()
	c.hooks = hooks
	c.hooksMu.Unlock()
}

func (c *transportCore) sessionHooks() SessionHooks {
	c.hooksMu.RLock()
	defer c.hooksMu.RUnlock()
	return c.hooks
}

// Name identifies the transport in logs, metrics and frame origins.
func (c *transportCore) Name() string { return c.name }

// State returns the current connection state.
func (c *transportCore) State() ConnState {
	return ConnState(c.state.Load())
}

func (c *transportCore) setState(s ConnState) {
	c.state.Store(int32(s))
}

// Running reports whether Start has been called without a matching Stop.
func (c *transportCore) Running() bool {
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()
	return c.cancel != nil
}

// LastFrame returns when the transport last received a complete frame.
func (c *transportCore) LastFrame() time.Time {
	n := c.lastFrame.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// ConnectedSince returns when the current connection was established.
func (c *transportCore) ConnectedSince() time.Time {
	n := c.created.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// Worker returns the HTTP fallback worker owned by this transport.
func (c *transportCore) Worker() *HTTPWorker { return c.worker }

// Start spawns the connect/receive loop and the HTTP worker. Idempotent.
func (c *transportCore) Start() {
	c.lifeMu.Lock()
	if c.cancel != nil {
		c.lifeMu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.runCtx, c.cancel = ctx, cancel
	c.lifeMu.Unlock()

	c.logger.Info("starting transport", zap.String("currency", c.currency))
	if c.worker != nil {
		c.worker.Start()
	}
	go c.loop(ctx)
}

// Stop terminates the loops, closes the socket and marks the transport
// disconnected. Idempotent and callable from any goroutine.
func (c *transportCore) Stop() {
	c.lifeMu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.lifeMu.Unlock()
	if cancel == nil {
		return
	}
	cancel()

	c.connMu.Lock()
	conn := c.conn
	c.conn = nil
	c.connMu.Unlock()
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "shutdown")
	}
	c.setState(StateDisconnected)
	if c.worker != nil {
		c.worker.Stop()
	}
	c.logger.Info("transport stopped")
}

// Send transmits a JSON payload using the variant's outbound framing.
func (c *transportCore) Send(payload []byte) {
	c.trySend(c.wrap(payload))
}

// trySend writes raw bytes on the current connection. Failure closes the
// socket and marks the transport disconnected in one step; reconnection
// stays the receive loop's job, which keeps interleaved sends from
// arbitrary callers safe.
func (c *transportCore) trySend(raw []byte) {
	c.connMu.RLock()
	conn := c.conn
	ctx := c.runCtx
	c.connMu.RUnlock()
	if conn == nil || c.State() != StateConnected || ctx == nil {
		c.logger.Debug("send skipped, not connected", zap.Int("bytes", len(raw)))
		return
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return
	}
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	err := conn.Write(writeCtx, websocket.MessageText, raw)
	cancel()
	if err != nil {
		c.logger.Warn("send failed, closing connection", zap.Error(err))
		_ = conn.Close(websocket.StatusAbnormalClosure, "send failed")
		c.dropConn(conn)
	}
}

// storeConn installs a freshly dialed connection.
func (c *transportCore) storeConn(conn *websocket.Conn) {
	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()
	c.created.Store(time.Now().UnixNano())
	c.setState(StateConnected)
}

// dropConn clears the handle if it still refers to conn and marks the
// transport disconnected.
func (c *transportCore) dropConn(conn *websocket.Conn) {
	c.connMu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.connMu.Unlock()
	c.setState(StateDisconnected)
}

// markFrame records a received frame and publishes it for dispatch.
func (c *transportCore) markFrame(data []byte) {
	c.lastFrame.Store(time.Now().UnixNano())
	c.metrics.FrameReceived(c.name)
	frame := make([]byte, len(data))
	copy(frame, data)
	c.bus.Publish(schema.TopicFrame, schema.FrameEvent{Origin: c.name, Data: frame})
}

// channelSubscribe performs the post-connect handshake: subscribe the
// channels the server does not auto-subscribe, attach the account
// channel when the identity key is known (request it otherwise) and
// refresh the book snapshot depending on its age.
func (c *transportCore) channelSubscribe(ctx context.Context) {
	c.Send(encodeTypeSubscribe("lag"))

	if hooks := c.sessionHooks(); hooks != nil {
		if idkey := hooks.IDKey(); idkey != "" {
			c.logger.Debug("subscribing to account channel")
			c.Send(encodeKeySubscribe(idkey))
		} else {
			hooks.RequestIDKey()
		}
	}

	if c.book == nil || c.rest == nil {
		return
	}
	age := c.book.SnapshotAge(time.Now())
	switch {
	case age > c.thresholds.FullDepthStale:
		if c.loadFull {
			c.logger.Info("snapshot stale, requesting full depth",
				zap.Duration("age", age))
			go c.rest.FullDepth(ctx)
		}
	case age > c.thresholds.PartialDepthStale:
		c.logger.Info("snapshot aging, requesting partial depth",
			zap.Duration("age", age))
		go c.rest.PartialDepth(ctx)
	}
}

// sleepCtx waits for d or until ctx is done; it reports whether the
// caller should keep running.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
