package feed

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/quantfall/goxfeed/config"
)

// Socket.io 0.9 framing used by the primary endpoint.
const (
	channelNamespace = "/mtgox"
	heartbeatFrame   = "2::"
	joinFrame        = "1::" + channelNamespace
	messagePrefix    = "4::" + channelNamespace + ":"
)

// SessionTransport is the primary transport. It negotiates a session id
// over HTTP, upgrades to a websocket on the session URL, and speaks the
// exchange's channel framing: payloads wrapped in a message envelope,
// heartbeats answered in-line and a periodic application keepalive.
type SessionTransport struct {
	transportCore
	sessionURL string
	httpClient *http.Client
	fallback   func()
}

// NewSessionTransport constructs the primary transport.
func NewSessionTransport(cfg config.Settings, deps TransportDeps) *SessionTransport {
	t := &SessionTransport{
		sessionURL: strings.TrimRight(cfg.Endpoints.SessionURL, "/"),
		httpClient: &http.Client{Timeout: cfg.Thresholds.HandshakeTimeout},
	}
	t.transportCore = newTransportCore("session", cfg, deps)
	t.wrap = wrapSessionPayload
	t.loop = t.run
	return t
}

func wrapSessionPayload(payload []byte) []byte {
	framed := make([]byte, 0, len(messagePrefix)+len(payload))
	framed = append(framed, messagePrefix...)
	framed = append(framed, payload...)
	return framed
}

// SetFallback registers the callback invoked when the stream fails, used
// to start the backup transport immediately.
func (t *SessionTransport) SetFallback(fallback func()) {
	t.fallback = fallback
}

func (t *SessionTransport) run(ctx context.Context) {
	go t.keepaliveLoop(ctx)

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = time.Second
	policy.MaxInterval = t.thresholds.PrimaryBackoffMax

	for ctx.Err() == nil {
		t.setState(StateConnecting)
		conn, err := t.dial(ctx)
		if err != nil {
			t.setState(StateDisconnected)
			if ctx.Err() != nil {
				return
			}
			delay := policy.NextBackOff()
			t.logger.Warn("session connect failed",
				zap.Error(err), zap.Duration("retry_in", delay))
			t.metrics.Reconnect(t.name)
			if !sleepCtx(ctx, delay) {
				return
			}
			continue
		}

		policy.Reset()
		t.storeConn(conn)
		t.logger.Info("session connected")
		t.trySend([]byte(joinFrame))
		t.channelSubscribe(ctx)

		err = t.readLoop(ctx, conn)
		t.dropConn(conn)
		if ctx.Err() != nil {
			return
		}
		t.logger.Warn("session stream failed, falling back", zap.Error(err))
		t.metrics.Reconnect(t.name)
		if t.fallback != nil {
			t.fallback()
		}
		if !sleepCtx(ctx, policy.NextBackOff()) {
			return
		}
	}
}

// dial negotiates a session id over HTTP and upgrades to the websocket.
func (t *SessionTransport) dial(ctx context.Context) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, t.thresholds.HandshakeTimeout)
	defer cancel()

	sid, err := t.negotiate(dialCtx)
	if err != nil {
		return nil, fmt.Errorf("negotiate session: %w", err)
	}
	wsURL := fmt.Sprintf("%s/websocket/%s?Currency=%s", t.sessionURL, sid, t.currency)
	conn, _, err := websocket.Dial(dialCtx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", wsURL, err)
	}
	return conn, nil
}

// negotiate performs the plain HTTP handshake; the response body's first
// colon-separated token is the session id that feeds the upgraded URL.
func (t *SessionTransport) negotiate(ctx context.Context) (string, error) {
	url := httpEquivalent(t.sessionURL) + "?Currency=" + t.currency
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("handshake status %s", resp.Status)
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Split(line, ":")
		if len(fields) < 3 || fields[0] == "" {
			return "", fmt.Errorf("malformed handshake body %q", line)
		}
		return fields[0], nil
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return "", fmt.Errorf("empty handshake body")
}

func (t *SessionTransport) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		msgType, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		if msgType != websocket.MessageText {
			continue
		}
		msg := string(data)
		switch {
		case msg == heartbeatFrame:
			t.trySend([]byte(heartbeatFrame))
		case strings.HasPrefix(msg, messagePrefix):
			payload := data[len(messagePrefix):]
			if len(payload) > 0 && payload[0] == '{' {
				t.markFrame(payload)
			}
		}
	}
}

// keepaliveLoop sends an application-level heartbeat and piggybacks an
// order-lag query, proving both directions of the connection alive.
func (t *SessionTransport) keepaliveLoop(ctx context.Context) {
	interval := t.thresholds.KeepaliveInterval
	if interval <= 0 {
		interval = 60 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.trySend([]byte(heartbeatFrame))
			if hooks := t.sessionHooks(); hooks != nil {
				hooks.RequestOrderLag()
			}
		}
	}
}

// httpEquivalent rewrites a websocket URL scheme for the HTTP handshake.
func httpEquivalent(url string) string {
	switch {
	case strings.HasPrefix(url, "wss://"):
		return "https://" + strings.TrimPrefix(url, "wss://")
	case strings.HasPrefix(url, "ws://"):
		return "http://" + strings.TrimPrefix(url, "ws://")
	default:
		return url
	}
}
