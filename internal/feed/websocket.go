package feed

import (
	"context"
	"fmt"
	"strings"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/quantfall/goxfeed/config"
)

// WSTransport is the backup transport: a direct websocket upgrade with
// no channel framing. Reconnects use a short fixed delay because a
// failed dial is cheap here, unlike the primary's negotiated session.
type WSTransport struct {
	transportCore
	wsURL string
}

// NewWSTransport constructs the backup transport.
func NewWSTransport(cfg config.Settings, deps TransportDeps) *WSTransport {
	t := &WSTransport{
		wsURL: strings.TrimRight(cfg.Endpoints.WebsocketURL, "/"),
	}
	t.transportCore = newTransportCore("websocket", cfg, deps)
	t.loop = t.run
	return t
}

func (t *WSTransport) run(ctx context.Context) {
	url := fmt.Sprintf("%s/mtgox?Currency=%s", t.wsURL, t.currency)
	for ctx.Err() == nil {
		t.setState(StateConnecting)
		conn, err := t.dial(ctx, url)
		if err != nil {
			t.setState(StateDisconnected)
			if ctx.Err() != nil {
				return
			}
			t.logger.Warn("websocket connect failed", zap.Error(err))
			t.metrics.Reconnect(t.name)
			if !sleepCtx(ctx, t.thresholds.BackupReconnectDelay) {
				return
			}
			continue
		}

		t.storeConn(conn)
		t.logger.Info("websocket connected")
		t.channelSubscribe(ctx)

		err = t.readLoop(ctx, conn)
		t.dropConn(conn)
		if ctx.Err() != nil {
			return
		}
		t.logger.Warn("websocket stream failed", zap.Error(err))
		t.metrics.Reconnect(t.name)
		if !sleepCtx(ctx, t.thresholds.BackupReconnectDelay) {
			return
		}
	}
}

func (t *WSTransport) dial(ctx context.Context, url string) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, t.thresholds.HandshakeTimeout)
	defer cancel()
	conn, _, err := websocket.Dial(dialCtx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return conn, nil
}

func (t *WSTransport) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		msgType, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		if msgType != websocket.MessageText {
			continue
		}
		if len(data) > 0 && data[0] == '{' {
			t.markFrame(data)
		}
	}
}
