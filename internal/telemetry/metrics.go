package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics bundles the client's metric instruments. A nil *Metrics is
// valid and records nothing, so construction failures never block the
// data path.
type Metrics struct {
	framesReceived metric.Int64Counter
	reconnects     metric.Int64Counter
	failovers      metric.Int64Counter
	httpRetries    metric.Int64Counter
	bookResyncs    metric.Int64Counter
	restFetches    metric.Int64Counter
}

// NewMetrics creates the instrument bundle on the global meter provider.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter("goxfeed")
	m := &Metrics{}
	var err error
	if m.framesReceived, err = meter.Int64Counter("goxfeed.frames.received",
		metric.WithDescription("JSON frames received per transport")); err != nil {
		return nil, fmt.Errorf("create frames counter: %w", err)
	}
	if m.reconnects, err = meter.Int64Counter("goxfeed.transport.reconnects",
		metric.WithDescription("Transport reconnect attempts")); err != nil {
		return nil, fmt.Errorf("create reconnects counter: %w", err)
	}
	if m.failovers, err = meter.Int64Counter("goxfeed.supervisor.failovers",
		metric.WithDescription("Primary restarts triggered by the failover supervisor")); err != nil {
		return nil, fmt.Errorf("create failovers counter: %w", err)
	}
	if m.httpRetries, err = meter.Int64Counter("goxfeed.http.retries",
		metric.WithDescription("Signed HTTP calls retried after a soft failure")); err != nil {
		return nil, fmt.Errorf("create http retries counter: %w", err)
	}
	if m.bookResyncs, err = meter.Int64Counter("goxfeed.book.resyncs",
		metric.WithDescription("Order book snapshot reloads")); err != nil {
		return nil, fmt.Errorf("create book resyncs counter: %w", err)
	}
	if m.restFetches, err = meter.Int64Counter("goxfeed.rest.fetches",
		metric.WithDescription("Unauthenticated REST reads by endpoint and outcome")); err != nil {
		return nil, fmt.Errorf("create rest fetches counter: %w", err)
	}
	return m, nil
}

// FrameReceived records one received frame for the named transport.
func (m *Metrics) FrameReceived(origin string) {
	if m == nil {
		return
	}
	m.framesReceived.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("transport", origin)))
}

// Reconnect records one reconnect attempt for the named transport.
func (m *Metrics) Reconnect(origin string) {
	if m == nil {
		return
	}
	m.reconnects.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("transport", origin)))
}

// Failover records one supervisor-driven primary restart.
func (m *Metrics) Failover() {
	if m == nil {
		return
	}
	m.failovers.Add(context.Background(), 1)
}

// HTTPRetry records one retried signed HTTP call.
func (m *Metrics) HTTPRetry(endpoint string) {
	if m == nil {
		return
	}
	m.httpRetries.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("endpoint", endpoint)))
}

// RESTFetch records one REST read and whether it succeeded.
func (m *Metrics) RESTFetch(endpoint string, ok bool) {
	if m == nil {
		return
	}
	m.restFetches.Add(context.Background(), 1,
		metric.WithAttributes(
			attribute.String("endpoint", endpoint),
			attribute.Bool("ok", ok)))
}

// BookResync records one snapshot reload of the order book.
func (m *Metrics) BookResync() {
	if m == nil {
		return
	}
	m.bookResyncs.Add(context.Background(), 1)
}
