package feed

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/quantfall/goxfeed/config"
	"github.com/quantfall/goxfeed/errs"
	"github.com/quantfall/goxfeed/internal/bus"
	"github.com/quantfall/goxfeed/internal/schema"
	"github.com/quantfall/goxfeed/internal/telemetry"
)

// httpQueueDepth bounds the pending request queue. The exchange's
// authenticated API is slow; a deep backlog means something is wrong
// upstream, so overflow is logged and dropped rather than buffered
// without limit.
const httpQueueDepth = 64

// Signed calls are paced well under the exchange's documented limit.
const httpCallInterval = rate.Limit(2)

// HTTPRequest is one queued authenticated call. CorrelationID tags the
// republished result so the dispatcher treats it exactly like a socket
// response.
type HTTPRequest struct {
	Endpoint      string
	Params        url.Values
	CorrelationID string
}

// HTTPWorker serializes queued authenticated HTTP calls. Application
// level failures retry the same item indefinitely; transport or decode
// failures drop the item after one attempt. Successful results are
// republished as synthetic result frames on the shared frame topic.
type HTTPWorker struct {
	signer  *Signer
	baseURL string
	client  *http.Client
	bus     *bus.Bus
	logger  *zap.Logger
	metrics *telemetry.Metrics
	limiter *rate.Limiter

	queue chan HTTPRequest

	lifeMu sync.Mutex
	cancel context.CancelFunc
}

// NewHTTPWorker constructs a worker for the configured HTTP endpoint.
func NewHTTPWorker(cfg config.Settings, signer *Signer, b *bus.Bus, metrics *telemetry.Metrics, logger *zap.Logger) *HTTPWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPWorker{
		signer:  signer,
		baseURL: strings.TrimRight(cfg.Endpoints.HTTPBaseURL, "/"),
		client:  &http.Client{Timeout: cfg.Thresholds.HTTPTimeout},
		bus:     b,
		logger:  logger.Named("httpworker"),
		metrics: metrics,
		limiter: rate.NewLimiter(httpCallInterval, 1),
		queue:   make(chan HTTPRequest, httpQueueDepth),
	}
}

// Start launches the queue-draining goroutine. Idempotent.
func (w *HTTPWorker) Start() {
	w.lifeMu.Lock()
	defer w.lifeMu.Unlock()
	if w.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	go w.run(ctx)
}

// Stop terminates the worker. Idempotent; queued items stay queued and
// are processed after a later Start.
func (w *HTTPWorker) Stop() {
	w.lifeMu.Lock()
	defer w.lifeMu.Unlock()
	if w.cancel == nil {
		return
	}
	w.cancel()
	w.cancel = nil
}

// Enqueue adds a request to the FIFO queue. Calls are accepted only when
// authentication material is present; otherwise the action is skipped
// and logged.
func (w *HTTPWorker) Enqueue(endpoint string, params url.Values, correlationID string) {
	if !w.signer.Ready() {
		w.logger.Info("skipping authenticated call, no secret configured",
			zap.String("endpoint", endpoint))
		return
	}
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	req := HTTPRequest{Endpoint: endpoint, Params: params, CorrelationID: correlationID}
	select {
	case w.queue <- req:
	default:
		w.logger.Error("http queue full, dropping request",
			zap.String("endpoint", endpoint), zap.String("id", correlationID))
	}
}

func (w *HTTPWorker) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-w.queue:
			w.process(ctx, req)
		}
	}
}

// process retries req until the exchange reports success; a transport or
// decode failure abandons the item so one poisoned request cannot stall
// the queue forever.
func (w *HTTPWorker) process(ctx context.Context, req HTTPRequest) {
	for ctx.Err() == nil {
		if err := w.limiter.Wait(ctx); err != nil {
			return
		}
		data, err := w.call(ctx, req)
		if err != nil {
			if errs.HasCode(err, errs.CodeSoftAPI) {
				w.logger.Warn("call rejected, retrying",
					zap.String("endpoint", req.Endpoint),
					zap.String("id", req.CorrelationID),
					zap.Error(err))
				w.metrics.HTTPRetry(req.Endpoint)
				continue
			}
			w.logger.Error("call failed, dropping",
				zap.String("endpoint", req.Endpoint),
				zap.String("id", req.CorrelationID),
				zap.Error(err))
			return
		}

		frame, err := json.Marshal(map[string]any{
			"op":     "result",
			"id":     req.CorrelationID,
			"result": json.RawMessage(data),
		})
		if err != nil {
			w.logger.Error("encode result frame failed", zap.Error(err))
			return
		}
		w.bus.Publish(schema.TopicFrame, schema.FrameEvent{Origin: "http", Data: frame})
		return
	}
}

type apiResponse struct {
	Result string          `json:"result"`
	Data   json.RawMessage `json:"data"`
	Error  string          `json:"error"`
}

// call performs one signed POST and returns the raw result payload.
func (w *HTTPWorker) call(ctx context.Context, req HTTPRequest) (json.RawMessage, error) {
	body, headers, err := w.signer.SignRequest(req.Endpoint, req.Params)
	if err != nil {
		return nil, err
	}

	url := w.baseURL + "/" + req.Endpoint
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request %s: %w", url, err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for key, value := range headers {
		httpReq.Header.Set(key, value)
	}

	resp, err := w.client.Do(httpReq)
	if err != nil {
		return nil, errs.New("http_call", errs.CodeHardAPI,
			errs.WithEndpoint(req.Endpoint), errs.WithCause(err))
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.New("http_call", errs.CodeHardAPI,
			errs.WithEndpoint(req.Endpoint), errs.WithCause(err))
	}

	var decoded apiResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, errs.New("http_call", errs.CodeHardAPI,
			errs.WithEndpoint(req.Endpoint), errs.WithHTTP(resp.StatusCode),
			errs.WithCause(err))
	}
	if decoded.Result != "success" {
		return nil, errs.New("http_call", errs.CodeSoftAPI,
			errs.WithEndpoint(req.Endpoint), errs.WithHTTP(resp.StatusCode),
			errs.WithRawMessage(decoded.Error),
			errs.WithMessage("exchange reported "+decoded.Result))
	}
	return decoded.Data, nil
}
