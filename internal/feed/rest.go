package feed

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/quantfall/goxfeed/config"
	"github.com/quantfall/goxfeed/errs"
	"github.com/quantfall/goxfeed/internal/bus"
	"github.com/quantfall/goxfeed/internal/numeric"
	"github.com/quantfall/goxfeed/internal/schema"
	"github.com/quantfall/goxfeed/internal/telemetry"
)

// RESTClient performs the unauthenticated side reads: book snapshots,
// trade history and the fast ticker. Results are published on the bus so
// the consuming side cannot tell them apart from stream-driven events.
type RESTClient struct {
	baseURL  string
	currency string
	client   *http.Client
	bus      *bus.Bus
	logger   *zap.Logger
	metrics  *telemetry.Metrics
}

// NewRESTClient constructs a REST reader for the configured endpoints.
func NewRESTClient(cfg config.Settings, b *bus.Bus, metrics *telemetry.Metrics, logger *zap.Logger) *RESTClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RESTClient{
		baseURL:  strings.TrimRight(cfg.Endpoints.HTTPBaseURL, "/"),
		currency: cfg.Currency,
		client:   &http.Client{Timeout: cfg.Thresholds.HTTPTimeout},
		bus:      b,
		logger:   logger.Named("rest"),
		metrics:  metrics,
	}
}

type depthLevel struct {
	PriceInt  schema.FlexInt `json:"price_int"`
	AmountInt schema.FlexInt `json:"amount_int"`
}

type depthResponse struct {
	Result string `json:"result"`
	Error  string `json:"error"`
	Data   struct {
		Bids []depthLevel `json:"bids"`
		Asks []depthLevel `json:"asks"`
	} `json:"data"`
}

// FullDepth downloads the complete book snapshot and publishes it.
func (c *RESTClient) FullDepth(ctx context.Context) {
	c.depth(ctx, "money/depth/full")
}

// PartialDepth downloads the trimmed book snapshot and publishes it.
func (c *RESTClient) PartialDepth(ctx context.Context) {
	c.depth(ctx, "money/depth/fetch")
}

func (c *RESTClient) depth(ctx context.Context, endpoint string) {
	path := c.marketPath(endpoint)
	body, err := c.fetch(ctx, path)
	if err != nil {
		c.logger.Warn("depth request failed", zap.String("endpoint", path), zap.Error(err))
		return
	}
	var resp depthResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		c.logger.Warn("depth decode failed", zap.String("endpoint", path), zap.Error(err))
		return
	}
	if resp.Error != "" {
		c.logger.Warn("depth request rejected",
			zap.String("endpoint", path), zap.String("error", resp.Error))
		return
	}

	event := schema.FullDepthEvent{
		Bids: make([]schema.PriceLevel, 0, len(resp.Data.Bids)),
		Asks: make([]schema.PriceLevel, 0, len(resp.Data.Asks)),
	}
	for _, level := range resp.Data.Bids {
		event.Bids = append(event.Bids, schema.PriceLevel{
			Price:  level.PriceInt.Amount(),
			Volume: level.AmountInt.Amount(),
		})
	}
	for _, level := range resp.Data.Asks {
		event.Asks = append(event.Asks, schema.PriceLevel{
			Price:  level.PriceInt.Amount(),
			Volume: level.AmountInt.Amount(),
		})
	}
	c.logger.Info("depth snapshot received",
		zap.String("endpoint", path),
		zap.Int("bids", len(event.Bids)), zap.Int("asks", len(event.Asks)))
	c.bus.Publish(schema.TopicFullDepth, event)
}

type historyResponse struct {
	Result string `json:"result"`
	Data   []struct {
		Date      int64          `json:"date"`
		PriceInt  schema.FlexInt `json:"price_int"`
		AmountInt schema.FlexInt `json:"amount_int"`
	} `json:"data"`
}

// History downloads the 24h public trade history and publishes it.
func (c *RESTClient) History(ctx context.Context) {
	path := c.marketPath("money/trades")
	body, err := c.fetch(ctx, path)
	if err != nil {
		c.logger.Warn("history request failed", zap.Error(err))
		return
	}
	var resp historyResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		c.logger.Warn("history decode failed", zap.Error(err))
		return
	}
	if resp.Result != "success" {
		c.logger.Warn("history request rejected", zap.String("result", resp.Result))
		return
	}
	trades := make([]schema.HistoricTrade, 0, len(resp.Data))
	for _, t := range resp.Data {
		trades = append(trades, schema.HistoricTrade{
			Timestamp: t.Date,
			Price:     t.PriceInt.Amount(),
			Volume:    t.AmountInt.Amount(),
		})
	}
	c.logger.Info("trade history received", zap.Int("trades", len(trades)))
	c.bus.Publish(schema.TopicTradeHistory, schema.TradeHistoryEvent{Trades: trades})
}

type tickerResponse struct {
	Data struct {
		Buy struct {
			Value    string `json:"value"`
			Currency string `json:"currency"`
		} `json:"buy"`
		Sell struct {
			Value    string `json:"value"`
			Currency string `json:"currency"`
		} `json:"sell"`
	} `json:"data"`
}

// FastTicker polls the low-latency ticker endpoint and publishes the
// best prices through the same repair path stream tickers use.
func (c *RESTClient) FastTicker(ctx context.Context) {
	path := c.marketPath("money/ticker_fast")
	body, err := c.fetch(ctx, path)
	if err != nil {
		c.logger.Warn("ticker request failed", zap.Error(err))
		return
	}
	var resp tickerResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		c.logger.Warn("ticker decode failed", zap.Error(err))
		return
	}
	buy, err := decimal.NewFromString(resp.Data.Buy.Value)
	if err != nil {
		c.logger.Warn("ticker buy value malformed", zap.String("value", resp.Data.Buy.Value))
		return
	}
	sell, err := decimal.NewFromString(resp.Data.Sell.Value)
	if err != nil {
		c.logger.Warn("ticker sell value malformed", zap.String("value", resp.Data.Sell.Value))
		return
	}
	c.bus.Publish(schema.TopicTicker, schema.TickerEvent{
		Bid: numeric.FromDecimal(buy, c.currency),
		Ask: numeric.FromDecimal(sell, c.currency),
	})
}

func (c *RESTClient) marketPath(endpoint string) string {
	return numeric.BaseAsset + c.currency + "/" + endpoint
}

// fetch performs one GET with gzip-aware decoding of the response body.
func (c *RESTClient) fetch(ctx context.Context, path string) ([]byte, error) {
	body, err := c.fetchBody(ctx, path)
	c.metrics.RESTFetch(path, err == nil)
	return body, err
}

func (c *RESTClient) fetchBody(ctx context.Context, path string) ([]byte, error) {
	url := c.baseURL + "/" + path
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request %s: %w", url, err)
	}
	req.Header.Set("Accept-Encoding", "gzip")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errs.New("rest_fetch", errs.CodeTransport,
			errs.WithEndpoint(path), errs.WithCause(err))
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, errs.New("rest_fetch", errs.CodeHardAPI,
			errs.WithEndpoint(path), errs.WithHTTP(resp.StatusCode))
	}

	reader := io.Reader(resp.Body)
	if resp.Header.Get("Content-Encoding") == "gzip" {
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, errs.New("rest_fetch", errs.CodeHardAPI,
				errs.WithEndpoint(path), errs.WithMessage("bad gzip body"), errs.WithCause(err))
		}
		defer func() { _ = gz.Close() }()
		reader = gz
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, errs.New("rest_fetch", errs.CodeTransport,
			errs.WithEndpoint(path), errs.WithCause(err))
	}
	return body, nil
}
