// Command goxfeed runs the streaming client as a standalone process,
// logging market state until interrupted.
package main

import (
	"context"
	"flag"
	"fmt"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/quantfall/goxfeed"
	"github.com/quantfall/goxfeed/config"
	"github.com/quantfall/goxfeed/internal/telemetry"
)

const (
	defaultConfigPath        = "config/goxfeed.yaml"
	telemetryShutdownTimeout = 5 * time.Second
	tickerLogMinInterval     = 5 * time.Second
)

func main() {
	cfgPath, debug := parseFlags()
	ctx, cancel := newSignalContext()
	defer cancel()

	logger := newLogger(debug)
	defer func() { _ = logger.Sync() }()

	cfg, loadedFromFile, err := config.LoadOrDefault(cfgPath)
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}
	if !loadedFromFile {
		logger.Info("configuration file not found, using defaults", zap.String("path", cfgPath))
	}
	logger.Info("configuration initialised",
		zap.String("currency", cfg.Currency),
		zap.Bool("authenticated", cfg.Credentials.Configured()),
		zap.Bool("http_api", cfg.UseHTTPAPI))

	shutdownTelemetry, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		logger.Fatal("initialize telemetry", zap.Error(err))
	}

	session, err := goxfeed.New(cfg, logger)
	if err != nil {
		logger.Fatal("build session", zap.Error(err))
	}

	observe(session, cfg.Currency, logger)
	session.Start()

	logger.Info("goxfeed started; awaiting shutdown signal")
	<-ctx.Done()
	logger.Info("shutdown signal received")

	session.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), telemetryShutdownTimeout)
	defer shutdownCancel()
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		logger.Warn("telemetry shutdown", zap.Error(err))
	}
	logger.Info("shutdown completed")
}

// observe wires log-only consumers for the main event streams. The
// ticker is rate-limited, everything else is sparse enough to log as
// is.
func observe(session *goxfeed.Session, currency string, logger *zap.Logger) {
	var lastTickerLog time.Time
	session.OnTicker(func(bid, ask goxfeed.Amount) {
		now := time.Now()
		if now.Sub(lastTickerLog) < tickerLogMinInterval {
			return
		}
		lastTickerLog = now
		logger.Info("ticker",
			zap.String("bid", goxfeed.Format(bid, currency)),
			zap.String("ask", goxfeed.Format(ask, currency)))
	})
	session.OnLag(func(microseconds int64, text string) {
		logger.Debug("order lag", zap.Int64("us", microseconds), zap.String("text", text))
	})
	session.OnWallet(func() {
		for cur, balance := range session.Wallet() {
			logger.Info("balance", zap.String("currency", cur),
				zap.String("amount", goxfeed.Format(balance, cur)))
		}
	})
	session.OnUserOrder(func(order goxfeed.Order) {
		logger.Info("own order",
			zap.String("oid", order.ID),
			zap.Stringer("side", order.Side),
			zap.String("status", order.Status))
	})
	session.OnTradeHistory(func(trades []goxfeed.HistoricTrade) {
		logger.Info("trade history loaded", zap.Int("trades", len(trades)))
	})
}

func parseFlags() (string, bool) {
	cfgPath := flag.String("config", "", fmt.Sprintf("path to configuration file (default: %s)", defaultConfigPath))
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()
	if *cfgPath == "" {
		return filepath.Clean(defaultConfigPath), *debug
	}
	return *cfgPath, *debug
}

func newSignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func newLogger(debug bool) *zap.Logger {
	if debug {
		return zap.Must(zap.NewDevelopment())
	}
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{"stdout"}
	return zap.Must(cfg.Build())
}
