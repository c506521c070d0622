// Package app builds and owns the long-lived services shared by the CLI
// commands. Services are created on first use so that each command only
// connects to what it needs.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/b3-market-data/internal/api"
	"github.com/JakeFAU/b3-market-data/internal/archive"
	chromedpbrowser "github.com/JakeFAU/b3-market-data/internal/browser/chromedp"
	"github.com/JakeFAU/b3-market-data/internal/browser/static"
	"github.com/JakeFAU/b3-market-data/internal/clock/system"
	"github.com/JakeFAU/b3-market-data/internal/config"
	"github.com/JakeFAU/b3-market-data/internal/discovery"
	"github.com/JakeFAU/b3-market-data/internal/fetch"
	"github.com/JakeFAU/b3-market-data/internal/id/uuid"
	"github.com/JakeFAU/b3-market-data/internal/loader"
	"github.com/JakeFAU/b3-market-data/internal/logging"
	"github.com/JakeFAU/b3-market-data/internal/market"
	"github.com/JakeFAU/b3-market-data/internal/metrics"
	"github.com/JakeFAU/b3-market-data/internal/pipeline"
	"github.com/JakeFAU/b3-market-data/internal/policy/ratelimit"
	pubsubpublisher "github.com/JakeFAU/b3-market-data/internal/publisher/pubsub"
	"github.com/JakeFAU/b3-market-data/internal/storage/gcs"
	"github.com/JakeFAU/b3-market-data/internal/storage/local"
	"github.com/JakeFAU/b3-market-data/internal/storage/postgres"
)

// App holds the configuration, the logger and every service opened on
// behalf of a command. Close releases them in reverse order.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	mu      sync.Mutex
	trades  *postgres.TradeStore
	closers []closer
}

type closer struct {
	name string
	fn   func() error
}

// New creates an App. A nil logger is replaced by one built from cfg.
func New(cfg config.Config, logger *zap.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		var err error
		logger, err = logging.New(cfg.Logging.Development)
		if err != nil {
			return nil, err
		}
	}
	metrics.Init()
	return &App{cfg: cfg, logger: logger}, nil
}

// GetConfig returns the loaded configuration.
func (a *App) GetConfig() config.Config {
	return a.cfg
}

// GetLogger returns the shared logger.
func (a *App) GetLogger() *zap.Logger {
	return a.logger
}

// GetTradeStore connects to Postgres on first use.
func (a *App) GetTradeStore(ctx context.Context) (*postgres.TradeStore, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.trades != nil {
		return a.trades, nil
	}
	store, err := postgres.NewTradeStore(ctx, postgres.Config{
		DSN:             a.cfg.DB.DSN,
		MaxConns:        a.cfg.DB.MaxConns,
		MaxConnLifetime: 30 * time.Minute,
	})
	if err != nil {
		return nil, fmt.Errorf("open trade store: %w", err)
	}
	a.trades = store
	a.closers = append(a.closers, closer{name: "trade store", fn: func() error {
		store.Close()
		return nil
	}})
	return store, nil
}

// NewPipeline assembles discovery, download, extraction and the optional
// mirror and publisher from the configuration. progress is advanced once
// per downloaded archive.
func (a *App) NewPipeline(ctx context.Context, progress market.Progress) (*pipeline.Pipeline, error) {
	cfg := a.cfg
	clk := system.New(cfg.Location())
	window := market.NewDateWindow(clk.Now(), cfg.Portal.OffsetDays)

	browser, err := a.newBrowser()
	if err != nil {
		return nil, err
	}
	disc := discovery.New(browser, discovery.Config{
		PageURL: cfg.Portal.URL,
		Marker:  cfg.Portal.Marker,
		Window:  window,
	}, logging.Component(a.logger, "discovery"))

	output, err := local.New(local.Config{BaseDir: cfg.Output.Dir})
	if err != nil {
		return nil, fmt.Errorf("open output dir: %w", err)
	}

	deps := pipeline.Deps{
		Discoverer: disc,
		Clock:      clk,
		IDs:        uuid.New(),
		Logger:     logging.Component(a.logger, "pipeline"),
		Progress:   progress,
	}

	downloads := output
	if cfg.Extract.Enabled {
		staging, err := local.New(local.Config{BaseDir: cfg.Output.StagingDir})
		if err != nil {
			return nil, fmt.Errorf("open staging dir: %w", err)
		}
		extractor, err := archive.New(output, cfg.Extract.Extension, logging.Component(a.logger, "archive"))
		if err != nil {
			return nil, err
		}
		downloads = staging
		deps.Extractor = extractor
		deps.Staging = staging
	}

	fetcher, err := fetch.New(fetch.NewHTTPClient(), downloads, fetch.Config{
		Concurrency: cfg.Fetch.Concurrency,
		Timeout:     cfg.HTTP.Timeout,
		UserAgent:   cfg.Browser.UserAgent,
		Staging:     cfg.Extract.Enabled,
	},
		fetch.WithLimiter(ratelimit.New(ratelimit.Config{
			DefaultRPS:   cfg.Fetch.RatePerSecond,
			DefaultBurst: cfg.Fetch.Concurrency,
		})),
		fetch.WithProgress(progress),
		fetch.WithLogger(logging.Component(a.logger, "fetch")),
	)
	if err != nil {
		return nil, err
	}
	deps.Fetcher = fetcher

	if cfg.Storage.GCSBucket != "" {
		mirror, err := gcs.Open(ctx, gcs.Config{Bucket: cfg.Storage.GCSBucket, Prefix: cfg.Storage.Prefix}, a.logger)
		if err != nil {
			return nil, err
		}
		a.addCloser("gcs mirror", mirror.Close)
		deps.Mirror = mirror
	}
	if cfg.PubSub.TopicName != "" {
		pub, err := pubsubpublisher.Open(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			return nil, err
		}
		a.addCloser("pubsub publisher", pub.Close)
		deps.Publisher = pub
	}

	return pipeline.New(pipeline.Config{
		DiscoveryTimeout: cfg.Browser.Timeout,
		Window:           window,
		Topic:            cfg.PubSub.TopicName,
		ContentType:      cfg.Storage.ContentType,
	}, deps)
}

func (a *App) newBrowser() (discovery.Browser, error) {
	switch a.cfg.Browser.Driver {
	case config.DriverStatic:
		return static.New(static.Config{
			UserAgent: a.cfg.Browser.UserAgent,
			Timeout:   a.cfg.Browser.Timeout,
		}), nil
	default:
		b, err := chromedpbrowser.New(chromedpbrowser.Config{
			ExecPath:          a.cfg.Browser.ExecPath,
			UserAgent:         a.cfg.Browser.UserAgent,
			NavigationTimeout: a.cfg.Browser.Timeout,
		}, logging.Component(a.logger, "chromedp"))
		if err != nil {
			return nil, fmt.Errorf("start browser: %w", err)
		}
		a.addCloser("browser", func() error {
			b.Close()
			return nil
		})
		return b, nil
	}
}

// NewLoader returns a trade loader writing to the Postgres trade store.
// progress is advanced by the number of rows inserted. reset drops existing
// trades before loading.
func (a *App) NewLoader(ctx context.Context, progress market.Progress, reset bool) (*loader.Loader, error) {
	store, err := a.GetTradeStore(ctx)
	if err != nil {
		return nil, err
	}
	return loader.New(store, loader.Config{
		BatchSize:   a.cfg.Load.BatchSize,
		Concurrency: a.cfg.Load.Concurrency,
		Extension:   a.cfg.Extract.Extension,
		Location:    a.cfg.Location(),
		Reset:       reset,
	}, progress, logging.Component(a.logger, "loader"))
}

// NewServer returns the summary API bound to the trade store.
func (a *App) NewServer(ctx context.Context) (*api.Server, error) {
	store, err := a.GetTradeStore(ctx)
	if err != nil {
		return nil, err
	}
	return api.NewServer(store, logging.Component(a.logger, "api")), nil
}

// StartMetricsServer serves /metrics on addr until Close. It returns the
// bound address, which differs from addr when a zero port is requested.
func (a *App) StartMetricsServer(addr string) (string, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("listen metrics: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server failed", zap.Error(err))
		}
	}()
	a.logger.Info("metrics server listening", zap.String("addr", ln.Addr().String()))
	a.addCloser("metrics server", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	})
	return ln.Addr().String(), nil
}

func (a *App) addCloser(name string, fn func() error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

// Close releases every opened service, newest first, then flushes the
// logger.
func (a *App) Close() {
	a.mu.Lock()
	closers := a.closers
	a.closers = nil
	a.trades = nil
	a.mu.Unlock()

	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i].fn(); err != nil {
			a.logger.Warn("close failed", zap.String("service", closers[i].name), zap.Error(err))
		}
	}
	// Sync fails on terminals; nothing useful to do about it.
	_ = a.logger.Sync()
}
