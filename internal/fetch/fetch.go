// Package fetch downloads discovered archives concurrently.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/b3-market-data/internal/hash/sha256"
	"github.com/JakeFAU/b3-market-data/internal/market"
	"github.com/JakeFAU/b3-market-data/internal/metrics"
)

// ErrUnexpectedStatus marks a non-2xx response.
var ErrUnexpectedStatus = errors.New("unexpected status")

// Store receives downloaded archives. Resolve maps an object path to the
// local file it was written to.
type Store interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
	Resolve(path string) (string, error)
}

// Limiter paces requests per URL.
type Limiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Config controls the dispatcher.
type Config struct {
	// Concurrency bounds in-flight items; non-positive means one per link.
	Concurrency int
	// Timeout bounds a single request including the body transfer.
	Timeout   time.Duration
	UserAgent string
	// Staging names each download after its position in the batch, so
	// repeated links never share a file and each item can remove its own.
	Staging bool
}

// Handler continues processing a downloaded item inside the same worker
// slot. It receives every outcome, including skipped and failed ones.
type Handler func(ctx context.Context, outcome market.Outcome) market.Outcome

// Dispatcher issues one GET per link through a shared client.
type Dispatcher struct {
	client   *http.Client
	store    Store
	limiter  Limiter
	progress market.Progress
	cfg      Config
	logger   *zap.Logger
}

// Option customizes a Dispatcher.
type Option func(*Dispatcher)

// WithLimiter paces requests through l.
func WithLimiter(l Limiter) Option {
	return func(d *Dispatcher) { d.limiter = l }
}

// WithProgress advances p once per successful download.
func WithProgress(p market.Progress) Option {
	return func(d *Dispatcher) { d.progress = p }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(d *Dispatcher) { d.logger = logger }
}

// New builds a Dispatcher. A nil client gets a pooled default client.
func New(client *http.Client, store Store, cfg Config, opts ...Option) (*Dispatcher, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.Timeout < 0 {
		return nil, fmt.Errorf("timeout must be >= 0")
	}
	if client == nil {
		client = NewHTTPClient()
	}
	d := &Dispatcher{client: client, store: store, cfg: cfg}
	for _, opt := range opts {
		opt(d)
	}
	if d.logger == nil {
		d.logger = zap.NewNop()
	}
	return d, nil
}

// NewHTTPClient returns a client with a pooled transport. Per-request
// deadlines come from Config.Timeout rather than http.Client.Timeout.
func NewHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout:   15 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   16,
			IdleConnTimeout:       90 * time.Second,
		},
	}
}

// Fetch downloads every link and returns one outcome per link, in link order.
func (d *Dispatcher) Fetch(ctx context.Context, links []market.Link) []market.Outcome {
	return d.Run(ctx, links, nil)
}

// Run downloads every link and passes each outcome through handle, if set.
// All links are dispatched before any result is awaited; the call returns
// once every item has settled. An item's failure never cancels the others.
func (d *Dispatcher) Run(ctx context.Context, links []market.Link, handle Handler) []market.Outcome {
	outcomes := make([]market.Outcome, len(links))
	if len(links) == 0 {
		return outcomes
	}

	var g errgroup.Group
	limit := d.cfg.Concurrency
	if limit <= 0 {
		limit = len(links)
	}
	g.SetLimit(limit)

	for i, link := range links {
		g.Go(func() error {
			outcome := d.fetch(ctx, link, d.objectName(i, link))
			if handle != nil {
				outcome = handle(ctx, outcome)
			}
			outcomes[i] = outcome
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

func (d *Dispatcher) objectName(i int, link market.Link) string {
	if !d.cfg.Staging || link.FileName == "" {
		return link.FileName
	}
	return fmt.Sprintf("%04d-%s", i, link.FileName)
}

// FetchOne downloads a single link to <segment>.zip in the store.
func (d *Dispatcher) FetchOne(ctx context.Context, link market.Link) market.Outcome {
	return d.fetch(ctx, link, link.FileName)
}

func (d *Dispatcher) fetch(ctx context.Context, link market.Link, object string) market.Outcome {
	start := time.Now()
	outcome := market.Outcome{Link: link}
	logger := d.logger.With(zap.String("url", link.Href))

	finish := func(status market.Status, err error) market.Outcome {
		outcome.Status = status
		outcome.Duration = time.Since(start)
		if err != nil {
			outcome.Error = err.Error()
		}
		var written int64
		if outcome.Artifact != nil {
			written = outcome.Artifact.Bytes
		}
		metrics.ObserveItem(link.Href, string(status), written)
		return outcome
	}

	if link.ReferenceDate == "" {
		err := fmt.Errorf("link %q has no trailing path segment", link.Href)
		logger.Warn("cannot name archive", zap.Error(err))
		return finish(market.StatusFailed, err)
	}

	if d.limiter != nil {
		if err := d.limiter.Wait(ctx, link.Href); err != nil {
			return finish(market.StatusFailed, err)
		}
	}

	reqCtx := ctx
	if d.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, d.cfg.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, link.Href, nil)
	if err != nil {
		return finish(market.StatusFailed, fmt.Errorf("build request: %w", err))
	}
	if d.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", d.cfg.UserAgent)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		logger.Warn("download failed", zap.Error(err))
		return finish(market.StatusFailed, fmt.Errorf("get %s: %w", link.Href, err))
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			logger.Debug("close response body", zap.Error(closeErr))
		}
	}()

	outcome.StatusCode = resp.StatusCode
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		logger.Warn("download skipped", zap.Int("status", resp.StatusCode))
		return finish(market.StatusSkipped, fmt.Errorf("%w: %s", ErrUnexpectedStatus, resp.Status))
	}

	digest := sha256.NewReader(resp.Body)
	if _, err := d.store.PutObject(reqCtx, object, "application/zip", digest); err != nil {
		logger.Warn("write archive failed", zap.Error(err))
		return finish(market.StatusFailed, fmt.Errorf("write %s: %w", object, err))
	}
	path, err := d.store.Resolve(object)
	if err != nil {
		return finish(market.StatusFailed, err)
	}
	outcome.Artifact = &market.Artifact{Object: object, Path: path, Bytes: digest.N(), SHA256: digest.Sum()}

	if d.progress != nil {
		d.progress.Add(1)
	}
	logger.Debug("archive downloaded",
		zap.String("path", path),
		zap.Int64("bytes", outcome.Artifact.Bytes),
		zap.String("sha256", outcome.Artifact.SHA256),
	)
	return finish(market.StatusDownloaded, nil)
}
