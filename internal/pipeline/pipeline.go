// Package pipeline runs a complete retrieval: discovery, a barrier, then
// concurrent download and unpacking of every discovered archive.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/b3-market-data/internal/fetch"
	"github.com/JakeFAU/b3-market-data/internal/market"
	"github.com/JakeFAU/b3-market-data/internal/metrics"
)

// Discoverer lists the links to retrieve.
type Discoverer interface {
	Discover(ctx context.Context) ([]market.Link, error)
}

// Fetcher downloads links, handing each outcome to handle in its worker slot.
type Fetcher interface {
	Run(ctx context.Context, links []market.Link, handle fetch.Handler) []market.Outcome
}

// Extractor unpacks an archive on local disk.
type Extractor interface {
	Extract(ctx context.Context, archivePath string) ([]market.Member, error)
}

// Staging removes downloaded archives once they have been unpacked.
type Staging interface {
	Remove(path string) error
}

// Config controls a run.
type Config struct {
	// DiscoveryTimeout bounds the discovery phase; zero means no bound.
	DiscoveryTimeout time.Duration
	// Window is reported alongside the results.
	Window *market.DateWindow
	// Topic receives the run report when a Publisher is set.
	Topic string
	// ContentType labels mirrored members; empty means text/plain.
	ContentType string
}

// Deps are the collaborators of a Pipeline. Extractor, Staging, Mirror,
// Publisher and Progress are optional.
type Deps struct {
	Discoverer Discoverer
	Fetcher    Fetcher
	Extractor  Extractor
	Staging    Staging
	Mirror     market.BlobStore
	Publisher  market.Publisher
	Clock      market.Clock
	IDs        market.IDGenerator
	Logger     *zap.Logger
	// Progress is sized to the discovered link count before downloads start.
	Progress   market.Progress
}

// Pipeline wires discovery, fetching and unpacking.
type Pipeline struct {
	cfg  Config
	deps Deps
}

// New validates deps and builds a Pipeline.
func New(cfg Config, deps Deps) (*Pipeline, error) {
	if deps.Discoverer == nil {
		return nil, fmt.Errorf("discoverer is required")
	}
	if deps.Fetcher == nil {
		return nil, fmt.Errorf("fetcher is required")
	}
	if deps.Clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	if deps.IDs == nil {
		return nil, fmt.Errorf("id generator is required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if cfg.ContentType == "" {
		cfg.ContentType = "text/plain"
	}
	return &Pipeline{cfg: cfg, deps: deps}, nil
}

// Run executes one retrieval. A discovery failure aborts the run and is
// returned; per-item failures are reported in the Report only.
func (p *Pipeline) Run(ctx context.Context) (market.Report, error) {
	report := market.Report{
		StartedAt: p.deps.Clock.Now(),
		Window:    p.cfg.Window.Dates(),
	}
	runID, err := p.deps.IDs.NewID()
	if err != nil {
		return report, fmt.Errorf("generate run id: %w", err)
	}
	report.RunID = runID
	logger := p.deps.Logger.With(zap.String("run_id", runID))

	links, err := p.discover(ctx)
	if err != nil {
		report.FinishedAt = p.deps.Clock.Now()
		metrics.ObserveRun("error", report.FinishedAt.Sub(report.StartedAt))
		logger.Error("discovery failed", zap.Error(err))
		return report, err
	}
	metrics.ObserveDiscovered(len(links))
	if p.deps.Progress != nil {
		p.deps.Progress.SetTotal(len(links))
	}
	logger.Info("discovery complete", zap.Int("links", len(links)), zap.Strings("window", report.Window))

	report.Outcomes = p.deps.Fetcher.Run(ctx, links, p.unpack(logger))
	report.Tally()
	report.FinishedAt = p.deps.Clock.Now()

	logger.Info("run complete",
		zap.Int("discovered", report.Discovered),
		zap.Int("downloaded", report.Downloaded),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed),
		zap.Int("extracted", report.Extracted),
		zap.Duration("elapsed", report.FinishedAt.Sub(report.StartedAt)),
	)
	metrics.ObserveRun("ok", report.FinishedAt.Sub(report.StartedAt))
	p.publish(ctx, logger, report)
	return report, nil
}

func (p *Pipeline) discover(ctx context.Context) ([]market.Link, error) {
	if p.cfg.DiscoveryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.DiscoveryTimeout)
		defer cancel()
	}
	links, err := p.deps.Discoverer.Discover(ctx)
	if err != nil {
		return nil, fmt.Errorf("discover links: %w", err)
	}
	return links, nil
}

// unpack runs inside the fetch worker for each downloaded archive.
func (p *Pipeline) unpack(logger *zap.Logger) fetch.Handler {
	return func(ctx context.Context, o market.Outcome) market.Outcome {
		if p.deps.Extractor == nil || o.Status != market.StatusDownloaded || o.Artifact == nil {
			return o
		}
		members, err := p.deps.Extractor.Extract(ctx, o.Artifact.Path)
		p.removeStaged(logger, o.Artifact.Object)
		if err != nil {
			logger.Warn("extract failed", zap.String("url", o.Link.Href), zap.Error(err))
			o.Status = market.StatusFailed
			o.Error = err.Error()
			return o
		}
		for i := range members {
			members[i].URI = p.mirror(ctx, logger, o.Link, members[i])
		}
		metrics.ObserveExtracted(len(members))
		o.Members = members
		o.Status = market.StatusExtracted
		return o
	}
}

func (p *Pipeline) removeStaged(logger *zap.Logger, object string) {
	if p.deps.Staging == nil || object == "" {
		return
	}
	if err := p.deps.Staging.Remove(object); err != nil {
		logger.Warn("remove staged archive", zap.String("file", object), zap.Error(err))
	}
}

// mirror copies an extracted member to the mirror store under
// <reference date>/<member name>. Failures are logged only.
func (p *Pipeline) mirror(ctx context.Context, logger *zap.Logger, link market.Link, m market.Member) string {
	if p.deps.Mirror == nil {
		return ""
	}
	f, err := os.Open(m.Path)
	if err != nil {
		logger.Warn("open member for mirror", zap.String("path", m.Path), zap.Error(err))
		return ""
	}
	defer f.Close() //nolint:errcheck // read-only

	uri, err := p.deps.Mirror.PutObject(ctx, path.Join(link.ReferenceDate, m.Name), p.cfg.ContentType, f)
	if err != nil {
		logger.Warn("mirror member", zap.String("path", m.Path), zap.Error(err))
		return ""
	}
	return uri
}

func (p *Pipeline) publish(ctx context.Context, logger *zap.Logger, report market.Report) {
	if p.deps.Publisher == nil || p.cfg.Topic == "" {
		return
	}
	id, err := p.deps.Publisher.Publish(ctx, p.cfg.Topic, report)
	if err != nil {
		logger.Warn("publish run report", zap.String("topic", p.cfg.Topic), zap.Error(err))
		return
	}
	logger.Debug("run report published", zap.String("message_id", id))
}
