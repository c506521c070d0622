// Package loader reads extracted trade files and bulk-inserts them.
package loader

import (
	"archive/zip"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/b3-market-data/internal/market"
	"github.com/JakeFAU/b3-market-data/internal/metrics"
)

// Store is the trade sink.
type Store interface {
	DropSchema(ctx context.Context) error
	EnsureSchema(ctx context.Context) error
	InsertTrades(ctx context.Context, trades []market.Trade) (int64, error)
	Refresh(ctx context.Context) error
}

// Config tunes a load.
type Config struct {
	BatchSize   int
	Concurrency int
	// Extension selects trade files, and trade members inside archives.
	Extension string
	Location  *time.Location
	// Reset drops the trade table and summaries before loading.
	Reset bool
}

// Stats summarizes a load.
type Stats struct {
	Files int
	Rows  int64
}

// Loader walks a directory of trade files and inserts every row.
type Loader struct {
	store    Store
	cfg      Config
	progress market.Progress
	logger   *zap.Logger
}

// New builds a Loader.
func New(store Store, cfg Config, progress market.Progress, logger *zap.Logger) (*Loader, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.BatchSize <= 0 {
		return nil, fmt.Errorf("batch size must be > 0")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.Extension == "" {
		cfg.Extension = ".txt"
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{store: store, cfg: cfg, progress: progress, logger: logger}, nil
}

// Load ensures the schema, inserts every trade file under dir and refreshes
// the summaries. Plain trade files are read directly; archives contribute
// their first trade member. Hidden entries are skipped. The first error
// cancels the remaining files.
func (l *Loader) Load(ctx context.Context, dir string) (Stats, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return Stats{}, fmt.Errorf("load dir: %w", err)
	}
	if !info.IsDir() {
		return Stats{}, fmt.Errorf("%s is not a directory", dir)
	}
	if l.cfg.Reset {
		if err := l.store.DropSchema(ctx); err != nil {
			return Stats{}, err
		}
		l.logger.Info("trade schema dropped")
	}
	if err := l.store.EnsureSchema(ctx); err != nil {
		return Stats{}, err
	}

	files, err := l.collect(dir)
	if err != nil {
		return Stats{}, err
	}

	var rows atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.cfg.Concurrency)
	for _, file := range files {
		g.Go(func() error {
			n, err := l.loadFile(gctx, file)
			rows.Add(n)
			if err != nil {
				return fmt.Errorf("load %s: %w", file, err)
			}
			l.logger.Debug("file loaded", zap.String("file", file), zap.Int64("rows", n))
			return nil
		})
	}
	stats := Stats{Files: len(files)}
	if err := g.Wait(); err != nil {
		stats.Rows = rows.Load()
		return stats, err
	}
	stats.Rows = rows.Load()

	if err := l.store.Refresh(ctx); err != nil {
		return stats, err
	}
	l.logger.Info("trades loaded", zap.Int("files", stats.Files), zap.Int64("rows", stats.Rows))
	return stats, nil
}

func (l *Loader) collect(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p != dir && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if strings.HasSuffix(d.Name(), l.cfg.Extension) || strings.HasSuffix(d.Name(), market.ArchiveSuffix) {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", dir, err)
	}
	return files, nil
}

func (l *Loader) loadFile(ctx context.Context, path string) (int64, error) {
	rc, err := l.open(path)
	if err != nil {
		return 0, err
	}
	if rc == nil {
		l.logger.Debug("archive has no trade member", zap.String("file", path))
		return 0, nil
	}
	defer rc.Close() //nolint:errcheck // read-only

	r := csv.NewReader(rc)
	r.Comma = ';'
	r.FieldsPerRecord = -1
	r.ReuseRecord = true

	// header
	if _, err := r.Read(); err != nil {
		if errors.Is(err, io.EOF) {
			return 0, nil
		}
		return 0, fmt.Errorf("read header: %w", err)
	}

	var inserted int64
	batch := make([]market.Trade, 0, l.cfg.BatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := l.store.InsertTrades(ctx, batch)
		inserted += n
		if err != nil {
			return err
		}
		metrics.ObserveTradesLoaded(len(batch))
		if l.progress != nil {
			l.progress.Add(len(batch))
		}
		batch = batch[:0]
		return nil
	}

	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return inserted, fmt.Errorf("read row: %w", err)
		}
		trade, err := ParseRow(row, l.cfg.Location)
		if err != nil {
			line, _ := r.FieldPos(0)
			return inserted, fmt.Errorf("line %d: %w", line, err)
		}
		batch = append(batch, trade)
		if len(batch) == l.cfg.BatchSize {
			if err := flush(); err != nil {
				return inserted, err
			}
		}
	}
	if err := flush(); err != nil {
		return inserted, err
	}
	return inserted, nil
}

// open returns a reader over the trade rows of path. Archives without a
// trade member yield nil.
func (l *Loader) open(path string) (io.ReadCloser, error) {
	if !strings.HasSuffix(path, market.ArchiveSuffix) {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open: %w", err)
		}
		return f, nil
	}
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	for _, f := range zr.File {
		if strings.HasSuffix(f.Name, l.cfg.Extension) {
			rc, err := f.Open()
			if err != nil {
				_ = zr.Close()
				return nil, fmt.Errorf("open member %s: %w", f.Name, err)
			}
			return memberReader{ReadCloser: rc, archive: zr}, nil
		}
	}
	_ = zr.Close()
	return nil, nil
}

type memberReader struct {
	io.ReadCloser
	archive *zip.ReadCloser
}

func (m memberReader) Close() error {
	err := m.ReadCloser.Close()
	if archErr := m.archive.Close(); err == nil {
		err = archErr
	}
	return err
}
