// Package progress reports work completion to the terminal or the log.
//
// Every indicator is safe for concurrent use by multiple goroutines.
package progress

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"

	"github.com/JakeFAU/b3-market-data/internal/market"
)

// Modes accepted by New.
const (
	ModeBar  = "bar"
	ModeLog  = "log"
	ModeNone = "none"
)

// Options configure an indicator.
type Options struct {
	Mode        string
	Description string
	// Total is the expected unit count; -1 renders an open-ended spinner.
	Total  int
	Writer io.Writer
	Logger *zap.Logger
}

// New returns the indicator selected by opts.Mode.
func New(opts Options) (market.Progress, error) {
	switch opts.Mode {
	case ModeBar, "":
		return NewBar(opts), nil
	case ModeLog:
		return NewLog(opts.Logger, opts.Description, opts.Total), nil
	case ModeNone:
		return Noop{}, nil
	default:
		return nil, fmt.Errorf("unknown progress mode %q", opts.Mode)
	}
}

// Bar renders a terminal progress bar.
type Bar struct {
	mu   sync.Mutex
	opts Options
	done int
	bar  *progressbar.ProgressBar
}

// NewBar builds a Bar writing to opts.Writer, stderr by default.
func NewBar(opts Options) *Bar {
	if opts.Writer == nil {
		opts.Writer = os.Stderr
	}
	if opts.Total == 0 {
		opts.Total = -1
	}
	return &Bar{opts: opts, bar: newProgressBar(opts)}
}

func newProgressBar(opts Options) *progressbar.ProgressBar {
	w := opts.Writer
	return progressbar.NewOptions(opts.Total,
		progressbar.OptionSetDescription(opts.Description),
		progressbar.OptionSetWriter(w),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionThrottle(65*time.Millisecond),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(w, "\n")
		}),
	)
}

// SetTotal turns an open-ended spinner into a bounded bar, keeping the
// units already counted. Non-positive totals are ignored.
func (b *Bar) SetTotal(n int) {
	if n <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.opts.Total > 0 {
		b.opts.Total = n
		b.bar.ChangeMax(n)
		return
	}
	_ = b.bar.Clear()
	b.opts.Total = n
	b.bar = newProgressBar(b.opts)
	if b.done > 0 {
		_ = b.bar.Set(b.done)
	}
}

// Total returns the expected unit count, -1 while it is unknown.
func (b *Bar) Total() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.opts.Total
}

// Add advances the bar by n units.
func (b *Bar) Add(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.done += n
	_ = b.bar.Add(n)
}

// Close finishes the bar.
func (b *Bar) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.bar.Finish(); err != nil {
		return fmt.Errorf("finish progress bar: %w", err)
	}
	return nil
}

// Log emits a structured log entry per advance.
type Log struct {
	logger      *zap.Logger
	description string
	total       atomic.Int64
	done        atomic.Int64
}

// NewLog builds a Log indicator.
func NewLog(logger *zap.Logger, description string, total int) *Log {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Log{logger: logger, description: description}
	l.total.Store(int64(total))
	return l
}

// SetTotal records the expected unit count.
func (l *Log) SetTotal(n int) {
	l.total.Store(int64(n))
	l.logger.Info("progress total", zap.String("task", l.description), zap.Int("total", n))
}

// Total returns the expected unit count.
func (l *Log) Total() int64 {
	return l.total.Load()
}

// Add records n more completed units.
func (l *Log) Add(n int) {
	done := l.done.Add(int64(n))
	l.logger.Info("progress",
		zap.String("task", l.description),
		zap.Int64("done", done),
		zap.Int64("total", l.total.Load()),
	)
}

// Done returns the number of completed units.
func (l *Log) Done() int64 {
	return l.done.Load()
}

// Close logs the final count.
func (l *Log) Close() error {
	l.logger.Info("progress finished", zap.String("task", l.description), zap.Int64("done", l.done.Load()))
	return nil
}

// Noop discards progress.
type Noop struct{}

// SetTotal implements market.Progress.
func (Noop) SetTotal(int) {}

// Add implements market.Progress.
func (Noop) Add(int) {}

// Close implements market.Progress.
func (Noop) Close() error { return nil }
