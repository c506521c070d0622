// Package chromedp implements discovery.Browser with headless Chrome.
package chromedp

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/b3-market-data/internal/discovery"
)

// Config controls the headless browser.
type Config struct {
	ExecPath          string
	UserAgent         string
	NavigationTimeout time.Duration
}

// Browser drives a single headless Chrome tab. It is not safe for
// concurrent use; discovery runs one page at a time.
type Browser struct {
	cfg         Config
	logger      *zap.Logger
	allocCancel context.CancelFunc
	tabCtx      context.Context
	tabCancel   context.CancelFunc

	mu   sync.Mutex
	root *cdp.Node
}

// New starts a Chrome allocator with headless, no-sandbox and GPU-disabled
// flags. The browser process launches lazily on the first Navigate.
func New(cfg Config, logger *zap.Logger) (*Browser, error) {
	if cfg.NavigationTimeout < 0 {
		return nil, fmt.Errorf("navigation timeout must be >= 0")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocatorOptions(cfg)...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(logger.Sugar().Debugf),
		chromedp.WithErrorf(logger.Sugar().Warnf),
	)
	return &Browser{
		cfg:         cfg,
		logger:      logger,
		allocCancel: allocCancel,
		tabCtx:      tabCtx,
		tabCancel:   tabCancel,
	}, nil
}

func allocatorOptions(cfg Config) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.NoSandbox,
	)
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	return opts
}

// Close shuts down the tab and the browser process.
func (b *Browser) Close() {
	b.tabCancel()
	b.allocCancel()
}

// Navigate loads rawURL and waits for the document body.
func (b *Browser) Navigate(ctx context.Context, rawURL string) error {
	b.mu.Lock()
	b.root = nil
	b.mu.Unlock()

	actions := []chromedp.Action{}
	if b.cfg.UserAgent != "" {
		actions = append(actions, emulation.SetUserAgentOverride(b.cfg.UserAgent))
	}
	actions = append(actions,
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err := b.run(ctx, actions...); err != nil {
		return fmt.Errorf("navigate %s: %w", rawURL, err)
	}
	return nil
}

// FindElements returns every element with the given tag in the current
// context. It does not wait for elements to appear.
func (b *Browser) FindElements(ctx context.Context, tag string) ([]discovery.Element, error) {
	var nodes []*cdp.Node
	opts := []chromedp.QueryOption{chromedp.ByQueryAll, chromedp.AtLeast(0)}
	if root := b.currentRoot(); root != nil {
		opts = append(opts, chromedp.FromNode(root))
	}
	if err := b.run(ctx, chromedp.Nodes(tag, &nodes, opts...)); err != nil {
		return nil, fmt.Errorf("query %s: %w", tag, err)
	}
	out := make([]discovery.Element, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, element{node: n})
	}
	return out, nil
}

// SwitchToFrame scopes later queries to the frame's content document.
// Frames whose document the tab cannot reach, such as cross-origin ones,
// fail with discovery.ErrFrameNotFound.
func (b *Browser) SwitchToFrame(_ context.Context, frame discovery.Element) error {
	el, ok := frame.(element)
	if !ok || el.node == nil {
		return fmt.Errorf("unsupported frame element %T", frame)
	}
	doc := el.node.ContentDocument
	if doc == nil {
		return fmt.Errorf("%w: %s content document not accessible", discovery.ErrFrameNotFound, el.node.NodeName)
	}
	b.mu.Lock()
	b.root = doc
	b.mu.Unlock()
	return nil
}

func (b *Browser) currentRoot() *cdp.Node {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.root
}

// run executes actions on the tab, bounded by the caller's context and the
// navigation timeout.
func (b *Browser) run(ctx context.Context, actions ...chromedp.Action) error {
	taskCtx, cancel := context.WithTimeout(b.tabCtx, b.navTimeout())
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	if err := chromedp.Run(taskCtx, actions...); err != nil {
		return fmt.Errorf("chromedp run: %w", err)
	}
	return nil
}

func (b *Browser) navTimeout() time.Duration {
	if b.cfg.NavigationTimeout > 0 {
		return b.cfg.NavigationTimeout
	}
	return 45 * time.Second
}

type element struct {
	node *cdp.Node
}

func (e element) Attribute(name string) (string, bool) {
	if e.node == nil {
		return "", false
	}
	return e.node.Attribute(name)
}
