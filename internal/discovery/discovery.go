// Package discovery finds quote archive links inside the portal's embedded
// frame.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/b3-market-data/internal/market"
)

// ErrFrameNotFound is returned when the page has no iframe to scan.
var ErrFrameNotFound = errors.New("portal frame not found")

// Element is a DOM element handle returned by a Browser.
type Element interface {
	// Attribute returns the attribute value and whether it is present.
	Attribute(name string) (string, bool)
}

// Browser is the page automation capability used for discovery.
type Browser interface {
	Navigate(ctx context.Context, rawURL string) error
	FindElements(ctx context.Context, tag string) ([]Element, error)
	SwitchToFrame(ctx context.Context, frame Element) error
}

// Config controls which links are retained.
type Config struct {
	PageURL string
	Marker  string
	// Window restricts links to the listed reference dates. Nil disables
	// date filtering.
	Window *market.DateWindow
}

// Discoverer scans the portal page for candidate links.
type Discoverer struct {
	browser Browser
	cfg     Config
	logger  *zap.Logger
}

// New constructs a Discoverer.
func New(browser Browser, cfg Config, logger *zap.Logger) *Discoverer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Discoverer{browser: browser, cfg: cfg, logger: logger}
}

// Discover loads the page, enters the first iframe and returns every anchor
// that passes Filter, in document order.
func (d *Discoverer) Discover(ctx context.Context) ([]market.Link, error) {
	if d.browser == nil {
		return nil, fmt.Errorf("no browser configured")
	}
	if err := d.browser.Navigate(ctx, d.cfg.PageURL); err != nil {
		return nil, fmt.Errorf("navigate to portal: %w", err)
	}

	frames, err := d.browser.FindElements(ctx, "iframe")
	if err != nil {
		return nil, fmt.Errorf("find frames: %w", err)
	}
	if len(frames) == 0 {
		return nil, ErrFrameNotFound
	}
	frame := frames[0]
	if err := d.browser.SwitchToFrame(ctx, frame); err != nil {
		return nil, fmt.Errorf("switch to frame: %w", err)
	}
	base := d.frameBase(frame)

	anchors, err := d.browser.FindElements(ctx, "a")
	if err != nil {
		return nil, fmt.Errorf("find anchors: %w", err)
	}

	hrefs := make([]string, 0, len(anchors))
	missing := 0
	for _, a := range anchors {
		href, ok := a.Attribute("href")
		if !ok || strings.TrimSpace(href) == "" {
			missing++
			continue
		}
		hrefs = append(hrefs, resolve(base, href))
	}
	if missing > 0 {
		d.logger.Debug("anchors without href skipped", zap.Int("count", missing))
	}

	links := Filter(hrefs, d.cfg.Marker, d.cfg.Window)
	d.logger.Info("links discovered",
		zap.Int("anchors", len(anchors)),
		zap.Int("links", len(links)),
		zap.Strings("window", d.cfg.Window.Dates()),
	)
	return links, nil
}

// frameBase is the URL relative hrefs inside the frame resolve against.
func (d *Discoverer) frameBase(frame Element) *url.URL {
	page, err := url.Parse(d.cfg.PageURL)
	if err != nil {
		return nil
	}
	src, ok := frame.Attribute("src")
	if !ok || src == "" {
		return page
	}
	ref, err := url.Parse(src)
	if err != nil {
		return page
	}
	return page.ResolveReference(ref)
}

func resolve(base *url.URL, href string) string {
	if base == nil {
		return href
	}
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}

// Filter keeps hrefs containing marker whose trailing path segment is in
// window. A nil window keeps every marker match. Order and duplicates are
// preserved.
func Filter(hrefs []string, marker string, window *market.DateWindow) []market.Link {
	links := make([]market.Link, 0, len(hrefs))
	for _, href := range hrefs {
		if !strings.Contains(href, marker) {
			continue
		}
		link := market.NewLink(href)
		if window != nil && !window.Contains(link.ReferenceDate) {
			continue
		}
		links = append(links, link)
	}
	return links
}
