// Package static implements discovery.Browser over plain HTTP, for portals
// whose frame markup is served without client-side rendering.
package static

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/b3-market-data/internal/discovery"
)

// Config controls page fetching.
type Config struct {
	UserAgent string
	Timeout   time.Duration
}

// Browser fetches documents with colly and queries them with goquery.
type Browser struct {
	cfg  Config
	base *colly.Collector

	mu     sync.Mutex
	doc    *goquery.Document
	docURL *url.URL
}

// New builds a Browser.
func New(cfg Config) *Browser {
	c := colly.NewCollector(colly.Async(false))
	c.AllowURLRevisit = true
	c.WithTransport(newHTTPTransport())
	return &Browser{cfg: cfg, base: c}
}

// Navigate loads rawURL as the current document.
func (b *Browser) Navigate(ctx context.Context, rawURL string) error {
	doc, final, err := b.load(ctx, rawURL)
	if err != nil {
		return err
	}
	b.setDocument(doc, final)
	return nil
}

// FindElements returns every element with the given tag in the current
// document, in document order.
func (b *Browser) FindElements(_ context.Context, tag string) ([]discovery.Element, error) {
	b.mu.Lock()
	doc := b.doc
	b.mu.Unlock()
	if doc == nil {
		return nil, fmt.Errorf("no document loaded")
	}
	var out []discovery.Element
	doc.Find(tag).Each(func(_ int, s *goquery.Selection) {
		out = append(out, element{sel: s})
	})
	return out, nil
}

// SwitchToFrame loads the frame's src, resolved against the current
// document, and makes it the current document.
func (b *Browser) SwitchToFrame(ctx context.Context, frame discovery.Element) error {
	src, ok := frame.Attribute("src")
	if !ok || strings.TrimSpace(src) == "" {
		return fmt.Errorf("frame has no src")
	}
	ref, err := url.Parse(strings.TrimSpace(src))
	if err != nil {
		return fmt.Errorf("parse frame src: %w", err)
	}
	b.mu.Lock()
	base := b.docURL
	b.mu.Unlock()
	target := ref
	if base != nil {
		target = base.ResolveReference(ref)
	}
	doc, final, err := b.load(ctx, target.String())
	if err != nil {
		return err
	}
	b.setDocument(doc, final)
	return nil
}

func (b *Browser) setDocument(doc *goquery.Document, final *url.URL) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.doc = doc
	b.docURL = final
}

func (b *Browser) load(ctx context.Context, rawURL string) (*goquery.Document, *url.URL, error) {
	var (
		body     []byte
		final    *url.URL
		fetchErr error
	)
	if err := ctx.Err(); err != nil {
		return nil, nil, fmt.Errorf("load %s canceled: %w", rawURL, err)
	}
	collector := b.base.Clone()
	collector.AllowURLRevisit = true
	if b.cfg.UserAgent != "" {
		collector.UserAgent = b.cfg.UserAgent
	}
	timeout := b.cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	collector.SetRequestTimeout(timeout)
	collector.OnResponse(func(r *colly.Response) {
		body = append([]byte(nil), r.Body...)
		final = r.Request.URL
	})
	collector.OnError(func(_ *colly.Response, err error) {
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(rawURL)
	}()
	select {
	case <-ctx.Done():
		return nil, nil, fmt.Errorf("load %s canceled: %w", rawURL, ctx.Err())
	case err := <-done:
		if err != nil {
			return nil, nil, fmt.Errorf("load %s: %w", rawURL, err)
		}
	}
	if fetchErr != nil {
		return nil, nil, fmt.Errorf("load %s: %w", rawURL, fetchErr)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, nil, fmt.Errorf("parse %s: %w", rawURL, err)
	}
	return doc, final, nil
}

type element struct {
	sel *goquery.Selection
}

func (e element) Attribute(name string) (string, bool) {
	return e.sel.Attr(name)
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
	}
}
