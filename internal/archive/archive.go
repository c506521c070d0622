// Package archive unpacks downloaded quote archives.
package archive

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/b3-market-data/internal/market"
)

// DefaultExtension selects the trade files inside a quote archive.
const DefaultExtension = ".txt"

// ErrUnsafeMember is returned when a selected member would be written outside
// the output directory.
var ErrUnsafeMember = errors.New("archive member escapes output directory")

// Store receives extracted members.
type Store interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
	Resolve(path string) (string, error)
}

// Extractor writes the matching members of an archive into a Store.
type Extractor struct {
	store     Store
	extension string
	logger    *zap.Logger
}

// New builds an Extractor. An empty extension selects DefaultExtension.
func New(store Store, extension string, logger *zap.Logger) (*Extractor, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if extension == "" {
		extension = DefaultExtension
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{store: store, extension: extension, logger: logger}, nil
}

// Extract writes every member whose name ends with the configured extension,
// keeping its path relative to the output directory. Other members are left
// untouched. Every selected name is validated before anything is written.
func (e *Extractor) Extract(ctx context.Context, archivePath string) ([]market.Member, error) {
	zr, err := zip.OpenReader(archivePath)
	if errors.Is(err, zip.ErrInsecurePath) {
		_ = zr.Close()
		return nil, fmt.Errorf("open archive %s: %w", archivePath, ErrUnsafeMember)
	}
	if err != nil {
		return nil, fmt.Errorf("open archive %s: %w", archivePath, err)
	}
	defer func() {
		if closeErr := zr.Close(); closeErr != nil {
			e.logger.Debug("close archive", zap.Error(closeErr))
		}
	}()

	selected := make([]*zip.File, 0, len(zr.File))
	targets := make([]string, 0, len(zr.File))
	for _, f := range zr.File {
		if f.FileInfo().IsDir() || !strings.HasSuffix(f.Name, e.extension) {
			continue
		}
		name, err := memberPath(f.Name)
		if err != nil {
			return nil, err
		}
		if _, err := e.store.Resolve(name); err != nil {
			return nil, fmt.Errorf("%s: %w", f.Name, ErrUnsafeMember)
		}
		selected = append(selected, f)
		targets = append(targets, name)
	}

	members := make([]market.Member, 0, len(selected))
	for i, f := range selected {
		if err := ctx.Err(); err != nil {
			return members, fmt.Errorf("extract %s: %w", archivePath, err)
		}
		member, err := e.writeMember(ctx, f, targets[i])
		if err != nil {
			return members, fmt.Errorf("extract %s from %s: %w", f.Name, archivePath, err)
		}
		members = append(members, member)
	}
	e.logger.Debug("archive extracted",
		zap.String("archive", archivePath),
		zap.Int("members", len(members)),
		zap.Int("entries", len(zr.File)),
	)
	return members, nil
}

func (e *Extractor) writeMember(ctx context.Context, f *zip.File, name string) (market.Member, error) {
	rc, err := f.Open()
	if err != nil {
		return market.Member{}, fmt.Errorf("open member: %w", err)
	}
	defer rc.Close() //nolint:errcheck // read-only

	counter := &countingReader{r: rc}
	if _, err := e.store.PutObject(ctx, name, "text/plain", counter); err != nil {
		return market.Member{}, err
	}
	full, err := e.store.Resolve(name)
	if err != nil {
		return market.Member{}, err
	}
	return market.Member{Name: name, Path: full, Bytes: counter.n}, nil
}

// memberPath normalizes a zip entry name to a clean relative slash path.
func memberPath(name string) (string, error) {
	n := strings.ReplaceAll(name, "\\", "/")
	if strings.HasPrefix(n, "/") || path.IsAbs(n) {
		return "", fmt.Errorf("%s: %w", name, ErrUnsafeMember)
	}
	clean := path.Clean(n)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("%s: %w", name, ErrUnsafeMember)
	}
	return clean, nil
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
