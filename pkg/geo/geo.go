// Package geo provides the French department boundaries (GeoJSON) drawn by
// the map view. The file is downloaded on first use and cached on disk.
package geo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// DefaultURL serves simplified department contours.
const DefaultURL = "https://raw.githubusercontent.com/gregoiredavid/france-geojson/master/departements-version-simplifiee.geojson"

const downloadAttempts = 3

// retryBase is the wait before the second attempt; it doubles afterwards.
var retryBase = 2 * time.Second

// Provider returns the boundary file, fetching it at most once per process
// when the disk cache is empty.
type Provider struct {
	url    string
	path   string
	client *http.Client
	logger *slog.Logger

	mu   sync.Mutex
	data []byte
}

// NewProvider returns a provider caching url at path.
func NewProvider(url, path string, logger *slog.Logger) *Provider {
	if url == "" {
		url = DefaultURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{
		url:    url,
		path:   path,
		client: &http.Client{Timeout: 30 * time.Second},
		logger: logger,
	}
}

// Get returns the GeoJSON document. A failed download is not cached: the
// next call tries again.
func (p *Provider) Get(ctx context.Context) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.data != nil {
		return p.data, nil
	}

	data, err := os.ReadFile(p.path)
	if err == nil && json.Valid(data) {
		p.data = data
		return data, nil
	}
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("read geojson cache: %w", err)
	}

	if err := p.download(ctx); err != nil {
		return nil, err
	}
	data, err = os.ReadFile(p.path)
	if err != nil {
		return nil, fmt.Errorf("read geojson cache: %w", err)
	}
	p.data = data
	return data, nil
}

// download fetches the file with retries and moves it into place only once
// complete and valid.
func (p *Provider) download(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(p.path), 0o755); err != nil {
		return fmt.Errorf("create geojson dir: %w", err)
	}
	tmp := p.path + ".part"
	defer os.Remove(tmp)

	var lastErr error
	for attempt := 0; attempt < downloadAttempts; attempt++ {
		if attempt > 0 {
			backoff := retryBase << uint(attempt-1)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		lastErr = p.fetch(ctx, tmp)
		if lastErr == nil {
			break
		}
		p.logger.Warn("geojson download failed", "url", p.url, "attempt", attempt+1, "error", lastErr)
	}
	if lastErr != nil {
		return fmt.Errorf("download %s failed after %d attempts: %w", p.url, downloadAttempts, lastErr)
	}

	if err := os.Rename(tmp, p.path); err != nil {
		return fmt.Errorf("install geojson: %w", err)
	}
	p.logger.Info("geojson cached", "path", p.path)
	return nil
}

func (p *Provider) fetch(ctx context.Context, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %d for %s", resp.StatusCode, p.url)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if !json.Valid(body) {
		return errors.New("response is not valid JSON")
	}
	return os.WriteFile(dest, body, 0o644)
}
