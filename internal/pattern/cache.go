package pattern

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"
)

const defaultHTTPTimeout = 15 * time.Second

// Doer issues HTTP requests. Satisfied by *http.Client; tests substitute
// a counting fake to prove cache hits perform no network I/O.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Config holds pattern cache configuration.
type Config struct {
	// CacheDir is where artifacts are persisted. Created if absent.
	CacheDir string

	// Endpoint is the vendor descriptor endpoint.
	Endpoint string

	// PartnerTag is the fixed partner identifier sent with descriptor
	// requests.
	PartnerTag string

	// HTTPTimeout bounds descriptor and body fetches. Default: 15s.
	HTTPTimeout time.Duration
}

// Stats holds operational counters.
type Stats struct {
	CacheHits uint64
	Downloads uint64
	Failures  uint64
}

// descriptor is the vendor's pattern-availability response.
type descriptor struct {
	Code int `json:"code"`
	Data struct {
		Pattern string `json:"pattern"`
	} `json:"data"`
}

// Cache resolves video identifiers to normalized scripts through an
// on-disk cache.
//
// Three artifacts exist per video id: the raw descriptor ({id}.json), the
// raw pattern body ({id}.pat), and the terminal script ({id}.funscript).
// Each resolution step is independently cache-gated, and the terminal
// artifact is only written after full successful derivation. Any failure
// mid-resolution removes every artifact for the id so a half-populated
// cache cannot mask a later retry.
type Cache struct {
	cfg    Config
	client Doer
	logger Logger

	cacheHits atomic.Uint64
	downloads atomic.Uint64
	failures  atomic.Uint64
}

// NewCache creates a pattern cache and ensures the cache directory exists.
func NewCache(cfg Config) (*Cache, error) {
	if cfg.HTTPTimeout == 0 {
		cfg.HTTPTimeout = defaultHTTPTimeout
	}
	if err := os.MkdirAll(cfg.CacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("pattern: creating cache directory: %w", err)
	}

	return &Cache{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.HTTPTimeout},
		logger: noopLogger{},
	}, nil
}

// SetLogger sets the logger for this cache.
func (c *Cache) SetLogger(logger Logger) {
	c.logger = logger
}

// SetHTTPClient replaces the HTTP client. Must be called before Resolve.
func (c *Cache) SetHTTPClient(client Doer) {
	c.client = client
}

func (c *Cache) scriptPath(videoID string) string {
	return filepath.Join(c.cfg.CacheDir, videoID+".funscript")
}

func (c *Cache) bodyPath(videoID string) string {
	return filepath.Join(c.cfg.CacheDir, videoID+".pat")
}

func (c *Cache) descriptorPath(videoID string) string {
	return filepath.Join(c.cfg.CacheDir, videoID+".json")
}

// Cached returns the script for a video id if a readable terminal
// artifact exists on disk. It never touches the network. A missing
// artifact reports os.ErrNotExist.
func (c *Cache) Cached(videoID string) (*Script, error) {
	data, err := os.ReadFile(c.scriptPath(videoID))
	if err != nil {
		return nil, fmt.Errorf("cached script for video %s: %w", videoID, err)
	}

	var script Script
	if err := json.Unmarshal(data, &script); err != nil {
		return nil, fmt.Errorf("%w: cached script for video %s: %v", ErrInvalidData, videoID, err)
	}

	c.cacheHits.Add(1)
	return &script, nil
}

// Resolve returns the normalized script for a video id, downloading and
// converting vendor pattern data on first use.
//
// ErrNoInteractiveContent means the vendor has no pattern for this video;
// the descriptor stays cached so the answer repeats without network I/O.
// ErrDownloadFailed and parse failures remove all artifacts for the id
// before returning.
func (c *Cache) Resolve(ctx context.Context, videoID, title string, durationMs int) (*Script, error) {
	// Terminal artifact present: no network at all.
	if data, err := os.ReadFile(c.scriptPath(videoID)); err == nil {
		var script Script
		if err := json.Unmarshal(data, &script); err == nil {
			c.cacheHits.Add(1)
			c.logger.Debug("script cache hit", "video_id", videoID)
			return &script, nil
		}
		// Corrupt terminal artifact from an interrupted run; re-derive.
		c.logger.Warn("cached script unreadable, re-deriving", "video_id", videoID)
	}

	script, err := c.derive(ctx, videoID, title, durationMs)
	if err != nil {
		if !errors.Is(err, ErrNoInteractiveContent) {
			c.failures.Add(1)
			c.removeArtifacts(videoID)
		}
		return nil, err
	}

	c.downloads.Add(1)
	c.logger.Info("script derived", "video_id", videoID, "actions", len(script.Actions))
	return script, nil
}

// derive runs the cache-gated fetch/convert/persist sequence.
func (c *Cache) derive(ctx context.Context, videoID, title string, durationMs int) (*Script, error) {
	descPath := c.descriptorPath(videoID)
	if _, err := os.Stat(descPath); err != nil {
		descURL := fmt.Sprintf("%s?videoId=%s&pf=%s",
			c.cfg.Endpoint, url.QueryEscape(videoID), url.QueryEscape(c.cfg.PartnerTag))
		if err := c.fetchToFile(ctx, descURL, descPath); err != nil {
			return nil, fmt.Errorf("descriptor for video %s: %w", videoID, err)
		}
	}

	descData, err := os.ReadFile(descPath)
	if err != nil {
		return nil, fmt.Errorf("pattern: reading descriptor: %w", err)
	}
	var desc descriptor
	if err := json.Unmarshal(descData, &desc); err != nil {
		return nil, fmt.Errorf("%w: descriptor: %w", ErrInvalidData, err)
	}
	if desc.Code != 0 {
		return nil, fmt.Errorf("%w: video %s (code %d)", ErrNoInteractiveContent, videoID, desc.Code)
	}

	bodyPath := c.bodyPath(videoID)
	if _, err := os.Stat(bodyPath); err != nil {
		if err := c.fetchToFile(ctx, desc.Data.Pattern, bodyPath); err != nil {
			return nil, fmt.Errorf("body for video %s: %w", videoID, err)
		}
	}

	bodyData, err := os.ReadFile(bodyPath)
	if err != nil {
		return nil, fmt.Errorf("pattern: reading body: %w", err)
	}
	var raw []rawAction
	if err := json.Unmarshal(bodyData, &raw); err != nil {
		return nil, fmt.Errorf("%w: body: %w", ErrInvalidData, err)
	}

	script := convert(raw, title, durationMs)

	out, err := json.Marshal(script)
	if err != nil {
		return nil, fmt.Errorf("pattern: encoding script: %w", err)
	}
	if err := os.WriteFile(c.scriptPath(videoID), out, 0o644); err != nil {
		return nil, fmt.Errorf("pattern: writing script: %w", err)
	}

	return script, nil
}

// fetchToFile downloads one URL and persists the response body verbatim.
func (c *Cache) fetchToFile(ctx context.Context, fetchURL, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fetchURL, nil)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDownloadFailed, err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDownloadFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: HTTP %d from %s", ErrDownloadFailed, resp.StatusCode, fetchURL)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: reading response: %w", ErrDownloadFailed, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("pattern: writing cache file: %w", err)
	}
	return nil
}

// removeArtifacts deletes every cache file for the id. Best effort.
func (c *Cache) removeArtifacts(videoID string) {
	for _, path := range []string{
		c.descriptorPath(videoID),
		c.bodyPath(videoID),
		c.scriptPath(videoID),
	} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			c.logger.Warn("removing cache artifact failed", "path", path, "error", err)
		}
	}
}

// Stats returns current operational counters.
func (c *Cache) Stats() Stats {
	return Stats{
		CacheHits: c.cacheHits.Load(),
		Downloads: c.downloads.Load(),
		Failures:  c.failures.Load(),
	}
}
