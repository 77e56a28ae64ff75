package fetch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/couchcryptid/radar-regrid/internal/observability"
)

// Client resolves frame locations to local files, downloading http(s)
// locations into a directory.
type Client struct {
	dir         string
	httpClient  *http.Client
	retries     int
	baseBackoff time.Duration
	maxBackoff  time.Duration
	metrics     *observability.Metrics
	logger      *slog.Logger
}

// NewClient creates a fetch client that stores downloads under dir.
func NewClient(dir string, timeout time.Duration, retries int, metrics *observability.Metrics, logger *slog.Logger) *Client {
	return &Client{
		dir: dir,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		retries:     retries,
		baseBackoff: 200 * time.Millisecond,
		maxBackoff:  5 * time.Second,
		metrics:     metrics,
		logger:      logger,
	}
}

// statusError is a non-200 response. 4xx responses are not retried.
type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("frame server error: status %d: %s", e.status, e.body)
}

func (e *statusError) permanent() bool {
	return e.status >= 400 && e.status < 500 && e.status != http.StatusTooManyRequests
}

// Fetch returns a local path for location. Local paths (and file:// URLs)
// are checked and returned as is; remote files are downloaded once and reused.
func (c *Client) Fetch(ctx context.Context, location string) (string, error) {
	u, err := url.Parse(location)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		local := strings.TrimPrefix(location, "file://")
		if _, err := os.Stat(local); err != nil {
			return "", fmt.Errorf("stat frame: %w", err)
		}
		return local, nil
	}

	name, err := cacheName(location, u)
	if err != nil {
		return "", err
	}
	dst := filepath.Join(c.dir, name)
	if _, err := os.Stat(dst); err == nil {
		c.logger.Debug("frame already downloaded", "path", dst)
		return dst, nil
	}
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return "", fmt.Errorf("create download dir: %w", err)
	}

	backoff := c.baseBackoff
	for attempt := 0; ; attempt++ {
		start := time.Now()
		err = c.download(ctx, location, dst)
		if err == nil {
			c.metrics.FetchRequests.WithLabelValues("success").Inc()
			c.metrics.FetchDuration.Observe(time.Since(start).Seconds())
			return dst, nil
		}

		var se *statusError
		if ctx.Err() != nil || (errors.As(err, &se) && se.permanent()) || attempt >= c.retries {
			c.metrics.FetchRequests.WithLabelValues("error").Inc()
			return "", fmt.Errorf("fetch %s: %w", location, err)
		}

		c.metrics.FetchRequests.WithLabelValues("retry").Inc()
		c.logger.Warn("fetch failed, retrying", "url", location, "attempt", attempt+1, "backoff", backoff, "error", err)
		if !sleepWithContext(ctx, backoff) {
			return "", fmt.Errorf("fetch %s: %w", location, ctx.Err())
		}
		backoff = min(backoff*2, c.maxBackoff)
	}
}

// cacheName keys a download on the full URL, query included, and keeps the
// remote file name as a readable suffix.
func cacheName(location string, u *url.URL) (string, error) {
	base := path.Base(u.Path)
	if base == "" || base == "." || base == "/" || base == ".." {
		return "", fmt.Errorf("frame url %q has no file name", location)
	}
	hash := sha256.Sum256([]byte(location))
	return hex.EncodeToString(hash[:8]) + "-" + base, nil
}

func (c *Client) download(ctx context.Context, location, dst string) (err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("frame request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &statusError{status: resp.StatusCode, body: strings.TrimSpace(string(body))}
	}

	tmp, err := os.CreateTemp(c.dir, "."+filepath.Base(dst)+".*.part")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err = io.Copy(tmp, resp.Body); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("read body: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dst)
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
