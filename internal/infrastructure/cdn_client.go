package infrastructure

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/yourusername/gameinstall-go/internal/domain"
)

// ErrRangeNotSatisfiable is returned for a 416 reply
var ErrRangeNotSatisfiable = domain.ErrRangeNotSatisfiable

var errIdleTimeout = errors.New("no data received within timeout")

// CDNClient downloads package content with resumable range requests
type CDNClient struct {
	client    *http.Client
	retry     RetryPolicy
	timeout   time.Duration
	userAgent string
	logger    *zap.Logger
}

// NewCDNClient creates a CDN client. The timeout bounds connecting, waiting
// for response headers, and every gap between body reads.
func NewCDNClient(cfg *domain.HTTPConfig, logger *zap.Logger) *CDNClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConnsPerHost:   32,
		MaxIdleConns:          64,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   timeout,
		ResponseHeaderTimeout: timeout,
		DisableCompression:    true, // raw bytes for range requests
	}

	return &CDNClient{
		client:    &http.Client{Transport: transport},
		retry:     RetryPolicyFromConfig(cfg),
		timeout:   timeout,
		userAgent: cfg.UserAgent,
		logger:    logger,
	}
}

// OpenFrom opens url at offset bytes past the start of r (or of the file).
// A server that answers a ranged request with the full body is detected and
// the body is returned from the beginning with Offset 0.
func (c *CDNClient) OpenFrom(ctx context.Context, url string, offset int64, r domain.ByteRange) (*domain.RemoteBody, error) {
	start := r.Start + offset
	rangeHeader := ""
	if start > 0 || !r.IsZero() {
		rangeHeader = fmt.Sprintf("bytes=%d-", start)
		if !r.IsZero() {
			rangeHeader += strconv.FormatInt(r.End, 10)
		}
	}

	var lastErr error
	for attempt := 0; attempt < c.retry.MaxAttempts; attempt++ {
		if attempt > 0 {
			c.logger.Debug("Retrying CDN request",
				zap.String("url", url),
				zap.Int("attempt", attempt),
				zap.Error(lastErr))
			if err := c.retry.Wait(ctx, attempt); err != nil {
				return nil, err
			}
		}

		reqCtx, cancel := context.WithCancel(ctx)
		req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		if rangeHeader != "" {
			req.Header.Set("Range", rangeHeader)
		}
		if c.userAgent != "" {
			req.Header.Set("User-Agent", c.userAgent)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			cancel()
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			continue
		}

		if isRetryableStatus(resp.StatusCode) {
			resp.Body.Close()
			cancel()
			lastErr = fmt.Errorf("server returned %s", resp.Status)
			continue
		}

		body, err := c.positionBody(resp, url, start, offset, r)
		if err != nil {
			resp.Body.Close()
			cancel()
			return nil, err
		}
		body.Body = newIdleReader(body.Body, c.timeout, cancel, url)
		return body, nil
	}

	return nil, &domain.TransientNetworkError{Op: "GET", URL: url, Err: lastErr}
}

// positionBody interprets the status of a ranged response
func (c *CDNClient) positionBody(resp *http.Response, url string, start, offset int64, r domain.ByteRange) (*domain.RemoteBody, error) {
	switch resp.StatusCode {
	case http.StatusPartialContent:
		if cr := resp.Header.Get("Content-Range"); cr != "" {
			got, _, _, err := ParseContentRange(cr)
			if err == nil && got != start {
				return nil, fmt.Errorf("server returned range starting at %d, requested %d", got, start)
			}
		}
		return &domain.RemoteBody{Body: resp.Body, Offset: offset, Length: resp.ContentLength}, nil

	case http.StatusOK:
		if start == 0 {
			return &domain.RemoteBody{Body: limitBody(resp.Body, r), Offset: 0, Length: r.Len()}, nil
		}
		c.logger.Warn("Server ignored range request, restarting from zero",
			zap.String("url", url),
			zap.Int64("requested_offset", start))
		if r.Start > 0 {
			if _, err := io.CopyN(io.Discard, resp.Body, r.Start); err != nil {
				return nil, &domain.TransientNetworkError{Op: "skip", URL: url, Err: err}
			}
		}
		return &domain.RemoteBody{Body: limitBody(resp.Body, r), Offset: 0, Length: r.Len()}, nil

	case http.StatusRequestedRangeNotSatisfiable:
		return nil, fmt.Errorf("%w: %s at %d", ErrRangeNotSatisfiable, url, start)

	case http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, url)

	default:
		return nil, fmt.Errorf("unexpected status code %d for %s", resp.StatusCode, url)
	}
}

// GetBytes fetches a small document such as a manifest
func (c *CDNClient) GetBytes(ctx context.Context, url string) ([]byte, error) {
	body, err := c.OpenFrom(ctx, url, 0, domain.ByteRange{})
	if err != nil {
		return nil, err
	}
	defer body.Body.Close()

	data, err := io.ReadAll(body.Body)
	if err != nil {
		return nil, &domain.TransientNetworkError{Op: "read", URL: url, Err: err}
	}
	return data, nil
}

type limitedBody struct {
	io.Reader
	io.Closer
}

func limitBody(rc io.ReadCloser, r domain.ByteRange) io.ReadCloser {
	if r.IsZero() {
		return rc
	}
	return limitedBody{Reader: io.LimitReader(rc, r.Len()), Closer: rc}
}

// idleReader cancels the request when no bytes arrive within timeout
type idleReader struct {
	rc      io.ReadCloser
	timer   *time.Timer
	timeout time.Duration
	cancel  context.CancelFunc
	url     string

	mu    sync.Mutex
	fired bool
}

func newIdleReader(rc io.ReadCloser, timeout time.Duration, cancel context.CancelFunc, url string) *idleReader {
	ir := &idleReader{rc: rc, timeout: timeout, cancel: cancel, url: url}
	ir.timer = time.AfterFunc(timeout, func() {
		ir.mu.Lock()
		ir.fired = true
		ir.mu.Unlock()
		cancel()
	})
	return ir
}

func (r *idleReader) Read(p []byte) (int, error) {
	n, err := r.rc.Read(p)
	if n > 0 {
		r.timer.Reset(r.timeout)
	}
	if err != nil && err != io.EOF {
		r.mu.Lock()
		fired := r.fired
		r.mu.Unlock()
		if fired {
			err = errIdleTimeout
		}
		return n, &domain.TransientNetworkError{Op: "read", URL: r.url, Err: err}
	}
	return n, err
}

func (r *idleReader) Close() error {
	r.timer.Stop()
	err := r.rc.Close()
	r.cancel()
	return err
}

// ParseContentRange parses a Content-Range header value.
// Returns start, end, total bytes. Total is -1 when unknown.
func ParseContentRange(header string) (start, end, total int64, err error) {
	header = strings.TrimPrefix(strings.TrimSpace(header), "bytes ")
	parts := strings.Split(header, "/")
	if len(parts) != 2 {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range format: %s", header)
	}

	rangeParts := strings.Split(parts[0], "-")
	if len(rangeParts) != 2 {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range format: %s", header)
	}

	if start, err = strconv.ParseInt(rangeParts[0], 10, 64); err != nil {
		return 0, 0, 0, fmt.Errorf("invalid start byte: %w", err)
	}
	if end, err = strconv.ParseInt(rangeParts[1], 10, 64); err != nil {
		return 0, 0, 0, fmt.Errorf("invalid end byte: %w", err)
	}

	if parts[1] == "*" {
		return start, end, -1, nil
	}
	if total, err = strconv.ParseInt(parts[1], 10, 64); err != nil {
		return 0, 0, 0, fmt.Errorf("invalid total bytes: %w", err)
	}
	return start, end, total, nil
}
