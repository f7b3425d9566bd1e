// Package transport issues rate limited HTTP GET requests against the
// upstream music APIs. Every fetch acquires a token from the endpoint's
// bucket before each attempt, honours 429 Retry-After waits without spending
// the retry budget, and retries transient failures with linearly increasing
// backoff. Permanent upstream failures degrade to an empty document rather
// than an error so aggregation callers can treat "no data" as a valid
// outcome.
package transport

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"Soundlytics/pkg/ratelimit"
)

const (
	defaultMaxRetries = 3
	defaultRetryDelay = time.Second
	defaultTimeout    = 30 * time.Second
	// defaultRetryAfter is used when a 429 response omits Retry-After.
	defaultRetryAfter = time.Second
)

// Config bundles the transport dependencies. Zero fields fall back to
// working defaults so tests can construct a Client with only the pieces they
// exercise.
type Config struct {
	// HTTPClient is the shared pooled client. All typed clients for a
	// session multiplex their requests over this one client.
	HTTPClient *http.Client
	Limiter    *ratelimit.Limiter
	Logger     logrus.FieldLogger
	Metrics    *Metrics
	MaxRetries int
	RetryDelay time.Duration
}

// Client performs JSON-over-HTTPS GET requests. It holds no per-request
// state and is safe for concurrent use.
type Client struct {
	http       *http.Client
	limiter    *ratelimit.Limiter
	log        logrus.FieldLogger
	metrics    *Metrics
	maxRetries int
	retryDelay time.Duration
}

// New returns a Client ready for use.
func New(cfg Config) *Client {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: defaultTimeout}
	}
	if cfg.Limiter == nil {
		cfg.Limiter = ratelimit.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	return &Client{
		http:       cfg.HTTPClient,
		limiter:    cfg.Limiter,
		log:        cfg.Logger,
		metrics:    cfg.Metrics,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
	}
}

// Get fetches rawURL with the supplied query parameters and headers and
// returns the JSON body. A nil document with a nil error means the upstream
// had no data for this request; only context cancellation is surfaced as an
// error.
func (c *Client) Get(ctx context.Context, rawURL string, query url.Values, header http.Header) (json.RawMessage, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		c.log.WithError(err).WithField("url", rawURL).Error("invalid request url")
		return nil, nil
	}
	if len(query) > 0 {
		q := u.Query()
		for k, vs := range query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	class := ratelimit.ClassForPath(u.Path)
	log := c.log.WithField("url", u.Redacted())

	for attempt := 1; attempt <= c.maxRetries; {
		if err := c.limiter.Acquire(ctx, class); err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			log.WithError(err).Error("build request")
			return nil, nil
		}
		for k, vs := range header {
			req.Header[k] = vs
		}

		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			log.WithError(err).WithField("attempt", attempt).Warn("fetch failed")
			if attempt == c.maxRetries {
				break
			}
			c.metrics.retry()
			if err := sleepCtx(ctx, c.retryDelay*time.Duration(attempt)); err != nil {
				return nil, err
			}
			attempt++
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			wait := retryAfter(resp)
			drain(resp)
			log.WithField("wait", wait).Warn("rate limited by upstream")
			c.metrics.rateLimited()
			if err := sleepCtx(ctx, wait); err != nil {
				return nil, err
			}
			// Rate limit waits are not failures and do not consume
			// the retry budget.
			continue
		}

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			drain(resp)
			log.WithField("status", resp.StatusCode).Warn("upstream returned no data")
			c.metrics.request(u.Host, "upstream_error")
			return nil, nil
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			log.WithError(err).WithField("attempt", attempt).Warn("read body failed")
			if attempt == c.maxRetries {
				break
			}
			c.metrics.retry()
			if err := sleepCtx(ctx, c.retryDelay*time.Duration(attempt)); err != nil {
				return nil, err
			}
			attempt++
			continue
		}
		if !json.Valid(body) {
			log.Warn("upstream returned malformed JSON")
			c.metrics.request(u.Host, "malformed")
			return nil, nil
		}
		c.metrics.request(u.Host, "ok")
		return json.RawMessage(body), nil
	}

	log.WithField("max_retries", c.maxRetries).Error("giving up after retries")
	c.metrics.request(u.Host, "exhausted")
	return nil, nil
}

// retryAfter parses the Retry-After header of a 429 response, either as a
// second count or an HTTP date.
func retryAfter(resp *http.Response) time.Duration {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return defaultRetryAfter
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if when, err := http.ParseTime(v); err == nil {
		if until := time.Until(when); until > 0 {
			return until
		}
	}
	return defaultRetryAfter
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	resp.Body.Close()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
