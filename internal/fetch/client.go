package fetch

import (
	"context"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"rentradar/internal/domain"
	"rentradar/internal/monitoring"
)

// Config controls retry, backoff, cooldown, and pacing behavior.
type Config struct {
	Timeout           time.Duration
	MaxRetries        int
	BaseDelay         time.Duration
	MaxBackoff        time.Duration
	JitterFrac        float64
	PaceInterval      time.Duration
	CooldownThreshold int
	CooldownDuration  time.Duration
}

// Retryable upstream statuses. Everything else fails the request on the
// first response.
var retryableStatus = map[int]bool{
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// Result is the payload of one successful logical fetch.
type Result struct {
	Body       []byte
	StatusCode int
	Attempts   int
}

// Client is the single upstream HTTP access path for all crawlers. It retries
// transient failures with capped exponential backoff, tracks consecutive 429
// responses across requests and sleeps a full cooldown once they reach the
// configured threshold, and paces steady-state traffic. The 429 counter and
// pacing clock are shared across requests on purpose.
type Client struct {
	source     string
	cfg        Config
	httpClient *http.Client
	headers    map[string]string
	logger     *zap.Logger
	metrics    *monitoring.Metrics

	// sleep is swapped out by tests to observe delays without waiting.
	sleep func(ctx context.Context, d time.Duration) error

	mu             sync.Mutex
	consecutive429 int
	lastRequest    time.Time
}

// NewClient builds a client for one source. Headers are sent on every
// request.
func NewClient(source string, cfg Config, headers map[string]string, logger *zap.Logger, metrics *monitoring.Metrics) *Client {
	return &Client{
		source:     source,
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		headers:    headers,
		logger:     logger,
		metrics:    metrics,
		sleep:      sleepContext,
	}
}

// Get performs a GET with retry and backoff. A nil Result with a nil error
// means the endpoint yielded no usable payload (non-retryable status, or
// retries exhausted); callers treat that as zero fetched items. A non-nil
// error is returned only for context cancellation or an unbuildable request.
func (c *Client) Get(ctx context.Context, rawURL string, params url.Values, stats *domain.RunStats) (*Result, error) {
	if stats == nil {
		stats = &domain.RunStats{}
	}
	target := rawURL
	if len(params) > 0 {
		target = rawURL + "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for key, value := range c.headers {
		req.Header.Set(key, value)
	}

	for attempt := 0; ; attempt++ {
		if err := c.pace(ctx); err != nil {
			return nil, err
		}

		status, body, err := c.do(req)
		stats.Attempts++
		c.metrics.IncFetchAttempts(c.source)

		if err == nil && status >= 200 && status < 300 {
			c.reset429()
			return &Result{Body: body, StatusCode: status, Attempts: attempt + 1}, nil
		}
		if err != nil && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if err == nil && !retryableStatus[status] {
			c.logger.Warn("non-retryable upstream status",
				zap.String("source", c.source),
				zap.String("url", rawURL),
				zap.Int("status", status))
			return nil, nil
		}

		// Transient failure from here on. A 429 that pushes the
		// consecutive counter to the threshold triggers the full
		// cooldown immediately, on top of whatever backoff follows.
		if status == http.StatusTooManyRequests {
			c.bump429()
			if c.cooldownDue() {
				stats.Cooldowns++
				c.metrics.IncCooldowns(c.source)
				c.logger.Warn("rate limit cooldown",
					zap.String("source", c.source),
					zap.Duration("duration", c.cfg.CooldownDuration))
				if err := c.sleep(ctx, c.cfg.CooldownDuration); err != nil {
					return nil, err
				}
			}
		}
		if attempt >= c.cfg.MaxRetries {
			c.logger.Warn("retries exhausted",
				zap.String("source", c.source),
				zap.String("url", rawURL),
				zap.Int("attempts", attempt+1),
				zap.Int("last_status", status),
				zap.Error(err))
			return nil, nil
		}

		stats.Retries++
		c.metrics.IncFetchRetries(c.source, retryLabel(status, err))
		delay := c.backoffDelay(attempt)
		c.logger.Warn("retrying upstream request",
			zap.String("source", c.source),
			zap.Int("status", status),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", delay),
			zap.Error(err))
		if err := c.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
}

func (c *Client) do(req *http.Request) (int, []byte, error) {
	resp, err := c.httpClient.Do(req)
	c.markRequest()
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, body, nil
}

// backoffDelay computes min(base * 2^attempt, cap) with symmetric jitter.
func (c *Client) backoffDelay(attempt int) time.Duration {
	d := float64(c.cfg.BaseDelay) * math.Pow(2, float64(attempt))
	if c.cfg.MaxBackoff > 0 && d > float64(c.cfg.MaxBackoff) {
		d = float64(c.cfg.MaxBackoff)
	}
	if c.cfg.JitterFrac > 0 {
		d *= 1 + c.cfg.JitterFrac*(2*rand.Float64()-1)
	}
	return time.Duration(d)
}

// pace enforces the steady-state interval between requests. The first request
// on a fresh client goes out immediately.
func (c *Client) pace(ctx context.Context) error {
	if c.cfg.PaceInterval <= 0 {
		return nil
	}
	c.mu.Lock()
	last := c.lastRequest
	c.mu.Unlock()
	if last.IsZero() {
		return nil
	}
	if wait := c.cfg.PaceInterval - time.Since(last); wait > 0 {
		return c.sleep(ctx, wait)
	}
	return nil
}

func (c *Client) markRequest() {
	c.mu.Lock()
	c.lastRequest = time.Now()
	c.mu.Unlock()
}

func (c *Client) bump429() {
	c.mu.Lock()
	c.consecutive429++
	c.mu.Unlock()
}

func (c *Client) reset429() {
	c.mu.Lock()
	c.consecutive429 = 0
	c.mu.Unlock()
}

// cooldownDue reports whether the consecutive-429 counter has reached the
// threshold, resetting it when it has.
func (c *Client) cooldownDue() bool {
	if c.cfg.CooldownThreshold <= 0 {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.consecutive429 >= c.cfg.CooldownThreshold {
		c.consecutive429 = 0
		return true
	}
	return false
}

func retryLabel(status int, err error) string {
	if err != nil {
		return "transport"
	}
	return strconv.Itoa(status)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
