package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/loykin/deploywatch/internal/metrics"
)

// Default client tuning. The backoff window follows the relay provider's
// guidance: start at one second, cap at one minute.
const (
	DefaultTimeout     = 10 * time.Second
	DefaultMaxAttempts = 3
	baseBackoff        = 1 * time.Second
	maxBackoff         = 60 * time.Second
)

// Config holds relay client configuration.
type Config struct {
	Endpoint    string        // polling endpoint URL
	APIKey      string        // bearer token for the relay service
	Timeout     time.Duration // per-request timeout
	MaxAttempts int           // bounded retries per poll before surfacing the error
	DedupWindow int           // number of recent event ids remembered
	Logger      *slog.Logger
}

// Client polls the relay service for webhook deliveries. It keeps the page
// iterator and the dedup window in memory for the lifetime of the run; the
// relay replays from its server-side offset on restart.
type Client struct {
	endpoint    string
	apiKey      string
	maxAttempts int
	httpClient  *http.Client
	logger      *slog.Logger

	iterator string
	backoff  time.Duration
	seen     *dedupRing
}

func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{
		endpoint:    cfg.Endpoint,
		apiKey:      cfg.APIKey,
		maxAttempts: cfg.MaxAttempts,
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		logger:      cfg.Logger,
		backoff:     baseBackoff,
		seen:        newDedupRing(cfg.DedupWindow),
	}
}

// Poll fetches all pages of new events since the last call, deduplicated by
// event id. Transient failures are retried with exponential backoff up to
// the configured attempt count; a persistent failure is returned to the
// caller with nothing committed, so the next poll replays the whole batch
// from the last acknowledged iterator and no events are skipped.
func (c *Client) Poll(ctx context.Context) ([]Event, error) {
	iterator := c.iterator
	var pending []message
	for {
		env, err := c.fetchPage(ctx, iterator)
		if err != nil {
			return nil, err
		}
		c.backoff = baseBackoff
		pending = append(pending, env.Data...)
		if env.Iterator != "" {
			iterator = env.Iterator
		}
		if env.Done || env.Iterator == "" {
			break
		}
	}

	// Commit point: every page succeeded, so the iterator advances and the
	// batch enters the dedup window.
	c.iterator = iterator
	var events []Event
	for _, m := range pending {
		if c.seen.Seen(m.ID) {
			metrics.IncEvent("duplicate")
			c.logger.Debug("duplicate event skipped", "id", m.ID)
			continue
		}
		events = append(events, m.event())
	}
	return events, nil
}

func (c *Client) fetchPage(ctx context.Context, iterator string) (*envelope, error) {
	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		env, err := c.doRequest(ctx, iterator)
		if err == nil {
			return env, nil
		}
		lastErr = err
		c.logger.Warn("relay poll failed", "attempt", attempt, "err", err)
		if attempt == c.maxAttempts {
			break
		}
		if err := sleepCtx(ctx, c.backoff); err != nil {
			return nil, err
		}
		c.backoff = min(c.backoff*2, maxBackoff)
	}
	return nil, fmt.Errorf("relay poll failed after %d attempts: %w", c.maxAttempts, lastErr)
}

func (c *Client) doRequest(ctx context.Context, iterator string) (*envelope, error) {
	u := c.endpoint
	if iterator != "" {
		sep := "?"
		if parsed, err := url.Parse(u); err == nil && parsed.RawQuery != "" {
			sep = "&"
		}
		u += sep + "iterator=" + url.QueryEscape(iterator)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("relay returned status %d: %s", resp.StatusCode, body)
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("decode relay response: %w", err)
	}
	return &env, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
