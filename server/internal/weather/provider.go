package weather

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"time"

	"github.com/sony/gobreaker"

	"github.com/livefeed/livefeed/pkg/types"
)

const (
	defaultEndpoint    = "https://api.openweathermap.org/data/2.5/weather"
	defaultHTTPTimeout = 10 * time.Second
	maxBodyBytes       = 1 << 20
)

var (
	errRateLimited = errors.New("rate limited")
	errServerError = errors.New("server error")
	errStatus      = errors.New("unexpected status code")
)

// Config describes the upstream request.
type Config struct {
	Endpoint string
	City     string
	Units    string // "", "metric" or "imperial"
	APIKey   string

	// MaxRetries is the number of extra attempts after the first one fails
	// with a transient error.
	MaxRetries     int
	BackoffInitial time.Duration
	BackoffMax     time.Duration
}

// Provider fetches current weather for one city.
type Provider struct {
	cfg     Config
	client  *http.Client
	circuit *gobreaker.CircuitBreaker
}

// New creates a Provider. A nil client gets a default one with a 10s timeout.
func New(cfg Config, client *http.Client) *Provider {
	if cfg.Endpoint == "" {
		cfg.Endpoint = defaultEndpoint
	}
	if cfg.BackoffInitial <= 0 {
		cfg.BackoffInitial = 500 * time.Millisecond
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "openweathermap",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("weather: circuit breaker state changed",
				"breaker", name, "from", from.String(), "to", to.String())
		},
	})

	return &Provider{cfg: cfg, client: client, circuit: cb}
}

// Name identifies the provider in logs.
func (p *Provider) Name() string {
	return "openweathermap"
}

// Fetch retrieves and parses the current weather. The returned value is a
// Report ready to be encoded into a snapshot.
func (p *Provider) Fetch(ctx context.Context) (any, error) {
	if p.cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: api key is not configured", types.ErrFetch)
	}

	body, err := p.fetchBody(ctx)
	if err != nil {
		return nil, err
	}

	report, err := Parse(body)
	if err != nil {
		return nil, err
	}
	slog.Debug("weather: fetched", "city", p.cfg.City, "bytes", len(body))
	return report, nil
}

// fetchBody runs the request through the circuit breaker, retrying transient
// failures with exponential backoff until MaxRetries is spent.
func (p *Provider) fetchBody(ctx context.Context) ([]byte, error) {
	bo := newBackoff(p.cfg.BackoffInitial, p.cfg.BackoffMax)

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", types.ErrFetch, err)
		}

		result, err := p.circuit.Execute(func() (interface{}, error) {
			return p.do(ctx)
		})
		if err == nil {
			return result.([]byte), nil
		}

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: circuit open: %v", types.ErrFetch, err)
		}
		var perm *permanentError
		if errors.As(err, &perm) || attempt >= p.cfg.MaxRetries {
			return nil, fmt.Errorf("%w: %v", types.ErrFetch, err)
		}

		wait := bo.next()
		slog.Debug("weather: request failed, retrying", "attempt", attempt+1, "retry_in", wait, "err", err)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("%w: %v", types.ErrFetch, ctx.Err())
		case <-timer.C:
		}
	}
}

// do performs a single GET and returns the body of a 2xx response.
func (p *Provider) do(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.requestURL(), nil)
	if err != nil {
		return nil, &permanentError{fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, errRateLimited
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: %d", errServerError, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, &permanentError{fmt.Errorf("%w: %d", errStatus, resp.StatusCode)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

func (p *Provider) requestURL() string {
	values := url.Values{}
	values.Set("q", p.cfg.City)
	values.Set("appid", p.cfg.APIKey)
	if p.cfg.Units != "" {
		values.Set("units", p.cfg.Units)
	}
	return p.cfg.Endpoint + "?" + values.Encode()
}

// permanentError marks failures that retrying cannot fix (4xx other than 429).
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// backoff implements truncated exponential backoff with jitter.
type backoff struct {
	current time.Duration
	max     time.Duration
}

func newBackoff(initial, max time.Duration) *backoff {
	return &backoff{current: initial, max: max}
}

// next returns the current backoff duration and advances the internal state.
func (b *backoff) next() time.Duration {
	d := b.current
	// Apply ±25 % jitter.
	jitter := time.Duration(float64(b.current) * 0.25 * (rand.Float64()*2 - 1)) //nolint:gosec // not crypto
	d += jitter
	if d < 0 {
		d = 0
	}

	b.current *= 2
	if b.max > 0 && b.current > b.max {
		b.current = b.max
	}
	return d
}
