package refresher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/livefeed/livefeed/pkg/types"
	"github.com/livefeed/livefeed/server/internal/metrics"
	"github.com/livefeed/livefeed/server/internal/store"
)

const (
	DefaultInterval     = 10 * time.Second
	DefaultFetchTimeout = 10 * time.Second
)

// ErrRunning is returned by Start when the loop is already running.
var ErrRunning = errors.New("refresher: already running")

// Source produces the value published as a snapshot. Fetch should honour
// ctx; errors should wrap types.ErrFetch or types.ErrParse.
type Source interface {
	Name() string
	Fetch(ctx context.Context) (any, error)
}

// Mirror receives every newly published snapshot.
type Mirror interface {
	Save(ctx context.Context, snap *types.Snapshot) error
}

// Status is a point-in-time view of the refresher for health reporting.
type Status struct {
	Running             bool      `json:"running"`
	Cycles              uint64    `json:"cycles"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastSuccess         time.Time `json:"last_success,omitempty"`
	LastFailure         time.Time `json:"last_failure,omitempty"`
	LastError           string    `json:"last_error,omitempty"`
}

// Option configures a Refresher.
type Option func(*Refresher)

// WithClock replaces the wall clock, for tests.
func WithClock(c clockwork.Clock) Option {
	return func(r *Refresher) { r.clock = c }
}

// WithFetchTimeout bounds each fetch.
func WithFetchTimeout(d time.Duration) Option {
	return func(r *Refresher) {
		if d > 0 {
			r.fetchTimeout = d
		}
	}
}

// WithMetrics records cycle outcomes on m.
func WithMetrics(m *metrics.RefresherMetrics) Option {
	return func(r *Refresher) { r.metrics = m }
}

// WithMirror saves each published snapshot to m.
func WithMirror(m Mirror) Option {
	return func(r *Refresher) { r.mirror = m }
}

// Refresher periodically fetches from a Source and publishes to a Store.
type Refresher struct {
	source       Source
	store        *store.Store
	interval     atomic.Int64
	fetchTimeout time.Duration
	clock        clockwork.Clock
	metrics      *metrics.RefresherMetrics
	mirror       Mirror

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	status Status
}

// New creates a stopped Refresher. A non-positive interval uses DefaultInterval.
func New(src Source, st *store.Store, interval time.Duration, opts ...Option) *Refresher {
	r := &Refresher{
		source:       src,
		store:        st,
		fetchTimeout: DefaultFetchTimeout,
		clock:        clockwork.NewRealClock(),
	}
	r.SetInterval(interval)
	for _, opt := range opts {
		opt(r)
	}
	if r.metrics == nil {
		r.metrics = metrics.NewRefresherMetrics(prometheus.NewRegistry())
	}
	return r
}

// Interval returns the wait between cycles.
func (r *Refresher) Interval() time.Duration {
	return time.Duration(r.interval.Load())
}

// SetInterval changes the wait between cycles; it applies from the next wait.
func (r *Refresher) SetInterval(d time.Duration) {
	if d <= 0 {
		d = DefaultInterval
	}
	r.interval.Store(int64(d))
}

// Start moves the refresher to Running and launches the loop. The loop also
// ends when ctx is cancelled.
func (r *Refresher) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cancel != nil {
		return ErrRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	r.cancel = cancel
	r.done = done
	r.status.Running = true

	go func() {
		defer close(done)
		r.run(ctx)

		r.mu.Lock()
		if r.done == done {
			r.cancel = nil
			r.done = nil
		}
		r.status.Running = false
		r.mu.Unlock()
		cancel()
	}()
	return nil
}

// Stop cancels the loop and waits for it to exit. It is safe to call more
// than once and on a refresher that was never started.
func (r *Refresher) Stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Status returns a copy of the current status.
func (r *Refresher) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

func (r *Refresher) run(ctx context.Context) {
	slog.Info("refresher: running", "source", r.source.Name(), "interval", r.Interval())

	for {
		_ = r.RefreshOnce(ctx)

		timer := r.clock.NewTimer(r.Interval())
		select {
		case <-ctx.Done():
			timer.Stop()
			slog.Info("refresher: stopped", "source", r.source.Name())
			return
		case <-timer.Chan():
		}
	}
}

// RefreshOnce runs a single fetch-parse-publish cycle. The returned error is
// informational; the store is left untouched on failure.
func (r *Refresher) RefreshOnce(ctx context.Context) error {
	start := r.clock.Now()
	v, err := r.fetch(ctx)
	r.metrics.FetchDuration.Observe(r.clock.Since(start).Seconds())

	var snap *types.Snapshot
	if err == nil {
		snap, err = types.Encode(v, r.clock.Now())
		if err != nil {
			err = fmt.Errorf("%w: %v", types.ErrParse, err)
		}
	}
	if err != nil {
		r.recordFailure(err)
		return err
	}

	if r.store.Read().Equal(snap) {
		r.metrics.Cycles.WithLabelValues(metrics.ResultUnchanged).Inc()
		r.recordSuccess()
		slog.Debug("refresher: snapshot unchanged", "source", r.source.Name())
		return nil
	}

	published := r.store.Publish(snap)
	r.metrics.Cycles.WithLabelValues(metrics.ResultPublished).Inc()
	r.metrics.SnapshotVersion.Set(float64(published.Version()))
	r.recordSuccess()
	slog.Debug("refresher: snapshot published",
		"source", r.source.Name(), "version", published.Version(), "bytes", len(published.Payload()))

	if r.mirror != nil {
		mctx, cancel := context.WithTimeout(ctx, r.fetchTimeout)
		if err := r.mirror.Save(mctx, published); err != nil {
			slog.Warn("refresher: mirror save failed", "version", published.Version(), "err", err)
		}
		cancel()
	}
	return nil
}

// fetch calls the source under the fetch timeout and abandons it if it does
// not return in time.
func (r *Refresher) fetch(ctx context.Context) (any, error) {
	fctx, cancel := context.WithTimeout(ctx, r.fetchTimeout)
	defer cancel()

	type result struct {
		v   any
		err error
	}
	ch := make(chan result, 1)

	go func() {
		defer func() {
			if p := recover(); p != nil {
				ch <- result{err: fmt.Errorf("%w: source panicked: %v", types.ErrFetch, p)}
			}
		}()
		v, err := r.source.Fetch(fctx)
		ch <- result{v: v, err: err}
	}()

	select {
	case res := <-ch:
		return res.v, res.err
	case <-fctx.Done():
		return nil, fmt.Errorf("%w: abandoned: %v", types.ErrFetch, fctx.Err())
	}
}

func (r *Refresher) recordSuccess() {
	now := r.clock.Now()
	r.metrics.LastSuccess.Set(float64(now.Unix()))

	r.mu.Lock()
	r.status.Cycles++
	r.status.ConsecutiveFailures = 0
	r.status.LastSuccess = now
	r.mu.Unlock()
}

func (r *Refresher) recordFailure(err error) {
	kind, result := "fetch", metrics.ResultFetchError
	if errors.Is(err, types.ErrParse) {
		kind, result = "parse", metrics.ResultParseError
	}
	r.metrics.Cycles.WithLabelValues(result).Inc()

	r.mu.Lock()
	r.status.Cycles++
	r.status.ConsecutiveFailures++
	r.status.LastFailure = r.clock.Now()
	r.status.LastError = err.Error()
	failures := r.status.ConsecutiveFailures
	r.mu.Unlock()

	slog.Warn("refresher: cycle failed, keeping last snapshot",
		"source", r.source.Name(), "kind", kind, "consecutive_failures", failures, "err", err)
}
