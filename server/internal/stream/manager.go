package stream

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/livefeed/livefeed/pkg/types"
	"github.com/livefeed/livefeed/server/internal/metrics"
	"github.com/livefeed/livefeed/server/internal/store"
)

const (
	DefaultPollInterval = time.Second
	DefaultWriteTimeout = 10 * time.Second
	DefaultAcceptBurst  = 10
)

// Transport names, used in logs and as the metrics label.
const (
	TransportSSE = "sse"
	TransportWS  = "ws"
)

// Admission errors.
var (
	ErrShuttingDown    = errors.New("stream: shutting down")
	ErrTooManySessions = errors.New("stream: session limit reached")
	ErrRateLimited     = errors.New("stream: accept rate exceeded")
)

// Sink delivers one snapshot to a client as a single discrete message. An
// error means the client can no longer be written to.
type Sink interface {
	Send(snap *types.Snapshot) error
}

// Config tunes a Manager. Zero values select the defaults; MaxSessions and
// AcceptRate of zero mean unlimited. A nil Clock uses the wall clock.
type Config struct {
	PollInterval time.Duration
	WriteTimeout time.Duration
	MaxSessions  int
	AcceptRate   float64
	AcceptBurst  int
	Clock        clockwork.Clock
}

// Session is one connected client.
type Session struct {
	ID         uuid.UUID
	Transport  string
	RemoteAddr string
	Started    time.Time

	lastSent *types.Snapshot
}

// Manager tracks active sessions and runs their watch-loops.
type Manager struct {
	store        *store.Store
	pollInterval atomic.Int64
	writeTimeout time.Duration
	maxSessions  int
	limiter      *rate.Limiter
	metrics      *metrics.StreamMetrics
	clock        clockwork.Clock

	mu       sync.Mutex
	sessions map[uuid.UUID]*Session
	wg       sync.WaitGroup
	closing  chan struct{}
	once     sync.Once
}

// New creates a Manager reading from st. A nil m records to a private registry.
func New(st *store.Store, cfg Config, m *metrics.StreamMetrics) *Manager {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.AcceptBurst <= 0 {
		cfg.AcceptBurst = DefaultAcceptBurst
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if m == nil {
		m = metrics.NewStreamMetrics(prometheus.NewRegistry())
	}

	mgr := &Manager{
		store:        st,
		writeTimeout: cfg.WriteTimeout,
		maxSessions:  cfg.MaxSessions,
		metrics:      m,
		clock:        cfg.Clock,
		sessions:     make(map[uuid.UUID]*Session),
		closing:      make(chan struct{}),
	}
	if cfg.AcceptRate > 0 {
		mgr.limiter = rate.NewLimiter(rate.Limit(cfg.AcceptRate), cfg.AcceptBurst)
	}
	mgr.SetPollInterval(cfg.PollInterval)
	return mgr
}

// PollInterval returns the maximum wait between store reads.
func (m *Manager) PollInterval() time.Duration {
	return time.Duration(m.pollInterval.Load())
}

// SetPollInterval changes the wait used by every watch-loop from its next
// wait on. A non-positive d selects DefaultPollInterval.
func (m *Manager) SetPollInterval(d time.Duration) {
	if d <= 0 {
		d = DefaultPollInterval
	}
	m.pollInterval.Store(int64(d))
}

// Count returns the number of active sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Admit registers a new session or reports why it was refused. Every admitted
// session must be passed to Release.
func (m *Manager) Admit(transport string, r *http.Request) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	select {
	case <-m.closing:
		return nil, m.reject(ErrShuttingDown, "shutdown")
	default:
	}
	if m.maxSessions > 0 && len(m.sessions) >= m.maxSessions {
		return nil, m.reject(ErrTooManySessions, "max_sessions")
	}
	if m.limiter != nil && !m.limiter.Allow() {
		return nil, m.reject(ErrRateLimited, "rate")
	}

	s := &Session{
		ID:        uuid.New(),
		Transport: transport,
		Started:   m.clock.Now(),
	}
	if r != nil {
		s.RemoteAddr = r.RemoteAddr
	}
	m.sessions[s.ID] = s
	m.wg.Add(1)
	m.metrics.ActiveSessions.WithLabelValues(transport).Inc()

	slog.Debug("stream: session opened", "id", s.ID, "transport", transport, "remote", s.RemoteAddr)
	return s, nil
}

// Release removes s from the registry. It is safe to call more than once.
func (m *Manager) Release(s *Session) {
	m.mu.Lock()
	_, ok := m.sessions[s.ID]
	delete(m.sessions, s.ID)
	m.mu.Unlock()

	if !ok {
		return
	}
	m.metrics.ActiveSessions.WithLabelValues(s.Transport).Dec()
	m.wg.Done()
	slog.Debug("stream: session closed", "id", s.ID, "transport", s.Transport,
		"duration", m.clock.Since(s.Started).Round(time.Millisecond))
}

func (m *Manager) reject(err error, reason string) error {
	m.metrics.Rejected.WithLabelValues(reason).Inc()
	return err
}

// Watch runs the session's watch-loop until ctx is done, Shutdown is called,
// or sink fails. A sink error is returned; the other exits return nil.
func (m *Manager) Watch(ctx context.Context, s *Session, sink Sink) error {
	for {
		if ctx.Err() != nil || m.isClosing() {
			return nil
		}

		// Take the signal before reading so a publish between the two
		// still wakes the wait below.
		changed := m.store.Changed()
		cur := m.store.Read()

		if !cur.Equal(s.lastSent) {
			if err := sink.Send(cur); err != nil {
				return err
			}
			s.lastSent = cur
			m.metrics.MessagesSent.WithLabelValues(s.Transport).Inc()
			continue
		}

		timer := m.clock.NewTimer(m.PollInterval())
		select {
		case <-ctx.Done():
		case <-m.closing:
		case <-changed:
		case <-timer.Chan():
		}
		timer.Stop()
	}
}

// Shutdown stops admitting sessions and asks every watch-loop to return at
// its next wait. It does not block; use Wait to drain.
func (m *Manager) Shutdown() {
	m.once.Do(func() {
		m.mu.Lock()
		close(m.closing)
		n := len(m.sessions)
		m.mu.Unlock()
		slog.Info("stream: shutting down sessions", "active", n)
	})
}

// Wait blocks until every session has been released or ctx is done.
func (m *Manager) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) isClosing() bool {
	select {
	case <-m.closing:
		return true
	default:
		return false
	}
}

// admitHTTP admits a session for an HTTP request and writes the refusal
// response when admission fails.
func (m *Manager) admitHTTP(w http.ResponseWriter, r *http.Request, transport string) (*Session, bool) {
	s, err := m.Admit(transport, r)
	if err == nil {
		return s, true
	}

	code := http.StatusServiceUnavailable
	if errors.Is(err, ErrRateLimited) {
		code = http.StatusTooManyRequests
		w.Header().Set("Retry-After", "1")
	}
	slog.Warn("stream: connection refused", "transport", transport, "remote", r.RemoteAddr, "err", err)
	http.Error(w, err.Error(), code)
	return nil, false
}
