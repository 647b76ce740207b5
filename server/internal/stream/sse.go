package stream

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/livefeed/livefeed/pkg/types"
)

// sseSink writes snapshots as Server-Sent Events frames.
type sseSink struct {
	w            io.Writer
	rc           *http.ResponseController
	writeTimeout time.Duration
	buf          bytes.Buffer
}

func newSSESink(w http.ResponseWriter, writeTimeout time.Duration) *sseSink {
	return &sseSink{w: w, rc: http.NewResponseController(w), writeTimeout: writeTimeout}
}

// Send writes one event and flushes it. Each payload line becomes its own
// "data:" field so clients reassemble the payload.
func (s *sseSink) Send(snap *types.Snapshot) error {
	if err := s.rc.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return fmt.Errorf("stream: set write deadline: %w", err)
	}

	s.buf.Reset()
	writeFrame(&s.buf, snap.Payload())
	if _, err := s.w.Write(s.buf.Bytes()); err != nil {
		return err
	}
	return s.rc.Flush()
}

func writeFrame(buf *bytes.Buffer, payload []byte) {
	for _, line := range bytes.Split(payload, []byte("\n")) {
		buf.WriteString("data: ")
		buf.Write(bytes.TrimSuffix(line, []byte("\r")))
		buf.WriteByte('\n')
	}
	buf.WriteByte('\n')
}

// ServeSSE streams snapshot changes to the client as Server-Sent Events
// until the client disconnects or the manager shuts down.
func (m *Manager) ServeSSE(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s, ok := m.admitHTTP(w, r, TransportSSE)
	if !ok {
		return
	}
	defer m.Release(s)

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	sink := newSSESink(w, m.writeTimeout)
	if err := sink.rc.Flush(); err != nil {
		slog.Warn("stream: response does not support flushing", "id", s.ID, "err", err)
		return
	}

	if err := m.Watch(r.Context(), s, sink); err != nil {
		slog.Debug("stream: client gone", "id", s.ID, "transport", TransportSSE, "err", err)
	}
}
