package stream

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/livefeed/livefeed/pkg/types"
)

const (
	// pongWait is how long to wait for a pong before treating the connection
	// as dead.
	pongWait = 60 * time.Second

	// pingPeriod must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// closeGrace bounds the close handshake write.
	closeGrace = time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Allow all origins; apply CORS at the reverse proxy.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsSink writes snapshots as WebSocket text messages.
type wsSink struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
}

func (s *wsSink) Send(snap *types.Snapshot) error {
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, snap.Payload())
}

// ServeWS upgrades the connection to WebSocket and streams snapshot changes
// until the client disconnects or the manager shuts down.
func (m *Manager) ServeWS(w http.ResponseWriter, r *http.Request) {
	s, ok := m.admitHTTP(w, r, TransportWS)
	if !ok {
		return
	}
	defer m.Release(s)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader has already written the error response.
		return
	}
	defer conn.Close()

	// Hijacked connections outlive the request context, so the read pump
	// owns disconnect detection.
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go readPump(conn, cancel)
	go pingPump(ctx, conn)

	sink := &wsSink{conn: conn, writeTimeout: m.writeTimeout}
	if err := m.Watch(ctx, s, sink); err != nil {
		slog.Debug("stream: client gone", "id", s.ID, "transport", TransportWS, "err", err)
		return
	}

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if m.isClosing() {
		msg = websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	}
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGrace))
}

// readPump processes control frames and cancels the session when the
// connection closes. Client messages are discarded.
func readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// pingPump sends keepalive pings until ctx is done. WriteControl may run
// concurrently with the sink's writes.
func pingPump(ctx context.Context, conn *websocket.Conn) {
	t := time.NewTicker(pingPeriod)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(closeGrace)); err != nil {
				return
			}
		}
	}
}
