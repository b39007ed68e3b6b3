package eventsink

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"patentflow/pkg/logx"
)

const writeTimeout = 5 * time.Second

// WebSocketSink streams workflow events to connected WebSocket clients so a
// reviewing attorney can watch an analysis progress live. Slow or broken
// connections are dropped; event delivery is best-effort by design.
type WebSocketSink struct {
	upgrader websocket.Upgrader
	logger   *logx.Logger

	mu    sync.Mutex
	conns map[*websocket.Conn]bool
}

// NewWebSocketSink creates an empty sink. Register it as an HTTP handler to
// accept client connections.
func NewWebSocketSink() *WebSocketSink {
	return &WebSocketSink{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Events are observability output, not a control surface.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: logx.NewLogger("ws-events"),
		conns:  map[*websocket.Conn]bool{},
	}
}

// ServeHTTP upgrades the request and registers the connection.
func (s *WebSocketSink) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed: %v", err)
		return
	}

	s.mu.Lock()
	s.conns[conn] = true
	total := len(s.conns)
	s.mu.Unlock()

	s.logger.Info("event stream client connected (%d total)", total)

	// Drain reads so pings and close frames are processed; unregister when
	// the client goes away.
	go func() {
		defer s.drop(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// Send implements Sink, broadcasting the event to all connected clients.
func (s *WebSocketSink) Send(event Event) error {
	data, err := event.ToJSON()
	if err != nil {
		return err
	}

	s.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, conn := range conns {
		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			s.logger.Debug("dropping slow event stream client: %v", err)
			s.drop(conn)
		}
	}

	return nil
}

// Close disconnects all clients.
func (s *WebSocketSink) Close() error {
	s.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.conns = map[*websocket.Conn]bool{}
	s.mu.Unlock()

	for _, conn := range conns {
		_ = conn.Close()
	}
	return nil
}

func (s *WebSocketSink) drop(conn *websocket.Conn) {
	s.mu.Lock()
	if _, ok := s.conns[conn]; ok {
		delete(s.conns, conn)
	}
	s.mu.Unlock()
	_ = conn.Close()
}
