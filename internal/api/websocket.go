package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/lorawatch/internal/broadcast"
)

// Defaults used when the WebSocket config leaves a value unset.
const (
	defaultSendBuffer     = 256
	defaultMaxMessageSize = 4096
	defaultPingInterval   = 30 * time.Second
	defaultPongTimeout    = 10 * time.Second
)

// upgrader configures the WebSocket upgrader.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// Origin checking is handled by CORS middleware
		return true
	},
}

// wsSubscriber adapts one WebSocket connection to broadcast.Subscriber.
//
// Send never blocks: a full outbound buffer reports ErrSubscriberSlow and the
// hub drops the connection. The send channel is never closed; done signals
// shutdown to the write pump instead, so a late Send cannot panic.
type wsSubscriber struct {
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newWSSubscriber(conn *websocket.Conn, buffer int) *wsSubscriber {
	return &wsSubscriber{
		conn: conn,
		send: make(chan []byte, buffer),
		done: make(chan struct{}),
	}
}

// Send queues msg for the write pump.
func (c *wsSubscriber) Send(msg []byte) error {
	select {
	case <-c.done:
		return broadcast.ErrSubscriberClosed
	default:
	}

	select {
	case c.send <- msg:
		return nil
	default:
		return broadcast.ErrSubscriberSlow
	}
}

// Close stops the write pump, which then closes the connection.
func (c *wsSubscriber) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// wsTimings resolves the keep-alive settings with defaults applied.
func (s *Server) wsTimings() (maxSize int64, ping, pong time.Duration) {
	maxSize = int64(s.wsCfg.MaxMessageSize)
	if maxSize <= 0 {
		maxSize = defaultMaxMessageSize
	}
	ping = time.Duration(s.wsCfg.PingInterval) * time.Second
	if ping <= 0 {
		ping = defaultPingInterval
	}
	pong = time.Duration(s.wsCfg.PongTimeout) * time.Second
	if pong <= 0 {
		pong = defaultPongTimeout
	}
	return maxSize, ping, pong
}

// handleWebSocket upgrades the connection and registers it with the hub.
// Authentication, when enabled, has already run in authMiddleware.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	buffer := s.wsCfg.SendBuffer
	if buffer <= 0 {
		buffer = defaultSendBuffer
	}

	sub := newWSSubscriber(conn, buffer)
	handle := s.hub.Register(sub)
	if handle.IsZero() {
		// Hub already closed; Register has closed the subscriber.
		//nolint:errcheck // Best-effort close on shutdown
		conn.Close()
		return
	}

	s.logger.Debug("websocket client connected", "handle", handle.String(), "remote", r.RemoteAddr)

	go s.writePump(sub)
	go s.readPump(sub, handle)
}

// readPump discards client frames and keeps the read deadline moving.
// It owns unregistration: any read error ends the subscription.
func (s *Server) readPump(sub *wsSubscriber, handle broadcast.Handle) {
	defer func() {
		s.hub.Unregister(handle)
		//nolint:errcheck // Connection may already be closed by writePump
		sub.conn.Close()
	}()

	maxSize, ping, pong := s.wsTimings()
	sub.conn.SetReadLimit(maxSize)
	//nolint:errcheck // Best-effort deadline on connection setup
	sub.conn.SetReadDeadline(time.Now().Add(ping + pong))
	sub.conn.SetPongHandler(func(string) error {
		return sub.conn.SetReadDeadline(time.Now().Add(ping + pong))
	})

	for {
		if _, _, err := sub.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("websocket read error", "handle", handle.String(), "error", err)
			}
			return
		}
		// Any client frame counts as liveness, even without protocol pongs.
		//nolint:errcheck // Best-effort deadline reset
		sub.conn.SetReadDeadline(time.Now().Add(ping + pong))
	}
}

// writePump writes queued messages and periodic pings until the
// subscriber is closed or a write fails.
func (s *Server) writePump(sub *wsSubscriber) {
	_, ping, pong := s.wsTimings()
	ticker := time.NewTicker(ping)
	defer func() {
		ticker.Stop()
		//nolint:errcheck // Unblocks readPump
		sub.conn.Close()
	}()

	for {
		select {
		case <-sub.done:
			//nolint:errcheck // Best-effort deadline before close frame
			sub.conn.SetWriteDeadline(time.Now().Add(pong))
			//nolint:errcheck // Best-effort close message
			sub.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
			return
		case message := <-sub.send:
			//nolint:errcheck // Best-effort deadline; write error caught below
			sub.conn.SetWriteDeadline(time.Now().Add(pong))
			if err := sub.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				sub.Close()
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Best-effort deadline; ping error caught below
			sub.conn.SetWriteDeadline(time.Now().Add(pong))
			if err := sub.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				sub.Close()
				return
			}
		}
	}
}
