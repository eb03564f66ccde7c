package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/dmitrijs2005/filerelay/internal/common"
	"github.com/dmitrijs2005/filerelay/internal/server/auth"
	"github.com/dmitrijs2005/filerelay/internal/server/metrics"
	"github.com/dmitrijs2005/filerelay/internal/server/relay"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	sendBuffer = 256
)

var errConnClosed = errors.New("connection closed")

// wsConn is one websocket client. All writes go through the send queue and
// a single writer goroutine, which keeps per-connection event order.
type wsConn struct {
	id       string
	identity auth.Identity
	ws       *websocket.Conn
	send     chan relay.Event
	done     chan struct{}
	once     sync.Once
}

func (c *wsConn) ID() string       { return c.id }
func (c *wsConn) Identity() string { return c.identity.ID }

// Send queues ev. A client that cannot keep up with its queue is
// disconnected rather than allowed to stall senders.
func (c *wsConn) Send(ev relay.Event) error {
	select {
	case <-c.done:
		return errConnClosed
	default:
	}

	select {
	case c.send <- ev:
		return nil
	case <-c.done:
		return errConnClosed
	default:
		_ = c.Close()
		return fmt.Errorf("send queue full for connection %s", c.id)
	}
}

// Close stops the writer, which sends a close frame and tears down the
// socket; that in turn ends the reader.
func (c *wsConn) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

func (s *Server) upgrader() *websocket.Upgrader {
	allowAll := false
	for _, o := range s.allowedOrigins {
		if o == "*" {
			allowAll = true
		}
	}

	return &websocket.Upgrader{
		ReadBufferSize:  32 * 1024,
		WriteBufferSize: 32 * 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || allowAll {
				return true
			}
			for _, o := range s.allowedOrigins {
				if o == origin {
					return true
				}
			}
			return false
		},
	}
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	id := identity(r)

	ws, err := s.upgrader().Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied
		s.logger.Warn(r.Context(), "websocket upgrade failed", "identity", id.ID, "error", err)
		return
	}

	c := &wsConn{
		id:       uuid.NewString(),
		identity: id,
		ws:       ws,
		send:     make(chan relay.Event, sendBuffer),
		done:     make(chan struct{}),
	}

	// the request context ends with the handler; the connection outlives it
	ctx := context.WithoutCancel(r.Context())

	s.registry.Register(c)
	metrics.ConnectionsActive.WithLabelValues("websocket").Inc()
	s.logger.Info(ctx, "relay connection opened", "identity", id.ID, "conn", c.id)

	go s.writePump(ctx, c)
	s.readPump(ctx, c)

	_ = c.Close()
	metrics.ConnectionsActive.WithLabelValues("websocket").Dec()
	if s.registry.Unregister(c) {
		s.machine.Disconnected(ctx, id.ID)
	}
	s.logger.Info(ctx, "relay connection closed", "identity", id.ID, "conn", c.id)
}

func (s *Server) readPump(ctx context.Context, c *wsConn) {
	c.ws.SetReadLimit(s.maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	peer := relay.Peer{Identity: c.identity.ID, Name: c.identity.Name, Conn: c}

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn(ctx, "websocket read error", "conn", c.id, "error", err)
			}
			return
		}

		var ev relay.Event
		if err := json.Unmarshal(data, &ev); err != nil || ev.Name == "" {
			_ = c.Send(relay.ErrorEvent(fmt.Errorf("%w: malformed event envelope", common.ErrValidation), ""))
			continue
		}

		s.machine.Dispatch(ctx, peer, ev)
	}
}

func (s *Server) writePump(ctx context.Context, c *wsConn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.Close()
		_ = c.ws.Close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			return
		case ev := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteJSON(ev); err != nil {
				s.logger.Debug(ctx, "websocket write failed", "conn", c.id, "error", err)
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
