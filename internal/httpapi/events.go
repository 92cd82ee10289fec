package httpapi

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/MrEthical07/mindgate/authstate"
	"github.com/MrEthical07/mindgate/guard"
)

// WebSocket message types.
const (
	WSTypeLocation = "location"
	WSTypePing     = "ping"
	WSTypePong     = "pong"
	WSTypeSession  = "session"
	WSTypeRedirect = "redirect"
	WSTypeError    = "error"
)

const (
	wsSendBufferSize = 32
	wsMaxMessageSize = 4096
	wsWriteWait      = 10 * time.Second
	wsPongWait       = 60 * time.Second
	wsPingInterval   = wsPongWait * 9 / 10
)

// WSMessage is sent to and from /auth/events clients.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload"`
}

type wsInbound struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

// WSLocationPayload is the payload of a location message.
type WSLocationPayload struct {
	Path string `json:"path"`
}

// WSRedirectPayload is the payload of a redirect message.
type WSRedirectPayload struct {
	To string `json:"to"`
}

// WSErrorPayload is the payload of an error message.
type WSErrorPayload struct {
	Message string `json:"message"`
}

// The default CheckOrigin rejects cross-origin upgrades, which matters
// because the device cookie authenticates the socket.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// eventConn is one /auth/events connection. Writes go through send so
// holder callbacks never block on the network.
type eventConn struct {
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	now       func() time.Time
}

func newEventConn(conn *websocket.Conn) *eventConn {
	return &eventConn{
		conn: conn,
		send: make(chan []byte, wsSendBufferSize),
		done: make(chan struct{}),
		now:  time.Now,
	}
}

// trySend queues msg, dropping it when the client is not keeping up.
func (c *eventConn) trySend(msg WSMessage) bool {
	msg.Timestamp = c.now().UTC().Format(time.RFC3339)
	data, err := json.Marshal(msg)
	if err != nil {
		return false
	}
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// close asks the writer to say goodbye and drop the connection, which
// also unblocks the reader.
func (c *eventConn) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *eventConn) writePump() {
	ticker := time.NewTicker(wsPingInterval)
	defer func() {
		ticker.Stop()
		c.close()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(wsWriteWait))
			return
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) registerConn(c *eventConn) {
	s.connMu.Lock()
	s.conns[c] = struct{}{}
	s.connMu.Unlock()
}

func (s *Server) unregisterConn(c *eventConn) {
	s.connMu.Lock()
	delete(s.conns, c)
	s.connMu.Unlock()
}

func sessionMessage(snap authstate.Snapshot) WSMessage {
	return WSMessage{Type: WSTypeSession, Payload: viewOf(snap.Session)}
}

// handleEvents streams session changes and guard redirects for the
// requesting device. The client reports navigation with location
// messages; the guard controller answers with redirect messages.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	d, err := s.device(r)
	if err != nil {
		writeErr(w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	unpin := d.Pin()
	defer unpin()

	ec := newEventConn(conn)
	s.registerConn(ec)
	defer s.unregisterConn(ec)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		ec.writePump()
	}()
	defer func() {
		ec.close()
		<-writerDone
	}()

	ctrl := guard.NewController(s.policy, d.Holder, guard.NavigatorFunc(func(to string) {
		ec.trySend(WSMessage{Type: WSTypeRedirect, Payload: WSRedirectPayload{To: to}})
	}))
	defer ctrl.Stop()

	cancelWatch := d.Holder.Watch(func(snap authstate.Snapshot) {
		ec.trySend(sessionMessage(snap))
	})
	defer cancelWatch()

	if snap := d.Holder.Snapshot(); !snap.Loading {
		ec.trySend(sessionMessage(snap))
	}

	s.readEvents(ec, ctrl)
}

func (s *Server) readEvents(ec *eventConn, ctrl *guard.Controller) {
	ec.conn.SetReadLimit(wsMaxMessageSize)
	_ = ec.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	ec.conn.SetPongHandler(func(string) error {
		return ec.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	started := false
	for {
		_, data, err := ec.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("websocket read error", "error", err)
			}
			return
		}
		_ = ec.conn.SetReadDeadline(time.Now().Add(wsPongWait))

		var msg wsInbound
		if err := json.Unmarshal(data, &msg); err != nil {
			ec.trySend(WSMessage{Type: WSTypeError, Payload: WSErrorPayload{Message: "invalid message"}})
			continue
		}

		switch msg.Type {
		case WSTypePing:
			ec.trySend(WSMessage{Type: WSTypePong, ID: msg.ID})
		case WSTypeLocation:
			var loc WSLocationPayload
			if err := json.Unmarshal(msg.Payload, &loc); err != nil || loc.Path == "" {
				ec.trySend(WSMessage{Type: WSTypeError, ID: msg.ID, Payload: WSErrorPayload{Message: "location needs a path"}})
				continue
			}
			if !started {
				ctrl.Start(loc.Path)
				started = true
			} else {
				ctrl.Visit(loc.Path)
			}
		default:
			ec.trySend(WSMessage{Type: WSTypeError, ID: msg.ID, Payload: WSErrorPayload{Message: "unknown message type"}})
		}
	}
}
