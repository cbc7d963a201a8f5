package websocket

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/davidcastilloc/unify-protect-events-extension-sub000/internal/hub"
	"github.com/davidcastilloc/unify-protect-events-extension-sub000/pkg/logging"
)

// Time allowed to write a message to the peer
const writeWait = 10 * time.Second

// transport owns a gorilla connection. The write pump is the only writer of
// data frames; control frames go through WriteControl, which gorilla allows
// concurrently with other writes.
type transport struct {
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
	closed atomic.Bool
	once   sync.Once
	logger logging.Entry
}

func newTransport(conn *websocket.Conn, buffer int, logger logging.Entry) *transport {
	t := &transport{
		conn:   conn,
		send:   make(chan []byte, buffer),
		done:   make(chan struct{}),
		logger: logger,
	}
	go t.writePump()
	return t
}

// Send enqueues msg without blocking
func (t *transport) Send(msg []byte) error {
	if t.closed.Load() {
		return hub.ErrTransportClosed
	}
	select {
	case <-t.done:
		return hub.ErrTransportClosed
	default:
	}
	select {
	case t.send <- msg:
		return nil
	default:
		return hub.ErrSendBufferFull
	}
}

// Ping writes a ping control frame
func (t *transport) Ping() error {
	if t.closed.Load() {
		return hub.ErrTransportClosed
	}
	return t.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// Close sends a close frame with code and tears the connection down. Only
// the first call has any effect.
func (t *transport) Close(code int, reason string) error {
	var err error
	t.once.Do(func() {
		t.closed.Store(true)
		close(t.done)
		if code != 0 {
			msg := websocket.FormatCloseMessage(code, reason)
			if werr := t.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait)); werr != nil && werr != websocket.ErrCloseSent {
				t.logger.WithError(werr).Debug("Failed to write close frame")
			}
		}
		err = t.conn.Close()
	})
	return err
}

// Closed reports whether Close has run
func (t *transport) Closed() bool {
	return t.closed.Load()
}

func (t *transport) writePump() {
	for {
		select {
		case <-t.done:
			return
		case msg := <-t.send:
			_ = t.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := t.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				t.logger.WithError(err).Debug("WebSocket write failed")
				_ = t.Close(hub.CloseGoingAway, "write failed")
				return
			}
		}
	}
}
