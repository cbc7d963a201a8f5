package protect

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

// Stream is an open updates websocket. Next must be called from a single
// goroutine; Ping and Close are safe to call concurrently with it.
type Stream interface {
	// Next blocks until the next binary packet arrives. Text frames are skipped.
	Next() (*Packet, error)
	// Ping sends a websocket ping
	Ping() error
	// SetReadTimeout arms a read deadline of d that every read and every pong
	// pushes forward. Zero disables it.
	SetReadTimeout(d time.Duration)
	Close() error
}

type updateStream struct {
	conn        *websocket.Conn
	readTimeout atomic.Int64
	closeOnce   sync.Once
	closeErr    error
}

func newUpdateStream(conn *websocket.Conn) *updateStream {
	s := &updateStream{conn: conn}
	conn.SetPongHandler(func(string) error {
		s.extendDeadline()
		return nil
	})
	return s
}

func (s *updateStream) SetReadTimeout(d time.Duration) {
	s.readTimeout.Store(int64(d))
	s.extendDeadline()
}

func (s *updateStream) extendDeadline() {
	if d := time.Duration(s.readTimeout.Load()); d > 0 {
		_ = s.conn.SetReadDeadline(time.Now().Add(d))
	}
}

func (s *updateStream) Next() (*Packet, error) {
	for {
		s.extendDeadline()
		mt, data, err := s.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if mt != websocket.BinaryMessage {
			continue
		}
		return DecodePacket(data)
	}
}

func (s *updateStream) Ping() error {
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

func (s *updateStream) Close() error {
	s.closeOnce.Do(func() {
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}
