package testutil

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketTestClient is a downstream client for end-to-end tests. A read
// pump decodes every JSON frame; the first read error ends the pump.
type WebSocketTestClient struct {
	conn     *websocket.Conn
	messages chan map[string]interface{}
	done     chan struct{}

	mu       sync.Mutex
	writeMu  sync.Mutex
	readErr  error
	closeErr *websocket.CloseError
}

// WebSocketURL turns an http(s) test server URL into a ws(s) one
func WebSocketURL(serverURL, path string) string {
	u := strings.Replace(serverURL, "http://", "ws://", 1)
	u = strings.Replace(u, "https://", "wss://", 1)
	return u + path
}

// NewWebSocketTestClient connects to serverURL, sending token as a bearer
// header when non-empty
func NewWebSocketTestClient(serverURL string, token string) (*WebSocketTestClient, error) {
	headers := http.Header{}
	if token != "" {
		headers.Set("Authorization", "Bearer "+token)
	}

	conn, resp, err := websocket.DefaultDialer.Dial(serverURL, headers)
	if resp != nil {
		defer func() {
			_ = resp.Body.Close()
		}()
	}
	if err != nil {
		return nil, err
	}

	client := &WebSocketTestClient{
		conn:     conn,
		messages: make(chan map[string]interface{}, 64),
		done:     make(chan struct{}),
	}
	go client.readPump()
	return client, nil
}

// SendMessage writes one JSON frame
func (c *WebSocketTestClient) SendMessage(message interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(message)
}

// ReadMessageTimeout returns the next frame, or an error once the
// connection has ended or timeout elapses
func (c *WebSocketTestClient) ReadMessageTimeout(timeout time.Duration) (map[string]interface{}, error) {
	select {
	case msg, ok := <-c.messages:
		if !ok {
			return nil, c.err()
		}
		return msg, nil
	case <-time.After(timeout):
		return nil, context.DeadlineExceeded
	}
}

// ReadType skips frames until one with the given type arrives
func (c *WebSocketTestClient) ReadType(msgType string, timeout time.Duration) (map[string]interface{}, error) {
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, fmt.Errorf("no %q frame: %w", msgType, context.DeadlineExceeded)
		}
		msg, err := c.ReadMessageTimeout(remaining)
		if err != nil {
			return nil, err
		}
		if msg["type"] == msgType {
			return msg, nil
		}
	}
}

// WaitClosed blocks until the server closes the connection and returns the
// close frame it sent, if any
func (c *WebSocketTestClient) WaitClosed(timeout time.Duration) (*websocket.CloseError, error) {
	select {
	case <-c.done:
	case <-time.After(timeout):
		return nil, context.DeadlineExceeded
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeErr, nil
}

// Close closes the client connection
func (c *WebSocketTestClient) Close() error {
	return c.conn.Close()
}

func (c *WebSocketTestClient) err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readErr
}

func (c *WebSocketTestClient) readPump() {
	defer close(c.done)
	defer close(c.messages)

	for {
		var message map[string]interface{}
		if err := c.conn.ReadJSON(&message); err != nil {
			c.mu.Lock()
			c.readErr = err
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				c.closeErr = ce
			}
			c.mu.Unlock()
			return
		}
		select {
		case c.messages <- message:
		default:
			// Channel full, drop message
		}
	}
}
