package websocket

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/davidcastilloc/unify-protect-events-extension-sub000/pkg/models"
)

// Message types on the downstream socket
const (
	TypeConnected      = "connected"
	TypeEvent          = "event"
	TypePing           = "ping"
	TypePong           = "pong"
	TypeUpdateFilters  = "update_filters"
	TypeFiltersUpdated = "filters_updated"
	TypeAuth           = "auth"
	TypeError          = "error"
)

var (
	ErrMalformedMessage = errors.New("malformed message")
	ErrInvalidFilter    = errors.New("invalid filter")
)

// InboundMessage is any frame a client may send
type InboundMessage struct {
	Type    string         `json:"type"`
	Token   string         `json:"token,omitempty"`
	Filters *models.Filter `json:"filters,omitempty"`
}

// ConnectedMessage confirms a completed handshake
type ConnectedMessage struct {
	Type      string    `json:"type"`
	ClientID  string    `json:"clientId"`
	Timestamp time.Time `json:"timestamp"`
}

// PongMessage answers an application-level ping
type PongMessage struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

// FiltersUpdatedMessage acknowledges a filter replacement
type FiltersUpdatedMessage struct {
	Type    string        `json:"type"`
	Filters models.Filter `json:"filters"`
}

// ErrorMessage reports a rejected control message
type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ParseInbound decodes a client frame. Frames that are not a JSON object with
// a type field yield ErrMalformedMessage.
func ParseInbound(data []byte) (InboundMessage, error) {
	var msg InboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return InboundMessage{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if msg.Type == "" {
		return InboundMessage{}, fmt.Errorf("%w: missing type", ErrMalformedMessage)
	}
	return msg, nil
}

// ValidateFilter rejects filters naming unknown event types or severities.
// Camera ids are opaque and pass through.
func ValidateFilter(f models.Filter) error {
	for _, t := range f.Types {
		if !t.Valid() {
			return fmt.Errorf("%w: unknown event type %q", ErrInvalidFilter, t)
		}
	}
	for _, s := range f.Severity {
		if !s.Valid() {
			return fmt.Errorf("%w: unknown severity %q", ErrInvalidFilter, s)
		}
	}
	return nil
}
