package hub

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/davidcastilloc/unify-protect-events-extension-sub000/internal/metrics"
	"github.com/davidcastilloc/unify-protect-events-extension-sub000/pkg/logging"
	"github.com/davidcastilloc/unify-protect-events-extension-sub000/pkg/models"
)

// Websocket close codes used when the relay ends a connection
const (
	CloseNormal        = 1000
	CloseGoingAway     = 1001
	CloseTooLarge      = 1009
	CloseAuthFailed    = 4001
	CloseHandshakeTime = 4002
	CloseIdleTimeout   = 4003
	CloseReplaced      = 4004
)

// Eviction reasons, as recorded in metrics and logs
const (
	ReasonClosed   = "closed"
	ReasonIdle     = "idle"
	ReasonReplaced = "replaced"
	ReasonSend     = "send_failed"
	ReasonPing     = "ping_failed"
	ReasonRemoved  = "removed"
)

var (
	ErrClientNotFound  = errors.New("client not registered")
	ErrTransportClosed = errors.New("transport closed")
	ErrSendBufferFull  = errors.New("send buffer full")
)

// Transport is the registry's view of a client connection. Send must not
// block; Ping and Close may be called from any goroutine.
type Transport interface {
	Send(msg []byte) error
	Ping() error
	Close(code int, reason string) error
	Closed() bool
}

// Client is one registered connection
type Client struct {
	ID          string
	ConnectedAt time.Time

	transport Transport

	mu         sync.Mutex
	filter     models.Filter
	lastActive time.Time
}

// Filter returns a copy of the client's current filter
func (c *Client) Filter() models.Filter {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.filter.Clone()
}

// LastActive returns when the client last showed activity
func (c *Client) LastActive() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActive
}

// Transport returns the connection handle
func (c *Client) Transport() Transport {
	return c.transport
}

func (c *Client) matches(evt models.Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Matches(c.filter, evt)
}

func (c *Client) touch(now time.Time) {
	c.mu.Lock()
	if now.After(c.lastActive) {
		c.lastActive = now
	}
	c.mu.Unlock()
}

// ClientInfo is a point-in-time view of a client for stats
type ClientInfo struct {
	ID          string        `json:"id"`
	ConnectedAt time.Time     `json:"connected_at"`
	LastActive  time.Time     `json:"last_active"`
	Filter      models.Filter `json:"filter"`
}

// SweepResult summarizes one liveness sweep
type SweepResult struct {
	Closed int
	Idle   int
	Pinged int
	Failed int
}

// Registry maps client ids to live connections and fans events out to them
type Registry struct {
	mu      sync.RWMutex
	clients map[string]*Client

	statsMu     sync.Mutex
	eventCounts map[models.EventType]uint64
	delivered   uint64

	logger  logging.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewRegistry creates an empty registry. m may be nil.
func NewRegistry(logger logging.Logger, m *metrics.Metrics) *Registry {
	return &Registry{
		clients:     make(map[string]*Client),
		eventCounts: make(map[models.EventType]uint64),
		logger:      logger,
		metrics:     m,
		now:         time.Now,
	}
}

// Add registers transport under id with the default filter. A client already
// registered under id is closed with CloseReplaced.
func (r *Registry) Add(id string, t Transport) *Client {
	now := r.now()
	c := &Client{
		ID:          id,
		ConnectedAt: now,
		transport:   t,
		filter:      models.DefaultFilter(),
		lastActive:  now,
	}

	r.mu.Lock()
	prev := r.clients[id]
	r.clients[id] = c
	count := len(r.clients)
	r.mu.Unlock()

	r.metrics.SetClients(count)
	if prev != nil {
		_ = prev.transport.Close(CloseReplaced, "replaced by new connection")
		r.metrics.Evicted(ReasonReplaced)
		r.logger.WithField("client_id", id).Info("Replaced existing client connection")
	}

	r.logger.WithFields(logging.Fields{
		"client_id":    id,
		"client_count": count,
	}).Info("Client connected")
	return c
}

// Remove unregisters id and closes its transport. Removing an unknown id is a no-op.
func (r *Registry) Remove(id string) {
	r.mu.RLock()
	c := r.clients[id]
	r.mu.RUnlock()
	if c != nil {
		r.evict(c, CloseNormal, "", ReasonRemoved)
	}
}

// Release unregisters c only if it is still the entry for its id. Connection
// handlers call this on exit so a replaced connection cannot remove its successor.
func (r *Registry) Release(c *Client) bool {
	return r.evict(c, 0, "", ReasonClosed)
}

// evict removes c if it is still registered and closes its transport with
// code. A zero code leaves the transport alone.
func (r *Registry) evict(c *Client, code int, reason, metricReason string) bool {
	r.mu.Lock()
	current, ok := r.clients[c.ID]
	if !ok || current != c {
		r.mu.Unlock()
		return false
	}
	delete(r.clients, c.ID)
	count := len(r.clients)
	r.mu.Unlock()

	if code != 0 && !c.transport.Closed() {
		_ = c.transport.Close(code, reason)
	}

	r.metrics.SetClients(count)
	r.metrics.Evicted(metricReason)
	r.logger.WithFields(logging.Fields{
		"client_id":    c.ID,
		"reason":       metricReason,
		"client_count": count,
	}).Info("Client disconnected")
	return true
}

// Get returns the client registered under id
func (r *Registry) Get(id string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[id]
	return c, ok
}

// UpdateFilter replaces the client's filter wholesale and refreshes its activity
func (r *Registry) UpdateFilter(id string, f models.Filter) error {
	c, ok := r.Get(id)
	if !ok {
		return fmt.Errorf("update filter for %s: %w", id, ErrClientNotFound)
	}
	now := r.now()
	c.mu.Lock()
	c.filter = f.Clone()
	if now.After(c.lastActive) {
		c.lastActive = now
	}
	c.mu.Unlock()
	return nil
}

// Touch records activity for id
func (r *Registry) Touch(id string) {
	if c, ok := r.Get(id); ok {
		c.touch(r.now())
	}
}

// Count returns the number of registered clients
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

func (r *Registry) snapshot() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		out = append(out, c)
	}
	return out
}

type eventFrame struct {
	Type string       `json:"type"`
	Data models.Event `json:"data"`
}

// EncodeEvent serializes the downstream event frame
func EncodeEvent(evt models.Event) ([]byte, error) {
	return json.Marshal(eventFrame{Type: "event", Data: evt})
}

// Broadcast sends evt to every client whose filter matches and returns how
// many accepted it. Clients whose transport rejects the frame are evicted.
func (r *Registry) Broadcast(evt models.Event) int {
	msg, err := EncodeEvent(evt)
	if err != nil {
		r.logger.WithError(err).WithField("event_id", evt.ID).Error("Failed to marshal event")
		return 0
	}

	r.statsMu.Lock()
	r.eventCounts[evt.Type]++
	r.statsMu.Unlock()

	delivered := 0
	for _, c := range r.snapshot() {
		if !c.matches(evt) {
			continue
		}
		if err := c.transport.Send(msg); err != nil {
			r.logger.WithError(err).WithField("client_id", c.ID).Warn("Dropping client after failed send")
			r.evict(c, CloseGoingAway, "send failed", ReasonSend)
			continue
		}
		delivered++
	}

	r.statsMu.Lock()
	r.delivered += uint64(delivered)
	r.statsMu.Unlock()
	r.metrics.Delivered(string(evt.Type), delivered)

	r.logger.WithFields(logging.Fields{
		"event_id":   evt.ID,
		"event_type": evt.Type,
		"delivered":  delivered,
	}).Debug("Broadcast event")
	return delivered
}

// Sweep evicts clients whose transport has closed or that have been idle for
// longer than idleTimeout, and pings the rest.
func (r *Registry) Sweep(now time.Time, idleTimeout time.Duration) SweepResult {
	var res SweepResult
	for _, c := range r.snapshot() {
		switch {
		case c.transport.Closed():
			if r.evict(c, 0, "", ReasonClosed) {
				res.Closed++
			}
		case now.Sub(c.LastActive()) > idleTimeout:
			if r.evict(c, CloseIdleTimeout, "idle timeout", ReasonIdle) {
				res.Idle++
			}
		default:
			if err := c.transport.Ping(); err != nil {
				if r.evict(c, CloseGoingAway, "ping failed", ReasonPing) {
					res.Failed++
				}
				continue
			}
			res.Pinged++
		}
	}
	return res
}

// CloseAll evicts every client with code, used on shutdown
func (r *Registry) CloseAll(code int, reason string) int {
	n := 0
	for _, c := range r.snapshot() {
		if r.evict(c, code, reason, ReasonRemoved) {
			n++
		}
	}
	return n
}

// Snapshot returns a view of every registered client
func (r *Registry) Snapshot() []ClientInfo {
	clients := r.snapshot()
	out := make([]ClientInfo, 0, len(clients))
	for _, c := range clients {
		c.mu.Lock()
		out = append(out, ClientInfo{
			ID:          c.ID,
			ConnectedAt: c.ConnectedAt,
			LastActive:  c.lastActive,
			Filter:      c.filter.Clone(),
		})
		c.mu.Unlock()
	}
	return out
}

// Stats returns hub statistics for the health endpoint
func (r *Registry) Stats() map[string]interface{} {
	r.statsMu.Lock()
	perType := make(map[string]uint64, len(r.eventCounts))
	for t, n := range r.eventCounts {
		perType[string(t)] = n
	}
	delivered := r.delivered
	r.statsMu.Unlock()

	return map[string]interface{}{
		"total_clients":    r.Count(),
		"events_by_type":   perType,
		"events_delivered": delivered,
	}
}
