package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/davidcastilloc/unify-protect-events-extension-sub000/internal/hub"
	"github.com/davidcastilloc/unify-protect-events-extension-sub000/internal/metrics"
	"github.com/davidcastilloc/unify-protect-events-extension-sub000/pkg/auth"
	"github.com/davidcastilloc/unify-protect-events-extension-sub000/pkg/logging"
	"github.com/davidcastilloc/unify-protect-events-extension-sub000/pkg/models"
)

// TokenVerifier resolves a client token to its client id
type TokenVerifier interface {
	Verify(token string) (string, error)
}

// Config tunes downstream connections
type Config struct {
	IdleTimeout      time.Duration
	PingInterval     time.Duration
	HandshakeTimeout time.Duration
	MaxMessageSize   int64
	SendBuffer       int
}

// DefaultConfig returns the stock connection settings
func DefaultConfig() Config {
	return Config{
		IdleTimeout:      90 * time.Second,
		PingInterval:     30 * time.Second,
		HandshakeTimeout: 90 * time.Second,
		MaxMessageSize:   64 * 1024,
		SendBuffer:       256,
	}
}

// Manager accepts downstream websocket connections, authenticates them and
// bridges their control messages into the registry.
type Manager struct {
	registry *hub.Registry
	verifier TokenVerifier
	cfg      Config
	logger   logging.Logger
	metrics  *metrics.Metrics
	upgrader websocket.Upgrader
	now      func() time.Time
}

// NewManager creates a connection manager. Non-positive settings take their
// DefaultConfig value. m may be nil.
func NewManager(registry *hub.Registry, verifier TokenVerifier, cfg Config, logger logging.Logger, m *metrics.Metrics) *Manager {
	def := DefaultConfig()
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = def.IdleTimeout
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = def.PingInterval
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = def.HandshakeTimeout
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = def.MaxMessageSize
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = def.SendBuffer
	}
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}

	return &Manager{
		registry: registry,
		verifier: verifier,
		cfg:      cfg,
		logger:   logger,
		metrics:  m,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Extension origins are chrome-extension://<id>; the token is the gate.
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		now: time.Now,
	}
}

// Run drives the liveness sweep until ctx is cancelled, then closes every
// registered client.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			n := m.registry.CloseAll(hub.CloseGoingAway, "server shutting down")
			m.logger.WithField("clients", n).Info("Closed downstream clients")
			return
		case now := <-ticker.C:
			res := m.registry.Sweep(now, m.cfg.IdleTimeout)
			if res.Closed+res.Idle+res.Failed > 0 {
				m.logger.WithFields(logging.Fields{
					"closed":  res.Closed,
					"idle":    res.Idle,
					"failed":  res.Failed,
					"pinged":  res.Pinged,
					"clients": m.registry.Count(),
				}).Info("Liveness sweep evicted clients")
			}
		}
	}
}

// ServeWS upgrades the request and services the connection until it closes
func (m *Manager) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.logger.WithError(err).Warn("Failed to upgrade WebSocket connection")
		return
	}

	token, _ := auth.TokenFromRequest(r)
	sess := &session{
		manager: m,
		conn:    conn,
		log:     m.logger.WithField("remote_addr", r.RemoteAddr),
	}
	sess.transport = newTransport(conn, m.cfg.SendBuffer, sess.log)
	sess.serve(token)
}

// Handshake states. A session leaves pending exactly once, either by
// authenticating or by the handshake timer firing.
const (
	handshakePending int32 = iota
	handshakeDone
	handshakeExpired
)

// session is one connection from upgrade to close
type session struct {
	manager   *Manager
	conn      *websocket.Conn
	transport *transport
	client    *hub.Client
	handshake atomic.Int32
	log       logging.Entry
}

func (s *session) authed() bool {
	return s.handshake.Load() == handshakeDone
}

func (s *session) serve(token string) {
	m := s.manager
	defer func() {
		if s.client != nil {
			m.registry.Release(s.client)
		}
		_ = s.transport.Close(hub.CloseNormal, "")
	}()

	s.conn.SetReadLimit(m.cfg.MaxMessageSize)
	s.extendDeadline()
	s.conn.SetPongHandler(func(string) error {
		s.extendDeadline()
		if s.client != nil {
			m.registry.Touch(s.client.ID)
		}
		return nil
	})

	handshake := time.AfterFunc(m.cfg.HandshakeTimeout, func() {
		if s.handshake.CompareAndSwap(handshakePending, handshakeExpired) {
			s.log.Warn("Handshake timed out")
			_ = s.transport.Close(hub.CloseHandshakeTime, "handshake timeout")
		}
	})
	defer handshake.Stop()

	if token != "" {
		if !s.authenticate(token) {
			return
		}
		handshake.Stop()
	}

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.readFailed(err)
			return
		}
		s.extendDeadline()

		msg, err := ParseInbound(data)
		if err != nil {
			s.log.WithError(err).Warn("Ignoring malformed client message")
			continue
		}

		if !s.authed() {
			if msg.Type != TypeAuth {
				s.log.WithField("type", msg.Type).Debug("Ignoring message before authentication")
				continue
			}
			if !s.authenticate(msg.Token) {
				return
			}
			handshake.Stop()
			continue
		}

		s.handle(msg)
	}
}

// extendDeadline bounds a silent read well past the idle timeout, so the
// sweep rather than the deadline decides idleness.
func (s *session) extendDeadline() {
	cfg := s.manager.cfg
	_ = s.conn.SetReadDeadline(time.Now().Add(2*cfg.IdleTimeout + cfg.PingInterval))
}

func (s *session) authenticate(token string) bool {
	m := s.manager
	clientID, err := m.verifier.Verify(token)
	if err != nil {
		s.log.WithError(err).Warn("Rejected client token")
		_ = s.transport.Close(hub.CloseAuthFailed, "authentication failed")
		return false
	}
	if !s.handshake.CompareAndSwap(handshakePending, handshakeDone) {
		s.log.Debug("Token verified after handshake expired")
		return false
	}

	// Queue the greeting before registering so it precedes any event frame.
	if err := s.send(ConnectedMessage{Type: TypeConnected, ClientID: clientID, Timestamp: m.now().UTC()}); err != nil {
		s.log.WithError(err).Warn("Failed to send greeting")
		return false
	}

	s.client = m.registry.Add(clientID, s.transport)
	s.log = s.log.WithField("client_id", clientID)
	return true
}

func (s *session) handle(msg InboundMessage) {
	m := s.manager

	switch msg.Type {
	case TypePing:
		m.metrics.Control(msg.Type)
		m.registry.Touch(s.client.ID)
		s.reply(PongMessage{Type: TypePong, Timestamp: m.now().UTC()})

	case TypeUpdateFilters:
		m.metrics.Control(msg.Type)
		f := models.DefaultFilter()
		if msg.Filters != nil {
			f = *msg.Filters
		}
		if err := ValidateFilter(f); err != nil {
			s.log.WithError(err).Warn("Rejected filter update")
			s.reply(ErrorMessage{Type: TypeError, Message: err.Error()})
			return
		}
		if err := m.registry.UpdateFilter(s.client.ID, f); err != nil {
			s.log.WithError(err).Warn("Filter update for unregistered client")
			return
		}
		s.log.WithFields(logging.Fields{
			"enabled":  f.Enabled,
			"types":    f.Types,
			"severity": f.Severity,
			"cameras":  f.Cameras,
		}).Info("Client filters updated")
		s.reply(FiltersUpdatedMessage{Type: TypeFiltersUpdated, Filters: f})

	case TypeAuth:
		s.log.Debug("Ignoring auth message on authenticated connection")

	default:
		m.metrics.Control("unknown")
		s.log.WithField("type", msg.Type).Warn("Ignoring unknown message type")
	}
}

func (s *session) send(v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.transport.Send(b)
}

func (s *session) reply(v interface{}) {
	if err := s.send(v); err != nil {
		s.log.WithError(err).Warn("Failed to queue reply")
	}
}

func (s *session) readFailed(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		s.log.Warn("Client message exceeded size limit")
		_ = s.transport.Close(hub.CloseTooLarge, "message too big")
	case s.transport.Closed():
		// Closed by us: handshake timeout, eviction or replacement.
	case websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
		s.log.WithError(err).Warn("WebSocket connection error")
	default:
		s.log.WithError(err).Debug("WebSocket connection closed")
	}
}
