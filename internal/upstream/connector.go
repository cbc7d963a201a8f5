package upstream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/davidcastilloc/unify-protect-events-extension-sub000/internal/metrics"
	"github.com/davidcastilloc/unify-protect-events-extension-sub000/internal/protect"
	"github.com/davidcastilloc/unify-protect-events-extension-sub000/pkg/logging"
	"github.com/davidcastilloc/unify-protect-events-extension-sub000/pkg/models"
)

// ErrUpstreamUnavailable wraps every login, bootstrap and network failure
// talking to the camera console
var ErrUpstreamUnavailable = errors.New("upstream unavailable")

// State is the connection state of the connector
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
)

var allStates = []string{string(StateDisconnected), string(StateConnecting), string(StateConnected)}

// Source is the camera console as seen by the connector
type Source interface {
	Login(ctx context.Context) error
	Bootstrap(ctx context.Context) (*protect.Bootstrap, error)
	Updates(ctx context.Context, lastUpdateID string) (protect.Stream, error)
}

// Config tunes the connector
type Config struct {
	HeartbeatInterval time.Duration
	ReconnectInitial  time.Duration
	ReconnectMax      time.Duration

	SyntheticInterval time.Duration
	// SyntheticConnectedFactor stretches the synthetic interval while connected
	SyntheticConnectedFactor int

	// Cameras is the static fallback list; nil uses the built-in defaults
	Cameras        []models.Camera
	CameraCacheTTL time.Duration
}

// DefaultConfig returns the connector defaults
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval:        30 * time.Second,
		ReconnectInitial:         2 * time.Second,
		ReconnectMax:             60 * time.Second,
		SyntheticInterval:        30 * time.Second,
		SyntheticConnectedFactor: 4,
		CameraCacheTTL:           5 * time.Minute,
	}
}

// Connector keeps a session with the camera console, turns its updates into
// events and hands them to a single subscriber. A synthetic stream runs
// alongside the real one for as long as the connector is started.
type Connector struct {
	source  Source
	cfg     Config
	logger  logging.Logger
	metrics *metrics.Metrics
	backoff *Backoff
	sim     *Simulator
	cameras *cameraCatalog

	mu           sync.RWMutex
	state        State
	callback     func(models.Event)
	stream       protect.Stream
	lastUpdateID string

	lifecycle sync.Mutex
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewConnector creates a connector for source
func NewConnector(source Source, cfg Config, logger logging.Logger, m *metrics.Metrics) *Connector {
	def := DefaultConfig()
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = def.HeartbeatInterval
	}
	if cfg.ReconnectInitial <= 0 {
		cfg.ReconnectInitial = def.ReconnectInitial
	}
	if cfg.ReconnectMax <= 0 {
		cfg.ReconnectMax = def.ReconnectMax
	}
	if cfg.SyntheticInterval <= 0 {
		cfg.SyntheticInterval = def.SyntheticInterval
	}
	if cfg.SyntheticConnectedFactor < 1 {
		cfg.SyntheticConnectedFactor = 1
	}
	if cfg.CameraCacheTTL <= 0 {
		cfg.CameraCacheTTL = def.CameraCacheTTL
	}
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}

	c := &Connector{
		source:  source,
		cfg:     cfg,
		logger:  logger,
		metrics: m,
		backoff: NewBackoff(cfg.ReconnectInitial, cfg.ReconnectMax),
		sim:     NewSimulator(time.Now().UnixNano()),
		state:   StateDisconnected,
	}
	c.cameras = newCameraCatalog(cfg.CameraCacheTTL, cfg.Cameras, c.fetchCameras, m.CacheHooks(), logger)
	c.metrics.SetUpstreamState(string(StateDisconnected), allStates)
	return c
}

// Subscribe registers the event callback, replacing any previous one. The
// callback runs on the connector's goroutines and must not block.
func (c *Connector) Subscribe(cb func(models.Event)) {
	c.mu.Lock()
	c.callback = cb
	c.mu.Unlock()
}

// State reports the current connection state
func (c *Connector) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Connector) setState(s State) {
	c.mu.Lock()
	prev := c.state
	c.state = s
	c.mu.Unlock()
	if prev != s {
		c.metrics.SetUpstreamState(string(s), allStates)
		c.logger.WithFields(logging.Fields{"from": prev, "to": s}).Debug("Upstream state changed")
	}
}

// Connect makes one attempt to log in, fetch the bootstrap and open the
// updates stream. Failures are wrapped in ErrUpstreamUnavailable.
func (c *Connector) Connect(ctx context.Context) error {
	c.setState(StateConnecting)

	stream, err := c.connect(ctx)
	if err != nil {
		c.setState(StateDisconnected)
		c.metrics.ConnectAttempt(false)
		return fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	stream.SetReadTimeout(2 * c.cfg.HeartbeatInterval)

	c.mu.Lock()
	old := c.stream
	c.stream = stream
	c.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}

	c.backoff.Reset()
	c.setState(StateConnected)
	c.metrics.ConnectAttempt(true)
	return nil
}

func (c *Connector) connect(ctx context.Context) (protect.Stream, error) {
	if err := c.source.Login(ctx); err != nil {
		return nil, err
	}
	b, err := c.source.Bootstrap(ctx)
	if err != nil {
		return nil, err
	}
	c.cameras.Store(camerasFromBootstrap(b))

	c.mu.Lock()
	cursor := c.lastUpdateID
	if b.LastUpdateID != "" {
		cursor = b.LastUpdateID
		c.lastUpdateID = cursor
	}
	c.mu.Unlock()

	return c.source.Updates(ctx, cursor)
}

// Start launches the supervising loop and the synthetic generator. It
// returns immediately; upstream failures never surface to the caller.
// Calling Start on a running connector is a no-op.
func (c *Connector) Start(ctx context.Context) {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()
	if c.cancel != nil {
		return
	}
	ctx, c.cancel = context.WithCancel(ctx)

	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		c.supervise(ctx)
	}()
	go func() {
		defer c.wg.Done()
		c.synthesize(ctx)
	}()
	c.logger.Info("Upstream connector started")
}

// Disconnect stops the supervising loop, heartbeat, backoff wait and
// synthetic generator, then closes the stream. Safe to call repeatedly.
func (c *Connector) Disconnect() {
	c.lifecycle.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.lifecycle.Unlock()

	if cancel != nil {
		cancel()
	}
	c.wg.Wait()

	c.mu.Lock()
	stream := c.stream
	c.stream = nil
	c.mu.Unlock()
	if stream != nil {
		_ = stream.Close()
	}
	c.setState(StateDisconnected)
}

// GetCameras returns the camera list, falling back to the last good list
// and then to the static list
func (c *Connector) GetCameras(ctx context.Context) []models.Camera {
	return c.cameras.List(ctx)
}

// CameraCache reports the state of the cached camera list
func (c *Connector) CameraCache() CameraCacheInfo {
	return c.cameras.Info()
}

func (c *Connector) fetchCameras(ctx context.Context) ([]models.Camera, error) {
	b, err := c.source.Bootstrap(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	return camerasFromBootstrap(b), nil
}

func (c *Connector) supervise(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if err := c.Connect(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			delay := c.backoff.Next()
			c.logger.WithError(err).WithField("retry_in", delay.String()).Warn("Upstream connect failed")
			if !sleep(ctx, delay) {
				return
			}
			continue
		}
		c.logger.Info("Connected to upstream")

		c.mu.RLock()
		stream := c.stream
		c.mu.RUnlock()

		err := c.consume(ctx, stream)
		_ = stream.Close()
		c.setState(StateDisconnected)
		if ctx.Err() != nil {
			return
		}

		delay := c.backoff.Next()
		c.logger.WithError(err).WithField("retry_in", delay.String()).Warn("Upstream stream lost")
		if !sleep(ctx, delay) {
			return
		}
	}
}

// consume reads the stream until it fails, pinging every heartbeat interval.
// A failed ping or cancelled ctx closes the stream, which ends the read. The
// heartbeat has exited by the time consume returns.
func (c *Connector) consume(ctx context.Context, stream protect.Stream) error {
	done := make(chan struct{})
	var heartbeat sync.WaitGroup
	heartbeat.Add(1)
	defer heartbeat.Wait()
	defer close(done)
	go func() {
		defer heartbeat.Done()
		ticker := time.NewTicker(c.cfg.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				_ = stream.Close()
				return
			case <-done:
				return
			case <-ticker.C:
				if err := stream.Ping(); err != nil {
					_ = stream.Close()
					if ctx.Err() == nil {
						c.logger.WithError(err).Warn("Upstream heartbeat failed")
					}
					return
				}
			}
		}
	}()

	for {
		pkt, err := stream.Next()
		if err != nil {
			if errors.Is(err, protect.ErrMalformedPacket) {
				c.logger.WithError(err).Debug("Skipping malformed upstream packet")
				continue
			}
			return err
		}
		c.handlePacket(pkt)
	}
}

func (c *Connector) handlePacket(pkt *protect.Packet) {
	if id := pkt.NewUpdateID(); id != "" {
		c.mu.Lock()
		c.lastUpdateID = id
		c.mu.Unlock()
	}
	evt, ok := Normalize(pkt, c.cameras.Lookup, time.Now())
	if !ok {
		return
	}
	c.emit(evt, models.SourceProtect)
}

func (c *Connector) synthesize(ctx context.Context) {
	for {
		interval := c.cfg.SyntheticInterval
		if c.State() == StateConnected {
			interval *= time.Duration(c.cfg.SyntheticConnectedFactor)
		}
		if !sleep(ctx, interval) {
			return
		}
		c.emit(c.sim.Next(c.cameras.Known()), models.SourceSimulator)
	}
}

func (c *Connector) emit(evt models.Event, source string) {
	c.metrics.Received(source, string(evt.Type))

	c.mu.RLock()
	cb := c.callback
	c.mu.RUnlock()
	if cb == nil {
		return
	}
	cb(evt)
}

// sleep waits for d or until ctx is done, reporting whether the wait completed
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
