package main

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/davidcastilloc/unify-protect-events-extension-sub000/internal/config"
	"github.com/davidcastilloc/unify-protect-events-extension-sub000/internal/handlers"
	"github.com/davidcastilloc/unify-protect-events-extension-sub000/internal/hub"
	"github.com/davidcastilloc/unify-protect-events-extension-sub000/internal/metrics"
	"github.com/davidcastilloc/unify-protect-events-extension-sub000/internal/protect"
	"github.com/davidcastilloc/unify-protect-events-extension-sub000/internal/upstream"
	"github.com/davidcastilloc/unify-protect-events-extension-sub000/internal/websocket"
	"github.com/davidcastilloc/unify-protect-events-extension-sub000/pkg/auth"
	"github.com/davidcastilloc/unify-protect-events-extension-sub000/pkg/clients"
	"github.com/davidcastilloc/unify-protect-events-extension-sub000/pkg/logging"
	"github.com/davidcastilloc/unify-protect-events-extension-sub000/pkg/middleware"
	"github.com/davidcastilloc/unify-protect-events-extension-sub000/pkg/models"
	"github.com/davidcastilloc/unify-protect-events-extension-sub000/pkg/monitoring"
	"github.com/davidcastilloc/unify-protect-events-extension-sub000/pkg/server"
	"github.com/davidcastilloc/unify-protect-events-extension-sub000/pkg/version"
)

// relay is the assembled process: registry, socket manager, upstream
// connector and the HTTP surface in front of them.
type relay struct {
	cfg       config.Config
	logger    logging.Logger
	registry  *hub.Registry
	manager   *websocket.Manager
	connector *upstream.Connector
	limiter   *middleware.RateLimiter
	router    *gin.Engine
}

func newRelay(cfg config.Config, logger logging.Logger, hc *monitoring.HealthChecker, mc *monitoring.MetricsCollector) (*relay, error) {
	m := metrics.New(mc)

	issuer, err := auth.NewIssuer([]byte(cfg.JWTSecret), cfg.TokenTTL)
	if err != nil {
		return nil, fmt.Errorf("token issuer: %w", err)
	}

	var static []models.Camera
	if cfg.Upstream.CamerasFile != "" {
		static, err = upstream.LoadCamerasFile(cfg.Upstream.CamerasFile)
		if err != nil {
			return nil, err
		}
	}

	console, err := protect.NewClient(protect.Config{
		BaseURL:  cfg.Protect.BaseURL(),
		Username: cfg.Protect.Username,
		Password: cfg.Protect.Password,
		TLS:      clients.TLSConfig(cfg.Protect.VerifyTLS),
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("console client: %w", err)
	}

	registry := hub.NewRegistry(logger, m)
	connector := upstream.NewConnector(console, upstream.Config{
		HeartbeatInterval:        cfg.Upstream.HeartbeatInterval,
		ReconnectInitial:         cfg.Upstream.ReconnectInitial,
		ReconnectMax:             cfg.Upstream.ReconnectMax,
		SyntheticInterval:        cfg.Upstream.SyntheticInterval,
		SyntheticConnectedFactor: cfg.Upstream.SyntheticConnectedFactor,
		Cameras:                  static,
		CameraCacheTTL:           cfg.Upstream.CameraCacheTTL,
	}, logger, m)
	connector.Subscribe(func(evt models.Event) {
		n := registry.Broadcast(evt)
		logger.WithFields(logging.Fields{
			"event_id":  evt.ID,
			"type":      evt.Type,
			"simulated": evt.Simulated(),
			"delivered": n,
		}).Debug("Broadcast event")
	})

	manager := websocket.NewManager(registry, issuer, websocket.Config{
		IdleTimeout:      cfg.Socket.IdleTimeout,
		PingInterval:     cfg.Socket.PingInterval,
		HandshakeTimeout: cfg.Socket.HandshakeTimeout,
		MaxMessageSize:   cfg.Socket.MaxMessageSize,
		SendBuffer:       cfg.Socket.SendBuffer,
	}, logger, m)

	limiter := middleware.NewRateLimiter(cfg.TokenRateLimit, cfg.TokenRateBurst, logger)

	relayHandlers := handlers.NewRelayHandlers(issuer, connector, manager, registry, logger, m)
	relayHandlers.RegisterHealth(hc)
	hc.AddCheck("config", monitoring.ConfigurationHealthCheck(map[string]string{
		"JWT_SECRET":   cfg.JWTSecret,
		"PROTECT_HOST": cfg.Protect.Host,
	}))

	router := server.SetupServiceRouter(logger, version.ServiceName, hc, mc)
	relayHandlers.RegisterRoutes(router, limiter)

	return &relay{
		cfg:       cfg,
		logger:    logger,
		registry:  registry,
		manager:   manager,
		connector: connector,
		limiter:   limiter,
		router:    router,
	}, nil
}

// run serves until ctx is cancelled or the HTTP server fails, then tears
// everything down: the upstream connector, every client and the limiter.
func (r *relay) run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	go r.limiter.Start()
	defer r.limiter.Stop()

	r.connector.Start(gctx)

	g.Go(func() error {
		<-gctx.Done()
		r.connector.Disconnect()
		r.logger.Info("Upstream connector stopped")
		return nil
	})
	g.Go(func() error {
		r.manager.Run(gctx)
		return nil
	})
	g.Go(func() error {
		serverConfig := server.DefaultConfig(version.ServiceName, r.cfg.Port)
		serverConfig.Port = r.cfg.Port
		return server.Start(gctx, serverConfig, r.router, r.logger)
	})

	return g.Wait()
}
