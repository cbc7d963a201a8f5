package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/davidcastilloc/unify-protect-events-extension-sub000/internal/hub"
	"github.com/davidcastilloc/unify-protect-events-extension-sub000/internal/metrics"
	"github.com/davidcastilloc/unify-protect-events-extension-sub000/internal/upstream"
	"github.com/davidcastilloc/unify-protect-events-extension-sub000/pkg/auth"
	"github.com/davidcastilloc/unify-protect-events-extension-sub000/pkg/logging"
	"github.com/davidcastilloc/unify-protect-events-extension-sub000/pkg/middleware"
	"github.com/davidcastilloc/unify-protect-events-extension-sub000/pkg/models"
	"github.com/davidcastilloc/unify-protect-events-extension-sub000/pkg/monitoring"
	"github.com/davidcastilloc/unify-protect-events-extension-sub000/pkg/version"
)

// TokenIssuer mints client tokens
type TokenIssuer interface {
	Issue(clientID string) (string, time.Time, error)
}

// Upstream is the part of the connector the HTTP layer reads
type Upstream interface {
	GetCameras(ctx context.Context) []models.Camera
	CameraCache() upstream.CameraCacheInfo
	State() upstream.State
}

// SocketServer upgrades downstream websocket connections
type SocketServer interface {
	ServeWS(w http.ResponseWriter, r *http.Request)
}

// TokenRequest is the body of POST /api/token
type TokenRequest struct {
	ClientID string `json:"clientId" binding:"required"`
}

// TokenResponse is returned by POST /api/token
type TokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	ExpiresIn int64     `json:"expiresIn"`
}

// CamerasResponse is returned by GET /api/cameras
type CamerasResponse struct {
	Cameras  []models.Camera `json:"cameras"`
	Count    int             `json:"count"`
	Upstream upstream.State  `json:"upstream"`
}

// ErrorResponse is the JSON error body for all routes
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Service string `json:"service,omitempty"`
}

// RelayHandlers contains the HTTP handlers for the service
type RelayHandlers struct {
	issuer    TokenIssuer
	upstream  Upstream
	sockets   SocketServer
	registry  *hub.Registry
	logger    logging.Logger
	metrics   *metrics.Metrics
	startTime time.Time
}

// NewRelayHandlers creates a new handlers instance
func NewRelayHandlers(issuer TokenIssuer, up Upstream, sockets SocketServer, registry *hub.Registry, logger logging.Logger, m *metrics.Metrics) *RelayHandlers {
	return &RelayHandlers{
		issuer:    issuer,
		upstream:  up,
		sockets:   sockets,
		registry:  registry,
		logger:    logger,
		metrics:   m,
		startTime: time.Now(),
	}
}

// RegisterRoutes mounts the relay routes. limiter guards token issuance and
// may be nil.
func (h *RelayHandlers) RegisterRoutes(r *gin.Engine, limiter *middleware.RateLimiter) {
	api := r.Group("/api")
	if limiter != nil {
		api.POST("/token", limiter.Middleware(), h.HandleIssueToken)
	} else {
		api.POST("/token", h.HandleIssueToken)
	}
	api.GET("/cameras", h.HandleCameras)

	r.GET("/ws", h.HandleWebSocket)
	r.NoRoute(h.HandleNotFound)
}

// RegisterHealth adds the upstream check and relay details to hc. A
// disconnected upstream degrades the service but never fails it.
func (h *RelayHandlers) RegisterHealth(hc *monitoring.HealthChecker) {
	hc.AddCheck("upstream", func() monitoring.CheckResult {
		state := h.upstream.State()
		if state == upstream.StateConnected {
			return monitoring.CheckResult{Status: monitoring.StatusHealthy, Message: string(state)}
		}
		return monitoring.CheckResult{
			Status:  monitoring.StatusDegraded,
			Message: string(state) + ", serving synthetic events",
		}
	})
	hc.AddDetail("clients", func() interface{} { return h.registry.Count() })
	hc.AddDetail("upstream_state", func() interface{} { return h.upstream.State() })
	hc.AddDetail("hub", func() interface{} { return h.registry.Stats() })
	hc.AddDetail("client_list", func() interface{} { return h.registry.Snapshot() })
	hc.AddDetail("camera_cache", func() interface{} { return h.upstream.CameraCache() })
	hc.AddDetail("build", func() interface{} { return version.GetInfo() })
	hc.AddDetail("uptime", func() interface{} { return time.Since(h.startTime).Truncate(time.Second).String() })
}

// HandleIssueToken issues a signed token for the requested client id
func (h *RelayHandlers) HandleIssueToken(c *gin.Context) {
	log := middleware.GetContextLogger(c, h.logger)

	var req TokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.metrics.TokenIssued(false)
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Message: "clientId is required"})
		return
	}

	token, expiresAt, err := h.issuer.Issue(req.ClientID)
	if err != nil {
		h.metrics.TokenIssued(false)
		if errors.Is(err, auth.ErrEmptySubject) {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Message: err.Error()})
			return
		}
		log.WithError(err).Error("Failed to issue token")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "token_issue_failed"})
		return
	}

	h.metrics.TokenIssued(true)
	log.WithField("client_id", req.ClientID).Info("Issued client token")
	c.JSON(http.StatusOK, TokenResponse{
		Token:     token,
		ExpiresAt: expiresAt,
		ExpiresIn: int64(time.Until(expiresAt).Seconds()),
	})
}

// HandleCameras lists cameras, best effort
func (h *RelayHandlers) HandleCameras(c *gin.Context) {
	cams := h.upstream.GetCameras(c.Request.Context())
	if cams == nil {
		cams = []models.Camera{}
	}
	c.JSON(http.StatusOK, CamerasResponse{
		Cameras:  cams,
		Count:    len(cams),
		Upstream: h.upstream.State(),
	})
}

// HandleWebSocket serves downstream event connections
func (h *RelayHandlers) HandleWebSocket(c *gin.Context) {
	h.sockets.ServeWS(c.Writer, c.Request)
}

// HandleNotFound provides a custom 404 handler
func (h *RelayHandlers) HandleNotFound(c *gin.Context) {
	c.JSON(http.StatusNotFound, ErrorResponse{
		Error:   "not_found",
		Service: version.ServiceName,
		Message: "Endpoint not found",
	})
}
