// Package httpapi implements the HTTP surface described in spec component
// 6: client id minting, controller leadership lock endpoints, ICE server
// discovery, the /signal WebSocket upgrade, and the ambient health/metrics
// probes every service in this stack carries regardless of domain.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/patchline/relay/internal/auth"
	"github.com/patchline/relay/internal/common/config"
	"github.com/patchline/relay/internal/kv"
	"github.com/patchline/relay/internal/leadership"
	"github.com/patchline/relay/internal/router"
	"github.com/patchline/relay/pkg/metrics"
	"github.com/patchline/relay/pkg/version"
)

// Server wires every HTTP and WebSocket route onto a gin.Engine.
type Server struct {
	logger     *zap.Logger
	store      kv.Store
	leadership *leadership.Service
	hub        *router.Hub
	authn      auth.Authenticator
	metrics    *metrics.Metrics
	cfg        config.RelayConfig
	upgrader   websocket.Upgrader
}

// New constructs a Server. hub must already have its registry and reaper
// attached (see the wiring in cmd/relayd).
func New(logger *zap.Logger, store kv.Store, ldr *leadership.Service, hub *router.Hub, authn auth.Authenticator, m *metrics.Metrics, cfg config.RelayConfig) *Server {
	return &Server{
		logger:     logger.Named("httpapi"),
		store:      store,
		leadership: ldr,
		hub:        hub,
		authn:      authn,
		metrics:    m,
		cfg:        cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Engine builds the gin.Engine with every route attached.
func (s *Server) Engine() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware(s.serviceName()))
	if s.metrics != nil {
		r.Use(s.metrics.Middleware())
	}

	r.GET("/healthz", s.handleHealthz)
	r.GET("/readyz", s.handleReadyz)
	r.GET("/version", s.handleVersion)
	if s.metrics != nil {
		r.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	r.POST("/client-id", s.handleMintClientID)
	r.GET("/controller/status", s.handleControllerStatus)
	r.POST("/controller/lock", requireAuth(s.authn), s.handleLockController)
	r.GET("/controller/lock", s.handleLockStatus)
	r.DELETE("/controller/lock", requireAuth(s.authn), s.handleReleaseLock)
	r.GET("/controller/clear", requireAdminToken(s.cfg.Auth.AdminToken), s.handleClearLeadership)
	r.GET("/ice-servers", s.handleICEServers)
	r.GET("/signal", s.handleSignal)

	return r
}

func (s *Server) serviceName() string {
	if s.cfg.Tracing.ServiceName != "" {
		return s.cfg.Tracing.ServiceName
	}
	return "relay"
}

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleVersion(c *gin.Context) {
	c.JSON(http.StatusOK, version.Current())
}

func (s *Server) handleReadyz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if _, err := s.store.Get(ctx, kv.Key{"__readyz__"}); err != nil && err != kv.ErrNotFound {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
