package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/patchline/relay/internal/common/cnst"
	"github.com/patchline/relay/internal/kv"
	"github.com/patchline/relay/internal/leadership"
	apierrors "github.com/patchline/relay/pkg/errors"
)

func reservationKey(id string) kv.Key {
	return kv.Key{"reserved-ids", id}
}

type mintClientIDRequest struct {
	Type string `json:"type"`
}

// handleMintClientID implements POST /client-id.
func (s *Server) handleMintClientID(c *gin.Context) {
	var body mintClientIDRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		writeAPIError(c, apierrors.Validation("request body must be {\"type\":\"controller\"|\"synth\"}"))
		return
	}

	t := clientType(body.Type)
	if !t.valid() {
		writeAPIError(c, apierrors.Validation("type must be \"controller\" or \"synth\""))
		return
	}

	id, err := mintClientID(t, s.cfg.Server.ShortClientIDs)
	if err != nil {
		s.logger.Warn("failed to mint client id", zap.Error(err))
		writeAPIError(c, apierrors.Internal("failed to mint client id"))
		return
	}

	if err := s.store.Set(c.Request.Context(), reservationKey(id), []byte(body.Type), cnst.ClientTTL); err != nil {
		s.logger.Warn("failed to store client id reservation", zap.String("id", id), zap.Error(err))
		writeAPIError(c, apierrors.Internal("failed to reserve client id"))
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "clientId": id, "type": body.Type})
}

// handleControllerStatus implements GET /controller/status.
func (s *Server) handleControllerStatus(c *gin.Context) {
	active, err := s.leadership.GetActive(c.Request.Context())
	if err != nil {
		s.logger.Warn("failed to read active controller", zap.Error(err))
		writeAPIError(c, apierrors.Internal("failed to read active controller"))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"activeController": activeControllerID(active),
		"timestamp":        activeTimestampMillis(active),
		"timeoutMs":        cnst.HeartbeatTimeout.Milliseconds(),
	})
}

type lockControllerRequest struct {
	ControllerID string `json:"controllerId"`
	Heartbeat    bool   `json:"heartbeat"`
}

// handleLockController implements POST /controller/lock.
func (s *Server) handleLockController(c *gin.Context) {
	var body lockControllerRequest
	if err := c.ShouldBindJSON(&body); err != nil || body.ControllerID == "" {
		writeAPIError(c, apierrors.Validation("request body must include controllerId"))
		return
	}

	current, changed, err := s.leadership.SetActive(c.Request.Context(), body.ControllerID, body.Heartbeat)
	if err != nil {
		s.logger.Warn("controller/lock failed", zap.String("controllerId", body.ControllerID), zap.Error(err))
		writeAPIError(c, apierrors.Internal("failed to update leadership"))
		return
	}

	isActive := current != nil && current.ID == body.ControllerID
	if body.Heartbeat && !isActive {
		apiErr := apierrors.LeadershipContention("caller is not the active controller")
		c.JSON(apiErr.HTTPStatus, gin.H{
			"isActive":         false,
			"activeController": activeControllerID(current),
			"changed":          false,
			"timeoutMs":        cnst.HeartbeatTimeout.Milliseconds(),
			"error":            apiErr,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"isActive":         isActive,
		"activeController": activeControllerID(current),
		"changed":          changed,
		"timeoutMs":        cnst.HeartbeatTimeout.Milliseconds(),
	})
}

// handleLockStatus implements GET /controller/lock, including the
// ?health=check consistency report.
func (s *Server) handleLockStatus(c *gin.Context) {
	ctx := c.Request.Context()

	if c.Query("health") == "check" {
		_, err := s.leadership.GetActive(ctx)
		status := "ok"
		if err != nil {
			status = "degraded"
		}
		c.JSON(http.StatusOK, gin.H{"status": status, "kvReachable": err == nil})
		return
	}

	active, err := s.leadership.GetActive(ctx)
	if err != nil {
		s.logger.Warn("failed to read active controller", zap.Error(err))
		writeAPIError(c, apierrors.Internal("failed to read active controller"))
		return
	}

	callerID, _ := s.authenticatedClientID(c)
	isOwner := active != nil && callerID != "" && active.ID == callerID

	c.JSON(http.StatusOK, gin.H{
		"locked":           active != nil,
		"isOwner":          isOwner,
		"activeController": activeControllerID(active),
		"remainingTimeMs":  remainingTimeMillis(active),
	})
}

// handleReleaseLock implements DELETE /controller/lock: release, only if
// the named controllerId is the current leader.
func (s *Server) handleReleaseLock(c *gin.Context) {
	controllerID := c.Query("controllerId")
	if controllerID == "" {
		writeAPIError(c, apierrors.Validation("controllerId query parameter is required"))
		return
	}

	if err := s.leadership.Clear(c.Request.Context(), controllerID); err != nil {
		writeAPIError(c, apierrors.LeadershipContention("caller is not the active controller"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// handleClearLeadership implements GET /controller/clear. requireAdminToken
// has already validated the bearer token by the time this runs; admin_mode
// is an explicit second confirmation that this is an intentional operator
// action rather than a stray GET.
func (s *Server) handleClearLeadership(c *gin.Context) {
	if c.Query("admin_mode") != "true" {
		writeAPIError(c, apierrors.Validation("admin_mode=true is required"))
		return
	}

	if err := s.leadership.ForceReset(c.Request.Context()); err != nil {
		s.logger.Warn("admin force reset failed", zap.Error(err))
		writeAPIError(c, apierrors.Internal("failed to reset leadership"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// handleICEServers implements GET /ice-servers.
func (s *Server) handleICEServers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"iceServers": s.cfg.ICEServers})
}

// handleSignal implements GET /signal: upgrades to a WebSocket and hands
// the connection to the router Hub for its lifetime.
func (s *Server) handleSignal(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	s.hub.Attach(c.Request.Context(), conn)
}

func (s *Server) authenticatedClientID(c *gin.Context) (string, bool) {
	header := c.GetHeader("Authorization")
	const prefix = "Bearer "
	if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
		return "", false
	}
	clientID, err := s.authn.Authenticate(c.Request.Context(), header[len(prefix):])
	if err != nil {
		return "", false
	}
	return clientID, true
}

func activeControllerID(active *leadership.Record) *string {
	if active == nil {
		return nil
	}
	id := active.ID
	return &id
}

func activeTimestampMillis(active *leadership.Record) int64 {
	if active == nil {
		return 0
	}
	return active.Timestamp.UnixMilli()
}

func remainingTimeMillis(active *leadership.Record) int64 {
	if active == nil {
		return 0
	}
	remaining := cnst.HeartbeatTimeout - time.Since(active.Timestamp)
	if remaining < 0 {
		return 0
	}
	return remaining.Milliseconds()
}

func writeAPIError(c *gin.Context, apiErr *apierrors.APIError) {
	c.AbortWithStatusJSON(apiErr.HTTPStatus, apiErr)
}
