package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/patchline/relay/internal/auth/jwt"
	"github.com/patchline/relay/internal/auth/jwtauth"
	"github.com/patchline/relay/internal/common/config"
	"github.com/patchline/relay/internal/kv"
	"github.com/patchline/relay/internal/leadership"
	"github.com/patchline/relay/internal/reaper"
	"github.com/patchline/relay/internal/registry"
	"github.com/patchline/relay/internal/router"
	"github.com/patchline/relay/pkg/metrics"
	"github.com/patchline/relay/pkg/version"
)

// newTestServer wires a Server against a fresh in-memory store, exactly as
// cmd/relayd does, so handler tests exercise the real two-phase router
// construction rather than a mock.
func newTestServer(t *testing.T, cfg config.RelayConfig) (*Server, *jwt.Service) {
	t.Helper()
	logger := zap.NewNop()
	store := kv.NewMemoryStore(logger, 0)
	t.Cleanup(func() { _ = store.Close() })

	ldr := leadership.New(logger, store, "instance-a", nil)
	hub := router.New(logger, store, ldr, "instance-a")
	reg := registry.New(logger, store, hub, "instance-a")
	hub.SetRegistry(reg)
	rpr := reaper.New(logger, reg)
	hub.SetReaper(rpr)

	jwtSvc, err := jwt.NewService(jwt.Config{SecretKey: "test-secret-at-least-32-bytes!!x", Duration: time.Hour})
	require.NoError(t, err)
	authn := jwtauth.New(jwtSvc)

	m := metrics.New(cfg.Metrics)

	return New(logger, store, ldr, hub, authn, m, cfg), jwtSvc
}

func testConfig() config.RelayConfig {
	var cfg config.RelayConfig
	cfg.Auth.AdminToken = "admin-secret"
	cfg.ICEServers = []config.ICEServer{{URLs: []string{"stun:stun.example.com:3478"}}}
	cfg.Metrics.Namespace = "relay_test"
	return cfg
}

func doJSON(t *testing.T, engine http.Handler, method, path string, body any, bearer string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	return rec
}

func TestHandleMintClientID(t *testing.T) {
	s, _ := newTestServer(t, testConfig())
	engine := s.Engine()

	rec := doJSON(t, engine, http.MethodPost, "/client-id", mintClientIDRequest{Type: "controller"}, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Success  bool   `json:"success"`
		ClientID string `json:"clientId"`
		Type     string `json:"type"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "controller", resp.Type)
	assert.Regexp(t, `^controller-`, resp.ClientID)

	rec = doJSON(t, engine, http.MethodPost, "/client-id", mintClientIDRequest{Type: "bogus"}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleControllerStatus_NoneActive(t *testing.T) {
	s, _ := newTestServer(t, testConfig())
	engine := s.Engine()

	rec := doJSON(t, engine, http.MethodGet, "/controller/status", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		ActiveController *string `json:"activeController"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Nil(t, resp.ActiveController)
}

func TestHandleLockController_ActivateHeartbeatAndReject(t *testing.T) {
	s, jwtSvc := newTestServer(t, testConfig())
	engine := s.Engine()

	token, err := jwtSvc.GenerateToken("controller-a")
	require.NoError(t, err)

	// Unauthenticated POST is rejected before reaching leadership logic.
	rec := doJSON(t, engine, http.MethodPost, "/controller/lock", lockControllerRequest{ControllerID: "controller-a"}, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, engine, http.MethodPost, "/controller/lock", lockControllerRequest{ControllerID: "controller-a"}, token)
	require.Equal(t, http.StatusOK, rec.Code)
	var activated struct {
		IsActive bool `json:"isActive"`
		Changed  bool `json:"changed"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &activated))
	assert.True(t, activated.IsActive)
	assert.True(t, activated.Changed)

	rec = doJSON(t, engine, http.MethodPost, "/controller/lock", lockControllerRequest{ControllerID: "controller-a", Heartbeat: true}, token)
	require.Equal(t, http.StatusOK, rec.Code)
	var heartbeat struct {
		IsActive bool `json:"isActive"`
		Changed  bool `json:"changed"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &heartbeat))
	assert.True(t, heartbeat.IsActive)
	assert.False(t, heartbeat.Changed)

	otherToken, err := jwtSvc.GenerateToken("controller-b")
	require.NoError(t, err)
	rec = doJSON(t, engine, http.MethodPost, "/controller/lock", lockControllerRequest{ControllerID: "controller-b", Heartbeat: true}, otherToken)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandleLockStatus_PlainAndHealthCheck(t *testing.T) {
	s, jwtSvc := newTestServer(t, testConfig())
	engine := s.Engine()

	rec := doJSON(t, engine, http.MethodGet, "/controller/lock", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var status struct {
		Locked  bool `json:"locked"`
		IsOwner bool `json:"isOwner"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.False(t, status.Locked)

	token, err := jwtSvc.GenerateToken("controller-a")
	require.NoError(t, err)
	rec = doJSON(t, engine, http.MethodPost, "/controller/lock", lockControllerRequest{ControllerID: "controller-a"}, token)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, engine, http.MethodGet, "/controller/lock", nil, token)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.True(t, status.Locked)
	assert.True(t, status.IsOwner)

	rec = doJSON(t, engine, http.MethodGet, "/controller/lock?health=check", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var health struct {
		Status      string `json:"status"`
		KVReachable bool   `json:"kvReachable"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "ok", health.Status)
	assert.True(t, health.KVReachable)
}

func TestHandleReleaseLock_OwnerVsNonOwner(t *testing.T) {
	s, jwtSvc := newTestServer(t, testConfig())
	engine := s.Engine()

	token, err := jwtSvc.GenerateToken("controller-a")
	require.NoError(t, err)
	rec := doJSON(t, engine, http.MethodPost, "/controller/lock", lockControllerRequest{ControllerID: "controller-a"}, token)
	require.Equal(t, http.StatusOK, rec.Code)

	otherToken, err := jwtSvc.GenerateToken("controller-b")
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodDelete, "/controller/lock?controllerId=controller-b", nil)
	req.Header.Set("Authorization", "Bearer "+otherToken)
	rec = httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusConflict, rec.Code)

	req = httptest.NewRequest(http.MethodDelete, "/controller/lock?controllerId=controller-a", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleClearLeadership_AdminToken(t *testing.T) {
	cfg := testConfig()
	s, _ := newTestServer(t, cfg)
	engine := s.Engine()

	req := httptest.NewRequest(http.MethodGet, "/controller/clear", nil)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/controller/clear?admin_mode=true", nil)
	req.Header.Set("Authorization", "Bearer wrong-token")
	rec = httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/controller/clear?admin_mode=true", nil)
	req.Header.Set("Authorization", "Bearer "+cfg.Auth.AdminToken)
	rec = httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/controller/clear", nil)
	req.Header.Set("Authorization", "Bearer "+cfg.Auth.AdminToken)
	rec = httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleICEServers(t *testing.T) {
	cfg := testConfig()
	s, _ := newTestServer(t, cfg)
	engine := s.Engine()

	rec := doJSON(t, engine, http.MethodGet, "/ice-servers", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		ICEServers []config.ICEServer `json:"iceServers"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.ICEServers, 1)
	assert.Equal(t, cfg.ICEServers[0].URLs, resp.ICEServers[0].URLs)
}

func TestHandleHealthzAndReadyz(t *testing.T) {
	s, _ := newTestServer(t, testConfig())
	engine := s.Engine()

	rec := doJSON(t, engine, http.MethodGet, "/healthz", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, engine, http.MethodGet, "/readyz", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleVersion(t *testing.T) {
	s, _ := newTestServer(t, testConfig())
	engine := s.Engine()

	rec := doJSON(t, engine, http.MethodGet, "/version", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	var info version.Info
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, version.Get(), info.Version)
	assert.NotEmpty(t, info.GoVersion)
}
