package router

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/patchline/relay/internal/kv"
	"github.com/patchline/relay/internal/leadership"
	"github.com/patchline/relay/internal/reaper"
	"github.com/patchline/relay/internal/registry"
)

// testHub wires a Hub against an in-memory kv.Store and starts an
// httptest.Server that upgrades every request straight into hub.Attach,
// so test clients can dial real WebSocket connections against real verb
// handling without any other transport involved.
type testHub struct {
	hub    *Hub
	server *httptest.Server
}

func newTestHub(t *testing.T) *testHub {
	t.Helper()
	store := kv.NewMemoryStore(zap.NewNop(), 0)
	t.Cleanup(func() { _ = store.Close() })

	ldr := leadership.New(zap.NewNop(), store, "instance-a", nil)
	hub := New(zap.NewNop(), store, ldr, "instance-a")
	reg := registry.New(zap.NewNop(), store, hub, "instance-a")
	hub.SetRegistry(reg)
	rpr := reaper.New(zap.NewNop(), reg)
	hub.SetReaper(rpr)

	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		hub.Attach(context.Background(), conn)
	}))
	t.Cleanup(server.Close)

	return &testHub{hub: hub, server: server}
}

func (th *testHub) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(th.server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func register(t *testing.T, conn *websocket.Conn, id string) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(map[string]any{"type": VerbRegister, "id": id}))
	var confirmed RegistrationConfirmedFrame
	require.NoError(t, conn.ReadJSON(&confirmed))
	require.Equal(t, VerbRegistrationConfirmed, confirmed.Type)
	require.Equal(t, id, confirmed.ID)
}

func TestHub_RegisterSynthReceivesActiveControllerPush(t *testing.T) {
	th := newTestHub(t)
	conn := th.dial(t)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": VerbRegister, "id": "synth-1"}))

	var confirmed RegistrationConfirmedFrame
	require.NoError(t, conn.ReadJSON(&confirmed))
	assert.Equal(t, "synth-1", confirmed.ID)
	assert.False(t, confirmed.IsReconnection)

	var active ActiveControllerFrame
	require.NoError(t, conn.ReadJSON(&active))
	assert.Equal(t, VerbActiveController, active.Type)
	assert.Nil(t, active.ControllerID)
}

func TestHub_RegisterControllerReceivesClientList(t *testing.T) {
	th := newTestHub(t)
	synth := th.dial(t)
	register(t, synth, "synth-1")

	controller := th.dial(t)
	require.NoError(t, controller.WriteJSON(map[string]any{"type": VerbRegister, "id": "controller-1"}))

	var confirmed RegistrationConfirmedFrame
	require.NoError(t, controller.ReadJSON(&confirmed))

	var list ClientListFrame
	require.NoError(t, controller.ReadJSON(&list))
	assert.Equal(t, VerbClientList, list.Type)
	require.Len(t, list.Clients, 1)
	assert.Equal(t, "synth-1", list.Clients[0].ID)
}

func TestHub_HeartbeatReplies(t *testing.T) {
	th := newTestHub(t)
	conn := th.dial(t)
	register(t, conn, "synth-1")
	drainActiveController(t, conn)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": VerbHeartbeat}))
	var ack HeartbeatAckFrame
	require.NoError(t, conn.ReadJSON(&ack))
	assert.Equal(t, VerbHeartbeatAck, ack.Type)
}

func TestHub_SignalingDeliversLocallyWhenTargetAttached(t *testing.T) {
	th := newTestHub(t)

	controller := th.dial(t)
	register(t, controller, "controller-1")
	drainClientList(t, controller)

	synth := th.dial(t)
	register(t, synth, "synth-1")
	drainActiveController(t, synth)

	// The synth's registration notifies the already-attached controller
	// before the offer is sent.
	var connected LifecycleFrame
	require.NoError(t, controller.ReadJSON(&connected))
	assert.Equal(t, VerbClientConnected, connected.Type)

	require.NoError(t, synth.WriteJSON(map[string]any{
		"type":   VerbOffer,
		"target": "controller-1",
		"data":   "sdp-blob",
	}))

	var offer SignalingFrame
	require.NoError(t, controller.ReadJSON(&offer))
	assert.Equal(t, VerbOffer, offer.Type)
	assert.Equal(t, "synth-1", offer.Source)
}

func TestHub_SignalingQueuesWhenTargetNotAttached(t *testing.T) {
	th := newTestHub(t)
	synth := th.dial(t)
	register(t, synth, "synth-1")
	drainActiveController(t, synth)

	require.NoError(t, synth.WriteJSON(map[string]any{
		"type":   VerbAnswer,
		"target": "controller-absent",
		"data":   "sdp-blob",
	}))

	require.Eventually(t, func() bool {
		entries, err := th.hub.store.List(context.Background(), messageQueuePrefix("controller-absent"))
		return err == nil && len(entries) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestHub_DuplicateRegistrationPreservesRecordAcrossReplacedSocket(t *testing.T) {
	th := newTestHub(t)

	controller := th.dial(t)
	register(t, controller, "controller-1")
	drainClientList(t, controller)

	first := th.dial(t)
	register(t, first, "synth-1")
	drainActiveController(t, first)

	var connected LifecycleFrame
	require.NoError(t, controller.ReadJSON(&connected))
	assert.Equal(t, VerbClientConnected, connected.Type)

	before, err := th.hub.registry.Get(context.Background(), "synth-1")
	require.NoError(t, err)

	second := th.dial(t)
	require.NoError(t, second.WriteJSON(map[string]any{"type": VerbRegister, "id": "synth-1"}))
	var confirmed RegistrationConfirmedFrame
	require.NoError(t, second.ReadJSON(&confirmed))
	assert.True(t, confirmed.IsReconnection)
	assert.Equal(t, before.ReconnectionCount+1, confirmed.ReconnectionCount)
	drainActiveController(t, second)

	var lifecycle LifecycleFrame
	require.NoError(t, controller.ReadJSON(&lifecycle))
	assert.Equal(t, VerbClientReconnected, lifecycle.Type)
	assert.Equal(t, "synth-1", lifecycle.ClientID)

	after, err := th.hub.registry.Get(context.Background(), "synth-1")
	require.NoError(t, err)
	assert.True(t, after.ConnectionTimestamp.Equal(before.ConnectionTimestamp))
	assert.Equal(t, before.ReconnectionCount+1, after.ReconnectionCount)

	// The replaced first socket's own disconnect cleanup must not have
	// torn down the second registration: no further lifecycle message
	// should arrive for synth-1.
	require.NoError(t, controller.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	_, _, err = controller.ReadMessage()
	assert.Error(t, err)
}

func drainActiveController(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	var frame ActiveControllerFrame
	require.NoError(t, conn.ReadJSON(&frame))
}

func drainClientList(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	var frame ClientListFrame
	require.NoError(t, conn.ReadJSON(&frame))
}
