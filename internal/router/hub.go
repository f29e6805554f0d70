// Package router implements the per-peer WebSocket session and the
// message router (spec component 4.C): it upgrades connections, dispatches
// inbound verbs, delivers signaling messages locally or via the KV queue,
// and drains that queue on a per-socket timer.
package router

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/patchline/relay/internal/common/cnst"
	"github.com/patchline/relay/internal/kv"
	"github.com/patchline/relay/internal/leadership"
	"github.com/patchline/relay/internal/reaper"
	"github.com/patchline/relay/internal/registry"
)

func messageQueueKey(recipientID, messageID string) kv.Key {
	return kv.Key{"messages", recipientID, messageID}
}

func messageQueuePrefix(recipientID string) kv.Key {
	return kv.Key{"messages", recipientID}
}

// Metrics is the signaling-traffic/queue-depth instrumentation a Hub
// reports through.
type Metrics interface {
	SignalingMessage(verb string)
	IncQueuedMessages()
	DecQueuedMessages()
}

// Hub owns every session attached to this instance and implements both
// registry.Delivery (so the registry can notify controllers) and
// leadership.Broadcaster (so the leadership Poller can reach local
// synths). It is the transport the registry and leadership packages are
// written against without importing; the reaper reaches controllers only
// through the registry.
type Hub struct {
	logger     *zap.Logger
	store      kv.Store
	registry   *registry.Registry
	leadership *leadership.Service
	reaper     *reaper.Reaper
	metrics    Metrics
	instanceID string

	mu       sync.Mutex
	sessions map[string]*session

	outboundPollInterval time.Duration
}

var (
	_ registry.Delivery      = (*Hub)(nil)
	_ leadership.Broadcaster = (*Hub)(nil)
)

// New constructs a Hub without a registry or reaper attached yet. The
// registry needs this same Hub as a collaborator at its construction time,
// and the reaper needs the registry, so the wiring order is: construct the Hub, construct the registry with it,
// call SetRegistry, construct the reaper with the registry, call
// SetReaper. See cmd/relayd's wiring.
func New(logger *zap.Logger, store kv.Store, ldr *leadership.Service, instanceID string) *Hub {
	return &Hub{
		logger:               logger.Named("router"),
		store:                store,
		leadership:           ldr,
		instanceID:           instanceID,
		sessions:             make(map[string]*session),
		outboundPollInterval: cnst.DefaultOutboundPollInterval,
	}
}

// SetRegistry attaches the registry this Hub delivers controller
// notifications through. Must be called once, before Attach is used.
func (h *Hub) SetRegistry(reg *registry.Registry) {
	h.registry = reg
}

// SetReaper attaches the reaper this Hub triggers sweeps on. Must be
// called once, before Attach is used. The reaper itself needs the
// registry to exist first, so it is always the last piece wired in.
func (h *Hub) SetReaper(rpr *reaper.Reaper) {
	h.reaper = rpr
}

// SetMetrics attaches the signaling-traffic/queue-depth instrumentation.
// Optional, unlike SetRegistry/SetReaper, and has no ordering requirement
// relative to them.
func (h *Hub) SetMetrics(m Metrics) {
	h.metrics = m
}

// Attach takes ownership of an already-upgraded *websocket.Conn — httpapi
// performs the actual HTTP Upgrade, since only it imports net/http/gin —
// and runs its read loop until the socket closes or ctx is canceled.
func (h *Hub) Attach(ctx context.Context, conn *websocket.Conn) {
	sess := newSession(h.logger, conn)
	h.readLoop(ctx, sess)
}

// startPolling launches the per-socket outbound-queue drain loop and
// returns its cancel func.
func (h *Hub) startPolling(ctx context.Context, sess *session) context.CancelFunc {
	pollCtx, cancel := context.WithCancel(ctx)
	go h.pollOutbound(pollCtx, sess)
	return cancel
}

func (h *Hub) readLoop(ctx context.Context, sess *session) {
	var pollCancel context.CancelFunc
	defer func() {
		if pollCancel != nil {
			pollCancel()
		}
		h.detach(ctx, sess)
	}()

	for {
		_, data, err := sess.conn.ReadMessage()
		if err != nil {
			return
		}

		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			h.logger.Warn("dropping malformed frame", zap.Error(err))
			continue
		}

		if frame.Type == VerbRegister && sess.ID() == "" {
			id, err := h.handleRegister(ctx, sess, frame)
			if err != nil {
				h.logger.Warn("register failed", zap.Error(err))
				continue
			}
			h.mu.Lock()
			h.sessions[id] = sess
			h.mu.Unlock()
			pollCancel = h.startPolling(ctx, sess)
			continue
		}

		if sess.ID() == "" {
			h.logger.Warn("dropping frame from unregistered socket", zap.String("type", frame.Type))
			continue
		}

		h.dispatch(ctx, sess, frame)
	}
}

// detach runs when a read loop exits. It must not tear down a
// registration that a concurrent Register has already replaced this
// session with — UnregisterSocket checks identity against the registry's
// own socket map rather than hub.sessions, since a replacement Register
// can close this session (waking this detach) before it has reinstalled
// itself into hub.sessions.
func (h *Hub) detach(ctx context.Context, sess *session) {
	id := sess.ID()
	sess.Close(1000, "")
	h.mu.Lock()
	if h.sessions[id] == sess {
		delete(h.sessions, id)
	}
	h.mu.Unlock()
	if id != "" {
		if err := h.registry.UnregisterSocket(ctx, id, sess); err != nil {
			h.logger.Warn("failed to unregister on disconnect", zap.String("id", id), zap.Error(err))
		}
	}
}

func (h *Hub) dispatch(ctx context.Context, sess *session, frame Frame) {
	id := sess.ID()
	switch frame.Type {
	case VerbHeartbeat:
		h.handleHeartbeat(ctx, sess)
	case VerbControllerHeartbeat:
		h.handleControllerHeartbeat(ctx, sess)
	case VerbControllerActivate:
		h.handleControllerActivate(ctx, id)
	case VerbControllerDeactivate:
		h.handleControllerDeactivate(ctx, id)
	case VerbControllerConnections:
		h.handleControllerConnections(ctx, id, frame)
	case VerbRequestActiveController:
		h.handleRequestActiveController(ctx, sess)
	case VerbOffer, VerbAnswer, VerbICECandidate:
		h.handleSignaling(ctx, id, frame)
	default:
		h.logger.Warn("dropping unknown verb", zap.String("type", frame.Type))
	}
}
