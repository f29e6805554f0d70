// Package registry implements the client registry (spec component 4.B): it
// records which clients are connected, to which instance, since when, and
// how many times they have reconnected, and it tells controllers about
// connects, reconnects, and disconnects. It owns no transport of its own —
// a Socket (the locally-attached connection, if any) and a Delivery sink
// (how to reach a controller, locally or queued) are both ports supplied by
// the caller, conventionally the router/hub.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/patchline/relay/internal/common/cnst"
	"github.com/patchline/relay/internal/kv"
)

// Socket is the minimal surface the registry needs from whatever currently
// holds a client's live WebSocket connection on this instance.
type Socket interface {
	ID() string
	// Close closes the socket with the given close code and reason. It
	// must be safe to call more than once.
	Close(code int, reason string)
}

// Notification is one of the controller-facing lifecycle events the
// registry emits on register/unregister.
type Notification struct {
	Verb     string `json:"verb"`
	ClientID string `json:"clientId"`
}

const (
	VerbClientConnected    = "client-connected"
	VerbClientReconnected  = "client-reconnected"
	VerbClientDisconnected = "client-disconnected"
)

// Delivery is how the registry reaches a controller to tell it about a
// client lifecycle event — delivered to a local socket if the router has
// one attached, otherwise queued through the KV store.
type Delivery interface {
	DeliverOrQueue(ctx context.Context, recipientID string, notification Notification) error
}

// Metrics is the connected-client gauge a Registry reports through, kept
// as a narrow port for the same reason Delivery is: so this package never
// imports pkg/metrics's concrete type.
type Metrics interface {
	ClientConnected(clientType string)
	ClientDisconnected(clientType string)
}

// ClientRecord is the durable, KV-backed description of one client.
type ClientRecord struct {
	ID                  string     `json:"id"`
	InstanceID          string     `json:"instanceId"`
	ConnectionTimestamp time.Time  `json:"connectionTimestamp"`
	LastSeen            time.Time  `json:"lastSeen"`
	ReconnectionCount   int        `json:"reconnectionCount"`
	LastReconnectTime   *time.Time `json:"lastReconnectTime,omitempty"`
	IsController        bool       `json:"isController"`
}

// SynthListing is one entry in the controller-facing synth list: the
// ClientRecord plus server-instance-local knowledge the record itself
// can't carry.
type SynthListing struct {
	ClientRecord
	HasLocalSocket bool `json:"hasLocalSocket"`
	PeerConnected  bool `json:"peerConnected"`
}

// Registry implements the client registry described in 4.B.
type Registry struct {
	logger     *zap.Logger
	store      kv.Store
	delivery   Delivery
	metrics    Metrics
	instanceID string

	mu      sync.Mutex
	sockets map[string]Socket
}

// New constructs a Registry. delivery is used only to notify controllers of
// connect/reconnect/disconnect events.
func New(logger *zap.Logger, store kv.Store, delivery Delivery, instanceID string) *Registry {
	return &Registry{
		logger:     logger.Named("registry"),
		store:      store,
		delivery:   delivery,
		instanceID: instanceID,
		sockets:    make(map[string]Socket),
	}
}

// SetMetrics attaches the connected-client gauge. Optional — a Registry
// with no metrics attached simply doesn't report it.
func (r *Registry) SetMetrics(m Metrics) {
	r.metrics = m
}

func (r *Registry) clientTypeLabel(id string) string {
	if cnst.IsController(id) {
		return "controller"
	}
	return "synth"
}

// LocalSocket returns the socket currently attached to id on this instance,
// if any.
func (r *Registry) LocalSocket(id string) (Socket, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sockets[id]
	return s, ok
}

// Register implements 4.B's register(id, socket, isReconnect, clientTimestamp).
//
// If a socket is already attached locally under id, it is replaced: the
// previous one is closed with 1000/"Replaced" and register waits briefly
// for that close to run before continuing. If a prior ClientRecord exists
// in the KV store (on this instance or another), connectionTimestamp is
// inherited and reconnectionCount incremented — the client is treated as
// reconnecting even if isReconnect was false.
func (r *Registry) Register(ctx context.Context, id string, socket Socket, isReconnect bool) (ClientRecord, bool, error) {
	// The prior record is read before the replaced socket is closed and
	// waited on below: that close wakes the old session's read loop, which
	// races this goroutine into UnregisterSocket. Reading first means this
	// call already has connectionTimestamp/reconnectionCount in hand even
	// if the old session's cleanup deletes the KV record out from under it
	// during the wait.
	prior, priorErr := r.getRecord(ctx, id)
	if priorErr != nil && priorErr != kv.ErrNotFound {
		return ClientRecord{}, false, fmt.Errorf("registry: read prior record for %q: %w", id, priorErr)
	}

	// The new socket claims the slot before the old one is closed, not
	// after: UnregisterSocket compares against whatever is currently in
	// r.sockets[id], so claiming it first means the old session's own
	// disconnect cleanup (woken by the Close below) always loses that
	// comparison and becomes a no-op, instead of racing to unregister the
	// replacement during the wait.
	r.mu.Lock()
	prev, hadPrev := r.sockets[id]
	r.sockets[id] = socket
	r.mu.Unlock()
	if hadPrev {
		prev.Close(1000, "Replaced")
		time.Sleep(cnst.ReplaceCloseWait)
	}

	now := time.Now()
	isController := cnst.IsController(id)

	record := ClientRecord{
		ID:                  id,
		InstanceID:          r.instanceID,
		ConnectionTimestamp: now,
		LastSeen:            now,
		IsController:        isController,
	}

	reconnected := isReconnect
	if priorErr == nil {
		record.ConnectionTimestamp = prior.ConnectionTimestamp
		record.ReconnectionCount = prior.ReconnectionCount + 1
		record.LastReconnectTime = &now
		reconnected = true
	}

	if err := r.putRecord(ctx, record); err != nil {
		return ClientRecord{}, false, fmt.Errorf("registry: write record for %q: %w", id, err)
	}

	if isController {
		if err := r.putControllerDirectoryEntry(ctx, id); err != nil {
			return ClientRecord{}, false, fmt.Errorf("registry: write controller directory entry for %q: %w", id, err)
		}
	} else {
		verb := VerbClientConnected
		if reconnected {
			verb = VerbClientReconnected
		}
		r.notifyControllers(ctx, verb, id)
	}

	if r.metrics != nil {
		r.metrics.ClientConnected(r.clientTypeLabel(id))
	}

	return record, reconnected, nil
}

// Unregister implements 4.B's unregister(id): deletes the ClientRecord
// (and controller directory entry, for controllers), notifies controllers
// of the disconnect for non-controllers, and drops the local socket entry.
// Unconditional — callers that are certain no other socket has since taken
// over id (the reaper, evicting a client with no live connection anywhere)
// want this. A live read loop tearing down its own session should use
// UnregisterSocket instead, so it cannot clobber a socket that replaced it.
func (r *Registry) Unregister(ctx context.Context, id string) error {
	r.mu.Lock()
	delete(r.sockets, id)
	r.mu.Unlock()
	return r.finishUnregister(ctx, id)
}

// UnregisterSocket unregisters id only if socket is still the one attached
// under it. A router's read loop calls this from its own disconnect
// cleanup: if Register already replaced this socket with a new one (the
// duplicate-id reconnect path), this is a no-op, leaving the replacement's
// registration and KV record alone instead of tearing down a client that
// is, from the outside, still connected.
func (r *Registry) UnregisterSocket(ctx context.Context, id string, socket Socket) error {
	r.mu.Lock()
	if r.sockets[id] != socket {
		r.mu.Unlock()
		return nil
	}
	delete(r.sockets, id)
	r.mu.Unlock()
	return r.finishUnregister(ctx, id)
}

func (r *Registry) finishUnregister(ctx context.Context, id string) error {
	if err := r.store.Delete(ctx, clientKey(id)); err != nil {
		return fmt.Errorf("registry: delete record for %q: %w", id, err)
	}

	if cnst.IsController(id) {
		if err := r.store.Delete(ctx, controllerDirectoryKey(id)); err != nil {
			return fmt.Errorf("registry: delete controller directory entry for %q: %w", id, err)
		}
	} else {
		r.notifyControllers(ctx, VerbClientDisconnected, id)
	}

	if r.metrics != nil {
		r.metrics.ClientDisconnected(r.clientTypeLabel(id))
	}

	return nil
}

// Touch refreshes lastSeen on a heartbeat or any inbound message, without
// disturbing connectionTimestamp or reconnectionCount.
func (r *Registry) Touch(ctx context.Context, id string) (ClientRecord, error) {
	record, err := r.getRecord(ctx, id)
	if err != nil {
		return ClientRecord{}, err
	}
	record.LastSeen = time.Now()
	if err := r.putRecord(ctx, record); err != nil {
		return ClientRecord{}, fmt.Errorf("registry: refresh lastSeen for %q: %w", id, err)
	}
	return record, nil
}

// Get returns the ClientRecord for id, or kv.ErrNotFound.
func (r *Registry) Get(ctx context.Context, id string) (ClientRecord, error) {
	return r.getRecord(ctx, id)
}

// ListSynths enumerates the client-record prefix, skipping controller ids,
// and annotates each synth with whether this instance holds its socket and
// whether peerConnected reports it as WebRTC-peered. peerConnected is
// supplied by the caller (the reaper package owns the
// ActiveWebRTCMap); ListSynths itself never evicts anyone.
func (r *Registry) ListSynths(ctx context.Context, peerConnected func(id string) bool) ([]SynthListing, error) {
	entries, err := r.store.List(ctx, clientsPrefix)
	if err != nil {
		return nil, fmt.Errorf("registry: list clients: %w", err)
	}

	out := make([]SynthListing, 0, len(entries))
	for _, e := range entries {
		var record ClientRecord
		if err := json.Unmarshal(e.Value, &record); err != nil {
			r.logger.Warn("skipping malformed client record", zap.String("key", e.Key.String()), zap.Error(err))
			continue
		}
		if record.IsController {
			continue
		}
		_, hasLocal := r.LocalSocket(record.ID)
		out = append(out, SynthListing{
			ClientRecord:   record,
			HasLocalSocket: hasLocal,
			PeerConnected:  peerConnected(record.ID),
		})
	}
	return out, nil
}

// ListControllers enumerates the controller-directory prefix, returning
// the bare controller ids currently registered on any instance.
func (r *Registry) ListControllers(ctx context.Context) ([]string, error) {
	entries, err := r.store.List(ctx, controllersPrefix)
	if err != nil {
		return nil, fmt.Errorf("registry: list controllers: %w", err)
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, string(e.Value))
	}
	return ids, nil
}

func (r *Registry) getRecord(ctx context.Context, id string) (ClientRecord, error) {
	data, err := r.store.Get(ctx, clientKey(id))
	if err != nil {
		return ClientRecord{}, err
	}
	var record ClientRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return ClientRecord{}, fmt.Errorf("registry: unmarshal record for %q: %w", id, err)
	}
	return record, nil
}

func (r *Registry) putRecord(ctx context.Context, record ClientRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("registry: marshal record for %q: %w", record.ID, err)
	}
	return r.store.Set(ctx, clientKey(record.ID), data, cnst.ClientTTL)
}

func (r *Registry) putControllerDirectoryEntry(ctx context.Context, id string) error {
	return r.store.Set(ctx, controllerDirectoryKey(id), []byte(id), cnst.ClientTTL)
}

func (r *Registry) notifyControllers(ctx context.Context, verb, clientID string) {
	controllerIDs, err := r.ListControllers(ctx)
	if err != nil {
		r.logger.Warn("failed to list controllers for notification", zap.String("verb", verb), zap.Error(err))
		return
	}
	notification := Notification{Verb: verb, ClientID: clientID}
	for _, controllerID := range controllerIDs {
		if err := r.delivery.DeliverOrQueue(ctx, controllerID, notification); err != nil {
			r.logger.Warn("failed to notify controller",
				zap.String("controllerId", controllerID),
				zap.String("verb", verb),
				zap.Error(err))
		}
	}
}
