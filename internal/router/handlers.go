package router

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/patchline/relay/internal/common/cnst"
)

// handleRegister implements the "register" verb: calls the registry,
// binds the session's id, and replies per 4.C.
func (h *Hub) handleRegister(ctx context.Context, sess *session, frame Frame) (string, error) {
	var body RegisterFrame
	if err := json.Unmarshal(frame.Raw, &body); err != nil {
		return "", fmt.Errorf("router: unmarshal register frame: %w", err)
	}
	if body.ID == "" {
		return "", fmt.Errorf("router: register frame missing id")
	}

	record, reconnected, err := h.registry.Register(ctx, body.ID, sess, body.IsReconnect)
	if err != nil {
		return "", fmt.Errorf("router: registry register: %w", err)
	}
	sess.bind(body.ID)

	confirmed := RegistrationConfirmedFrame{
		Type:              VerbRegistrationConfirmed,
		ID:                body.ID,
		ReconnectionCount: record.ReconnectionCount,
		Timestamp:         time.Now().UnixMilli(),
		IsReconnection:    reconnected,
	}
	if err := sess.writeJSON(confirmed); err != nil {
		h.logger.Warn("failed to send registration-confirmed", zap.String("id", body.ID), zap.Error(err))
	}

	if cnst.IsSynth(body.ID) {
		h.sendActiveController(ctx, sess)
	} else if cnst.IsController(body.ID) {
		h.sendClientList(ctx, sess)
	}

	return body.ID, nil
}

func (h *Hub) sendActiveController(ctx context.Context, sess *session) {
	active, err := h.leadership.GetActive(ctx)
	if err != nil {
		h.logger.Warn("failed to read active controller for registration push", zap.Error(err))
		return
	}
	var controllerID *string
	ts := time.Now()
	if active != nil {
		controllerID = &active.ID
		ts = active.Timestamp
	}
	frame := ActiveControllerFrame{Type: VerbActiveController, ControllerID: controllerID, Timestamp: ts.UnixMilli()}
	if err := sess.writeJSON(frame); err != nil {
		h.logger.Warn("failed to push active-controller on registration", zap.Error(err))
	}
}

func (h *Hub) sendClientList(ctx context.Context, sess *session) {
	frame, err := h.buildClientListFrame(ctx)
	if err != nil {
		h.logger.Warn("failed to build client list", zap.Error(err))
		return
	}
	if err := sess.writeJSON(frame); err != nil {
		h.logger.Warn("failed to push client-list on registration", zap.Error(err))
	}
}

func (h *Hub) buildClientListFrame(ctx context.Context) (ClientListFrame, error) {
	listings, err := h.registry.ListSynths(ctx, h.reaper.PeerConnected)
	if err != nil {
		return ClientListFrame{}, err
	}
	entries := make([]ClientListEntry, 0, len(listings))
	for _, l := range listings {
		entries = append(entries, ClientListEntry{
			ID:        l.ID,
			Connected: l.HasLocalSocket || l.PeerConnected,
			LastSeen:  l.LastSeen.UnixMilli(),
		})
	}
	return ClientListFrame{Type: VerbClientList, Clients: entries}, nil
}

// handleHeartbeat implements "heartbeat": refreshes lastSeen, replies
// heartbeat_ack.
func (h *Hub) handleHeartbeat(ctx context.Context, sess *session) {
	if _, err := h.registry.Touch(ctx, sess.ID()); err != nil {
		h.logger.Warn("heartbeat touch failed", zap.String("id", sess.ID()), zap.Error(err))
	}
	ack := HeartbeatAckFrame{Type: VerbHeartbeatAck, Timestamp: time.Now().UnixMilli()}
	if err := sess.writeJSON(ack); err != nil {
		h.logger.Warn("failed to send heartbeat_ack", zap.String("id", sess.ID()), zap.Error(err))
	}
}

// handleControllerHeartbeat implements "controller-heartbeat": refreshes
// the client list and returns it.
func (h *Hub) handleControllerHeartbeat(ctx context.Context, sess *session) {
	if _, err := h.registry.Touch(ctx, sess.ID()); err != nil {
		h.logger.Warn("controller heartbeat touch failed", zap.String("id", sess.ID()), zap.Error(err))
	}
	h.sendClientList(ctx, sess)
}

// handleControllerActivate implements "controller-activate": setActive,
// broadcast leadership, push the synth list immediately, schedule a
// delayed reaper sweep.
func (h *Hub) handleControllerActivate(ctx context.Context, controllerID string) {
	_, _, err := h.leadership.SetActive(ctx, controllerID, false)
	if err != nil {
		h.logger.Warn("controller-activate failed", zap.String("id", controllerID), zap.Error(err))
		return
	}

	if sess, ok := h.localSession(controllerID); ok {
		h.sendClientList(ctx, sess)
	}
	h.reaper.ScheduleDelayedSweep(ctx)
}

// handleControllerDeactivate implements "controller-deactivate": clears
// leadership if self is active.
func (h *Hub) handleControllerDeactivate(ctx context.Context, controllerID string) {
	if err := h.leadership.Clear(ctx, controllerID); err != nil {
		h.logger.Debug("controller-deactivate no-op, caller was not the active leader",
			zap.String("id", controllerID), zap.Error(err))
	}
}

// handleControllerConnections implements "controller-connections": updates
// the reaper's ActiveWebRTCMap for this controller, and runs a sweep if
// enough time has passed since activation.
func (h *Hub) handleControllerConnections(ctx context.Context, controllerID string, frame Frame) {
	var body ControllerConnectionsFrame
	if err := json.Unmarshal(frame.Raw, &body); err != nil {
		h.logger.Warn("failed to unmarshal controller-connections frame", zap.Error(err))
		return
	}
	h.reaper.UpdateConnections(controllerID, body.Connections)

	active, err := h.leadership.GetActive(ctx)
	if err != nil {
		h.logger.Warn("failed to read active controller for sweep gate", zap.Error(err))
		return
	}
	if active == nil || active.ID != controllerID {
		return
	}
	if time.Since(active.ActivatedAt) > cnst.GracePeriod/2 {
		h.reaper.Sweep(ctx)
	}
}

// handleRequestActiveController implements "request-active-controller":
// replies with the current leader id, or null.
func (h *Hub) handleRequestActiveController(ctx context.Context, sess *session) {
	h.sendActiveController(ctx, sess)
}

// handleSignaling implements offer/answer/ice-candidate: deliver to the
// target locally if present, otherwise queue. Source is stamped from the
// sender's bound id.
func (h *Hub) handleSignaling(ctx context.Context, senderID string, frame Frame) {
	var body SignalingFrame
	if err := json.Unmarshal(frame.Raw, &body); err != nil {
		h.logger.Warn("dropping malformed signaling frame", zap.String("type", frame.Type), zap.Error(err))
		return
	}
	if body.Target == "" {
		h.logger.Warn("dropping signaling frame with no target", zap.String("type", frame.Type))
		return
	}
	body.Type = frame.Type
	body.Source = senderID

	if h.metrics != nil {
		h.metrics.SignalingMessage(frame.Type)
	}

	if sess, ok := h.localSession(body.Target); ok {
		if err := sess.writeJSON(body); err == nil {
			return
		}
	}
	if err := h.queueMessage(ctx, body.Target, body); err != nil {
		h.logger.Warn("failed to queue signaling frame",
			zap.String("type", frame.Type), zap.String("target", body.Target), zap.Error(err))
	}
}
