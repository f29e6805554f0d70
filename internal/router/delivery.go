package router

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/patchline/relay/internal/common/cnst"
	"github.com/patchline/relay/internal/registry"
)

// DeliverOrQueue implements registry.Delivery: used only to notify
// controllers of connect/reconnect/disconnect events. Delivered to a local
// socket if the controller is attached here, otherwise queued through the
// KV store for whichever instance holds it to pick up.
func (h *Hub) DeliverOrQueue(ctx context.Context, recipientID string, notification registry.Notification) error {
	frame := LifecycleFrame{Type: notification.Verb, ClientID: notification.ClientID}
	if sess, ok := h.localSession(recipientID); ok {
		if err := sess.writeJSON(frame); err == nil {
			return nil
		}
		// Socket send failure falls back to queuing, per §7.
	}
	return h.queueMessage(ctx, recipientID, frame)
}

// BroadcastActiveController implements leadership.Broadcaster: sends
// active-controller{controllerId, timestamp} to every locally attached
// synth. Failures fall back to queuing, same as any other delivery.
func (h *Hub) BroadcastActiveController(ctx context.Context, controllerID *string, timestamp time.Time) {
	frame := ActiveControllerFrame{
		Type:         VerbActiveController,
		ControllerID: controllerID,
		Timestamp:    timestamp.UnixMilli(),
	}

	h.mu.Lock()
	recipients := make([]*session, 0, len(h.sessions))
	for id, sess := range h.sessions {
		if cnst.IsSynth(id) {
			recipients = append(recipients, sess)
		}
	}
	h.mu.Unlock()

	for _, sess := range recipients {
		if err := sess.writeJSON(frame); err != nil {
			if qerr := h.queueMessage(ctx, sess.ID(), frame); qerr != nil {
				h.logger.Warn("failed to queue active-controller notification",
					zap.String("recipient", sess.ID()), zap.Error(qerr))
			}
		}
	}
}

// NotifyControllers delivers verb to every registered controller, locally
// or via the queue, through DeliverOrQueue — the same path the registry's
// own lifecycle notifications take.
func (h *Hub) NotifyControllers(ctx context.Context, verb, clientID string) {
	controllerIDs, err := h.registry.ListControllers(ctx)
	if err != nil {
		h.logger.Warn("failed to list controllers for notification", zap.Error(err))
		return
	}
	for _, id := range controllerIDs {
		if err := h.DeliverOrQueue(ctx, id, registry.Notification{Verb: verb, ClientID: clientID}); err != nil {
			h.logger.Warn("failed to notify controller", zap.String("controllerId", id), zap.Error(err))
		}
	}
}

func (h *Hub) localSession(id string) (*session, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	sess, ok := h.sessions[id]
	if !ok || sess.isClosed() {
		return nil, false
	}
	return sess, true
}

// queueMessage implements 4.C's queueMessage(target, envelope): writes a
// ULID-keyed entry under messages/<recipient>/<ulid> with QUEUE_TTL, giving
// FIFO order within a recipient.
func (h *Hub) queueMessage(ctx context.Context, recipientID string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("router: marshal queued message: %w", err)
	}
	id := ulid.Make().String()
	if err := h.store.Set(ctx, messageQueueKey(recipientID, id), data, cnst.QueueTTL); err != nil {
		return err
	}
	if h.metrics != nil {
		h.metrics.IncQueuedMessages()
	}
	return nil
}

// pollOutbound drains sess's queued messages in key (ULID) order every
// outboundPollInterval, per 4.C's outbound polling timer. Draining is
// best-effort per tick; anything left over is taken on the next tick.
func (h *Hub) pollOutbound(ctx context.Context, sess *session) {
	ticker := time.NewTicker(h.outboundPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.drainOnce(ctx, sess)
		}
	}
}

func (h *Hub) drainOnce(ctx context.Context, sess *session) {
	id := sess.ID()
	entries, err := h.store.List(ctx, messageQueuePrefix(id))
	if err != nil {
		h.logger.Warn("failed to list queued messages", zap.String("id", id), zap.Error(err))
		return
	}
	for _, entry := range entries {
		var raw json.RawMessage = entry.Value
		if err := sess.writeJSON(raw); err != nil {
			h.logger.Warn("failed to deliver queued message, leaving for next tick",
				zap.String("id", id), zap.Error(err))
			return
		}
		if err := h.store.Delete(ctx, entry.Key); err != nil {
			h.logger.Warn("failed to delete delivered queued message", zap.String("key", entry.Key.String()), zap.Error(err))
			continue
		}
		if h.metrics != nil {
			h.metrics.DecQueuedMessages()
		}
	}
}
