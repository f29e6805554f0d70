package leadership

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/patchline/relay/internal/common/cnst"
	"github.com/patchline/relay/internal/kv"
)

// Metrics is the leadership-transition counter a Service reports through.
type Metrics interface {
	LeadershipChanged()
}

// Service implements the pure-KV half of 4.D: getActive, setActive, clear,
// and forceReset. It holds no in-memory leadership state of its own — the
// KV record is authoritative, per the spec's shared-resource policy.
type Service struct {
	logger     *zap.Logger
	store      kv.Store
	instanceID string
	hint       *Publisher
	metrics    Metrics
}

// New constructs a Service. hint may be nil to disable the Redis Pub/Sub
// fast path (§3.1); the KV-polled notification remains correct either way.
func New(logger *zap.Logger, store kv.Store, instanceID string, hint *Publisher) *Service {
	return &Service{
		logger:     logger.Named("leadership"),
		store:      store,
		instanceID: instanceID,
		hint:       hint,
	}
}

// SetMetrics attaches the leadership-transition counter. Optional.
func (s *Service) SetMetrics(m Metrics) {
	s.metrics = m
}

// GetActive implements getActive(): reads the record and returns nil if it
// is absent. If it has expired past HEARTBEAT_TIMEOUT, it is deleted, a
// null notification is published, and GetActive returns nil.
func (s *Service) GetActive(ctx context.Context) (*Record, error) {
	record, ok, err := s.readRecord(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	if record.expired(time.Now(), cnst.HeartbeatTimeout) {
		if err := s.store.Delete(ctx, controllerRecordKey); err != nil {
			return nil, fmt.Errorf("leadership: delete expired record: %w", err)
		}
		if err := s.publishNotification(ctx, nil); err != nil {
			return nil, fmt.Errorf("leadership: publish expiry notification: %w", err)
		}
		return nil, nil
	}
	return &record, nil
}

// SetActive implements setActive(id, isHeartbeat).
//
//   - Same id: rewrites the heartbeat timestamp only (ActivatedAt is
//     preserved). changed is always false.
//   - Different id, isHeartbeat: rejected — a non-leader's heartbeat never
//     seizes leadership. changed is false, current names the incumbent.
//   - Different id, not a heartbeat: overwrites the record (fresh
//     ActivatedAt), publishes a ChangeNotification, changed is true.
func (s *Service) SetActive(ctx context.Context, id string, isHeartbeat bool) (current *Record, changed bool, err error) {
	existing, ok, err := s.readRecord(ctx)
	if err != nil {
		return nil, false, err
	}

	now := time.Now()
	active := ok && !existing.expired(now, cnst.HeartbeatTimeout)

	if active && existing.ID == id {
		existing.Timestamp = now
		if err := s.writeRecord(ctx, existing); err != nil {
			return nil, false, err
		}
		if isHeartbeat {
			s.logger.Debug("heartbeat refreshed leadership timestamp", zap.String("controllerId", id))
		} else {
			s.logger.Info("leader re-activated its own leadership", zap.String("controllerId", id))
		}
		return &existing, false, nil
	}

	if isHeartbeat {
		// A non-leader's heartbeat never seizes leadership, whether the
		// incumbent is a different id or there is no leader at all.
		if active {
			return &existing, false, nil
		}
		return nil, false, nil
	}

	record := Record{
		ID:          id,
		Timestamp:   now,
		ActivatedAt: now,
		InstanceID:  s.instanceID,
	}
	if err := s.writeRecord(ctx, record); err != nil {
		return nil, false, err
	}
	if err := s.publishNotification(ctx, &id); err != nil {
		return nil, false, fmt.Errorf("leadership: publish activation notification: %w", err)
	}
	s.logger.Info("leadership transitioned", zap.String("controllerId", id))
	return &record, true, nil
}

// Clear implements clear(id): permitted only if id is the current leader.
func (s *Service) Clear(ctx context.Context, id string) error {
	existing, ok, err := s.readRecord(ctx)
	if err != nil {
		return err
	}
	if !ok || existing.ID != id {
		return fmt.Errorf("leadership: %q is not the current leader", id)
	}
	if err := s.store.Delete(ctx, controllerRecordKey); err != nil {
		return fmt.Errorf("leadership: delete record on clear: %w", err)
	}
	return s.publishNotification(ctx, nil)
}

// ForceReset implements forceReset(): deletes the record unconditionally.
// Administrative only — reached from the /controller/clear?admin_mode=true
// HTTP path.
func (s *Service) ForceReset(ctx context.Context) error {
	if err := s.store.Delete(ctx, controllerRecordKey); err != nil {
		return fmt.Errorf("leadership: delete record on force reset: %w", err)
	}
	return s.publishNotification(ctx, nil)
}

func (s *Service) readRecord(ctx context.Context) (Record, bool, error) {
	data, err := s.store.Get(ctx, controllerRecordKey)
	if err != nil {
		if err == kv.ErrNotFound {
			return Record{}, false, nil
		}
		return Record{}, false, fmt.Errorf("leadership: read record: %w", err)
	}
	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return Record{}, false, fmt.Errorf("leadership: unmarshal record: %w", err)
	}
	return record, true, nil
}

func (s *Service) writeRecord(ctx context.Context, record Record) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("leadership: marshal record: %w", err)
	}
	// No TTL: explicit expiry is enforced by GetActive comparing against
	// HeartbeatTimeout, matching the spec's "next read deletes it" rule
	// rather than relying on the store's own clock.
	return s.store.Set(ctx, controllerRecordKey, data, 0)
}

func (s *Service) publishNotification(ctx context.Context, controllerID *string) error {
	notification := ChangeNotification{
		ControllerID:   controllerID,
		NotificationID: uuid.NewString(),
		Timestamp:      time.Now(),
	}
	data, err := json.Marshal(notification)
	if err != nil {
		return fmt.Errorf("leadership: marshal notification: %w", err)
	}
	if err := s.store.Set(ctx, changeNotificationKey, data, 0); err != nil {
		return err
	}
	if s.hint != nil {
		s.hint.Publish(ctx)
	}
	if s.metrics != nil {
		s.metrics.LeadershipChanged()
	}
	return nil
}

// readNotification exposes the current ChangeNotification for the Poller.
func (s *Service) readNotification(ctx context.Context) (ChangeNotification, bool, error) {
	data, err := s.store.Get(ctx, changeNotificationKey)
	if err != nil {
		if err == kv.ErrNotFound {
			return ChangeNotification{}, false, nil
		}
		return ChangeNotification{}, false, fmt.Errorf("leadership: read notification: %w", err)
	}
	var notification ChangeNotification
	if err := json.Unmarshal(data, &notification); err != nil {
		return ChangeNotification{}, false, fmt.Errorf("leadership: unmarshal notification: %w", err)
	}
	return notification, true, nil
}
