package leadership

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/patchline/relay/internal/common/cnst"
)

// Broadcaster is how a Poller reaches the synths attached to this instance.
// The router's Hub implements it; leadership never imports the router
// package, keeping the dependency one-directional.
type Broadcaster interface {
	BroadcastActiveController(ctx context.Context, controllerID *string, timestamp time.Time)
}

// Poller runs the per-instance notification-dispatch loop described in
// 4.D: it reads the ChangeNotification on a fixed interval and broadcasts
// it to locally attached synths exactly once per notificationId.
type Poller struct {
	logger      *zap.Logger
	service     *Service
	broadcaster Broadcaster
	interval    time.Duration

	lastProcessed string
}

// NewPoller constructs a Poller. An interval of zero defaults to
// cnst.DefaultPollInterval.
func NewPoller(logger *zap.Logger, service *Service, broadcaster Broadcaster, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = cnst.DefaultPollInterval
	}
	return &Poller{
		logger:      logger.Named("leadership.poller"),
		service:     service,
		broadcaster: broadcaster,
		interval:    interval,
	}
}

// Run blocks, polling until ctx is canceled.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

// Tick runs one poll cycle. Exported so a Redis Pub/Sub fast-path
// subscriber can invoke it immediately on a hint, instead of waiting for
// the next ticker fire.
func (p *Poller) Tick(ctx context.Context) {
	p.tick(ctx)
}

func (p *Poller) tick(ctx context.Context) {
	notification, ok, err := p.service.readNotification(ctx)
	if err != nil {
		p.logger.Warn("failed to read change notification", zap.Error(err))
		return
	}
	if !ok {
		return
	}
	if notification.NotificationID == p.lastProcessed {
		return
	}
	if notification.stale(time.Now(), cnst.NotificationStaleAfter) {
		p.logger.Debug("discarding stale change notification",
			zap.String("notificationId", notification.NotificationID),
			zap.Time("timestamp", notification.Timestamp))
		p.lastProcessed = notification.NotificationID
		return
	}

	p.lastProcessed = notification.NotificationID
	p.broadcaster.BroadcastActiveController(ctx, notification.ControllerID, notification.Timestamp)
}
