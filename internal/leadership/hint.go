package leadership

import (
	"context"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// HintChannel is the Redis Pub/Sub channel a Publisher announces on and a
// HintSubscriber listens to. It is a best-effort latency optimization on
// top of the KV-polled ChangeNotification, which remains authoritative —
// a missed publish only costs a missed Pub/Sub wakeup, never a missed
// transition, because the Poller's next tick re-reads the KV record
// regardless.
const HintChannel = "relay:leadership:changed"

// Publisher announces a leadership change over Redis Pub/Sub immediately
// after the authoritative KV write, so every instance's Poller can wake
// early instead of waiting out its tick interval.
type Publisher struct {
	logger *zap.Logger
	client *redis.Client
}

// NewPublisher wraps an existing Redis client. Pass nil to disable the
// fast path entirely (e.g. when the kv backend is in-memory); Publish then
// becomes a no-op.
func NewPublisher(logger *zap.Logger, client *redis.Client) *Publisher {
	return &Publisher{logger: logger.Named("leadership.hint"), client: client}
}

// Publish emits a hint. Failures are logged and swallowed: the poller's
// next scheduled tick still converges on the same state via the KV record.
func (p *Publisher) Publish(ctx context.Context) {
	if p.client == nil {
		return
	}
	if err := p.client.Publish(ctx, HintChannel, "1").Err(); err != nil {
		p.logger.Debug("failed to publish leadership change hint", zap.Error(err))
	}
}

// RunHintSubscriber blocks, calling poller.Tick immediately on every hint
// received, until ctx is canceled. Intended to run alongside Poller.Run as
// a second goroutine; it never replaces the ticker-driven poll.
func RunHintSubscriber(ctx context.Context, logger *zap.Logger, client *redis.Client, poller *Poller) {
	if client == nil {
		return
	}
	sub := client.Subscribe(ctx, HintChannel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-ch:
			if !ok {
				return
			}
			poller.Tick(ctx)
		}
	}
}
