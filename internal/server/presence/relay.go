package presence

import (
	"context"
	"fmt"

	"github.com/kaytervn/msa-backend/internal/logging"
	"github.com/redis/go-redis/v9"
)

// Relay fans per-user device locks out to every instance sharing a Redis
// server. Each instance runs one Relay over its own Broker; a lock published
// anywhere reaches the instance that holds the user's connection.
type Relay struct {
	client  *redis.Client
	channel string
	local   *Broker
	logger  logging.Logger
}

func NewRelay(client *redis.Client, channel string, local *Broker, logger logging.Logger) *Relay {
	return &Relay{
		client:  client,
		channel: channel,
		local:   local,
		logger:  logger.With("module", "presence_relay"),
	}
}

// ForceLogout publishes the lock for username. When the publish fails or no
// instance is subscribed yet, the lock is applied to the local broker.
func (r *Relay) ForceLogout(ctx context.Context, username string) {
	n, err := r.client.Publish(ctx, r.channel, username).Result()
	if err != nil {
		r.logger.Warn(ctx, "lock publish failed, locking locally", "username", username, "error", err)
		r.local.ForceLogout(ctx, username)
		return
	}
	if n == 0 {
		r.local.ForceLogout(ctx, username)
	}
}

// Run applies published locks to the local broker until ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}
	r.logger.Debug(ctx, "relay subscribed", "channel", r.channel)

	msgs := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			r.local.ForceLogout(ctx, msg.Payload)
		}
	}
}
