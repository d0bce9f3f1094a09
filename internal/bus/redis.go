package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis channel names for cross-process consumers.
const (
	RedisEventsChannel  = "switchboard:events"
	RedisMatchesChannel = "switchboard:matches"
)

// RedisBridge republishes the event and match feeds onto Redis pub/sub
// channels for consumers outside this process. Publish failures are logged
// and swallowed; the bridge is a best-effort egress, never a gate on the
// in-memory path.
type RedisBridge struct {
	client *redis.Client
	bus    *Bus
	log    *slog.Logger
}

// NewRedisBridge connects to Redis and verifies the connection.
func NewRedisBridge(addr, password string, dbNum int, b *Bus, log *slog.Logger) (*RedisBridge, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: dbNum})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	if log == nil {
		log = slog.Default()
	}
	return &RedisBridge{client: client, bus: b, log: log}, nil
}

// Run forwards feeds until the context is canceled.
func (r *RedisBridge) Run(ctx context.Context) {
	events, cancelEvents := r.bus.Subscribe(TopicEvents, 256)
	matches, cancelMatches := r.bus.Subscribe(TopicMatches, 256)
	defer cancelEvents()
	defer cancelMatches()

	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-events:
			if !ok {
				return
			}
			r.forward(ctx, RedisEventsChannel, env)
		case env, ok := <-matches:
			if !ok {
				return
			}
			r.forward(ctx, RedisMatchesChannel, env)
		}
	}
}

func (r *RedisBridge) forward(ctx context.Context, channel string, env Envelope) {
	data, err := json.Marshal(env.Data)
	if err != nil {
		r.log.Warn("redis bridge: marshal failed", "channel", channel, "error", err)
		return
	}
	if err := r.client.Publish(ctx, channel, data).Err(); err != nil {
		r.log.Warn("redis bridge: publish failed", "channel", channel, "error", err)
	}
}

// Close releases the Redis connection.
func (r *RedisBridge) Close() error {
	return r.client.Close()
}
