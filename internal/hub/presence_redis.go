package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// presenceEvent is the wire shape published to the Redis channel so a
// sibling hub process can rebroadcast it to its own connected peers.
type presenceEvent struct {
	UserID string `json:"user_id"`
	Online bool   `json:"online"`
}

// RedisPresence fans user_status_update events out to other hub processes
// behind a load balancer over a Redis pub/sub channel. It implements
// PresencePublisher; a Hub with no RedisPresence attached runs single-
// process with no fan-out, which is the default.
//
// Grounded on the teacher's internal/store/redis/redis.go Client wrapper
// (Publish/Subscribe over go-redis), narrowed to the one channel wisp needs.
type RedisPresence struct {
	rdb     *redis.Client
	channel string
	logger  zerolog.Logger
}

// NewRedisPresence dials Redis, pings it, and returns a publisher bound to
// channel. Subscribe separately via Run to rebroadcast incoming events.
func NewRedisPresence(cfg PresenceRedisConfig, logger zerolog.Logger) (*RedisPresence, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("hub: ping redis presence backplane: %w", err)
	}

	return &RedisPresence{rdb: rdb, channel: cfg.Channel, logger: logger.With().Str("component", "hub_presence_redis").Logger()}, nil
}

// PublishStatus implements PresencePublisher.
// Complexity: O(1)
func (p *RedisPresence) PublishStatus(ctx context.Context, userID string, online bool) error {
	data, err := json.Marshal(presenceEvent{UserID: userID, Online: online})
	if err != nil {
		return fmt.Errorf("hub: marshal presence event: %w", err)
	}
	if err := p.rdb.Publish(ctx, p.channel, data).Err(); err != nil {
		return fmt.Errorf("hub: publish presence event: %w", err)
	}
	return nil
}

// Run subscribes to the presence channel and invokes onRemoteStatus for
// every event published by a sibling hub process, until ctx is canceled.
// The caller (typically the Hub that owns the local socketByUser registry)
// is responsible for broadcasting the event to its own connected peers.
func (p *RedisPresence) Run(ctx context.Context, onRemoteStatus func(userID string, online bool)) error {
	sub := p.rdb.Subscribe(ctx, p.channel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var evt presenceEvent
			if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
				p.logger.Warn().Err(err).Msg("discarding malformed presence event")
				continue
			}
			onRemoteStatus(evt.UserID, evt.Online)
		}
	}
}

// Ping checks that the Redis backplane is still reachable.
func (p *RedisPresence) Ping(ctx context.Context) error {
	return p.rdb.Ping(ctx).Err()
}

// Close releases the underlying Redis connection.
func (p *RedisPresence) Close() error {
	return p.rdb.Close()
}

// PresenceRedisConfig is the subset of internal/config's PresenceConfig
// RedisPresence needs; kept decoupled from internal/config so internal/hub
// does not import it directly.
type PresenceRedisConfig struct {
	Host         string
	Port         int
	Password     string
	DB           int
	Channel      string
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}
