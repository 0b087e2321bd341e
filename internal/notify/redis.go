// internal/notify/redis.go
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/harborline/meridian/internal/region"
)

// RedisConfig configures the redis notifier.
type RedisConfig struct {
	Address  string
	Password string
	DB       int
}

// RedisNotifier publishes region-change events on a well-known channel and
// mirrors the current region under a TTL'd key.
type RedisNotifier struct {
	rdb    *redis.Client
	logger *zap.Logger
}

// NewRedisNotifier connects to the redis backend and verifies the
// connection with a bounded ping.
func NewRedisNotifier(cfg *RedisConfig, logger *zap.Logger) (*RedisNotifier, error) {
	if cfg == nil {
		return nil, fmt.Errorf("redis config is required")
	}
	if cfg.Address == "" {
		cfg.Address = "localhost:6379"
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisNotifier{rdb: rdb, logger: logger}, nil
}

// RegionChanged implements Notifier.
func (n *RedisNotifier) RegionChanged(ctx context.Context, newRegion region.Region, at time.Time) error {
	payload, err := json.Marshal(Event{
		Event:     EventRegionChange,
		NewRegion: newRegion.String(),
		Timestamp: at,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal region change: %w", err)
	}

	if err := n.rdb.Publish(ctx, ChannelRegionChange, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish region change: %w", err)
	}

	if err := n.rdb.Set(ctx, KeyCurrentRegion, newRegion.String(), CurrentRegionTTL).Err(); err != nil {
		return fmt.Errorf("failed to store current region: %w", err)
	}

	n.logger.Info("region change published",
		zap.Stringer("new_region", newRegion),
		zap.Time("at", at))
	return nil
}

// Close releases the redis connection.
func (n *RedisNotifier) Close() error {
	return n.rdb.Close()
}
