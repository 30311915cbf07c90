package monitoring

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// AddRedisCheck adds a Redis ping check
func (h *HealthChecker) AddRedisCheck(client redis.UniversalClient, timeout time.Duration) {
	h.AddCheck("redis", func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}, timeout)
}

// AddMediaEngineCheck fails once the engine has been shut down.
func (h *HealthChecker) AddMediaEngineCheck(closed func() bool, timeout time.Duration) {
	h.AddCheck("media_engine", func(ctx context.Context) error {
		if closed() {
			return errors.New("media engine closed")
		}
		return nil
	}, timeout)
}
