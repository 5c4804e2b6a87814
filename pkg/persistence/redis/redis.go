// Package redis provides a Redis persistence backend for workflows and run state.
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/canvasflow/pkg/persistence"
	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix  = "canvasflow:"
	maxRetries = 10
)

// Persistence stores records as JSON values. Status updates use WATCH/MULTI
// so concurrent writers to the same run never overwrite each other.
type Persistence struct {
	client *redis.Client
	logger *slog.Logger
}

// NewPersistence connects to the Redis server at url (redis://host:port/db).
func NewPersistence(ctx context.Context, logger *slog.Logger, url string) (*Persistence, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err = client.Ping(pingCtx).Err()
	if err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.InfoContext(ctx, "Connected to Redis", "addr", opts.Addr, "db", opts.DB)

	return &Persistence{client: client, logger: logger}, nil
}

func (p *Persistence) WorkflowRepository() persistence.WorkflowRepository {
	return &workflowRepository{client: p.client}
}

func (p *Persistence) RunRepository() persistence.RunRepository {
	return &runRepository{client: p.client}
}

// HealthCheck pings the server.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.client.Ping(ctx).Err()
	if err != nil {
		return fmt.Errorf("failed to ping redis: %w", err)
	}

	return nil
}

func (p *Persistence) Close(_ context.Context) error {
	err := p.client.Close()
	if err != nil {
		return fmt.Errorf("failed to close redis client: %w", err)
	}

	return nil
}

// watch runs fn under WATCH on keys, retrying when another client changed them first.
func watch(ctx context.Context, client *redis.Client, fn func(tx *redis.Tx) error, keys ...string) error {
	for range maxRetries {
		err := client.Watch(ctx, fn, keys...)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}

		return err
	}

	return fmt.Errorf("gave up after %d conflicting transactions: %w", maxRetries, redis.TxFailedErr)
}

func score(t time.Time) float64 {
	return float64(t.UnixMicro())
}

