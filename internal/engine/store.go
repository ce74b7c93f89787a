package engine

import (
	"context"
	"fmt"

	"github.com/alberthild/vainplex-openclaw-sub002/internal/config"
	"github.com/alberthild/vainplex-openclaw-sub002/internal/trust"
)

// OpenStore returns the trust store named by cfg. The close function is
// non-nil when the store holds a connection.
func OpenStore(ctx context.Context, cfg config.StoreConfig) (trust.Store, func() error, error) {
	switch cfg.Backend {
	case "", config.BackendFile:
		path := cfg.Path
		if path == "" {
			path = trust.DefaultPath()
		}
		return trust.NewFileStore(path), nil, nil
	case config.BackendRedis:
		client, err := trust.DialRedis(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("engine: %w", err)
		}
		return trust.NewRedisStore(client, cfg.RedisKey), client.Close, nil
	default:
		return nil, nil, fmt.Errorf("engine: unknown trust store backend %q", cfg.Backend)
	}
}
