package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/canvasflow/pkg/persistence"
	"github.com/dukex/canvasflow/pkg/persistence/file"
	"github.com/dukex/canvasflow/pkg/persistence/memory"
	"github.com/dukex/canvasflow/pkg/persistence/postgresql"
	"github.com/dukex/canvasflow/pkg/persistence/redis"
)

var supportedPersistenceProviders = []string{"file", "memory", "postgres", "postgresql", "redis", "rediss"}

// NewPersistence opens the store named by databaseURL's scheme. URLs
// without a known scheme are treated as file system paths.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	provider := parsePersistenceProvider(databaseURL)

	logger.InfoContext(ctx, "Opening persistence", "provider", provider)

	var (
		p   persistence.Persistence
		err error
	)

	switch provider {
	case "memory":
		p, err = open(memory.NewPersistence())
	case "postgres", "postgresql":
		p, err = open(postgresql.NewPersistence(ctx, logger, databaseURL))
	case "redis", "rediss":
		p, err = open(redis.NewPersistence(ctx, logger, databaseURL))
	case "file":
		p = file.NewPersistence(databaseURL)
	default:
		err = fmt.Errorf("unsupported persistence provider %q", provider)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open %s persistence: %w", provider, err)
	}

	return p, nil
}

// open drops the typed nil a failed constructor returns.
func open[P persistence.Persistence](p P, err error) (persistence.Persistence, error) {
	if err != nil {
		return nil, err
	}

	return p, nil
}

func parsePersistenceProvider(databaseURL string) string {
	scheme, _, found := strings.Cut(databaseURL, "://")
	if !found {
		return "file"
	}

	for _, supported := range supportedPersistenceProviders {
		if scheme == supported {
			return scheme
		}
	}

	return scheme
}
