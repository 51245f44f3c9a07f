package repositories

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"meshcall/internal/core/ports"
	"meshcall/internal/infrastructure/repositories/memory"
	"meshcall/internal/infrastructure/repositories/postgres"
	"meshcall/pkg/config"
)

// RepositoryFactory creates repositories with fallback support. Postgres
// is used when configured and reachable; otherwise everything runs on
// in-memory repositories.
type RepositoryFactory struct {
	usePostgres bool
	pool        *pgxpool.Pool
	logger      *zap.SugaredLogger
}

func NewRepositoryFactory(ctx context.Context, cfg *config.Config, logger *zap.SugaredLogger) (*RepositoryFactory, error) {
	factory := &RepositoryFactory{
		usePostgres: cfg.Postgres.Enabled,
		logger:      logger,
	}

	if cfg.Postgres.Enabled {
		pool, err := postgres.NewPool(ctx, cfg.Postgres.DSN, cfg.Postgres.MaxConns, logger)
		if err != nil {
			logger.Warnw("failed to connect to postgres, falling back to memory repositories",
				"error", err,
			)
			factory.usePostgres = false
		} else if err := postgres.Migrate(ctx, pool, logger); err != nil {
			logger.Warnw("failed to run migrations, falling back to memory repositories",
				"error", err,
			)
			pool.Close()
			factory.usePostgres = false
		} else {
			factory.pool = pool
			logger.Info("using postgres repositories")
		}
	}

	if !factory.usePostgres {
		logger.Info("using memory repositories")
	}

	return factory, nil
}

func (f *RepositoryFactory) CreateCallRepository() ports.CallRepository {
	if f.usePostgres && f.pool != nil {
		return postgres.NewCallRepository(f.pool)
	}
	return memory.NewCallRepository()
}

func (f *RepositoryFactory) CreateGroupCallRepository() ports.GroupCallRepository {
	if f.usePostgres && f.pool != nil {
		return postgres.NewGroupCallRepository(f.pool)
	}
	return memory.NewGroupCallRepository()
}

func (f *RepositoryFactory) CreateCallLogRepository() ports.CallLogRepository {
	if f.usePostgres && f.pool != nil {
		return postgres.NewCallLogRepository(f.pool)
	}
	return memory.NewCallLogRepository()
}

func (f *RepositoryFactory) Close() {
	if f.pool != nil {
		f.pool.Close()
	}
}

// HealthCheck verifies the backing store connection.
func (f *RepositoryFactory) HealthCheck(ctx context.Context) error {
	if f.usePostgres && f.pool != nil {
		return f.pool.Ping(ctx)
	}
	return nil
}
