package queue

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-pipeline/internal/config"
	"github.com/sells-group/lead-pipeline/internal/db"
)

// Open builds the Log selected by cfg.Driver. pool is only used by the
// postgres driver.
func Open(ctx context.Context, cfg config.QueueConfig, pool db.Pool) (Log, error) {
	switch cfg.Driver {
	case "", "sqlite":
		return OpenSQLite(ctx, cfg.Path)
	case "postgres":
		if pool == nil {
			return nil, eris.New("queue: postgres driver requires a database pool")
		}
		l := NewPostgresLog(pool)
		if err := l.Migrate(ctx); err != nil {
			return nil, err
		}
		return l, nil
	default:
		return nil, eris.Errorf("queue: unknown driver %q", cfg.Driver)
	}
}

// WorkerConfigFrom converts queue settings to a WorkerConfig.
func WorkerConfigFrom(cfg config.QueueConfig) WorkerConfig {
	return WorkerConfig{
		Lease:       config.Seconds(cfg.LeaseSecs),
		Poll:        config.Millis(cfg.PollMillis),
		MaxAttempts: cfg.MaxAttempts,
	}
}
