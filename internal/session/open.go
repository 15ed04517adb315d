package session

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lead-pipeline/internal/config"
	"github.com/sells-group/lead-pipeline/internal/db"
)

// Open builds the Store selected by cfg.Driver. pool is only used by the
// postgres driver and may be nil otherwise.
func Open(ctx context.Context, cfg config.SessionConfig, pool db.Pool) (Store, error) {
	log := zap.L().With(zap.String("driver", cfg.Driver))

	switch cfg.Driver {
	case "", "file":
		s, err := NewFileStore(cfg.Dir)
		if err != nil {
			return nil, err
		}
		log.Debug("session: file store ready", zap.String("dir", cfg.Dir))
		return s, nil
	case "memory":
		return NewMemoryStore(), nil
	case "gcs":
		return NewGCSStore(ctx, cfg.Bucket)
	case "firestore":
		return NewFirestoreStore(ctx, cfg.Project, cfg.Collection)
	case "postgres":
		if pool == nil {
			return nil, eris.New("session: postgres driver requires a database pool")
		}
		s := NewPostgresStore(pool)
		if err := s.Migrate(ctx); err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, eris.Errorf("session: unknown driver %q", cfg.Driver)
	}
}
