package session

import (
	"context"
	"errors"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-pipeline/internal/db"
)

const postgresMigration = `
CREATE TABLE IF NOT EXISTS session_documents (
	id         TEXT PRIMARY KEY,
	body       JSONB NOT NULL DEFAULT '{}'::jsonb,
	version    BIGINT NOT NULL DEFAULT 1,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// PostgresStore keeps session documents in a jsonb column with a version
// counter used for compare-and-swap writes.
type PostgresStore struct {
	pool db.Pool
}

// NewPostgresStore returns a PostgresStore over pool.
func NewPostgresStore(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate creates the session table.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	return db.Migrate(ctx, s.pool, "session_documents", postgresMigration)
}

// Read implements Store.
func (s *PostgresStore) Read(ctx context.Context, id string) (Document, error) {
	doc, _, err := s.ReadVersion(ctx, id)
	return doc, err
}

// ReadVersion implements VersionedStore.
func (s *PostgresStore) ReadVersion(ctx context.Context, id string) (Document, Version, error) {
	var (
		body    []byte
		version int64
	)
	err := s.pool.QueryRow(ctx,
		`SELECT body, version FROM session_documents WHERE id = $1`, id,
	).Scan(&body, &version)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, NoVersion, ErrNotFound
	}
	if err != nil {
		return nil, NoVersion, eris.Wrapf(err, "session: postgres read %s", id)
	}
	doc, err := decode(body)
	if err != nil {
		return nil, NoVersion, err
	}
	return doc, Version(strconv.FormatInt(version, 10)), nil
}

// Write implements Store.
func (s *PostgresStore) Write(ctx context.Context, id string, doc Document) error {
	body, err := encode(doc)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO session_documents (id, body) VALUES ($1, $2::jsonb)
		 ON CONFLICT (id) DO UPDATE SET body = EXCLUDED.body,
		   version = session_documents.version + 1, updated_at = now()`,
		id, string(body),
	)
	return eris.Wrapf(err, "session: postgres write %s", id)
}

// WriteVersion implements VersionedStore.
func (s *PostgresStore) WriteVersion(ctx context.Context, id string, doc Document, expected Version) error {
	body, err := encode(doc)
	if err != nil {
		return err
	}

	if expected == NoVersion {
		tag, err := s.pool.Exec(ctx,
			`INSERT INTO session_documents (id, body) VALUES ($1, $2::jsonb) ON CONFLICT (id) DO NOTHING`,
			id, string(body),
		)
		if err != nil {
			return eris.Wrapf(err, "session: postgres create %s", id)
		}
		if tag.RowsAffected() == 0 {
			return ErrVersionConflict
		}
		return nil
	}

	want, err := strconv.ParseInt(string(expected), 10, 64)
	if err != nil {
		return eris.Wrapf(err, "session: postgres version %q", expected)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE session_documents SET body = $2::jsonb, version = version + 1, updated_at = now()
		 WHERE id = $1 AND version = $3`,
		id, string(body), want,
	)
	if err != nil {
		return eris.Wrapf(err, "session: postgres update %s", id)
	}
	if tag.RowsAffected() == 0 {
		return ErrVersionConflict
	}
	return nil
}

// Exists implements Store.
func (s *PostgresStore) Exists(ctx context.Context, id string) (bool, error) {
	var ok bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM session_documents WHERE id = $1)`, id,
	).Scan(&ok)
	if err != nil {
		return false, eris.Wrapf(err, "session: postgres exists %s", id)
	}
	return ok, nil
}
