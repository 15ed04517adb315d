package discovery

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom/encoding/ewkb"

	"github.com/sells-group/lead-pipeline/internal/db"
	"github.com/sells-group/lead-pipeline/internal/geo"
)

// CellSearch records one searched cell of a plan.
type CellSearch struct {
	RunID      string
	Category   string
	CellIndex  int
	Box        geo.BoundingBox
	Results    int
	Pages      int
	SearchedAt time.Time
}

// CellRecorder persists searched cells for coverage audits.
type CellRecorder interface {
	RecordCells(ctx context.Context, cells []CellSearch) error
}

const cellAuditMigration = `
CREATE TABLE IF NOT EXISTS searched_cells (
	run_id      TEXT NOT NULL,
	category    TEXT NOT NULL,
	cell_index  INT NOT NULL,
	bbox        GEOMETRY(Polygon, 4326) NOT NULL,
	results     INT NOT NULL,
	pages       INT NOT NULL,
	searched_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (run_id, category, cell_index)
);
CREATE INDEX IF NOT EXISTS idx_searched_cells_bbox ON searched_cells USING GIST (bbox);
`

var cellAuditColumns = []string{"run_id", "category", "cell_index", "bbox", "results", "pages", "searched_at"}

// PostgresRecorder writes searched cells to PostGIS with COPY.
type PostgresRecorder struct {
	pool db.Pool
}

// NewPostgresRecorder creates a PostgresRecorder over pool.
func NewPostgresRecorder(pool db.Pool) *PostgresRecorder {
	return &PostgresRecorder{pool: pool}
}

// Migrate creates the searched_cells table.
func (r *PostgresRecorder) Migrate(ctx context.Context) error {
	return db.Migrate(ctx, r.pool, "searched_cells", cellAuditMigration)
}

// RecordCells implements CellRecorder.
func (r *PostgresRecorder) RecordCells(ctx context.Context, cells []CellSearch) error {
	rows := make([][]any, 0, len(cells))
	for _, c := range cells {
		wkb, err := ewkb.Marshal(c.Box.Polygon(), ewkb.NDR)
		if err != nil {
			return eris.Wrapf(err, "discovery: encode cell %d", c.CellIndex)
		}
		rows = append(rows, []any{c.RunID, c.Category, c.CellIndex, wkb, c.Results, c.Pages, c.SearchedAt})
	}
	_, err := db.CopyFrom(ctx, r.pool, "searched_cells", cellAuditColumns, rows)
	return eris.Wrap(err, "discovery: record cells")
}

func newRunID() string {
	return uuid.NewString()
}
