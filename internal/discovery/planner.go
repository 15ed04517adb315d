// Package discovery finds candidate businesses by searching a grid of map
// cells for each business category and starting a session with the union
// of the identifiers found.
package discovery

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/lead-pipeline/internal/geo"
	"github.com/sells-group/lead-pipeline/pkg/google"
)

const (
	// DefaultCellMeters is the edge of one grid cell.
	DefaultCellMeters = 2000
	// DefaultCooldown is the wait before a continuation token is reused;
	// Places rejects tokens presented too early.
	DefaultCooldown = 5 * time.Second
)

// Searcher is the place-search operation the planner needs.
type Searcher interface {
	SearchText(ctx context.Context, req google.SearchTextRequest) (*google.SearchTextResponse, error)
}

// PlanRequest describes one grid search.
type PlanRequest struct {
	Center       geo.Coordinate
	RadiusMeters float64
	Categories   []string
}

// PlanResult summarizes a grid search.
type PlanResult struct {
	RunID    string
	IDs      []string
	Cells    int
	APICalls int
}

// Planner runs per-category, per-cell searches and unions the identifiers.
type Planner struct {
	search   Searcher
	limiter  *rate.Limiter
	cellSize float64
	cooldown time.Duration
	sleep    func(ctx context.Context, d time.Duration) error
	recorder CellRecorder
	newRunID func() string
}

// Option configures a Planner.
type Option func(*Planner)

// WithCellSize overrides the cell edge in meters.
func WithCellSize(meters float64) Option {
	return func(p *Planner) {
		if meters > 0 {
			p.cellSize = meters
		}
	}
}

// WithCooldown overrides the pagination cooldown.
func WithCooldown(d time.Duration) Option {
	return func(p *Planner) {
		p.cooldown = d
	}
}

// WithSleep replaces the cooldown sleep; tests use it to skip real waits.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(p *Planner) {
		p.sleep = fn
	}
}

// WithRateLimit caps search requests per second.
func WithRateLimit(perSecond float64) Option {
	return func(p *Planner) {
		if perSecond > 0 {
			p.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
		}
	}
}

// WithRecorder sets the cell audit sink.
func WithRecorder(r CellRecorder) Option {
	return func(p *Planner) {
		p.recorder = r
	}
}

// NewPlanner creates a Planner searching through s.
func NewPlanner(s Searcher, opts ...Option) *Planner {
	p := &Planner{
		search:   s,
		limiter:  rate.NewLimiter(rate.Inf, 1),
		cellSize: DefaultCellMeters,
		cooldown: DefaultCooldown,
		sleep:    sleepCtx,
		newRunID: newRunID,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Plan searches every cell covering the request area once per category.
// The first search failure aborts the plan; the identifiers gathered so
// far are still returned in the result for diagnostics.
func (p *Planner) Plan(ctx context.Context, req PlanRequest) (*PlanResult, error) {
	runID := p.newRunID()
	log := zap.L().With(zap.String("run_id", runID))

	cells := geo.CoveringCells(req.Center, req.RadiusMeters, p.cellSize)
	result := &PlanResult{RunID: runID, Cells: len(cells)}
	found := NewIdentifierSet()
	var audit []CellSearch

	defer func() {
		result.IDs = found.Slice()
		p.flushAudit(ctx, audit)
	}()

	log.Info("discovery: plan started",
		zap.Stringer("center", req.Center),
		zap.Float64("radius_m", req.RadiusMeters),
		zap.Int("cells", len(cells)),
		zap.Int("categories", len(req.Categories)),
	)

	for _, category := range req.Categories {
		for i, cell := range cells {
			box := geo.BoundingBoxFor(cell, p.cellSize)
			ids, calls, err := p.searchCell(ctx, category, box)
			result.APICalls += calls
			if err != nil {
				log.Error("discovery: cell search failed",
					zap.String("category", category),
					zap.Int("cell", i),
					zap.Error(err),
				)
				return result, eris.Wrapf(err, "discovery: search %q cell %d", category, i)
			}
			found.Add(ids...)
			audit = append(audit, CellSearch{
				RunID:      runID,
				Category:   category,
				CellIndex:  i,
				Box:        box,
				Results:    len(ids),
				Pages:      calls,
				SearchedAt: time.Now().UTC(),
			})
		}
		log.Debug("discovery: category done", zap.String("category", category), zap.Int("unique", found.Len()))
	}

	log.Info("discovery: plan complete",
		zap.Int("unique_ids", found.Len()),
		zap.Int("api_calls", result.APICalls),
	)
	return result, nil
}

// searchCell pages through one category query in one box.
func (p *Planner) searchCell(ctx context.Context, category string, box geo.BoundingBox) ([]string, int, error) {
	req := google.SearchTextRequest{
		TextQuery: category,
		LocationRestriction: &google.LocationRect{
			Rectangle: google.Rectangle{
				High: google.LatLng{Latitude: box.TopLeft.Lat, Longitude: box.BottomRight.Lon},
				Low:  google.LatLng{Latitude: box.BottomRight.Lat, Longitude: box.TopLeft.Lon},
			},
		},
	}

	var (
		ids   []string
		calls int
	)
	for {
		if err := p.limiter.Wait(ctx); err != nil {
			return ids, calls, eris.Wrap(err, "discovery: rate limit wait")
		}
		resp, err := p.search.SearchText(ctx, req)
		calls++
		if err != nil {
			return ids, calls, err
		}
		if len(resp.Places) == 0 {
			return ids, calls, nil
		}
		ids = append(ids, resp.IDs()...)

		if resp.NextPageToken == "" {
			return ids, calls, nil
		}
		if err := p.sleep(ctx, p.cooldown); err != nil {
			return ids, calls, eris.Wrap(err, "discovery: page cooldown")
		}
		req.PageToken = resp.NextPageToken
	}
}

func (p *Planner) flushAudit(ctx context.Context, rows []CellSearch) {
	if p.recorder == nil || len(rows) == 0 {
		return
	}
	if err := p.recorder.RecordCells(ctx, rows); err != nil {
		zap.L().Warn("discovery: cell audit failed", zap.Int("cells", len(rows)), zap.Error(err))
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
