package discovery

import (
	"context"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lead-pipeline/internal/cost"
	"github.com/sells-group/lead-pipeline/internal/enrich"
	"github.com/sells-group/lead-pipeline/internal/geo"
	"github.com/sells-group/lead-pipeline/internal/session"
	"github.com/sells-group/lead-pipeline/pkg/google"
)

var searchCosts = cost.NewCalculator(cost.DefaultRates())

// Geocoder resolves a free-form address.
type Geocoder interface {
	Geocode(ctx context.Context, address string) (*google.LatLng, error)
}

// Starter hands the discovered identifiers to the enrichment driver.
type Starter interface {
	Continue(ctx context.Context, job enrich.Job) error
}

// Request is the body of the discover stage.
type Request struct {
	Location   string   `json:"location"`
	Radius     float64  `json:"radius"`
	Categories []string `json:"categories,omitempty"`
}

// Result describes a started session.
type Result struct {
	SessionID string
	Center    geo.Coordinate
	IDs       int
	Cells     int
	APICalls  int
}

// Stage starts a session: it geocodes the location, runs the grid search,
// creates the empty session document and starts enrichment.
type Stage struct {
	planner    *Planner
	geocoder   Geocoder
	store      session.Store
	starter    Starter
	prefix     string
	categories []string
	now        func() time.Time
}

// NewStage creates the discover stage.
func NewStage(planner *Planner, geocoder Geocoder, store session.Store, starter Starter, prefix string, categories []string) *Stage {
	return &Stage{
		planner:    planner,
		geocoder:   geocoder,
		store:      store,
		starter:    starter,
		prefix:     prefix,
		categories: categories,
		now:        time.Now,
	}
}

// Run executes the stage.
func (s *Stage) Run(ctx context.Context, req Request) (*Result, error) {
	if strings.TrimSpace(req.Location) == "" {
		return nil, eris.New("discovery: location is required")
	}
	categories := req.Categories
	if len(categories) == 0 {
		categories = s.categories
	}
	if len(categories) == 0 {
		return nil, eris.New("discovery: no categories configured")
	}

	center, err := s.resolve(ctx, req.Location)
	if err != nil {
		return nil, err
	}

	plan, err := s.planner.Plan(ctx, PlanRequest{
		Center:       center,
		RadiusMeters: req.Radius,
		Categories:   categories,
	})
	if err != nil {
		return nil, err
	}

	id := session.NewID(s.prefix, s.now())
	log := zap.L().With(zap.String("session_id", id))
	if err := s.store.Write(ctx, id, session.Document{}); err != nil {
		return nil, eris.Wrapf(err, "discovery: create session %s", id)
	}

	if err := s.starter.Continue(ctx, enrich.Job{SessionID: id, Remaining: plan.IDs}); err != nil {
		log.Error("discovery: start enrichment failed", zap.Error(err))
		return nil, eris.Wrapf(err, "discovery: start enrichment for %s", id)
	}

	log.Info("discovery: session started",
		zap.Int("ids", len(plan.IDs)),
		zap.Int("cells", plan.Cells),
		zap.Int("api_calls", plan.APICalls),
		zap.Float64("estimated_cost_usd", searchCosts.TextSearch(plan.APICalls)),
	)
	return &Result{SessionID: id, Center: center, IDs: len(plan.IDs), Cells: plan.Cells, APICalls: plan.APICalls}, nil
}

// resolve accepts "lat, lon" directly and geocodes anything else.
func (s *Stage) resolve(ctx context.Context, location string) (geo.Coordinate, error) {
	if c, err := geo.ParseCoordinate(location); err == nil {
		return c, nil
	}
	ll, err := s.geocoder.Geocode(ctx, location)
	if err != nil {
		return geo.Coordinate{}, eris.Wrapf(err, "discovery: geocode %q", location)
	}
	return geo.Coordinate{Lat: ll.Latitude, Lon: ll.Longitude}, nil
}

// CachedGeocoder memoizes geocoding results.
type CachedGeocoder struct {
	inner Geocoder
	cache *gocache.Cache
}

// NewCachedGeocoder wraps g with an in-memory cache of the given TTL.
func NewCachedGeocoder(g Geocoder, ttl time.Duration) *CachedGeocoder {
	return &CachedGeocoder{inner: g, cache: gocache.New(ttl, 2*ttl)}
}

// Geocode implements Geocoder.
func (c *CachedGeocoder) Geocode(ctx context.Context, address string) (*google.LatLng, error) {
	key := strings.ToLower(strings.TrimSpace(address))
	if v, ok := c.cache.Get(key); ok {
		ll := v.(google.LatLng)
		return &ll, nil
	}
	ll, err := c.inner.Geocode(ctx, address)
	if err != nil {
		return nil, err
	}
	c.cache.SetDefault(key, *ll)
	return ll, nil
}
