// Package crawl collects readable text from a company website: the start
// page plus every page reachable through contact links.
package crawl

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/lead-pipeline/internal/config"
)

// ErrMalformedURL is returned for URLs without an http(s) scheme and host.
var ErrMalformedURL = errors.New("crawl: malformed url")

// DefaultLinkMarkers select which anchors are followed.
var DefaultLinkMarkers = []string{"contact", "mailto:"}

// Options configure a Crawler. Zero MaxPages and MaxDepth leave the crawl
// unbounded.
type Options struct {
	MaxPages      int
	MaxDepth      int
	Timeout       time.Duration
	MaxBodyBytes  int64
	CacheTTL      time.Duration
	RateLimit     float64
	RespectRobots bool
	UserAgent     string
	LinkMarkers   []string
}

// OptionsFromConfig maps the crawl configuration section.
func OptionsFromConfig(cfg config.CrawlConfig) Options {
	return Options{
		MaxPages:      cfg.MaxPages,
		MaxDepth:      cfg.MaxDepth,
		Timeout:       config.Seconds(cfg.TimeoutSecs),
		MaxBodyBytes:  cfg.MaxBodyBytes,
		CacheTTL:      time.Duration(cfg.CacheTTLMins) * time.Minute,
		RateLimit:     cfg.RateLimit,
		RespectRobots: cfg.RespectRobots,
		UserAgent:     cfg.UserAgent,
		LinkMarkers:   cfg.LinkMarkers,
	}
}

// Crawler walks contact links depth first.
type Crawler struct {
	opts    Options
	fetcher *fetcher
	pages   *gocache.Cache
	robots  *robotsCache

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// New creates a Crawler.
func New(opts Options) *Crawler {
	if len(opts.LinkMarkers) == 0 {
		opts.LinkMarkers = DefaultLinkMarkers
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = time.Hour
	}
	f := newFetcher(opts.Timeout, opts.MaxBodyBytes, opts.UserAgent)
	return &Crawler{
		opts:     opts,
		fetcher:  f,
		pages:    gocache.New(opts.CacheTTL, 2*opts.CacheTTL),
		robots:   newRobotsCache(f, opts.CacheTTL),
		limiters: make(map[string]*rate.Limiter),
	}
}

// BaseURL returns scheme://host of raw.
func BaseURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return "", eris.Wrapf(ErrMalformedURL, "%q", raw)
	}
	return u.Scheme + "://" + u.Host, nil
}

// crawlState is the per-crawl bookkeeping.
type crawlState struct {
	host    string
	visited map[string]bool
	seen    map[string]bool
	texts   []string
	fetched int
}

// Crawl returns the distinct non-empty page texts reachable from start in
// visit order. Pages that fail to load contribute no text.
func (c *Crawler) Crawl(ctx context.Context, start string) ([]string, error) {
	u, err := url.Parse(strings.TrimSpace(start))
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, eris.Wrapf(ErrMalformedURL, "%q", start)
	}

	st := &crawlState{
		host:    strings.ToLower(u.Host),
		visited: make(map[string]bool),
		seen:    make(map[string]bool),
	}
	if err := c.visit(ctx, st, u, 0); err != nil {
		return st.texts, err
	}

	zap.L().Debug("crawl: done",
		zap.String("start", start),
		zap.Int("pages", st.fetched),
		zap.Int("texts", len(st.texts)),
	)
	return st.texts, nil
}

func (c *Crawler) visit(ctx context.Context, st *crawlState, u *url.URL, depth int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if u.Path == "" && u.Opaque == "" {
		u.Path = "/"
	}
	key := u.String()
	if st.visited[key] {
		return nil
	}
	st.visited[key] = true

	if !c.fetchable(st, u) {
		return nil
	}
	if c.opts.MaxPages > 0 && st.fetched >= c.opts.MaxPages {
		return nil
	}
	if c.opts.RespectRobots && !c.robots.allowed(ctx, u, c.opts.UserAgent) {
		zap.L().Debug("crawl: disallowed by robots.txt", zap.String("url", key))
		return nil
	}

	st.fetched++
	p := c.page(ctx, u)
	if p.text != "" && !st.seen[p.text] {
		st.seen[p.text] = true
		st.texts = append(st.texts, p.text)
	}

	if c.opts.MaxDepth > 0 && depth >= c.opts.MaxDepth {
		return nil
	}
	for _, href := range p.links {
		if !c.followable(href) {
			continue
		}
		next, err := u.Parse(href)
		if err != nil {
			continue
		}
		next.Fragment = ""
		if err := c.visit(ctx, st, next, depth+1); err != nil {
			return err
		}
	}
	return nil
}

// fetchable reports whether u is an http(s) URL on the crawl's host.
func (c *Crawler) fetchable(st *crawlState, u *url.URL) bool {
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	return strings.ToLower(u.Host) == st.host
}

func (c *Crawler) followable(href string) bool {
	for _, m := range c.opts.LinkMarkers {
		if strings.Contains(href, m) {
			return true
		}
	}
	return false
}

// page returns the cached or freshly fetched page.
func (c *Crawler) page(ctx context.Context, u *url.URL) page {
	key := u.String()
	if v, ok := c.pages.Get(key); ok {
		return v.(page)
	}
	if err := c.limiter(u.Host).Wait(ctx); err != nil {
		return page{}
	}
	p, err := c.fetcher.fetch(ctx, key)
	if err != nil {
		zap.L().Debug("crawl: fetch failed", zap.String("url", key), zap.Error(err))
		return page{}
	}
	c.pages.SetDefault(key, p)
	return p
}

func (c *Crawler) limiter(host string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.limiters[host]
	if !ok {
		limit := rate.Inf
		if c.opts.RateLimit > 0 {
			limit = rate.Limit(c.opts.RateLimit)
		}
		l = rate.NewLimiter(limit, 1)
		c.limiters[host] = l
	}
	return l
}
