package crawl

import (
	"context"
	"net/url"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/temoto/robotstxt"
)

// robotsCache keeps parsed robots.txt files per origin.
type robotsCache struct {
	f     *fetcher
	cache *gocache.Cache
}

func newRobotsCache(f *fetcher, ttl time.Duration) *robotsCache {
	return &robotsCache{f: f, cache: gocache.New(ttl, 2*ttl)}
}

// allowed reports whether agent may fetch u. Unreachable or unparsable
// robots files allow everything.
func (r *robotsCache) allowed(ctx context.Context, u *url.URL, agent string) bool {
	origin := u.Scheme + "://" + u.Host
	var data *robotstxt.RobotsData
	if v, ok := r.cache.Get(origin); ok {
		data = v.(*robotstxt.RobotsData)
	} else {
		resp, body, err := r.f.get(ctx, origin+"/robots.txt")
		if err != nil {
			return true
		}
		data, err = robotstxt.FromStatusAndBytes(resp.StatusCode, body)
		if err != nil {
			return true
		}
		r.cache.SetDefault(origin, data)
	}

	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	return data.TestAgent(path, agent)
}
