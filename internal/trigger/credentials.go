package trigger

import (
	"context"
	"net/url"
	"sync"

	"github.com/rotisserie/eris"
	"golang.org/x/oauth2"
	"google.golang.org/api/idtoken"
	"google.golang.org/api/option"
)

// Credentials produce a bearer token for a target audience.
type Credentials interface {
	Token(ctx context.Context, audience string) (string, error)
}

// StaticCredentials return the same token for every audience. An empty
// token sends no Authorization header.
type StaticCredentials string

// Token implements Credentials.
func (s StaticCredentials) Token(context.Context, string) (string, error) {
	return string(s), nil
}

// IDTokenCredentials mint Google-signed OIDC identity tokens, one cached
// token source per audience. The audience is the target URL without query
// or fragment.
type IDTokenCredentials struct {
	opts []option.ClientOption

	mu      sync.Mutex
	sources map[string]oauth2.TokenSource
}

// NewIDTokenCredentials creates IDTokenCredentials using the ambient
// service account unless opts say otherwise.
func NewIDTokenCredentials(opts ...option.ClientOption) *IDTokenCredentials {
	return &IDTokenCredentials{opts: opts, sources: make(map[string]oauth2.TokenSource)}
}

// Token implements Credentials.
func (c *IDTokenCredentials) Token(ctx context.Context, target string) (string, error) {
	aud := Audience(target)

	c.mu.Lock()
	ts, ok := c.sources[aud]
	if !ok {
		var err error
		ts, err = idtoken.NewTokenSource(ctx, aud, c.opts...)
		if err != nil {
			c.mu.Unlock()
			return "", eris.Wrapf(err, "trigger: id token source for %s", aud)
		}
		c.sources[aud] = ts
	}
	c.mu.Unlock()

	tok, err := ts.Token()
	if err != nil {
		return "", eris.Wrapf(err, "trigger: id token for %s", aud)
	}
	return tok.AccessToken, nil
}

// Audience strips the query and fragment from a target URL.
func Audience(target string) string {
	u, err := url.Parse(target)
	if err != nil {
		return target
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}
