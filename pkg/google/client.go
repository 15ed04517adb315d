// Package google is a small client for the Places, Place Details and
// Geocoding APIs.
package google

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-pipeline/internal/resilience"
)

const (
	defaultBaseURL     = "https://places.googleapis.com/v1"
	defaultMapsBaseURL = "https://maps.googleapis.com/maps/api"
)

// Client performs Google Maps Platform operations.
type Client interface {
	SearchText(ctx context.Context, req SearchTextRequest) (*SearchTextResponse, error)
	PlaceDetails(ctx context.Context, placeID string) (*PlaceDetails, error)
	Geocode(ctx context.Context, address string) (*LatLng, error)
}

// LatLng is a WGS84 coordinate.
type LatLng struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the Places API (v1) base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithMapsBaseURL overrides the legacy Maps API base URL used for place
// details and geocoding.
func WithMapsBaseURL(url string) Option {
	return func(c *httpClient) {
		c.mapsBaseURL = url
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	apiKey      string
	baseURL     string
	mapsBaseURL string
	http        *http.Client
}

// NewClient creates a Google Maps Platform client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:      apiKey,
		baseURL:     defaultBaseURL,
		mapsBaseURL: defaultMapsBaseURL,
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// do sends req and returns the body of a 200 response. Retryable statuses
// are marked transient so callers that choose to retry can.
func (c *httpClient) do(req *http.Request) ([]byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "google: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "google: read response")
	}

	if resp.StatusCode != http.StatusOK {
		return nil, resilience.WrapStatus(
			eris.Errorf("google: unexpected status %d: %s", resp.StatusCode, string(body)),
			resp.StatusCode,
		)
	}
	return body, nil
}
