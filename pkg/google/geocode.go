package google

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/rotisserie/eris"
)

type geocodeEnvelope struct {
	Results []struct {
		FormattedAddress string `json:"formatted_address"`
		Geometry         struct {
			Location struct {
				Lat float64 `json:"lat"`
				Lng float64 `json:"lng"`
			} `json:"location"`
		} `json:"geometry"`
	} `json:"results"`
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message"`
}

// Geocode resolves a free-form address to the coordinate of its first match.
func (c *httpClient) Geocode(ctx context.Context, address string) (*LatLng, error) {
	q := url.Values{}
	q.Set("address", address)
	q.Set("key", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.mapsBaseURL+"/geocode/json?"+q.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "google: create geocode request")
	}

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var env geocodeEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, eris.Wrap(err, "google: unmarshal geocode response")
	}
	if err := statusError("geocode", env.Status, env.ErrorMessage); err != nil {
		return nil, eris.Wrapf(err, "google: geocode %q", address)
	}
	if len(env.Results) == 0 {
		return nil, eris.Errorf("google: geocode %q: no results", address)
	}

	loc := env.Results[0].Geometry.Location
	return &LatLng{Latitude: loc.Lat, Longitude: loc.Lng}, nil
}
