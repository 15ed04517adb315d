package google

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-pipeline/internal/resilience"
)

const detailsFields = "name,formatted_address,formatted_phone_number,website,rating,reviews"

// PlaceDetails is the subset of a Place Details result used for enrichment.
type PlaceDetails struct {
	PlaceID          string   `json:"place_id"`
	Name             string   `json:"name"`
	FormattedAddress string   `json:"formatted_address"`
	Phone            string   `json:"formatted_phone_number"`
	Website          string   `json:"website"`
	Rating           float64  `json:"rating"`
	Reviews          []Review `json:"reviews"`
}

// Review is a single customer review.
type Review struct {
	AuthorName string `json:"author_name"`
	Rating     int    `json:"rating"`
	Text       string `json:"text"`
	Time       int64  `json:"time"`
}

type detailsEnvelope struct {
	Result       PlaceDetails `json:"result"`
	Status       string       `json:"status"`
	ErrorMessage string       `json:"error_message"`
}

func (c *httpClient) PlaceDetails(ctx context.Context, placeID string) (*PlaceDetails, error) {
	if placeID == "" {
		return nil, eris.New("google: place id is required")
	}

	q := url.Values{}
	q.Set("place_id", placeID)
	q.Set("fields", detailsFields)
	q.Set("reviews_sort", "newest")
	q.Set("key", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.mapsBaseURL+"/place/details/json?"+q.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "google: create details request")
	}

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var env detailsEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, eris.Wrap(err, "google: unmarshal details response")
	}
	if err := statusError("details", env.Status, env.ErrorMessage); err != nil {
		return nil, eris.Wrapf(err, "google: details %s", placeID)
	}

	if env.Result.PlaceID == "" {
		env.Result.PlaceID = placeID
	}
	return &env.Result, nil
}

// statusError maps a legacy Maps API status field to an error.
func statusError(op, status, msg string) error {
	switch status {
	case "OK":
		return nil
	case "OVER_QUERY_LIMIT", "UNKNOWN_ERROR":
		return resilience.NewTransientError(eris.Errorf("google: %s status %s: %s", op, status, msg), http.StatusTooManyRequests)
	default:
		return eris.Errorf("google: %s status %s: %s", op, status, msg)
	}
}
