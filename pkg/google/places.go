package google

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"

	"github.com/rotisserie/eris"
)

// searchFieldMask limits Text Search responses to identifiers and the
// continuation token.
const searchFieldMask = "places.id,nextPageToken"

// SearchTextRequest is a Places Text Search query restricted to a rectangle.
type SearchTextRequest struct {
	TextQuery           string        `json:"textQuery"`
	LocationRestriction *LocationRect `json:"locationRestriction,omitempty"`
	PageToken           string        `json:"pageToken,omitempty"`
}

// LocationRect wraps a rectangle restriction.
type LocationRect struct {
	Rectangle Rectangle `json:"rectangle"`
}

// Rectangle is a lat/lng viewport. High is the north-east corner, Low the
// south-west corner.
type Rectangle struct {
	Low  LatLng `json:"low"`
	High LatLng `json:"high"`
}

// SearchTextResponse holds one page of Text Search results.
type SearchTextResponse struct {
	Places        []Place `json:"places"`
	NextPageToken string  `json:"nextPageToken,omitempty"`
}

// Place is a Text Search hit. Only the identifier is requested.
type Place struct {
	ID string `json:"id"`
}

// IDs returns the place identifiers in response order.
func (r *SearchTextResponse) IDs() []string {
	ids := make([]string, 0, len(r.Places))
	for _, p := range r.Places {
		if p.ID != "" {
			ids = append(ids, p.ID)
		}
	}
	return ids
}

func (c *httpClient) SearchText(ctx context.Context, sr SearchTextRequest) (*SearchTextResponse, error) {
	body, err := json.Marshal(sr)
	if err != nil {
		return nil, eris.Wrap(err, "google: marshal search request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/places:searchText", bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "google: create search request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Goog-Api-Key", c.apiKey)
	req.Header.Set("X-Goog-FieldMask", searchFieldMask)

	respBody, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var result SearchTextResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, eris.Wrap(err, "google: unmarshal search response")
	}
	return &result, nil
}
