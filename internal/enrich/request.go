package enrich

import (
	"bytes"
	"encoding/json"

	"github.com/rotisserie/eris"
)

// Request is the body of the enrich stage. Name and SessionID both carry
// the session id; self invocations historically sent only Name.
type Request struct {
	Name       string    `json:"name"`
	PlacesTemp PlaceRefs `json:"places_temp"`
	SessionID  string    `json:"sessionId,omitempty"`
}

// NewRequest encodes job as a stage request.
func NewRequest(job Job) Request {
	ids := job.Remaining
	if ids == nil {
		ids = []string{}
	}
	return Request{Name: job.SessionID, PlacesTemp: ids, SessionID: job.SessionID}
}

// Job decodes the request.
func (r Request) Job() (Job, error) {
	id := r.SessionID
	if id == "" {
		id = r.Name
	}
	if id == "" {
		return Job{}, eris.New("enrich: request carries no session id")
	}
	return Job{SessionID: id, Remaining: []string(r.PlacesTemp)}, nil
}

// PlaceRefs decodes a list whose items are identifier strings or objects
// with an "id" field.
type PlaceRefs []string

// UnmarshalJSON implements json.Unmarshaler.
func (p *PlaceRefs) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*p = PlaceRefs{}
		return nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return eris.Wrap(err, "enrich: places_temp must be an array")
	}
	out := make(PlaceRefs, 0, len(raw))
	for i, item := range raw {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			out = append(out, s)
			continue
		}
		var obj struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(item, &obj); err != nil || obj.ID == "" {
			return eris.Errorf("enrich: places_temp[%d] is neither an id nor an object with an id", i)
		}
		out = append(out, obj.ID)
	}
	*p = out
	return nil
}
