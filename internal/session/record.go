package session

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// CompanyRecord is one company entry in a session document. Enrichment
// fills Name and Text; scoring replaces the record with the analysis
// result.
type CompanyRecord struct {
	Name        string       `json:"name"`
	Text        string       `json:"text"`
	Phone       string       `json:"phone,omitempty"`
	SocialMedia StringList   `json:"socialMedia,omitempty"`
	Probability *Probability `json:"probability,omitempty"`
	Email       StringList   `json:"email,omitempty"`
}

// HasEmail reports whether the record carries at least one address.
func (r CompanyRecord) HasEmail() bool {
	return len(r.Email) > 0
}

// Score returns the parsed probability in percent.
func (r CompanyRecord) Score() (float64, bool) {
	if r.Probability == nil || !r.Probability.Valid {
		return 0, false
	}
	return r.Probability.Percent, true
}

// StringList decodes from a JSON array of strings, a single string or null.
type StringList []string

// UnmarshalJSON implements json.Unmarshaler.
func (l *StringList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*l = nil
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return eris.Wrap(err, "session: decode string list")
		}
		s = strings.TrimSpace(s)
		if s == "" {
			*l = StringList{}
		} else {
			*l = StringList{s}
		}
		return nil
	}
	var items []any
	if err := json.Unmarshal(data, &items); err != nil {
		return eris.Wrap(err, "session: decode string list")
	}
	out := make(StringList, 0, len(items))
	for _, it := range items {
		switch v := it.(type) {
		case string:
			out = append(out, v)
		case nil:
		default:
			out = append(out, toString(v))
		}
	}
	*l = out
	return nil
}

func toString(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

// Probability is a lead likelihood in percent. Stored documents carry it as
// a number or as a string such as "75%"; the input form is kept on
// re-encode.
type Probability struct {
	Percent float64
	Valid   bool
	raw     json.RawMessage
}

// NewProbability returns a valid probability of pct percent.
func NewProbability(pct float64) *Probability {
	return &Probability{Percent: pct, Valid: true}
}

// UnmarshalJSON implements json.Unmarshaler. Unparseable strings decode to
// an invalid probability instead of failing the whole document.
func (p *Probability) UnmarshalJSON(data []byte) error {
	p.raw = append(p.raw[:0], data...)
	p.Valid = false
	p.Percent = 0

	trimmed := bytes.TrimSpace(data)
	if bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return eris.Wrap(err, "session: decode probability")
		}
		p.Percent, p.Valid = ParseProbability(s)
		return nil
	}
	var f float64
	if err := json.Unmarshal(trimmed, &f); err != nil {
		return nil
	}
	p.Percent, p.Valid = f, true
	return nil
}

// MarshalJSON implements json.Marshaler.
func (p Probability) MarshalJSON() ([]byte, error) {
	if len(p.raw) > 0 {
		return p.raw, nil
	}
	if !p.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(p.Percent)
}

// String renders the probability the way reports print it.
func (p *Probability) String() string {
	if p == nil || !p.Valid {
		return "unknown"
	}
	return strconv.FormatFloat(p.Percent, 'f', -1, 64) + "%"
}

var leadingNumber = regexp.MustCompile(`^[-+]?\d+(?:\.\d+)?`)

// ParseProbability reads a percentage such as "75%", "75" or "82.5 %".
// Leading digits are used, so "60 percent" parses as 60.
func ParseProbability(s string) (float64, bool) {
	s = strings.TrimSpace(strings.ReplaceAll(s, "%", ""))
	m := leadingNumber.FindString(s)
	if m == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}
