package session

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseProbability(t *testing.T) {
	tests := []struct {
		in    string
		want  float64
		valid bool
	}{
		{"75%", 75, true},
		{"75", 75, true},
		{" 82.5 % ", 82.5, true},
		{"60 percent", 60, true},
		{"0%", 0, true},
		{"Not Found", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseProbability(tt.in)
			assert.Equal(t, tt.valid, ok)
			assert.InDelta(t, tt.want, got, 0.0001)
		})
	}
}

func TestCompanyRecord_DecodesLooseShapes(t *testing.T) {
	raw := `{
		"https://a.example": {"name": "A", "text": "t", "probability": "75%", "email": "info@a.example", "socialMedia": ["x"]},
		"https://b.example": {"name": "B", "text": "t", "probability": 40, "email": ["sales@b.example", "ceo@b.example"]},
		"https://c.example": {"name": "C", "text": "t", "probability": "unknown", "email": []},
		"https://d.example": {"name": "D", "text": "only enrichment"}
	}`
	var doc Document
	require.NoError(t, json.Unmarshal([]byte(raw), &doc))

	a := doc["https://a.example"]
	score, ok := a.Score()
	assert.True(t, ok)
	assert.InDelta(t, 75, score, 0.001)
	assert.Equal(t, StringList{"info@a.example"}, a.Email)

	b := doc["https://b.example"]
	score, ok = b.Score()
	assert.True(t, ok)
	assert.InDelta(t, 40, score, 0.001)
	assert.Len(t, b.Email, 2)

	c := doc["https://c.example"]
	_, ok = c.Score()
	assert.False(t, ok)
	assert.False(t, c.HasEmail())

	d := doc["https://d.example"]
	assert.Nil(t, d.Probability)
	assert.Equal(t, "only enrichment", d.Text)
}

func TestProbability_KeepsOriginalEncoding(t *testing.T) {
	var rec CompanyRecord
	require.NoError(t, json.Unmarshal([]byte(`{"name":"A","text":"","probability":"75%"}`), &rec))

	out, err := json.Marshal(rec)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"probability":"75%"`)

	rec.Probability = NewProbability(61)
	out, err = json.Marshal(rec)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"probability":61`)
}

func TestProbabilityString(t *testing.T) {
	assert.Equal(t, "75%", NewProbability(75).String())
	var p *Probability
	assert.Equal(t, "unknown", p.String())
}

func TestNewID(t *testing.T) {
	ts := time.Date(2024, 3, 7, 9, 5, 2, 0, time.Local)
	assert.Equal(t, "SESSION-2024-03-07-09-05-02.json", NewID("SESSION", ts))
}

func TestLettersID(t *testing.T) {
	assert.Equal(t, "SESSION-2024-03-07-09-05-02-letters.json", LettersID("SESSION-2024-03-07-09-05-02.json"))
	assert.Equal(t, "plain-letters", LettersID("plain"))
}

func TestReportName(t *testing.T) {
	assert.Equal(t, "SESSION-2024-03-07-09-05-02.txt", ReportName("SESSION-2024-03-07-09-05-02.json"))
}

func TestMerge_ReplacesWholeEntries(t *testing.T) {
	old := Document{
		"https://a.example": {Name: "A", Text: "old", Phone: "123"},
		"https://b.example": {Name: "B"},
	}
	patch := Document{"https://a.example": {Name: "A2", Text: "new"}}

	got := Merge(old, patch)
	assert.Equal(t, CompanyRecord{Name: "A2", Text: "new"}, got["https://a.example"])
	assert.Equal(t, "B", got["https://b.example"].Name)
	assert.Equal(t, "old", old["https://a.example"].Text)
}

func TestDocumentProbabilities(t *testing.T) {
	doc := Document{
		"https://a.example": {Name: "A", Probability: NewProbability(80)},
		"https://b.example": {Name: "B"},
	}
	probs := doc.Probabilities()
	assert.Len(t, probs, 1)
	assert.InDelta(t, 80, probs["https://a.example"].Percent, 0.001)
	assert.NotContains(t, probs, "https://b.example")
}
