package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/sells-group/lead-pipeline/internal/session"
	"github.com/sells-group/lead-pipeline/pkg/google"
)

// fakeDetails returns a website per identifier unless listed otherwise.
type fakeDetails struct {
	mu        sync.Mutex
	calls     []string
	noWebsite map[string]bool
	fail      map[string]bool
	override  map[string]*google.PlaceDetails
}

func (f *fakeDetails) PlaceDetails(_ context.Context, id string) (*google.PlaceDetails, error) {
	f.mu.Lock()
	f.calls = append(f.calls, id)
	f.mu.Unlock()

	if f.fail[id] {
		return nil, fmt.Errorf("details %s: boom", id)
	}
	if d, ok := f.override[id]; ok {
		return d, nil
	}
	det := &google.PlaceDetails{PlaceID: id, Name: "Name " + id}
	if !f.noWebsite[id] {
		det.Website = "https://" + id + ".example"
		det.Reviews = []google.Review{{Text: "review of " + id}}
	}
	return det, nil
}

type recordingContinuer struct {
	jobs []Job
	err  error
}

func (r *recordingContinuer) Continue(_ context.Context, job Job) error {
	if r.err != nil {
		return r.err
	}
	r.jobs = append(r.jobs, job)
	return nil
}

type countingCompleter struct {
	sessions []string
}

func (c *countingCompleter) Complete(_ context.Context, id string) error {
	c.sessions = append(c.sessions, id)
	return nil
}

// failingStore reads fine and fails every write.
type failingStore struct {
	session.Store
}

func (failingStore) Write(context.Context, string, session.Document) error {
	return errors.New("bucket unavailable")
}

// recordingPoster captures trigger posts.
type recordingPoster struct {
	urls   []string
	bodies []any
}

func (p *recordingPoster) Post(_ context.Context, url string, body any) error {
	p.urls = append(p.urls, url)
	p.bodies = append(p.bodies, body)
	return nil
}

func ids(prefix string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("%s%03d", prefix, i)
	}
	return out
}

func jsonUnmarshal(s string, v any) error {
	return json.Unmarshal([]byte(s), v)
}
