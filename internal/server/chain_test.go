package server

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lead-pipeline/internal/enrich"
	"github.com/sells-group/lead-pipeline/internal/session"
	"github.com/sells-group/lead-pipeline/internal/trigger"
	"github.com/sells-group/lead-pipeline/pkg/google"
)

type slowDetails struct {
	delay time.Duration
}

func (s slowDetails) PlaceDetails(ctx context.Context, id string) (*google.PlaceDetails, error) {
	select {
	case <-time.After(s.delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &google.PlaceDetails{PlaceID: id, Name: id, Website: "https://" + id + ".example"}, nil
}

type countingCompleter struct {
	n atomic.Int32
}

func (c *countingCompleter) Complete(context.Context, string) error {
	c.n.Add(1)
	return nil
}

// Ten batches of 100ms each against a 300ms client timeout: every hop must
// return as soon as the next step is accepted.
func TestHTTPContinuation_ChainOutlivesClientTimeout(t *testing.T) {
	ctx := context.Background()
	store := session.NewMemoryStore()
	require.NoError(t, store.Write(ctx, "S1", session.Document{}))

	done := &countingCompleter{}
	driver := enrich.NewDriver(slowDetails{delay: 100 * time.Millisecond}, store, nil, done)
	srv := New(ctx, Stages{
		Discover: &fakeDiscover{},
		Enrich:   driver,
		Score:    &fakeScore{},
		Outreach: &fakeOutreach{},
	}, []string{"*"})

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	poster := trigger.NewClient(trigger.WithHTTPClient(&http.Client{Timeout: 300 * time.Millisecond}))
	driver.SetContinuer(enrich.NewHTTPContinuer(poster, ts.URL+PathEnrich))

	ids := make([]string, 400)
	for i := range ids {
		ids[i] = fmt.Sprintf("p%03d", i)
	}

	require.NoError(t, poster.Post(ctx, ts.URL+PathEnrich, enrich.NewRequest(enrich.Job{SessionID: "S1", Remaining: ids})))

	srv.Wait()

	doc, err := store.Read(ctx, "S1")
	require.NoError(t, err)
	assert.Len(t, doc, 400)
	assert.Equal(t, int32(1), done.n.Load())
}
