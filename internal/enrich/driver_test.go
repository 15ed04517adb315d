package enrich

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lead-pipeline/internal/queue"
	"github.com/sells-group/lead-pipeline/internal/session"
	"github.com/sells-group/lead-pipeline/pkg/google"
)

const sessionID = "SESSION-2024-01-01-00-00-00.json"

func newSessionStore(t *testing.T) session.Store {
	t.Helper()
	s := session.NewMemoryStore()
	require.NoError(t, s.Write(context.Background(), sessionID, session.Document{}))
	return s
}

func TestStep_DrainsInBatchesAndCompletesOnce(t *testing.T) {
	ctx := context.Background()
	store := newSessionStore(t)
	details := &fakeDetails{}
	next := &recordingContinuer{}
	done := &countingCompleter{}
	d := NewDriver(details, store, next, done)

	job := Job{SessionID: sessionID, Remaining: ids("p", 85)}
	var lengths []int
	for i := 0; i < 10; i++ {
		lengths = append(lengths, len(job.Remaining))
		outcome, err := d.Step(ctx, job)
		require.NoError(t, err)
		if outcome == Completed {
			break
		}
		job = next.jobs[len(next.jobs)-1]
	}

	assert.Equal(t, []int{85, 45, 5, 0}, lengths)
	assert.Equal(t, []string{sessionID}, done.sessions)
	assert.Len(t, details.calls, 85)

	doc, err := store.Read(ctx, sessionID)
	require.NoError(t, err)
	assert.Len(t, doc, 85)
}

func TestStep_EmptyListDoesNotWrite(t *testing.T) {
	ctx := context.Background()
	done := &countingCompleter{}
	d := NewDriver(&fakeDetails{}, failingStore{Store: session.NewMemoryStore()}, &recordingContinuer{}, done)

	outcome, err := d.Step(ctx, Job{SessionID: sessionID})
	require.NoError(t, err)
	assert.Equal(t, Completed, outcome)
	assert.Len(t, done.sessions, 1)
}

func TestStep_SkipsPlacesWithoutWebsite(t *testing.T) {
	ctx := context.Background()
	store := newSessionStore(t)
	details := &fakeDetails{noWebsite: map[string]bool{"a": true, "c": true}}
	next := &recordingContinuer{}
	d := NewDriver(details, store, next, &countingCompleter{})

	_, err := d.Step(ctx, Job{SessionID: sessionID, Remaining: []string{"a", "b", "c"}})
	require.NoError(t, err)

	doc, err := store.Read(ctx, sessionID)
	require.NoError(t, err)
	assert.Len(t, doc, 1)
	assert.Contains(t, doc, "https://b.example")
	require.Len(t, next.jobs, 1)
	assert.Empty(t, next.jobs[0].Remaining)
}

func TestStep_FailedLookupDropsOnlyThatPlace(t *testing.T) {
	ctx := context.Background()
	store := newSessionStore(t)
	details := &fakeDetails{fail: map[string]bool{"b": true}}
	d := NewDriver(details, store, &recordingContinuer{}, &countingCompleter{})

	_, err := d.Step(ctx, Job{SessionID: sessionID, Remaining: []string{"a", "b", "c"}})
	require.NoError(t, err)

	doc, err := store.Read(ctx, sessionID)
	require.NoError(t, err)
	assert.Len(t, doc, 2)
	assert.NotContains(t, doc, "https://b.example")
}

func TestStep_StoreFailureTruncatesChain(t *testing.T) {
	ctx := context.Background()
	mem := session.NewMemoryStore()
	require.NoError(t, mem.Write(ctx, sessionID, session.Document{}))
	next := &recordingContinuer{}
	done := &countingCompleter{}
	d := NewDriver(&fakeDetails{}, failingStore{Store: mem}, next, done)

	_, err := d.Step(ctx, Job{SessionID: sessionID, Remaining: ids("p", 50)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket unavailable")
	assert.Empty(t, next.jobs)
	assert.Empty(t, done.sessions)
}

func TestStep_MergesOverExistingRecords(t *testing.T) {
	ctx := context.Background()
	store := newSessionStore(t)
	require.NoError(t, store.Write(ctx, sessionID, session.Document{
		"https://keep.example": {Name: "Keep", Text: "prior"},
		"https://a.example":    {Name: "Old A", Text: "stale"},
	}))
	d := NewDriver(&fakeDetails{}, store, &recordingContinuer{}, &countingCompleter{})

	_, err := d.Step(ctx, Job{SessionID: sessionID, Remaining: []string{"a"}})
	require.NoError(t, err)

	doc, err := store.Read(ctx, sessionID)
	require.NoError(t, err)
	assert.Equal(t, "prior", doc["https://keep.example"].Text)
	assert.Equal(t, "Name a", doc["https://a.example"].Name)
	assert.Equal(t, "review of a\n", doc["https://a.example"].Text)
}

func TestStep_MissingSessionIsStoreError(t *testing.T) {
	next := &recordingContinuer{}
	d := NewDriver(&fakeDetails{}, session.NewMemoryStore(), next, &countingCompleter{})

	_, err := d.Step(context.Background(), Job{SessionID: "absent.json", Remaining: []string{"a"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, session.ErrNotFound)
	assert.Empty(t, next.jobs)
}

func TestBuildRecords_SharedWebsiteConcatenates(t *testing.T) {
	details := []*google.PlaceDetails{
		{Name: "First", Website: "https://shared.example", Reviews: []google.Review{{Text: "one"}, {Text: "two"}}},
		{Name: "Second", Website: "https://shared.example", Reviews: []google.Review{{Text: "three"}}},
		{Name: "No site"},
		nil,
	}

	doc, skipped := BuildRecords(details, ExcerptChars)
	assert.Equal(t, 1, skipped)
	require.Len(t, doc, 1)

	block1 := ReviewBlock(details[0].Reviews, ExcerptChars)
	block2 := ReviewBlock(details[1].Reviews, ExcerptChars)
	rec := doc["https://shared.example"]
	assert.Equal(t, "Second", rec.Name)
	assert.Equal(t, block1+"\n"+block2, rec.Text)
	assert.Equal(t, "one\ntwo\n\nthree\n", rec.Text)
}

func TestReviewBlock_TruncatesEachExcerpt(t *testing.T) {
	long := strings.Repeat("é", 250)
	block := ReviewBlock([]google.Review{{Text: long}, {Text: "short"}}, 200)

	lines := strings.Split(block, "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, 200, len([]rune(lines[0])))
	assert.Equal(t, "short", lines[1])
	assert.Empty(t, lines[2])
}

func TestReviewBlock_NoReviews(t *testing.T) {
	assert.Empty(t, ReviewBlock(nil, 200))
}

func TestRequest_DecodesPlaceObjectsAndStrings(t *testing.T) {
	var req Request
	require.NoError(t, jsonUnmarshal(`{"name":"S.json","places_temp":[{"id":"a"},"b",{"id":"c","extra":1}]}`, &req))

	job, err := req.Job()
	require.NoError(t, err)
	assert.Equal(t, "S.json", job.SessionID)
	assert.Equal(t, []string{"a", "b", "c"}, job.Remaining)
}

func TestRequest_RejectsBadItems(t *testing.T) {
	var req Request
	err := jsonUnmarshal(`{"name":"S.json","places_temp":[42]}`, &req)
	require.Error(t, err)

	var none Request
	require.NoError(t, jsonUnmarshal(`{"places_temp":[]}`, &none))
	_, err = none.Job()
	require.Error(t, err)
}

func TestHTTPContinuer_PostsRequest(t *testing.T) {
	p := &recordingPoster{}
	c := NewHTTPContinuer(p, "http://localhost:8080/getDetails")

	require.NoError(t, c.Continue(context.Background(), Job{SessionID: "S.json", Remaining: []string{"x"}}))
	require.Len(t, p.bodies, 1)
	assert.Equal(t, "http://localhost:8080/getDetails", p.urls[0])
	assert.Equal(t, Request{Name: "S.json", PlacesTemp: PlaceRefs{"x"}, SessionID: "S.json"}, p.bodies[0])
}

func TestPostCompleter(t *testing.T) {
	p := &recordingPoster{}
	require.NoError(t, NewPostCompleter(p, "http://localhost:8080/batch/score").Complete(context.Background(), "S.json"))
	assert.Equal(t, map[string]string{"sessionId": "S.json"}, p.bodies[0])
}

func TestQueueContinuer_DrivesWorkerToCompletion(t *testing.T) {
	ctx := context.Background()
	log, err := queue.OpenSQLite(ctx, filepath.Join(t.TempDir(), "q.db"))
	require.NoError(t, err)
	defer log.Close()

	store := newSessionStore(t)
	done := &countingCompleter{}
	d := NewDriver(&fakeDetails{}, store, NewQueueContinuer(log), done)
	w := queue.NewWorker(log, d.HandleTask, queue.WorkerConfig{})

	require.NoError(t, NewQueueContinuer(log).Continue(ctx, Job{SessionID: sessionID, Remaining: ids("p", 85)}))
	for {
		worked, err := w.RunOnce(ctx)
		require.NoError(t, err)
		if !worked {
			break
		}
	}

	assert.Equal(t, []string{sessionID}, done.sessions)
	doc, err := store.Read(ctx, sessionID)
	require.NoError(t, err)
	assert.Len(t, doc, 85)
}
