package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func newTestGCSStore(t *testing.T, h http.HandlerFunc) *GCSStore {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	s, err := NewGCSStore(context.Background(), "leads",
		option.WithEndpoint(srv.URL+"/storage/v1/"),
		option.WithoutAuthentication(),
		option.WithHTTPClient(srv.Client()),
	)
	require.NoError(t, err)
	return s
}

func TestGCSStore_ReadVersion(t *testing.T) {
	s := newTestGCSStore(t, func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/b/leads/o/s.json"), r.URL.Path)
		assert.Equal(t, "media", r.URL.Query().Get("alt"))
		w.Header().Set("X-Goog-Generation", "1700000000000001")
		w.Write([]byte(`{"https://a.example":{"name":"A","text":"t"}}`)) //nolint:errcheck
	})

	doc, ver, err := s.ReadVersion(context.Background(), "s.json")
	require.NoError(t, err)
	assert.Equal(t, Version("1700000000000001"), ver)
	assert.Equal(t, "A", doc["https://a.example"].Name)
}

func TestGCSStore_NotFound(t *testing.T) {
	s := newTestGCSStore(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":{"code":404,"message":"No such object"}}`)) //nolint:errcheck
	})

	_, err := s.Read(context.Background(), "missing.json")
	assert.ErrorIs(t, err, ErrNotFound)

	ok, err := s.Exists(context.Background(), "missing.json")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGCSStore_PreconditionFailedIsConflict(t *testing.T) {
	var gotGeneration string
	s := newTestGCSStore(t, func(w http.ResponseWriter, r *http.Request) {
		gotGeneration = r.URL.Query().Get("ifGenerationMatch")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusPreconditionFailed)
		w.Write([]byte(`{"error":{"code":412,"message":"conditionNotMet"}}`)) //nolint:errcheck
	})

	err := s.WriteVersion(context.Background(), "s.json", Document{}, Version("42"))
	assert.ErrorIs(t, err, ErrVersionConflict)
	assert.Equal(t, "42", gotGeneration)
}

func TestGCSStore_RequiresBucket(t *testing.T) {
	_, err := NewGCSStore(context.Background(), "")
	require.Error(t, err)
}
