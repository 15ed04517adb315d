package session

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// plainStore hides the versioned methods of a backend.
type plainStore struct {
	inner Store
}

func (p plainStore) Read(ctx context.Context, id string) (Document, error) {
	return p.inner.Read(ctx, id)
}

func (p plainStore) Write(ctx context.Context, id string, doc Document) error {
	return p.inner.Write(ctx, id, doc)
}

func (p plainStore) Exists(ctx context.Context, id string) (bool, error) {
	return p.inner.Exists(ctx, id)
}

func backends(t *testing.T) map[string]VersionedStore {
	t.Helper()
	fs, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	return map[string]VersionedStore{
		"memory": NewMemoryStore(),
		"file":   fs,
	}
}

func TestStore_ReadWriteExists(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			id := "SESSION-2024-01-01-00-00-00.json"

			_, err := s.Read(ctx, id)
			assert.ErrorIs(t, err, ErrNotFound)

			ok, err := s.Exists(ctx, id)
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, s.Write(ctx, id, Document{}))
			ok, err = s.Exists(ctx, id)
			require.NoError(t, err)
			assert.True(t, ok)

			doc := Document{"https://a.example": {Name: "A", Text: "hello"}}
			require.NoError(t, s.Write(ctx, id, doc))

			got, err := s.Read(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, doc, got)
		})
	}
}

func TestStore_WriteVersionConflicts(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			id := "doc.json"

			require.NoError(t, s.WriteVersion(ctx, id, Document{}, NoVersion))
			assert.ErrorIs(t, s.WriteVersion(ctx, id, Document{}, NoVersion), ErrVersionConflict)

			_, v1, err := s.ReadVersion(ctx, id)
			require.NoError(t, err)
			require.NoError(t, s.WriteVersion(ctx, id, Document{"k": {Name: "first"}}, v1))

			err = s.WriteVersion(ctx, id, Document{"k": {Name: "stale"}}, v1)
			assert.ErrorIs(t, err, ErrVersionConflict)

			got, err := s.Read(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, "first", got["k"].Name)
		})
	}
}

func TestMergeWrite_MissingDocument(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	err := MergeWrite(ctx, s, "absent.json", Document{"k": {Name: "x"}}, MergeOptions{})
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, MergeWrite(ctx, s, "absent.json", Document{"k": {Name: "x"}}, MergeOptions{CreateMissing: true}))
	got, err := s.Read(ctx, "absent.json")
	require.NoError(t, err)
	assert.Equal(t, "x", got["k"].Name)
}

func TestMergeWrite_ConcurrentWritersKeepAllEntries(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			id := "concurrent.json"
			require.NoError(t, s.Write(ctx, id, Document{}))

			const writers = 8
			var wg sync.WaitGroup
			errs := make([]error, writers)
			for i := range writers {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					key := fmt.Sprintf("https://site%d.example", i)
					errs[i] = MergeWrite(ctx, s, id, Document{key: {Name: key}}, MergeOptions{Retries: 50})
				}(i)
			}
			wg.Wait()
			for _, err := range errs {
				require.NoError(t, err)
			}

			got, err := s.Read(ctx, id)
			require.NoError(t, err)
			assert.Len(t, got, writers)
		})
	}
}

func TestMergeWrite_PlainStoreOverlays(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryStore()
	s := plainStore{inner: mem}
	id := "plain.json"
	require.NoError(t, s.Write(ctx, id, Document{"a": {Name: "A", Text: "one"}}))

	require.NoError(t, MergeWrite(ctx, s, id, Document{"b": {Name: "B"}}, MergeOptions{}))

	got, err := s.Read(ctx, id)
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, "one", got["a"].Text)
}

func TestFileStore_RejectsPathIDs(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	for _, id := range []string{"", "../escape.json", "a/b.json", ".hidden"} {
		err := s.Write(context.Background(), id, Document{})
		assert.ErrorIs(t, err, ErrInvalidID, id)
	}
}
