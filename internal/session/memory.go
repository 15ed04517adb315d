package session

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"

	"github.com/rotisserie/eris"
)

type memEntry struct {
	body []byte
	gen  int64
}

// MemoryStore is an in-process VersionedStore used by tests and local runs.
type MemoryStore struct {
	mu   sync.Mutex
	docs map[string]memEntry
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string]memEntry)}
}

// Read implements Store.
func (m *MemoryStore) Read(ctx context.Context, id string) (Document, error) {
	doc, _, err := m.ReadVersion(ctx, id)
	return doc, err
}

// ReadVersion implements VersionedStore.
func (m *MemoryStore) ReadVersion(_ context.Context, id string) (Document, Version, error) {
	m.mu.Lock()
	e, ok := m.docs[id]
	m.mu.Unlock()
	if !ok {
		return nil, NoVersion, ErrNotFound
	}
	doc, err := decode(e.body)
	if err != nil {
		return nil, NoVersion, err
	}
	return doc, Version(strconv.FormatInt(e.gen, 10)), nil
}

// Write implements Store.
func (m *MemoryStore) Write(_ context.Context, id string, doc Document) error {
	body, err := encode(doc)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[id] = memEntry{body: body, gen: m.docs[id].gen + 1}
	return nil
}

// WriteVersion implements VersionedStore.
func (m *MemoryStore) WriteVersion(_ context.Context, id string, doc Document, expected Version) error {
	body, err := encode(doc)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.docs[id]
	current := NoVersion
	if ok {
		current = Version(strconv.FormatInt(cur.gen, 10))
	}
	if current != expected {
		return ErrVersionConflict
	}
	m.docs[id] = memEntry{body: body, gen: cur.gen + 1}
	return nil
}

// Exists implements Store.
func (m *MemoryStore) Exists(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.docs[id]
	return ok, nil
}

func encode(doc Document) ([]byte, error) {
	if doc == nil {
		doc = Document{}
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return nil, eris.Wrap(err, "session: encode document")
	}
	return b, nil
}

func decode(body []byte) (Document, error) {
	doc := Document{}
	if len(body) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, eris.Wrap(err, "session: decode document")
	}
	return doc, nil
}
