package discovery

// IdentifierSet is an insertion-ordered set of place identifiers.
type IdentifierSet struct {
	seen  map[string]struct{}
	order []string
}

// NewIdentifierSet creates an empty set.
func NewIdentifierSet() *IdentifierSet {
	return &IdentifierSet{seen: make(map[string]struct{})}
}

// Add inserts ids, ignoring empty strings and duplicates.
func (s *IdentifierSet) Add(ids ...string) {
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := s.seen[id]; ok {
			continue
		}
		s.seen[id] = struct{}{}
		s.order = append(s.order, id)
	}
}

// Contains reports whether id was added.
func (s *IdentifierSet) Contains(id string) bool {
	_, ok := s.seen[id]
	return ok
}

// Len returns the number of distinct ids.
func (s *IdentifierSet) Len() int { return len(s.order) }

// Slice returns a copy of the ids in first-seen order.
func (s *IdentifierSet) Slice() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}
