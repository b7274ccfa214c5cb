package chat

// Recent remembers the last observed message ids across every conversation,
// so a redelivered message is counted once. The oldest id is forgotten when
// the set is full.
type Recent struct {
	ids  map[string]struct{}
	ring []string
	next int
}

// NewRecent creates a set holding up to size ids.
func NewRecent(size int) *Recent {
	return &Recent{
		ids:  make(map[string]struct{}, size),
		ring: make([]string, size),
	}
}

// Add records id and reports whether it was new.
func (r *Recent) Add(id string) bool {
	if _, ok := r.ids[id]; ok {
		return false
	}
	if old := r.ring[r.next]; old != "" {
		delete(r.ids, old)
	}
	r.ring[r.next] = id
	r.ids[id] = struct{}{}
	r.next = (r.next + 1) % len(r.ring)
	return true
}

// Len returns the number of remembered ids.
func (r *Recent) Len() int { return len(r.ids) }

// Reset forgets every id.
func (r *Recent) Reset() {
	clear(r.ids)
	clear(r.ring)
	r.next = 0
}
