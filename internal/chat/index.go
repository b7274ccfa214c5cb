// Package chat holds the local view of the conversation state: the contact
// index with unseen counters, the open conversation's message log, and the
// presence set. None of these types lock; the sync engine serializes access.
package chat

import (
	"maps"

	"github.com/elliotchance/orderedmap/v2"
	"github.com/matheus3301/relay/internal/model"
)

// Index is the recency-ordered contact list with per-contact unseen counters.
// Each contact id appears at most once. contacts keeps the most recent entry
// at the back, so a move to the front is a delete plus an append.
type Index struct {
	contacts *orderedmap.OrderedMap[string, model.User]
	unseen   map[string]int
}

// NewIndex creates an empty index.
func NewIndex() *Index {
	return &Index{
		contacts: orderedmap.NewOrderedMap[string, model.User](),
		unseen:   make(map[string]int),
	}
}

// Replace swaps in a freshly fetched contact list and unseen map in full.
// users is most recent first. Duplicate ids keep their first position.
func (x *Index) Replace(users []model.User, unseen map[string]int) {
	seen := make(map[string]bool, len(users))
	unique := make([]model.User, 0, len(users))
	for _, u := range users {
		if u.ID == "" || seen[u.ID] {
			continue
		}
		seen[u.ID] = true
		unique = append(unique, u)
	}
	x.contacts = orderedmap.NewOrderedMapWithCapacity[string, model.User](len(unique))
	for i := len(unique) - 1; i >= 0; i-- {
		x.contacts.Set(unique[i].ID, unique[i])
	}
	clear(x.unseen)
	for id, n := range unseen {
		if n > 0 {
			x.unseen[id] = n
		}
	}
}

// Has reports whether id is a known contact.
func (x *Index) Has(id string) bool {
	return x.contacts.Has(id)
}

// Get returns the contact record for id.
func (x *Index) Get(id string) (model.User, bool) {
	return x.contacts.Get(id)
}

// InsertFront adds a contact at the front, or moves it there if already present.
func (x *Index) InsertFront(u model.User) {
	if x.contacts.Has(u.ID) {
		x.MoveToFront(u.ID)
		return
	}
	x.contacts.Set(u.ID, u)
}

// Update rewrites the record of a known contact in place, keeping its position.
// It reports false if id is unknown.
func (x *Index) Update(u model.User) bool {
	el := x.contacts.GetElement(u.ID)
	if el == nil {
		return false
	}
	el.Value = u
	return true
}

// MoveToFront makes id the most recent contact. It reports false if id is unknown.
func (x *Index) MoveToFront(id string) bool {
	u, ok := x.contacts.Get(id)
	if !ok {
		return false
	}
	if back := x.contacts.Back(); back.Key != id {
		x.contacts.Delete(id)
		x.contacts.Set(id, u)
	}
	return true
}

// Increment bumps the unseen counter for id.
func (x *Index) Increment(id string) int {
	x.unseen[id]++
	return x.unseen[id]
}

// ClearUnseen zeroes the unseen counter for id.
func (x *Index) ClearUnseen(id string) {
	delete(x.unseen, id)
}

// Unseen returns the unseen counter for id.
func (x *Index) Unseen(id string) int {
	return x.unseen[id]
}

// Contacts returns a copy of the contacts, most recent first.
func (x *Index) Contacts() []model.User {
	out := make([]model.User, 0, x.contacts.Len())
	for el := x.contacts.Back(); el != nil; el = el.Prev() {
		out = append(out, el.Value)
	}
	return out
}

// UnseenCounts returns a copy of the non-zero unseen counters.
func (x *Index) UnseenCounts() map[string]int {
	return maps.Clone(x.unseen)
}

// Len returns the number of contacts.
func (x *Index) Len() int { return x.contacts.Len() }

// Reset drops every contact and counter.
func (x *Index) Reset() {
	x.contacts = orderedmap.NewOrderedMap[string, model.User]()
	clear(x.unseen)
}
