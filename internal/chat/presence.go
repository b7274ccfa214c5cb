package chat

import "slices"

// Presence is the set of user ids currently online. Every push replaces it.
type Presence struct {
	online map[string]struct{}
}

// NewPresence creates an empty presence set.
func NewPresence() *Presence {
	return &Presence{online: make(map[string]struct{})}
}

// Replace swaps the set for ids.
func (p *Presence) Replace(ids []string) {
	clear(p.online)
	for _, id := range ids {
		if id != "" {
			p.online[id] = struct{}{}
		}
	}
}

// Online reports whether id is in the set.
func (p *Presence) Online(id string) bool {
	_, ok := p.online[id]
	return ok
}

// IDs returns the members in sorted order.
func (p *Presence) IDs() []string {
	out := make([]string, 0, len(p.online))
	for id := range p.online {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// Len returns the number of online users.
func (p *Presence) Len() int { return len(p.online) }

// Reset empties the set.
func (p *Presence) Reset() { clear(p.online) }
