// server/history/ring.go
package history

import "slices"

// Capacity is the number of recently visited files kept per user.
const Capacity = 10

// Record returns ids with id moved to the front, truncated to capacity. The
// input slice is not modified. Empty ids are ignored.
func Record(ids []string, id string, capacity int) []string {
	if id == "" {
		return slices.Clone(ids)
	}
	out := make([]string, 0, min(len(ids)+1, max(capacity, 0)))
	if capacity > 0 {
		out = append(out, id)
	}
	for _, v := range ids {
		if len(out) >= capacity {
			break
		}
		if v != id && v != "" {
			out = append(out, v)
		}
	}
	return out
}

// Ring is a most-recently-used set of content IDs.
type Ring struct {
	capacity int
	ids      []string
}

func NewRing(capacity int, ids ...string) *Ring {
	r := &Ring{capacity: capacity}
	for i := len(ids) - 1; i >= 0; i-- {
		r.Record(ids[i])
	}
	return r
}

func (r *Ring) Record(id string) {
	r.ids = Record(r.ids, id, r.capacity)
}

// Remove drops id, e.g. after the file it points at was deleted.
func (r *Ring) Remove(id string) {
	r.ids = slices.DeleteFunc(r.ids, func(v string) bool { return v == id })
}

// IDs returns the entries, most recent first.
func (r *Ring) IDs() []string {
	return slices.Clone(r.ids)
}
