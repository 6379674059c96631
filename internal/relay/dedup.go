package relay

// dedupRing remembers the last N event ids. The relay delivers
// at-least-once, so repeated ids across polls must not re-trigger actions.
type dedupRing struct {
	ids  []string
	set  map[string]struct{}
	next int
}

func newDedupRing(size int) *dedupRing {
	if size <= 0 {
		size = 256
	}
	return &dedupRing{
		ids: make([]string, size),
		set: make(map[string]struct{}, size),
	}
}

// Seen records id and reports whether it was already present. An empty id
// carries no identity, so it is never deduplicated or remembered.
func (r *dedupRing) Seen(id string) bool {
	if id == "" {
		return false
	}
	if _, ok := r.set[id]; ok {
		return true
	}
	if old := r.ids[r.next]; old != "" {
		delete(r.set, old)
	}
	r.ids[r.next] = id
	r.set[id] = struct{}{}
	r.next = (r.next + 1) % len(r.ids)
	return false
}
