package matcher

import "sync"

// dedupSet is a best-effort, bounded set of in-flight coreHashes. It
// exists only to keep the producer from re-enqueueing a transfer that
// is already queued or being worked; correctness never depends on it,
// since persistence guards against double-marking.
type dedupSet struct {
	mu    sync.Mutex
	set   map[string]struct{}
	order []string
}

func newDedupSet() *dedupSet {
	return &dedupSet{set: make(map[string]struct{})}
}

const (
	dedupCap     = 10_000
	dedupRetain  = 5_000
)

// Add reports whether hash was newly added (false if already present).
func (d *dedupSet) Add(hash string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.set[hash]; exists {
		return false
	}

	d.set[hash] = struct{}{}
	d.order = append(d.order, hash)

	if len(d.order) > dedupCap {
		drop := d.order[:len(d.order)-dedupRetain]
		for _, h := range drop {
			delete(d.set, h)
		}
		d.order = append([]string(nil), d.order[len(d.order)-dedupRetain:]...)
	}
	return true
}

// Remove drops hash so it may be retried on the next producer refill.
func (d *dedupSet) Remove(hash string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.set, hash)
	// order is left with a stale entry; Add's exists-check treats a
	// stale entry the same as absent once deleted from the map, so no
	// further bookkeeping is required.
}

func (d *dedupSet) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.set)
}
