// Package utilgroup implements the Utility-Group Registry (§3, §4.3
// step 1): a small bounded table mapping opaque grouping keys to a
// remembered topology anchor and a reference count, guarded by one
// global spinlock whose hold discipline spans observe-then-populate
// (§5).
package utilgroup

import (
	"sync"

	"github.com/go-logr/logr"

	"github.com/lwkcore/core/internal/errs"
)

// Size is the fixed table capacity (§9: "prefer a fixed array with
// linear scan over a hash map").
const Size = 4

// Entry is one Utility-Group table slot (§3, §I7: live iff refcount >
// 0; key 0 means free).
type Entry struct {
	Key      uint64
	RefCount int
	Anchor   int // remembered topology anchor: a CPU id
}

// Registry is the bounded table plus its global lock.
type Registry struct {
	mu      sync.Mutex
	entries [Size]Entry
	log     logr.Logger
}

func New(log logr.Logger) *Registry {
	return &Registry{log: log}
}

// Lookup finds key's entry. Callers that intend to both observe and
// possibly populate a missing entry must use Reserve instead, so the
// lock spans the whole search+insert (§5).
func (r *Registry) Lookup(key uint64) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.find(key)
}

func (r *Registry) find(key uint64) (Entry, bool) {
	for _, e := range r.entries {
		if e.RefCount > 0 && e.Key == key {
			return e, true
		}
	}
	return Entry{}, false
}

// Reservation is held by the caller responsible for populating a
// newly-claimed entry. Exactly one of Populate (on success) or Abort
// (on failure) must be called, once, to drop the lock acquired by
// Reserve.
type Reservation struct {
	r     *Registry
	key   uint64
	slot  int // index of the claimed entry
	found Entry
}

// Reserve resolves the topology anchor for key (§4.3 step 1): if an
// entry exists, its refcount is bumped and returned immediately,
// lock released. If absent, the caller becomes responsible for
// populating that entry — the lock is held across the caller's
// placement search until Populate or Abort is called, so two
// concurrent clones with the same key cannot create divergent anchors
// (§5).
func (r *Registry) Reserve(key uint64) (existing Entry, found bool, pending *Reservation) {
	r.mu.Lock()
	if e, ok := r.find(key); ok {
		r.entries[indexOf(r, key)].RefCount++
		e.RefCount++
		r.mu.Unlock()
		return e, true, nil
	}
	slot := r.freeSlot()
	if slot < 0 {
		r.mu.Unlock()
		r.log.Info("utility-group registry full, dropping anchor request", "key", key)
		return Entry{}, false, nil
	}
	// Lock stays held; Populate/Abort releases it.
	return Entry{}, false, &Reservation{r: r, key: key, slot: slot}
}

func indexOf(r *Registry, key uint64) int {
	for i, e := range r.entries {
		if e.RefCount > 0 && e.Key == key {
			return i
		}
	}
	return -1
}

func (r *Registry) freeSlot() int {
	for i, e := range r.entries {
		if e.RefCount == 0 {
			return i
		}
	}
	return -1
}

// Populate writes the new entry (refcount starts at 1, the caller's
// own reference) and releases the lock Reserve left held.
func (p *Reservation) Populate(anchor int) Entry {
	e := Entry{Key: p.key, RefCount: 1, Anchor: anchor}
	p.r.entries[p.slot] = e
	p.r.mu.Unlock()
	return e
}

// Abort releases the lock Reserve left held without writing an entry,
// used when the caller failed before it could populate one (§7:
// AllocFail-style degrade, state left unchanged).
func (p *Reservation) Abort() {
	p.r.mu.Unlock()
}

// Release decrements key's refcount, freeing the slot at zero
// (§I7: key 0 means free slot).
func (r *Registry) Release(key uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, e := range r.entries {
		if e.RefCount > 0 && e.Key == key {
			r.entries[i].RefCount--
			if r.entries[i].RefCount == 0 {
				r.entries[i] = Entry{}
			}
			return nil
		}
	}
	return errs.New(errs.ConfigInvalid, "release of unknown utility-group key")
}
