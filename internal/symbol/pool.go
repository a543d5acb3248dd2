// Package symbol implements a deduplicated string-interning pool: callers
// exchange byte strings (module and field names, mostly) for small integer
// Handles, so the rest of the engine can compare names with a uint32
// compare instead of a string compare.
package symbol

import (
	"sync"

	"github.com/dtvmgo/dtvm/internal/werr"
)

// Handle is an interned-string reference. The zero Handle is never valid;
// it is used as the null symbol.
type Handle uint32

const handleNull Handle = 0

const initialBuckets = 64

type entry struct {
	str      string
	refcount int32 // -1 means pinned (reserved symbols): never collected
	next     int32 // index of next entry in this bucket's chain, -1 if none
}

// Pool is a hash table with open chaining by index: buckets hold the index
// of their first entry, entries hold the index of the next entry in the
// same bucket. Reserved symbols occupy the lowest handles and are pinned
// (never reference counted) for the pool's lifetime.
type Pool struct {
	mu      sync.Mutex
	buckets []int32
	entries []entry // entries[0] is unused so Handle 0 stays null
	byStr   map[string]Handle
}

// NewPool creates a Pool pre-populated with the engine's reserved symbols
// (see reservedNames in reserved.go).
func NewPool() *Pool {
	p := &Pool{
		buckets: make([]int32, initialBuckets),
		entries: make([]entry, 1, 1+len(reservedNames)),
		byStr:   make(map[string]Handle, len(reservedNames)),
	}
	for i := range p.buckets {
		p.buckets[i] = -1
	}
	for _, name := range reservedNames {
		p.internLocked(name, true)
	}
	return p
}

// Intern returns the Handle for s, allocating and refcounting a new entry
// if s was not already present. Reserved symbols are returned unmodified
// and are never refcounted.
func (p *Pool) Intern(s string) (Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.internLocked(s, false)
}

func (p *Pool) internLocked(s string, pin bool) (Handle, error) {
	if h, ok := p.byStr[s]; ok {
		if !pin {
			e := &p.entries[h]
			if e.refcount >= 0 {
				e.refcount++
			}
		}
		return h, nil
	}
	if len(p.entries) >= 1<<32-1 {
		return handleNull, werr.New(werr.PhaseLoad, werr.KindSymbolAllocFailed)
	}
	idx := int32(len(p.entries))
	rc := int32(1)
	if pin {
		rc = -1
	}
	p.entries = append(p.entries, entry{str: s, refcount: rc, next: -1})
	h := Handle(idx)
	p.byStr[s] = h

	b := p.bucketFor(s)
	p.entries[idx].next = p.buckets[b]
	p.buckets[b] = idx

	if !pin && len(p.entries) > len(p.buckets) {
		p.rehash()
	}
	return h, nil
}

// Lookup returns the string for h, or "", false if h is null or unknown.
func (p *Pool) Lookup(h Handle) (string, bool) {
	if h == handleNull {
		return "", false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if int(h) >= len(p.entries) {
		return "", false
	}
	e := &p.entries[h]
	if e.refcount == 0 {
		return "", false
	}
	return e.str, true
}

// Retain increments the refcount of a previously interned (non-reserved)
// handle.
func (p *Pool) Retain(h Handle) {
	if h == handleNull {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if int(h) < len(p.entries) && p.entries[h].refcount > 0 {
		p.entries[h].refcount++
	}
}

// Release decrements the refcount of h, freeing the slot's string lookup
// once it reaches zero. Reserved (pinned) symbols are never released.
func (p *Pool) Release(h Handle) {
	if h == handleNull {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if int(h) >= len(p.entries) {
		return
	}
	e := &p.entries[h]
	if e.refcount <= 0 {
		return // pinned or already free
	}
	e.refcount--
	if e.refcount == 0 {
		delete(p.byStr, e.str)
	}
}

func (p *Pool) bucketFor(s string) int {
	return int(fnv1a(s) % uint32(len(p.buckets)))
}

// rehash doubles the bucket count once load hits 1.0 and relinks every live
// entry; reserved (pinned) entries relink the same as any other.
func (p *Pool) rehash() {
	newBuckets := make([]int32, len(p.buckets)*2)
	for i := range newBuckets {
		newBuckets[i] = -1
	}
	for i := 1; i < len(p.entries); i++ {
		e := &p.entries[i]
		if e.refcount == 0 {
			continue
		}
		b := int(fnv1a(e.str) % uint32(len(newBuckets)))
		e.next = newBuckets[b]
		newBuckets[b] = int32(i)
	}
	p.buckets = newBuckets
}

func fnv1a(s string) uint32 {
	const offset32 = 2166136261
	const prime32 = 16777619
	h := uint32(offset32)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= prime32
	}
	return h
}
