// Package strpool implements the global string intern pool. Every runtime
// string literal and every string produced by concatenation/formatting
// passes through Intern so that value.Equal can compare strings by pointer
// instead of by byte content (spec.md §3.3).
package strpool

import (
	"hash/fnv"
	"sync"

	"embervm/internal/heap"
)

// Pool is a mutex-guarded bucket-chained table keyed by hash, mapping
// interned byte content to the canonical *heap.String. A VM owns exactly
// one Pool, shared across every interpreter instance spawned for an
// ASYNC_CALL (spec.md §7).
type Pool struct {
	mu      sync.Mutex
	buckets map[uint64][]*heap.String
	count   int
}

func New() *Pool {
	return &Pool{buckets: make(map[uint64][]*heap.String)}
}

func hashBytes(b []byte) uint64 {
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}

// Intern returns the canonical *heap.String for s, allocating a new one
// only the first time s's bytes are seen.
func (p *Pool) Intern(s string) *heap.String {
	h := hashBytes([]byte(s))
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, cand := range p.buckets[h] {
		if string(cand.Bytes) == s {
			return cand
		}
	}
	str := &heap.String{
		Header: heap.Header{Tag: heap.TagString},
		Bytes:  []byte(s),
		Hash:   h,
	}
	p.buckets[h] = append(p.buckets[h], str)
	p.count++
	return str
}

// InternBytes is Intern for already-allocated byte slices, avoiding the
// string<->[]byte copy on the hot concatenation path.
func (p *Pool) InternBytes(b []byte) *heap.String {
	return p.Intern(string(b))
}

// Len reports how many distinct strings are currently interned.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.count
}

// ResetMarks sets every non-permanent interned String's Header.Color back
// to White before a mark phase begins. Interned Strings live only in this
// pool, not in internal/gc's own nursery/old lists, so nothing else resets
// the color a previous cycle left at Black; skipping this would make a
// String unsweepable forever once first observed reachable.
func (p *Pool) ResetMarks() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, bucket := range p.buckets {
		for _, s := range bucket {
			if !s.IsPermanent {
				s.Color = heap.White
			}
		}
	}
}

// Sweep removes interned entries whose Header.Color is still White after a
// GC mark phase, i.e. nothing in the heap references them any more. The
// collector calls this once per major cycle; permanent strings (module
// names, native registry keys) are marked IsPermanent and survive.
func (p *Pool) Sweep(isWhite func(*heap.Header) bool) (freed int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for h, bucket := range p.buckets {
		kept := bucket[:0]
		for _, s := range bucket {
			if !s.IsPermanent && isWhite(&s.Header) {
				freed++
				p.count--
				continue
			}
			kept = append(kept, s)
		}
		if len(kept) == 0 {
			delete(p.buckets, h)
		} else {
			p.buckets[h] = kept
		}
	}
	return freed
}
