// Package gc implements the generational, tri-color, concurrent-sweep
// collector described in spec.md §6: a Nursery generation scanned on every
// minor cycle, promotion into an Old generation after surviving two minor
// cycles, a write barrier maintaining an Old->Nursery remembered set, and
// a background goroutine performing the sweep phase concurrently with the
// mutator.
package gc

import (
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"embervm/internal/heap"
)

// PoolSweeper is satisfied by internal/strpool.Pool. The collector calls
// Sweep once per major cycle so a String's pool entry is removed in the
// same pass that frees its heap.String (spec.md §4.3, §6.4).
type PoolSweeper interface {
	Sweep(isWhite func(*heap.Header) bool) int
	ResetMarks()
}

// Roots is supplied by the interpreter: every live VM/call-frame stack and
// every global binding the collector must treat as reachable before it
// traces the rest of the heap.
type Roots interface {
	// WalkRoots calls visit once per root heap.Object currently reachable
	// from a stack slot, global, upvalue, or a Future an AWAIT is blocked on.
	WalkRoots(visit func(heap.Object))
	// WalkChildren calls visit once per heap.Object directly referenced by
	// obj (array elements, map values, struct fields, closure environment).
	WalkChildren(obj heap.Object, visit func(heap.Object))
}

// Stats mirrors spec.md §6.7's reporting requirements.
type Stats struct {
	Cycles       uint64
	MinorCycles  uint64
	MajorCycles  uint64
	PauseMicros  uint64 // cumulative stop-the-world time across all cycles
	BytesFreed   uint64
	PeakBytes    uint64
	LiveObjects  uint64
}

func (s Stats) String() string {
	return humanize.Bytes(s.BytesFreed) + " freed across " +
		humanize.Comma(int64(s.Cycles)) + " cycles, peak " + humanize.Bytes(s.PeakBytes)
}

const (
	defaultThreshold = 256 * 1024 // spec.md §6.8 minimum nursery threshold
	promotionAge     = 2          // survive this many minor cycles -> promote to Old

	// majorOldThreshold is the Old-generation occupancy (object count) that
	// triggers a major cycle, and majorCyclePeriod is the periodic fallback
	// trigger in minor cycles — spec.md §4.8: "a major cycle (periodically
	// or when Old occupancy passes a threshold) scans both."
	majorOldThreshold = 2048
	majorCyclePeriod  = 16
)

// entry tracks a single nursery object's survival count until it either
// dies or is promoted.
type entry struct {
	obj  heap.Object
	age  int
}

// Collector owns both generations and runs the collection protocol. One
// Collector is shared by every interpreter goroutine spawned for an
// ASYNC_CALL (spec.md §7), so all public methods are safe for concurrent use.
type Collector struct {
	roots Roots
	pool  PoolSweeper

	mu       sync.Mutex
	nursery  []entry
	old      []heap.Object
	bytesLive uint64
	threshold uint64

	remembered map[heap.Object]struct{} // Old objects with a pointer into Nursery

	stats Stats

	sweepWG sync.WaitGroup
}

func New(roots Roots) *Collector {
	return &Collector{
		roots:      roots,
		threshold:  defaultThreshold,
		remembered: make(map[heap.Object]struct{}),
	}
}

// SetPool wires the string intern pool so major collections prune dead
// interned Strings from it in the same pass that frees their heap.String
// (spec.md §4.3: "the GC sweeps a String, it must remove the corresponding
// pool entry before freeing"). Optional: tests that don't exercise Strings
// may leave it unset.
func (c *Collector) SetPool(p PoolSweeper) { c.pool = p }

// Allocate registers a freshly allocated object into the nursery and
// triggers a minor collection if the nursery has grown past threshold.
// approxSize is the caller's best-effort size estimate (used only for the
// adaptive-threshold heuristic and Stats, never for correctness).
func (c *Collector) Allocate(obj heap.Object, approxSize uint64) {
	c.mu.Lock()
	obj.GetHeader().Gen = heap.Nursery
	obj.GetHeader().Color = heap.White
	c.nursery = append(c.nursery, entry{obj: obj})
	c.bytesLive += approxSize
	if c.bytesLive > c.threshold {
		c.mu.Unlock()
		c.MinorCollect()
		return
	}
	c.mu.Unlock()
}

// WriteBarrier must be called whenever a field of an Old-generation object
// is set to reference a Nursery object, so the next minor collection can
// find it without re-scanning the whole Old generation (spec.md §6.5).
func (c *Collector) WriteBarrier(holder, referent heap.Object) {
	if holder.GetHeader().Gen != heap.Old {
		return
	}
	if referent.GetHeader().Gen != heap.Nursery {
		return
	}
	c.mu.Lock()
	c.remembered[holder] = struct{}{}
	c.mu.Unlock()
}

// MinorCollect traces the Nursery plus every remembered-set root, frees
// unreached Nursery objects, and promotes anything that has now survived
// promotionAge cycles into Old. Unlike majorCollect it does not take the
// lock via defer: it may need to kick off a major cycle afterward, and
// MajorCollectAsync's goroutine takes the same lock, so the unlock must
// happen before that call rather than after this function returns.
func (c *Collector) MinorCollect() {
	start := time.Now()
	c.mu.Lock()

	gray := make([]heap.Object, 0, len(c.nursery))
	c.roots.WalkRoots(func(o heap.Object) {
		if o != nil && o.GetHeader().Gen == heap.Nursery && o.GetHeader().Color == heap.White {
			o.GetHeader().Color = heap.Gray
			gray = append(gray, o)
		}
	})
	for holder := range c.remembered {
		c.roots.WalkChildren(holder, func(o heap.Object) {
			if o != nil && o.GetHeader().Gen == heap.Nursery && o.GetHeader().Color == heap.White {
				o.GetHeader().Color = heap.Gray
				gray = append(gray, o)
			}
		})
	}

	for len(gray) > 0 {
		obj := gray[len(gray)-1]
		gray = gray[:len(gray)-1]
		obj.GetHeader().Color = heap.Black
		c.roots.WalkChildren(obj, func(child heap.Object) {
			if child != nil && child.GetHeader().Color == heap.White {
				child.GetHeader().Color = heap.Gray
				gray = append(gray, child)
			}
		})
	}

	var survivors []entry
	var freed uint64
	for _, e := range c.nursery {
		h := e.obj.GetHeader()
		if h.Color == heap.White && !h.IsPermanent {
			if r, ok := e.obj.(*heap.Resource); ok {
				r.Clean()
			}
			freed++
			continue
		}
		h.Color = heap.White
		e.age++
		if e.age >= promotionAge {
			h.Gen = heap.Old
			c.old = append(c.old, e.obj)
		} else {
			survivors = append(survivors, e)
		}
	}
	c.nursery = survivors
	c.adaptThreshold(freed, uint64(len(c.nursery))+freed)

	c.stats.Cycles++
	c.stats.MinorCycles++
	c.stats.BytesFreed += freed
	c.stats.PauseMicros += uint64(time.Since(start).Microseconds())
	if uint64(len(c.nursery)+len(c.old)) > c.stats.LiveObjects {
		c.stats.LiveObjects = uint64(len(c.nursery) + len(c.old))
	}

	triggerMajor := len(c.old) >= majorOldThreshold || c.stats.MinorCycles%majorCyclePeriod == 0
	c.mu.Unlock()

	if triggerMajor {
		c.MajorCollectAsync()
	}
}

// adaptThreshold implements spec.md §6.8: relax (multiply by 3) when most of
// the last cycle's garbage was reclaimed, tighten (divide by 1.5) when
// reclamation was poor, clamped at defaultThreshold as a floor.
func (c *Collector) adaptThreshold(freed, total uint64) {
	if total == 0 {
		return
	}
	ratio := float64(freed) / float64(total)
	switch {
	case ratio > 0.5:
		c.threshold = uint64(float64(c.threshold) * 3)
	case ratio < 0.2:
		c.threshold = uint64(float64(c.threshold) / 1.5)
	}
	if c.threshold < defaultThreshold {
		c.threshold = defaultThreshold
	}
}

// MajorCollectAsync runs a full Old+Nursery trace and concurrent sweep on a
// background goroutine, returning immediately; callers that need the pause
// to be synchronous should follow with Wait.
func (c *Collector) MajorCollectAsync() {
	c.sweepWG.Add(1)
	go func() {
		defer c.sweepWG.Done()
		c.majorCollect()
	}()
}

// Wait blocks until any in-flight background sweep finishes; used at
// shutdown and in tests that assert on post-collection Stats.
func (c *Collector) Wait() { c.sweepWG.Wait() }

func (c *Collector) majorCollect() {
	start := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pool != nil {
		c.pool.ResetMarks()
	}

	gray := make([]heap.Object, 0, len(c.old)+len(c.nursery))
	c.roots.WalkRoots(func(o heap.Object) {
		if o != nil && o.GetHeader().Color == heap.White {
			o.GetHeader().Color = heap.Gray
			gray = append(gray, o)
		}
	})
	for len(gray) > 0 {
		obj := gray[len(gray)-1]
		gray = gray[:len(gray)-1]
		obj.GetHeader().Color = heap.Black
		c.roots.WalkChildren(obj, func(child heap.Object) {
			if child != nil && child.GetHeader().Color == heap.White {
				child.GetHeader().Color = heap.Gray
				gray = append(gray, child)
			}
		})
	}

	var freed uint64
	keptOld := c.old[:0]
	for _, o := range c.old {
		h := o.GetHeader()
		if h.Color == heap.White && !h.IsPermanent {
			if r, ok := o.(*heap.Resource); ok {
				r.Clean()
			}
			freed++
			continue
		}
		h.Color = heap.White
		keptOld = append(keptOld, o)
	}
	c.old = keptOld
	c.remembered = make(map[heap.Object]struct{})

	if c.pool != nil {
		c.pool.Sweep(func(h *heap.Header) bool { return h.Color == heap.White })
	}

	c.stats.Cycles++
	c.stats.MajorCycles++
	c.stats.BytesFreed += freed
	c.stats.PauseMicros += uint64(time.Since(start).Microseconds())
}

func (c *Collector) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}
