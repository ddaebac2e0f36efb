// Package container implements the value-level operations on the Array and
// Map heap objects: growth, indexing, and the iteration helpers the
// interpreter's builtin opcodes call into. The bucket-chained storage
// itself lives on heap.Map; this package is where it could be swapped for
// open addressing without touching internal/interp (see MapStorage below).
package container

import (
	"fmt"

	"embervm/internal/heap"
	"embervm/internal/value"
)

const minArrayCap = 8

// NewArray allocates an Array pre-sized for n elements (geometric growth:
// capacity doubles from minArrayCap once exceeded).
func NewArray(elems []value.Value) *heap.Array {
	cap := minArrayCap
	for cap < len(elems) {
		cap *= 2
	}
	backing := make([]any, len(elems), cap)
	for i, e := range elems {
		backing[i] = e
	}
	return &heap.Array{Header: heap.Header{Tag: heap.TagArray}, Elems: backing}
}

func ArrayGet(a *heap.Array, idx int64) (value.Value, error) {
	a.RLock()
	defer a.RUnlock()
	if idx < 0 || int(idx) >= len(a.Elems) {
		return value.NewNil(), fmt.Errorf("array index %d out of range (len %d)", idx, len(a.Elems))
	}
	return a.Elems[idx].(value.Value), nil
}

func ArraySet(a *heap.Array, idx int64, v value.Value) error {
	a.Lock()
	defer a.Unlock()
	if idx < 0 || int(idx) >= len(a.Elems) {
		return fmt.Errorf("array index %d out of range (len %d)", idx, len(a.Elems))
	}
	a.Elems[idx] = v
	return nil
}

// ArrayPush appends v, growing the backing slice geometrically (x2, never
// below minArrayCap) when capacity is exhausted. The growth is not
// reported to internal/gc.
func ArrayPush(a *heap.Array, v value.Value) {
	a.Lock()
	defer a.Unlock()
	if len(a.Elems) == cap(a.Elems) {
		newCap := cap(a.Elems) * 2
		if newCap < minArrayCap {
			newCap = minArrayCap
		}
		grown := make([]any, len(a.Elems), newCap)
		copy(grown, a.Elems)
		a.Elems = grown
	}
	a.Elems = append(a.Elems, v)
}

func ArrayPop(a *heap.Array) (value.Value, error) {
	a.Lock()
	defer a.Unlock()
	n := len(a.Elems)
	if n == 0 {
		return value.NewNil(), fmt.Errorf("pop from empty array")
	}
	v := a.Elems[n-1].(value.Value)
	a.Elems = a.Elems[:n-1]
	return v, nil
}

func ArrayLen(a *heap.Array) int {
	a.RLock()
	defer a.RUnlock()
	return len(a.Elems)
}

// ArrayEach visits every element under a read lock; fn must not call back
// into ArraySet/ArrayPush on the same array (it deadlocks, since RWMutex is
// not reentrant).
func ArrayEach(a *heap.Array, fn func(i int, v value.Value)) {
	a.RLock()
	defer a.RUnlock()
	for i, e := range a.Elems {
		fn(i, e.(value.Value))
	}
}
