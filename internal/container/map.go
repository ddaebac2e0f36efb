package container

import (
	"sort"

	"golang.org/x/exp/maps"

	"embervm/internal/heap"
	"embervm/internal/strpool"
	"embervm/internal/value"
)

// MapStorage is the seam a future open-addressing implementation would
// satisfy instead of heap.Map's bucket chains. internal/interp only reaches
// a Map through WrapMap and these MapStorage methods, never heap.Map's
// bucket fields directly, so swapping the storage strategy is a matter of
// giving heap.Map (or a replacement type behind this interface) new
// internals without touching a single opcode handler.
type MapStorage interface {
	Get(key value.Value) (value.Value, bool)
	Set(key, v value.Value)
	Delete(key value.Value) bool
	Len() int
	Each(fn func(key, v value.Value))
}

// heapMapAdapter adapts heap.Map (keyed on either int64 or *heap.String) to
// MapStorage's Value-keyed interface, rejecting keys of any other Type —
// spec.md §4.4 only allows Int and String keys.
type heapMapAdapter struct {
	m    *heap.Map
	pool *strpool.Pool
}

func NewMap(pool *strpool.Pool) MapStorage {
	return &heapMapAdapter{m: heap.NewMap(), pool: pool}
}

func WrapMap(m *heap.Map, pool *strpool.Pool) MapStorage {
	return &heapMapAdapter{m: m, pool: pool}
}

func (a *heapMapAdapter) Raw() *heap.Map { return a.m }

func (a *heapMapAdapter) Get(key value.Value) (value.Value, bool) {
	switch key.Type {
	case value.Int:
		v, ok := a.m.GetInt(key.AsInt)
		if !ok {
			return value.NewNil(), false
		}
		return v.(value.Value), true
	case value.Obj:
		if s, ok := key.AsString(); ok {
			v, ok := a.m.GetStr(s)
			if !ok {
				return value.NewNil(), false
			}
			return v.(value.Value), true
		}
	}
	return value.NewNil(), false
}

func (a *heapMapAdapter) Set(key, v value.Value) {
	switch key.Type {
	case value.Int:
		a.m.SetInt(key.AsInt, v)
	case value.Obj:
		if s, ok := key.AsString(); ok {
			a.m.SetStr(s, v)
		}
	}
}

func (a *heapMapAdapter) Delete(key value.Value) bool {
	switch key.Type {
	case value.Int:
		return a.m.DeleteInt(key.AsInt)
	case value.Obj:
		if s, ok := key.AsString(); ok {
			return a.m.DeleteStr(s)
		}
	}
	return false
}

func (a *heapMapAdapter) Len() int { return a.m.Len() }

func (a *heapMapAdapter) Each(fn func(key, v value.Value)) {
	a.m.Each(func(intKey int64, strKey *heap.String, isIntKey bool, v any) {
		if isIntKey {
			fn(value.NewInt(intKey), v.(value.Value))
		} else {
			fn(value.NewObj(strKey), v.(value.Value))
		}
	})
}

// Keys returns the map's keys in an unspecified order (spec.md §4.4 does
// not guarantee iteration order); sorted variants below exist for tooling
// (disassembly dumps, REPL inspection) where deterministic output matters.
func Keys(m MapStorage) []value.Value {
	out := make([]value.Value, 0, m.Len())
	m.Each(func(k, _ value.Value) { out = append(out, k) })
	return out
}

// SortedIntKeys extracts and sorts the integer keys of a raw heap.Map,
// collecting them with golang.org/x/exp/maps and sorting them with the
// standard sort package.
func SortedIntKeys(m *heap.Map) []int64 {
	collected := map[int64]struct{}{}
	m.Each(func(intKey int64, _ *heap.String, isIntKey bool, _ any) {
		if isIntKey {
			collected[intKey] = struct{}{}
		}
	})
	keys := maps.Keys(collected)
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
