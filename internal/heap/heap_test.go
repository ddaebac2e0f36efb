package heap

import (
	"sync"
	"testing"
)

func TestMapSetGetInt(t *testing.T) {
	m := NewMap()
	m.SetInt(1, "one")
	m.SetInt(2, "two")

	v, ok := m.GetInt(1)
	if !ok || v != "one" {
		t.Fatalf("GetInt(1) = %v, %v; want one, true", v, ok)
	}
	if m.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", m.Len())
	}
}

func TestMapOverwriteDoesNotGrowCount(t *testing.T) {
	m := NewMap()
	m.SetInt(5, "a")
	m.SetInt(5, "b")
	if m.Len() != 1 {
		t.Fatalf("Len() = %d, want 1 after overwrite", m.Len())
	}
	v, _ := m.GetInt(5)
	if v != "b" {
		t.Fatalf("GetInt(5) = %v, want b", v)
	}
}

func TestMapDelete(t *testing.T) {
	m := NewMap()
	m.SetInt(1, "x")
	if !m.DeleteInt(1) {
		t.Fatal("DeleteInt(1) = false, want true")
	}
	if _, ok := m.GetInt(1); ok {
		t.Fatal("GetInt(1) found entry after delete")
	}
	if m.DeleteInt(1) {
		t.Fatal("second DeleteInt(1) = true, want false")
	}
}

func TestMapGrowthPreservesEntries(t *testing.T) {
	m := NewMap()
	for i := int64(0); i < 200; i++ {
		m.SetInt(i, i*2)
	}
	if m.Len() != 200 {
		t.Fatalf("Len() = %d, want 200", m.Len())
	}
	for i := int64(0); i < 200; i++ {
		v, ok := m.GetInt(i)
		if !ok || v.(int64) != i*2 {
			t.Fatalf("GetInt(%d) = %v, %v; want %d, true", i, v, ok, i*2)
		}
	}
}

func TestMapStringKeyPointerIdentity(t *testing.T) {
	m := NewMap()
	a := &String{Header: Header{Tag: TagString}, Bytes: []byte("key"), Hash: 42}
	b := &String{Header: Header{Tag: TagString}, Bytes: []byte("key"), Hash: 42}

	m.SetStr(a, "value-for-a")
	if _, ok := m.GetStr(b); ok {
		t.Fatal("GetStr found entry for a distinct *String with equal bytes; keys must compare by pointer")
	}
	if v, ok := m.GetStr(a); !ok || v != "value-for-a" {
		t.Fatalf("GetStr(a) = %v, %v; want value-for-a, true", v, ok)
	}
}

func TestMapEachVisitsEveryEntry(t *testing.T) {
	m := NewMap()
	want := map[int64]bool{1: true, 2: true, 3: true}
	for k := range want {
		m.SetInt(k, nil)
	}
	seen := map[int64]bool{}
	m.Each(func(intKey int64, _ *String, isIntKey bool, _ any) {
		if isIntKey {
			seen[intKey] = true
		}
	})
	if len(seen) != len(want) {
		t.Fatalf("Each visited %d entries, want %d", len(seen), len(want))
	}
}

func TestFutureResolveIsMonotonic(t *testing.T) {
	fut := NewFuture()
	if fut.IsDone() {
		t.Fatal("fresh Future reports done")
	}

	var wg sync.WaitGroup
	wg.Add(1)
	var got any
	go func() {
		defer wg.Done()
		got, _ = fut.Await()
	}()

	fut.Resolve(7, nil)
	fut.Resolve(99, nil) // second Resolve must be a no-op

	wg.Wait()
	if got != 7 {
		t.Fatalf("Await() value = %v, want 7 (first Resolve wins)", got)
	}
	if !fut.IsDone() {
		t.Fatal("Future not marked done after Resolve")
	}
}

func TestResourceCleanRunsExactlyOnce(t *testing.T) {
	calls := 0
	r := &Resource{Header: Header{Tag: TagResource}, Cleanup: func() { calls++ }}
	r.Clean()
	r.Clean()
	r.Clean()
	if calls != 1 {
		t.Fatalf("Cleanup ran %d times, want 1", calls)
	}
}

func TestEnvironmentLookupWalksEnclosing(t *testing.T) {
	outer := NewEnvironment(nil)
	outer.Define("x", 1)
	inner := NewEnvironment(outer)
	inner.Define("y", 2)

	if v, ok := inner.Get("x"); !ok || v != 1 {
		t.Fatalf("inner.Get(x) = %v, %v; want 1, true", v, ok)
	}
	if ok := inner.Set("x", 10); !ok {
		t.Fatal("inner.Set(x, ...) = false, want true (defined in outer)")
	}
	if v, _ := outer.Get("x"); v != 10 {
		t.Fatalf("outer.Get(x) = %v, want 10 after inner.Set", v)
	}
	if ok := inner.Set("never-defined", 0); ok {
		t.Fatal("Set on an undefined name returned true")
	}
}

func TestEnvironmentForEachVarVisitsOwnScopeOnly(t *testing.T) {
	outer := NewEnvironment(nil)
	outer.Define("outerVar", 1)
	inner := NewEnvironment(outer)
	inner.Define("innerVar", 2)

	count := 0
	inner.ForEachVar(func(v any) { count++ })
	if count != 1 {
		t.Fatalf("ForEachVar on inner visited %d vars, want 1 (own scope only)", count)
	}
}
