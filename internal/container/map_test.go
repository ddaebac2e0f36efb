package container

import (
	"testing"

	"embervm/internal/heap"
	"embervm/internal/strpool"
	"embervm/internal/value"
)

func TestMapStorageIntKeys(t *testing.T) {
	pool := strpool.New()
	m := NewMap(pool)
	m.Set(value.NewInt(1), value.NewRawString("one"))
	m.Set(value.NewInt(2), value.NewRawString("two"))

	v, ok := m.Get(value.NewInt(1))
	if !ok {
		t.Fatal("Get(1) not found")
	}
	s, _ := v.AsString()
	if s.String() != "one" {
		t.Fatalf("Get(1) = %q, want one", s.String())
	}
	if m.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", m.Len())
	}
}

func TestMapStorageStringKeysRequireInterning(t *testing.T) {
	pool := strpool.New()
	m := NewMap(pool)

	key := value.NewObj(pool.Intern("name"))
	m.Set(key, value.NewInt(42))

	// A second lookup through the SAME pool must find the interned key.
	sameKey := value.NewObj(pool.Intern("name"))
	v, ok := m.Get(sameKey)
	if !ok || v.AsInt != 42 {
		t.Fatalf("Get(interned key) = %v, %v; want 42, true", v, ok)
	}

	// A raw, non-interned string with equal bytes is a different pointer
	// and must NOT be found (keys compare by pointer, per the pool invariant).
	rawKey := value.NewRawString("name")
	if _, ok := m.Get(rawKey); ok {
		t.Fatal("Get found an entry for a non-interned string with equal bytes")
	}
}

func TestMapStorageDeleteAndLen(t *testing.T) {
	pool := strpool.New()
	m := NewMap(pool)
	m.Set(value.NewInt(1), value.NewInt(1))
	m.Set(value.NewInt(2), value.NewInt(2))

	if !m.Delete(value.NewInt(1)) {
		t.Fatal("Delete(1) = false, want true")
	}
	if m.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", m.Len())
	}
	if m.Delete(value.NewInt(1)) {
		t.Fatal("second Delete(1) = true, want false")
	}
}

func TestMapStorageEachVisitsAll(t *testing.T) {
	pool := strpool.New()
	m := NewMap(pool)
	for i := int64(0); i < 5; i++ {
		m.Set(value.NewInt(i), value.NewInt(i*i))
	}
	seen := 0
	m.Each(func(k, v value.Value) {
		if v.AsInt != k.AsInt*k.AsInt {
			t.Errorf("entry %v -> %v does not satisfy v == k*k", k, v)
		}
		seen++
	})
	if seen != 5 {
		t.Fatalf("Each visited %d entries, want 5", seen)
	}
}

func TestSortedIntKeys(t *testing.T) {
	m := heap.NewMap()
	for _, k := range []int64{5, 1, 3} {
		m.SetInt(k, value.NewInt(k))
	}
	got := SortedIntKeys(m)
	want := []int64{1, 3, 5}
	if len(got) != len(want) {
		t.Fatalf("SortedIntKeys returned %d keys, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("SortedIntKeys[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}
