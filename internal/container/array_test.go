package container

import (
	"testing"

	"embervm/internal/value"
)

func TestArrayGetSetRoundTrip(t *testing.T) {
	a := NewArray([]value.Value{value.NewInt(1), value.NewInt(2), value.NewInt(3)})
	if ArrayLen(a) != 3 {
		t.Fatalf("ArrayLen = %d, want 3", ArrayLen(a))
	}
	if err := ArraySet(a, 1, value.NewInt(99)); err != nil {
		t.Fatalf("ArraySet: %v", err)
	}
	v, err := ArrayGet(a, 1)
	if err != nil {
		t.Fatalf("ArrayGet: %v", err)
	}
	if v.AsInt != 99 {
		t.Fatalf("ArrayGet(1) = %d, want 99", v.AsInt)
	}
}

func TestArrayGetOutOfRange(t *testing.T) {
	a := NewArray([]value.Value{value.NewInt(1)})
	if _, err := ArrayGet(a, 5); err == nil {
		t.Fatal("ArrayGet(5) on a 1-element array did not error")
	}
	if _, err := ArrayGet(a, -1); err == nil {
		t.Fatal("ArrayGet(-1) did not error")
	}
}

func TestArrayPushGrows(t *testing.T) {
	a := NewArray(nil)
	for i := int64(0); i < 20; i++ {
		ArrayPush(a, value.NewInt(i))
	}
	if ArrayLen(a) != 20 {
		t.Fatalf("ArrayLen = %d, want 20", ArrayLen(a))
	}
	v, _ := ArrayGet(a, 19)
	if v.AsInt != 19 {
		t.Fatalf("ArrayGet(19) = %d, want 19", v.AsInt)
	}
}

func TestArrayPopLIFO(t *testing.T) {
	a := NewArray([]value.Value{value.NewInt(1), value.NewInt(2)})
	v, err := ArrayPop(a)
	if err != nil {
		t.Fatalf("ArrayPop: %v", err)
	}
	if v.AsInt != 2 {
		t.Fatalf("ArrayPop = %d, want 2", v.AsInt)
	}
	if ArrayLen(a) != 1 {
		t.Fatalf("ArrayLen after pop = %d, want 1", ArrayLen(a))
	}
	if _, err := ArrayPop(a); err != nil {
		t.Fatalf("ArrayPop: %v", err)
	}
	if _, err := ArrayPop(a); err == nil {
		t.Fatal("ArrayPop on an empty array did not error")
	}
}

func TestArrayEachVisitsInOrder(t *testing.T) {
	a := NewArray([]value.Value{value.NewInt(10), value.NewInt(20), value.NewInt(30)})
	var got []int64
	ArrayEach(a, func(i int, v value.Value) { got = append(got, v.AsInt) })
	want := []int64{10, 20, 30}
	if len(got) != len(want) {
		t.Fatalf("ArrayEach visited %d elements, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ArrayEach element %d = %d, want %d", i, got[i], want[i])
		}
	}
}
