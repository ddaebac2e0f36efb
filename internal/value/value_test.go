package value

import (
	"testing"

	"embervm/internal/heap"
)

func TestEqualScalarsAndCrossNumeric(t *testing.T) {
	cases := []struct {
		a, b Value
		want bool
	}{
		{NewInt(3), NewInt(3), true},
		{NewInt(3), NewInt(4), false},
		{NewInt(3), NewFloat(3.0), true},
		{NewFloat(3.5), NewInt(3), false},
		{NewBool(true), NewBool(true), true},
		{NewBool(true), NewBool(false), false},
		{NewNil(), NewNil(), true},
		{NewNil(), NewInt(0), false},
	}
	for _, c := range cases {
		if got := Equal(c.a, c.b); got != c.want {
			t.Errorf("Equal(%v, %v) = %v, want %v", c.a, c.b, got, c.want)
		}
	}
}

func TestEqualStringsByPointerIdentity(t *testing.T) {
	a := &heap.String{Header: heap.Header{Tag: heap.TagString}, Bytes: []byte("hi")}
	b := &heap.String{Header: heap.Header{Tag: heap.TagString}, Bytes: []byte("hi")}

	if Equal(NewObj(a), NewObj(b)) {
		t.Fatal("Equal treated two distinct *heap.String with equal bytes as equal; strings must compare by interned pointer identity")
	}
	if !Equal(NewObj(a), NewObj(a)) {
		t.Fatal("Equal(a, a) = false, want true")
	}
}

func TestIsTruthy(t *testing.T) {
	cases := []struct {
		v    Value
		want bool
	}{
		{NewNil(), false},
		{NewBool(false), false},
		{NewBool(true), true},
		{NewInt(0), false},
		{NewInt(1), true},
		{NewFloat(0), false},
		{NewFloat(0.1), true},
	}
	for _, c := range cases {
		if got := c.v.IsTruthy(); got != c.want {
			t.Errorf("IsTruthy(%v) = %v, want %v", c.v, got, c.want)
		}
	}
}

func TestStringDisplayRules(t *testing.T) {
	cases := []struct {
		v    Value
		want string
	}{
		{NewInt(42), "42"},
		{NewFloat(2.0), "2.0"},
		{NewFloat(2.5), "2.5"},
		{NewBool(true), "true"},
		{NewNil(), "nil"},
	}
	for _, c := range cases {
		if got := String(c.v); got != c.want {
			t.Errorf("String(%v) = %q, want %q", c.v, got, c.want)
		}
	}
}

func TestTypeNameAndTagForObj(t *testing.T) {
	s := &heap.String{Header: heap.Header{Tag: heap.TagString}, Bytes: []byte("x")}
	v := NewObj(s)
	if TypeName(v) != "string" {
		t.Fatalf("TypeName = %q, want string", TypeName(v))
	}
	if v.Tag() != heap.TagString {
		t.Fatalf("Tag() = %v, want TagString", v.Tag())
	}
}

func TestAsAccessorsRejectWrongVariant(t *testing.T) {
	v := NewInt(5)
	if _, ok := v.AsString(); ok {
		t.Fatal("AsString() on an Int value returned ok=true")
	}
	if _, ok := v.AsArray(); ok {
		t.Fatal("AsArray() on an Int value returned ok=true")
	}
}
