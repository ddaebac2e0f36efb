// Package value implements the tagged Value union that flows through the
// compiler and interpreter: Nil, Bool, Int, Float, and Obj (a reference to
// a heap-allocated object defined in internal/heap).
package value

import (
	"fmt"
	"hash/fnv"
	"math"

	"embervm/internal/heap"
)

type Type uint8

const (
	Nil Type = iota
	Bool
	Int
	Float
	Obj
)

// Value is a small, copyable tagged union. Non-Obj kinds carry their
// payload inline; Obj carries a pointer into the heap.
type Value struct {
	Type    Type
	AsBool  bool
	AsInt   int64
	AsFloat float64
	AsObj   heap.Object
}

func NewNil() Value              { return Value{Type: Nil} }
func NewBool(b bool) Value       { return Value{Type: Bool, AsBool: b} }
func NewInt(i int64) Value       { return Value{Type: Int, AsInt: i} }
func NewFloat(f float64) Value   { return Value{Type: Float, AsFloat: f} }
func NewObj(o heap.Object) Value { return Value{Type: Obj, AsObj: o} }

// NewRawString allocates a non-interned *heap.String; callers that need the
// intern-pool invariant should go through internal/strpool instead.
func NewRawString(s string) Value {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return NewObj(&heap.String{
		Header: heap.Header{Tag: heap.TagString},
		Bytes:  []byte(s),
		Hash:   h.Sum64(),
	})
}

func (v Value) IsNil() bool { return v.Type == Nil }

func (v Value) IsTruthy() bool {
	switch v.Type {
	case Nil:
		return false
	case Bool:
		return v.AsBool
	case Int:
		return v.AsInt != 0
	case Float:
		return v.AsFloat != 0
	default:
		return true
	}
}

func (v Value) Tag() heap.Tag {
	if v.Type != Obj || v.AsObj == nil {
		return 0xFF
	}
	return v.AsObj.GetHeader().Tag
}

func (v Value) AsString() (*heap.String, bool) {
	if v.Type == Obj {
		if s, ok := v.AsObj.(*heap.String); ok {
			return s, true
		}
	}
	return nil, false
}

func (v Value) AsArray() (*heap.Array, bool) {
	if v.Type == Obj {
		if a, ok := v.AsObj.(*heap.Array); ok {
			return a, true
		}
	}
	return nil, false
}

func (v Value) AsMap() (*heap.Map, bool) {
	if v.Type == Obj {
		if m, ok := v.AsObj.(*heap.Map); ok {
			return m, true
		}
	}
	return nil, false
}

func (v Value) AsFunction() (*heap.Function, bool) {
	if v.Type == Obj {
		if f, ok := v.AsObj.(*heap.Function); ok {
			return f, true
		}
	}
	return nil, false
}

func (v Value) AsFuture() (*heap.Future, bool) {
	if v.Type == Obj {
		if f, ok := v.AsObj.(*heap.Future); ok {
			return f, true
		}
	}
	return nil, false
}

func (v Value) AsResource() (*heap.Resource, bool) {
	if v.Type == Obj {
		if r, ok := v.AsObj.(*heap.Resource); ok {
			return r, true
		}
	}
	return nil, false
}

func (v Value) AsStructInstance() (*heap.StructInstance, bool) {
	if v.Type == Obj {
		if s, ok := v.AsObj.(*heap.StructInstance); ok {
			return s, true
		}
	}
	return nil, false
}

// Equal implements value equality: by-value for scalars, pointer identity
// for Strings (the intern-pool invariant makes this correct), reference
// identity for every other Obj kind.
func Equal(a, b Value) bool {
	if a.Type != b.Type {
		if a.Type == Int && b.Type == Float {
			return float64(a.AsInt) == b.AsFloat
		}
		if a.Type == Float && b.Type == Int {
			return a.AsFloat == float64(b.AsInt)
		}
		return false
	}
	switch a.Type {
	case Nil:
		return true
	case Bool:
		return a.AsBool == b.AsBool
	case Int:
		return a.AsInt == b.AsInt
	case Float:
		return a.AsFloat == b.AsFloat
	case Obj:
		if as, ok := a.AsString(); ok {
			if bs, ok := b.AsString(); ok {
				return as == bs // pointer identity, strings are interned
			}
			return false
		}
		return a.AsObj == b.AsObj
	default:
		return false
	}
}

func TypeName(v Value) string {
	switch v.Type {
	case Nil:
		return "nil"
	case Bool:
		return "bool"
	case Int:
		return "int"
	case Float:
		return "float"
	case Obj:
		if v.AsObj == nil {
			return "nil"
		}
		return v.AsObj.GetHeader().Tag.String()
	default:
		return "unknown"
	}
}

// String renders a Value for printing/tracing, matching the display rules
// in spec.md §4.9 (floats print with a trailing .0 when integral).
func String(v Value) string {
	switch v.Type {
	case Nil:
		return "nil"
	case Bool:
		if v.AsBool {
			return "true"
		}
		return "false"
	case Int:
		return fmt.Sprintf("%d", v.AsInt)
	case Float:
		if v.AsFloat == math.Trunc(v.AsFloat) && !math.IsInf(v.AsFloat, 0) {
			return fmt.Sprintf("%.1f", v.AsFloat)
		}
		return fmt.Sprintf("%g", v.AsFloat)
	case Obj:
		return stringObj(v.AsObj)
	default:
		return "<invalid>"
	}
}

func stringObj(o heap.Object) string {
	switch obj := o.(type) {
	case *heap.String:
		return obj.String()
	case *heap.Array:
		obj.RLock()
		defer obj.RUnlock()
		s := "["
		for i, e := range obj.Elems {
			if i > 0 {
				s += ", "
			}
			s += String(e.(Value))
		}
		return s + "]"
	case *heap.Map:
		return fmt.Sprintf("<map %d entries>", obj.Len())
	case *heap.Function:
		if obj.Name == "" {
			return "<function>"
		}
		return fmt.Sprintf("<function %s>", obj.Name)
	case *heap.Module:
		return fmt.Sprintf("<module %s>", obj.Name)
	case *heap.StructDef:
		return fmt.Sprintf("<struct %s>", obj.Name)
	case *heap.StructInstance:
		return fmt.Sprintf("<%s instance>", obj.Def.Name)
	case *heap.Future:
		return "<future>"
	case *heap.Resource:
		return fmt.Sprintf("<resource %s>", obj.Name)
	default:
		return "<object>"
	}
}
