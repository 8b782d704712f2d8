// Copyright 2024 The Sparkling Authors
// This file is part of Sparkling.
//
// Sparkling is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Sparkling is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with Sparkling. If not, see <http://www.gnu.org/licenses/>.

package vm

import "math"

// Kind is the tag of a Value's active variant.
type Kind uint8

const (
	KindNil Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindArray
	KindFunction
	KindUserInfo
	KindSymbolStub
)

func (k Kind) String() string {
	switch k {
	case KindNil:
		return "nil"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindFunction:
		return "function"
	case KindUserInfo:
		return "userinfo"
	case KindSymbolStub:
		return "symbol-stub"
	}
	return "unknown"
}

// heapObject is implemented by every reference-counted heap variant
// (*SparklingString, *Array, *Function, *UserInfo). retain/release mirror
// the source's manual refcount protocol instead of leaning on Go's GC,
// because the VM's testable invariants (spec §8) are stated in terms of
// "the refcount of every heap-backed value" staying balanced.
type heapObject interface {
	retain()
	// release decrements the refcount and, if it drops to zero, releases
	// the object's own owned references (array elements, upvalues, ...).
	// It never frees Go memory directly; Go's GC reclaims the backing
	// struct once nothing (Go-level) points to it any more.
	release()
	refcount() int32
}

// Value is a Sparkling runtime value: a small tagged union that is cheap to
// copy by value into registers, array slots, and the global table. Only the
// field matching kind is meaningful.
type Value struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	heap heapObject // String / Array / Function / UserInfo
	name string     // SymbolStub's unresolved global name
}

// Nil is the canonical nil value.
var Nil = Value{kind: KindNil}

// Bool constructs a boolean value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Int constructs an integer value.
func Int(i int64) Value { return Value{kind: KindInt, i: i} }

// Float constructs a float value.
func Float(f float64) Value { return Value{kind: KindFloat, f: f} }

// NewString constructs a String value from raw bytes, owning one reference.
func NewString(s string) Value {
	return Value{kind: KindString, heap: newSparklingString(s)}
}

// NewArray constructs a fresh, empty Array value, owning one reference.
func NewArray() Value {
	return Value{kind: KindArray, heap: newArray()}
}

// NewFunction wraps fn as a Function value, owning one reference.
func NewFunction(fn *Function) Value {
	return Value{kind: KindFunction, heap: fn}
}

// NewUserInfo wraps an opaque host handle as a UserInfo value, owning one
// reference.
func NewUserInfo(data interface{}) Value {
	return Value{kind: KindUserInfo, heap: newUserInfo(data)}
}

// NewSymbolStub constructs a placeholder for an as-yet-unresolved global.
func NewSymbolStub(name string) Value {
	return Value{kind: KindSymbolStub, name: name}
}

// Kind reports the value's active variant.
func (v Value) Kind() Kind { return v.kind }

func (v Value) IsNil() bool        { return v.kind == KindNil }
func (v Value) IsBool() bool       { return v.kind == KindBool }
func (v Value) IsInt() bool        { return v.kind == KindInt }
func (v Value) IsFloat() bool      { return v.kind == KindFloat }
func (v Value) IsNum() bool        { return v.kind == KindInt || v.kind == KindFloat }
func (v Value) IsString() bool     { return v.kind == KindString }
func (v Value) IsArray() bool      { return v.kind == KindArray }
func (v Value) IsFunction() bool   { return v.kind == KindFunction }
func (v Value) IsUserInfo() bool   { return v.kind == KindUserInfo }
func (v Value) IsSymbolStub() bool { return v.kind == KindSymbolStub }

func (v Value) isHeap() bool {
	switch v.kind {
	case KindString, KindArray, KindFunction, KindUserInfo:
		return true
	}
	return false
}

// AsBool returns the boolean payload; callers must check IsBool first.
func (v Value) AsBool() bool { return v.b }

// AsInt returns the integer payload; callers must check IsInt first.
func (v Value) AsInt() int64 { return v.i }

// AsFloat returns the float payload; callers must check IsFloat first.
func (v Value) AsFloat() float64 { return v.f }

// AsNumber widens an Int or Float value to float64.
func (v Value) AsNumber() float64 {
	if v.kind == KindInt {
		return float64(v.i)
	}
	return v.f
}

// AsString returns the string payload; callers must check IsString first.
func (v Value) AsString() string { return v.heap.(*SparklingString).s }

// AsArray returns the array payload; callers must check IsArray first.
func (v Value) AsArray() *Array { return v.heap.(*Array) }

// AsFunction returns the function payload; callers must check IsFunction first.
func (v Value) AsFunction() *Function { return v.heap.(*Function) }

// AsUserInfo returns the opaque host payload; callers must check IsUserInfo first.
func (v Value) AsUserInfo() interface{} { return v.heap.(*UserInfo).data }

// StubName returns the unresolved global name; callers must check
// IsSymbolStub first.
func (v Value) StubName() string { return v.name }

// retain increments the refcount of a heap-backed value. It is a no-op for
// non-heap variants. Call before a value is copied into a second owning
// location (a register, an array slot, the global table).
func (v Value) retain() {
	if v.isHeap() {
		v.heap.retain()
	}
}

// release decrements the refcount of a heap-backed value, freeing its own
// owned references once the count reaches zero. It is a no-op for
// non-heap variants. Call when an owning location is overwritten or goes
// out of scope (a register at frame pop, an array slot on overwrite).
func (v Value) release() {
	if v.isHeap() {
		v.heap.release()
	}
}

// TypeName returns the name TYPEOF reports for a value of this kind.
func (v Value) TypeName() string { return v.kind.String() }

// ValuesEqual implements structural equality for primitives and reference
// equality for heap variants (spec §4.1). NaN equals nothing, not even
// itself.
func ValuesEqual(a, b Value) bool {
	if a.kind != b.kind {
		// Values of different kinds are never equal. This includes an Int
		// and a Float of the same numeric value: EQ/NE pass any pair of
		// operands straight through, so EQ of Int(1) and Float(1) is false.
		return false
	}
	switch a.kind {
	case KindNil:
		return true
	case KindBool:
		return a.b == b.b
	case KindInt:
		return a.i == b.i
	case KindFloat:
		if math.IsNaN(a.f) || math.IsNaN(b.f) {
			return false
		}
		return a.f == b.f
	case KindString:
		return a.AsString() == b.AsString()
	case KindArray, KindFunction, KindUserInfo:
		return a.heap == b.heap
	case KindSymbolStub:
		return a.name == b.name
	}
	return false
}

// ValuesComparable reports whether a and b may be used with an ordered
// comparison (LT/LE/GT/GE): true only for number-number and string-string
// pairs.
func ValuesComparable(a, b Value) bool {
	if a.IsNum() && b.IsNum() {
		return true
	}
	return a.IsString() && b.IsString()
}

// Compare returns a negative, zero, or positive int according to whether a
// is less than, equal to, or greater than b. Callers must first check
// ValuesComparable.
func Compare(a, b Value) int {
	if a.IsNum() && b.IsNum() {
		x, y := a.AsNumber(), b.AsNumber()
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		default:
			return 0
		}
	}
	as, bs := a.AsString(), b.AsString()
	switch {
	case as < bs:
		return -1
	case as > bs:
		return 1
	default:
		return 0
	}
}
