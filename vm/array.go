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

import (
	"errors"
	"math"
)

// arrayKey is the comparable, by-value normalization of a Value used as an
// Array key. Nil/Bool/Int/Float/String key the way their content would
// suggest, and a SymbolStub keys by its name; Array/Function/UserInfo key
// by heap identity.
type arrayKey struct {
	kind Kind
	i    int64
	f    float64
	s    string
	ptr  heapObject
}

// ErrInvalidKey is returned when a NaN float is used as an Array key.
var ErrInvalidKey = errors.New("invalid key: NaN is not a valid array key")

func makeArrayKey(v Value) (arrayKey, error) {
	switch v.kind {
	case KindNil:
		return arrayKey{kind: KindNil}, nil
	case KindBool:
		i := int64(0)
		if v.b {
			i = 1
		}
		return arrayKey{kind: KindBool, i: i}, nil
	case KindInt:
		return arrayKey{kind: KindInt, i: v.i}, nil
	case KindFloat:
		if math.IsNaN(v.f) {
			return arrayKey{}, ErrInvalidKey
		}
		return arrayKey{kind: KindFloat, f: v.f}, nil
	case KindString:
		return arrayKey{kind: KindString, s: v.AsString()}, nil
	case KindSymbolStub:
		return arrayKey{kind: KindSymbolStub, s: v.name}, nil
	default:
		return arrayKey{kind: v.kind, ptr: v.heap}, nil
	}
}

type arrayEntry struct {
	key   Value
	value Value
}

// Array is an ordered mapping from arbitrary hashable values to arbitrary
// values (spec §3). Iteration order is insertion order.
type Array struct {
	refcounted
	order   []arrayKey
	entries map[arrayKey]arrayEntry
}

func newArray() *Array {
	return &Array{
		refcounted: refcounted{refs: 1},
		entries:    make(map[arrayKey]arrayEntry),
	}
}

// Len returns the number of entries, used by SIZEOF.
func (a *Array) Len() int { return len(a.entries) }

// Get looks up key, reporting whether it is present. The returned Value is
// not retained; the caller must retain it before storing it in a new owning
// location.
func (a *Array) Get(key Value) (Value, bool, error) {
	k, err := makeArrayKey(key)
	if err != nil {
		return Value{}, false, err
	}
	e, ok := a.entries[k]
	return e.value, ok, nil
}

// Set stores value under key, retaining both the key (only on first
// insertion) and the value, and releasing any value the key previously
// held. It does not take ownership of the caller's own copies of key/value.
func (a *Array) Set(key, value Value) error {
	k, err := makeArrayKey(key)
	if err != nil {
		return err
	}
	value.retain()
	if existing, ok := a.entries[k]; ok {
		existing.value.release()
		a.entries[k] = arrayEntry{key: existing.key, value: value}
		return nil
	}
	key.retain()
	a.entries[k] = arrayEntry{key: key, value: value}
	a.order = append(a.order, k)
	return nil
}

// Keys returns the array's keys in insertion order. Returned values are not
// retained.
func (a *Array) Keys() []Value {
	keys := make([]Value, 0, len(a.order))
	for _, k := range a.order {
		keys = append(keys, a.entries[k].key)
	}
	return keys
}

// release drops the array's own reference to every stored key and value.
func (a *Array) release() {
	a.refs--
	if a.refs > 0 {
		return
	}
	for _, k := range a.order {
		e := a.entries[k]
		e.key.release()
		e.value.release()
	}
	a.entries = nil
	a.order = nil
}
