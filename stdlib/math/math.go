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

// Package math provides the "math" native library: Go's standard math
// package plus J/APL-style array combinators, exposed as functions callable
// from Sparkling bytecode through the VM's native-function marshaling
// (spec §6.1, §4.3).
package math

import (
	"fmt"
	"math"

	"github.com/0xFN89/Sparkling/vm"
)

func want1Num(name string, args []vm.Value) (float64, error) {
	if len(args) != 1 || !args[0].IsNum() {
		return 0, fmt.Errorf("%s expects one numeric argument", name)
	}
	return args[0].AsNumber(), nil
}

func want2Num(name string, args []vm.Value) (float64, float64, error) {
	if len(args) != 2 || !args[0].IsNum() || !args[1].IsNum() {
		return 0, 0, fmt.Errorf("%s expects two numeric arguments", name)
	}
	return args[0].AsNumber(), args[1].AsNumber(), nil
}

func sqrt(_ *vm.VM, args []vm.Value, _ interface{}) (vm.Value, error) {
	x, err := want1Num("sqrt", args)
	if err != nil {
		return vm.Nil, err
	}
	return vm.Float(math.Sqrt(x)), nil
}

func pow(_ *vm.VM, args []vm.Value, _ interface{}) (vm.Value, error) {
	x, y, err := want2Num("pow", args)
	if err != nil {
		return vm.Nil, err
	}
	return vm.Float(math.Pow(x, y)), nil
}

func abs(_ *vm.VM, args []vm.Value, _ interface{}) (vm.Value, error) {
	if len(args) != 1 || !args[0].IsNum() {
		return vm.Nil, fmt.Errorf("abs expects one numeric argument")
	}
	if args[0].IsInt() {
		n := args[0].AsInt()
		if n < 0 {
			n = -n
		}
		return vm.Int(n), nil
	}
	return vm.Float(math.Abs(args[0].AsFloat())), nil
}

func floor(_ *vm.VM, args []vm.Value, _ interface{}) (vm.Value, error) {
	x, err := want1Num("floor", args)
	if err != nil {
		return vm.Nil, err
	}
	return vm.Float(math.Floor(x)), nil
}

func ceil(_ *vm.VM, args []vm.Value, _ interface{}) (vm.Value, error) {
	x, err := want1Num("ceil", args)
	if err != nil {
		return vm.Nil, err
	}
	return vm.Float(math.Ceil(x)), nil
}

// sum reduces a Sparkling Array of numbers with +, the library's "Sum"
// combinator (J-style reduce), operating on real Sparkling Values instead
// of the teacher's raw []uint64.
func sum(_ *vm.VM, args []vm.Value, _ interface{}) (vm.Value, error) {
	arr, err := wantArray("sum", args)
	if err != nil {
		return vm.Nil, err
	}
	var acc float64
	allInt := true
	for _, k := range arr.Keys() {
		v, _, _ := arr.Get(k)
		if !v.IsNum() {
			return vm.Nil, fmt.Errorf("sum: array element is not numeric")
		}
		if !v.IsInt() {
			allInt = false
		}
		acc += v.AsNumber()
	}
	if allInt {
		return vm.Int(int64(acc)), nil
	}
	return vm.Float(acc), nil
}

// mapFn applies a Sparkling function to every element of an array,
// building a fresh array of the results — the library's "Map" combinator.
func mapFn(m *vm.VM, args []vm.Value, ctx interface{}) (vm.Value, error) {
	if len(args) != 2 || !args[0].IsArray() || !args[1].IsFunction() {
		return vm.Nil, fmt.Errorf("map expects (array, function)")
	}
	src := args[0].AsArray()
	fn := args[1].AsFunction()
	out := vm.NewArray()
	dst := out.AsArray()
	for _, k := range src.Keys() {
		v, _, _ := src.Get(k)
		r, err := m.Call(fn, []vm.Value{v})
		if err != nil {
			return vm.Nil, err
		}
		if err := dst.Set(k, r); err != nil {
			return vm.Nil, err
		}
		vm.Release(r)
	}
	return out, nil
}

// reduceFn folds a Sparkling array with a binary Sparkling function and an
// initial accumulator — the library's "Reduce" combinator.
func reduceFn(m *vm.VM, args []vm.Value, ctx interface{}) (vm.Value, error) {
	if len(args) != 3 || !args[0].IsArray() || !args[1].IsFunction() {
		return vm.Nil, fmt.Errorf("reduce expects (array, function, initial)")
	}
	src := args[0].AsArray()
	fn := args[1].AsFunction()
	acc := args[2]
	owned := false
	for _, k := range src.Keys() {
		v, _, _ := src.Get(k)
		r, err := m.Call(fn, []vm.Value{acc, v})
		if err != nil {
			if owned {
				vm.Release(acc)
			}
			return vm.Nil, err
		}
		if owned {
			vm.Release(acc)
		}
		acc = r
		owned = true
	}
	if !owned {
		// No elements: returning the seed unchanged, which is a borrowed
		// reference (args isn't retained on reduceFn's behalf). A native
		// callback must return an owned value.
		vm.Retain(acc)
	}
	return acc, nil
}

func wantArray(name string, args []vm.Value) (*vm.Array, error) {
	if len(args) != 1 || !args[0].IsArray() {
		return nil, fmt.Errorf("%s expects one array argument", name)
	}
	return args[0].AsArray(), nil
}

// Functions returns the "math" library's native function table, ready to
// pass to (*vm.VM).AddLibraryFunctions.
func Functions() map[string]vm.NativeFn {
	return map[string]vm.NativeFn{
		"sqrt":   sqrt,
		"pow":    pow,
		"abs":    abs,
		"floor":  floor,
		"ceil":   ceil,
		"sum":    sum,
		"map":    mapFn,
		"reduce": reduceFn,
	}
}

// Values returns the "math" library's named constants.
func Values() map[string]vm.Value {
	return map[string]vm.Value{
		"pi": vm.Float(math.Pi),
		"e":  vm.Float(math.E),
	}
}
