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

// End-to-end scenarios hand-assembled the way a compiler would lay out the
// corresponding source snippet, exercising multiple components together
// rather than one instruction in isolation (vm_test.go covers those).
package vm

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

// S1: let x = 3; x = x + x * 2;  -- expect final global x == 9.
//
// A real compiler only has one instruction that can publish a global
// (GLBVAL), and it refuses to overwrite an existing binding, so it holds x
// in a register across both statements and GLBVAL-publishes it once at the
// end. The aliased ADD (destination register also a source) is what the
// scenario's name refers to: setReg must retain the new value before
// releasing the old one so that self-assignment never reads garbage.
func TestScenarioS1ArithmeticAliasing(t *testing.T) {
	v := newTestVM()
	code := prog(
		triple(OpLdConst, 0, uint8(ldcInt), 0), Int64ToWords(3), // r0 = x = 3
		triple(OpLdConst, 1, uint8(ldcInt), 0), Int64ToWords(2), // r1 = 2
		triple(OpMul, 2, 0, 1), // r2 = x * 2
		triple(OpAdd, 0, 0, 2), // r0 = x + r2 (aliased: r0 is both source and destination)
		mid(OpGlbVal, 0, uint16(len("x"))), EncodeNameBytes("x"),
		triple(OpRet, 0, 0, 0),
	)
	p := LoadProgram("<top-level>", code, 3, 0, 0, uint32(len(code)))

	result, err := v.RunProgram(p, nil)
	require.NoError(t, err)
	require.True(t, result.IsInt())
	require.Equal(t, int64(9), result.AsInt())

	global, ok := v.GetGlobal("x")
	require.True(t, ok, "x should have been published as a global")
	require.Equal(t, int64(9), global.AsInt())
	require.Equal(t, 0, v.Depth(), "no frames should survive a successful top-level call")
}

// S2: let s = "hi"; return s[5];  -- expect an out-of-bounds error naming
// the normalized index and the string's length, with a single-frame
// backtrace (the top-level program itself).
func TestScenarioS2StringOutOfBounds(t *testing.T) {
	v := newTestVM()
	code := prog(
		mid(OpLdSym, 0, 0), // r0 = "hi" (local symtab entry 0)
		triple(OpLdConst, 1, uint8(ldcInt), 0), Int64ToWords(5), // r1 = 5
		triple(OpArrGet, 2, 0, 1), // r2 = r0[r1]
		triple(OpRet, 2, 0, 0),
	)
	p := LoadProgram("<top-level>", code, 3, 0, 1, uint32(len(code)))
	p.symtab[0] = NewString("hi")
	p.symtabRead = true

	_, err := v.RunProgram(p, nil)
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrOutOfBounds))
	require.Contains(t, err.Error(), "out of bounds for string of length 2")

	var re *RuntimeError
	require.True(t, errors.As(err, &re))
	require.Equal(t, []string{"<top-level>"}, re.Backtrace)
}

// S3: let make = fn(n) { return fn() { n = n + 1; return n; }; };
//     let c = make(10); return c() + c() + c();  -- expect 11+12+13 == 36.
//
// The instruction set's only upvalue opcode (LDUPVAL) is read-only, so a
// mutable captured variable is boxed the classic closure-conversion way: a
// one-element Array captured by CLOSURE, read and rewritten through
// ARRGET/ARRSET by the closure body. Each of the three calls to the same
// closure value shares the same boxed Array, so the mutation persists.
func TestScenarioS3ClosureCapture(t *testing.T) {
	v := newTestVM()

	// main() -- nregs=8, declArgc=0
	//   r0 = 10
	//   r1 = make            (LDSYM symtab[0])
	//   r2 = call r1(r0)     -- c = make(10)
	//   r3 = call r2()       -- c()
	//   r4 = call r2()       -- c()
	//   r5 = call r2()       -- c()
	//   r6 = r3 + r4
	//   r7 = r6 + r5
	//   ret r7
	mainCode := prog(
		triple(OpLdConst, 0, uint8(ldcInt), 0), Int64ToWords(10),
		mid(OpLdSym, 1, 0),
		triple(OpCall, 2, 1, 1), PackArgRegs([]uint8{0}),
		triple(OpCall, 3, 2, 0),
		triple(OpCall, 4, 2, 0),
		triple(OpCall, 5, 2, 0),
		triple(OpAdd, 6, 3, 4),
		triple(OpAdd, 7, 6, 5),
		triple(OpRet, 7, 0, 0),
	)

	// make(n) -- nregs=4, declArgc=1
	//   r0 = n (formal arg)
	//   r1 = newarr                -- the box
	//   r2 = 0
	//   box[r2] = r0               -- box[0] = n
	//   r3 = <counter prototype>   (LDSYM symtab[1])
	//   r3 = closure(r3, [local r1])
	//   ret r3
	makeEntry := uint32(len(mainCode))
	makeCode := prog(
		triple(OpNewArr, 1, 0, 0),
		triple(OpLdConst, 2, uint8(ldcInt), 0), Int64ToWords(0),
		triple(OpArrSet, 1, 2, 0),
		mid(OpLdSym, 3, 1),
		mid(OpClosure, 3, 1), EncodeUpvalDesc(false, 1),
		triple(OpRet, 3, 0, 0),
	)

	// counter() -- nregs=3, declArgc=0 (entered only through the closure)
	//   r0 = upval[0]   -- the box
	//   r1 = 0
	//   r2 = box[r1]    -- current n
	//   r2++
	//   box[r1] = r2
	//   ret r2
	counterEntry := makeEntry + uint32(len(makeCode))
	counterCode := prog(
		triple(OpLdUpval, 0, 0, 0),
		triple(OpLdConst, 1, uint8(ldcInt), 0), Int64ToWords(0),
		triple(OpArrGet, 2, 0, 1),
		triple(OpInc, 2, 0, 0),
		triple(OpArrSet, 0, 1, 2),
		triple(OpRet, 2, 0, 0),
	)

	full := prog(mainCode, makeCode, counterCode)
	p := NewProgram("<top-level>", full, 8, 0, 2, uint32(len(full)))
	makeFn := NewScriptFunction("make", p, makeEntry, 4, 1)
	counterProto := NewScriptFunction("closure", p, counterEntry, 3, 0)
	p.symtab[0] = NewFunction(makeFn)
	p.symtab[1] = NewFunction(counterProto)
	p.symtabRead = true

	result, err := v.RunProgram(p, nil)
	require.NoError(t, err)
	require.True(t, result.IsInt())
	require.Equal(t, int64(36), result.AsInt())
	require.Equal(t, 0, v.Depth())
}

// S4: let g = 1; let g = 2;  -- the second GLBVAL collides with the first.
func TestScenarioS4Redefinition(t *testing.T) {
	v := newTestVM()
	code := prog(
		triple(OpLdConst, 0, uint8(ldcInt), 0), Int64ToWords(1),
		mid(OpGlbVal, 0, uint16(len("g"))), EncodeNameBytes("g"),
		triple(OpLdConst, 1, uint8(ldcInt), 0), Int64ToWords(2),
		mid(OpGlbVal, 1, uint16(len("g"))), EncodeNameBytes("g"),
		triple(OpRet, 1, 0, 0),
	)
	p := LoadProgram("<top-level>", code, 2, 0, 0, uint32(len(code)))

	_, err := v.RunProgram(p, nil)
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrRedefinition))
	require.Contains(t, err.Error(), "re-definition of global `g'")
}

// S5: let f = fn(a) { return #0 + #1; }; return f(7, 10, 20);  -- expect 30.
//
// f declares one formal parameter; #0 and #1 (NTHARG) index into the
// variadic tail that starts after f's nominal register window, i.e. the
// second and third actual arguments (10 and 20). The first argument (7) is
// bound to `a` and never read.
func TestScenarioS5VariadicAccess(t *testing.T) {
	v := newTestVM()

	// f(a) -- nregs=4, declArgc=1
	//   r1 = 0; r2 = ntharg(r1)   -- #0
	//   r1 = 1; r3 = ntharg(r1)   -- #1
	//   r1 = r2 + r3
	//   ret r1
	fCode := prog(
		triple(OpLdConst, 1, uint8(ldcInt), 0), Int64ToWords(0),
		triple(OpNthArg, 2, 1, 0),
		triple(OpLdConst, 1, uint8(ldcInt), 0), Int64ToWords(1),
		triple(OpNthArg, 3, 1, 0),
		triple(OpAdd, 1, 2, 3),
		triple(OpRet, 1, 0, 0),
	)

	// main() -- nregs=5, declArgc=0
	//   r0,r1,r2 = 7,10,20
	//   r3 = f       (LDSYM symtab[0])
	//   r4 = call r3(r0, r1, r2)
	//   ret r4
	mainCode := prog(
		triple(OpLdConst, 0, uint8(ldcInt), 0), Int64ToWords(7),
		triple(OpLdConst, 1, uint8(ldcInt), 0), Int64ToWords(10),
		triple(OpLdConst, 2, uint8(ldcInt), 0), Int64ToWords(20),
		mid(OpLdSym, 3, 0),
		triple(OpCall, 4, 3, 3), PackArgRegs([]uint8{0, 1, 2}),
		triple(OpRet, 4, 0, 0),
	)

	fEntry := uint32(len(mainCode))
	full := prog(mainCode, fCode)
	p := NewProgram("<top-level>", full, 5, 0, 1, uint32(len(full)))
	fFn := NewScriptFunction("f", p, fEntry, 4, 1)
	p.symtab[0] = NewFunction(fFn)
	p.symtabRead = true

	result, err := v.RunProgram(p, nil)
	require.NoError(t, err)
	require.True(t, result.IsInt())
	require.Equal(t, int64(30), result.AsInt())
}

// S6: host registers native double = fn(x) { return 2*x; }; script does
// `return double(21);`. Expect 42, and a backtrace captured from inside the
// native callback of ["double", "<top-level>"] (innermost first).
func TestScenarioS6HostRoundTrip(t *testing.T) {
	v := newTestVM()

	var capturedTrace []string
	double := NewNativeFunction("double", func(vm *VM, args []Value, ctx interface{}) (Value, error) {
		capturedTrace = vm.StackTrace()
		require.Len(t, args, 1)
		return Int(2 * args[0].AsInt()), nil
	})
	v.SetGlobal("double", NewFunction(double))

	code := prog(
		triple(OpLdConst, 0, uint8(ldcInt), 0), Int64ToWords(21),
		mid(OpLdSym, 1, 0),
		triple(OpCall, 2, 1, 1), PackArgRegs([]uint8{0}),
		triple(OpRet, 2, 0, 0),
	)
	p := LoadProgram("<top-level>", code, 3, 0, 1, uint32(len(code)))
	p.symtab[0] = NewSymbolStub("double")
	p.symtabRead = true

	result, err := v.RunProgram(p, nil)
	require.NoError(t, err)
	require.True(t, result.IsInt())
	require.Equal(t, int64(42), result.AsInt())
	require.Equal(t, []string{"double", "<top-level>"}, capturedTrace)
}
