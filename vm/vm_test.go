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
	"testing"
)

// ---- Bytecode builder helpers ----------------------------------------------

// triple encodes a standard 3-register instruction word.
func triple(op Opcode, a, b, c uint8) uint32 { return EncodeTriple(op, a, b, c) }

// mid encodes a wide-immediate instruction word.
func mid(op Opcode, a uint8, imm uint16) uint32 { return EncodeMid(op, a, imm) }

// long encodes a long-immediate instruction word.
func long(op Opcode, imm uint32) uint32 { return EncodeLong(op, imm) }

// prog concatenates instruction/payload words into a single bytecode block.
func prog(parts ...interface{}) []uint32 {
	var out []uint32
	for _, p := range parts {
		switch v := p.(type) {
		case uint32:
			out = append(out, v)
		case []uint32:
			out = append(out, v...)
		case [2]uint32:
			out = append(out, v[:]...)
		default:
			panic("prog: unsupported part type")
		}
	}
	return out
}

// newTestVM returns a fresh VM with no globals registered.
func newTestVM() *VM { return New() }

// runMain loads code as a zero-argument top-level program with no local
// symbol table and calls it, failing the test on error.
func runMain(t *testing.T, v *VM, nregs uint16, code []uint32) Value {
	t.Helper()
	p := LoadProgram("main", code, nregs, 0, 0, uint32(len(code)))
	result, err := v.RunProgram(p, nil)
	if err != nil {
		t.Fatalf("RunProgram returned unexpected error: %v", err)
	}
	return result
}

// ---- Opcode metadata --------------------------------------------------------

func TestOpcodeString(t *testing.T) {
	cases := []struct {
		op   Opcode
		want string
	}{
		{OpAdd, "ADD"},
		{OpSub, "SUB"},
		{OpCall, "CALL"},
		{OpRet, "RET"},
		{OpClosure, "CLOSURE"},
		{OpLdUpval, "LDUPVAL"},
	}
	for _, tc := range cases {
		if got := tc.op.String(); got != tc.want {
			t.Errorf("Opcode(%d).String() = %q; want %q", tc.op, got, tc.want)
		}
	}
}

func TestOpcodeUnknown(t *testing.T) {
	if got := opcodeCount.String(); got != "UNKNOWN" {
		t.Errorf("out-of-range opcode String = %q; want UNKNOWN", got)
	}
}

// ---- Arithmetic -------------------------------------------------------------

func TestArithmeticInt(t *testing.T) {
	v := newTestVM()
	code := prog(
		triple(OpLdConst, 0, uint8(ldcInt), 0), Int64ToWords(20),
		triple(OpLdConst, 1, uint8(ldcInt), 0), Int64ToWords(6),
		triple(OpAdd, 2, 0, 1),
		triple(OpSub, 3, 0, 1),
		triple(OpMul, 4, 0, 1),
		triple(OpDiv, 5, 0, 1),
		triple(OpMod, 6, 0, 1),
		triple(OpRet, 4, 0, 0),
	)
	result := runMain(t, v, 7, code)
	if !result.IsInt() || result.AsInt() != 120 {
		t.Fatalf("MUL result = %+v; want Int(120)", result)
	}
}

func TestDivisionByZero(t *testing.T) {
	v := newTestVM()
	code := prog(
		triple(OpLdConst, 0, uint8(ldcInt), 0), Int64ToWords(1),
		triple(OpLdConst, 1, uint8(ldcInt), 0), Int64ToWords(0),
		triple(OpDiv, 2, 0, 1),
		triple(OpRet, 2, 0, 0),
	)
	p := LoadProgram("main", code, 3, 0, 0, uint32(len(code)))
	_, err := v.RunProgram(p, nil)
	if err == nil {
		t.Fatal("expected a division-by-zero error")
	}
	if !errors.Is(err, ErrDivisionByZero) {
		t.Errorf("error = %v; want ErrDivisionByZero", err)
	}
	if v.LastError() == nil {
		t.Error("VM should latch the error for LastError")
	}
}

func TestFloatPromotion(t *testing.T) {
	v := newTestVM()
	code := prog(
		triple(OpLdConst, 0, uint8(ldcFloat), 0), Float64ToWords(1.5),
		triple(OpLdConst, 1, uint8(ldcInt), 0), Int64ToWords(2),
		triple(OpAdd, 2, 0, 1),
		triple(OpRet, 2, 0, 0),
	)
	result := runMain(t, v, 3, code)
	if !result.IsFloat() || result.AsFloat() != 3.5 {
		t.Fatalf("result = %+v; want Float(3.5)", result)
	}
}

// ---- Comparisons and control flow -------------------------------------------

func TestJzeBranchesOnFalsy(t *testing.T) {
	v := newTestVM()

	// The "wrong" branch, taken only if r0 were truthy.
	wrongBranch := prog(
		triple(OpLdConst, 1, uint8(ldcInt), 0), Int64ToWords(111),
	)
	// The "right" branch, taken because r0 holds false.
	rightBranch := prog(
		triple(OpLdConst, 1, uint8(ldcInt), 0), Int64ToWords(222),
	)
	jze := triple(OpJze, 0, 0, 0)
	// JZE's offset is relative to the word right after its own offset
	// payload word; skip wrongBranch entirely to land on rightBranch.
	offset := EncodeOffset(int32(len(wrongBranch)))

	code := prog(
		triple(OpLdConst, 0, uint8(ldcFalse), 0),
		jze, offset,
		wrongBranch,
		rightBranch,
		triple(OpRet, 1, 0, 0),
	)
	result := runMain(t, v, 2, code)
	if result.AsInt() != 222 {
		t.Fatalf("result = %+v; want Int(222)", result)
	}
}

func TestComparisonTypeError(t *testing.T) {
	v := newTestVM()
	code := prog(
		triple(OpLdConst, 0, uint8(ldcInt), 0), Int64ToWords(1),
		triple(OpLdConst, 1, uint8(ldcTrue), 0),
		triple(OpLt, 2, 0, 1),
		triple(OpRet, 2, 0, 0),
	)
	p := LoadProgram("main", code, 3, 0, 0, uint32(len(code)))
	_, err := v.RunProgram(p, nil)
	if !errors.Is(err, ErrTypeError) {
		t.Fatalf("error = %v; want ErrTypeError", err)
	}
}

// ---- Arrays -----------------------------------------------------------------

func TestArraySetGetSizeof(t *testing.T) {
	v := newTestVM()
	code := prog(
		triple(OpNewArr, 0, 0, 0),
		triple(OpLdConst, 1, uint8(ldcInt), 0), Int64ToWords(7),
		triple(OpLdConst, 2, uint8(ldcInt), 0), Int64ToWords(100),
		triple(OpArrSet, 0, 1, 2),
		triple(OpSizeof, 3, 0, 0),
		triple(OpArrGet, 4, 0, 1),
		triple(OpAdd, 5, 3, 4),
		triple(OpRet, 5, 0, 0),
	)
	result := runMain(t, v, 6, code)
	// sizeof == 1, arr[7] == 100, so result should be 101.
	if result.AsInt() != 101 {
		t.Fatalf("result = %+v; want Int(101)", result)
	}
}

func TestArrayGetMissingKeyIsOutOfBounds(t *testing.T) {
	v := newTestVM()
	code := prog(
		triple(OpNewArr, 0, 0, 0),
		triple(OpLdConst, 1, uint8(ldcInt), 0), Int64ToWords(1),
		triple(OpArrGet, 2, 0, 1),
		triple(OpRet, 2, 0, 0),
	)
	p := LoadProgram("main", code, 3, 0, 0, uint32(len(code)))
	_, err := v.RunProgram(p, nil)
	if !errors.Is(err, ErrOutOfBounds) {
		t.Fatalf("error = %v; want ErrOutOfBounds", err)
	}
}

// Strings only arrive in the VM from the local symbol table or from native
// calls (there is no STRCONST opcode in the dispatch loop), so this
// refcount-balance check exercises Array.Set directly rather than through
// bytecode.
func TestArrayRefcountBalancedOnOverwrite(t *testing.T) {
	a := NewArray()
	arr := a.AsArray()
	s1 := NewString("first")
	s2 := NewString("second")

	if err := arr.Set(Int(1), s1); err != nil {
		t.Fatal(err)
	}
	if got := s1.heap.refcount(); got != 2 {
		t.Fatalf("s1 refcount after Set = %d; want 2 (one from construction, one from the array)", got)
	}

	if err := arr.Set(Int(1), s2); err != nil {
		t.Fatal(err)
	}
	if got := s1.heap.refcount(); got != 1 {
		t.Fatalf("s1 refcount after overwrite = %d; want 1 (array released its copy)", got)
	}

	a.release()
	if got := s2.heap.refcount(); got != 1 {
		t.Fatalf("s2 refcount after array release = %d; want 1", got)
	}
}

// ---- Globals and symbol resolution ------------------------------------------

func TestGlbValAndLdSymResolveAndCache(t *testing.T) {
	v := newTestVM()
	code := prog(
		triple(OpLdConst, 0, uint8(ldcInt), 0), Int64ToWords(42),
		mid(OpGlbVal, 0, uint16(len("answer"))), EncodeNameBytes("answer"),
		mid(OpLdSym, 1, 0),
		triple(OpRet, 1, 0, 0),
	)
	p := LoadProgram("main", code, 2, 0, 1, 0)
	p.symtab[0] = NewSymbolStub("answer")
	p.symtabRead = true // symtab populated directly above, skip the stream parse

	result, err := v.RunProgram(p, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.AsInt() != 42 {
		t.Fatalf("result = %+v; want Int(42)", result)
	}
	// LDSYM must have cached the resolved value in place.
	if p.symtab[0].IsSymbolStub() {
		t.Error("local symtab entry should have been resolved and cached, still a SymbolStub")
	}
}

func TestGlbValRedefinitionError(t *testing.T) {
	v := newTestVM()
	v.SetGlobal("x", Int(1))
	code := prog(
		triple(OpLdConst, 0, uint8(ldcInt), 0), Int64ToWords(2),
		mid(OpGlbVal, 0, uint16(len("x"))), EncodeNameBytes("x"),
		triple(OpRet, 0, 0, 0),
	)
	p := LoadProgram("main", code, 1, 0, 0, uint32(len(code)))
	_, err := v.RunProgram(p, nil)
	if !errors.Is(err, ErrRedefinition) {
		t.Fatalf("error = %v; want ErrRedefinition", err)
	}
}

// ---- Calls, returns, backtraces ---------------------------------------------

func TestCallNestedScriptFunctionAndReturn(t *testing.T) {
	v := newTestVM()

	// main() { r0 = 21; r1 = double (via LDSYM); r2 = call r1(r0); ret r2 }
	mainCode := prog(
		triple(OpLdConst, 0, uint8(ldcInt), 0), Int64ToWords(21),
		mid(OpLdSym, 1, 0),
		triple(OpCall, 2, 1, 1), PackArgRegs([]uint8{0}),
		triple(OpRet, 2, 0, 0),
	)
	// double(r0) { r1 = r0 + r0; ret r1 } — appended after main in the same
	// Code array, the way a compiler would lay out a nested FUNCTION body.
	doubleEntry := uint32(len(mainCode))
	doubleCode := prog(
		triple(OpAdd, 1, 0, 0),
		triple(OpRet, 1, 0, 0),
	)
	full := append(append([]uint32{}, mainCode...), doubleCode...)

	p := NewProgram("main", full, 3, 0, 1, uint32(len(full)))
	p.symtab[0] = NewSymbolStub("double")
	p.symtabRead = true // symtab populated directly above, skip the stream parse
	doubleFn := NewScriptFunction("double", p, doubleEntry, 2, 1)
	v.SetGlobal("double", NewFunction(doubleFn))

	result, err := v.RunProgram(p, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.AsInt() != 42 {
		t.Fatalf("result = %+v; want Int(42)", result)
	}
	if v.Depth() != 0 {
		t.Errorf("stack depth after return = %d; want 0", v.Depth())
	}
}

func TestStackTraceInnermostFirst(t *testing.T) {
	v := newTestVM()
	inner := NewNativeFunction("inner", func(vm *VM, args []Value, ctx interface{}) (Value, error) {
		return Nil, vm.runtimeError(ErrNativeError, -1, "boom")
	})
	v.SetGlobal("inner", NewFunction(inner))

	code := prog(
		mid(OpLdSym, 0, 0),
		triple(OpCall, 1, 0, 0),
		triple(OpRet, 1, 0, 0),
	)
	p := LoadProgram("outer", code, 2, 0, 1, uint32(len(code)))
	p.symtab[0] = NewSymbolStub("inner")
	p.symtabRead = true // symtab populated directly above, skip the stream parse

	_, err := v.RunProgram(p, nil)
	if err == nil {
		t.Fatal("expected native error to propagate")
	}
	var re *RuntimeError
	if !errors.As(err, &re) {
		t.Fatalf("error = %v; want *RuntimeError", err)
	}
	if len(re.Backtrace) == 0 || re.Backtrace[0] != "inner" {
		t.Errorf("backtrace = %v; want innermost frame \"inner\" first", re.Backtrace)
	}
}

// ---- Stack growth ------------------------------------------------------------

func TestStackGrowsAndOffsetsStayValid(t *testing.T) {
	s := NewStack()
	var headers []int
	for i := 0; i < 64; i++ {
		headers = append(headers, s.PushFrame(4, 0, 0, 0, hostSentinel, hostSentinel, nil))
	}
	if cap(s.slots) <= initialStackCapacity {
		t.Fatalf("stack should have grown past its initial capacity, cap = %d", cap(s.slots))
	}
	for i, h := range headers {
		s.SetReg(h, 0, Int(int64(i)))
	}
	for i, h := range headers {
		if got := s.Reg(h, 0); got.AsInt() != int64(i) {
			t.Fatalf("register at stale header index %d = %d; want %d (offsets must survive growth)", h, got.AsInt(), i)
		}
	}
	for range headers {
		s.PopFrame()
	}
	if s.SP() != 0 {
		t.Errorf("SP after unwinding every frame = %d; want 0", s.SP())
	}
}
