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
	"fmt"
)

// isFalsy reports whether v is the boolean-false-like value of the
// conditional jumps (spec §4.4 JZE/JNZ): Nil and Bool(false) are falsy,
// everything else is truthy.
func isFalsy(v Value) bool {
	return v.IsNil() || (v.IsBool() && !v.AsBool())
}

// step fetches, decodes, and executes exactly one instruction of the
// innermost active frame. It reports halted=true with the returned value
// when a RET unwinds the activation baseDepth+1 back down to baseDepth
// (i.e. the original Call-level activation has returned to its host).
func (vm *VM) step() (halted bool, ret Value, err error) {
	h, headerIdx := vm.stack.CurrentFrame()
	if h.Callee == nil || h.Callee.program == nil {
		return false, Nil, vm.runtimeError(ErrIllegalInstruction, -1, "frame has no associated program")
	}
	code := h.Callee.program.Code
	pcIdx := len(vm.pcStack) - 1
	pc := vm.pcStack[pcIdx]

	if pc < 0 || int(pc) >= len(code) {
		return false, Nil, vm.runtimeError(ErrIllegalInstruction, pc, "program counter out of range")
	}
	word := code[pc]
	opByte := Opcode(word & 0xFF)
	if int(opByte) >= len(opcodeTable) {
		return false, Nil, vm.runtimeError(ErrIllegalInstruction, pc, "unknown opcode %d", word&0xFF)
	}
	info := opcodeTable[opByte]

	var a, b, c uint8
	var mid uint16
	var long uint32
	switch info.encoding {
	case encTriple:
		_, a, b, c = decodeTriple(word)
	case encMid:
		_, a, mid = decodeMid(word)
	case encLong:
		_, long = decodeLong(word)
	}
	_ = b
	_ = c

	reg := func(i uint8) Value { return vm.stack.Reg(headerIdx, int(i)) }
	// setReg retains v before releasing whatever previously lived in
	// register i, so aliased operands (the same register appearing as
	// both a source and the destination) are always safe to overwrite.
	setReg := func(i uint8, v Value) {
		old := reg(i)
		v.retain()
		old.release()
		vm.stack.SetReg(headerIdx, int(i), v)
	}
	// setRegOwned stores v without retaining it first: v is a value the
	// caller just constructed (NEWARR/TYPEOF/CONCAT/CLOSURE) or received
	// back from a native call that built it, so it already owns the single
	// reference NewString/NewArray/NewFunction document. Retaining here
	// would create a second owning reference with no second owner, and the
	// refcount would never reach zero (spec §4.1 "the destination register
	// holds either a brand-new value or a retained copy — never a
	// duplicate owning reference").
	setRegOwned := func(i uint8, v Value) {
		old := reg(i)
		old.release()
		vm.stack.SetReg(headerIdx, int(i), v)
	}

	nextPC := pc + 1

	switch opByte {
	case OpAdd, OpSub, OpMul, OpDiv, OpMod:
		x, y := reg(b), reg(c)
		result, aerr := arith(opByte, x, y)
		if aerr != nil {
			return false, Nil, vm.runtimeError(errKindOf(aerr), pc, "%s", aerr.Error())
		}
		setReg(a, result)

	case OpNeg:
		x := reg(b)
		switch {
		case x.IsInt():
			setReg(a, Int(-x.AsInt()))
		case x.IsFloat():
			setReg(a, Float(-x.AsFloat()))
		default:
			return false, Nil, vm.runtimeError(ErrTypeError, pc, "cannot negate a %s", x.TypeName())
		}

	case OpAnd, OpOr, OpXor, OpShl, OpShr:
		x, y := reg(b), reg(c)
		if !x.IsInt() || !y.IsInt() {
			return false, Nil, vm.runtimeError(ErrTypeError, pc, "bitwise operator requires two integers, got %s and %s", x.TypeName(), y.TypeName())
		}
		var r int64
		switch opByte {
		case OpAnd:
			r = x.AsInt() & y.AsInt()
		case OpOr:
			r = x.AsInt() | y.AsInt()
		case OpXor:
			r = x.AsInt() ^ y.AsInt()
		case OpShl:
			r = x.AsInt() << uint(y.AsInt())
		case OpShr:
			r = x.AsInt() >> uint(y.AsInt())
		}
		setReg(a, Int(r))

	case OpBitNot:
		x := reg(b)
		if !x.IsInt() {
			return false, Nil, vm.runtimeError(ErrTypeError, pc, "cannot take bitwise complement of a %s", x.TypeName())
		}
		setReg(a, Int(^x.AsInt()))

	case OpEq:
		setReg(a, Bool(ValuesEqual(reg(b), reg(c))))
	case OpNe:
		setReg(a, Bool(!ValuesEqual(reg(b), reg(c))))

	case OpLt, OpLe, OpGt, OpGe:
		x, y := reg(b), reg(c)
		if !ValuesComparable(x, y) {
			return false, Nil, vm.runtimeError(ErrTypeError, pc, "ordered comparison of uncomparable values")
		}
		cmp := Compare(x, y)
		var result bool
		switch opByte {
		case OpLt:
			result = cmp < 0
		case OpLe:
			result = cmp <= 0
		case OpGt:
			result = cmp > 0
		case OpGe:
			result = cmp >= 0
		}
		setReg(a, Bool(result))

	case OpLogNot:
		x := reg(b)
		if !x.IsBool() {
			return false, Nil, vm.runtimeError(ErrTypeError, pc, "logical negation requires a boolean, got %s", x.TypeName())
		}
		setReg(a, Bool(isFalsy(x)))

	case OpInc, OpDec:
		x := reg(a)
		delta := int64(1)
		if opByte == OpDec {
			delta = -1
		}
		switch {
		case x.IsInt():
			setReg(a, Int(x.AsInt()+delta))
		case x.IsFloat():
			setReg(a, Float(x.AsFloat()+float64(delta)))
		default:
			return false, Nil, vm.runtimeError(ErrTypeError, pc, "cannot increment/decrement a %s", x.TypeName())
		}

	case OpLdConst:
		switch ldconstKind(b) {
		case ldcNil:
			setReg(a, Nil)
		case ldcTrue:
			setReg(a, Bool(true))
		case ldcFalse:
			setReg(a, Bool(false))
		case ldcInt:
			lo, hi := code[pc+1], code[pc+2]
			setReg(a, Int(wordsToInt64(lo, hi)))
			nextPC = pc + 3
		case ldcFloat:
			lo, hi := code[pc+1], code[pc+2]
			setReg(a, Float(wordsToFloat64(lo, hi)))
			nextPC = pc + 3
		default:
			return false, Nil, vm.runtimeError(ErrIllegalInstruction, pc, "unrecognized LDCONST payload kind %d", b)
		}

	case OpMov:
		setReg(a, reg(b))

	case OpLdArgc:
		setReg(a, Int(int64(h.RealArgc)))

	case OpNewArr:
		setRegOwned(a, NewArray())

	case OpArrGet:
		subject := reg(b)
		switch {
		case subject.IsArray():
			v, ok, gerr := subject.AsArray().Get(reg(c))
			if gerr != nil {
				return false, Nil, vm.runtimeError(ErrTypeError, pc, "%s", gerr.Error())
			}
			if !ok {
				return false, Nil, vm.runtimeError(ErrOutOfBounds, pc, "no such key in array")
			}
			setReg(a, v)
		case subject.IsString():
			idxVal := reg(c)
			if !idxVal.IsInt() {
				return false, Nil, vm.runtimeError(ErrTypeError, pc, "string index must be an integer")
			}
			s := subject.AsString()
			idx := idxVal.AsInt()
			normalized := idx
			if normalized < 0 {
				normalized += int64(len(s))
			}
			if normalized < 0 || normalized >= int64(len(s)) {
				return false, Nil, vm.runtimeError(ErrOutOfBounds, pc, "character at normalized index %d is out of bounds for string of length %d", normalized, len(s))
			}
			setReg(a, Int(int64(s[normalized])))
		default:
			return false, Nil, vm.runtimeError(ErrTypeError, pc, "first operand of [] operator must be an array or a string")
		}

	case OpArrSet:
		arrVal := reg(a)
		if !arrVal.IsArray() {
			return false, Nil, vm.runtimeError(ErrTypeError, pc, "cannot index into a %s", arrVal.TypeName())
		}
		if serr := arrVal.AsArray().Set(reg(b), reg(c)); serr != nil {
			return false, Nil, vm.runtimeError(ErrTypeError, pc, "%s", serr.Error())
		}

	case OpSizeof:
		x := reg(b)
		var n int
		switch {
		case x.IsString():
			n = len(x.AsString())
		case x.IsArray():
			n = x.AsArray().Len()
		default:
			return false, Nil, vm.runtimeError(ErrTypeError, pc, "%s has no size", x.TypeName())
		}
		setReg(a, Int(int64(n)))

	case OpTypeof:
		setRegOwned(a, NewString(reg(b).TypeName()))

	case OpConcat:
		x, y := reg(b), reg(c)
		if !x.IsString() || !y.IsString() {
			return false, Nil, vm.runtimeError(ErrTypeError, pc, "cannot concatenate a %s with a %s", x.TypeName(), y.TypeName())
		}
		setRegOwned(a, NewString(x.AsString()+y.AsString()))

	case OpLdSym:
		prog := h.Callee.program
		if int(mid) >= len(prog.symtab) {
			return false, Nil, vm.runtimeError(ErrIllegalInstruction, pc, "local symbol table index %d out of range", mid)
		}
		v := prog.symtab[mid]
		if v.IsSymbolStub() {
			resolved, ok := vm.globals.resolveStub(v.StubName())
			if !ok {
				return false, Nil, vm.runtimeError(ErrUnresolvedSymbol, pc, "global `%s' does not exist or it is nil", v.StubName())
			}
			resolved.retain()
			prog.symtab[mid] = resolved
			v = resolved
		}
		setReg(a, v)

	case OpGlbVal:
		n := nameWordCount(int(mid))
		name := decodeNameBytes(code[pc+1:pc+1+int32(n)], int(mid))
		nextPC = pc + 1 + int32(n)
		if derr := vm.globals.Define(name, reg(a)); derr != nil {
			return false, Nil, vm.runtimeError(ErrRedefinition, pc, "%s", derr.Error())
		}

	case OpNthArg:
		idxVal := reg(b)
		if !idxVal.IsInt() {
			return false, Nil, vm.runtimeError(ErrTypeError, pc, "argument index must be an integer, got %s", idxVal.TypeName())
		}
		v, nerr := vm.nthArg(h, headerIdx, int(idxVal.AsInt()))
		if nerr != nil {
			return false, Nil, vm.runtimeError(ErrOutOfBounds, pc, "%s", nerr.Error())
		}
		setReg(a, v)

	case OpJmp, OpJze, OpJnz:
		// JZE/JNZ branch on a Bool register and nothing else. Short-circuit
		// evaluation of `&&`/`||` is not handled here; it depends entirely on
		// the branch pattern the bytecode's producer emits around them.
		offset := decodeOffset(code[pc+1])
		target := pc + 2 + offset
		switch opByte {
		case OpJmp:
			nextPC = target
		case OpJze:
			cond := reg(a)
			if !cond.IsBool() {
				return false, Nil, vm.runtimeError(ErrTypeError, pc, "condition register must hold a boolean, got %s", cond.TypeName())
			}
			if isFalsy(cond) {
				nextPC = target
			} else {
				nextPC = pc + 2
			}
		case OpJnz:
			cond := reg(a)
			if !cond.IsBool() {
				return false, Nil, vm.runtimeError(ErrTypeError, pc, "condition register must hold a boolean, got %s", cond.TypeName())
			}
			if !isFalsy(cond) {
				nextPC = target
			} else {
				nextPC = pc + 2
			}
		}

	case OpCall:
		argc := int(c)
		wordCount := (argc + 3) / 4
		argRegs := unpackArgRegs(code[pc+1:pc+1+int32(wordCount)], argc)
		nextPC = pc + 1 + int32(wordCount)

		calleeVal := reg(b)
		if !calleeVal.IsFunction() {
			return false, Nil, vm.runtimeError(ErrNotCallable, pc, "cannot call a %s", calleeVal.TypeName())
		}
		fn := calleeVal.AsFunction()
		args := make([]Value, argc)
		for i, r := range argRegs {
			args[i] = reg(r)
		}

		if fn.IsNative() {
			result, nerr := vm.invokeNative(fn, args)
			if nerr != nil {
				return false, Nil, vm.runtimeError(ErrNativeError, pc, "%s", nerr.Error())
			}
			// A native function returns an owned reference, exactly as RET
			// does for a script call: it either builds a brand-new value or
			// retains a borrowed one itself before returning it. setReg
			// would retain a second, un-releasable reference here.
			setRegOwned(a, result)
		} else {
			returnSlot := int32(headerIdx + 1 + int(a))
			if perr := vm.pushScriptCall(fn, args, nextPC, returnSlot); perr != nil {
				return false, Nil, vm.runtimeError(ErrNotCallable, pc, "%s", perr.Error())
			}
			// Park this frame's own pc at nextPC now (RET writes the same
			// ReturnAddr back when the callee returns). Do not fall through
			// to the generic pcStack write below: the new top-of-stack
			// frame's pc was pushed by pushScriptCall.
			vm.pcStack[pcIdx] = nextPC
			return false, Nil, nil
		}

	case OpRet:
		retVal := reg(a)
		retVal.retain()
		popped := vm.popScriptFrame()
		if popped.ReturnAddr == hostSentinel {
			return true, retVal, nil
		}
		resumeIdx := len(vm.pcStack) - 1
		vm.pcStack[resumeIdx] = popped.ReturnAddr
		old := vm.stack.RegAt(int(popped.ReturnSlot))
		vm.stack.SetRegAt(int(popped.ReturnSlot), retVal)
		old.release()
		return false, Nil, nil

	case OpFunction:
		nextPC = pc + 1 + int32(long)

	case OpClosure:
		protoVal := reg(a)
		if !protoVal.IsFunction() {
			return false, Nil, vm.runtimeError(ErrTypeError, pc, "CLOSURE target register does not hold a function")
		}
		proto := protoVal.AsFunction()
		n := int(mid)
		upvals := make([]Value, n)
		for i := 0; i < n; i++ {
			outer, idx := decodeUpvalDesc(code[pc+1+int32(i)])
			var v Value
			if outer {
				if h.Callee.upvalues == nil || int(idx) >= len(h.Callee.upvalues) {
					return false, Nil, vm.runtimeError(ErrIllegalInstruction, pc, "outer upvalue index %d out of range", idx)
				}
				v = h.Callee.upvalues[idx]
			} else {
				v = reg(idx)
			}
			v.retain()
			upvals[i] = v
		}
		nextPC = pc + 1 + int32(n)
		setRegOwned(a, NewFunction(proto.cloneAsClosure(upvals)))

	case OpLdUpval:
		if h.Callee.upvalues == nil || int(b) >= len(h.Callee.upvalues) {
			return false, Nil, vm.runtimeError(ErrIllegalInstruction, pc, "upvalue index %d out of range", b)
		}
		setReg(a, h.Callee.upvalues[b])

	default:
		return false, Nil, vm.runtimeError(ErrIllegalInstruction, pc, "unimplemented opcode %s", opByte)
	}

	vm.pcStack[pcIdx] = nextPC
	return false, Nil, nil
}

// arith evaluates a numeric dyadic operator (spec §4.4 ADD/SUB/MUL/DIV/MOD).
// ADD/SUB/MUL/DIV promote to float64 if either operand is a Float; MOD
// requires two integers and reports a type error otherwise.
func arith(op Opcode, x, y Value) (Value, error) {
	if !x.IsNum() || !y.IsNum() {
		return Nil, fmt.Errorf("%w: arithmetic requires two numbers, got %s and %s", ErrTypeError, x.TypeName(), y.TypeName())
	}
	if x.IsInt() && y.IsInt() {
		a, b := x.AsInt(), y.AsInt()
		switch op {
		case OpAdd:
			return Int(a + b), nil
		case OpSub:
			return Int(a - b), nil
		case OpMul:
			return Int(a * b), nil
		case OpDiv:
			if b == 0 {
				return Nil, fmt.Errorf("%w: integer division by zero", ErrDivisionByZero)
			}
			return Int(a / b), nil
		case OpMod:
			if b == 0 {
				return Nil, fmt.Errorf("%w: integer modulo by zero", ErrDivisionByZero)
			}
			return Int(a % b), nil
		}
	}
	a, b := x.AsNumber(), y.AsNumber()
	switch op {
	case OpAdd:
		return Float(a + b), nil
	case OpSub:
		return Float(a - b), nil
	case OpMul:
		return Float(a * b), nil
	case OpDiv:
		return Float(a / b), nil
	case OpMod:
		return Nil, fmt.Errorf("%w: modulo requires two integers", ErrTypeError)
	}
	return Nil, fmt.Errorf("%w: unreachable arithmetic opcode", ErrIllegalInstruction)
}

// errKindOf recovers the sentinel kind wrapped into an error built with
// fmt.Errorf("%w: ...", sentinel, ...), falling back to ErrTypeError.
func errKindOf(err error) error {
	if errors.Is(err, ErrDivisionByZero) {
		return ErrDivisionByZero
	}
	return ErrTypeError
}
