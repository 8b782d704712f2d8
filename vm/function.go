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

// FunctionKind distinguishes the three callable shapes spec §3 describes.
// A closure is not a separate kind; it is an FnScript Function whose
// upvalues table has been populated by CLOSURE.
type FunctionKind uint8

const (
	FnScript FunctionKind = iota
	FnNative
	FnProgram
)

// NativeFn is the idiomatic-Go shape of the host callback contract in
// spec §6.1 ("(out, argc, argv, ctx) -> int"): a non-nil error plays the
// role of a nonzero return code, and the returned Value plays the role of
// *out. ctx is the VM's opaque host context (see VM.Context).
//
// The returned Value must be owned: either freshly constructed
// (NewString/NewArray/NewFunction/...) or, if it is one of args (or
// something reachable from them) passed through unchanged, retained by the
// callback itself before returning it. This mirrors RET's contract for
// script functions; the CALL dispatch stores the result without an
// additional retain.
type NativeFn func(vm *VM, args []Value, ctx interface{}) (Value, error)

// Function is a callable Sparkling value: a script function, a native
// function, or a top-level program (which additionally owns a per-program
// symbol table, see Program).
type Function struct {
	refcounted

	kind FunctionKind
	name string

	// Script/Program fields.
	entry    uint32 // word offset of the entry point within program.Code
	nregs    uint16 // nominal register window width (excludes varargs)
	declArgc uint8  // declared (formal) parameter count
	program  *Program
	upvalues []Value // non-nil iff this Function is a closure

	// Native field.
	native NativeFn
}

// NewScriptFunction constructs a script function bound to program, entering
// at word offset entry with the given register-window shape.
func NewScriptFunction(name string, program *Program, entry uint32, nregs uint16, declArgc uint8) *Function {
	return &Function{
		refcounted: refcounted{refs: 1},
		kind:       FnScript,
		name:       name,
		entry:      entry,
		nregs:      nregs,
		declArgc:   declArgc,
		program:    program,
	}
}

// NewNativeFunction wraps a Go callback as a Sparkling native function.
func NewNativeFunction(name string, fn NativeFn) *Function {
	return &Function{
		refcounted: refcounted{refs: 1},
		kind:       FnNative,
		name:       name,
		native:     fn,
	}
}

// Name returns the function's declared name, used in backtraces and error
// messages.
func (fn *Function) Name() string { return fn.name }

// IsNative reports whether fn is backed by a Go callback.
func (fn *Function) IsNative() bool { return fn.kind == FnNative }

// IsProgram reports whether fn is a top-level program entry point.
func (fn *Function) IsProgram() bool { return fn.kind == FnProgram }

// IsClosure reports whether fn carries a populated upvalue table.
func (fn *Function) IsClosure() bool { return fn.upvalues != nil }

// cloneAsClosure returns a fresh Function sharing fn's code/shape but
// carrying its own upvalue table, as CLOSURE requires (the prototype
// register must not be mutated in place, since other closures may still
// reference the same prototype).
func (fn *Function) cloneAsClosure(upvalues []Value) *Function {
	return &Function{
		refcounted: refcounted{refs: 1},
		kind:       fn.kind,
		name:       fn.name,
		entry:      fn.entry,
		nregs:      fn.nregs,
		declArgc:   fn.declArgc,
		program:    fn.program,
		upvalues:   upvalues,
	}
}

// release drops fn's own reference to its captured upvalues.
func (fn *Function) release() {
	fn.refs--
	if fn.refs > 0 {
		return
	}
	for _, uv := range fn.upvalues {
		uv.release()
	}
	fn.upvalues = nil
}

// Program is a top-level compilation unit: its own instruction stream plus
// a lazily-populated local symbol table (spec §3, §4.5).
type Program struct {
	fn   *Function // kind == FnProgram; fn.program == this Program
	Code []uint32  // full instruction word stream, including nested FUNCTION bodies

	symtab           []Value
	symtabWordOffset uint32 // where the local-symtab stream begins within Code
	symtabRead       bool
}

// NewProgram constructs a top-level program over code, with a local symbol
// table of symcount entries materialized from the stream starting at
// symtabWordOffset the first time the program is entered.
func NewProgram(name string, code []uint32, nregs uint16, declArgc uint8, symcount int, symtabWordOffset uint32) *Program {
	p := &Program{
		Code:             code,
		symtab:           make([]Value, symcount),
		symtabWordOffset: symtabWordOffset,
	}
	p.fn = &Function{
		refcounted: refcounted{refs: 1},
		kind:       FnProgram,
		name:       name,
		entry:      0,
		nregs:      nregs,
		declArgc:   declArgc,
		program:    p,
	}
	return p
}

// Function returns the program's entry-point Function value (unretained).
func (p *Program) Function() *Function { return p.fn }
