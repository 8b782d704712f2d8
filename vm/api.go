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

import "fmt"

// SetError lets the host latch a runtime error from outside the dispatch
// loop (spec §6.1 vm_set_error_message) — for example, a native function
// that wants to report failure through the VM's own error/backtrace
// machinery instead of (or in addition to) returning a Go error to its
// caller. It is a no-op if an error is already pending.
func (vm *VM) SetError(format string, args ...interface{}) {
	vm.runtimeError(ErrHostError, -1, format, args...)
}

// Release drops one reference to a value the host holds outside of any VM
// register or array slot — the counterpart of the extra retain RET performs
// when it hands a return value back across the host boundary (spec §4.3).
// Hosts that discard a Call result without storing it anywhere should call
// Release on heap-backed results (String, Array, Function, UserInfo) to
// avoid leaking the reference; non-heap values ignore this safely.
func Release(v Value) { v.release() }

// Retain adds one reference to a value the host intends to keep beyond the
// scope of the Call that produced it (for example, stashing it in a
// long-lived Go variable rather than a VM-owned location).
func Retain(v Value) { v.retain() }

// LoadProgram builds a top-level Program from a raw instruction stream,
// together with its entry-point Function (see Program.Function), ready to
// pass to VM.RunProgram. It registers nothing in the VM. nregs and
// declArgc describe the implicit top-level "main" activation; symcount and
// symtabWordOffset locate its local symbol table (spec §4.5).
func LoadProgram(name string, code []uint32, nregs uint16, declArgc uint8, symcount int, symtabWordOffset uint32) *Program {
	return NewProgram(name, code, nregs, declArgc, symcount, symtabWordOffset)
}

// RunProgram is a convenience wrapper that loads and immediately calls a
// top-level program with the given arguments.
func (vm *VM) RunProgram(p *Program, args []Value) (Value, error) {
	fn := p.Function()
	if fn == nil {
		return Nil, fmt.Errorf("%w: program has no entry-point function", ErrIllegalInstruction)
	}
	return vm.Call(fn, args)
}
