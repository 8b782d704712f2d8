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

// VM is one Sparkling execution core: a call stack, a global symbol table,
// and the error/backtrace state of the most recent runtime fault (spec §3).
// A VM is not safe for concurrent use; run independent programs on
// independent VMs (spec §5).
type VM struct {
	stack   *Stack
	globals *Globals

	// pcStack mirrors stack.frameBases: pcStack[i] is the word index of the
	// next instruction to fetch in the frame at frameBases[i]. Kept apart
	// from FrameHeader because the program counter belongs to the
	// in-flight fetch/decode/execute loop, not to the frame's call-linkage
	// bookkeeping.
	pcStack []int32

	hasError bool
	lastError error

	context interface{}
}

// New returns a VM with an empty call stack and global table.
func New() *VM {
	return &VM{
		stack:   NewStack(),
		globals: newGlobals(),
	}
}

// Context returns the opaque host value attached with SetContext.
func (vm *VM) Context() interface{} { return vm.context }

// SetContext attaches an opaque host value, threaded through to every
// native callback invoked by this VM (spec §6.1).
func (vm *VM) SetContext(ctx interface{}) { vm.context = ctx }

// LastError returns the error latched by the most recent failed Call, or
// nil if the VM is not in an error state.
func (vm *VM) LastError() error {
	if !vm.hasError {
		return nil
	}
	return vm.lastError
}

// ClearError drops the latched error and unwinds any frames left behind by
// the failed call, readying the VM for the next host-initiated call (spec
// §4.6).
func (vm *VM) ClearError() {
	vm.stack.unwindAll()
	vm.pcStack = vm.pcStack[:0]
	vm.hasError = false
	vm.lastError = nil
}

// Globals returns a point-in-time snapshot of the global symbol table as a
// Sparkling array (spec §6.1 vm_get_globals).
func (vm *VM) Globals() Value { return vm.globals.Snapshot() }

// GetGlobal looks up a single global binding.
func (vm *VM) GetGlobal(name string) (Value, bool) { return vm.globals.Get(name) }

// SetGlobal unconditionally (re)binds a global, as the host is always
// trusted to do (spec §6.1 vm_push_global / vm_add_func).
func (vm *VM) SetGlobal(name string, v Value) { vm.globals.Set(name, v) }

// AddLibraryFunctions registers a table of native functions in one call
// (spec §6.1 vm_add_library_functions). If libname is "", each function is
// bound directly as a global; otherwise a subtable Array named libname is
// created (or extended, if a binding with that name already exists and is
// an Array) and the functions are bound inside it.
func (vm *VM) AddLibraryFunctions(libname string, fns map[string]NativeFn) {
	if libname == "" {
		for name, fn := range fns {
			fnVal := NewFunction(NewNativeFunction(name, fn))
			vm.globals.Set(name, fnVal)
			fnVal.release()
		}
		return
	}
	sub := vm.librarySubtable(libname)
	arr := sub.AsArray()
	for name, fn := range fns {
		key, fnVal := NewString(name), NewFunction(NewNativeFunction(name, fn))
		_ = arr.Set(key, fnVal)
		key.release()
		fnVal.release()
	}
	vm.globals.Set(libname, sub)
	sub.release()
}

// AddLibraryValues registers a table of plain values in one call (spec
// §6.1 vm_add_library_values), following the same libname convention as
// AddLibraryFunctions.
func (vm *VM) AddLibraryValues(libname string, vals map[string]Value) {
	if libname == "" {
		for name, v := range vals {
			vm.globals.Set(name, v)
		}
		return
	}
	sub := vm.librarySubtable(libname)
	arr := sub.AsArray()
	for name, v := range vals {
		key := NewString(name)
		_ = arr.Set(key, v)
		key.release()
	}
	vm.globals.Set(libname, sub)
	sub.release()
}

// librarySubtable returns the Array bound to libname in the global table,
// reusing it if present, or a freshly constructed one otherwise. The
// caller is responsible for storing the (possibly unchanged) result back
// into globals and releasing its own copy afterward.
func (vm *VM) librarySubtable(libname string) Value {
	if existing, ok := vm.globals.Get(libname); ok && existing.IsArray() {
		existing.retain()
		return existing
	}
	return NewArray()
}

// StackTrace returns the active callees' names, innermost first.
func (vm *VM) StackTrace() []string { return vm.stack.StackTrace() }

// Depth reports the current call-stack depth.
func (vm *VM) Depth() int { return vm.stack.Depth() }

// Call is the sole host-initiated entry point (spec §6.1 vm_call). It
// invokes fn with args, running the fetch/decode/execute loop until fn's
// activation (and everything it transitively calls) returns, and reports
// either the result or the runtime error that halted execution.
//
// If a previous call left the VM halted on a pending error, Call invokes
// cleanup first (spec §4.6/§7: "invokes cleanup first if a previous call
// errored") rather than refusing to run: the failed call's frames are only
// unwound here, at the next host entry, so the host has a window in which
// StackTrace/Depth still reflect the point of failure.
func (vm *VM) Call(fn *Function, args []Value) (Value, error) {
	if vm.hasError {
		vm.ClearError()
	}
	if fn == nil {
		return Nil, fmt.Errorf("%w: cannot call nil function", ErrNotCallable)
	}

	if fn.IsNative() {
		return vm.callNative(fn, args)
	}

	result, err := vm.callScriptSync(fn, args)
	if err != nil {
		return Nil, err
	}
	return result, nil
}

// callScriptSync pushes fn's activation, runs the dispatch loop until that
// activation (and everything it calls) unwinds back below the boundary it
// started at, and returns its result.
func (vm *VM) callScriptSync(fn *Function, args []Value) (Value, error) {
	baseDepth := vm.stack.Depth()

	if err := vm.pushScriptCall(fn, args, hostSentinel, hostSentinel); err != nil {
		return Nil, vm.runtimeError(ErrNotCallable, -1, "%s", err.Error())
	}

	var result Value
	for vm.stack.Depth() > baseDepth {
		halted, ret, err := vm.step()
		if err != nil {
			// The stack is intentionally left intact here: the host may
			// still walk StackTrace()/Depth() to inspect the backtrace.
			// Cleanup happens at the start of the next Call (ClearError).
			return Nil, err
		}
		if halted {
			result = ret
		}
	}
	return result, nil
}

// callNative invokes a native function directly from the host.
func (vm *VM) callNative(fn *Function, args []Value) (Value, error) {
	result, err := vm.invokeNative(fn, args)
	if err != nil {
		return Nil, vm.runtimeError(ErrNativeError, -1, "%s", err.Error())
	}
	return result, nil
}
