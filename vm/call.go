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

// pushScriptCall implements the call protocol of spec §4.3: it pushes a new
// frame sized for fn's declared registers plus any extra (variadic)
// arguments, copies args into the formal argument slots and, if there are
// more args than fn declares, into the trailing vararg slots, retaining each
// one (the source's "copy args into the callee's frame" step). returnAddr
// and returnSlot are hostSentinel for a host-initiated call, or the
// resuming word index / destination register of a script CALL.
func (vm *VM) pushScriptCall(fn *Function, args []Value, returnAddr, returnSlot int32) error {
	if fn.program == nil {
		return fmt.Errorf("%w: script function `%s' has no owning program", ErrIllegalInstruction, fn.Name())
	}
	if err := loadLocalSymtab(fn.program); err != nil {
		return err
	}

	declArgc := int(fn.declArgc)
	extra := 0
	if len(args) > declArgc {
		extra = len(args) - declArgc
	}

	headerIdx := vm.stack.PushFrame(fn.nregs, fn.declArgc, int32(extra), int32(len(args)), returnAddr, returnSlot, fn)

	for i := 0; i < declArgc; i++ {
		var v Value = Nil
		if i < len(args) {
			v = args[i]
		}
		v.retain()
		vm.stack.SetReg(headerIdx, i, v)
	}
	for i := 0; i < extra; i++ {
		v := args[declArgc+i]
		v.retain()
		vm.stack.SetReg(headerIdx, int(fn.nregs)+i, v)
	}

	vm.pcStack = append(vm.pcStack, int32(fn.entry))
	return nil
}

// popScriptFrame pops the current script frame and its pc entry together,
// keeping the two stacks (call-linkage and program-counter) in lockstep.
func (vm *VM) popScriptFrame() FrameHeader {
	h := vm.stack.PopFrame()
	vm.pcStack = vm.pcStack[:len(vm.pcStack)-1]
	return h
}

// nthArg returns the i'th vararg passed to the frame at headerIdx — the
// actual argument beyond the callee's declared parameters, stored at
// register offset nregs+i (spec §4.4 NTHARG, §3 "indices [nregs, nregs +
// extra_argc) hold variadic arguments"). i is bounds-checked against the
// frame's ExtraArgc, not its total argument count.
func (vm *VM) nthArg(h FrameHeader, headerIdx int, i int) (Value, error) {
	if i < 0 || int32(i) >= h.ExtraArgc {
		return Nil, fmt.Errorf("%w: vararg index %d out of range (extra_argc = %d)", ErrOutOfBounds, i, h.ExtraArgc)
	}
	return vm.stack.Reg(headerIdx, int(h.Callee.nregs)+i), nil
}

// invokeNative runs a native function to completion, wrapped in a
// pseudoframe so the backtrace can name it while it executes (spec §4.2,
// §6.1). It is used both for host-initiated calls (VM.Call) and for CALL
// instructions whose resolved callee is native.
func (vm *VM) invokeNative(fn *Function, args []Value) (Value, error) {
	vm.stack.PushNativePseudoframe(fn)
	vm.pcStack = append(vm.pcStack, hostSentinel)
	result, err := fn.native(vm, args, vm.context)
	vm.stack.PopFrame()
	vm.pcStack = vm.pcStack[:len(vm.pcStack)-1]
	return result, err
}
