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

// Sentinel errors mirroring the error kinds of spec §7. Wrap these with
// fmt.Errorf("%w: ...") for the caller-facing message; errors.Is still
// matches the kind.
var (
	ErrTypeError          = errors.New("type error")
	ErrUnresolvedSymbol   = errors.New("unresolved symbol")
	ErrRedefinition       = errors.New("redefinition")
	ErrOutOfBounds        = errors.New("out of bounds")
	ErrNotCallable        = errors.New("not callable")
	ErrIllegalInstruction = errors.New("illegal instruction")
	ErrNativeError        = errors.New("native error")
	ErrHostError          = errors.New("host error")
	ErrDivisionByZero     = errors.New("division by zero")
)

// RuntimeError is the VM's single error representation: a formatted
// message plus the backtrace captured at the moment the error was raised.
type RuntimeError struct {
	Kind      error
	Message   string
	Backtrace []string
}

func (e *RuntimeError) Error() string { return e.Message }

func (e *RuntimeError) Unwrap() error { return e.Kind }

// runtimeError formats a message prefixed the way spec §4.6 describes
// ("runtime error at address 0x%08x: " when ip is known, "runtime error in
// native code: " otherwise), captures the current backtrace, and latches
// vm.hasError. It is self-guarding: if an error is already pending, the new
// one is discarded and the original is returned, mirroring the source's
// "a second error while has_error is set is discarded".
func (vm *VM) runtimeError(kind error, ip int32, format string, args ...interface{}) error {
	if vm.hasError {
		return vm.lastError
	}
	msg := fmt.Sprintf(format, args...)
	var prefixed string
	if ip >= 0 {
		prefixed = fmt.Sprintf("runtime error at address 0x%08x: %s", ip, msg)
	} else {
		prefixed = fmt.Sprintf("runtime error in native code: %s", msg)
	}
	re := &RuntimeError{
		Kind:      kind,
		Message:   prefixed,
		Backtrace: vm.StackTrace(),
	}
	vm.hasError = true
	vm.lastError = re
	return re
}
