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

// hostSentinel marks a FrameHeader's return_addr/return_slot as "return to
// host" rather than to a caller's script frame (spec §4.3).
const hostSentinel int32 = -1

const initialStackCapacity = 8

// FrameHeader is the bookkeeping record for one activation (spec §3).
type FrameHeader struct {
	Size       int32 // header slot + registers + varargs
	DeclArgc   uint8
	ExtraArgc  int32
	RealArgc   int32
	ReturnAddr int32 // word index to resume at in the caller, or hostSentinel
	ReturnSlot int32 // absolute stack slot of the caller's destination register, or hostSentinel
	Callee     *Function
}

// slot is the source's overlaid "header or register" cell, modeled per
// design note as a tagged union rather than overlaying two C struct types
// at the same address.
type slot struct {
	isHeader bool
	header   FrameHeader
	value    Value
}

// Stack is the VM's single contiguous, geometrically-growing region holding
// interleaved frame headers and register windows (spec §3, §4.2).
//
// Any operation that may push a frame can relocate the backing array;
// callers must carry positions as integer indices (frameBases elements,
// ReturnSlot, saved register offsets) rather than Go slice pointers, the
// same discipline the source enforces by using integer offsets instead of
// raw pointers (design note "relocating stack").
type Stack struct {
	slots      []slot
	sp         int     // index one past the last occupied slot
	frameBases []int32 // header slot index of each live frame, outermost first
}

// NewStack returns an empty stack.
func NewStack() *Stack {
	return &Stack{}
}

// Depth returns the number of currently active frames.
func (s *Stack) Depth() int { return len(s.frameBases) }

// SP returns the current stack pointer (slots in use).
func (s *Stack) SP() int { return s.sp }

// ensureCapacity grows the backing array, geometrically, so that `extra`
// more slots can be written starting at sp. Spare capacity is used first;
// once it is exhausted, growth always reallocates and copies into a fresh
// array (rather than relying on append's own growth) so the "stack
// relocates on push" contract is explicit and testable.
func (s *Stack) ensureCapacity(extra int) {
	need := s.sp + extra
	if need <= len(s.slots) {
		return
	}
	if need <= cap(s.slots) {
		s.slots = s.slots[:need]
		return
	}
	newCap := cap(s.slots)
	if newCap == 0 {
		newCap = initialStackCapacity
	}
	for newCap < need {
		newCap *= 2
	}
	grown := make([]slot, need, newCap)
	copy(grown, s.slots)
	s.slots = grown
}

// PushFrame allocates a new frame of nregs nominal registers plus
// extraArgc trailing vararg slots, zero-initializes every register, writes
// the frame header, and returns the header's absolute slot index (spec
// §4.2 push_frame). callee is retained for the lifetime of the frame.
func (s *Stack) PushFrame(nregs uint16, declArgc uint8, extraArgc, realArgc, returnAddr, returnSlot int32, callee *Function) int {
	total := 1 + int(nregs) + int(extraArgc)
	s.ensureCapacity(total)
	headerIdx := s.sp
	s.slots[headerIdx] = slot{isHeader: true, header: FrameHeader{
		Size:       int32(total),
		DeclArgc:   declArgc,
		ExtraArgc:  extraArgc,
		RealArgc:   realArgc,
		ReturnAddr: returnAddr,
		ReturnSlot: returnSlot,
		Callee:     callee,
	}}
	for i := 1; i < total; i++ {
		s.slots[headerIdx+i] = slot{value: Nil}
	}
	if callee != nil {
		callee.retain()
	}
	s.sp = headerIdx + total
	s.frameBases = append(s.frameBases, int32(headerIdx))
	return headerIdx
}

// PushNativePseudoframe pushes a zero-register frame used only so the
// backtrace can name a native function while it runs (spec §4.2).
func (s *Stack) PushNativePseudoframe(callee *Function) int {
	return s.PushFrame(0, 0, 0, 0, hostSentinel, hostSentinel, callee)
}

// PopFrame releases every register of the current frame and retires it.
func (s *Stack) PopFrame() FrameHeader {
	headerIdx := int(s.frameBases[len(s.frameBases)-1])
	s.frameBases = s.frameBases[:len(s.frameBases)-1]
	h := s.slots[headerIdx].header
	for i := 1; i < int(h.Size); i++ {
		s.slots[headerIdx+i].value.release()
		s.slots[headerIdx+i].value = Value{}
	}
	if h.Callee != nil {
		h.Callee.release()
	}
	s.sp = headerIdx
	return h
}

// CurrentFrame returns the header of the innermost active frame, and its
// absolute slot index.
func (s *Stack) CurrentFrame() (FrameHeader, int) {
	idx := int(s.frameBases[len(s.frameBases)-1])
	return s.slots[idx].header, idx
}

// Reg reads register i of the frame based at headerIdx.
func (s *Stack) Reg(headerIdx int, i int) Value {
	return s.slots[headerIdx+1+i].value
}

// SetReg overwrites register i of the frame based at headerIdx in place. It
// neither retains the new value nor releases the old one; callers do that.
func (s *Stack) SetReg(headerIdx int, i int, v Value) {
	s.slots[headerIdx+1+i].value = v
}

// RegAt reads an absolute stack slot, used when following a ReturnSlot into
// the caller's frame.
func (s *Stack) RegAt(absolute int) Value { return s.slots[absolute].value }

// SetRegAt overwrites an absolute stack slot, used when writing a RET value
// into the caller's destination register.
func (s *Stack) SetRegAt(absolute int, v Value) { s.slots[absolute].value = v }

// StackTrace returns the active callees' names, innermost first (spec
// §4.2 stack_trace).
func (s *Stack) StackTrace() []string {
	names := make([]string, 0, len(s.frameBases))
	for i := len(s.frameBases) - 1; i >= 0; i-- {
		h := s.slots[s.frameBases[i]].header
		if h.Callee != nil {
			names = append(names, h.Callee.Name())
		} else {
			names = append(names, "?")
		}
	}
	return names
}

// unwindAll force-pops every live frame, releasing all held values. Used by
// cleanup before the next host-initiated call (spec §4.6).
func (s *Stack) unwindAll() {
	for len(s.frameBases) > 0 {
		s.PopFrame()
	}
}

// unwindTo force-pops frames until exactly depth remain, releasing all held
// values. Nothing in the VM calls it at present: after a runtime error the
// stack is left intact and ClearError unwinds it with unwindAll.
func (s *Stack) unwindTo(depth int) {
	for len(s.frameBases) > depth {
		s.PopFrame()
	}
}
