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
	"fmt"
	"math"
)

// ---- Word decode/encode (spec §6.2) ---------------------------------------

func decodeTriple(w uint32) (op Opcode, a, b, c uint8) {
	return Opcode(w & 0xFF), uint8(w >> 8), uint8(w >> 16), uint8(w >> 24)
}

func decodeMid(w uint32) (op Opcode, a uint8, mid uint16) {
	op = Opcode(w & 0xFF)
	a = uint8(w >> 8)
	mid = uint16(w>>16) & 0xFFFF
	return
}

func decodeLong(w uint32) (op Opcode, long uint32) {
	return Opcode(w & 0xFF), (w >> 8) & 0xFFFFFF
}

// EncodeTriple packs a triple-register instruction word.
func EncodeTriple(op Opcode, a, b, c uint8) uint32 {
	return uint32(op) | uint32(a)<<8 | uint32(b)<<16 | uint32(c)<<24
}

// EncodeMid packs a mid-encoded instruction word.
func EncodeMid(op Opcode, a uint8, mid uint16) uint32 {
	return uint32(op) | uint32(a)<<8 | uint32(mid)<<16
}

// EncodeLong packs a long-encoded instruction word. long must fit 24 bits.
func EncodeLong(op Opcode, long uint32) uint32 {
	return uint32(op) | (long&0xFFFFFF)<<8
}

// EncodeOffset packs a signed branch offset (in words, relative to the
// instruction following the offset word) as a trailing word.
func EncodeOffset(offset int32) uint32 { return uint32(offset) }

func decodeOffset(w uint32) int32 { return int32(w) }

// Int64ToWords / WordsToInt64 split/join an 8-byte LDCONST Int payload into
// two little-endian-ordered trailing words.
func Int64ToWords(i int64) [2]uint32 {
	u := uint64(i)
	return [2]uint32{uint32(u), uint32(u >> 32)}
}

func wordsToInt64(lo, hi uint32) int64 {
	return int64(uint64(lo) | uint64(hi)<<32)
}

// Float64ToWords / wordsToFloat64 split/join an 8-byte LDCONST Float
// payload into two trailing words.
func Float64ToWords(f float64) [2]uint32 {
	bits := math.Float64bits(f)
	return [2]uint32{uint32(bits), uint32(bits >> 32)}
}

func wordsToFloat64(lo, hi uint32) float64 {
	return math.Float64frombits(uint64(lo) | uint64(hi)<<32)
}

// EncodeNameBytes packs a string's bytes plus a NUL terminator into
// whole trailing words (spec §4.4 GLBVAL, §4.5 STRCONST/SYMSTUB), as the
// design requires for any inlined byte payload.
func EncodeNameBytes(name string) []uint32 {
	raw := append([]byte(name), 0) // NUL terminator
	n := (len(raw) + 3) / 4
	words := make([]uint32, n)
	for i, b := range raw {
		words[i/4] |= uint32(b) << uint((i%4)*8)
	}
	return words
}

func decodeNameBytes(words []uint32, length int) string {
	buf := make([]byte, length)
	for i := 0; i < length; i++ {
		buf[i] = byte(words[i/4] >> uint((i%4)*8))
	}
	return string(buf)
}

func nameWordCount(length int) int { return (length + 1 + 3) / 4 }

// PackArgRegs packs CALL's trailing argument-register-index bytes into
// whole words, word_octets = 4 (spec §4.4 CALL).
func PackArgRegs(regs []uint8) []uint32 {
	n := (len(regs) + 3) / 4
	words := make([]uint32, n)
	for i, r := range regs {
		words[i/4] |= uint32(r) << uint((i%4)*8)
	}
	return words
}

func unpackArgRegs(words []uint32, count int) []uint8 {
	regs := make([]uint8, count)
	for i := 0; i < count; i++ {
		regs[i] = byte(words[i/4] >> uint((i%4)*8))
	}
	return regs
}

// EncodeUpvalDesc packs one CLOSURE upvalue descriptor word.
func EncodeUpvalDesc(outer bool, index uint8) uint32 {
	tag := upvalLocal
	if outer {
		tag = upvalOuter
	}
	return uint32(tag) | uint32(index)<<8
}

func decodeUpvalDesc(w uint32) (outer bool, index uint8) {
	return closureUpvalTag(w&0xFF) == upvalOuter, uint8(w >> 8)
}

// ---- Per-program local symbol table (spec §4.5) ---------------------------

const (
	symTagStrConst uint8 = iota
	symTagSymStub
	symTagFuncDef
)

// EncodeStrConst encodes a STRCONST local-symtab entry.
func EncodeStrConst(s string) []uint32 {
	out := []uint32{uint32(symTagStrConst) | uint32(len(s))<<8}
	out = append(out, EncodeNameBytes(s)...)
	return out
}

// EncodeSymStub encodes a SYMSTUB local-symtab entry.
func EncodeSymStub(name string) []uint32 {
	out := []uint32{uint32(symTagSymStub) | uint32(len(name))<<8}
	out = append(out, EncodeNameBytes(name)...)
	return out
}

// EncodeFuncDef encodes a FUNCDEF local-symtab entry: a nested function
// whose header word is at programBase+headerOffset words; its first
// instruction is the word right after that header.
func EncodeFuncDef(headerOffset uint32, name string) []uint32 {
	out := []uint32{uint32(symTagFuncDef) | (headerOffset&0xFFFFFF)<<8, uint32(len(name))}
	out = append(out, EncodeNameBytes(name)...)
	return out
}

// loadLocalSymtab materializes a program's local symbol table the first
// time it is entered (spec §4.5). Entries become String, SymbolStub, or
// Function values; FUNCDEF entries build a script Function bound to this
// same program.
func loadLocalSymtab(p *Program) error {
	if p.symtabRead {
		return nil
	}
	p.symtabRead = true

	words := p.Code
	pos := int(p.symtabWordOffset)
	for idx := range p.symtab {
		if pos >= len(words) {
			return fmt.Errorf("%w: local symbol table entry %d runs past end of bytecode", ErrIllegalInstruction, idx)
		}
		head := words[pos]
		tag := uint8(head & 0xFF)
		switch tag {
		case symTagStrConst:
			length := int(head >> 8)
			pos++
			n := nameWordCount(length)
			s := decodeNameBytes(words[pos:pos+n], length)
			pos += n
			p.symtab[idx] = NewString(s)

		case symTagSymStub:
			length := int(head >> 8)
			pos++
			n := nameWordCount(length)
			name := decodeNameBytes(words[pos:pos+n], length)
			pos += n
			p.symtab[idx] = NewSymbolStub(name)

		case symTagFuncDef:
			headerOffset := (head >> 8) & 0xFFFFFF
			pos++
			nameLen := int(words[pos])
			pos++
			n := nameWordCount(nameLen)
			name := decodeNameBytes(words[pos:pos+n], nameLen)
			pos += n
			nregs, declArgc, ok := readFunctionHeader(words, headerOffset)
			if !ok {
				return fmt.Errorf("%w: FUNCDEF header offset %d out of range", ErrIllegalInstruction, headerOffset)
			}
			fn := NewScriptFunction(name, p, headerOffset+1, nregs, declArgc)
			p.symtab[idx] = NewFunction(fn)

		default:
			return fmt.Errorf("%w: unrecognized local symbol table tag %d", ErrIllegalInstruction, tag)
		}
	}
	return nil
}

// readFunctionHeader reads the fixed-length {nregs, declArgc} prefix a
// FUNCTION body carries at headerOffset (the rest of the header,
// body_length/symcount, is only meaningful for top-level programs and is
// not re-read for nested functions since they share the enclosing
// program's symbol table and bytecode array).
func readFunctionHeader(words []uint32, headerOffset uint32) (nregs uint16, declArgc uint8, ok bool) {
	if int(headerOffset)+1 >= len(words) {
		return 0, 0, false
	}
	header := words[headerOffset]
	declArgc = uint8(header & 0xFF)
	nregs = uint16(header >> 8)
	return nregs, declArgc, true
}

// EncodeFunctionHeader packs the {declArgc, nregs} header word a FUNCTION
// body begins with. A top-level Program carries no header word: its shape
// is passed to NewProgram and its code starts with an instruction.
func EncodeFunctionHeader(declArgc uint8, nregs uint16) uint32 {
	return uint32(declArgc) | uint32(nregs)<<8
}
