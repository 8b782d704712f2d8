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

// Globals is the VM-wide, string-keyed symbol table (spec §3). Its
// lifetime equals the VM's.
type Globals struct {
	table map[string]Value
}

func newGlobals() *Globals {
	return &Globals{table: make(map[string]Value)}
}

// Get looks up name, reporting whether it is bound. The returned Value is
// not retained.
func (g *Globals) Get(name string) (Value, bool) {
	v, ok := g.table[name]
	return v, ok
}

// Set unconditionally (re)binds name to v, releasing whatever it
// previously held. Used by the host API (SetGlobal, AddLibraryFunctions,
// AddLibraryValues) — unlike GLBVAL, the host is trusted to overwrite.
func (g *Globals) Set(name string, v Value) {
	v.retain()
	if old, ok := g.table[name]; ok {
		old.release()
	}
	g.table[name] = v
}

// Define implements the GLBVAL instruction's stricter rule: refuse to
// overwrite an existing non-nil entry (spec §4.4 GLBVAL).
func (g *Globals) Define(name string, v Value) error {
	if old, ok := g.table[name]; ok && !old.IsNil() {
		return fmt.Errorf("%w: re-definition of global `%s'", ErrRedefinition, name)
	}
	g.Set(name, v)
	return nil
}

// Snapshot returns a fresh Array value holding every global binding,
// backing VM.Globals (spec §6.1 vm_get_globals). The array is a point-in-
// time copy; mutating it does not affect the global table.
func (g *Globals) Snapshot() Value {
	arr := NewArray()
	a := arr.AsArray()
	for name, v := range g.table {
		key := NewString(name)
		_ = a.Set(key, v)
		key.release()
	}
	return arr
}

// resolveStub looks up a SymbolStub's name in the global table, as LDSYM
// requires (spec §4.4, §4.5).
func (g *Globals) resolveStub(name string) (Value, bool) {
	v, ok := g.table[name]
	if !ok || v.IsNil() {
		return Value{}, false
	}
	return v, true
}
