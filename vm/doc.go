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

// Package vm implements the Sparkling language register-based virtual
// machine: a bytecode interpreter with a dynamically-resized call stack,
// global and per-program symbol tables, closures with upvalues, and
// refcounted heap values shared between interpreted code and native (host)
// functions.
//
// The VM does not parse source or compile bytecode; callers hand it
// already-assembled instruction words (see Program and the encoding
// documented in bytecode.go). Compilation, the lexer/parser, and the
// standard library beyond the small demonstration packages in stdlib/ are
// external collaborators.
package vm
