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

// refcounted is embedded by every heap-backed value kind; it implements the
// retain/release bookkeeping shared by SparklingString, Array, Function, and
// UserInfo.
type refcounted struct {
	refs int32
}

func (r *refcounted) retain()        { r.refs++ }
func (r *refcounted) refcount() int32 { return r.refs }

// SparklingString is an immutable, reference-counted byte string.
type SparklingString struct {
	refcounted
	s string
}

func newSparklingString(s string) *SparklingString {
	return &SparklingString{refcounted: refcounted{refs: 1}, s: s}
}

// release decrements the refcount. Strings own no further references, so
// reaching zero requires no cascading cleanup beyond letting Go's GC
// reclaim the struct once nothing references it.
func (s *SparklingString) release() {
	s.refs--
}

// Len returns the string's byte length, used by SIZEOF.
func (s *SparklingString) Len() int { return len(s.s) }

// UserInfo is an opaque, reference-counted handle to host-supplied data.
type UserInfo struct {
	refcounted
	data     interface{}
	finalize func(interface{})
}

func newUserInfo(data interface{}) *UserInfo {
	return &UserInfo{refcounted: refcounted{refs: 1}, data: data}
}

// SetFinalizer registers a callback run exactly once, the moment the
// UserInfo's refcount reaches zero. Hosts use this to release external
// resources (file handles, connections) tied to the handle's lifetime.
func (u *UserInfo) SetFinalizer(f func(interface{})) { u.finalize = f }

func (u *UserInfo) release() {
	u.refs--
	if u.refs <= 0 && u.finalize != nil {
		u.finalize(u.data)
		u.finalize = nil
	}
}
