// Copyright 2026 The Pyxis Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package ternary implements the three-valued option type used for
// mount_home, remap_root, writable, entrypoint, and cache: unset defers to
// node config or the runtime helper's own default, true/false are explicit.
package ternary

// Value is a three-valued flag: Unset, True, or False.
type Value int

const (
	Unset Value = iota
	True
	False
)

func (v Value) String() string {
	switch v {
	case True:
		return "true"
	case False:
		return "false"
	default:
		return "unset"
	}
}

// IsSet reports whether the option was given explicitly.
func (v Value) IsSet() bool { return v != Unset }

// Bool returns the explicit value and true, or (false, false) if unset.
func (v Value) Bool() (value bool, ok bool) {
	switch v {
	case True:
		return true, true
	case False:
		return false, true
	default:
		return false, false
	}
}

// FromBool converts an explicit boolean into a set Value.
func FromBool(b bool) Value {
	if b {
		return True
	}
	return False
}

// YN renders the value as enroot's "y"/"n" environment convention. Callers
// must only invoke this when IsSet() is true.
func (v Value) YN() string {
	if v == True {
		return "y"
	}
	return "n"
}

// Merge resolves an option against a node-level default: an explicit Value
// always wins; an Unset Value takes the fallback.
func Merge(v Value, fallback Value) Value {
	if v.IsSet() {
		return v
	}
	return fallback
}
