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

// Package helper runs the enroot runtime helper (and the external importer,
// which speaks the same subprocess conventions) as the job's uid/gid, with
// its output captured to a memfd so stderr is never shown to the scheduler
// directly — only replayed on error.
package helper

// Argv is a small typed argv builder, grounded on original_source/common.c's
// sprint_array-style helper: every component that shells out to enroot (or
// the importer) builds its argument vector through here instead of
// scattering ad hoc []string{...} literals, so a missing/misordered
// argument is a one-place fix.
type Argv struct {
	args []string
}

// NewArgv starts a new argv rooted at a binary path/name.
func NewArgv(bin string) *Argv {
	return &Argv{args: []string{bin}}
}

// Arg appends a single positional argument or bare flag.
func (a *Argv) Arg(s string) *Argv {
	a.args = append(a.args, s)
	return a
}

// Flag appends "--name value" as two argv entries.
func (a *Argv) Flag(name, value string) *Argv {
	a.args = append(a.args, name, value)
	return a
}

// Args appends each element as its own argv entry, in order.
func (a *Argv) Args(values ...string) *Argv {
	a.args = append(a.args, values...)
	return a
}

// Build returns the finished argument vector. The returned slice is owned
// by the caller; Argv must not be reused after Build.
func (a *Argv) Build() []string {
	return a.args
}
