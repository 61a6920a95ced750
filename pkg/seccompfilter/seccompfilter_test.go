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

package seccompfilter

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// TestProgramJumpTargetsStayInBounds walks every jump in the program and
// checks both of its targets lie inside the program, so no path through the
// filter falls off the end, and checks the last two instructions are the
// two RETs.
func TestProgramJumpTargetsStayInBounds(t *testing.T) {
	prog := Program()
	require.Len(t, prog, 21)

	isRet := func(idx int) bool {
		return prog[idx].Code&0x07 == bpfRet
	}

	for i, ins := range prog {
		if ins.Code&0x07 != bpfJmp {
			continue
		}
		jtTarget := i + 1 + int(ins.Jt)
		jfTarget := i + 1 + int(ins.Jf)
		require.Less(t, jtTarget, len(prog), "instruction %d jt target out of range", i)
		require.Less(t, jfTarget, len(prog), "instruction %d jf target out of range", i)
	}

	// The two RET instructions are exactly the tail.
	require.True(t, isRet(len(prog)-1))
	require.True(t, isRet(len(prog)-2))
}

func TestProgramStubsExactSyscallSet(t *testing.T) {
	prog := Program()

	wantK := map[uint32]bool{
		unix.SYS_SETUID:    true,
		unix.SYS_SETGID:    true,
		unix.SYS_SETREUID:  true,
		unix.SYS_SETREGID:  true,
		unix.SYS_SETRESUID: true,
		unix.SYS_SETRESGID: true,
		unix.SYS_SETGROUPS: true,
		unix.SYS_FCHOWNAT:  true,
		unix.SYS_CHOWN:     true,
		unix.SYS_FCHOWN:    true,
		unix.SYS_LCHOWN:    true,
		unix.SYS_SETFSUID:  true,
		unix.SYS_SETFSGID:  true,
	}

	got := map[uint32]bool{}
	for _, ins := range prog {
		if ins.Code == bpfJmp|bpfJeq|bpfK && ins.K != unix.AUDIT_ARCH_X86_64 && ins.K != 0xffffffff {
			got[ins.K] = true
		}
	}
	require.Equal(t, wantK, got)
}

func TestProgramArchCheckFirst(t *testing.T) {
	prog := Program()
	require.EqualValues(t, bpfLd|bpfW|bpfAbs, prog[0].Code)
	require.EqualValues(t, offArch, prog[0].K)
	require.EqualValues(t, unix.AUDIT_ARCH_X86_64, prog[1].K)
}

// TestProfileDrivesSyscallNumbers confirms every syscall name the
// runtime-spec profile declares has a translation entry, and that no
// translation entry goes unused: Program() must compile the declared
// policy as-is, not a hand-maintained copy of it.
func TestProfileDrivesSyscallNumbers(t *testing.T) {
	declared := map[string]bool{}
	for _, sc := range profile.Syscalls {
		for _, name := range sc.Names {
			declared[name] = true
		}
	}

	require.Len(t, declared, len(syscallNumbers))
	for name := range declared {
		_, ok := syscallNumbers[name]
		require.True(t, ok, "profile declares %q with no syscall number mapping", name)
	}
}

// TestProfileFsIDGuardMatchesProgram confirms the fsuid/fsgid argument
// guard value Program() compiles in is read from the declared profile, not
// a separate literal that could drift from it.
func TestProfileFsIDGuardMatchesProgram(t *testing.T) {
	prog := Program()
	guard := uint32(profile.Syscalls[1].Args[0].Value)

	// Instruction 18 is the fsuid/fsgid argument comparison (see Program's
	// layout comment); its K must equal the declared guard value.
	require.EqualValues(t, guard, prog[18].K)
}
