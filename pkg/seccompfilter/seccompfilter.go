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

// Package seccompfilter hand-assembles the classic BPF program that lets an
// unprivileged user joining a container's user namespace still run package
// managers that call setuid/chown-family syscalls: those calls are stubbed
// to return 0 without effect, since inside the user namespace the task
// already appears to be root. Installed only for tasks that are not
// privileged, right after the namespace joins and chdir, per spec.md
// §4.7.1 step 5.
package seccompfilter

import (
	"fmt"
	"unsafe"

	specs "github.com/opencontainers/runtime-spec/specs-go"
	"golang.org/x/sys/unix"
)

// profile describes the stubbed syscalls in the OCI runtime-spec's own
// seccomp vocabulary (the same `LinuxSeccomp`/`LinuxSyscall`/
// `LinuxSeccompArg` shape a `config.json`'s `linux.seccomp` section uses),
// even though installation here goes straight to a hand-assembled classic
// BPF program rather than through libseccomp: it is the single source of
// truth Program() compiles from, so the syscall list and the fsuid/fsgid
// argument check live in one declarative place instead of being repeated
// as bare literals inside the instruction encoding below.
var profile = specs.LinuxSeccomp{
	DefaultAction: specs.ActAllow,
	Architectures: []specs.Arch{specs.ArchX86_64},
	Syscalls: []specs.LinuxSyscall{
		{
			// Unconditionally faked: these calls are meaningless once the
			// task already appears to be root inside its own user namespace.
			Names: []string{
				"setuid", "setgid", "setreuid", "setregid", "setresuid",
				"setresgid", "setgroups", "fchownat", "chown", "fchown", "lchown",
			},
			Action: specs.ActErrno,
		},
		{
			// setfsuid/setfsgid double as a getter when passed -1; only the
			// mutating form is faked.
			Names:  []string{"setfsuid", "setfsgid"},
			Action: specs.ActErrno,
			Args: []specs.LinuxSeccompArg{
				{Index: 0, Value: 0xffffffff, Op: specs.OpNotEqual},
			},
		},
	},
}

// syscallNumbers maps the runtime-spec profile's syscall names to this
// architecture's syscall numbers; audit-style name lists are spec's
// vocabulary, not x/sys/unix's, so the translation is ours to own.
var syscallNumbers = map[string]uint32{
	"setuid":    unix.SYS_SETUID,
	"setgid":    unix.SYS_SETGID,
	"setreuid":  unix.SYS_SETREUID,
	"setregid":  unix.SYS_SETREGID,
	"setresuid": unix.SYS_SETRESUID,
	"setresgid": unix.SYS_SETRESGID,
	"setgroups": unix.SYS_SETGROUPS,
	"fchownat":  unix.SYS_FCHOWNAT,
	"chown":     unix.SYS_CHOWN,
	"fchown":    unix.SYS_FCHOWN,
	"lchown":    unix.SYS_LCHOWN,
	"setfsuid":  unix.SYS_SETFSUID,
	"setfsgid":  unix.SYS_SETFSGID,
}

var archAuditValues = map[specs.Arch]uint32{
	specs.ArchX86_64: unix.AUDIT_ARCH_X86_64,
}

func fprogAddr(p *unix.SockFprog) uintptr {
	return uintptr(unsafe.Pointer(p))
}

// Classic BPF opcode fields, per linux/filter.h / linux/bpf_common.h. x/sys
// does not export these as named constants (they are cBPF, not the eBPF
// surface golang.org/x/sys/unix otherwise targets), so the instruction
// encoding is spelled out by hand, the same way hand-rolled seccomp
// filters are written in C.
const (
	bpfLd  = 0x00
	bpfW   = 0x00
	bpfAbs = 0x20
	bpfJmp = 0x05
	bpfJeq = 0x10
	bpfK   = 0x00
	bpfRet = 0x06
)

const (
	seccompRetKill  = 0x00000000
	seccompRetAllow = 0x7fff0000
	// seccompRetErrno with data 0 makes the kernel return -0 == 0 to the
	// caller without ever executing the syscall: the classic trick for
	// faking success on a syscall seccomp intercepts.
	seccompRetErrno = 0x00050000
)

// seccomp_data field byte offsets (struct seccomp_data: int nr; __u32
// arch; __u64 instruction_pointer; __u64 args[6];), little-endian.
const (
	offNR   = 0
	offArch = 4
	offArg0 = 16
)

func stmt(code uint16, k uint32) unix.SockFilter {
	return unix.SockFilter{Code: code, K: k}
}

func jump(code uint16, k uint32, jt, jf uint8) unix.SockFilter {
	return unix.SockFilter{Code: code, Jt: jt, Jf: jf, K: k}
}

// Program builds the BPF instruction list, ported instruction-for-instruction
// from the layout enroot itself uses (see DESIGN.md): an architecture guard,
// then an unconditional-stub chain for the plain privileged-identity calls,
// then an argument-checked stub for setfsuid/setfsgid (success only when the
// uid/gid argument is not -1), falling through to ALLOW for everything else.
// The syscall names, their order, and the fsuid/fsgid comparison value all
// come from profile; only the jt/jf instruction-offset arithmetic below is
// specific to this exact 21-instruction encoding.
func Program() []unix.SockFilter {
	arch := archAuditValues[profile.Architectures[0]]

	unconditional := profile.Syscalls[0].Names // setuid..lchown, 11 names
	fsIDCalls := profile.Syscalls[1].Names      // setfsuid, setfsgid
	fsIDGuard := uint32(profile.Syscalls[1].Args[0].Value)

	return []unix.SockFilter{
		// 0: load syscall arch.
		stmt(bpfLd|bpfW|bpfAbs, offArch),
		// 1: kill any architecture other than the configured one.
		jump(bpfJmp|bpfJeq|bpfK, arch, 1, 0),
		// 2.
		stmt(bpfRet|bpfK, seccompRetKill),
		// 3: load syscall number.
		stmt(bpfLd|bpfW|bpfAbs, offNR),
		// 4..14: unconditional stubs, jt counts instructions to the fake-
		// success RET at index 20.
		jump(bpfJmp|bpfJeq|bpfK, syscallNumbers[unconditional[0]], 15, 0),
		jump(bpfJmp|bpfJeq|bpfK, syscallNumbers[unconditional[1]], 14, 0),
		jump(bpfJmp|bpfJeq|bpfK, syscallNumbers[unconditional[2]], 13, 0),
		jump(bpfJmp|bpfJeq|bpfK, syscallNumbers[unconditional[3]], 12, 0),
		jump(bpfJmp|bpfJeq|bpfK, syscallNumbers[unconditional[4]], 11, 0),
		jump(bpfJmp|bpfJeq|bpfK, syscallNumbers[unconditional[5]], 10, 0),
		jump(bpfJmp|bpfJeq|bpfK, syscallNumbers[unconditional[6]], 9, 0),
		jump(bpfJmp|bpfJeq|bpfK, syscallNumbers[unconditional[7]], 8, 0),
		jump(bpfJmp|bpfJeq|bpfK, syscallNumbers[unconditional[8]], 7, 0),
		jump(bpfJmp|bpfJeq|bpfK, syscallNumbers[unconditional[9]], 6, 0),
		jump(bpfJmp|bpfJeq|bpfK, syscallNumbers[unconditional[10]], 5, 0),
		// 15: setfsuid -> go check its argument (index 17).
		jump(bpfJmp|bpfJeq|bpfK, syscallNumbers[fsIDCalls[0]], 1, 0),
		// 16: setfsgid -> go check its argument; anything else -> ALLOW (19).
		jump(bpfJmp|bpfJeq|bpfK, syscallNumbers[fsIDCalls[1]], 0, 2),
		// 17: load the uid/gid argument.
		stmt(bpfLd|bpfW|bpfAbs, offArg0),
		// 18: argument == -1 -> ALLOW (real call is a harmless no-op);
		// otherwise -> fake success without calling it.
		jump(bpfJmp|bpfJeq|bpfK, fsIDGuard, 0, 1),
		// 19: execute the syscall as usual.
		stmt(bpfRet|bpfK, seccompRetAllow),
		// 20: fake success (errno data 0) for every stubbed syscall.
		stmt(bpfRet|bpfK, seccompRetErrno),
	}
}

// Install loads Program() as a SECCOMP_MODE_FILTER. PR_SET_NO_NEW_PRIVS
// must be set first for an unprivileged caller to be allowed to install a
// filter at all.
func Install() error {
	if err := unix.Prctl(unix.PR_SET_NO_NEW_PRIVS, 1, 0, 0, 0); err != nil {
		return fmt.Errorf("seccompfilter: set no_new_privs: %w", err)
	}

	prog := Program()
	fprog := unix.SockFprog{
		Len:    uint16(len(prog)),
		Filter: &prog[0],
	}
	if err := unix.Prctl(unix.PR_SET_SECCOMP, uintptr(unix.SECCOMP_MODE_FILTER), fprogAddr(&fprog), 0, 0); err != nil {
		return fmt.Errorf("seccompfilter: installing filter: %w", err)
	}
	return nil
}
