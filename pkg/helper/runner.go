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

package helper

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/NVIDIA/pyxis/pkg/log"
	"github.com/NVIDIA/pyxis/pkg/perrors"
)

// Options configures a single helper/importer invocation. The Go runtime's
// own process-creation path (clone+execve under the hood of os/exec)
// already does the fd/credential setup a C fork()-based runner would need
// an explicit post-fork callback for; Env is therefore computed entirely in
// the parent (see pkg/sanitize) rather than threaded through a callback
// that runs "after fork". Prep, when non-nil, still gets a hook to run
// immediately before Start for anything that cannot be expressed as plain
// Env/Dir (e.g. writing an ephemeral config file a just-built argv
// references).
type Options struct {
	UID uint32
	GID uint32
	Env []string
	Dir string
	// Log receives combined stdout+stderr. A nil Log means /dev/null.
	Log  *os.File
	Prep func() error
}

func (o Options) credential() *syscall.Credential {
	return &syscall.Credential{Uid: o.UID, Gid: o.GID}
}

func devNull(flag int) (*os.File, error) {
	return os.OpenFile(os.DevNull, flag, 0)
}

func build(argv []string, opts Options, stdout *os.File) (*exec.Cmd, error) {
	if len(argv) == 0 {
		return nil, errors.New("helper: empty argv")
	}
	if opts.Prep != nil {
		if err := opts.Prep(); err != nil {
			return nil, fmt.Errorf("helper: prep callback: %w", err)
		}
	}

	path, err := exec.LookPath(argv[0])
	if err != nil {
		return nil, fmt.Errorf("helper: resolving %q: %w", argv[0], err)
	}

	stdin, err := devNull(os.O_RDONLY)
	if err != nil {
		return nil, fmt.Errorf("helper: opening /dev/null: %w", err)
	}

	cmd := exec.Command(path, argv[1:]...)
	cmd.Env = opts.Env
	cmd.Dir = opts.Dir
	cmd.Stdin = stdin
	if stdout != nil {
		cmd.Stdout = stdout
		cmd.Stderr = stdout
	} else if opts.Log != nil {
		cmd.Stdout = opts.Log
		cmd.Stderr = opts.Log
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Credential: opts.credential(),
		// The caller retains the process group; the orchestrator signals
		// helper_pid directly by pid, not by group, matching spec.md §4.6.
	}
	return cmd, nil
}

// adjustOOMScore best-effort nudges a freshly started child's
// oom_score_adj back to the default. Failures are never fatal: spec.md
// calls this out explicitly as best-effort.
func adjustOOMScore(pid int) {
	path := fmt.Sprintf("/proc/%d/oom_score_adj", pid)
	if err := os.WriteFile(path, []byte("0"), 0644); err != nil {
		log.Debugf("pyxis: oom_score_adj on pid %d: %v", pid, err)
	}
}

// RunWait runs argv to completion, fire-and-wait. A nonzero exit or a
// signal death is reported as *perrors.SubprocessError; a fork/exec
// failure is reported as a plain wrapped error.
func RunWait(argv []string, opts Options) error {
	cmd, err := build(argv, opts, nil)
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("helper: starting %v: %w", argv, err)
	}
	adjustOOMScore(cmd.Process.Pid)

	if err := cmd.Wait(); err != nil {
		return &perrors.SubprocessError{Argv: argv, Err: err}
	}
	return nil
}

// LineStream is a rewindable line reader over a helper's captured stdout.
type LineStream struct {
	f *os.File
	s *bufio.Scanner
}

// Rewind seeks back to the start of the captured output; RunCapture already
// leaves the stream rewound, so callers only need this to re-read.
func (ls *LineStream) Rewind() error {
	if _, err := ls.f.Seek(0, 0); err != nil {
		return err
	}
	ls.s = bufio.NewScanner(ls.f)
	return nil
}

// Scan advances to the next line, the same contract as bufio.Scanner.Scan.
func (ls *LineStream) Scan() bool { return ls.s.Scan() }

// Text returns the current line, the same contract as bufio.Scanner.Text.
func (ls *LineStream) Text() string { return ls.s.Text() }

// Err returns any error Scan encountered.
func (ls *LineStream) Err() error { return ls.s.Err() }

// File exposes the backing memfd, e.g. so PrintLog can dump it on error.
func (ls *LineStream) File() *os.File { return ls.f }

// Close releases the backing memfd.
func (ls *LineStream) Close() error { return ls.f.Close() }

// RunCapture runs argv to completion with stdout captured to an anonymous
// memfd, exposed as a rewound LineStream on success. Stderr still goes to
// opts.Log, if any, exactly like RunWait.
func RunCapture(argv []string, opts Options) (*LineStream, error) {
	out, err := NewLogFile("pyxis-capture")
	if err != nil {
		return nil, err
	}

	cmd, err := build(argv, opts, out)
	if err != nil {
		out.Close()
		return nil, err
	}
	// Capture mode still wants stderr on opts.Log (or /dev/null when there
	// is no Log), never mixed into stdout.
	if opts.Log != nil {
		cmd.Stderr = opts.Log
	} else {
		cmd.Stderr = nil
	}

	if err := cmd.Start(); err != nil {
		out.Close()
		return nil, fmt.Errorf("helper: starting %v: %w", argv, err)
	}
	adjustOOMScore(cmd.Process.Pid)

	if err := cmd.Wait(); err != nil {
		out.Close()
		return nil, &perrors.SubprocessError{Argv: argv, Err: err}
	}

	if _, err := out.Seek(0, 0); err != nil {
		out.Close()
		return nil, fmt.Errorf("helper: rewinding captured output: %w", err)
	}
	return &LineStream{f: out, s: bufio.NewScanner(out)}, nil
}

// StartStoppable starts argv and returns immediately without waiting,
// for the "enroot start ... kill -STOP $$" handshake: the caller is
// expected to observe the child stop itself via WaitStopped rather than
// exit normally.
func StartStoppable(argv []string, opts Options) (*os.Process, error) {
	cmd, err := build(argv, opts, nil)
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("helper: starting %v: %w", argv, err)
	}
	adjustOOMScore(cmd.Process.Pid)
	return cmd.Process, nil
}

// StopResult classifies how a stoppable child's first observable state
// transition went.
type StopResult int

const (
	// StopResultStopped means the child raised SIGSTOP, the expected
	// outcome: its namespaces are now safe to capture.
	StopResultStopped StopResult = iota
	// StopResultExitedTooSoon means the child exited zero before stopping,
	// which spec.md §4.7.1 treats as "container exited too soon".
	StopResultExitedTooSoon
	// StopResultExitedErr means the child exited nonzero.
	StopResultExitedErr
)

// WaitStopped blocks until pid either stops (WIFSTOPPED) or exits,
// retrying on EINTR, using a raw Wait4 because os/exec's Cmd.Wait only
// ever reports full termination and cannot observe an intermediate stop.
func WaitStopped(pid int) (StopResult, error) {
	var status unix.WaitStatus
	for {
		_, err := unix.Wait4(pid, &status, unix.WUNTRACED, nil)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("wait4(%d, WUNTRACED): %w", pid, err)
		}
		break
	}

	switch {
	case status.Stopped():
		return StopResultStopped, nil
	case status.Exited() && status.ExitStatus() == 0:
		return StopResultExitedTooSoon, nil
	default:
		return StopResultExitedErr, fmt.Errorf("helper child pid %d exited unexpectedly: %s", pid, status)
	}
}

// SendSignal signals a pid directly; used for SIGCONT (wake the stopped
// helper) and SIGSTOP verification in tests.
func SendSignal(pid int, sig syscall.Signal) error {
	return syscall.Kill(pid, sig)
}

// Reap performs a final blocking wait on a pid that is known to be about to
// exit (e.g. after SIGCONT following "exit 0"), so it never lingers as a
// zombie. EINTR is retried.
func Reap(pid int) error {
	var status unix.WaitStatus
	for {
		_, err := unix.Wait4(pid, &status, 0, nil)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return fmt.Errorf("wait4(%d): %w", pid, err)
		}
		return nil
	}
}
