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

// Package perrors holds the typed error kinds named in spec.md's error
// handling design, so callers can errors.As into a kind to decide how to
// report it to the scheduler.
package perrors

import "fmt"

// ConfigError covers invalid option combinations, missing data paths, and
// bad container-name mode flags. Fail early in post_opt/user_init.
type ConfigError struct {
	Msg string
}

func (e *ConfigError) Error() string { return "config error: " + e.Msg }

// ArgError covers malformed mounts, empty names, and save targets ending in
// a path separator. Fail during option registration/parsing.
type ArgError struct {
	Msg string
}

func (e *ArgError) Error() string { return "argument error: " + e.Msg }

// IOError wraps a failed mkdir/chown/chmod/stat/mmap syscall. Always fatal
// for the step.
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string { return fmt.Sprintf("io error during %s: %v", e.Op, e.Err) }
func (e *IOError) Unwrap() error { return e.Err }

// SubprocessError wraps a helper or importer child that exited nonzero or
// was killed by a signal. Fatal; its log is dumped at error level by the
// caller before this error is returned.
type SubprocessError struct {
	Argv []string
	Err  error
}

func (e *SubprocessError) Error() string {
	return fmt.Sprintf("subprocess %v failed: %v", e.Argv, e.Err)
}
func (e *SubprocessError) Unwrap() error { return e.Err }

// SyncError covers SharedRegion mutex OWNERDEAD/dirty-region conditions and
// pid-publication failures. Every observer that hits one fails the locking
// task; cleanup still runs on whichever path reaches the terminator.
type SyncError struct {
	Msg string
}

func (e *SyncError) Error() string { return "synchronization error: " + e.Msg }

// AttachError covers setns/chdir/seccomp-install failures. Fatal for the
// offending task only.
type AttachError struct {
	Op  string
	Err error
}

func (e *AttachError) Error() string { return fmt.Sprintf("attach error during %s: %v", e.Op, e.Err) }
func (e *AttachError) Unwrap() error { return e.Err }

// CleanupError covers export/cleanup failures. Logged at info level by the
// caller; never masks an earlier success.
type CleanupError struct {
	Msg string
	Err error
}

func (e *CleanupError) Error() string { return fmt.Sprintf("cleanup error: %s: %v", e.Msg, e.Err) }
func (e *CleanupError) Unwrap() error { return e.Err }
