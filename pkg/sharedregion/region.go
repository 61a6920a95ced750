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

// Package sharedregion implements the cross-process state every task of a
// step shares: three atomic counters, the two pids the orchestrator
// publishes, and a robust mutex protecting the create/start handshake.
//
// spec.md models this as a single anonymous mmap that a parent process
// maps once, before fork, and every forked task inherits. This module runs
// in a language whose normal process-spawn path is exec, not fork, so we
// cannot rely on mapping inheritance across processes we do not control
// the creation of (the job-step manager forks/execs the per-task
// processes, out of scope per spec.md §1). We get the same "one shared
// anonymous-equivalent mapping, visible to every task of the step" contract
// by backing the mapping with a named file under the node's per-uid
// scratch directory instead of a truly anonymous one: every task of the
// step mmaps the same path with MAP_SHARED, and whichever task's Create
// call wins the O_CREAT|O_EXCL race is the one that zero-initializes it —
// functionally identical to "the region is mapped before any task runs,
// initialized to zero" from the single stepd process's point of view.
package sharedregion

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync/atomic"
	"unsafe"

	"github.com/gofrs/flock"
	"golang.org/x/sys/unix"

	"github.com/NVIDIA/pyxis/pkg/perrors"
)

// Layout: every field is 4 bytes, naturally aligned.
const (
	offDirty         = 0
	offInitTasks     = 4
	offStartedTasks  = 8
	offCompletedTasks = 12
	offHelperPid     = 16
	offNsPid         = 20
	offLocalTasks    = 24
	regionSize       = 28
)

// NoPid is the sentinel SharedRegion.HelperPid()/NsPid() return when there
// is no live child, per spec.md §3.
const NoPid int32 = -1

// Region is a handle on one step's shared state: an mmap'd fixed-size
// struct plus a companion flock file used as the robust mutex.
type Region struct {
	data []byte
	lock *flock.Flock
	path string
}

// path suffixes for the two backing files.
func lockPath(base string) string { return base + ".lock" }

// Create maps a brand-new region at path, or attaches to one that another
// task of this step already created (the file is opened O_CREAT|O_EXCL:
// the task whose exclusive create succeeds sizes and zero-initializes it,
// every other task opens the existing file without initializing it).
// localTasks is recorded so the last counter transition can be recognized.
func Create(path string, localTasks int32) (*Region, error) {
	f, created, err := openOrCreate(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if created {
		if err := f.Truncate(regionSize); err != nil {
			return nil, &perrors.IOError{Op: "truncate shared region", Err: err}
		}
	}

	data, err := unix.Mmap(int(f.Fd()), 0, regionSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, &perrors.IOError{Op: "mmap shared region", Err: err}
	}

	r := &Region{data: data, lock: flock.New(lockPath(path)), path: path}
	if created {
		r.init(localTasks)
	}
	return r, nil
}

func openOrCreate(path string) (*os.File, bool, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0600)
	if err == nil {
		return f, true, nil
	}
	if !os.IsExist(err) {
		return nil, false, &perrors.IOError{Op: "create shared region", Err: err}
	}
	f, err = os.OpenFile(path, os.O_RDWR, 0600)
	if err != nil {
		return nil, false, &perrors.IOError{Op: "open existing shared region", Err: err}
	}
	return f, false, nil
}

// Attach opens an already-created region by path without attempting to
// create it; used by tasks that know user_init already ran for this step.
func Attach(path string) (*Region, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0600)
	if err != nil {
		return nil, &perrors.IOError{Op: "attach shared region", Err: err}
	}
	defer f.Close()

	data, err := unix.Mmap(int(f.Fd()), 0, regionSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, &perrors.IOError{Op: "mmap shared region", Err: err}
	}
	return &Region{data: data, lock: flock.New(lockPath(path)), path: path}, nil
}

func (r *Region) init(localTasks int32) {
	r.putInt32(offDirty, 0)
	r.putInt32(offInitTasks, 0)
	r.putInt32(offStartedTasks, 0)
	r.putInt32(offCompletedTasks, 0)
	r.putInt32(offHelperPid, NoPid)
	r.putInt32(offNsPid, NoPid)
	r.putInt32(offLocalTasks, localTasks)
}

func (r *Region) ptr32(off int) *int32 {
	return (*int32)(unsafe.Pointer(&r.data[off]))
}

func (r *Region) putInt32(off int, v int32) {
	binary.LittleEndian.PutUint32(r.data[off:off+4], uint32(v))
}

func (r *Region) getInt32Raw(off int) int32 {
	return int32(binary.LittleEndian.Uint32(r.data[off : off+4]))
}

// LocalTasks returns the local task count recorded at creation.
func (r *Region) LocalTasks() int32 {
	return atomic.LoadInt32(r.ptr32(offLocalTasks))
}

// HelperPid/NsPid are read without the mutex: spec.md §4.6 only requires
// writes to go under the mutex; readers that race a concurrent writer will
// simply be racing the same write every caller of these fields is also
// racing, and the orchestrator never trusts a read of these without first
// checking the relevant counter transition.
func (r *Region) HelperPid() int32 { return atomic.LoadInt32(r.ptr32(offHelperPid)) }
func (r *Region) NsPid() int32     { return atomic.LoadInt32(r.ptr32(offNsPid)) }

func (r *Region) setHelperPid(pid int32) { atomic.StoreInt32(r.ptr32(offHelperPid), pid) }
func (r *Region) setNsPid(pid int32)     { atomic.StoreInt32(r.ptr32(offNsPid), pid) }

// ErrRegionDirty is returned by Lock when the previous holder of the mutex
// died mid-critical-section (flock's automatic release-on-death is how we
// detect this, since Go offers no cgo-free pthread robust mutex). The
// caller's region state must be treated as indeterminate: the standard
// response, performed by Lock itself, is to zero helper_pid/ns_pid so no
// task downstream trusts a half-published pid.
var ErrRegionDirty = &perrors.SyncError{Msg: "shared region mutex owner died mid-update; region state invalidated"}

// Lock acquires the mutex, blocking. If the region was left dirty by a
// holder that died before clearing it, Lock clears helper_pid/ns_pid,
// marks the region consistent again, and returns ErrRegionDirty — the
// caller must still eventually call Unlock.
func (r *Region) Lock() error {
	if err := r.lock.Lock(); err != nil {
		return &perrors.SyncError{Msg: fmt.Sprintf("acquiring shared region lock: %v", err)}
	}
	if r.getInt32Raw(offDirty) != 0 {
		r.setHelperPid(NoPid)
		r.setNsPid(NoPid)
		r.putInt32(offDirty, 0)
		return ErrRegionDirty
	}
	r.putInt32(offDirty, 1)
	return nil
}

// Unlock marks the critical section as having completed cleanly and
// releases the mutex.
func (r *Region) Unlock() error {
	r.putInt32(offDirty, 0)
	if err := r.lock.Unlock(); err != nil {
		return &perrors.SyncError{Msg: fmt.Sprintf("releasing shared region lock: %v", err)}
	}
	return nil
}

// PublishHelperStart must be called only by the task holding the mutex,
// immediately after create+start succeeds. nsPid is distinct from
// helperPid exactly when reusing an already-running container's
// namespaces.
func (r *Region) PublishHelperStart(helperPid, nsPid int32) {
	r.setHelperPid(helperPid)
	r.setNsPid(nsPid)
}

// ClearHelperPid records that the helper child is no longer signalable: the
// terminator of started_tasks has sent SIGCONT (it is left to its own
// creator to reap, since only that process is its real parent), or an
// error path never started one.
func (r *Region) ClearHelperPid() {
	r.setHelperPid(NoPid)
}

// IncrInitTasks increments init_tasks and reports whether this call is the
// one that raised it to 1 — i.e., whether this task must perform
// create+start. Must be called while holding the mutex, per spec.md §4.6.
func (r *Region) IncrInitTasks() (isFirst bool) {
	return atomic.AddInt32(r.ptr32(offInitTasks), 1) == 1
}

// IncrStartedTasks increments started_tasks and reports whether this call
// raised it from local_task_count-1 to local_task_count — the terminator
// that must SIGCONT the helper.
func (r *Region) IncrStartedTasks() (isTerminator bool) {
	n := atomic.AddInt32(r.ptr32(offStartedTasks), 1)
	return n == r.LocalTasks()
}

// IncrCompletedTasks increments completed_tasks and reports whether this
// call raised it to local_task_count — the terminator that must run
// export + cleanup.
func (r *Region) IncrCompletedTasks() (isTerminator bool) {
	n := atomic.AddInt32(r.ptr32(offCompletedTasks), 1)
	return n == r.LocalTasks()
}

// StartedTasks/CompletedTasks/InitTasks expose raw counter reads for
// diagnostics and for the "was the step even fully attached" check export
// uses (spec.md §4.7.2).
func (r *Region) StartedTasks() int32   { return atomic.LoadInt32(r.ptr32(offStartedTasks)) }
func (r *Region) CompletedTasks() int32 { return atomic.LoadInt32(r.ptr32(offCompletedTasks)) }
func (r *Region) InitTasks() int32      { return atomic.LoadInt32(r.ptr32(offInitTasks)) }

// Close unmaps the region in this process. It does not remove the backing
// file; only Destroy does that, and only the last task should call Destroy.
func (r *Region) Close() error {
	return unix.Munmap(r.data)
}

// Destroy unmaps and removes the backing region and lock files. Called
// once per step, from stepd_exit, by whichever task reaches it last (the
// same terminator IncrCompletedTasks identifies).
func Destroy(r *Region, path string) error {
	if err := r.Close(); err != nil {
		return &perrors.CleanupError{Msg: "unmapping shared region", Err: err}
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return &perrors.CleanupError{Msg: "removing shared region file", Err: err}
	}
	if err := os.Remove(lockPath(path)); err != nil && !os.IsNotExist(err) {
		return &perrors.CleanupError{Msg: "removing shared region lock file", Err: err}
	}
	return nil
}
