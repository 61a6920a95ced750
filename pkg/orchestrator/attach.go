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

package orchestrator

import (
	"fmt"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/NVIDIA/pyxis/pkg/cache"
	"github.com/NVIDIA/pyxis/pkg/helper"
	"github.com/NVIDIA/pyxis/pkg/nscapture"
	"github.com/NVIDIA/pyxis/pkg/perrors"
	"github.com/NVIDIA/pyxis/pkg/seccompfilter"
	"github.com/NVIDIA/pyxis/pkg/sharedregion"
)

// attach performs the per-task Attached(n) transition (spec.md §4.7.1): it
// captures this task's own namespace/cwd descriptors (the ns fds always come
// from ns_pid; the cwd fd and the environment come from helper_pid, or from
// ns_pid when no helper was started because a running container's
// namespaces are reused), imports the container's environment, joins the
// namespaces in the fixed
// order the kernel requires, chdirs, and installs the seccomp filter.
//
// Namespace/cwd capture happens before this task's SIGCONT contribution, so
// it always runs while helper_pid is still guaranteed to exist (either still
// stopped, for the task that created it, or because an earlier attach in the
// same step already holds the fds open).
func (sc *StepContext) attach() error {
	helperPid := int(sc.Region.HelperPid())
	nsPid := int(sc.Region.NsPid())

	// A reused, still-running container never had a helper stopped for
	// this step: there is no helper_pid to read cwd or environ from, so
	// fall back to ns_pid, the running container's own pid.
	cwdPid := helperPid
	if helperPid == int(sharedregion.NoPid) {
		cwdPid = nsPid
	}

	handles, err := nscapture.Capture(nsPid, cwdPid)
	if err != nil {
		return err
	}
	sc.nsHandles = handles
	sc.Container.UserNSFd = handles.UserNS
	sc.Container.MntNSFd = handles.MntNS
	sc.Container.CgroupNSFd = handles.CgroupNS
	sc.Container.CwdFd = handles.Cwd

	if sc.Container.CacheMode {
		// Each task attaching to a cached rootfs takes its own shared
		// flock, held for as long as this task stays attached: the flock
		// taken by whichever task created the rootfs belongs to that
		// task's own process and disappears the moment that process
		// exits, which can happen well before sibling tasks are done
		// using the rootfs.
		rootfsDir := sc.Container.CacheDataPath + "/" + sc.Container.Name
		lock, err := cache.AcquireShared(rootfsDir)
		if err != nil {
			return err
		}
		sc.Container.Lock = lock
		cache.Touch(rootfsDir)
	}

	if err := importContainerEnviron(cwdPid, sc.Req.EnvVars); err != nil {
		return err
	}
	remapPytorchEnv()

	if err := sc.joinNamespaces(); err != nil {
		return err
	}

	if err := sc.chdirIntoContainer(); err != nil {
		return err
	}

	if !sc.Job.Privileged {
		if err := seccompfilter.Install(); err != nil {
			return &perrors.AttachError{Op: "seccomp install", Err: err}
		}
	}

	sc.attached = true

	isTerminator := sc.Region.IncrStartedTasks()
	if isTerminator && helperPid != int(sharedregion.NoPid) {
		if err := helper.SendSignal(helperPid, syscall.SIGCONT); err != nil {
			return fmt.Errorf("orchestrator: waking helper pid %d: %w", helperPid, err)
		}
		// The helper is a child of whichever task won the init_tasks race
		// in createAndStart, not necessarily this task: wait4 only
		// succeeds against one's own children, so reaping it from here
		// would fail with ECHILD whenever the terminator and the creator
		// are different processes. Leave it to exit on its own; once its
		// creator's process eventually exits it is reparented and reaped
		// automatically. ClearHelperPid still records that no further
		// attach should treat helper_pid as signalable.
		sc.Region.ClearHelperPid()
	}

	return nil
}

// joinNamespaces performs the three setns calls in the order spec.md
// §4.7.1 step 3 fixes: user first (so the later namespaces are entered with
// the remapped identity already in effect), then cgroup, then mount.
func (sc *StepContext) joinNamespaces() error {
	if !sc.Job.Privileged {
		if err := unix.Setns(sc.nsHandles.UserNS, unix.CLONE_NEWUSER); err != nil {
			return &perrors.AttachError{Op: "setns(user)", Err: err}
		}
	}
	if sc.nsHandles.CgroupNS >= 0 {
		if err := unix.Setns(sc.nsHandles.CgroupNS, unix.CLONE_NEWCGROUP); err != nil {
			return &perrors.AttachError{Op: "setns(cgroup)", Err: err}
		}
	}
	if err := unix.Setns(sc.nsHandles.MntNS, unix.CLONE_NEWNS); err != nil {
		return &perrors.AttachError{Op: "setns(mnt)", Err: err}
	}
	return nil
}

// chdirIntoContainer honors an explicit workdir override, falling back to
// the captured cwd fd (the container's own working directory as left by the
// runtime helper) otherwise.
func (sc *StepContext) chdirIntoContainer() error {
	if sc.Req.Workdir != "" {
		if err := unix.Chdir(sc.Req.Workdir); err != nil {
			return &perrors.AttachError{Op: fmt.Sprintf("chdir(%q)", sc.Req.Workdir), Err: err}
		}
		return nil
	}
	if err := sc.nsHandles.Fchdir(); err != nil {
		return &perrors.AttachError{Op: "fchdir(cwd)", Err: err}
	}
	return nil
}
