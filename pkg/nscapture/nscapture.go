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

// Package nscapture opens the namespace and working-directory file
// descriptors a task needs to join a container, before the runtime helper
// that created them is allowed to exit. Every fd is opened O_CLOEXEC so it
// never leaks across the eventual exec of the user's task.
package nscapture

import (
	"fmt"

	"github.com/containerd/cgroups"
	"golang.org/x/sys/unix"

	"github.com/NVIDIA/pyxis/pkg/log"
)

// Handles holds the four descriptors spec.md §4.5/§3 requires: three
// namespace fds (cgroup may be -1 on a kernel without cgroup namespace
// support) and the container's working directory.
type Handles struct {
	UserNS   int
	MntNS    int
	CgroupNS int // -1 when unavailable
	Cwd      int
}

const noFD = -1

// Capture opens ns/user, ns/mnt, ns/cgroup (tolerating ENOENT) from nsPid,
// and cwd from cwdPid. The two pids are independent parameters, so a caller
// may take the namespaces and the cwd from different processes; the
// orchestrator passes the same pid for both.
func Capture(nsPid, cwdPid int) (Handles, error) {
	h := Handles{UserNS: noFD, MntNS: noFD, CgroupNS: noFD, Cwd: noFD}

	log.Debugf("pyxis: host cgroup hierarchy mode is %s", cgroupMode())

	userNS, err := openCloExec(nsPath(nsPid, "user"))
	if err != nil {
		return Handles{}, fmt.Errorf("nscapture: opening user namespace: %w", err)
	}
	h.UserNS = userNS

	mntNS, err := openCloExec(nsPath(nsPid, "mnt"))
	if err != nil {
		closeAll(h)
		return Handles{}, fmt.Errorf("nscapture: opening mount namespace: %w", err)
	}
	h.MntNS = mntNS

	cgroupNS, err := openCloExec(nsPath(nsPid, "cgroup"))
	switch {
	case err == nil:
		h.CgroupNS = cgroupNS
	case err == unix.ENOENT:
		log.Debugf("pyxis: no cgroup namespace support on this kernel, skipping")
	default:
		closeAll(h)
		return Handles{}, fmt.Errorf("nscapture: opening cgroup namespace: %w", err)
	}

	cwd, err := openCloExec(fmt.Sprintf("/proc/%d/cwd", cwdPid))
	if err != nil {
		closeAll(h)
		return Handles{}, fmt.Errorf("nscapture: opening cwd: %w", err)
	}
	h.Cwd = cwd

	return h, nil
}

// cgroupMode reports the host's cgroup hierarchy (legacy/hybrid/unified):
// whether a cached rootfs's cgroup namespace fd is even meaningful to the
// task that joins it depends on it, so it is worth a line in the same log
// the namespace opens themselves report into.
func cgroupMode() string {
	switch cgroups.Mode() {
	case cgroups.Legacy:
		return "legacy"
	case cgroups.Hybrid:
		return "hybrid"
	case cgroups.Unified:
		return "unified"
	default:
		return "unavailable"
	}
}

func nsPath(pid int, ns string) string {
	return fmt.Sprintf("/proc/%d/ns/%s", pid, ns)
}

func openCloExec(path string) (int, error) {
	return unix.Open(path, unix.O_RDONLY|unix.O_CLOEXEC, 0)
}

func closeAll(h Handles) {
	for _, fd := range []int{h.UserNS, h.MntNS, h.CgroupNS, h.Cwd} {
		if fd >= 0 {
			_ = unix.Close(fd)
		}
	}
}

// Close releases every open descriptor in h.
func (h Handles) Close() {
	closeAll(h)
}

// Fchdir changes the calling process's working directory to the captured
// cwd descriptor.
func (h Handles) Fchdir() error {
	return unix.Fchdir(h.Cwd)
}
