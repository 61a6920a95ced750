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

// Package container names and describes one step's runtime container: the
// naming scheme, the reuse decision derived from a registry lookup, and the
// bookkeeping the orchestrator threads through create/attach/export/teardown.
package container

import (
	"fmt"

	"github.com/gofrs/flock"
	"golang.org/x/sys/unix"

	"github.com/NVIDIA/pyxis/pkg/jobinfo"
	"github.com/NVIDIA/pyxis/pkg/nodeconfig"
	"github.com/NVIDIA/pyxis/pkg/request"
)

// ImportMethod selects how a missing rootfs is materialized.
type ImportMethod int

const (
	ImportNone ImportMethod = iota
	ImportEnrootImport
	ImportEnrootLoad
	ImportExternal
)

// Name computes the container name for a step, per spec.md §3's naming
// invariant. An explicit user name always wins; otherwise the step gets an
// anonymous name derived from jobid.stepid.
func Name(scope nodeconfig.ContainerScope, jobID uint32, stepID string, explicit string) string {
	switch {
	case explicit != "" && scope == nodeconfig.ScopeJob:
		return fmt.Sprintf("pyxis_%d_%s", jobID, explicit)
	case explicit != "" && scope == nodeconfig.ScopeGlobal:
		return fmt.Sprintf("pyxis_%s", explicit)
	case scope == nodeconfig.ScopeJob:
		return fmt.Sprintf("pyxis_%d_%d.%s", jobID, jobID, stepID)
	default:
		return fmt.Sprintf("pyxis_%d.%s", jobID, stepID)
	}
}

// Container is the per-step record the orchestrator builds at Configured and
// carries through to Torn.
type Container struct {
	Name string

	SquashfsPath string // set once import has produced a squashfs, "" for enroot_load
	SavePath     string // resolved absolute export target, "" if none requested

	ReuseRootfs     bool // name already exists in the registry
	ReuseNS         bool // reusing a running container's namespaces
	TemporaryRootfs bool // delete the rootfs at teardown (not cache-mode, not --container-save alone)
	CacheMode       bool

	CacheDataRoot string // <container_cache_data_path>, cache mode only
	CacheDataPath string // <root>/<uid>, cache mode only

	Lock *flock.Flock // shared flock held for the step lifetime, cache mode only

	Method ImportMethod

	UserNSFd   int
	MntNSFd    int
	CgroupNSFd int
	CwdFd      int
}

// Decide computes a Container's name, scope-derived identity, and reuse
// flags from the request, the registry lookup result for a named container,
// and whether the name was already running (per spec.md §4.7.1's mode
// validation table). present/running describe the registry's view of Name
// before this call; for unnamed containers the caller passes
// present=running=false since such a name is always unique to this step.
func Decide(ji *jobinfo.JobInfo, node *nodeconfig.Config, req *request.StepRequest, present, running bool) (*Container, error) {
	name := Name(node.ContainerScope, ji.JobID, ji.StepID, req.ContainerName.Name)

	c := &Container{Name: name}

	if req.ContainerName.Name == "" {
		// Unnamed, step-local: never reused across steps.
		c.TemporaryRootfs = true
		return c, nil
	}

	mode := req.ContainerName.Mode
	switch mode {
	case request.ModeCreate:
		if present {
			return nil, fmt.Errorf("container %q already exists", name)
		}
	case request.ModeExec:
		if !running {
			return nil, fmt.Errorf("container %q is not running", name)
		}
		c.ReuseRootfs = true
		c.ReuseNS = true
	case request.ModeNoExec:
		if running {
			// Treat as "rootfs exists only": attach to the rootfs but do
			// not reuse its (still-live) namespaces.
			c.ReuseRootfs = true
			c.ReuseNS = false
		} else if present {
			c.ReuseRootfs = true
		}
	case request.ModeAuto:
		if running {
			c.ReuseRootfs = true
			c.ReuseNS = true
		} else if present {
			c.ReuseRootfs = true
		}
	default:
		return nil, fmt.Errorf("unknown container name mode %d", mode)
	}

	return c, nil
}

// Close releases every namespace/cwd descriptor captured for this
// container, if any were opened.
func (c *Container) Close() {
	for _, fd := range []int{c.UserNSFd, c.MntNSFd, c.CgroupNSFd, c.CwdFd} {
		if fd > 0 {
			_ = unix.Close(fd)
		}
	}
}
