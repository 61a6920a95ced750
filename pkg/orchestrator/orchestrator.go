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

// Package orchestrator drives one step's container through its full
// lifecycle: Configured (user_init) -> Imported/Created/Started (first
// task_init observer) -> Attached(n) (every task_init) -> Torn (last
// task_exit, then stepd_exit). It is the component every other package in
// this module feeds: StepContext is the one struct, analogous to
// runscService in the shim package this module is grounded on, that a
// caller drives by name through the lifecycle methods below, serialized by
// the SharedRegion mutex rather than an in-process sync.Mutex (since the
// callers are cooperating processes, not goroutines).
package orchestrator

import (
	"fmt"
	"os"

	"github.com/NVIDIA/pyxis/pkg/cache"
	"github.com/NVIDIA/pyxis/pkg/container"
	"github.com/NVIDIA/pyxis/pkg/enrootconf"
	"github.com/NVIDIA/pyxis/pkg/helper"
	"github.com/NVIDIA/pyxis/pkg/importer"
	"github.com/NVIDIA/pyxis/pkg/jobinfo"
	"github.com/NVIDIA/pyxis/pkg/log"
	"github.com/NVIDIA/pyxis/pkg/nodeconfig"
	"github.com/NVIDIA/pyxis/pkg/nscapture"
	"github.com/NVIDIA/pyxis/pkg/perrors"
	"github.com/NVIDIA/pyxis/pkg/registry"
	"github.com/NVIDIA/pyxis/pkg/request"
	"github.com/NVIDIA/pyxis/pkg/sanitize"
	"github.com/NVIDIA/pyxis/pkg/sharedregion"
)

// StepContext owns everything one step needs across its lifetime: the
// shared state every task of the step mutates, plus this task's own
// namespace handles. One StepContext is created per task process by
// UserInit (post_opt is the standalone PostOpt function that runs before
// it; task_init, task_exit and stepd_exit are the methods on it), and they
// coordinate with every other task's StepContext for the same step purely
// through the SharedRegion.
type StepContext struct {
	Job  *jobinfo.JobInfo
	Node *nodeconfig.Config
	Req  *request.StepRequest

	Container *container.Container
	Region    *sharedregion.Region
	regionPath string

	Env []string // the sanitized env the helper child runs with

	registry *registry.Client
	importer *importer.Driver

	confPath string // ephemeral enroot config script, non-empty while the helper needs it

	reuseNsPid int32 // running container's pid, set only when Container.ReuseNS

	nsHandles nscapture.Handles
	attached  bool
}

// regionDir returns the per-uid scratch directory a step's SharedRegion
// file lives under.
func regionDir(node *nodeconfig.Config, uid uint32) string {
	return fmt.Sprintf("%s/%d", node.RuntimePath, uid)
}

func regionFileName(ji *jobinfo.JobInfo) string {
	return fmt.Sprintf(".shm.%s", ji.IDString())
}

// PostOpt performs the post_opt lifecycle step (spec.md §2/§6): every task
// calls this once, before UserInit, while still privileged. It creates this
// uid's runtime scratch directory and, only when cache mode is requested
// and the target cached rootfs does not already exist (the step is about
// to create one, not reuse a hit), runs the cache's filesystem-pressure-
// gated GC pass so there is room for it. A GC failure is logged, not
// fatal: it is a best-effort space reclaim ahead of an import that may
// well succeed anyway.
func PostOpt(ji *jobinfo.JobInfo, node *nodeconfig.Config, req *request.StepRequest) error {
	dir := regionDir(node, ji.UID)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return &perrors.IOError{Op: "mkdir runtime scratch dir", Err: err}
	}

	cacheOn, ok := req.Cache.Bool()
	if !ok || !cacheOn || node.ContainerCacheDataPath == "" {
		return nil
	}

	userDir, err := cache.PerUserDir(node.ContainerCacheDataPath, ji.UID, ji.GID)
	if err != nil {
		return err
	}
	rootfsDir := userDir + "/" + cache.Name(cache.Key(ji.UID, req.Image))
	if _, err := os.Stat(rootfsDir); err == nil {
		return nil
	}

	if err := cache.GC(node.ContainerCacheDataPath, node.GCHigh, node.GCLow); err != nil {
		log.Warningf("pyxis: cache gc: %v", err)
	}
	return nil
}

// UserInit performs the Init -> Configured transition (spec.md §4.7.1):
// every task calls this once, independently. It creates or attaches the
// step's SharedRegion, resolves the container's identity and reuse flags
// (consulting the registry for named containers), applies the cache-mode
// key override, and computes the sanitized helper environment.
func UserInit(ji *jobinfo.JobInfo, node *nodeconfig.Config, req *request.StepRequest) (*StepContext, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	reg := registry.NewClient(ji.UID, ji.GID, os.Environ())

	effectiveReq := *req
	var cacheDataPath string

	sc := &StepContext{
		Job:      ji,
		Node:     node,
		Req:      &effectiveReq,
		registry: reg,
	}

	if cacheOn, ok := req.Cache.Bool(); ok && cacheOn {
		if node.ContainerCacheDataPath == "" {
			return nil, &perrors.ConfigError{Msg: "--container-cache requires container_cache_data_path to be configured"}
		}
		basename := cache.Key(ji.UID, req.Image)
		userDir, err := cache.PerUserDir(node.ContainerCacheDataPath, ji.UID, ji.GID)
		if err != nil {
			return nil, err
		}
		sc.Container = &container.Container{
			Name:          cache.Name(basename),
			CacheMode:     true,
			CacheDataRoot: node.ContainerCacheDataPath,
			CacheDataPath: userDir,
		}
		cacheDataPath = userDir
	} else {
		present, runningPid, err := lookupNamed(reg, node, ji, req)
		if err != nil {
			return nil, err
		}
		c, err := container.Decide(ji, node, req, present, runningPid > 0)
		if err != nil {
			return nil, err
		}
		sc.Container = c
		sc.reuseNsPid = int32(runningPid)
	}

	if node.ImporterPath != "" {
		sc.importer = importer.NewDriver(node.ImporterPath, ji.UID, ji.GID, os.Environ())
	}

	sc.Env = sanitize.BuildEnv(ji, sanitize.Params{Req: sc.Req, Node: node, CacheDataPath: cacheDataPath})

	// The runtime scratch directory is created by PostOpt, which every
	// task calls before UserInit; by the time UserInit runs it is already
	// in place.
	sc.regionPath = regionDir(node, ji.UID) + "/" + regionFileName(ji)

	region, err := sharedregion.Create(sc.regionPath, int32(ji.LocalTasks))
	if err != nil {
		return nil, err
	}
	sc.Region = region

	return sc, nil
}

// lookupNamed consults the registry for an explicitly-named container
// (job-scope names are qualified before lookup, same as container.Name
// would compute); unnamed containers are always unique to this step and
// never looked up. pid is 0 when not running or not present.
func lookupNamed(reg *registry.Client, node *nodeconfig.Config, ji *jobinfo.JobInfo, req *request.StepRequest) (present bool, pid int, err error) {
	if req.ContainerName.Name == "" {
		return false, 0, nil
	}
	name := container.Name(node.ContainerScope, ji.JobID, ji.StepID, req.ContainerName.Name)
	return reg.Lookup(name)
}

// TaskInit performs Configured -> Imported -> Created -> Started (for the
// first task_init observer only) and then, for every task, the Attached(n)
// transition: capture namespace/cwd fds, import the container's process
// environment, join namespaces, and install the seccomp filter. Must be
// called once per task.
func (sc *StepContext) TaskInit() error {
	if err := sc.Region.Lock(); err != nil {
		if err == sharedregion.ErrRegionDirty {
			log.Warningf("pyxis: shared region for step %s was left dirty by a dead task", sc.Job.IDString())
			_ = sc.Region.Unlock()
		}
		return err
	}

	isFirst := sc.Region.IncrInitTasks()
	var createErr error
	if isFirst {
		createErr = sc.createAndStart()
	}

	if err := sc.Region.Unlock(); err != nil {
		return err
	}
	if createErr != nil {
		return createErr
	}

	return sc.attach()
}

// TaskExit performs the per-task completed_tasks increment and, for the
// terminator, Exited(n) -> Torn: export (if eligible) and filesystem
// cleanup.
func (sc *StepContext) TaskExit() error {
	sc.Container.Close()

	if sc.Container.CacheMode && sc.Container.Lock != nil {
		sc.Container.Lock.Unlock()
		cache.Touch(sc.Container.CacheDataPath + "/" + sc.Container.Name)
	}

	isTerminator := sc.Region.IncrCompletedTasks()
	if !isTerminator {
		return nil
	}

	var errs []error
	if err := sc.export(); err != nil {
		errs = append(errs, err)
	}
	if err := sc.cleanup(); err != nil {
		errs = append(errs, err)
	}
	if sc.importer != nil {
		if err := sc.importer.Release(); err != nil {
			log.Warningf("pyxis: importer release: %v", err)
		}
	}

	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

// StepdExit runs once per step, after every task has reached TaskExit: it
// unmaps and removes the SharedRegion's backing files.
func (sc *StepContext) StepdExit() error {
	return sharedregion.Destroy(sc.Region, sc.regionPath)
}

// cleanup runs only for the completed_tasks terminator: the cache-mode
// shared lock is released per-task in TaskExit itself, since each task
// holds its own, so this only needs to handle the step-local rootfs that
// nobody else will ever reuse.
func (sc *StepContext) cleanup() error {
	if sc.Container.CacheMode {
		return nil
	}
	if !sc.Container.TemporaryRootfs {
		return nil
	}
	argv := helper.NewArgv("enroot").Args("remove", "-f", sc.Container.Name).Build()
	return helper.RunWait(argv, helper.Options{UID: sc.Job.UID, GID: sc.Job.GID, Env: sc.Env})
}

// entrypointOrDefault resolves the entrypoint ternary request option
// against the node's own default, per spec.md §9 (unset defers to node
// config).
func entrypointOrDefault(req *request.StepRequest, node *nodeconfig.Config) bool {
	if v, ok := req.Entrypoint.Bool(); ok {
		return v
	}
	return node.ExecuteEntrypoint
}
