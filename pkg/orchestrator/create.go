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
	"os"

	"github.com/NVIDIA/pyxis/pkg/container"
	"github.com/NVIDIA/pyxis/pkg/enrootconf"
	"github.com/NVIDIA/pyxis/pkg/helper"
	"github.com/NVIDIA/pyxis/pkg/log"
	"github.com/NVIDIA/pyxis/pkg/perrors"
	"github.com/NVIDIA/pyxis/pkg/request"
	"github.com/NVIDIA/pyxis/pkg/sharedregion"
)

// createAndStart runs under the SharedRegion mutex, as the first
// init_tasks observer: it imports the rootfs (unless reused), starts the
// stopped helper child, and publishes helper_pid/ns_pid. Per spec.md
// §4.7.1.
func (sc *StepContext) createAndStart() error {
	if sc.Container.ReuseRootfs && sc.Container.ReuseNS {
		// No helper is started: the namespaces already live under the
		// running container's own pid. helper_pid stays NoPid so the
		// started_tasks terminator knows there is nothing to SIGCONT.
		sc.Region.PublishHelperStart(sharedregion.NoPid, sc.reuseNsPid)
		return nil
	}

	if !sc.Container.ReuseRootfs {
		if err := sc.importRootfs(); err != nil {
			return err
		}
	}

	// The shared cache lock is not taken here: it must be held by each task
	// for as long as that task is attached, not just by the one task that
	// happens to create the rootfs (see attach()), since a flock is
	// released when its owning process exits and the creator's process may
	// finish well before its siblings are done using the rootfs.

	return sc.start()
}

// importRootfs chooses and runs the configured import method, per the
// priority order spec.md §4.7.1 step 1 specifies: external importer, then
// enroot load, then enroot import + enroot create.
func (sc *StepContext) importRootfs() error {
	uri := request.HelperURI(sc.Req.Image)

	switch {
	case sc.importer != nil:
		path, err := sc.importer.Get(uri)
		if err != nil {
			return err
		}
		sc.Container.SquashfsPath = path
		sc.Container.Method = container.ImportExternal
		return sc.createFromSquashfs(path)

	case sc.Node.UseEnrootLoad && !isDockerd(uri):
		sc.Container.Method = container.ImportEnrootLoad
		argv := helper.NewArgv("enroot").Args("load", "--name", sc.Container.Name, uri).Build()
		return helper.RunWait(argv, helper.Options{UID: sc.Job.UID, GID: sc.Job.GID, Env: sc.Env})

	default:
		sc.Container.Method = container.ImportEnrootImport
		squashfsPath := fmt.Sprintf("%s/%d/%s.squashfs", sc.Node.RuntimePath, sc.Job.UID, sc.Job.IDString())
		argv := helper.NewArgv("enroot").Args("import", "--output", squashfsPath, uri).Build()
		if err := helper.RunWait(argv, helper.Options{UID: sc.Job.UID, GID: sc.Job.GID, Env: sc.Env}); err != nil {
			unlinkSquashfs(squashfsPath)
			return err
		}
		sc.Container.SquashfsPath = squashfsPath
		return sc.createFromSquashfs(squashfsPath)
	}
}

func isDockerd(uri string) bool {
	const prefix = "dockerd://"
	return len(uri) >= len(prefix) && uri[:len(prefix)] == prefix
}

// sbatchScriptMount builds the read-only bind mount of the node-local copy
// of the submitted batch script into itself, per spec.md §4.7.4.
func sbatchScriptMount(scriptPath string) request.Mount {
	return request.Mount{
		Src: scriptPath,
		Dst: scriptPath,
		Raw: "x-create=file,bind,ro,nosuid,nodev,private",
	}
}

// createFromSquashfs runs "enroot create" and always unlinks the
// intermediate squashfs afterward (success or failure), per spec.md §9's
// "implement the conservative union" resolution.
func (sc *StepContext) createFromSquashfs(squashfsPath string) error {
	argv := helper.NewArgv("enroot").Args("create", "--name", sc.Container.Name, squashfsPath).Build()
	runErr := helper.RunWait(argv, helper.Options{UID: sc.Job.UID, GID: sc.Job.GID, Env: sc.Env})
	unlinkSquashfs(squashfsPath)
	return runErr
}

func unlinkSquashfs(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil {
		log.Debugf("pyxis: removing intermediate squashfs %s: %v", path, err)
	}
}

// start emits the config script, execs "enroot start ... kill -STOP $$",
// and publishes helper_pid/ns_pid once the helper reports itself stopped.
func (sc *StepContext) start() error {
	mounts := sc.Req.Mounts
	if sc.Node.SbatchSupport && sc.Job.IsBatchScript() && len(sc.Job.Argv) > 0 {
		mounts = append(append([]request.Mount{}, mounts...), sbatchScriptMount(sc.Job.Argv[0]))
	}

	executeEntrypoint := entrypointOrDefault(sc.Req, sc.Node)
	confPath, err := enrootconf.Write(mounts, executeEntrypoint, sc.Req.EnvVars, sc.Job.UID)
	if err != nil {
		return err
	}
	sc.confPath = confPath

	argv := helper.NewArgv("enroot").
		Args("start", "--conf", confPath, sc.Container.Name, "sh", "-c", "kill -STOP $$ ; exit 0").
		Build()

	proc, err := helper.StartStoppable(argv, helper.Options{UID: sc.Job.UID, GID: sc.Job.GID, Env: sc.Env})
	if err != nil {
		return err
	}

	result, waitErr := helper.WaitStopped(proc.Pid)

	// The helper has already read the config by the time it either stops
	// or exits; nothing references confPath past this point.
	if remErr := enrootconf.Remove(sc.confPath); remErr != nil {
		log.Debugf("pyxis: removing enroot config %s: %v", sc.confPath, remErr)
	}
	sc.confPath = ""

	switch result {
	case helper.StopResultStopped:
		sc.Region.PublishHelperStart(int32(proc.Pid), int32(proc.Pid))
		return nil
	case helper.StopResultExitedTooSoon:
		return &perrors.SubprocessError{Argv: argv, Err: fmt.Errorf("container exited too soon (unusual entrypoint?)")}
	default:
		return &perrors.SubprocessError{Argv: argv, Err: waitErr}
	}
}
