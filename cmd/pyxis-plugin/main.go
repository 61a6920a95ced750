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

// Command pyxis-plugin is the CLI surface over pkg/orchestrator. A real
// deployment drives UserInit/TaskInit/TaskExit/StepdExit from four
// separate callback invocations made by the step manager itself, one set
// per task process, coordinated only through the SharedRegion file on
// disk; that scheduler-side calling convention is out of scope (spec.md
// §1). The "run" subcommand below instead drives the whole per-step
// lifecycle for every local task from a single process, to exercise the
// orchestrator end-to-end without a real scheduler attached.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"

	"github.com/NVIDIA/pyxis/pkg/jobinfo"
	"github.com/NVIDIA/pyxis/pkg/log"
	"github.com/NVIDIA/pyxis/pkg/nodeconfig"
	"github.com/NVIDIA/pyxis/pkg/orchestrator"
	"github.com/NVIDIA/pyxis/pkg/registry"
	"github.com/NVIDIA/pyxis/pkg/request"
	"github.com/NVIDIA/pyxis/pkg/ternary"
)

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(&runCmd{}, "")
	subcommands.Register(&listCmd{}, "")

	flag.Parse()
	os.Exit(int(subcommands.Execute(context.Background())))
}

func loadNodeConfig(path string) (*nodeconfig.Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return nodeconfig.Parse(f)
}

func parseTernaryFlag(s string) (ternary.Value, error) {
	switch s {
	case "":
		return ternary.Unset, nil
	case "y", "yes", "true", "1":
		return ternary.True, nil
	case "n", "no", "false", "0":
		return ternary.False, nil
	default:
		return ternary.Unset, fmt.Errorf("expected y/n, got %q", s)
	}
}

// runCmd implements subcommands.Command for "run".
type runCmd struct {
	nodeConfigPath string
	jobID          uint
	stepID         string
	uid            uint
	gid            uint
	localTasks     int
	totalTasks     int
	cwd            string
	allowSuperuser bool

	image         string
	mounts        string
	workdir       string
	containerName string
	savePath      string
	mountHome     string
	remapRoot     string
	entrypoint    string
	writable      string
	cache         string
	entrypointLog bool
	preserveEnv   string
}

func (*runCmd) Name() string     { return "run" }
func (*runCmd) Synopsis() string { return "drive a full step lifecycle for every local task" }
func (*runCmd) Usage() string {
	return "run [flags] - import/create/start the container, attach every local task, tear down\n"
}

func (c *runCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.nodeConfigPath, "node-config", "", "path to the node's plugin configuration file (required)")
	f.UintVar(&c.jobID, "job-id", 0, "scheduler job ID")
	f.StringVar(&c.stepID, "step-id", "0", "scheduler step ID")
	f.UintVar(&c.uid, "uid", 0, "job uid")
	f.UintVar(&c.gid, "gid", 0, "job gid")
	f.IntVar(&c.localTasks, "local-tasks", 1, "number of local tasks of this step on this node")
	f.IntVar(&c.totalTasks, "total-tasks", 1, "total number of tasks across the whole step")
	f.StringVar(&c.cwd, "cwd", "", "job working directory, used to resolve a relative --container-save")
	f.BoolVar(&c.allowSuperuser, "allow-superuser", false, "honor ENROOT_ALLOW_SUPERUSER semantics for uid 0")

	f.StringVar(&c.image, "container-image", "", "image URI or local squashfs path")
	f.StringVar(&c.mounts, "container-mounts", "", "comma-separated src:dst[:flags] list")
	f.StringVar(&c.workdir, "container-workdir", "", "working directory inside the container")
	f.StringVar(&c.containerName, "container-name", "", "name[:mode] for a persistent container")
	f.StringVar(&c.savePath, "container-save", "", "export the final rootfs to this path")
	f.StringVar(&c.mountHome, "container-mount-home", "", "y/n, unset defers to node default")
	f.StringVar(&c.remapRoot, "container-remap-root", "", "y/n, unset defers to node default")
	f.StringVar(&c.entrypoint, "container-entrypoint", "", "y/n, unset defers to node default")
	f.StringVar(&c.writable, "container-writable", "", "y/n, unset defers to node default")
	f.StringVar(&c.cache, "container-cache", "", "y/n, enable content-addressed local cache")
	f.BoolVar(&c.entrypointLog, "container-entrypoint-log", false, "log the container entrypoint's output")
	f.StringVar(&c.preserveEnv, "container-env", "", "comma-separated host env var names to pass through")
}

func (c *runCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	if c.nodeConfigPath == "" {
		fmt.Fprintln(os.Stderr, "pyxis-plugin: -node-config is required")
		return subcommands.ExitUsageError
	}

	node, err := loadNodeConfig(c.nodeConfigPath)
	if err != nil {
		log.Errorf("pyxis-plugin: loading node config: %v", err)
		return subcommands.ExitFailure
	}

	req, err := c.buildRequest()
	if err != nil {
		log.Errorf("pyxis-plugin: %v", err)
		return subcommands.ExitUsageError
	}

	if err := c.run(node, req); err != nil {
		log.Errorf("pyxis-plugin: %v", err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

func (c *runCmd) buildRequest() (*request.StepRequest, error) {
	mounts, err := request.ParseMountSpec(c.mounts)
	if err != nil {
		return nil, err
	}
	name, err := request.ParseContainerName(c.containerName)
	if err != nil {
		return nil, err
	}

	mountHome, err := parseTernaryFlag(c.mountHome)
	if err != nil {
		return nil, err
	}
	remapRoot, err := parseTernaryFlag(c.remapRoot)
	if err != nil {
		return nil, err
	}
	entrypoint, err := parseTernaryFlag(c.entrypoint)
	if err != nil {
		return nil, err
	}
	writable, err := parseTernaryFlag(c.writable)
	if err != nil {
		return nil, err
	}
	cache, err := parseTernaryFlag(c.cache)
	if err != nil {
		return nil, err
	}

	var envVars []string
	if c.preserveEnv != "" {
		envVars = splitNonEmpty(c.preserveEnv)
	}

	req := &request.StepRequest{
		Image:         c.image,
		Mounts:        mounts,
		Workdir:       c.workdir,
		ContainerName: name,
		SavePath:      c.savePath,
		MountHome:     mountHome,
		RemapRoot:     remapRoot,
		Entrypoint:    entrypoint,
		Writable:      writable,
		Cache:         cache,
		EntrypointLog: c.entrypointLog,
		EnvVars:       envVars,
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return req, nil
}

func splitNonEmpty(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}

// run builds one JobInfo/StepContext per local task and drives them
// through PostOpt, UserInit, TaskInit (all), TaskExit (all), then a single
// StepdExit, mirroring the ordering guarantees spec.md §5 describes.
func (c *runCmd) run(node *nodeconfig.Config, req *request.StepRequest) error {
	contexts := make([]*orchestrator.StepContext, c.localTasks)
	for i := 0; i < c.localTasks; i++ {
		ji := jobinfo.New(
			uint32(c.uid), uint32(c.gid), uint32(c.jobID), c.stepID,
			c.localTasks, c.totalTasks, os.Environ(), nil, c.cwd, c.allowSuperuser,
		)
		if err := orchestrator.PostOpt(ji, node, req); err != nil {
			return fmt.Errorf("post_opt (task %d): %w", i, err)
		}
		sc, err := orchestrator.UserInit(ji, node, req)
		if err != nil {
			return fmt.Errorf("user_init (task %d): %w", i, err)
		}
		contexts[i] = sc
	}

	for i, sc := range contexts {
		if err := sc.TaskInit(); err != nil {
			return fmt.Errorf("task_init (task %d): %w", i, err)
		}
	}
	for i, sc := range contexts {
		if err := sc.TaskExit(); err != nil {
			return fmt.Errorf("task_exit (task %d): %w", i, err)
		}
	}
	if len(contexts) > 0 {
		if err := contexts[0].StepdExit(); err != nil {
			return fmt.Errorf("stepd_exit: %w", err)
		}
	}
	return nil
}

// listCmd implements subcommands.Command for "list", a thin diagnostic
// wrapper over the registry client.
type listCmd struct {
	uid uint
	gid uint
}

func (*listCmd) Name() string             { return "list" }
func (*listCmd) Synopsis() string         { return "list containers visible to a uid/gid" }
func (*listCmd) Usage() string            { return "list -uid=<uid> -gid=<gid>\n" }
func (c *listCmd) SetFlags(f *flag.FlagSet) {
	f.UintVar(&c.uid, "uid", 0, "uid to run the helper as")
	f.UintVar(&c.gid, "gid", 0, "gid to run the helper as")
}

func (c *listCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	client := registry.NewClient(uint32(c.uid), uint32(c.gid), os.Environ())
	entries, err := client.List()
	if err != nil {
		log.Errorf("pyxis-plugin: %v", err)
		return subcommands.ExitFailure
	}
	for _, e := range entries {
		fmt.Printf("%s\t%d\n", e.Name, e.Pid)
	}
	return subcommands.ExitSuccess
}
