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

// Package epilog implements the job epilog container sweeper (spec.md
// §4.10): it runs once per job, outside any step, as root, and removes
// every named container the job left behind.
package epilog

import (
	"fmt"
	"os"
	"regexp"
	"strconv"

	"github.com/cenkalti/backoff"
	"github.com/hashicorp/go-multierror"

	"github.com/NVIDIA/pyxis/pkg/helper"
	"github.com/NVIDIA/pyxis/pkg/nodeconfig"
	"github.com/NVIDIA/pyxis/pkg/registry"
)

const defaultPath = "/usr/local/bin:/usr/bin:/bin"

var jobContainerRE = regexp.MustCompile(`^pyxis_(\d+)_\S+$`)

// RepairEnv prepares the epilog process's own environment: the node-daemon
// context hands this callback a minimal, untrustworthy environment. PATH is
// given a sane default only if unset (never overridden), and HOME is always
// cleared so enroot doesn't pick up a stale job HOME.
func RepairEnv() {
	if _, ok := os.LookupEnv("PATH"); !ok {
		os.Setenv("PATH", defaultPath)
	}
	os.Unsetenv("HOME")
}

// matchesJob reports whether name is exactly "pyxis_<jobID>_<anything>",
// the full-name match spec.md §4.10 step 3 requires.
func matchesJob(name string, jobID uint32) bool {
	m := jobContainerRE.FindStringSubmatch(name)
	if m == nil {
		return false
	}
	id, err := strconv.ParseUint(m[1], 10, 32)
	return err == nil && uint32(id) == jobID
}

// Sweep removes every container belonging to jobID, per spec.md §4.10. It
// is a no-op outside job-scoped naming: global-scope containers outlive the
// job on purpose and the epilog must never touch them.
func Sweep(reg *registry.Client, node *nodeconfig.Config, jobID uint32) error {
	RepairEnv()

	if node.ContainerScope != nodeconfig.ScopeJob {
		return nil
	}

	entries, err := reg.List()
	if err != nil {
		return fmt.Errorf("epilog: listing containers for job %d: %w", jobID, err)
	}

	var anyFailed bool
	for _, e := range entries {
		if !matchesJob(e.Name, jobID) {
			continue
		}
		if err := removeContainer(reg, e.Name); err != nil {
			anyFailed = true
		}
	}

	if !anyFailed {
		return nil
	}

	// A removal failed; re-list and report whatever still matches. A clean
	// second listing means the failure was transient and the container is
	// actually gone.
	return reportLeftovers(reg, jobID)
}

// removeContainer runs "enroot remove -f", retrying once: enroot can fail
// transiently against a container another process is still tearing down.
func removeContainer(reg *registry.Client, name string) error {
	argv := helper.NewArgv("enroot").Args("remove", "-f", name).Build()
	opts := helper.Options{UID: reg.UID, GID: reg.GID, Env: reg.Env}

	op := func() error { return helper.RunWait(argv, opts) }
	return backoff.Retry(op, backoff.WithMaxRetries(backoff.NewConstantBackOff(0), 1))
}

func reportLeftovers(reg *registry.Client, jobID uint32) error {
	entries, err := reg.List()
	if err != nil {
		return fmt.Errorf("epilog: re-listing containers for job %d: %w", jobID, err)
	}

	var leftover *multierror.Error
	for _, e := range entries {
		if matchesJob(e.Name, jobID) {
			leftover = multierror.Append(leftover, fmt.Errorf("container %s was not removed", e.Name))
		}
	}
	return leftover.ErrorOrNil()
}
