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
	"strings"
)

// denyListedOnImport is unset from the task's own environment before the
// container's environ is imported over it, unless the user explicitly
// asked to preserve it, per spec.md §4.7.3.
var denyListedOnImport = map[string]bool{
	"LANG":     true,
	"LANGUAGE": true,
	"LC_ALL":   true,
}

// parseProcEnviron splits a /proc/<pid>/environ capture into "K=V" pairs.
// The buffer is NUL-separated; a missing trailing NUL (the process having
// been read mid-exit) is tolerated by treating the final fragment as a pair
// too, provided it actually contains a "=".
func parseProcEnviron(data []byte) []string {
	if len(data) > 0 && data[len(data)-1] != 0 {
		data = append(data, 0)
	}

	var out []string
	for _, field := range strings.Split(string(data), "\x00") {
		if field == "" {
			continue
		}
		if strings.Contains(field, "=") {
			out = append(out, field)
		}
	}
	return out
}

// importContainerEnviron reads a helper process's environ and applies it to
// the calling task's own process environment: deny-listed keys are cleared
// first unless explicitly preserved, then every pair is set, last
// assignment for a given key winning (matching /proc/<pid>/environ's own
// ordering, since setenv with overwrite semantics is what the task env
// ultimately reflects).
func importContainerEnviron(helperPid int, preserve []string) error {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/environ", helperPid))
	if err != nil {
		return fmt.Errorf("orchestrator: reading helper environ: %w", err)
	}

	preserved := make(map[string]bool, len(preserve))
	for _, k := range preserve {
		preserved[k] = true
	}

	for key := range denyListedOnImport {
		if !preserved[key] {
			os.Unsetenv(key)
		}
	}

	for _, kv := range parseProcEnviron(data) {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		if err := os.Setenv(key, value); err != nil {
			return fmt.Errorf("orchestrator: setenv %q: %w", key, err)
		}
	}
	return nil
}

// pytorchRemapList mirrors the variable pairs original_source/pyxis_slurmstepd.c's
// pytorch_setup copies, so that torch.distributed's rank discovery (which never
// talks to an MPI launcher) still works per-task under pyxis.
var pytorchRemapList = [][2]string{
	{"SLURM_PROCID", "RANK"},
	{"SLURM_LOCALID", "LOCAL_RANK"},
}

// remapPytorchEnv copies the scheduler's own rank variables to the names
// PyTorch's distributed launcher expects, only when the task env already
// shows PYTORCH_VERSION (the signal the image sets to ask for it).
func remapPytorchEnv() {
	if _, ok := os.LookupEnv("PYTORCH_VERSION"); !ok {
		return
	}
	for _, pair := range pytorchRemapList {
		if v, ok := os.LookupEnv(pair[0]); ok {
			os.Setenv(pair[1], v)
		}
	}
}
