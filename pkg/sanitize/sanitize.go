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

// Package sanitize translates a StepRequest/NodeConfig pair into the
// environment the runtime helper child should run with: PATH kept, the
// deny-listed scheduler-internal variables stripped, ternary options mapped
// to ENROOT_* variables, and the pyxis identity variables appended last.
package sanitize

import (
	"fmt"
	"os"

	"github.com/NVIDIA/pyxis/pkg/jobinfo"
	"github.com/NVIDIA/pyxis/pkg/nodeconfig"
	"github.com/NVIDIA/pyxis/pkg/pyxisversion"
	"github.com/NVIDIA/pyxis/pkg/request"
	"github.com/NVIDIA/pyxis/pkg/ternary"
)

// denyList is never imported from the job environment into the helper's,
// per spec.md §4.2 step 2.
var denyList = map[string]bool{
	"PATH":                    true,
	"LD_LIBRARY_PATH":         true,
	"LD_PRELOAD":              true,
	"SLURM_PROCID":            true,
	"SLURM_LOCALID":           true,
	"SLURM_TASK_PID":          true,
	"PMIX_RANK":               true,
	"PMI_FD":                  true,
	"ENROOT_LIBRARY_PATH":     true,
	"ENROOT_SYSCONF_PATH":     true,
	"ENROOT_RUNTIME_PATH":     true,
	"ENROOT_CACHE_PATH":       true,
	"ENROOT_DATA_PATH":        true,
	"ENROOT_TEMP_PATH":        true,
	"ENROOT_ZSTD_OPTIONS":     true,
	"ENROOT_TRANSFER_RETRIES": true,
	"ENROOT_CONNECT_TIMEOUT":  true,
	"ENROOT_MAX_CONNECTIONS":  true,
	"ENROOT_ALLOW_HTTP":       true,
}

// Params bundles everything BuildEnv needs beyond the job environment
// itself.
type Params struct {
	Req           *request.StepRequest
	Node          *nodeconfig.Config
	CacheDataPath string // set only when cache-mode is in effect
}

// BuildEnv computes the full environment for the helper child, in the
// exact order original_source/pyxis_slurmstepd.c uses: PATH first, then
// the job's own env (deny-listed keys dropped), then the ternary-derived
// ENROOT_* variables, then the cache override, then the pyxis identity
// variables last.
func BuildEnv(ji *jobinfo.JobInfo, p Params) []string {
	var env []string

	if path, ok := currentPath(); ok {
		env = append(env, "PATH="+path)
	}

	for _, kv := range ji.Env {
		key, _, ok := splitKV(kv)
		if !ok || denyList[key] {
			continue
		}
		env = append(env, kv)
	}

	env = appendTernary(env, "ENROOT_MOUNT_HOME", p.Req.MountHome)
	env = appendTernary(env, "ENROOT_REMAP_ROOT", p.Req.RemapRoot)
	env = appendTernary(env, "ENROOT_ROOTFS_WRITABLE", p.Req.Writable)

	if p.CacheDataPath != "" {
		env = append(env, "ENROOT_DATA_PATH="+p.CacheDataPath)
	}

	env = append(env,
		"PYXIS_RUNTIME_PATH="+p.Node.RuntimePath,
		"PYXIS_VERSION="+pyxisversion.Version,
	)

	return env
}

func appendTernary(env []string, key string, v ternary.Value) []string {
	if !v.IsSet() {
		return env
	}
	return append(env, fmt.Sprintf("%s=%s", key, v.YN()))
}

func currentPath() (string, bool) {
	v, ok := os.LookupEnv("PATH")
	return v, ok
}

func splitKV(kv string) (key, value string, ok bool) {
	for i := 0; i < len(kv); i++ {
		if kv[i] == '=' {
			return kv[:i], kv[i+1:], true
		}
	}
	return "", "", false
}
