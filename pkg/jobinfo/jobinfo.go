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

// Package jobinfo holds the per-job facts the step manager exposes to the
// plugin, deep-copied out of scheduler-owned memory before first use.
package jobinfo

import (
	"strconv"
	"strings"

	"github.com/mohae/deepcopy"
)

// BatchScriptStepID is the sentinel stepid value a job's batch-script step
// is reported under.
const BatchScriptStepID = "batch-script"

// JobInfo is derived from the step manager's own job record. The scheduler
// may invalidate the memory backing Env at any time after the callback that
// handed it to us returns, so Env here is always an owned copy (see New).
type JobInfo struct {
	UID        uint32
	GID        uint32
	Privileged bool
	JobID      uint32
	StepID     string
	LocalTasks int
	TotalTasks int
	Env        []string
	Argv       []string // the step's own argv; argv[0] matters only for the batch-script step
	Cwd        string
}

// New builds a JobInfo from scheduler-owned fields, taking a defensive deep
// copy of env so later scheduler-side mutation or deallocation cannot race
// with our use of it. allowSuperuser mirrors ENROOT_ALLOW_SUPERUSER.
func New(uid, gid, jobID uint32, stepID string, localTasks, totalTasks int, env []string, argv []string, cwd string, allowSuperuser bool) *JobInfo {
	return &JobInfo{
		UID:        uid,
		GID:        gid,
		Privileged: uid == 0 && allowSuperuser,
		JobID:      jobID,
		StepID:     stepID,
		LocalTasks: localTasks,
		TotalTasks: totalTasks,
		Env:        deepCopyEnv(env),
		Argv:       deepCopyEnv(argv),
		Cwd:        cwd,
	}
}

// deepCopyEnv clones the env slice element-by-element; deepcopy.Copy
// operates generically and is what the teacher depends on for exactly this
// shape of defensive copy (arbitrary owned data originating outside our
// control).
func deepCopyEnv(env []string) []string {
	if env == nil {
		return nil
	}
	copied := deepcopy.Copy(env)
	out, ok := copied.([]string)
	if !ok {
		// Fall back to an explicit element copy; deepcopy.Copy on a
		// []string should never fail this assertion, but task failure
		// must never hinge on a type-switch panic.
		out = make([]string, len(env))
		for i, v := range env {
			out[i] = strings.Clone(v)
		}
	}
	return out
}

// IsBatchScript reports whether this job record is for the batch-script
// step rather than a regular srun step.
func (j *JobInfo) IsBatchScript() bool {
	return j.StepID == BatchScriptStepID
}

// EnvMap renders Env as a lookup map, used by the environment sanitiser.
func (j *JobInfo) EnvMap() map[string]string {
	m := make(map[string]string, len(j.Env))
	for _, kv := range j.Env {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		m[k] = v
	}
	return m
}

// IDString renders "<jobid>.<stepid>", the building block of unnamed
// container names.
func (j *JobInfo) IDString() string {
	return strconv.FormatUint(uint64(j.JobID), 10) + "." + j.StepID
}
