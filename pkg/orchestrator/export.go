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
	"path/filepath"

	"github.com/NVIDIA/pyxis/pkg/helper"
	"github.com/NVIDIA/pyxis/pkg/perrors"
)

// export resolves --container-save's target and runs "enroot export", per
// spec.md §4.7.2. It is a no-op, not an error, when no save path was
// requested or when the step never fully attached (started_tasks <
// local_task_count means some task aborted before reaching Attached).
func (sc *StepContext) export() error {
	if sc.Req.SavePath == "" {
		return nil
	}
	if sc.Region.StartedTasks() != sc.Region.LocalTasks() {
		return nil
	}

	resolved, err := resolveSavePath(sc.Req.SavePath, sc.Job.Cwd)
	if err != nil {
		return err
	}
	sc.Container.SavePath = resolved

	argv := helper.NewArgv("enroot").Args("export", "-f", "-o", resolved, sc.Container.Name).Build()
	return helper.RunWait(argv, helper.Options{UID: sc.Job.UID, GID: sc.Job.GID, Env: sc.Env})
}

// resolveSavePath renders savePath as an absolute path: verbatim if already
// absolute, otherwise prefixed with cwd (which must be non-empty).
func resolveSavePath(savePath, cwd string) (string, error) {
	if filepath.IsAbs(savePath) {
		return savePath, nil
	}
	if cwd == "" {
		return "", &perrors.ConfigError{Msg: "--container-save with a relative path requires a known job working directory"}
	}
	return filepath.Join(cwd, savePath), nil
}
