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

// Package importer drives an external importer binary configured via
// NodeConfig.ImporterPath: "get <uri>" to materialize a squashfs, "release"
// at teardown. Both run as the job's uid/gid with a memfd-backed log
// dumped only on error, the same discipline pkg/helper applies to enroot.
package importer

import (
	"strings"

	"github.com/NVIDIA/pyxis/pkg/helper"
	"github.com/NVIDIA/pyxis/pkg/perrors"
)

// Driver runs get/release against one configured importer binary.
type Driver struct {
	Path string
	UID  uint32
	GID  uint32
	Env  []string
}

// NewDriver builds a Driver for path, running as uid/gid with env.
func NewDriver(path string, uid, gid uint32, env []string) *Driver {
	return &Driver{Path: path, UID: uid, GID: gid, Env: env}
}

// Get runs "<path> get <uri>" and returns the single absolute squashfs path
// it prints on stdout. A nonzero exit or empty stdout is an error; on
// error Get itself replays the importer's captured log at error level
// before returning.
func (d *Driver) Get(uri string) (string, error) {
	logFile, err := helper.NewLogFile("pyxis-importer-get")
	if err != nil {
		return "", err
	}
	defer logFile.Close()

	argv := helper.NewArgv(d.Path).Args("get", uri).Build()
	ls, err := helper.RunCapture(argv, helper.Options{UID: d.UID, GID: d.GID, Env: d.Env, Log: logFile})
	if err != nil {
		helper.PrintLog(logFile, true)
		return "", err
	}
	defer ls.Close()

	path, err := firstNonBlankLine(ls)
	if err != nil {
		helper.PrintLog(logFile, true)
		return "", &perrors.SubprocessError{Argv: argv, Err: err}
	}
	return path, nil
}

func firstNonBlankLine(ls *helper.LineStream) (string, error) {
	for ls.Scan() {
		line := strings.TrimSpace(ls.Text())
		if line == "" {
			continue
		}
		return line, nil
	}
	if err := ls.Err(); err != nil {
		return "", err
	}
	return "", errEmptyOutput
}

var errEmptyOutput = errImporterError("importer produced no output")

type errImporterError string

func (e errImporterError) Error() string { return string(e) }

// Release runs "<path> release" at step teardown, best-effort: callers
// should log a nonzero return but never treat it as fatal, per
// spec.md §4.7.1's "best-effort importer release".
func (d *Driver) Release() error {
	logFile, err := helper.NewLogFile("pyxis-importer-release")
	if err != nil {
		return err
	}
	defer logFile.Close()

	argv := helper.NewArgv(d.Path).Arg("release").Build()
	if err := helper.RunWait(argv, helper.Options{UID: d.UID, GID: d.GID, Env: d.Env, Log: logFile}); err != nil {
		helper.PrintLog(logFile, true)
		return err
	}
	return nil
}
