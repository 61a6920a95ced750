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

package importer

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/NVIDIA/pyxis/pkg/helper"
)

func currentUIDGID(t *testing.T) (uint32, uint32) {
	t.Helper()
	return uint32(os.Getuid()), uint32(os.Getgid())
}

func TestGetReturnsFirstLineOfStdout(t *testing.T) {
	uid, gid := currentUIDGID(t)

	// Get's contract is "first non-blank stdout line, else error"; exercised
	// directly via RunCapture/firstNonBlankLine since there's no real
	// importer binary available in this environment.
	ls, err := helper.RunCapture(
		helper.NewArgv("sh").Args("-c", "echo /tmp/imported.squashfs").Build(),
		helper.Options{UID: uid, GID: gid, Env: os.Environ()},
	)
	require.NoError(t, err)
	defer ls.Close()

	path, err := firstNonBlankLine(ls)
	require.NoError(t, err)
	require.Equal(t, "/tmp/imported.squashfs", path)
}

func TestFirstNonBlankLineSkipsBlanks(t *testing.T) {
	uid, gid := currentUIDGID(t)
	ls, err := helper.RunCapture(
		helper.NewArgv("sh").Args("-c", "echo; echo; echo /path").Build(),
		helper.Options{UID: uid, GID: gid, Env: os.Environ()},
	)
	require.NoError(t, err)
	defer ls.Close()

	path, err := firstNonBlankLine(ls)
	require.NoError(t, err)
	require.Equal(t, "/path", path)
}

func TestFirstNonBlankLineEmptyOutputFails(t *testing.T) {
	uid, gid := currentUIDGID(t)
	ls, err := helper.RunCapture(
		helper.NewArgv("sh").Args("-c", "true").Build(),
		helper.Options{UID: uid, GID: gid, Env: os.Environ()},
	)
	require.NoError(t, err)
	defer ls.Close()

	_, err = firstNonBlankLine(ls)
	require.Error(t, err)
}

func TestReleaseSuccess(t *testing.T) {
	uid, gid := currentUIDGID(t)
	d := NewDriver("true", uid, gid, os.Environ())
	require.NoError(t, d.Release())
}

func TestReleaseFailurePropagates(t *testing.T) {
	uid, gid := currentUIDGID(t)
	d := NewDriver("false", uid, gid, os.Environ())
	require.Error(t, d.Release())
}
