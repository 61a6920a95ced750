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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/NVIDIA/pyxis/pkg/nodeconfig"
	"github.com/NVIDIA/pyxis/pkg/request"
	"github.com/NVIDIA/pyxis/pkg/ternary"
)

func TestEntrypointOrDefaultUsesRequestWhenSet(t *testing.T) {
	req := &request.StepRequest{Entrypoint: ternary.False}
	node := &nodeconfig.Config{ExecuteEntrypoint: true}
	require.False(t, entrypointOrDefault(req, node))
}

func TestEntrypointOrDefaultFallsBackToNode(t *testing.T) {
	req := &request.StepRequest{}
	node := &nodeconfig.Config{ExecuteEntrypoint: false}
	require.False(t, entrypointOrDefault(req, node))

	node.ExecuteEntrypoint = true
	require.True(t, entrypointOrDefault(req, node))
}

func TestResolveSavePathAbsoluteVerbatim(t *testing.T) {
	got, err := resolveSavePath("/tmp/out.sqsh", "")
	require.NoError(t, err)
	require.Equal(t, "/tmp/out.sqsh", got)
}

func TestResolveSavePathRelativePrefixedWithCwd(t *testing.T) {
	got, err := resolveSavePath("out.sqsh", "/home/user")
	require.NoError(t, err)
	require.Equal(t, "/home/user/out.sqsh", got)
}

func TestResolveSavePathRelativeWithoutCwdFails(t *testing.T) {
	_, err := resolveSavePath("out.sqsh", "")
	require.Error(t, err)
}

func TestIsDockerd(t *testing.T) {
	require.True(t, isDockerd("dockerd://local/image"))
	require.False(t, isDockerd("docker://alpine"))
}

func TestParseProcEnvironSplitsPairs(t *testing.T) {
	data := []byte("HOME=/root\x00TERM=xterm\x00")
	got := parseProcEnviron(data)
	require.Equal(t, []string{"HOME=/root", "TERM=xterm"}, got)
}

func TestParseProcEnvironToleratesMissingTrailingNUL(t *testing.T) {
	data := []byte("HOME=/root\x00TERM=xterm")
	got := parseProcEnviron(data)
	require.Equal(t, []string{"HOME=/root", "TERM=xterm"}, got)
}

func TestParseProcEnvironSkipsEmptyFields(t *testing.T) {
	data := []byte("HOME=/root\x00\x00TERM=xterm\x00")
	got := parseProcEnviron(data)
	require.Equal(t, []string{"HOME=/root", "TERM=xterm"}, got)
}

func TestRegionDirAndFileName(t *testing.T) {
	node := &nodeconfig.Config{RuntimePath: "/run/pyxis"}
	require.Equal(t, "/run/pyxis/1000", regionDir(node, 1000))
}

func TestSbatchScriptMount(t *testing.T) {
	m := sbatchScriptMount("/var/spool/slurmd/job123/script")
	require.Equal(t, "/var/spool/slurmd/job123/script", m.Src)
	require.Equal(t, "/var/spool/slurmd/job123/script", m.Dst)
	require.Equal(t,
		"/var/spool/slurmd/job123/script /var/spool/slurmd/job123/script x-create=file,bind,ro,nosuid,nodev,private",
		m.ConfigEntry(),
	)
}
