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

package container

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/NVIDIA/pyxis/pkg/jobinfo"
	"github.com/NVIDIA/pyxis/pkg/nodeconfig"
	"github.com/NVIDIA/pyxis/pkg/request"
)

func TestNameNamedJobScope(t *testing.T) {
	require.Equal(t, "pyxis_123_foo", Name(nodeconfig.ScopeJob, 123, "0", "foo"))
}

func TestNameNamedGlobalScope(t *testing.T) {
	require.Equal(t, "pyxis_foo", Name(nodeconfig.ScopeGlobal, 123, "0", "foo"))
}

func TestNameUnnamedJobScope(t *testing.T) {
	require.Equal(t, "pyxis_123_123.0", Name(nodeconfig.ScopeJob, 123, "0", ""))
}

func TestNameUnnamedGlobalScope(t *testing.T) {
	require.Equal(t, "pyxis_123.0", Name(nodeconfig.ScopeGlobal, 123, "0", ""))
}

func newJobInfo() *jobinfo.JobInfo {
	return jobinfo.New(1000, 1000, 123, "0", 1, 1, nil, nil, "/home/user", false)
}

func TestDecideUnnamedIsTemporary(t *testing.T) {
	ji := newJobInfo()
	node := nodeconfig.Default()
	req := &request.StepRequest{}

	c, err := Decide(ji, node, req, false, false)
	require.NoError(t, err)
	require.True(t, c.TemporaryRootfs)
	require.False(t, c.ReuseRootfs)
}

func TestDecideModeCreateExistsFails(t *testing.T) {
	ji := newJobInfo()
	node := nodeconfig.Default()
	req := &request.StepRequest{ContainerName: request.ContainerName{Name: "foo", Mode: request.ModeCreate}}

	_, err := Decide(ji, node, req, true, false)
	require.Error(t, err)
}

func TestDecideModeExecNotRunningFails(t *testing.T) {
	ji := newJobInfo()
	node := nodeconfig.Default()
	req := &request.StepRequest{ContainerName: request.ContainerName{Name: "foo", Mode: request.ModeExec}}

	_, err := Decide(ji, node, req, true, false)
	require.Error(t, err)
}

func TestDecideModeExecRunningReusesNS(t *testing.T) {
	ji := newJobInfo()
	node := nodeconfig.Default()
	req := &request.StepRequest{ContainerName: request.ContainerName{Name: "foo", Mode: request.ModeExec}}

	c, err := Decide(ji, node, req, true, true)
	require.NoError(t, err)
	require.True(t, c.ReuseRootfs)
	require.True(t, c.ReuseNS)
}

func TestDecideModeNoExecRunningForcesNoReuseNS(t *testing.T) {
	ji := newJobInfo()
	node := nodeconfig.Default()
	req := &request.StepRequest{ContainerName: request.ContainerName{Name: "foo", Mode: request.ModeNoExec}}

	c, err := Decide(ji, node, req, true, true)
	require.NoError(t, err)
	require.True(t, c.ReuseRootfs)
	require.False(t, c.ReuseNS)
}

func TestDecideModeAutoNotPresentCreatesFresh(t *testing.T) {
	ji := newJobInfo()
	node := nodeconfig.Default()
	req := &request.StepRequest{ContainerName: request.ContainerName{Name: "foo", Mode: request.ModeAuto}}

	c, err := Decide(ji, node, req, false, false)
	require.NoError(t, err)
	require.False(t, c.ReuseRootfs)
	require.False(t, c.ReuseNS)
}

func TestCloseToleratesZeroFds(t *testing.T) {
	c := &Container{}
	c.Close() // must not panic on unset (zero-value) descriptors
}
