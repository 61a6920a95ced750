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

package sanitize

import (
	"os"
	"strings"
	"testing"

	"github.com/NVIDIA/pyxis/pkg/jobinfo"
	"github.com/NVIDIA/pyxis/pkg/nodeconfig"
	"github.com/NVIDIA/pyxis/pkg/request"
	"github.com/NVIDIA/pyxis/pkg/ternary"
	"github.com/stretchr/testify/require"
)

func hasKey(env []string, key string) (string, bool) {
	prefix := key + "="
	for _, kv := range env {
		if strings.HasPrefix(kv, prefix) {
			return strings.TrimPrefix(kv, prefix), true
		}
	}
	return "", false
}

func TestBuildEnvStripsDenyList(t *testing.T) {
	os.Setenv("PATH", "/usr/bin:/bin")
	ji := jobinfo.New(1000, 1000, 1, "0", 1, 1, []string{
		"FOO=bar",
		"SLURM_PROCID=0",
		"LD_PRELOAD=/evil.so",
	}, nil, "", false)

	env := BuildEnv(ji, Params{Req: &request.StepRequest{}, Node: &nodeconfig.Config{RuntimePath: "/run/pyxis"}})

	_, hasProcID := hasKey(env, "SLURM_PROCID")
	require.False(t, hasProcID)
	_, hasPreload := hasKey(env, "LD_PRELOAD")
	require.False(t, hasPreload)
	v, ok := hasKey(env, "FOO")
	require.True(t, ok)
	require.Equal(t, "bar", v)
}

func TestBuildEnvTernaryMapping(t *testing.T) {
	req := &request.StepRequest{MountHome: ternary.True, RemapRoot: ternary.False}
	env := BuildEnv(jobinfo.New(0, 0, 1, "0", 1, 1, nil, nil, "", false), Params{Req: req, Node: &nodeconfig.Config{RuntimePath: "/run/pyxis"}})

	v, ok := hasKey(env, "ENROOT_MOUNT_HOME")
	require.True(t, ok)
	require.Equal(t, "y", v)

	v, ok = hasKey(env, "ENROOT_REMAP_ROOT")
	require.True(t, ok)
	require.Equal(t, "n", v)

	_, ok = hasKey(env, "ENROOT_ROOTFS_WRITABLE")
	require.False(t, ok, "unset ternary options are not exported")
}

func TestBuildEnvCacheDataPath(t *testing.T) {
	env := BuildEnv(jobinfo.New(0, 0, 1, "0", 1, 1, nil, nil, "", false), Params{
		Req:           &request.StepRequest{},
		Node:          &nodeconfig.Config{RuntimePath: "/run/pyxis"},
		CacheDataPath: "/cache/1000",
	})
	v, ok := hasKey(env, "ENROOT_DATA_PATH")
	require.True(t, ok)
	require.Equal(t, "/cache/1000", v)
}

func TestBuildEnvPyxisIdentityAlwaysPresent(t *testing.T) {
	env := BuildEnv(jobinfo.New(0, 0, 1, "0", 1, 1, nil, nil, "", false), Params{
		Req:  &request.StepRequest{},
		Node: &nodeconfig.Config{RuntimePath: "/run/pyxis"},
	})
	v, ok := hasKey(env, "PYXIS_RUNTIME_PATH")
	require.True(t, ok)
	require.Equal(t, "/run/pyxis", v)

	_, ok = hasKey(env, "PYXIS_VERSION")
	require.True(t, ok)
}
