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

package jobinfo

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewDeepCopiesEnv(t *testing.T) {
	env := []string{"FOO=bar", "BAZ=qux"}
	ji := New(1000, 1000, 42, "0", 2, 2, env, nil, "/home/user", false)

	env[0] = "MUTATED=yes"
	require.Equal(t, "FOO=bar", ji.Env[0], "mutating the caller's slice must not affect the copy")
}

func TestPrivilegedRequiresRootAndAllowSuperuser(t *testing.T) {
	require.True(t, New(0, 0, 1, "0", 1, 1, nil, nil, "", true).Privileged)
	require.False(t, New(0, 0, 1, "0", 1, 1, nil, nil, "", false).Privileged)
	require.False(t, New(1000, 1000, 1, "0", 1, 1, nil, nil, "", true).Privileged)
}

func TestIsBatchScript(t *testing.T) {
	require.True(t, New(0, 0, 1, BatchScriptStepID, 1, 1, nil, nil, "", false).IsBatchScript())
	require.False(t, New(0, 0, 1, "3", 1, 1, nil, nil, "", false).IsBatchScript())
}

func TestEnvMapSkipsMalformedEntries(t *testing.T) {
	ji := New(0, 0, 1, "0", 1, 1, []string{"OK=1", "NOEQUALS"}, nil, "", false)
	m := ji.EnvMap()
	require.Equal(t, "1", m["OK"])
	_, present := m["NOEQUALS"]
	require.False(t, present)
}

func TestIDString(t *testing.T) {
	ji := New(0, 0, 123, "4", 1, 1, nil, nil, "", false)
	require.Equal(t, "123.4", ji.IDString())
}
