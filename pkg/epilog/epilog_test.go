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

package epilog

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMatchesJobExactPrefix(t *testing.T) {
	require.True(t, matchesJob("pyxis_123_foo", 123))
	require.True(t, matchesJob("pyxis_123_foo_bar", 123))
}

func TestMatchesJobWrongID(t *testing.T) {
	require.False(t, matchesJob("pyxis_124_bar", 123))
}

func TestMatchesJobRejectsOtherScopeNames(t *testing.T) {
	require.False(t, matchesJob("pyxis_123.0", 123)) // unnamed step container, no trailing "_anything"
	require.False(t, matchesJob("other_123_foo", 123))
	require.False(t, matchesJob("pyxis_123_", 123)) // empty tail
}

func TestMatchesJobLeadingZeros(t *testing.T) {
	require.True(t, matchesJob("pyxis_0123_foo", 123))
}

func TestRepairEnvSetsDefaultPathWhenUnset(t *testing.T) {
	oldPath, hadPath := os.LookupEnv("PATH")
	oldHome, hadHome := os.LookupEnv("HOME")
	defer func() {
		if hadPath {
			os.Setenv("PATH", oldPath)
		} else {
			os.Unsetenv("PATH")
		}
		if hadHome {
			os.Setenv("HOME", oldHome)
		}
	}()

	os.Unsetenv("PATH")
	os.Setenv("HOME", "/home/somebody")

	RepairEnv()

	require.Equal(t, defaultPath, os.Getenv("PATH"))
	_, homeSet := os.LookupEnv("HOME")
	require.False(t, homeSet)
}

func TestRepairEnvNeverOverridesExistingPath(t *testing.T) {
	oldPath, hadPath := os.LookupEnv("PATH")
	defer func() {
		if hadPath {
			os.Setenv("PATH", oldPath)
		} else {
			os.Unsetenv("PATH")
		}
	}()

	os.Setenv("PATH", "/custom/bin")
	RepairEnv()
	require.Equal(t, "/custom/bin", os.Getenv("PATH"))
}
