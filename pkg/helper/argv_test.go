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

package helper

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestArgvBuild(t *testing.T) {
	argv := NewArgv("enroot").
		Arg("start").
		Flag("--conf", "/tmp/conf.sh").
		Args("my-container", "sh", "-c", "kill -STOP $$ ; exit 0").
		Build()

	require.Equal(t, []string{
		"enroot", "start", "--conf", "/tmp/conf.sh",
		"my-container", "sh", "-c", "kill -STOP $$ ; exit 0",
	}, argv)
}

func TestArgvEmptyBase(t *testing.T) {
	require.Equal(t, []string{"enroot"}, NewArgv("enroot").Build())
}
