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

// Package request models the user-facing StepRequest derived from parsed
// CLI flags, plus the parsing/validation rules spec.md §3 and §6 assign to
// the (out-of-scope) argument parser. The parser's CLI registration glue
// itself is a stub; this package only owns the resulting typed value and
// the validation a complete implementation cannot skip.
package request

import (
	"strings"

	"github.com/NVIDIA/pyxis/pkg/perrors"
	"github.com/NVIDIA/pyxis/pkg/ternary"
)

// NameMode controls how a named container interacts with one that may
// already exist.
type NameMode int

const (
	ModeAuto NameMode = iota
	ModeCreate
	ModeExec
	ModeNoExec
)

func ParseNameMode(s string) (NameMode, error) {
	switch s {
	case "", "auto":
		return ModeAuto, nil
	case "create":
		return ModeCreate, nil
	case "exec":
		return ModeExec, nil
	case "no_exec":
		return ModeNoExec, nil
	default:
		return 0, &perrors.ArgError{Msg: "invalid container-name mode: " + quote(s)}
	}
}

// ContainerName is "--container-name=<name[:mode]>" parsed apart.
type ContainerName struct {
	Name string
	Mode NameMode
}

// ParseContainerName splits "name:mode"; mode defaults to ModeAuto.
func ParseContainerName(s string) (ContainerName, error) {
	if s == "" {
		return ContainerName{}, nil
	}
	name, modeStr, _ := strings.Cut(s, ":")
	if name == "" {
		return ContainerName{}, &perrors.ArgError{Msg: "container name must not be empty"}
	}
	mode, err := ParseNameMode(modeStr)
	if err != nil {
		return ContainerName{}, err
	}
	return ContainerName{Name: name, Mode: mode}, nil
}

// StepRequest is the fully-parsed set of per-step container options.
type StepRequest struct {
	Image string // local squashfs path ("./..."/"/...") or helper URI

	Mounts []Mount

	Workdir string

	ContainerName ContainerName

	SavePath string

	MountHome ternary.Value
	RemapRoot ternary.Value
	Entrypoint ternary.Value
	Writable   ternary.Value
	Cache      ternary.Value

	EntrypointLog bool

	// EnvVars is the set of host env-var names to preserve into the
	// container pre-entrypoint, in the order the user listed them.
	EnvVars []string
}

// Validate enforces the cross-field rules spec.md leaves to the (otherwise
// out-of-scope) argument parser: save path shape and cache-mode
// incompatibilities. Per-field syntax (mounts, name mode) is already
// enforced by the respective Parse* functions as values are built.
func (r *StepRequest) Validate() error {
	if strings.HasSuffix(r.SavePath, "/") {
		return &perrors.ArgError{Msg: "--container-save target must not be a directory path: " + quote(r.SavePath)}
	}

	if cache, ok := r.Cache.Bool(); ok && cache {
		if r.SavePath != "" {
			return &perrors.ConfigError{Msg: "--container-cache is incompatible with --container-save"}
		}
		if w, ok := r.Writable.Bool(); ok && w {
			return &perrors.ConfigError{Msg: "--container-cache is incompatible with --container-writable"}
		}
		if r.ContainerName.Name != "" {
			return &perrors.ConfigError{Msg: "--container-cache is incompatible with an explicit --container-name"}
		}
		if r.Image == "" {
			return &perrors.ConfigError{Msg: "--container-cache requires --container-image"}
		}
	}

	return nil
}

// IsPathImage reports whether Image names a local squashfs path rather than
// a helper URI.
func IsPathImage(image string) bool {
	return strings.HasPrefix(image, "./") || strings.HasPrefix(image, "/")
}

// HelperURI renders Image as the URI enroot import/load expects: verbatim
// when it already carries a docker://-family scheme, prefixed with
// docker:// otherwise.
func HelperURI(image string) string {
	if strings.HasPrefix(image, "docker://") || strings.HasPrefix(image, "dockerd://") {
		return image
	}
	return "docker://" + image
}
