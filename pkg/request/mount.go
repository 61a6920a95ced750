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

package request

import (
	"strings"

	"github.com/NVIDIA/pyxis/pkg/perrors"
)

// Mount is one parsed "--container-mounts" entry: "<src> <dst> <flags>".
type Mount struct {
	Src   string
	Dst   string
	Flags string

	// Raw, when non-empty, overrides the source-kind default flags
	// entirely: used for the one mount the orchestrator builds itself
	// (the sbatch-script bind mount, spec.md §4.7.4) rather than the
	// user's --container-mounts list.
	Raw string
}

// sourceKind classifies Mount.Src per spec.md §3.
type sourceKind int

const (
	sourcePath sourceKind = iota
	sourceTmpfs
	sourceUmount
)

func classifySource(src string) (sourceKind, bool) {
	switch {
	case src == "tmpfs":
		return sourceTmpfs, true
	case src == "umount":
		return sourceUmount, true
	case strings.HasPrefix(src, "./") || strings.HasPrefix(src, "/"):
		return sourcePath, true
	default:
		return 0, false
	}
}

// ParseMountSpec parses the raw CLI value of --container-mounts:
// comma-separated entries of "src:dst[:flags]", where flags use "+" as an
// inner separator (translated to "," for storage, and for the emitted
// helper config). Entries are de-duplicated by exact string equality,
// order-preserving on first occurrence.
func ParseMountSpec(spec string) ([]Mount, error) {
	if spec == "" {
		return nil, nil
	}

	var out []Mount
	seen := make(map[string]bool)
	for _, raw := range strings.Split(spec, ",") {
		if raw == "" {
			continue
		}
		if seen[raw] {
			continue
		}
		seen[raw] = true

		parts := strings.SplitN(raw, ":", 3)
		if len(parts) < 2 {
			return nil, &perrors.ArgError{Msg: "malformed mount entry, need at least src:dst: " + quote(raw)}
		}
		src, dst := parts[0], parts[1]
		flags := ""
		if len(parts) == 3 {
			flags = strings.ReplaceAll(parts[2], "+", ",")
		}

		if _, ok := classifySource(src); !ok {
			return nil, &perrors.ArgError{Msg: "mount source must be a path, \"tmpfs\", or \"umount\": " + quote(src)}
		}
		if dst == "" {
			return nil, &perrors.ArgError{Msg: "mount destination must not be empty: " + quote(raw)}
		}

		out = append(out, Mount{Src: src, Dst: dst, Flags: flags})
	}
	return out, nil
}

func quote(s string) string { return "\"" + s + "\"" }

// ConfigEntry renders the mount the way it must appear inside the helper
// configuration script's mounts() function, applying the source-kind
// defaults from spec.md §4.3.
func (m Mount) ConfigEntry() string {
	if m.Raw != "" {
		return m.Src + " " + m.Dst + " " + m.Raw
	}

	kind, _ := classifySource(m.Src)

	var defaults string
	switch kind {
	case sourcePath:
		defaults = "x-create=auto,rbind"
	case sourceTmpfs:
		defaults = "x-create=dir"
	case sourceUmount:
		return m.Src + " " + m.Dst + " x-detach"
	}

	flags := defaults
	if m.Flags != "" {
		flags = defaults + "," + m.Flags
	}
	return m.Src + " " + m.Dst + " " + flags
}

// DedupMounts removes exact-string duplicate entries from a pre-parsed
// slice, preserving the order of first occurrence. Exposed so callers that
// build a mount list programmatically (e.g. the sbatch-script bind mount)
// get the same dedup guarantee ParseMountSpec gives CLI-sourced mounts.
func DedupMounts(mounts []Mount) []Mount {
	seen := make(map[Mount]bool, len(mounts))
	out := make([]Mount, 0, len(mounts))
	for _, m := range mounts {
		if seen[m] {
			continue
		}
		seen[m] = true
		out = append(out, m)
	}
	return out
}
