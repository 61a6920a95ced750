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

// Package enrootconf writes the temporary shell-script configuration file
// enroot's "start" subcommand reads via --conf: the list of bind mounts,
// an optional entrypoint override, and the host environment variables to
// pass through before the entrypoint runs.
package enrootconf

import (
	"fmt"
	"os"
	"strings"
	"text/template"

	"github.com/NVIDIA/pyxis/pkg/request"
)

const scriptTemplate = `#!/bin/sh
{{- if .Mounts}}
mounts() {
{{- range .Mounts}}
	echo "{{.}}"
{{- end}}
}
{{- end}}
{{- if .DisableEntrypoint}}
hooks() {
	echo 'exec "$@"' > "${ENROOT_ROOTFS}/etc/rc.local"
	chmod +x "${ENROOT_ROOTFS}/etc/rc.local"
}
{{- end}}
{{- if .EnvVars}}
environ() {
{{- range .EnvVars}}
	echo "{{.}}=${{.}}"
{{- end}}
}
{{- end}}
`

var tmpl = template.Must(template.New("enroot-config").Parse(scriptTemplate))

type scriptData struct {
	Mounts            []string
	DisableEntrypoint bool
	EnvVars           []string
}

// Write renders a fresh config script under /tmp/.enroot_config_XXXXXX,
// readable by uid, and returns its path. executeEntrypoint is the
// caller-resolved value of the entrypoint ternary merged against node
// config; when false, hooks() is emitted to replace the image's entrypoint
// with the user command.
func Write(mounts []request.Mount, executeEntrypoint bool, envVars []string, uid uint32) (string, error) {
	f, err := os.CreateTemp("/tmp", ".enroot_config_")
	if err != nil {
		return "", fmt.Errorf("enrootconf: creating temp file: %w", err)
	}
	defer f.Close()

	if err := f.Chmod(0644); err != nil {
		return "", fmt.Errorf("enrootconf: chmod: %w", err)
	}
	if err := os.Chown(f.Name(), int(uid), -1); err != nil {
		// Best-effort: if we're not root, the file is already owned by
		// the calling uid and this is a no-op that would only fail.
	}

	entries := make([]string, len(mounts))
	for i, m := range mounts {
		entries[i] = m.ConfigEntry()
	}

	data := scriptData{
		Mounts:            entries,
		DisableEntrypoint: !executeEntrypoint,
		EnvVars:           envVars,
	}
	if err := tmpl.Execute(f, data); err != nil {
		return "", fmt.Errorf("enrootconf: rendering template: %w", err)
	}

	return f.Name(), nil
}

// Remove unlinks a config script produced by Write; the orchestrator calls
// this once the helper process that consumed it has exited.
func Remove(path string) error {
	if path == "" {
		return nil
	}
	return os.Remove(path)
}

// Render is exposed separately from Write for tests: it returns the
// rendered script body without touching the filesystem.
func Render(mounts []request.Mount, executeEntrypoint bool, envVars []string) (string, error) {
	var sb strings.Builder
	entries := make([]string, len(mounts))
	for i, m := range mounts {
		entries[i] = m.ConfigEntry()
	}
	data := scriptData{
		Mounts:            entries,
		DisableEntrypoint: !executeEntrypoint,
		EnvVars:           envVars,
	}
	if err := tmpl.Execute(&sb, data); err != nil {
		return "", err
	}
	return sb.String(), nil
}
