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

// Package registry is the container registry client: it shells out to the
// runtime helper's "list -f" subcommand and parses the result into
// (name, pid) records, the way runsc/cmd's commands shell out to the
// container package and parse its output for the CLI surface.
package registry

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/NVIDIA/pyxis/pkg/helper"
)

// Entry is one row of "enroot list -f": a container name and, if a live
// process backs it, its pid.
type Entry struct {
	Name string
	Pid  int // 0 means no live container (rootfs exists only)
}

// Client runs enroot list/lookup operations as a given uid/gid.
type Client struct {
	UID uint32
	GID uint32
	Env []string
}

// NewClient builds a registry Client that shells out to enroot as uid/gid
// with env.
func NewClient(uid, gid uint32, env []string) *Client {
	return &Client{UID: uid, GID: gid, Env: env}
}

// List runs "enroot list -f" and parses every row. A malformed row fails
// the whole operation, per spec.md §4.4.
func (c *Client) List() ([]Entry, error) {
	argv := helper.NewArgv("enroot").Args("list", "-f").Build()
	ls, err := helper.RunCapture(argv, helper.Options{UID: c.UID, GID: c.GID, Env: c.Env})
	if err != nil {
		return nil, fmt.Errorf("registry: listing containers: %w", err)
	}
	defer ls.Close()

	return parseList(ls)
}

type lineScanner interface {
	Scan() bool
	Text() string
	Err() error
}

func parseList(ls lineScanner) ([]Entry, error) {
	var entries []Entry
	first := true
	for ls.Scan() {
		line := ls.Text()
		if first {
			// Header line, discarded unconditionally.
			first = false
			continue
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		entry := Entry{Name: fields[0]}
		if len(fields) >= 2 {
			pid, err := strconv.Atoi(fields[1])
			if err != nil || pid <= 0 {
				return nil, fmt.Errorf("registry: malformed list row %q: invalid pid field", line)
			}
			entry.Pid = pid
		}
		entries = append(entries, entry)
	}
	if err := ls.Err(); err != nil {
		return nil, fmt.Errorf("registry: reading list output: %w", err)
	}
	return entries, nil
}

// Lookup reports whether name exists, and if so whether it is running.
// Returned values:
//   present=false           -> not found
//   present=true,  pid==0   -> rootfs present, no live container
//   present=true,  pid>0    -> running under that pid
func (c *Client) Lookup(name string) (present bool, pid int, err error) {
	entries, err := c.List()
	if err != nil {
		return false, 0, err
	}
	for _, e := range entries {
		if e.Name == name {
			return true, e.Pid, nil
		}
	}
	return false, 0, nil
}
