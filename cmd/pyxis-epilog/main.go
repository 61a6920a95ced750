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

// Command pyxis-epilog wires pkg/epilog to a CLI, standing in for the
// node-daemon's job-epilog hook (spec.md §4.10, run once per job as root
// outside any step).
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/NVIDIA/pyxis/pkg/epilog"
	"github.com/NVIDIA/pyxis/pkg/log"
	"github.com/NVIDIA/pyxis/pkg/nodeconfig"
	"github.com/NVIDIA/pyxis/pkg/registry"
)

func main() {
	nodeConfigPath := flag.String("node-config", "", "path to the node's plugin configuration file (required)")
	jobID := flag.Uint("job-id", 0, "job ID to sweep containers for (required)")
	uid := flag.Uint("uid", 0, "job uid")
	gid := flag.Uint("gid", 0, "job gid")
	flag.Parse()

	if *nodeConfigPath == "" || *jobID == 0 {
		fmt.Fprintln(os.Stderr, "pyxis-epilog: -node-config and -job-id are required")
		os.Exit(2)
	}

	f, err := os.Open(*nodeConfigPath)
	if err != nil {
		log.Fatalf("pyxis-epilog: opening node config: %v", err)
	}
	node, err := nodeconfig.Parse(f)
	f.Close()
	if err != nil {
		log.Fatalf("pyxis-epilog: parsing node config: %v", err)
	}

	client := registry.NewClient(uint32(*uid), uint32(*gid), os.Environ())
	if err := epilog.Sweep(client, node, uint32(*jobID)); err != nil {
		log.Fatalf("pyxis-epilog: %v", err)
	}
}
