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
	"bufio"
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/NVIDIA/pyxis/pkg/log"
)

// NewLogFile creates an anonymous memory-backed file to use as a child's
// combined stdout/stderr. It carries no directory entry, so it disappears
// the moment the last reference (ours) is closed; nothing on disk records
// what the helper printed unless PrintLog is called first.
func NewLogFile(name string) (*os.File, error) {
	fd, err := unix.MemfdCreate(name, 0)
	if err != nil {
		return nil, fmt.Errorf("memfd_create: %w", err)
	}
	return os.NewFile(uintptr(fd), name), nil
}

// PrintLog dumps a memfd-backed log file to the scheduler's log, line by
// line, under a visible header. It rewinds to offset 0 first, so it is
// exposed as a diagnostic aid on Errorf only is not a silent no-op — it is
// safe to call again and will reproduce the exact same output, which
// matters because this is always called after the log's owning process has
// exited and stdin of the calling process may already be closed.
func PrintLog(f *os.File, errorLevel bool) {
	if f == nil {
		return
	}
	if _, err := f.Seek(0, 0); err != nil {
		log.Warningf("pyxis: could not rewind helper log: %v", err)
		return
	}

	printf := log.Infof
	if errorLevel {
		printf = log.Errorf
	}

	printf("--- begin enroot output ---")
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		printf("%s", scanner.Text())
	}
	printf("--- end enroot output ---")
}
