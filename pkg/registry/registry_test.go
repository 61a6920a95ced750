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

package registry

import (
	"bufio"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

type stringScanner struct {
	s *bufio.Scanner
}

func newStringScanner(s string) *stringScanner {
	return &stringScanner{s: bufio.NewScanner(strings.NewReader(s))}
}
func (s *stringScanner) Scan() bool    { return s.s.Scan() }
func (s *stringScanner) Text() string  { return s.s.Text() }
func (s *stringScanner) Err() error    { return s.s.Err() }

func TestParseListBasic(t *testing.T) {
	in := "NAME           PID\n" +
		"pyxis_123.0    \n" +
		"pyxis_123_foo  4821\n"
	entries, err := parseList(newStringScanner(in))
	require.NoError(t, err)
	require.Equal(t, []Entry{
		{Name: "pyxis_123.0", Pid: 0},
		{Name: "pyxis_123_foo", Pid: 4821},
	}, entries)
}

func TestParseListMalformedPidFails(t *testing.T) {
	in := "NAME PID\nfoo notanumber\n"
	_, err := parseList(newStringScanner(in))
	require.Error(t, err)
}

func TestParseListSkipsBlankLines(t *testing.T) {
	in := "NAME PID\n\nfoo 123\n\n"
	entries, err := parseList(newStringScanner(in))
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestParseListEmptyAfterHeader(t *testing.T) {
	entries, err := parseList(newStringScanner("NAME PID\n"))
	require.NoError(t, err)
	require.Empty(t, entries)
}
