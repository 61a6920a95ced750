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

// Package log is the single point of contact with the logging backend for
// the rest of pyxis. Call sites never import logrus directly; they go
// through here so the backend can be swapped without touching call sites.
package log

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

var std = newDefault()

func newDefault() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	return l
}

// SetOutput redirects the backend's output.
func SetOutput(w io.Writer) {
	std.SetOutput(w)
}

// SetLevel controls verbosity; a no-op for "unknown" level names.
func SetLevel(level string) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return
	}
	std.SetLevel(lvl)
}

// WithFields returns an entry pre-populated with fields, used to attach
// jobid/stepid/container context at the top of a callback.
func WithFields(fields logrus.Fields) *logrus.Entry {
	return std.WithFields(fields)
}

func Debugf(format string, args ...any) { std.Debugf(format, args...) }
func Infof(format string, args ...any)  { std.Infof(format, args...) }
func Warningf(format string, args ...any) {
	std.Warnf(format, args...)
}
func Errorf(format string, args ...any) { std.Errorf(format, args...) }

// Fatalf logs at fatal level and exits the process. Plugin callbacks should
// very rarely use this directly; most failures must propagate as an error
// return so the step orchestrator can still reach task_exit/stepd_exit.
func Fatalf(format string, args ...any) {
	std.Fatalf(format, args...)
}
