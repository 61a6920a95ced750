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

// Package nodeconfig holds the node's plugin configuration, read once at
// node-daemon init from a flat "key=value"-per-line file.
package nodeconfig

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"github.com/NVIDIA/pyxis/pkg/perrors"
)

// ContainerScope controls whether named containers are scoped to the job
// or survive across jobs on the node.
type ContainerScope int

const (
	ScopeJob ContainerScope = iota
	ScopeGlobal
)

const (
	defaultGCHigh = 90
	defaultGCLow  = 80
)

// Config is the node's plugin configuration, per spec.md §3/§6.
type Config struct {
	RuntimePath           string
	ExecuteEntrypoint      bool
	ContainerScope         ContainerScope
	SbatchSupport          bool
	UseEnrootLoad          bool
	ImporterPath           string
	ContainerCacheDataPath string
	GCHigh                 int
	GCLow                  int
}

// Default returns the configuration in effect before any config-file key is
// applied.
func Default() *Config {
	return &Config{
		ExecuteEntrypoint: true,
		ContainerScope:    ScopeJob,
		SbatchSupport:     true,
		GCHigh:            defaultGCHigh,
		GCLow:             defaultGCLow,
	}
}

// Parse reads a flat "key=value"-per-line file. Blank lines and lines whose
// first non-whitespace character is '#' are ignored. This is the one
// deliberately stdlib-only parser in the module; see DESIGN.md for why no
// pack library fits a bare key=value format.
func Parse(r io.Reader) (*Config, error) {
	cfg := Default()
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return nil, &perrors.ConfigError{Msg: "malformed config line, expected key=value: " + line}
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if err := cfg.apply(key, value); err != nil {
			return nil, err
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, &perrors.IOError{Op: "read config", Err: err}
	}
	return cfg, cfg.Validate()
}

func (c *Config) apply(key, value string) error {
	switch key {
	case "runtime_path":
		c.RuntimePath = value
	case "execute_entrypoint":
		b, err := parseBool(value)
		if err != nil {
			return err
		}
		c.ExecuteEntrypoint = b
	case "container_scope":
		switch value {
		case "job":
			c.ContainerScope = ScopeJob
		case "global":
			c.ContainerScope = ScopeGlobal
		default:
			return &perrors.ConfigError{Msg: "container_scope must be job or global: " + value}
		}
	case "sbatch_support":
		b, err := parseBool(value)
		if err != nil {
			return err
		}
		c.SbatchSupport = b
	case "use_enroot_load":
		b, err := parseBool(value)
		if err != nil {
			return err
		}
		c.UseEnrootLoad = b
	case "importer_path":
		c.ImporterPath = value
	case "container_cache_data_path":
		c.ContainerCacheDataPath = value
	case "container_cache_gc_high":
		n, err := strconv.Atoi(value)
		if err != nil {
			return &perrors.ConfigError{Msg: "container_cache_gc_high must be an integer: " + value}
		}
		c.GCHigh = n
	case "container_cache_gc_low":
		n, err := strconv.Atoi(value)
		if err != nil {
			return &perrors.ConfigError{Msg: "container_cache_gc_low must be an integer: " + value}
		}
		c.GCLow = n
	default:
		// Unknown keys are ignored rather than fatal, so an older plugin
		// binary tolerates a newer config file with extra keys.
	}
	return nil
}

func parseBool(value string) (bool, error) {
	switch strings.ToLower(value) {
	case "1", "true", "yes", "y":
		return true, nil
	case "0", "false", "no", "n":
		return false, nil
	default:
		return false, &perrors.ConfigError{Msg: "expected a boolean, got: " + value}
	}
}

// Validate enforces the range/ordering rules from original_source/config.c:
// gc_high and gc_low are clamped to [0,100] and gc_low must stay below
// gc_high.
func (c *Config) Validate() error {
	if c.RuntimePath == "" {
		return &perrors.ConfigError{Msg: "runtime_path is required"}
	}
	c.GCHigh = clamp(c.GCHigh, 0, 100)
	c.GCLow = clamp(c.GCLow, 0, 100)
	if c.GCLow >= c.GCHigh {
		return &perrors.ConfigError{Msg: "container_cache_gc_low must be less than container_cache_gc_high"}
	}
	return nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
