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

// Package cache implements the content-addressed local container cache:
// key derivation, per-rootfs locking, and filesystem-pressure-gated LRU GC.
package cache

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sys/unix"

	"github.com/NVIDIA/pyxis/pkg/log"
	"github.com/NVIDIA/pyxis/pkg/perrors"
	"github.com/NVIDIA/pyxis/pkg/request"
)

const (
	fnvOffset64 uint64 = 0xcbf29ce484222325
	fnvPrime64  uint64 = 0x100000001b3
)

// Key derives the FNV-1a cache basename for image, per spec.md §4.8: the
// image string's bytes, plus (when the image is path-like and stat
// succeeds) the literal ASCII "|<mtime_sec>|<size_bytes>" suffix, hashed to
// 16 lowercase hex digits and prefixed with the uid.
func Key(uid uint32, image string) string {
	h := fnvOffset64
	h = fnvUpdate(h, []byte(image))

	if request.IsPathImage(image) {
		if fi, err := os.Stat(image); err == nil {
			suffix := fmt.Sprintf("|%d|%d", fi.ModTime().Unix(), fi.Size())
			h = fnvUpdate(h, []byte(suffix))
		}
	}

	return fmt.Sprintf("cache_u%d_%016x", uid, h)
}

func fnvUpdate(h uint64, data []byte) uint64 {
	for _, b := range data {
		h ^= uint64(b)
		h *= fnvPrime64
	}
	return h
}

// Name returns the derived container name for a cache basename: scope is
// always forced to global, per spec.md §4.8.
func Name(basename string) string {
	return "pyxis_" + basename
}

// PerUserDir returns <root>/<uid>, creating it (and its parents) mode 0700
// owned by uid:gid if missing.
func PerUserDir(root string, uid, gid uint32) (string, error) {
	dir := fmt.Sprintf("%s/%d", root, uid)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", &perrors.IOError{Op: "mkdir cache per-user dir", Err: err}
	}
	if err := os.Chown(dir, int(uid), int(gid)); err != nil {
		return "", &perrors.IOError{Op: "chown cache per-user dir", Err: err}
	}
	return dir, nil
}

// LockPath returns the per-rootfs lock file path for a cache rootfs
// directory.
func LockPath(rootfsDir string) string {
	return rootfsDir + "/.pyxis_cache_lock"
}

// AcquireShared takes a blocking shared (LOCK_SH) flock on the rootfs's
// lock file, held for as long as the attaching task needs it, per spec.md
// §4.8. Every task attached to the same rootfs holds its own shared lock
// concurrently; only GC's exclusive (LOCK_EX) TryLock ever contends with
// it.
func AcquireShared(rootfsDir string) (*flock.Flock, error) {
	fl := flock.New(LockPath(rootfsDir))
	if err := fl.RLock(); err != nil {
		return nil, &perrors.IOError{Op: "lock cache rootfs", Err: err}
	}
	return fl, nil
}

// Touch sets the rootfs directory's mtime to now, best-effort.
func Touch(rootfsDir string) {
	now := time.Now()
	if err := os.Chtimes(rootfsDir, now, now); err != nil {
		log.Debugf("pyxis: touching cache rootfs %s: %v", rootfsDir, err)
	}
}

// usedPercent reports filesystem used% for root via statfs, rounded down.
func usedPercent(root string) (int, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(root, &st); err != nil {
		return 0, &perrors.IOError{Op: "statfs cache root", Err: err}
	}
	if st.Blocks == 0 {
		return 0, nil
	}
	used := st.Blocks - st.Bfree
	return int(used * 100 / st.Blocks), nil
}

// entry is one candidate rootfs directory for GC, with its mtime for LRU
// ordering.
type entry struct {
	path  string
	mtime time.Time
}

// GC runs the filesystem-pressure-gated eviction pass described in
// spec.md §4.8. It is a no-op unless used% >= high. Eviction proceeds
// oldest-first, skipping any rootfs whose lock is currently held
// exclusively-unavailable (i.e., in use), until used% < low or candidates
// are exhausted.
func GC(root string, high, low int) error {
	gcLock := flock.New(root + "/pyxis-container-cache-gc.lock")
	ok, err := gcLock.TryLock()
	if err != nil {
		return &perrors.IOError{Op: "lock cache gc", Err: err}
	}
	if !ok {
		log.Debugf("pyxis: cache gc already running on another node process, skipping")
		return nil
	}
	defer gcLock.Unlock()

	used, err := usedPercent(root)
	if err != nil {
		return err
	}
	if used < high {
		return nil
	}

	entries, err := collectEntries(root)
	if err != nil {
		return err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].mtime.Before(entries[j].mtime) })

	for _, e := range entries {
		used, err := usedPercent(root)
		if err != nil {
			return err
		}
		if used < low {
			break
		}

		fl := flock.New(LockPath(e.path))
		locked, err := fl.TryLock()
		if err != nil || !locked {
			continue
		}
		if err := os.RemoveAll(e.path); err != nil {
			log.Warningf("pyxis: cache gc: removing %s: %v", e.path, err)
		}
		fl.Unlock()
	}

	return nil
}

// collectEntries enumerates <root>/*/pyxis_cache_* directories.
func collectEntries(root string) ([]entry, error) {
	userDirs, err := os.ReadDir(root)
	if err != nil {
		return nil, &perrors.IOError{Op: "reading cache root", Err: err}
	}

	var entries []entry
	for _, ud := range userDirs {
		if !ud.IsDir() {
			continue
		}
		userPath := root + "/" + ud.Name()
		rootfsDirs, err := os.ReadDir(userPath)
		if err != nil {
			continue
		}
		for _, rd := range rootfsDirs {
			if !rd.IsDir() || !matchesCachePrefix(rd.Name()) {
				continue
			}
			fi, err := rd.Info()
			if err != nil {
				continue
			}
			entries = append(entries, entry{path: userPath + "/" + rd.Name(), mtime: fi.ModTime()})
		}
	}
	return entries, nil
}

func matchesCachePrefix(name string) bool {
	const prefix = "pyxis_cache_"
	return len(name) >= len(prefix) && name[:len(prefix)] == prefix
}
