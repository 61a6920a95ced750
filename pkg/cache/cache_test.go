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

package cache

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestKeyDeterministicForNonPathImage(t *testing.T) {
	k1 := Key(1000, "docker://alpine:3")
	k2 := Key(1000, "docker://alpine:3")
	require.Equal(t, k1, k2)
	require.Regexp(t, `^cache_u1000_[0-9a-f]{16}$`, k1)
}

func TestKeyDiffersByUID(t *testing.T) {
	k1 := Key(1000, "docker://alpine:3")
	k2 := Key(2000, "docker://alpine:3")
	require.NotEqual(t, k1, k2)
}

func TestKeyIncludesPathStat(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rootfs.squashfs")
	require.NoError(t, os.WriteFile(path, []byte("abc"), 0644))

	before := Key(1000, path)

	// Changing mtime/size changes the key.
	require.NoError(t, os.WriteFile(path, []byte("abcdef"), 0644))
	future := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(path, future, future))

	after := Key(1000, path)
	require.NotEqual(t, before, after)
}

func TestKeyMissingPathFallsBackToImageBytesOnly(t *testing.T) {
	missing := "/no/such/path.squashfs"
	k1 := Key(1000, missing)
	k2 := Key(1000, missing)
	require.Equal(t, k1, k2)
}

func TestNamePrefixesPyxis(t *testing.T) {
	require.Equal(t, "pyxis_cache_u1000_abc", Name("cache_u1000_abc"))
}

func TestPerUserDirCreatesModeAndOwner(t *testing.T) {
	root := t.TempDir()
	uid := uint32(os.Getuid())
	gid := uint32(os.Getgid())

	dir, err := PerUserDir(root, uid, gid)
	require.NoError(t, err)

	fi, err := os.Stat(dir)
	require.NoError(t, err)
	require.True(t, fi.IsDir())
}

func TestMatchesCachePrefix(t *testing.T) {
	require.True(t, matchesCachePrefix("pyxis_cache_u1000_abc"))
	require.False(t, matchesCachePrefix("pyxis_123_foo"))
}

func TestGCNoopBelowHighWatermark(t *testing.T) {
	root := t.TempDir()
	// An empty tmpfs-backed tree is nowhere near full, so GC should return
	// immediately without error regardless of high/low values reachable in
	// practice.
	require.NoError(t, GC(root, 90, 80))
}

// mkCacheDir creates <root>/<uid>/pyxis_cache_u<uid>_<suffix>, backdated by
// age, so GC's oldest-first ordering is deterministic.
func mkCacheDir(t *testing.T, root string, uid uint32, suffix string, age time.Duration) string {
	t.Helper()
	uidStr := strconv.FormatUint(uint64(uid), 10)
	userDir := filepath.Join(root, uidStr)
	require.NoError(t, os.MkdirAll(userDir, 0700))
	dir := filepath.Join(userDir, "pyxis_cache_u"+uidStr+"_"+suffix)
	require.NoError(t, os.MkdirAll(dir, 0700))
	mtime := time.Now().Add(-age)
	require.NoError(t, os.Chtimes(dir, mtime, mtime))
	return dir
}

// TestGCEvictsOldestFirstUntilLowWatermark forces GC past its watermark
// gate (high=0 is always "at or above" used%) and past its stop condition
// (low=0 is never "below"), so every unlocked candidate is evicted, oldest
// mtime first, regardless of the test host's actual disk usage.
func TestGCEvictsOldestFirstUntilLowWatermark(t *testing.T) {
	root := t.TempDir()
	older := mkCacheDir(t, root, 1000, "older", 2*time.Hour)
	newer := mkCacheDir(t, root, 1000, "newer", time.Hour)

	require.NoError(t, GC(root, 0, 0))

	_, err := os.Stat(older)
	require.True(t, os.IsNotExist(err))
	_, err = os.Stat(newer)
	require.True(t, os.IsNotExist(err))
}

// TestAcquireSharedAllowsConcurrentHolders confirms two tasks attached to
// the same rootfs can each hold their own shared lock at once, matching
// spec.md §4.8's "workers take a shared flock" plural.
func TestAcquireSharedAllowsConcurrentHolders(t *testing.T) {
	dir := t.TempDir()

	first, err := AcquireShared(dir)
	require.NoError(t, err)
	defer first.Unlock()

	second, err := AcquireShared(dir)
	require.NoError(t, err)
	defer second.Unlock()
}

// TestGCSkipsRootfsHeldBySharedLock confirms a candidate a task still has
// attached (shared-locked) survives eviction even when every watermark
// check would otherwise evict it.
func TestGCSkipsRootfsHeldBySharedLock(t *testing.T) {
	root := t.TempDir()
	inUse := mkCacheDir(t, root, 1000, "inuse", 2*time.Hour)
	idle := mkCacheDir(t, root, 1000, "idle", time.Hour)

	lock, err := AcquireShared(inUse)
	require.NoError(t, err)
	defer lock.Unlock()

	require.NoError(t, GC(root, 0, 0))

	_, err = os.Stat(inUse)
	require.NoError(t, err, "locked rootfs must survive GC")
	_, err = os.Stat(idle)
	require.True(t, os.IsNotExist(err), "unlocked rootfs should have been evicted")
}
