// Copyright The NRI Plugins Authors. All Rights Reserved.
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

package kinds_test

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"

	"github.com/intel/libmemtier/pkg/memtier"
	. "github.com/intel/libmemtier/pkg/memtier/kinds"
)

func newArena(t *testing.T, capacity uint64) *Arena {
	t.Helper()

	a, err := NewRegistry().NewArena("test", capacity)
	require.Nil(t, err, "unexpected NewArena() error")
	return a
}

func TestUsableSizeRounding(t *testing.T) {
	type testCase struct {
		size   int
		usable int
	}

	a := newArena(t, 0)
	for _, tc := range []*testCase{
		{size: 0, usable: 16},
		{size: 1, usable: 16},
		{size: 15, usable: 16},
		{size: 16, usable: 16},
		{size: 17, usable: 32},
		{size: 100, usable: 112},
		{size: 4095, usable: 4096},
		{size: 4096, usable: 4096},
		{size: 4097, usable: 8192},
		{size: 10000, usable: 12288},
	} {
		t.Run(fmt.Sprintf("malloc %d", tc.size), func(t *testing.T) {
			buf, err := a.Malloc(tc.size)
			require.Nil(t, err, "unexpected Malloc() error")
			require.Len(t, buf, tc.size, "unexpected buffer length")
			require.Equal(t, tc.usable, a.UsableSize(buf), "unexpected usable size")
			a.Free(buf)
		})
	}

	_, err := a.Malloc(-1)
	require.ErrorIs(t, err, ErrInvalidSize, "negative size should be rejected")
}

func TestArenaCapacity(t *testing.T) {
	a := newArena(t, 128)

	buf, err := a.Malloc(100)
	require.Nil(t, err, "allocation within capacity should succeed")
	require.Equal(t, uint64(112), a.Used(), "unexpected used bytes")

	_, err = a.Malloc(32)
	require.ErrorIs(t, err, ErrNoMem, "allocation past capacity should fail")
	require.Equal(t, uint64(112), a.Used(), "failed allocation should not consume capacity")

	a.Free(buf)
	require.Equal(t, uint64(0), a.Used(), "free should release capacity")

	buf, err = a.Malloc(112)
	require.Nil(t, err, "released capacity should be reusable")
	a.Free(buf)
}

func TestDetection(t *testing.T) {
	r := NewRegistry()

	dram, err := r.NewArena("dram", 0)
	require.Nil(t, err, "unexpected NewArena() error")
	pmem, err := r.NewArena("pmem", 0)
	require.Nil(t, err, "unexpected NewArena() error")

	b1, err := dram.Malloc(64)
	require.Nil(t, err, "unexpected Malloc() error")
	b2, err := pmem.Malloc(64)
	require.Nil(t, err, "unexpected Malloc() error")

	kind, ok := r.DetectKind(b1)
	require.True(t, ok, "live buffer should be detectable")
	require.Equal(t, "dram", kind.Name(), "buffer should detect to its arena")

	kind, ok = r.DetectKind(b2)
	require.True(t, ok, "live buffer should be detectable")
	require.Equal(t, "pmem", kind.Name(), "buffer should detect to its arena")

	_, ok = r.DetectKind(make([]byte, 64))
	require.False(t, ok, "foreign buffer should not be detectable")
	_, ok = r.DetectKind(nil)
	require.False(t, ok, "nil buffer should not be detectable")

	dram.Free(b1)
	_, ok = r.DetectKind(b1)
	require.False(t, ok, "freed buffer should not be detectable")

	pmem.Free(b2)
}

func TestFreeForeignBuffer(t *testing.T) {
	r := NewRegistry()

	dram, err := r.NewArena("dram", 0)
	require.Nil(t, err, "unexpected NewArena() error")
	pmem, err := r.NewArena("pmem", 0)
	require.Nil(t, err, "unexpected NewArena() error")

	buf, err := pmem.Malloc(64)
	require.Nil(t, err, "unexpected Malloc() error")

	// Freeing through the wrong arena must not release the buffer.
	dram.Free(buf)
	require.Equal(t, uint64(64), pmem.Used(), "foreign free should be ignored")

	kind, ok := r.DetectKind(buf)
	require.True(t, ok, "buffer should still be live")
	require.Equal(t, "pmem", kind.Name(), "buffer should still detect to its arena")

	pmem.Free(buf)
	require.Equal(t, uint64(0), pmem.Used(), "owning free should release the buffer")
}

func TestReallocInPlace(t *testing.T) {
	a := newArena(t, 0)

	buf, err := a.Malloc(100)
	require.Nil(t, err, "unexpected Malloc() error")
	copy(buf, "contents")

	// 110 shares the 112-byte class with 100, the slab is reused.
	same, err := a.Realloc(buf, 110)
	require.Nil(t, err, "unexpected Realloc() error")
	require.Len(t, same, 110, "unexpected buffer length")
	require.Equal(t, unsafe.SliceData(buf), unsafe.SliceData(same), "same-class resize should reuse the slab")

	grown, err := a.Realloc(same, 300)
	require.Nil(t, err, "unexpected Realloc() error")
	require.Len(t, grown, 300, "unexpected buffer length")
	require.NotSame(t, unsafe.SliceData(same), unsafe.SliceData(grown), "cross-class resize should move the buffer")
	require.Equal(t, "contents", string(grown[:8]), "resize should preserve contents")
	require.Equal(t, uint64(304), a.Used(), "old slab should be released")

	released, err := a.Realloc(grown, 0)
	require.Nil(t, err, "unexpected Realloc() error")
	require.Nil(t, released, "resize to 0 should free the buffer")
	require.Equal(t, uint64(0), a.Used(), "resize to 0 should release the slab")

	_, err = a.Realloc(make([]byte, 16), 32)
	require.ErrorIs(t, err, ErrForeignBuffer, "resizing a foreign buffer should fail")
}

func TestCalloc(t *testing.T) {
	a := newArena(t, 0)

	buf, err := a.Calloc(10, 20)
	require.Nil(t, err, "unexpected Calloc() error")
	require.Len(t, buf, 200, "unexpected buffer length")
	for _, c := range buf {
		require.Zero(t, c, "calloc buffer should be zeroed")
	}
	a.Free(buf)

	_, err = a.Calloc(-1, 20)
	require.ErrorIs(t, err, ErrInvalidSize, "negative count should be rejected")

	_, err = a.Calloc(1<<62, 8)
	require.ErrorIs(t, err, ErrInvalidSize, "overflowing total should be rejected")
}

func TestAlignedAlloc(t *testing.T) {
	a := newArena(t, 0)

	for _, alignment := range []int{16, 64, 256, 4096} {
		t.Run(fmt.Sprintf("alignment %d", alignment), func(t *testing.T) {
			buf, err := a.AlignedAlloc(alignment, 100)
			require.Nil(t, err, "unexpected AlignedAlloc() error")
			require.Len(t, buf, 100, "unexpected buffer length")

			addr := uintptr(unsafe.Pointer(unsafe.SliceData(buf)))
			require.Zero(t, addr%uintptr(alignment), "buffer should honor the alignment")
			require.Equal(t, 112, a.UsableSize(buf), "alignment slack should not inflate usable size")

			a.Free(buf)
		})
	}

	for _, alignment := range []int{0, -8, 3, 100} {
		_, err := a.AlignedAlloc(alignment, 100)
		require.ErrorIs(t, err, ErrInvalidSize, "alignment %d should be rejected", alignment)
	}
}

func TestFileArena(t *testing.T) {
	r := NewRegistry()
	dir := t.TempDir()

	a, err := r.NewFileArena("pmem", dir, 4096)
	require.Nil(t, err, "unexpected NewFileArena() error")
	require.Equal(t, uint64(4096), a.Capacity(), "capacity should come from the file size")

	backing := filepath.Join(dir, "pmem.arena")
	info, err := os.Stat(backing)
	require.Nil(t, err, "backing file should exist")
	require.Equal(t, int64(4096), info.Size(), "backing file should reserve the capacity")

	buf, err := a.Malloc(4096)
	require.Nil(t, err, "unexpected Malloc() error")
	_, err = a.Malloc(1)
	require.ErrorIs(t, err, ErrNoMem, "file arena should enforce its size")
	a.Free(buf)

	require.Nil(t, a.Close(), "unexpected Close() error")
	_, err = os.Stat(backing)
	require.True(t, os.IsNotExist(err), "closing should remove the backing file")

	_, err = r.NewFileArena("nosize", dir, 0)
	require.ErrorIs(t, err, ErrInvalidSize, "zero size should be rejected")

	_, err = r.NewFileArena("nodir", filepath.Join(dir, "missing"), 4096)
	require.ErrorIs(t, err, ErrInvalidArena, "missing directory should be rejected")

	file := filepath.Join(dir, "plain")
	require.Nil(t, os.WriteFile(file, nil, 0o600), "unexpected WriteFile() error")
	_, err = r.NewFileArena("notadir", file, 4096)
	require.ErrorIs(t, err, ErrInvalidArena, "non-directory path should be rejected")
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()

	dram, err := r.NewArena("dram", 0)
	require.Nil(t, err, "unexpected NewArena() error")
	pmem, err := r.NewArena("pmem", 0)
	require.Nil(t, err, "unexpected NewArena() error")

	require.Equal(t, 0, dram.Partition(), "partitions should be assigned in creation order")
	require.Equal(t, 1, pmem.Partition(), "partitions should be assigned in creation order")

	_, err = r.NewArena("dram", 0)
	require.ErrorIs(t, err, ErrInvalidArena, "duplicate name should be rejected")
	_, err = r.NewArena("", 0)
	require.ErrorIs(t, err, ErrInvalidArena, "empty name should be rejected")

	arenas := r.Arenas()
	require.Len(t, arenas, 2, "unexpected arena count")
	require.Equal(t, "dram", arenas[0].Name(), "arenas should list in partition order")
	require.Equal(t, "pmem", arenas[1].Name(), "arenas should list in partition order")

	// A fresh registry assigns partitions from 0 again.
	other := NewRegistry()
	a, err := other.NewArena("dram", 0)
	require.Nil(t, err, "unexpected NewArena() error")
	require.Equal(t, 0, a.Partition(), "registries should assign partitions independently")
}

func TestRegistryPartitionLimit(t *testing.T) {
	r := NewRegistry()

	for i := 0; i < memtier.MaxKinds; i++ {
		_, err := r.NewArena(fmt.Sprintf("arena-%d", i), 0)
		require.Nil(t, err, "unexpected NewArena() error")
	}

	_, err := r.NewArena("one-too-many", 0)
	require.ErrorIs(t, err, ErrInvalidArena, "partition space should be bounded")
}

func TestResolveKind(t *testing.T) {
	r := NewRegistry()
	dir := t.TempDir()

	kind, err := r.ResolveKind(memtier.TierSpec{Kind: "DRAM", Ratio: 1})
	require.Nil(t, err, "unexpected ResolveKind() error")
	require.Equal(t, "DRAM", kind.Name(), "unexpected kind name")

	kind, err = r.ResolveKind(memtier.TierSpec{Kind: "PMEM", Path: dir, Size: "64K", Ratio: 1})
	require.Nil(t, err, "unexpected ResolveKind() error")
	arena, ok := kind.(*Arena)
	require.True(t, ok, "resolved kind should be an arena")
	require.Equal(t, uint64(64*memtier.KB), arena.Capacity(), "unexpected file arena capacity")

	_, err = r.ResolveKind(memtier.TierSpec{Kind: "BAD", Path: dir, Size: "64X", Ratio: 1})
	require.ErrorIs(t, err, memtier.ErrInvalidConfig, "malformed size should fail")

	require.Nil(t, r.Close(), "unexpected Close() error")
	_, err = os.Stat(filepath.Join(dir, "PMEM.arena"))
	require.True(t, os.IsNotExist(err), "closing the registry should remove backing files")
}
