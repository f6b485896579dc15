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

// Package kinds provides in-process reference implementations of the
// memtier allocation interfaces. Arenas allocate Go-backed slabs with
// allocator-realistic usable sizes, a Registry detects which arena a
// buffer came from and doubles as a config kind resolver. They let the
// tiering engine, its tests and the bench tool run without a native
// allocator underneath.
package kinds

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"unsafe"

	"github.com/intel/libmemtier/pkg/memtier"
)

var (
	ErrNoMem         = fmt.Errorf("kinds: arena capacity exhausted")
	ErrInvalidSize   = fmt.Errorf("kinds: invalid size")
	ErrInvalidArena  = fmt.Errorf("kinds: invalid arena")
	ErrForeignBuffer = fmt.Errorf("kinds: buffer not owned by arena")
)

const (
	// quantum is the size class granularity of small allocations.
	quantum = 16
	// pageSize is the rounding granularity of allocations of 4K and up.
	pageSize = 4096
)

// usableSize returns the usable size an arena serves a request of the
// given size with.
func usableSize(size int) int {
	if size <= 0 {
		return quantum
	}
	if size < pageSize {
		return (size + quantum - 1) &^ (quantum - 1)
	}
	return (size + pageSize - 1) &^ (pageSize - 1)
}

// buffer is the bookkeeping entry of one live allocation. base keeps
// the raw slab alive when the returned buffer starts at an alignment
// offset inside it.
type buffer struct {
	arena  *Arena
	usable int
	base   []byte
}

// Registry creates arenas and tracks their live buffers. It implements
// memtier.Detector over every arena it created and memtier.KindResolver
// for building arenas straight from a tier configuration. All methods
// are safe for concurrent use.
type Registry struct {
	sync.Mutex
	arenas     map[string]*Arena
	buffers    map[*byte]*buffer
	partitions int
}

// NewRegistry returns an empty arena registry.
func NewRegistry() *Registry {
	return &Registry{
		arenas:  make(map[string]*Arena),
		buffers: make(map[*byte]*buffer),
	}
}

// NewArena creates an arena with the given name and capacity in bytes,
// 0 for unlimited. Partitions are assigned in creation order. Names
// must be unique within the registry.
func (r *Registry) NewArena(name string, capacity uint64) (*Arena, error) {
	r.Lock()
	defer r.Unlock()
	return r.newArena(name, capacity, nil)
}

// NewFileArena creates an arena whose capacity is reserved by a backing
// file created in the given directory, in the manner of file-backed
// memory tiers. Closing the arena removes the file.
func (r *Registry) NewFileArena(name, dir string, size uint64) (*Arena, error) {
	if size == 0 {
		return nil, fmt.Errorf("%w: file arena %q needs a non-zero size", ErrInvalidSize, name)
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: file arena %q: %v", ErrInvalidArena, name, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: file arena %q: %q is not a directory", ErrInvalidArena, name, dir)
	}

	file, err := os.OpenFile(filepath.Join(dir, name+".arena"), os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("%w: file arena %q: %v", ErrInvalidArena, name, err)
	}
	if err := file.Truncate(int64(size)); err != nil {
		file.Close()
		os.Remove(file.Name())
		return nil, fmt.Errorf("%w: file arena %q: %v", ErrInvalidArena, name, err)
	}

	r.Lock()
	defer r.Unlock()

	a, err := r.newArena(name, size, file)
	if err != nil {
		file.Close()
		os.Remove(file.Name())
		return nil, err
	}
	return a, nil
}

// newArena creates an arena, called with the registry locked.
func (r *Registry) newArena(name string, capacity uint64, file *os.File) (*Arena, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: empty arena name", ErrInvalidArena)
	}
	if _, ok := r.arenas[name]; ok {
		return nil, fmt.Errorf("%w: arena %q already exists", ErrInvalidArena, name)
	}
	if r.partitions >= memtier.MaxKinds {
		return nil, fmt.Errorf("%w: all %d partitions in use", ErrInvalidArena, memtier.MaxKinds)
	}

	a := &Arena{
		registry:  r,
		name:      name,
		partition: r.partitions,
		capacity:  capacity,
		file:      file,
	}
	r.partitions++
	r.arenas[name] = a
	return a, nil
}

// DetectKind resolves a buffer to the arena it was allocated from.
func (r *Registry) DetectKind(buf []byte) (memtier.Kind, bool) {
	if len(buf) == 0 && cap(buf) == 0 {
		return nil, false
	}

	r.Lock()
	defer r.Unlock()

	b, ok := r.buffers[unsafe.SliceData(buf)]
	if !ok {
		return nil, false
	}
	return b.arena, true
}

// ResolveKind creates the arena a tier specification describes. Specs
// with a path become file arenas of the given size, plain specs become
// arenas without a capacity limit.
func (r *Registry) ResolveKind(spec memtier.TierSpec) (memtier.Kind, error) {
	if spec.Path != "" {
		size, err := memtier.ParseSize(spec.Size)
		if err != nil {
			return nil, err
		}
		return r.NewFileArena(spec.Kind, spec.Path, size)
	}
	return r.NewArena(spec.Kind, 0)
}

// Arenas returns the arenas of the registry in partition order.
func (r *Registry) Arenas() []*Arena {
	r.Lock()
	defer r.Unlock()

	arenas := make([]*Arena, 0, len(r.arenas))
	for _, a := range r.arenas {
		arenas = append(arenas, a)
	}
	slices.SortFunc(arenas, func(a1, a2 *Arena) int {
		return a1.partition - a2.partition
	})
	return arenas
}

// Close closes every arena of the registry, removing the backing files
// of file arenas.
func (r *Registry) Close() error {
	var errs []error
	for _, a := range r.Arenas() {
		if err := a.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Arena is a memory kind backed by Go-allocated slabs. Requests are
// rounded up to allocator-realistic usable sizes, 16-byte classes below
// 4K and whole pages above. An arena with a capacity fails allocations
// which would push the sum of live usable sizes past it.
type Arena struct {
	registry  *Registry
	name      string
	partition int
	capacity  uint64
	used      uint64
	file      *os.File
}

// Name returns the name of the arena.
func (a *Arena) Name() string {
	return a.name
}

// Partition returns the accounting partition of the arena.
func (a *Arena) Partition() int {
	return a.partition
}

// Capacity returns the capacity of the arena in bytes, 0 for unlimited.
func (a *Arena) Capacity() uint64 {
	return a.capacity
}

// Used returns the sum of usable sizes of the live buffers of the arena.
func (a *Arena) Used() uint64 {
	a.registry.Lock()
	defer a.registry.Unlock()
	return a.used
}

// Malloc allocates a buffer of size bytes. Size 0 allocates the
// smallest size class. Slabs come from the Go heap and arrive zeroed.
func (a *Arena) Malloc(size int) ([]byte, error) {
	if size < 0 {
		return nil, fmt.Errorf("%w: malloc(%d) from arena %q", ErrInvalidSize, size, a.name)
	}

	r := a.registry
	r.Lock()
	defer r.Unlock()

	return a.alloc(size, 0)
}

// alloc carves a new slab, called with the registry locked. A non-zero
// alignment offsets the returned buffer inside an over-allocated slab.
func (a *Arena) alloc(size, alignment int) ([]byte, error) {
	usable := usableSize(size)
	if a.capacity != 0 && a.used+uint64(usable) > a.capacity {
		return nil, fmt.Errorf("%w: arena %q: %d used of %d, cannot fit %d more",
			ErrNoMem, a.name, a.used, a.capacity, usable)
	}

	slab := make([]byte, usable+alignment)
	offset := 0
	if alignment > 0 {
		addr := uintptr(unsafe.Pointer(unsafe.SliceData(slab)))
		offset = (alignment - int(addr%uintptr(alignment))) % alignment
	}
	buf := slab[offset : offset+size : offset+usable]

	a.used += uint64(usable)
	a.registry.buffers[unsafe.SliceData(slab[offset:])] = &buffer{
		arena:  a,
		usable: usable,
		base:   slab,
	}

	return buf, nil
}

// Calloc allocates a zeroed buffer for count elements of size bytes
// each, failing if the total overflows.
func (a *Arena) Calloc(count, size int) ([]byte, error) {
	if count < 0 || size < 0 {
		return nil, fmt.Errorf("%w: calloc(%d, %d) from arena %q", ErrInvalidSize, count, size, a.name)
	}
	total := count * size
	if count != 0 && total/count != size {
		return nil, fmt.Errorf("%w: calloc(%d, %d) from arena %q overflows",
			ErrInvalidSize, count, size, a.name)
	}
	return a.Malloc(total)
}

// Realloc resizes a buffer. A nil buffer allocates like Malloc, size 0
// frees the buffer and returns nil. Resizes within the same usable size
// class keep the buffer in place, others copy into a fresh slab.
func (a *Arena) Realloc(buf []byte, size int) ([]byte, error) {
	if buf == nil {
		return a.Malloc(size)
	}
	if size == 0 {
		a.Free(buf)
		return nil, nil
	}
	if size < 0 {
		return nil, fmt.Errorf("%w: realloc to %d bytes from arena %q", ErrInvalidSize, size, a.name)
	}

	r := a.registry
	r.Lock()
	defer r.Unlock()

	key := unsafe.SliceData(buf)
	old, ok := r.buffers[key]
	if !ok || old.arena != a {
		return nil, fmt.Errorf("%w: realloc in arena %q", ErrForeignBuffer, a.name)
	}

	if usable := usableSize(size); usable == old.usable {
		return buf[:size:usable], nil
	}

	newBuf, err := a.alloc(size, 0)
	if err != nil {
		return nil, err
	}
	copy(newBuf, buf[:min(len(buf), size)])

	delete(r.buffers, key)
	a.used -= uint64(old.usable)

	return newBuf, nil
}

// AlignedAlloc allocates size bytes whose first byte is aligned to the
// given power-of-two alignment.
func (a *Arena) AlignedAlloc(alignment, size int) ([]byte, error) {
	if size < 0 {
		return nil, fmt.Errorf("%w: aligned alloc of %d bytes from arena %q", ErrInvalidSize, size, a.name)
	}
	if alignment <= 0 || alignment&(alignment-1) != 0 {
		return nil, fmt.Errorf("%w: alignment %d is not a power of two", ErrInvalidSize, alignment)
	}

	r := a.registry
	r.Lock()
	defer r.Unlock()

	return a.alloc(size, alignment)
}

// Free releases a buffer back to the arena. Freeing nil or a buffer the
// arena does not own is a no-op.
func (a *Arena) Free(buf []byte) {
	if len(buf) == 0 && cap(buf) == 0 {
		return
	}

	r := a.registry
	r.Lock()
	defer r.Unlock()

	key := unsafe.SliceData(buf)
	b, ok := r.buffers[key]
	if !ok || b.arena != a {
		return
	}

	delete(r.buffers, key)
	a.used -= uint64(b.usable)
}

// UsableSize returns the usable size of a live buffer of the arena, or
// 0 for buffers it does not own.
func (a *Arena) UsableSize(buf []byte) int {
	if len(buf) == 0 && cap(buf) == 0 {
		return 0
	}

	r := a.registry
	r.Lock()
	defer r.Unlock()

	b, ok := r.buffers[unsafe.SliceData(buf)]
	if !ok || b.arena != a {
		return 0
	}
	return b.usable
}

// Close releases the backing file of a file arena. Closing an ordinary
// arena is a no-op. Live buffers stay valid, only the capacity
// reservation is released.
func (a *Arena) Close() error {
	if a.file == nil {
		return nil
	}
	name := a.file.Name()
	err := a.file.Close()
	a.file = nil
	if rmErr := os.Remove(name); err == nil {
		err = rmErr
	}
	return err
}
