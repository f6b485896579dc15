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

package memtier

// Kind is one backing memory allocation domain with distinct performance
// and capacity characteristics. The policy engine never touches raw memory
// layout itself; it only decides which Kind services a request and tracks
// the resulting usable sizes.
type Kind interface {
	// Name returns the name of this kind.
	Name() string
	// Partition returns the stable index of this kind in the accounting
	// table. It must be in the range [0, MaxKinds).
	Partition() int
	// Malloc allocates a buffer of at least size bytes.
	Malloc(size int) ([]byte, error)
	// Calloc allocates a zeroed buffer for n objects of size bytes each.
	Calloc(n, size int) ([]byte, error)
	// Realloc resizes a previously allocated buffer. A nil buf behaves
	// like Malloc, a zero size like Free (returning a nil buffer).
	Realloc(buf []byte, size int) ([]byte, error)
	// AlignedAlloc allocates a buffer of at least size bytes whose first
	// byte is aligned to align, which must be a power of two.
	AlignedAlloc(align, size int) ([]byte, error)
	// Free releases a buffer previously returned by this kind.
	Free(buf []byte)
	// UsableSize returns the usable size of a buffer allocated from this
	// kind, which may exceed the requested size.
	UsableSize(buf []byte) int
}

// Detector recovers the kind owning a live buffer.
type Detector interface {
	// DetectKind returns the kind the buffer was allocated from, or
	// false if the buffer is not recognized.
	DetectKind(buf []byte) (Kind, bool)
}
