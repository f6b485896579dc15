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

import "fmt"

// Tracker allocates through memory kinds and keeps the usable size of
// live buffers accounted per partition. The policies read these counters
// to steer tier selection, so every allocation and release of policy
// managed memory must go through a tracker.
//
// The optional detector resolves buffers back to their owning kind for
// the operations which take no explicit kind. Without a detector those
// operations treat every buffer as unrecognized.
type Tracker struct {
	accounting *Accounting
	detector   Detector
}

// NewTracker returns a tracker using the given accounting and detector.
// A nil accounting falls back to the process-wide default. The detector
// may be nil.
func NewTracker(accounting *Accounting, detector Detector) *Tracker {
	if accounting == nil {
		accounting = DefaultAccounting()
	}
	return &Tracker{accounting: accounting, detector: detector}
}

// Accounting returns the accounting the tracker records usage in.
func (t *Tracker) Accounting() *Accounting {
	return t.accounting
}

// Malloc allocates size bytes from the given kind and accounts the
// usable size of the buffer. A failed allocation accounts nothing.
func (t *Tracker) Malloc(kind Kind, size int) ([]byte, error) {
	if kind == nil {
		return nil, fmt.Errorf("%w: malloc with nil kind", ErrInvalidKind)
	}
	buf, err := kind.Malloc(size)
	if buf != nil {
		t.accounting.Add(kind.Partition(), uint64(kind.UsableSize(buf)))
	}
	return buf, err
}

// Calloc allocates zeroed memory for count elements of size bytes each
// from the given kind.
func (t *Tracker) Calloc(kind Kind, count, size int) ([]byte, error) {
	if kind == nil {
		return nil, fmt.Errorf("%w: calloc with nil kind", ErrInvalidKind)
	}
	buf, err := kind.Calloc(count, size)
	if buf != nil {
		t.accounting.Add(kind.Partition(), uint64(kind.UsableSize(buf)))
	}
	return buf, err
}

// AlignedAlloc allocates size bytes aligned to the given power-of-two
// alignment from the given kind.
func (t *Tracker) AlignedAlloc(kind Kind, alignment, size int) ([]byte, error) {
	if kind == nil {
		return nil, fmt.Errorf("%w: aligned alloc with nil kind", ErrInvalidKind)
	}
	buf, err := kind.AlignedAlloc(alignment, size)
	if buf != nil {
		t.accounting.Add(kind.Partition(), uint64(kind.UsableSize(buf)))
	}
	return buf, err
}

// Realloc resizes a buffer within the given kind. A nil buffer
// allocates like Malloc, size 0 releases the buffer and returns nil.
//
// The old usable size is deducted before the kind resizes the buffer.
// If the resize fails the old buffer stays valid but is no longer
// accounted, mirroring that the caller will typically release it soon
// after. Callers who instead keep using the buffer see the counters
// under-report until they do.
func (t *Tracker) Realloc(kind Kind, buf []byte, size int) ([]byte, error) {
	if kind == nil {
		return nil, fmt.Errorf("%w: realloc with nil kind", ErrInvalidKind)
	}
	if size == 0 {
		t.KindFree(kind, buf)
		return nil, nil
	}
	if buf != nil {
		t.accounting.Sub(kind.Partition(), uint64(kind.UsableSize(buf)))
	}
	newBuf, err := kind.Realloc(buf, size)
	if newBuf != nil {
		t.accounting.Add(kind.Partition(), uint64(kind.UsableSize(newBuf)))
	}
	return newBuf, err
}

// KindFree releases a buffer back to the given kind, deducting its
// usable size before the release. A nil kind falls back to detection
// like Free. Freeing a nil buffer is a no-op.
func (t *Tracker) KindFree(kind Kind, buf []byte) {
	if kind == nil {
		t.Free(buf)
		return
	}
	if buf == nil {
		return
	}
	t.accounting.Sub(kind.Partition(), uint64(kind.UsableSize(buf)))
	kind.Free(buf)
}

// Free detects the owning kind of a buffer and releases it. Freeing
// nil or a buffer no configured kind recognizes is a no-op.
func (t *Tracker) Free(buf []byte) {
	if buf == nil {
		return
	}
	kind, ok := t.Detect(buf)
	if !ok {
		details.Debug("free of unrecognized buffer ignored")
		return
	}
	t.accounting.Sub(kind.Partition(), uint64(kind.UsableSize(buf)))
	kind.Free(buf)
}

// Detect resolves a buffer to its owning kind.
func (t *Tracker) Detect(buf []byte) (Kind, bool) {
	if t.detector == nil || buf == nil {
		return nil, false
	}
	return t.detector.DetectKind(buf)
}

// UsableSize returns the usable size of a buffer, or 0 if its owning
// kind cannot be detected.
func (t *Tracker) UsableSize(buf []byte) int {
	kind, ok := t.Detect(buf)
	if !ok {
		return 0
	}
	return kind.UsableSize(buf)
}

// AllocatedSize returns the accounted usable bytes currently allocated
// from the given kind.
func (t *Tracker) AllocatedSize(kind Kind) uint64 {
	if kind == nil {
		return 0
	}
	return t.accounting.AllocatedSize(kind.Partition())
}
