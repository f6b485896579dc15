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

import (
	"fmt"
	"math"
	"sync/atomic"
)

// tierState is one tier of a built instance. The ratio is normalized
// against the first tier, which is always at 1.0.
type tierState struct {
	kind  Kind
	ratio float64
}

// thresholdState is the runtime state of one tier boundary. Only the
// boundary value moves after Build, the adjustment range and the target
// ratio are immutable.
type thresholdState struct {
	value  atomic.Uint64
	min    uint64
	max    uint64
	target float64
}

// TieredMemory routes allocations to one of its memory tiers according
// to the configured policy and keeps per-kind usage accounted. Instances
// are built with Builder.Build and are safe for concurrent use to the
// degree the underlying kinds are: the moving parts of the instance
// itself, the adjustment countdown and the threshold values, are updated
// atomically one field at a time.
type TieredMemory struct {
	tracker       *Tracker
	policy        Policy
	tiers         []tierState
	thresholds    []thresholdState
	countdown     atomic.Int64
	checkInterval int64
	trigger       float64
	change        float64
}

// Malloc allocates size bytes from the tier selected by the policy.
func (m *TieredMemory) Malloc(size int) ([]byte, error) {
	kind, err := m.selectKind(size)
	if err != nil {
		return nil, err
	}
	buf, err := m.tracker.Malloc(kind, size)
	m.updateThresholds()
	return buf, err
}

// Calloc allocates zeroed memory for count elements of size bytes each.
// The tier is selected on the element size, not the total.
func (m *TieredMemory) Calloc(count, size int) ([]byte, error) {
	kind, err := m.selectKind(size)
	if err != nil {
		return nil, err
	}
	buf, err := m.tracker.Calloc(kind, count, size)
	m.updateThresholds()
	return buf, err
}

// AlignedAlloc allocates size bytes aligned to the given power-of-two
// alignment from the tier selected by the policy.
func (m *TieredMemory) AlignedAlloc(alignment, size int) ([]byte, error) {
	kind, err := m.selectKind(size)
	if err != nil {
		return nil, err
	}
	buf, err := m.tracker.AlignedAlloc(kind, alignment, size)
	m.updateThresholds()
	return buf, err
}

// Realloc resizes a buffer within its owning tier. A nil buffer
// allocates like Malloc, size 0 frees the buffer and returns nil. The
// buffer never migrates to another tier, even if the policy would place
// a fresh allocation of the new size elsewhere. Resizing a buffer whose
// owning kind cannot be detected fails with ErrUnknownKind and leaves
// the buffer intact.
func (m *TieredMemory) Realloc(buf []byte, size int) ([]byte, error) {
	if buf == nil {
		return m.Malloc(size)
	}
	if size == 0 {
		m.Free(buf)
		return nil, nil
	}
	kind, ok := m.tracker.Detect(buf)
	if !ok {
		return nil, fmt.Errorf("%w: realloc of unrecognized buffer", ErrUnknownKind)
	}
	newBuf, err := m.tracker.Realloc(kind, buf, size)
	m.updateThresholds()
	return newBuf, err
}

// Free releases a buffer back to its owning tier. Freeing nil or a
// buffer whose owning kind cannot be detected is a no-op.
func (m *TieredMemory) Free(buf []byte) {
	m.tracker.Free(buf)
	m.updateThresholds()
}

// UsableSize returns the usable size of a buffer allocated from this
// instance, or 0 if its owning kind cannot be detected.
func (m *TieredMemory) UsableSize(buf []byte) int {
	return m.tracker.UsableSize(buf)
}

// AllocatedSize returns the accounted usable bytes currently allocated
// from the given kind.
func (m *TieredMemory) AllocatedSize(kind Kind) uint64 {
	return m.tracker.AllocatedSize(kind)
}

// Policy returns the policy the instance was built with.
func (m *TieredMemory) Policy() Policy {
	return m.policy
}

// Tiers returns the tiers of the instance with their normalized ratios.
func (m *TieredMemory) Tiers() []TierConfig {
	tiers := make([]TierConfig, len(m.tiers))
	for i, t := range m.tiers {
		tiers[i] = TierConfig{Kind: t.kind, Ratio: t.ratio}
	}
	return tiers
}

// Thresholds returns a snapshot of the tier boundaries. The returned
// slice is empty for instances built with the static-threshold policy.
func (m *TieredMemory) Thresholds() []ThresholdConfig {
	thresholds := make([]ThresholdConfig, len(m.thresholds))
	for i := range m.thresholds {
		s := &m.thresholds[i]
		thresholds[i] = ThresholdConfig{
			Value: s.value.Load(),
			Min:   s.min,
			Max:   s.max,
		}
	}
	return thresholds
}

// Tracker returns the allocation tracker of the instance.
func (m *TieredMemory) Tracker() *Tracker {
	return m.tracker
}

// selectKind picks the tier for an allocation of the given size.
func (m *TieredMemory) selectKind(size int) (Kind, error) {
	switch m.policy {
	case PolicyStaticThreshold:
		return m.staticKind(), nil
	case PolicyDynamicThreshold:
		return m.dynamicKind(size), nil
	}
	return nil, fmt.Errorf("%w: policy %d", ErrUnrecognizedPolicy, int(m.policy))
}

// staticKind selects the last tier whose normalized allocated size is
// still below the allocated size of the first tier. With nothing below,
// the first tier wins.
func (m *TieredMemory) staticKind() Kind {
	tier := 0
	first := m.tracker.AllocatedSize(m.tiers[0].kind)
	for i := 1; i < len(m.tiers); i++ {
		allocated := m.tracker.AllocatedSize(m.tiers[i].kind)
		if uint64(float64(allocated)*m.tiers[i].ratio) < first {
			tier = i
		}
	}
	return m.tiers[tier].kind
}

// dynamicKind selects the first tier whose boundary the allocation size
// stays below. Sizes beyond every boundary land in the last tier.
func (m *TieredMemory) dynamicKind(size int) Kind {
	for i := range m.thresholds {
		if uint64(size) < m.thresholds[i].value.Load() {
			return m.tiers[i].kind
		}
	}
	return m.tiers[len(m.tiers)-1].kind
}

// updateThresholds runs one step of the boundary adjustment loop. It is
// called once per allocation operation and acts every checkInterval
// calls. For every adjacent tier pair the loop compares the allocated
// size ratio against the target derived from the configured tier ratios
// and moves the boundary by change*value towards the target, but only
// if the moved boundary stays within its [min, max] range. An empty
// lower tier always pulls the boundary up, it cannot attract more
// allocations in any other way.
func (m *TieredMemory) updateThresholds() {
	if m.policy != PolicyDynamicThreshold {
		return
	}
	if m.countdown.Add(-1) > 0 {
		return
	}
	m.countdown.Store(m.checkInterval)

	for i := range m.thresholds {
		s := &m.thresholds[i]
		lower := m.tracker.AllocatedSize(m.tiers[i].kind)
		upper := m.tracker.AllocatedSize(m.tiers[i+1].kind)

		raise := true
		if lower != 0 {
			current := float64(upper) / float64(lower)
			if math.Abs(current-s.target) < m.trigger {
				continue
			}
			raise = current > s.target
		}

		value := s.value.Load()
		delta := uint64(float64(value) * m.change)
		if raise {
			if moved := value + delta; moved >= value && moved <= s.max {
				s.value.Store(moved)
				details.Debug("threshold %d raised to %d", i, moved)
			}
		} else {
			if value >= delta && value-delta >= s.min {
				s.value.Store(value - delta)
				details.Debug("threshold %d lowered to %d", i, value-delta)
			}
		}
	}
}
