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

// MaxThresholds is the maximum length of a threshold chain. Growing the
// chain past it fails with ErrAllocationFailure.
const MaxThresholds = 65536

// ThresholdConfig is the byte-size boundary between two adjacent tiers
// under the dynamic-threshold policy. Value must stay within [Min, Max],
// and the ranges of adjacent thresholds must be ascending and disjoint.
// Both invariants are enforced when a builder is finalized, not when
// individual fields are set.
type ThresholdConfig struct {
	Value uint64 `json:"value"`
	Min   uint64 `json:"min"`
	Max   uint64 `json:"max"`
}

// String returns a compact representation of the threshold.
func (t ThresholdConfig) String() string {
	return fmt.Sprintf("%d in [%d-%d]", t.Value, t.Min, t.Max)
}

// ThresholdField addresses one settable field of a ThresholdConfig.
type ThresholdField int

const (
	// FieldValue addresses the current boundary value.
	FieldValue ThresholdField = iota
	// FieldMin addresses the lower bound of the adjustment range.
	FieldMin
	// FieldMax addresses the upper bound of the adjustment range.
	FieldMax
)

// String returns the configuration-path name of the field.
func (f ThresholdField) String() string {
	switch f {
	case FieldValue:
		return "val"
	case FieldMin:
		return "min"
	case FieldMax:
		return "max"
	}
	return fmt.Sprintf("unknown field %d", int(f))
}

// nextThreshold generates the threshold following prev with the given
// step size, or the first threshold of a chain if prev is nil. Generated
// ranges span exactly step bytes and never overlap, so auto-generated
// chains are strictly ascending by construction.
func nextThreshold(prev *ThresholdConfig, step uint64) ThresholdConfig {
	if prev == nil {
		min := step / 2
		return ThresholdConfig{
			Value: step,
			Min:   min,
			Max:   min + step - 1,
		}
	}
	min := prev.Max + 1
	return ThresholdConfig{
		Value: prev.Max + step/2,
		Min:   min,
		Max:   min + step - 1,
	}
}

// ensureThresholds grows the builder's threshold chain to cover the given
// index, generating any missing entries. Growing to an already covered
// index is a no-op.
func (b *Builder) ensureThresholds(index int) error {
	if index < 0 {
		return fmt.Errorf("%w: negative threshold index %d", ErrInvalidThresholdConfig, index)
	}
	if index >= MaxThresholds {
		return fmt.Errorf("%w: cannot grow threshold chain to %d entries (max %d)",
			ErrAllocationFailure, index+1, MaxThresholds)
	}

	for len(b.thresholds) <= index {
		var prev *ThresholdConfig
		if n := len(b.thresholds); n > 0 {
			prev = &b.thresholds[n-1]
		}
		b.thresholds = append(b.thresholds, nextThreshold(prev, b.step))
	}

	return nil
}

// validateThresholds checks the finalize-time threshold invariants.
func validateThresholds(thresholds []ThresholdConfig) error {
	for i := range thresholds {
		t := &thresholds[i]
		if t.Min > t.Value || t.Value > t.Max {
			return fmt.Errorf("%w: threshold %d: value %d outside range [%d-%d]",
				ErrInvalidThresholdConfig, i, t.Value, t.Min, t.Max)
		}
		if i > 0 && thresholds[i-1].Max >= t.Min {
			return fmt.Errorf("%w: thresholds %d and %d overlap: max %d >= min %d",
				ErrInvalidThresholdConfig, i-1, i, thresholds[i-1].Max, t.Min)
		}
	}
	return nil
}
