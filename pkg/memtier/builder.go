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
)

// Defaults for the dynamic-threshold adjustment loop.
const (
	// DefaultCheckInterval is the number of allocation operations
	// between two threshold adjustments.
	DefaultCheckInterval uint = 5
	// DefaultTrigger is the relative ratio distance below which an
	// adjustment is skipped.
	DefaultTrigger = 0.10
	// DefaultChange is the fraction of the current threshold value
	// applied as a single adjustment step.
	DefaultChange = 0.25
	// DefaultStep is the default distance between auto-generated
	// threshold values in bytes.
	DefaultStep uint64 = 1024
)

// TierConfig pairs a memory kind with its allocation ratio. In a builder
// the ratio is the raw weight given by the caller. Tiers reported by a
// built instance carry normalized ratios instead, with the first tier
// always at 1.0.
type TierConfig struct {
	Kind  Kind
	Ratio float64
}

// Builder accumulates a tiering configuration and finalizes it into an
// immutable TieredMemory instance. A zero builder is not usable, use
// NewBuilder. Builders are not safe for concurrent use.
//
// Build copies the accumulated configuration, so a builder stays usable
// after finalization. It can be adjusted further and built again, and
// the instances built earlier are unaffected.
type Builder struct {
	tracker       *Tracker
	policy        Policy
	tiers         []TierConfig
	thresholds    []ThresholdConfig
	checkInterval uint
	trigger       float64
	change        float64
	step          uint64
}

// BuilderOption is an opaque option for NewBuilder.
type BuilderOption func(*Builder)

// WithTracker makes built instances allocate through the given tracker
// instead of one using the process-wide default accounting.
func WithTracker(t *Tracker) BuilderOption {
	return func(b *Builder) {
		b.tracker = t
	}
}

// NewBuilder returns a builder with the static-threshold policy and
// default adjustment loop parameters.
func NewBuilder(options ...BuilderOption) *Builder {
	b := &Builder{
		policy:        PolicyStaticThreshold,
		checkInterval: DefaultCheckInterval,
		trigger:       DefaultTrigger,
		change:        DefaultChange,
		step:          DefaultStep,
	}
	for _, o := range options {
		o(b)
	}
	if b.tracker == nil {
		b.tracker = NewTracker(nil, nil)
	}
	return b
}

// AddTier appends a memory tier with the given allocation ratio. Tiers
// are ordered fastest first, and the ratio is a raw weight relative to
// the other tiers. Adding a kind twice, or two kinds sharing the same
// accounting partition, fails with ErrDuplicateKind and leaves the
// builder unchanged.
func (b *Builder) AddTier(kind Kind, ratio float64) error {
	if kind == nil {
		return fmt.Errorf("%w: nil kind", ErrInvalidKind)
	}
	partition := kind.Partition()
	if partition < 0 || partition >= MaxKinds {
		return fmt.Errorf("%w: kind %q: partition %d outside the accounting range [0-%d)",
			ErrInvalidKind, kind.Name(), partition, MaxKinds)
	}
	if math.IsNaN(ratio) || math.IsInf(ratio, 0) || ratio <= 0 {
		return fmt.Errorf("%w: kind %q: ratio %v is not a positive finite number",
			ErrInvalidKind, kind.Name(), ratio)
	}
	for _, t := range b.tiers {
		if t.Kind == kind || t.Kind.Partition() == partition {
			return fmt.Errorf("%w: kind %q", ErrDuplicateKind, kind.Name())
		}
	}

	b.tiers = append(b.tiers, TierConfig{Kind: kind, Ratio: ratio})
	return nil
}

// SetPolicy selects the tier selection policy for built instances.
func (b *Builder) SetPolicy(policy Policy) error {
	if !policy.known() {
		return fmt.Errorf("%w: policy %d", ErrInvalidPolicy, int(policy))
	}
	b.policy = policy
	return nil
}

// SetThreshold sets one field of the threshold with the given index,
// growing the chain with auto-generated thresholds as needed. The
// min <= value <= max and chain ordering invariants are not checked
// here, fields can be set in any order and the result is verified by
// Build.
func (b *Builder) SetThreshold(index int, field ThresholdField, value uint64) error {
	if err := b.ensureThresholds(index); err != nil {
		return err
	}
	t := &b.thresholds[index]
	switch field {
	case FieldValue:
		t.Value = value
	case FieldMin:
		t.Min = value
	case FieldMax:
		t.Max = value
	default:
		return fmt.Errorf("%w: %v", ErrInvalidThresholdConfig, field)
	}
	return nil
}

// SetCheckInterval sets the number of allocation operations between two
// threshold adjustments. 0 adjusts on every operation.
func (b *Builder) SetCheckInterval(count uint) {
	b.checkInterval = count
}

// SetTrigger sets the relative ratio distance below which a threshold
// adjustment is skipped.
func (b *Builder) SetTrigger(fraction float64) error {
	if math.IsNaN(fraction) || fraction < 0 {
		return fmt.Errorf("%w: trigger %v is not a non-negative number",
			ErrInvalidLoopParam, fraction)
	}
	b.trigger = fraction
	return nil
}

// SetChange sets the fraction of the current threshold value applied as
// a single adjustment.
func (b *Builder) SetChange(fraction float64) error {
	if math.IsNaN(fraction) || fraction < 0 {
		return fmt.Errorf("%w: change %v is not a non-negative number",
			ErrInvalidLoopParam, fraction)
	}
	b.change = fraction
	return nil
}

// SetStep sets the distance between auto-generated threshold values in
// bytes. The step only affects thresholds generated after the call.
// Steps below 2 generate thresholds which cannot pass finalization.
func (b *Builder) SetStep(step uint64) {
	b.step = step
}

// Policy returns the currently selected policy.
func (b *Builder) Policy() Policy {
	return b.policy
}

// Tiers returns a copy of the configured tiers with their raw ratios.
func (b *Builder) Tiers() []TierConfig {
	return append([]TierConfig{}, b.tiers...)
}

// Thresholds returns a copy of the accumulated threshold chain.
func (b *Builder) Thresholds() []ThresholdConfig {
	return append([]ThresholdConfig{}, b.thresholds...)
}

// CheckInterval returns the configured adjustment interval.
func (b *Builder) CheckInterval() uint {
	return b.checkInterval
}

// Trigger returns the configured adjustment trigger fraction.
func (b *Builder) Trigger() float64 {
	return b.trigger
}

// Change returns the configured adjustment change fraction.
func (b *Builder) Change() float64 {
	return b.change
}

// Step returns the configured threshold generation step.
func (b *Builder) Step() uint64 {
	return b.step
}

// Build finalizes the accumulated configuration into a TieredMemory
// instance. For the dynamic-threshold policy it verifies that at least
// two tiers are configured, extends the threshold chain to cover every
// adjacent tier pair, and checks the per-threshold and chain ordering
// invariants. The instance gets a deep copy of the configuration.
func (b *Builder) Build() (*TieredMemory, error) {
	if len(b.tiers) == 0 {
		return nil, fmt.Errorf("%w: cannot build an instance", ErrEmptyConfiguration)
	}

	m := &TieredMemory{
		tracker:       b.tracker,
		policy:        b.policy,
		trigger:       b.trigger,
		change:        b.change,
		checkInterval: int64(b.checkInterval),
		tiers:         make([]tierState, len(b.tiers)),
	}

	for i, t := range b.tiers {
		ratio := 1.0
		if i > 0 {
			ratio = b.tiers[0].Ratio / t.Ratio
		}
		m.tiers[i] = tierState{kind: t.Kind, ratio: ratio}
	}

	switch b.policy {
	case PolicyStaticThreshold:
	case PolicyDynamicThreshold:
		if len(b.tiers) < 2 {
			return nil, fmt.Errorf("%w: policy %v needs at least 2 tiers, have %d",
				ErrInsufficientTiers, b.policy, len(b.tiers))
		}
		count := len(b.tiers) - 1
		if err := b.ensureThresholds(count - 1); err != nil {
			return nil, err
		}
		thresholds := b.thresholds[:count]
		if err := validateThresholds(thresholds); err != nil {
			return nil, err
		}
		m.thresholds = make([]thresholdState, count)
		for i := range thresholds {
			s := &m.thresholds[i]
			s.min = thresholds[i].Min
			s.max = thresholds[i].Max
			s.target = b.tiers[i+1].Ratio / b.tiers[i].Ratio
			s.value.Store(thresholds[i].Value)
		}
	default:
		return nil, fmt.Errorf("%w: policy %d", ErrUnrecognizedPolicy, int(b.policy))
	}

	m.countdown.Store(m.checkInterval)

	log.Debug("built %v instance with %d tiers", m.policy, len(m.tiers))
	m.DumpConfig()

	return m, nil
}
