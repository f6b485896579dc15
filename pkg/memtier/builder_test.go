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

package memtier_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	. "github.com/intel/libmemtier/pkg/memtier"
	"github.com/intel/libmemtier/pkg/memtier/kinds"
)

// newTestArenas returns a tracker with its own accounting and one
// unlimited arena per name, in partition order.
func newTestArenas(t *testing.T, names ...string) (*Tracker, []*kinds.Arena) {
	t.Helper()

	registry := kinds.NewRegistry()
	tracker := NewTracker(NewAccounting(), registry)

	arenas := make([]*kinds.Arena, 0, len(names))
	for _, name := range names {
		a, err := registry.NewArena(name, 0)
		require.Nil(t, err, "unexpected NewArena() error")
		arenas = append(arenas, a)
	}

	return tracker, arenas
}

func TestAddTierValidation(t *testing.T) {
	tracker, arenas := newTestArenas(t, "dram", "pmem")
	b := NewBuilder(WithTracker(tracker))

	err := b.AddTier(nil, 1)
	require.ErrorIs(t, err, ErrInvalidKind, "nil kind should be rejected")

	err = b.AddTier(&stubKind{name: "low", partition: -1}, 1)
	require.ErrorIs(t, err, ErrInvalidKind, "negative partition should be rejected")

	err = b.AddTier(&stubKind{name: "high", partition: MaxKinds}, 1)
	require.ErrorIs(t, err, ErrInvalidKind, "out-of-range partition should be rejected")

	err = b.AddTier(arenas[0], 0)
	require.ErrorIs(t, err, ErrInvalidKind, "zero ratio should be rejected")

	err = b.AddTier(arenas[0], -2)
	require.ErrorIs(t, err, ErrInvalidKind, "negative ratio should be rejected")

	err = b.AddTier(arenas[0], math.NaN())
	require.ErrorIs(t, err, ErrInvalidKind, "NaN ratio should be rejected")

	err = b.AddTier(arenas[0], 4)
	require.Nil(t, err, "unexpected AddTier() error")

	err = b.AddTier(arenas[0], 1)
	require.ErrorIs(t, err, ErrDuplicateKind, "re-added kind should be rejected")

	err = b.AddTier(&stubKind{name: "alias", partition: arenas[0].Partition()}, 1)
	require.ErrorIs(t, err, ErrDuplicateKind, "kind sharing a partition should be rejected")

	tiers := b.Tiers()
	require.Len(t, tiers, 1, "failed additions should leave the builder unchanged")
	require.Equal(t, 4.0, tiers[0].Ratio, "failed additions should leave the builder unchanged")
}

func TestBuildValidation(t *testing.T) {
	tracker, arenas := newTestArenas(t, "dram", "pmem")

	b := NewBuilder(WithTracker(tracker))
	_, err := b.Build()
	require.ErrorIs(t, err, ErrEmptyConfiguration, "building without tiers should fail")

	require.Nil(t, b.SetPolicy(PolicyDynamicThreshold), "unexpected SetPolicy() error")
	require.Nil(t, b.AddTier(arenas[0], 1), "unexpected AddTier() error")
	_, err = b.Build()
	require.ErrorIs(t, err, ErrInsufficientTiers, "dynamic policy with one tier should fail")

	require.Nil(t, b.AddTier(arenas[1], 1), "unexpected AddTier() error")
	m, err := b.Build()
	require.Nil(t, err, "unexpected Build() error")
	require.NotNil(t, m, "unexpected nil instance")
}

func TestSingleTierBuild(t *testing.T) {
	tracker, arenas := newTestArenas(t, "dram")
	b := NewBuilder(WithTracker(tracker))

	require.Nil(t, b.AddTier(arenas[0], 3), "unexpected AddTier() error")
	m, err := b.Build()
	require.Nil(t, err, "a single static tier should build")

	tiers := m.Tiers()
	require.Len(t, tiers, 1, "unexpected tier count")
	require.Equal(t, 1.0, tiers[0].Ratio, "single tier ratio should normalize to 1")

	buf, err := m.Malloc(100)
	require.Nil(t, err, "unexpected Malloc() error")
	require.Equal(t, uint64(112), m.AllocatedSize(arenas[0]), "allocation should land in the only tier")
	m.Free(buf)
}

func TestSetPolicy(t *testing.T) {
	b := NewBuilder()
	require.Equal(t, PolicyStaticThreshold, b.Policy(), "default policy should be static")

	err := b.SetPolicy(Policy(42))
	require.ErrorIs(t, err, ErrInvalidPolicy, "unknown policy should be rejected")
	require.Equal(t, PolicyStaticThreshold, b.Policy(), "failed SetPolicy() should leave the builder unchanged")

	require.Nil(t, b.SetPolicy(PolicyDynamicThreshold), "unexpected SetPolicy() error")
	require.Equal(t, PolicyDynamicThreshold, b.Policy(), "policy should be updated")
}

func TestLoopParamSetters(t *testing.T) {
	b := NewBuilder()

	require.Equal(t, DefaultCheckInterval, b.CheckInterval(), "unexpected default check interval")
	require.Equal(t, DefaultTrigger, b.Trigger(), "unexpected default trigger")
	require.Equal(t, DefaultChange, b.Change(), "unexpected default change")
	require.Equal(t, DefaultStep, b.Step(), "unexpected default step")

	err := b.SetTrigger(-0.1)
	require.ErrorIs(t, err, ErrInvalidLoopParam, "negative trigger should be rejected")
	err = b.SetChange(-1)
	require.ErrorIs(t, err, ErrInvalidLoopParam, "negative change should be rejected")

	require.Nil(t, b.SetTrigger(0.5), "unexpected SetTrigger() error")
	require.Nil(t, b.SetChange(0.125), "unexpected SetChange() error")
	b.SetCheckInterval(17)
	b.SetStep(4096)

	require.Equal(t, 0.5, b.Trigger(), "trigger should be updated")
	require.Equal(t, 0.125, b.Change(), "change should be updated")
	require.Equal(t, uint(17), b.CheckInterval(), "check interval should be updated")
	require.Equal(t, uint64(4096), b.Step(), "step should be updated")
}

func TestNormalizedRatios(t *testing.T) {
	tracker, arenas := newTestArenas(t, "hbm", "dram", "pmem")
	b := NewBuilder(WithTracker(tracker))

	require.Nil(t, b.AddTier(arenas[0], 4), "unexpected AddTier() error")
	require.Nil(t, b.AddTier(arenas[1], 2), "unexpected AddTier() error")
	require.Nil(t, b.AddTier(arenas[2], 1), "unexpected AddTier() error")

	m, err := b.Build()
	require.Nil(t, err, "unexpected Build() error")

	tiers := m.Tiers()
	require.Len(t, tiers, 3, "instance should have all configured tiers")
	require.Equal(t, 1.0, tiers[0].Ratio, "first tier ratio should normalize to 1")
	require.Equal(t, 2.0, tiers[1].Ratio, "unexpected normalized ratio")
	require.Equal(t, 4.0, tiers[2].Ratio, "unexpected normalized ratio")
}

func TestThresholdGeneration(t *testing.T) {
	tracker, arenas := newTestArenas(t, "hbm", "dram", "pmem")
	b := NewBuilder(WithTracker(tracker))

	require.Nil(t, b.SetPolicy(PolicyDynamicThreshold), "unexpected SetPolicy() error")
	for _, a := range arenas {
		require.Nil(t, b.AddTier(a, 1), "unexpected AddTier() error")
	}

	m, err := b.Build()
	require.Nil(t, err, "unexpected Build() error")

	require.Equal(t, []ThresholdConfig{
		{Value: 1024, Min: 512, Max: 1535},
		{Value: 2047, Min: 1536, Max: 2559},
	}, m.Thresholds(), "unexpected generated threshold chain")
}

func TestThresholdChainProperties(t *testing.T) {
	for _, step := range []uint64{2, 3, 5, 16, 100, 1024, 4096} {
		t.Run(FormatSize(step)+" step", func(t *testing.T) {
			tracker, arenas := newTestArenas(t, "t0", "t1", "t2", "t3", "t4")
			b := NewBuilder(WithTracker(tracker))

			require.Nil(t, b.SetPolicy(PolicyDynamicThreshold), "unexpected SetPolicy() error")
			b.SetStep(step)
			for _, a := range arenas {
				require.Nil(t, b.AddTier(a, 1), "unexpected AddTier() error")
			}

			m, err := b.Build()
			require.Nil(t, err, "unexpected Build() error")

			thresholds := m.Thresholds()
			require.Len(t, thresholds, len(arenas)-1, "one threshold per adjacent tier pair")
			for i, th := range thresholds {
				require.LessOrEqual(t, th.Min, th.Value, "threshold %d value below min", i)
				require.LessOrEqual(t, th.Value, th.Max, "threshold %d value above max", i)
				if i > 0 {
					require.Less(t, thresholds[i-1].Max, th.Min,
						"threshold ranges %d and %d overlap", i-1, i)
					require.Less(t, thresholds[i-1].Value, th.Value,
						"threshold values %d and %d out of order", i-1, i)
				}
			}
		})
	}
}

func TestThresholdStepTooSmall(t *testing.T) {
	tracker, arenas := newTestArenas(t, "dram", "pmem")
	b := NewBuilder(WithTracker(tracker))

	require.Nil(t, b.SetPolicy(PolicyDynamicThreshold), "unexpected SetPolicy() error")
	b.SetStep(1)
	for _, a := range arenas {
		require.Nil(t, b.AddTier(a, 1), "unexpected AddTier() error")
	}

	_, err := b.Build()
	require.ErrorIs(t, err, ErrInvalidThresholdConfig, "step 1 should generate an unbuildable chain")
}

func TestSetThreshold(t *testing.T) {
	b := NewBuilder()

	err := b.SetThreshold(-1, FieldValue, 100)
	require.ErrorIs(t, err, ErrInvalidThresholdConfig, "negative index should be rejected")

	err = b.SetThreshold(MaxThresholds, FieldValue, 100)
	require.ErrorIs(t, err, ErrAllocationFailure, "growing past the chain limit should fail")

	require.Nil(t, b.SetThreshold(2, FieldValue, 5000), "unexpected SetThreshold() error")
	thresholds := b.Thresholds()
	require.Len(t, thresholds, 3, "setting index 2 should grow the chain to 3 entries")
	require.Equal(t, uint64(1024), thresholds[0].Value, "entry 0 should be auto-generated")
	require.Equal(t, uint64(2047), thresholds[1].Value, "entry 1 should be auto-generated")
	require.Equal(t, uint64(5000), thresholds[2].Value, "entry 2 should carry the set value")

	require.Nil(t, b.SetThreshold(0, FieldMin, 100), "unexpected SetThreshold() error")
	require.Nil(t, b.SetThreshold(0, FieldMax, 2000), "unexpected SetThreshold() error")
	thresholds = b.Thresholds()
	require.Equal(t, ThresholdConfig{Value: 1024, Min: 100, Max: 2000}, thresholds[0],
		"field sets should only touch the addressed field")
}

func TestBuildInvalidThresholds(t *testing.T) {
	tracker, arenas := newTestArenas(t, "dram", "pmem", "swap")

	b := NewBuilder(WithTracker(tracker))
	require.Nil(t, b.SetPolicy(PolicyDynamicThreshold), "unexpected SetPolicy() error")
	for _, a := range arenas[:2] {
		require.Nil(t, b.AddTier(a, 1), "unexpected AddTier() error")
	}

	require.Nil(t, b.SetThreshold(0, FieldMin, 2000), "unexpected SetThreshold() error")
	_, err := b.Build()
	require.ErrorIs(t, err, ErrInvalidThresholdConfig, "value below min should fail finalization")

	require.Nil(t, b.SetThreshold(0, FieldMin, 512), "unexpected SetThreshold() error")
	m, err := b.Build()
	require.Nil(t, err, "builder should be reusable after a failed Build()")
	require.NotNil(t, m, "unexpected nil instance")

	require.Nil(t, b.AddTier(arenas[2], 1), "unexpected AddTier() error")
	require.Nil(t, b.SetThreshold(1, FieldMin, 1000), "unexpected SetThreshold() error")
	_, err = b.Build()
	require.ErrorIs(t, err, ErrInvalidThresholdConfig, "overlapping ranges should fail finalization")
}

func TestBuilderReuse(t *testing.T) {
	tracker, arenas := newTestArenas(t, "dram", "pmem")
	b := NewBuilder(WithTracker(tracker))

	require.Nil(t, b.SetPolicy(PolicyDynamicThreshold), "unexpected SetPolicy() error")
	for _, a := range arenas {
		require.Nil(t, b.AddTier(a, 1), "unexpected AddTier() error")
	}

	m1, err := b.Build()
	require.Nil(t, err, "unexpected Build() error")

	require.Nil(t, b.SetThreshold(0, FieldValue, 600), "unexpected SetThreshold() error")
	m2, err := b.Build()
	require.Nil(t, err, "unexpected Build() error")

	require.Equal(t, uint64(1024), m1.Thresholds()[0].Value,
		"instances should not see builder changes made after Build()")
	require.Equal(t, uint64(600), m2.Thresholds()[0].Value,
		"rebuilt instance should carry the new value")
}

// stubKind is a non-allocating Kind for exercising tier validation.
type stubKind struct {
	name      string
	partition int
}

func (k *stubKind) Name() string                                 { return k.name }
func (k *stubKind) Partition() int                               { return k.partition }
func (k *stubKind) Malloc(size int) ([]byte, error)              { return nil, nil }
func (k *stubKind) Calloc(n, size int) ([]byte, error)           { return nil, nil }
func (k *stubKind) Realloc(buf []byte, size int) ([]byte, error) { return nil, nil }
func (k *stubKind) AlignedAlloc(align, size int) ([]byte, error) { return nil, nil }
func (k *stubKind) Free(buf []byte)                              {}
func (k *stubKind) UsableSize(buf []byte) int                    { return 0 }
