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
	"testing"

	"github.com/stretchr/testify/require"

	. "github.com/intel/libmemtier/pkg/memtier"
)

func TestParsePolicy(t *testing.T) {
	type testCase struct {
		name   string
		policy Policy
		fails  bool
	}

	for _, tc := range []*testCase{
		{
			name:   "STATIC_THRESHOLD",
			policy: PolicyStaticThreshold,
		},
		{
			name:   "DYNAMIC_THRESHOLD",
			policy: PolicyDynamicThreshold,
		},
		{
			name:  "ADAPTIVE",
			fails: true,
		},
		{
			name:  "",
			fails: true,
		},
	} {
		t.Run(tc.name+" parse", func(t *testing.T) {
			policy, err := ParsePolicy(tc.name)
			if tc.fails {
				require.ErrorIs(t, err, ErrUnrecognizedPolicy, "unknown name should fail")
				return
			}
			require.Nil(t, err, "unexpected ParsePolicy() error")
			require.Equal(t, tc.policy, policy, "unexpected parsed policy")
			require.Equal(t, tc.name, policy.String(), "String() should round-trip the name")
		})
	}
}

// allocKind resolves which arena a policy routed an allocation of the
// given size to, then releases the probe so counters are unaffected.
func allocKind(t *testing.T, m *TieredMemory, size int) string {
	t.Helper()

	buf, err := m.Malloc(size)
	require.Nil(t, err, "unexpected Malloc() error")
	require.NotNil(t, buf, "unexpected nil buffer")

	kind, ok := m.Tracker().Detect(buf)
	require.True(t, ok, "allocated buffer should be detectable")

	m.Free(buf)
	return kind.Name()
}

func TestStaticThresholdSelection(t *testing.T) {
	tracker, arenas := newTestArenas(t, "dram", "pmem")
	b := NewBuilder(WithTracker(tracker))

	// Raw ratios 4:1 normalize tier 1 to 4.0.
	require.Nil(t, b.AddTier(arenas[0], 4), "unexpected AddTier() error")
	require.Nil(t, b.AddTier(arenas[1], 1), "unexpected AddTier() error")

	m, err := b.Build()
	require.Nil(t, err, "unexpected Build() error")

	require.Equal(t, "dram", allocKind(t, m, 16), "empty tiers should route to the first tier")

	seed0, err := tracker.Malloc(arenas[0], 1024)
	require.Nil(t, err, "unexpected tracker Malloc() error")
	seed1, err := tracker.Malloc(arenas[1], 112)
	require.Nil(t, err, "unexpected tracker Malloc() error")

	// 112 * 4.0 = 448 < 1024, the second tier lags behind.
	require.Equal(t, "pmem", allocKind(t, m, 16), "lagging tier should win")

	grow, err := tracker.Malloc(arenas[1], 304)
	require.Nil(t, err, "unexpected tracker Malloc() error")

	// 416 * 4.0 = 1664 >= 1024, the second tier caught up.
	require.Equal(t, "dram", allocKind(t, m, 16), "caught-up tier should lose to the first")

	tracker.KindFree(arenas[0], seed0)
	tracker.KindFree(arenas[1], seed1)
	tracker.KindFree(arenas[1], grow)
}

func TestStaticThresholdLastWins(t *testing.T) {
	tracker, arenas := newTestArenas(t, "hbm", "dram", "pmem")
	b := NewBuilder(WithTracker(tracker))

	// Raw ratios 4:2:1 normalize to 1.0, 2.0, 4.0.
	require.Nil(t, b.AddTier(arenas[0], 4), "unexpected AddTier() error")
	require.Nil(t, b.AddTier(arenas[1], 2), "unexpected AddTier() error")
	require.Nil(t, b.AddTier(arenas[2], 1), "unexpected AddTier() error")

	m, err := b.Build()
	require.Nil(t, err, "unexpected Build() error")

	seed0, err := tracker.Malloc(arenas[0], 1024)
	require.Nil(t, err, "unexpected tracker Malloc() error")
	seed1, err := tracker.Malloc(arenas[1], 256)
	require.Nil(t, err, "unexpected tracker Malloc() error")
	seed2, err := tracker.Malloc(arenas[2], 240)
	require.Nil(t, err, "unexpected tracker Malloc() error")

	// Both 256*2.0 and 240*4.0 lag behind 1024, the scan keeps the
	// last lagging tier.
	require.Equal(t, "pmem", allocKind(t, m, 16), "the last lagging tier should win")

	tracker.KindFree(arenas[0], seed0)
	tracker.KindFree(arenas[1], seed1)
	tracker.KindFree(arenas[2], seed2)
}

func TestDynamicThresholdSelection(t *testing.T) {
	tracker, arenas := newTestArenas(t, "hbm", "dram", "pmem")
	b := NewBuilder(WithTracker(tracker))

	require.Nil(t, b.SetPolicy(PolicyDynamicThreshold), "unexpected SetPolicy() error")
	// Keep the boundaries still while probing.
	b.SetCheckInterval(1 << 20)
	for _, a := range arenas {
		require.Nil(t, b.AddTier(a, 1), "unexpected AddTier() error")
	}

	m, err := b.Build()
	require.Nil(t, err, "unexpected Build() error")

	// Generated boundaries sit at 1024 and 2047.
	require.Equal(t, "hbm", allocKind(t, m, 500), "small allocation should go to the first tier")
	require.Equal(t, "hbm", allocKind(t, m, 1023), "allocation below the boundary should go to the first tier")
	require.Equal(t, "dram", allocKind(t, m, 1024), "allocation at the boundary should go to the next tier")
	require.Equal(t, "dram", allocKind(t, m, 1500), "mid-range allocation should go to the middle tier")
	require.Equal(t, "pmem", allocKind(t, m, 2047), "allocation at the last boundary should go to the last tier")
	require.Equal(t, "pmem", allocKind(t, m, 1<<20), "big allocation should go to the last tier")
}

func TestCallocSelectsOnElementSize(t *testing.T) {
	tracker, arenas := newTestArenas(t, "dram", "pmem")
	b := NewBuilder(WithTracker(tracker))

	require.Nil(t, b.SetPolicy(PolicyDynamicThreshold), "unexpected SetPolicy() error")
	b.SetCheckInterval(1 << 20)
	require.Nil(t, b.AddTier(arenas[0], 1), "unexpected AddTier() error")
	require.Nil(t, b.AddTier(arenas[1], 1), "unexpected AddTier() error")

	m, err := b.Build()
	require.Nil(t, err, "unexpected Build() error")

	// 10 elements of 200 bytes: the total crosses the 1024 boundary
	// but the element size is what the policy sees.
	buf, err := m.Calloc(10, 200)
	require.Nil(t, err, "unexpected Calloc() error")
	require.Len(t, buf, 2000, "unexpected buffer length")

	kind, ok := m.Tracker().Detect(buf)
	require.True(t, ok, "allocated buffer should be detectable")
	require.Equal(t, "dram", kind.Name(), "element size should drive tier selection")

	for _, c := range buf {
		require.Zero(t, c, "calloc buffer should be zeroed")
	}

	m.Free(buf)
}
