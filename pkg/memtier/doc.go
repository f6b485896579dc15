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

// Package memtier implements policy-driven allocation of memory from a
// set of tiers of different performance characteristics, for example
// ordinary DRAM backed by larger but slower PMEM. The primary interface
// to memtier is the Builder and the TieredMemory instances it builds.
//
// # Kinds, Tiers
//
// Memory of one performance class is allocated through a Kind, the
// low-level allocator interface of the package. Each kind owns an
// accounting partition, a small integer under which the usable size of
// its live allocations is summed up. A tier is a kind plus a ratio, the
// relative share of total allocations the caller wants that kind to
// serve. Tiers are configured fastest first. The kinds subpackage has
// ready-made slab-arena kinds and a detector for resolving buffers back
// to them, but any implementation of the interfaces will do.
//
// # Builders, Instances
//
// A Builder accumulates tiers, a policy, tier boundaries and adjustment
// loop parameters through setter calls which validate eagerly and leave
// the builder untouched on failure. Build verifies the cross-field
// invariants and freezes everything into an immutable TieredMemory.
// Building does not consume the builder, it can be tuned further and
// built again without affecting earlier instances.
//
// # Policies
//
// The static-threshold policy steers allocations by comparing accounted
// per-tier usage against the configured ratios, picking a slower tier
// whenever it lags behind the first one. The dynamic-threshold policy
// routes on allocation size instead. Each adjacent tier pair has a byte
// size boundary, allocations below it go to the faster tier. Boundaries
// not set explicitly are generated step bytes apart.
//
// # The Adjustment Loop
//
// Under the dynamic-threshold policy the boundaries move. Every
// checkInterval operations the instance compares the per-pair usage
// ratio against the target derived from the tier ratios and moves the
// boundary by change*value in the correcting direction, within its
// [min, max] range. Ratio deviations below the trigger fraction leave
// the boundary alone.
//
// # Accounting
//
// All allocation and release goes through a Tracker, which records the
// usable size of live buffers per partition in an Accounting table. The
// policies read these counters, so memory managed by an instance must
// be released through it. Several instances may share one accounting,
// instances built without an explicit tracker share the process-wide
// default table.
//
// # Configuration
//
// Builders can also be populated without code. Config is a declarative
// configuration loadable from YAML or from the compact string grammar
// of the MEMTIER_CONFIG environment variable, turned into a builder by
// resolving tier names to kinds through a KindResolver. ParseCommand
// translates runtime control paths such as
// "policy.dynamic_threshold.thresholds[0].val" into typed commands
// applicable to a builder.
package memtier
