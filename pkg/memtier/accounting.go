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

import "sync/atomic"

// MaxKinds is the number of partitions in an accounting table. A kind's
// Partition() must fall below it.
const MaxKinds = 512

// Accounting tracks the currently allocated bytes per kind. Counters are
// individually atomic and carry no ordering guarantees relative to other
// memory operations; they are a tuning input for the policy, not a
// synchronization primitive. The zero value is ready for use, with every
// counter at zero.
type Accounting struct {
	counters [MaxKinds]atomic.Uint64
}

var defaultAccounting = &Accounting{}

// NewAccounting creates a zeroed accounting table.
func NewAccounting() *Accounting {
	return &Accounting{}
}

// DefaultAccounting returns the process-wide accounting table used when a
// builder is not given one of its own.
func DefaultAccounting() *Accounting {
	return defaultAccounting
}

// Add atomically adds n bytes to the counter of the given partition.
func (a *Accounting) Add(partition int, n uint64) {
	a.counters[partition].Add(n)
}

// Sub atomically subtracts n bytes from the counter of the given partition.
func (a *Accounting) Sub(partition int, n uint64) {
	a.counters[partition].Add(^(n - 1))
}

// AllocatedSize returns the currently accounted bytes of the partition.
func (a *Accounting) AllocatedSize(partition int) uint64 {
	return a.counters[partition].Load()
}

// Reset unconditionally zeroes the counter of the partition. It is meant
// for reinitialization and tests, not for the normal allocation flow.
func (a *Accounting) Reset(partition int) {
	a.counters[partition].Store(0)
}
