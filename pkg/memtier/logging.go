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

	logger "github.com/intel/libmemtier/pkg/log"
)

var (
	log     = logger.Get("memtier")
	details = logger.Get("memtier-details")
)

// DumpConfig logs the accumulated builder configuration.
func (b *Builder) DumpConfig(context ...interface{}) {
	if !log.DebugEnabled() {
		return
	}

	prefix := formatPrefix(context...)
	log.Debug("%stiering configuration:", prefix)
	log.Debug("%s  policy %v", prefix, b.policy)
	for i, t := range b.tiers {
		log.Debug("%s  tier #%d: kind %q, ratio %v", prefix, i, t.Kind.Name(), t.Ratio)
	}
	for i, t := range b.thresholds {
		log.Debug("%s  threshold #%d: %s", prefix, i, t)
	}
	log.Debug("%s  check interval %d, trigger %v, change %v, step %d",
		prefix, b.checkInterval, b.trigger, b.change, b.step)
}

// DumpConfig logs the configuration the instance was built with.
func (m *TieredMemory) DumpConfig(context ...interface{}) {
	if !log.DebugEnabled() {
		return
	}

	prefix := formatPrefix(context...)
	log.Debug("%stiered memory:", prefix)
	log.Debug("%s  policy %v", prefix, m.policy)
	for i, t := range m.tiers {
		log.Debug("%s  tier #%d: kind %q, normalized ratio %v", prefix, i, t.kind.Name(), t.ratio)
	}
	for i := range m.thresholds {
		s := &m.thresholds[i]
		log.Debug("%s  threshold #%d: %s, target ratio %v", prefix, i,
			ThresholdConfig{Value: s.value.Load(), Min: s.min, Max: s.max}, s.target)
	}
	if m.policy == PolicyDynamicThreshold {
		log.Debug("%s  check interval %d, trigger %v, change %v",
			prefix, m.checkInterval, m.trigger, m.change)
	}
}

// DumpState logs the current allocation counters and tier boundaries.
func (m *TieredMemory) DumpState(context ...interface{}) {
	if !details.DebugEnabled() {
		return
	}

	prefix := formatPrefix(context...)
	details.Debug("%stiered memory state:", prefix)
	for i, t := range m.tiers {
		allocated := m.tracker.AllocatedSize(t.kind)
		details.Debug("%s  tier #%d (%s): %d allocated (%s)", prefix, i,
			t.kind.Name(), allocated, FormatSize(allocated))
	}
	for i := range m.thresholds {
		s := &m.thresholds[i]
		details.Debug("%s  threshold #%d: %s (%s)", prefix, i,
			ThresholdConfig{Value: s.value.Load(), Min: s.min, Max: s.max},
			FormatSize(s.value.Load()))
	}
	if m.policy == PolicyDynamicThreshold {
		details.Debug("%s  next adjustment in %d operations", prefix, m.countdown.Load())
	}
}

func formatPrefix(args ...interface{}) string {
	narg := len(args)
	if narg == 0 {
		return ""
	}

	format, ok := args[0].(string)
	if !ok {
		return "%%(!memtier:Bad-Prefix)"
	}

	if len(args) == 1 {
		return format
	}

	return fmt.Sprintf(format, args[1:]...)
}
