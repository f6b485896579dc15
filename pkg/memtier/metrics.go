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
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/intel/libmemtier/pkg/metrics"
)

const (
	descAllocated = iota
	descThresholdValue
	descThresholdMin
	descThresholdMax
	descPolicy
)

var descriptors = []*prometheus.Desc{
	descAllocated: prometheus.NewDesc(
		"memtier_allocated_bytes",
		"Accounted usable bytes currently allocated from a memory tier.",
		[]string{
			"kind",
		},
		nil,
	),
	descThresholdValue: prometheus.NewDesc(
		"memtier_threshold_value_bytes",
		"Current allocation size boundary between two adjacent memory tiers.",
		[]string{
			"index",
		},
		nil,
	),
	descThresholdMin: prometheus.NewDesc(
		"memtier_threshold_min_bytes",
		"Lower bound of the adjustment range of a tier boundary.",
		[]string{
			"index",
		},
		nil,
	),
	descThresholdMax: prometheus.NewDesc(
		"memtier_threshold_max_bytes",
		"Upper bound of the adjustment range of a tier boundary.",
		[]string{
			"index",
		},
		nil,
	),
	descPolicy: prometheus.NewDesc(
		"memtier_policy_info",
		"Tier selection policy of the instance, the value is always 1.",
		[]string{
			"policy",
		},
		nil,
	),
}

// Collector exposes the allocation counters and tier boundaries of one
// TieredMemory instance as prometheus metrics.
type Collector struct {
	memory *TieredMemory
}

// NewCollector returns a collector for the given instance.
func NewCollector(m *TieredMemory) *Collector {
	return &Collector{
		memory: m,
	}
}

// RegisterCollector registers a collector for the given instance in the
// metrics registry, in the policy group under the name "memtier". The
// descriptors carry the full metric names, so gatherer prefixing is
// turned off.
func RegisterCollector(m *TieredMemory) error {
	return metrics.Register("memtier", NewCollector(m),
		metrics.WithGroup("policy"),
		metrics.WithCollectorOptions(
			metrics.WithoutNamespace(),
			metrics.WithoutSubsystem(),
		),
	)
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range descriptors {
		ch <- d
	}
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, t := range c.memory.Tiers() {
		ch <- prometheus.MustNewConstMetric(
			descriptors[descAllocated],
			prometheus.GaugeValue,
			float64(c.memory.AllocatedSize(t.Kind)),
			t.Kind.Name(),
		)
	}

	for i, t := range c.memory.Thresholds() {
		index := strconv.Itoa(i)
		ch <- prometheus.MustNewConstMetric(
			descriptors[descThresholdValue],
			prometheus.GaugeValue,
			float64(t.Value),
			index,
		)
		ch <- prometheus.MustNewConstMetric(
			descriptors[descThresholdMin],
			prometheus.GaugeValue,
			float64(t.Min),
			index,
		)
		ch <- prometheus.MustNewConstMetric(
			descriptors[descThresholdMax],
			prometheus.GaugeValue,
			float64(t.Max),
			index,
		)
	}

	ch <- prometheus.MustNewConstMetric(
		descriptors[descPolicy],
		prometheus.GaugeValue,
		1,
		c.memory.Policy().String(),
	)
}
