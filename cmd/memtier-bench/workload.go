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

package main

import (
	"context"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/intel/libmemtier/pkg/healthz"
	"github.com/intel/libmemtier/pkg/memtier"
	"github.com/intel/libmemtier/pkg/metrics"
)

// errorStreakLimit is the number of consecutive allocation failures
// after which the workload reports itself degraded.
const errorStreakLimit = 100

var alignments = []int{16, 64, 256, 4096}

// workload drives a randomized allocate/resize/free mix against a
// tiered memory instance at a configured rate. It is also a prometheus
// collector for its own operation counters.
type workload struct {
	memory  *memtier.TieredMemory
	limiter *rate.Limiter
	rng     *rand.Rand
	live    [][]byte

	minSize    int
	maxSize    int
	maxLive    int
	reallocPct int
	freePct    int

	counts struct {
		allocs   uint64
		resizes  uint64
		frees    uint64
		failures uint64
	}
	errorStreak atomic.Uint64

	ops       *prometheus.CounterVec
	failures  prometheus.Counter
	liveBufs  prometheus.Gauge
	liveBytes prometheus.Gauge
}

func newWorkload(m *memtier.TieredMemory, cfg *WorkloadConfig) (*workload, error) {
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	w := &workload{
		memory:     m,
		limiter:    rate.NewLimiter(rate.Limit(cfg.Rate), cfg.Burst),
		rng:        rand.New(rand.NewSource(seed)),
		live:       make([][]byte, 0, cfg.LiveBuffers),
		maxLive:    cfg.LiveBuffers,
		reallocPct: cfg.ReallocPercent,
		freePct:    cfg.FreePercent,
		ops: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "operations_total",
				Help: "Number of workload operations, by operation type.",
			},
			[]string{"op"},
		),
		failures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "failed_allocations_total",
				Help: "Number of failed allocation and resize operations.",
			},
		),
		liveBufs: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "live_buffers",
				Help: "Number of currently live workload buffers.",
			},
		),
		liveBytes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "live_usable_bytes",
				Help: "Usable bytes held by live workload buffers.",
			},
		),
	}
	w.minSize, w.maxSize = cfg.sizes()

	if err := metrics.Register("workload", w, metrics.WithGroup("bench")); err != nil {
		return nil, errors.Wrap(err, "failed to register workload metrics")
	}
	healthz.RegisterHealthChecker("workload", w.health)

	log.Infof("workload: %d ops/s, sizes %s-%s, up to %d live buffers, seed %d",
		cfg.Rate, memtier.FormatSize(uint64(w.minSize)), memtier.FormatSize(uint64(w.maxSize)),
		w.maxLive, seed)

	return w, nil
}

// Describe implements the prometheus.Collector interface.
func (w *workload) Describe(ch chan<- *prometheus.Desc) {
	w.ops.Describe(ch)
	w.failures.Describe(ch)
	w.liveBufs.Describe(ch)
	w.liveBytes.Describe(ch)
}

// Collect implements the prometheus.Collector interface.
func (w *workload) Collect(ch chan<- prometheus.Metric) {
	w.ops.Collect(ch)
	w.failures.Collect(ch)
	w.liveBufs.Collect(ch)
	w.liveBytes.Collect(ch)
}

// health reports the workload degraded when allocations keep failing.
func (w *workload) health() (healthz.Status, error) {
	if streak := w.errorStreak.Load(); streak >= errorStreakLimit {
		return healthz.Degraded, errors.Errorf("%d allocation failures in a row", streak)
	}
	return healthz.Healthy, nil
}

// run performs rate-limited workload steps until the context is done.
func (w *workload) run(ctx context.Context) error {
	for {
		if err := w.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		w.step()
	}
}

// step performs one random operation. The live buffer bound forces a
// free, otherwise the mix follows the configured percentages.
func (w *workload) step() {
	switch n, roll := len(w.live), w.rng.Intn(100); {
	case n >= w.maxLive || (n > 0 && roll < w.freePct):
		w.free()
	case n > 0 && roll < w.freePct+w.reallocPct:
		w.realloc()
	default:
		w.alloc()
	}
}

// size returns a random request size within the configured bounds.
func (w *workload) size() int {
	return w.minSize + w.rng.Intn(w.maxSize-w.minSize+1)
}

func (w *workload) alloc() {
	var (
		buf  []byte
		err  error
		size = w.size()
	)

	switch w.rng.Intn(4) {
	case 0:
		elem := 1 << (4 + w.rng.Intn(5))
		w.ops.WithLabelValues("calloc").Inc()
		buf, err = w.memory.Calloc(size/elem+1, elem)
	case 1:
		alignment := alignments[w.rng.Intn(len(alignments))]
		w.ops.WithLabelValues("aligned_alloc").Inc()
		buf, err = w.memory.AlignedAlloc(alignment, size)
	default:
		w.ops.WithLabelValues("malloc").Inc()
		buf, err = w.memory.Malloc(size)
	}

	if err != nil {
		w.fail()
		return
	}

	w.counts.allocs++
	w.errorStreak.Store(0)
	w.live = append(w.live, buf)
	w.liveBufs.Inc()
	w.liveBytes.Add(float64(w.memory.UsableSize(buf)))
}

func (w *workload) realloc() {
	w.ops.WithLabelValues("realloc").Inc()

	i := w.rng.Intn(len(w.live))
	oldUsable := w.memory.UsableSize(w.live[i])

	buf, err := w.memory.Realloc(w.live[i], w.size())
	if err != nil {
		// The old buffer stays live after a failed resize.
		w.fail()
		return
	}

	w.counts.resizes++
	w.errorStreak.Store(0)
	w.live[i] = buf
	w.liveBytes.Add(float64(w.memory.UsableSize(buf) - oldUsable))
}

func (w *workload) free() {
	w.ops.WithLabelValues("free").Inc()

	i := w.rng.Intn(len(w.live))
	w.liveBytes.Sub(float64(w.memory.UsableSize(w.live[i])))
	w.memory.Free(w.live[i])

	w.counts.frees++
	w.live[i] = w.live[len(w.live)-1]
	w.live[len(w.live)-1] = nil
	w.live = w.live[:len(w.live)-1]
	w.liveBufs.Dec()
}

func (w *workload) fail() {
	w.counts.failures++
	w.failures.Inc()
	w.errorStreak.Add(1)
}

// drain frees every live buffer.
func (w *workload) drain() {
	for _, buf := range w.live {
		w.memory.Free(buf)
	}
	w.live = w.live[:0]
	w.liveBufs.Set(0)
	w.liveBytes.Set(0)
}
