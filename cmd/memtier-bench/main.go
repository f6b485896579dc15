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

// memtier-bench runs a synthetic allocation workload against a tiered
// memory configuration and exposes the resulting tier placement over
// prometheus metrics. It is the standalone exerciser for the memtier
// library.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/intel/libmemtier/pkg/healthz"
	logger "github.com/intel/libmemtier/pkg/log"
	"github.com/intel/libmemtier/pkg/memtier"
	"github.com/intel/libmemtier/pkg/memtier/kinds"
	"github.com/intel/libmemtier/pkg/metrics"
	_ "github.com/intel/libmemtier/pkg/metrics/collectors"
	"github.com/intel/libmemtier/pkg/version"
)

// settings collects repeatable -set flags.
type settings []string

func (s *settings) String() string {
	return strings.Join(*s, ",")
}

func (s *settings) Set(value string) error {
	*s = append(*s, value)
	return nil
}

type options struct {
	configFile  string
	httpAddr    string
	duration    time.Duration
	rate        int
	debug       string
	set         settings
	dumpConfig  bool
	showVersion bool
}

var (
	opt = options{}
	log *logrus.Logger
)

func main() {
	log = logrus.StandardLogger()
	log.SetFormatter(&logrus.TextFormatter{
		PadLevelText: true,
	})
	logger.SetSlogLogger("slog")

	parseCmdline()

	cfg, err := loadConfig(opt.configFile)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	applyOverrides(cfg)

	if opt.dumpConfig {
		dump, err := cfg.dump()
		if err != nil {
			log.Fatalf("failed to dump configuration: %v", err)
		}
		fmt.Print(dump)
		os.Exit(0)
	}

	if err := cfg.Workload.validate(); err != nil {
		log.Fatalf("invalid workload configuration: %v", err)
	}

	registry := kinds.NewRegistry()
	defer registry.Close()

	m, err := setupMemory(cfg, registry)
	if err != nil {
		log.Fatalf("failed to set up tiered memory: %v", err)
	}

	w, err := newWorkload(m, &cfg.Workload)
	if err != nil {
		log.Fatalf("failed to set up workload: %v", err)
	}

	srv, gatherer, err := serveHTTP(&cfg.HTTP)
	if err != nil {
		log.Fatalf("failed to serve metrics: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if opt.duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opt.duration)
		defer cancel()
		log.Infof("running version %s/build %s for %v, interrupt to stop early...",
			version.Version, version.Build, opt.duration)
	} else {
		log.Infof("running version %s/build %s until interrupted...",
			version.Version, version.Build)
	}

	if err := w.run(ctx); err != nil {
		log.Errorf("workload failed: %v", err)
	}

	summarize(m, w)
	w.drain()

	if gatherer != nil {
		gatherer.Stop()
	}
	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Errorf("HTTP server shutdown failed: %v", err)
		}
	}

	logger.Flush()
}

func parseCmdline() {
	flag.StringVar(&opt.configFile, "config", "",
		"Path to a YAML bench configuration file.")
	flag.StringVar(&opt.httpAddr, "http", "",
		"HTTP address for metrics and health checks, overrides the configuration.")
	flag.DurationVar(&opt.duration, "duration", 0,
		"How long to run the workload, 0 to run until interrupted.")
	flag.IntVar(&opt.rate, "rate", 0,
		"Workload operations per second, overrides the configuration.")
	flag.StringVar(&opt.debug, "debug", "",
		"Comma-separated list of logger sources to debug, or 'all'.")
	flag.Var(&opt.set, "set",
		"Apply a path=value tiering override, for example "+
			"policy.dynamic_threshold.step=512. Repeatable.")
	flag.BoolVar(&opt.dumpConfig, "dump-config", false,
		"Dump the effective configuration and exit.")
	flag.BoolVar(&opt.showVersion, "version", false,
		"Print version information and exit.")
	flag.Parse()

	if opt.showVersion {
		fmt.Printf("version: %s\n", version.Version)
		fmt.Printf("build: %s\n", version.Build)
		os.Exit(0)
	}

	if args := flag.Args(); len(args) > 0 {
		log.Errorf("unknown command line arguments: %s", strings.Join(args, " "))
		flag.Usage()
		os.Exit(1)
	}

	if opt.debug != "" {
		if err := logger.Configure(&logger.Config{Debug: []string{opt.debug}}); err != nil {
			log.Fatalf("failed to configure debug logging: %v", err)
		}
	}
}

func applyOverrides(cfg *Config) {
	if opt.httpAddr != "" {
		cfg.HTTP.Address = opt.httpAddr
	}
	if opt.rate > 0 {
		cfg.Workload.Rate = opt.rate
	}
}

// setupMemory builds the tiered memory instance from the configuration,
// with any -set overrides applied on top, and hooks it up to metrics.
func setupMemory(cfg *Config, registry *kinds.Registry) (*memtier.TieredMemory, error) {
	b, err := cfg.Memtier.Builder(registry)
	if err != nil {
		return nil, errors.Wrap(err, "failed to configure memory tiers")
	}

	for _, setting := range opt.set {
		path, value, ok := strings.Cut(setting, "=")
		if !ok {
			return nil, errors.Errorf("invalid setting %q, expected path=value", setting)
		}
		if err := b.CtlSet(path, value); err != nil {
			return nil, errors.Wrapf(err, "failed to apply setting %q", setting)
		}
	}

	m, err := b.Build()
	if err != nil {
		return nil, errors.Wrap(err, "failed to build tiered memory")
	}

	if err := memtier.RegisterCollector(m); err != nil {
		return nil, errors.Wrap(err, "failed to register policy metrics")
	}

	m.DumpConfig()

	return m, nil
}

// serveHTTP starts serving metrics and health checks, unless disabled
// with an empty address.
func serveHTTP(cfg *HTTPConfig) (*http.Server, *metrics.Gatherer, error) {
	if cfg.Address == "" {
		log.Infof("no HTTP address, metrics and health checks disabled")
		return nil, nil, nil
	}

	g, err := metrics.NewGatherer(
		metrics.WithNamespace("memtier"),
		metrics.WithMetrics(cfg.Metrics, nil),
	)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to create metrics gatherer")
	}

	mux := http.NewServeMux()
	healthz.Setup(mux)
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{
		ErrorHandling: promhttp.ContinueOnError,
	}))

	srv := &http.Server{Addr: cfg.Address, Handler: mux}
	go func() {
		log.Infof("serving metrics and health checks on %s", cfg.Address)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("HTTP server failed: %v", err)
		}
	}()

	return srv, g, nil
}

// summarize logs what the workload did and where the bytes ended up.
func summarize(m *memtier.TieredMemory, w *workload) {
	log.Infof("workload done: %d allocations, %d resizes, %d frees, %d failures",
		w.counts.allocs, w.counts.resizes, w.counts.frees, w.counts.failures)

	for _, tier := range m.Tiers() {
		log.Infof("  tier %s (ratio %g): %s allocated", tier.Kind.Name(), tier.Ratio,
			memtier.FormatSize(m.AllocatedSize(tier.Kind)))
	}
	for i, t := range m.Thresholds() {
		log.Infof("  threshold %d: %s in [%s-%s]", i, memtier.FormatSize(t.Value),
			memtier.FormatSize(t.Min), memtier.FormatSize(t.Max))
	}

	var ru unix.Rusage
	if err := unix.Getrusage(unix.RUSAGE_SELF, &ru); err == nil {
		log.Infof("  max RSS: %s", memtier.FormatSize(uint64(ru.Maxrss)*1024))
	}

	m.DumpState("exit: ")
}
