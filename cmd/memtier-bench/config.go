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
	"fmt"
	"os"

	"sigs.k8s.io/yaml"

	"github.com/intel/libmemtier/pkg/memtier"
)

// Config is the YAML configuration of the bench daemon. The memtier
// section is the tiering configuration handed to the library, the rest
// configures the synthetic workload and the HTTP endpoint.
type Config struct {
	Memtier  memtier.Config `json:"memtier"`
	Workload WorkloadConfig `json:"workload,omitempty"`
	HTTP     HTTPConfig     `json:"http,omitempty"`
}

// WorkloadConfig describes the synthetic allocation workload.
type WorkloadConfig struct {
	// Rate is the number of workload operations per second.
	Rate int `json:"rate,omitempty"`
	// Burst is the operation burst allowance of the rate limiter.
	Burst int `json:"burst,omitempty"`
	// LiveBuffers bounds the number of simultaneously live buffers.
	// Once the bound is hit the workload frees before allocating more.
	LiveBuffers int `json:"liveBuffers,omitempty"`
	// MinSize and MaxSize bound allocation request sizes. Both take
	// K/M/G/T suffixes.
	MinSize string `json:"minSize,omitempty"`
	MaxSize string `json:"maxSize,omitempty"`
	// ReallocPercent and FreePercent set the share of resize and free
	// operations in the mix. The rest are allocations.
	ReallocPercent int `json:"reallocPercent,omitempty"`
	FreePercent    int `json:"freePercent,omitempty"`
	// Seed seeds the workload PRNG, 0 picks a time-based seed.
	Seed int64 `json:"seed,omitempty"`
}

// HTTPConfig configures serving metrics and health checks. An empty
// address disables the endpoint.
type HTTPConfig struct {
	Address string   `json:"address,omitempty"`
	Metrics []string `json:"metrics,omitempty"`
}

// defaultConfig returns a configuration which runs out of the box: two
// unlimited heap-backed tiers under the dynamic threshold policy and a
// moderate allocation rate.
func defaultConfig() *Config {
	return &Config{
		Memtier: memtier.Config{
			Policy: "DYNAMIC_THRESHOLD",
			Tiers: []memtier.TierSpec{
				{Kind: "DRAM", Ratio: 1},
				{Kind: "PMEM", Ratio: 4},
			},
		},
		Workload: WorkloadConfig{
			Rate:           1000,
			Burst:          16,
			LiveBuffers:    4096,
			MinSize:        "64",
			MaxSize:        "16K",
			ReallocPercent: 10,
			FreePercent:    30,
		},
		HTTP: HTTPConfig{
			Address: ":8891",
			Metrics: []string{"*"},
		},
	}
}

// loadConfig loads the configuration file on top of the defaults. With
// no file the tiering configuration is taken from the MEMTIER_CONFIG
// environment variable if it is set.
func loadConfig(path string) (*Config, error) {
	cfg := defaultConfig()

	if path == "" {
		envCfg, err := memtier.ConfigFromEnv()
		if err != nil {
			return nil, err
		}
		if envCfg != nil {
			cfg.Memtier = *envCfg
		}
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file: %w", err)
	}
	if err := yaml.UnmarshalStrict(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration file %q: %v", path, err)
	}

	return cfg, nil
}

// dump returns the configuration as YAML.
func (c *Config) dump() (string, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// validate checks the workload parameters.
func (c *WorkloadConfig) validate() error {
	if c.Rate <= 0 {
		return fmt.Errorf("rate %d is not positive", c.Rate)
	}
	if c.Burst <= 0 {
		return fmt.Errorf("burst %d is not positive", c.Burst)
	}
	if c.LiveBuffers <= 0 {
		return fmt.Errorf("live buffer bound %d is not positive", c.LiveBuffers)
	}
	if c.ReallocPercent < 0 || c.FreePercent < 0 || c.ReallocPercent+c.FreePercent > 100 {
		return fmt.Errorf("realloc/free percentages %d/%d do not fit in 100",
			c.ReallocPercent, c.FreePercent)
	}

	minSize, err := memtier.ParseSize(c.MinSize)
	if err != nil {
		return err
	}
	maxSize, err := memtier.ParseSize(c.MaxSize)
	if err != nil {
		return err
	}
	if minSize < 1 {
		return fmt.Errorf("minimum size must be at least 1 byte")
	}
	if maxSize < minSize {
		return fmt.Errorf("maximum size %s is below minimum size %s",
			memtier.FormatSize(maxSize), memtier.FormatSize(minSize))
	}

	return nil
}

// sizes returns the parsed allocation size bounds.
func (c *WorkloadConfig) sizes() (int, int) {
	minSize, _ := memtier.ParseSize(c.MinSize)
	maxSize, _ := memtier.ParseSize(c.MaxSize)
	return int(minSize), int(maxSize)
}
