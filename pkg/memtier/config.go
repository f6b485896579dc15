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
	"os"
	"strconv"
	"strings"

	"github.com/hashicorp/go-multierror"
	"sigs.k8s.io/yaml"
)

// ConfigEnvVar is the environment variable ConfigFromEnv reads the
// tiering configuration string from.
const ConfigEnvVar = "MEMTIER_CONFIG"

// Config is a declarative tiering configuration. It can be parsed from
// the compact environment string grammar or unmarshaled from YAML, and
// turned into a Builder once the tier names are resolved to kinds.
// Optional fields are pointers, only present fields are applied.
type Config struct {
	// Policy is the tier selection policy name, for example
	// "DYNAMIC_THRESHOLD". Empty keeps the builder default.
	Policy string `json:"policy,omitempty"`
	// Tiers are the memory tiers, ordered fastest first.
	Tiers []TierSpec `json:"tiers"`
	// Thresholds override fields of auto-generated tier boundaries.
	Thresholds []ThresholdSpec `json:"thresholds,omitempty"`
	// CheckInterval, Trigger, Change and Step override the adjustment
	// loop parameters of the dynamic-threshold policy.
	CheckInterval *uint    `json:"checkInterval,omitempty"`
	Trigger       *float64 `json:"trigger,omitempty"`
	Change        *float64 `json:"change,omitempty"`
	Step          *uint64  `json:"step,omitempty"`
}

// TierSpec names one memory tier and its allocation ratio. Path and
// Size describe file-backed tiers and must be given together. Size
// uses K/M/G/T suffixes.
type TierSpec struct {
	Kind  string  `json:"kind"`
	Path  string  `json:"path,omitempty"`
	Size  string  `json:"size,omitempty"`
	Ratio float64 `json:"ratio"`
}

// ThresholdSpec overrides fields of the tier boundary with the given
// index. Absent fields keep their auto-generated values.
type ThresholdSpec struct {
	Index int     `json:"index"`
	Value *uint64 `json:"value,omitempty"`
	Min   *uint64 `json:"min,omitempty"`
	Max   *uint64 `json:"max,omitempty"`
}

// KindResolver maps a tier specification to a memory kind.
type KindResolver interface {
	ResolveKind(spec TierSpec) (Kind, error)
}

// KindResolverFunc adapts a function to the KindResolver interface.
type KindResolverFunc func(spec TierSpec) (Kind, error)

// ResolveKind calls the adapted function.
func (fn KindResolverFunc) ResolveKind(spec TierSpec) (Kind, error) {
	return fn(spec)
}

// ParseConfig parses the compact configuration string grammar: comma
// separated clauses of colon-separated fields, where a clause is either
//
//	NAME:RATIO            a tier with an integer allocation ratio
//	NAME:PATH:SIZE:RATIO  a file-backed tier of a suffixed size
//	POLICY:NAME           the tier selection policy
//
// for example "DRAM:1,PMEM:/mnt/pmem:64G:4,POLICY:DYNAMIC_THRESHOLD".
// Malformed input fails with ErrInvalidConfig.
func ParseConfig(s string) (*Config, error) {
	cfg := &Config{}

	for _, clause := range strings.Split(strings.TrimSpace(s), ",") {
		clause = strings.TrimSpace(clause)
		if clause == "" {
			return nil, fmt.Errorf("%w: empty clause in %q", ErrInvalidConfig, s)
		}

		fields := strings.Split(clause, ":")
		switch {
		case len(fields) == 2 && fields[0] == "POLICY":
			if cfg.Policy != "" {
				return nil, fmt.Errorf("%w: policy set more than once in %q", ErrInvalidConfig, s)
			}
			if fields[1] == "" {
				return nil, fmt.Errorf("%w: empty policy name in %q", ErrInvalidConfig, clause)
			}
			cfg.Policy = fields[1]

		case len(fields) == 2:
			ratio, err := parseRatio(fields[1])
			if err != nil {
				return nil, fmt.Errorf("%w in clause %q", err, clause)
			}
			if fields[0] == "" {
				return nil, fmt.Errorf("%w: empty kind name in %q", ErrInvalidConfig, clause)
			}
			cfg.Tiers = append(cfg.Tiers, TierSpec{Kind: fields[0], Ratio: ratio})

		case len(fields) == 4:
			ratio, err := parseRatio(fields[3])
			if err != nil {
				return nil, fmt.Errorf("%w in clause %q", err, clause)
			}
			if fields[0] == "" || fields[1] == "" || fields[2] == "" {
				return nil, fmt.Errorf("%w: empty field in clause %q", ErrInvalidConfig, clause)
			}
			cfg.Tiers = append(cfg.Tiers, TierSpec{
				Kind:  fields[0],
				Path:  fields[1],
				Size:  fields[2],
				Ratio: ratio,
			})

		default:
			return nil, fmt.Errorf("%w: malformed clause %q", ErrInvalidConfig, clause)
		}
	}

	return cfg, nil
}

// parseRatio parses the positive integer ratio of the string grammar.
func parseRatio(s string) (float64, error) {
	ratio, err := strconv.ParseUint(s, 10, 64)
	if err != nil || ratio == 0 {
		return 0, fmt.Errorf("%w: ratio %q is not a positive integer", ErrInvalidConfig, s)
	}
	return float64(ratio), nil
}

// ConfigFromEnv parses the configuration string from the MEMTIER_CONFIG
// environment variable. It returns nil without error if the variable is
// not set.
func ConfigFromEnv() (*Config, error) {
	s, ok := os.LookupEnv(ConfigEnvVar)
	if !ok {
		return nil, nil
	}
	cfg, err := ParseConfig(s)
	if err != nil {
		return nil, fmt.Errorf("%w (from %s)", err, ConfigEnvVar)
	}
	return cfg, nil
}

// ParseConfigYAML strict-unmarshals a YAML tiering configuration.
func ParseConfigYAML(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.UnmarshalStrict(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return cfg, nil
}

// Validate checks the configuration and reports all problems found, not
// just the first one.
func (c *Config) Validate() error {
	var errs *multierror.Error

	if len(c.Tiers) == 0 {
		errs = multierror.Append(errs, fmt.Errorf("%w: config has no tiers", ErrEmptyConfiguration))
	}

	names := map[string]struct{}{}
	for _, t := range c.Tiers {
		if t.Kind == "" {
			errs = multierror.Append(errs, fmt.Errorf("%w: tier without a kind name", ErrInvalidConfig))
			continue
		}
		if _, ok := names[t.Kind]; ok {
			errs = multierror.Append(errs, fmt.Errorf("%w: kind %q", ErrDuplicateKind, t.Kind))
		}
		names[t.Kind] = struct{}{}

		if math.IsNaN(t.Ratio) || math.IsInf(t.Ratio, 0) || t.Ratio <= 0 {
			errs = multierror.Append(errs, fmt.Errorf("%w: kind %q: ratio %v is not a positive finite number",
				ErrInvalidConfig, t.Kind, t.Ratio))
		}
		if (t.Path == "") != (t.Size == "") {
			errs = multierror.Append(errs, fmt.Errorf("%w: kind %q: path and size must be given together",
				ErrInvalidConfig, t.Kind))
		}
		if t.Size != "" {
			if _, err := ParseSize(t.Size); err != nil {
				errs = multierror.Append(errs, fmt.Errorf("kind %q: %w", t.Kind, err))
			}
		}
	}

	if c.Policy != "" {
		if _, err := ParsePolicy(c.Policy); err != nil {
			errs = multierror.Append(errs, err)
		}
	}

	for _, t := range c.Thresholds {
		if t.Index < 0 || t.Index >= MaxThresholds {
			errs = multierror.Append(errs, fmt.Errorf("%w: threshold index %d outside [0-%d)",
				ErrInvalidThresholdConfig, t.Index, MaxThresholds))
		}
	}

	if c.Trigger != nil && (math.IsNaN(*c.Trigger) || *c.Trigger < 0) {
		errs = multierror.Append(errs, fmt.Errorf("%w: trigger %v is not a non-negative number",
			ErrInvalidLoopParam, *c.Trigger))
	}
	if c.Change != nil && (math.IsNaN(*c.Change) || *c.Change < 0) {
		errs = multierror.Append(errs, fmt.Errorf("%w: change %v is not a non-negative number",
			ErrInvalidLoopParam, *c.Change))
	}

	return errs.ErrorOrNil()
}

// Builder validates the configuration, resolves its tiers with the
// given resolver, and returns a builder with everything applied. Loop
// parameters are applied before thresholds so the configured step
// drives the auto-generation of any boundaries the threshold overrides
// grow the chain by.
func (c *Config) Builder(resolver KindResolver, options ...BuilderOption) (*Builder, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if resolver == nil {
		return nil, fmt.Errorf("%w: no kind resolver", ErrInvalidConfig)
	}

	b := NewBuilder(options...)

	if c.Policy != "" {
		policy, err := ParsePolicy(c.Policy)
		if err != nil {
			return nil, err
		}
		if err := b.SetPolicy(policy); err != nil {
			return nil, err
		}
	}

	if c.CheckInterval != nil {
		b.SetCheckInterval(*c.CheckInterval)
	}
	if c.Trigger != nil {
		if err := b.SetTrigger(*c.Trigger); err != nil {
			return nil, err
		}
	}
	if c.Change != nil {
		if err := b.SetChange(*c.Change); err != nil {
			return nil, err
		}
	}
	if c.Step != nil {
		b.SetStep(*c.Step)
	}

	for _, spec := range c.Tiers {
		kind, err := resolver.ResolveKind(spec)
		if err != nil {
			return nil, fmt.Errorf("cannot resolve kind %q: %w", spec.Kind, err)
		}
		if err := b.AddTier(kind, spec.Ratio); err != nil {
			return nil, err
		}
	}

	var commands []Command
	for _, t := range c.Thresholds {
		if t.Value != nil {
			commands = append(commands, SetThresholdFieldCmd{Index: t.Index, Field: FieldValue, Value: *t.Value})
		}
		if t.Min != nil {
			commands = append(commands, SetThresholdFieldCmd{Index: t.Index, Field: FieldMin, Value: *t.Min})
		}
		if t.Max != nil {
			commands = append(commands, SetThresholdFieldCmd{Index: t.Index, Field: FieldMax, Value: *t.Max})
		}
	}
	if err := b.Apply(commands...); err != nil {
		return nil, err
	}

	return b, nil
}
