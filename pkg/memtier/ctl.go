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
	"strconv"
	"strings"
)

// Command is one parsed configuration command for a builder. The set of
// commands is closed, external packages construct them and hand them to
// Builder.Apply. Parsing string paths only happens on the ParseCommand
// boundary, the commands themselves are fully typed.
type Command interface {
	apply(b *Builder) error
}

// SetThresholdFieldCmd sets one field of one threshold in the chain.
type SetThresholdFieldCmd struct {
	Index int
	Field ThresholdField
	Value uint64
}

func (c SetThresholdFieldCmd) apply(b *Builder) error {
	return b.SetThreshold(c.Index, c.Field, c.Value)
}

// SetCheckIntervalCmd sets the number of operations between threshold
// adjustments.
type SetCheckIntervalCmd struct {
	Count uint
}

func (c SetCheckIntervalCmd) apply(b *Builder) error {
	b.SetCheckInterval(c.Count)
	return nil
}

// SetTriggerCmd sets the adjustment trigger fraction.
type SetTriggerCmd struct {
	Fraction float64
}

func (c SetTriggerCmd) apply(b *Builder) error {
	return b.SetTrigger(c.Fraction)
}

// SetChangeCmd sets the adjustment change fraction.
type SetChangeCmd struct {
	Fraction float64
}

func (c SetChangeCmd) apply(b *Builder) error {
	return b.SetChange(c.Fraction)
}

// SetStepCmd sets the threshold auto-generation step.
type SetStepCmd struct {
	Bytes uint64
}

func (c SetStepCmd) apply(b *Builder) error {
	b.SetStep(c.Bytes)
	return nil
}

// Apply applies the given commands to the builder in order, stopping at
// the first failure.
func (b *Builder) Apply(commands ...Command) error {
	for _, c := range commands {
		if err := c.apply(b); err != nil {
			return err
		}
	}
	return nil
}

// CtlSet parses one string path and value into a command and applies it
// to the builder.
func (b *Builder) CtlSet(path, value string) error {
	c, err := ParseCommand(path, value)
	if err != nil {
		return err
	}
	return c.apply(b)
}

// ctlPrefix is the common prefix of all recognized configuration paths.
const ctlPrefix = "policy.dynamic_threshold."

// ParseCommand parses a configuration path and its value into a typed
// command. The recognized paths are
//
//	policy.dynamic_threshold.thresholds[<index>].val
//	policy.dynamic_threshold.thresholds[<index>].min
//	policy.dynamic_threshold.thresholds[<index>].max
//	policy.dynamic_threshold.check_cnt
//	policy.dynamic_threshold.trigger
//	policy.dynamic_threshold.change
//	policy.dynamic_threshold.step
//
// Any other path, and any value which does not parse for the addressed
// field, fails with ErrInvalidPath.
func ParseCommand(path, value string) (Command, error) {
	name, ok := strings.CutPrefix(path, ctlPrefix)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}

	if rest, ok := strings.CutPrefix(name, "thresholds["); ok {
		return parseThresholdCommand(path, rest, value)
	}

	switch name {
	case "check_cnt":
		count, err := strconv.ParseUint(value, 10, strconv.IntSize-1)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: invalid operation count %q", ErrInvalidPath, path, value)
		}
		return SetCheckIntervalCmd{Count: uint(count)}, nil
	case "trigger":
		fraction, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: invalid fraction %q", ErrInvalidPath, path, value)
		}
		return SetTriggerCmd{Fraction: fraction}, nil
	case "change":
		fraction, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: invalid fraction %q", ErrInvalidPath, path, value)
		}
		return SetChangeCmd{Fraction: fraction}, nil
	case "step":
		bytes, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: invalid byte count %q", ErrInvalidPath, path, value)
		}
		return SetStepCmd{Bytes: bytes}, nil
	}

	return nil, fmt.Errorf("%w: %q", ErrInvalidPath, path)
}

// parseThresholdCommand parses the "<index>].<field>" tail of a
// threshold path.
func parseThresholdCommand(path, rest, value string) (Command, error) {
	indexStr, fieldStr, ok := strings.Cut(rest, "].")
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}

	index, err := strconv.Atoi(indexStr)
	if err != nil || index < 0 {
		return nil, fmt.Errorf("%w: %q: invalid threshold index %q", ErrInvalidPath, path, indexStr)
	}

	var field ThresholdField
	switch fieldStr {
	case "val":
		field = FieldValue
	case "min":
		field = FieldMin
	case "max":
		field = FieldMax
	default:
		return nil, fmt.Errorf("%w: %q: unknown threshold field %q", ErrInvalidPath, path, fieldStr)
	}

	bytes, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: invalid byte count %q", ErrInvalidPath, path, value)
	}

	return SetThresholdFieldCmd{Index: index, Field: field, Value: bytes}, nil
}
