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

import "fmt"

// Policy selects the algorithm used to pick a tier for an allocation.
type Policy int

const (
	// PolicyStaticThreshold routes allocations by comparing accounted
	// bytes per tier against the configured tier ratios.
	PolicyStaticThreshold Policy = iota
	// PolicyDynamicThreshold routes allocations by size against a
	// self-adjusting chain of byte-size thresholds.
	PolicyDynamicThreshold
)

const (
	policyStaticName  = "STATIC_THRESHOLD"
	policyDynamicName = "DYNAMIC_THRESHOLD"
)

// String returns the name of the policy.
func (p Policy) String() string {
	switch p {
	case PolicyStaticThreshold:
		return policyStaticName
	case PolicyDynamicThreshold:
		return policyDynamicName
	}
	return fmt.Sprintf("unknown policy %d", int(p))
}

// known returns true for the enumerated policies.
func (p Policy) known() bool {
	return p == PolicyStaticThreshold || p == PolicyDynamicThreshold
}

// ParsePolicy parses a policy name.
func ParsePolicy(name string) (Policy, error) {
	switch name {
	case policyStaticName:
		return PolicyStaticThreshold, nil
	case policyDynamicName:
		return PolicyDynamicThreshold, nil
	}
	return PolicyStaticThreshold, fmt.Errorf("%w: %q", ErrUnrecognizedPolicy, name)
}
