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

var (
	ErrDuplicateKind          = fmt.Errorf("memtier: kind already registered")
	ErrInvalidKind            = fmt.Errorf("memtier: invalid kind")
	ErrAllocationFailure      = fmt.Errorf("memtier: configuration growth failed")
	ErrInvalidPolicy          = fmt.Errorf("memtier: invalid policy")
	ErrUnrecognizedPolicy     = fmt.Errorf("memtier: unrecognized policy")
	ErrEmptyConfiguration     = fmt.Errorf("memtier: no tiers configured")
	ErrInsufficientTiers      = fmt.Errorf("memtier: not enough tiers for policy")
	ErrInvalidThresholdConfig = fmt.Errorf("memtier: invalid threshold configuration")
	ErrInvalidLoopParam       = fmt.Errorf("memtier: invalid feedback loop parameter")
	ErrInvalidPath            = fmt.Errorf("memtier: invalid configuration path")
	ErrUnknownKind            = fmt.Errorf("memtier: cannot detect owning kind")
	ErrInvalidConfig          = fmt.Errorf("memtier: invalid configuration")
)
