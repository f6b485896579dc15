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

const (
	// KB is a kilobyte (okay, a kibibyte) of memory.
	KB = uint64(1024)
	// MB is a megabyte of memory.
	MB = 1024 * KB
	// GB is a gigabyte of memory.
	GB = 1024 * MB
	// TB is a terabyte of memory.
	TB = 1024 * GB
)

// ParseSize parses a byte size with an optional K, M, G, or T suffix.
func ParseSize(str string) (uint64, error) {
	var unit uint64 = 1

	s := strings.TrimSpace(str)
	switch {
	case strings.HasSuffix(s, "K"), strings.HasSuffix(s, "k"):
		unit, s = KB, s[:len(s)-1]
	case strings.HasSuffix(s, "M"), strings.HasSuffix(s, "m"):
		unit, s = MB, s[:len(s)-1]
	case strings.HasSuffix(s, "G"), strings.HasSuffix(s, "g"):
		unit, s = GB, s[:len(s)-1]
	case strings.HasSuffix(s, "T"), strings.HasSuffix(s, "t"):
		unit, s = TB, s[:len(s)-1]
	}

	size, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: size %q: %v", ErrInvalidConfig, str, err)
	}

	return size * unit, nil
}

// FormatSize returns a human-readable representation of a byte size.
func FormatSize(size uint64) string {
	switch {
	case size >= TB:
		return formatUnit(size, TB, "T")
	case size >= GB:
		return formatUnit(size, GB, "G")
	case size >= MB:
		return formatUnit(size, MB, "M")
	case size >= KB:
		return formatUnit(size, KB, "k")
	}
	return strconv.FormatUint(size, 10)
}

func formatUnit(size, unit uint64, suffix string) string {
	if size%unit == 0 {
		return strconv.FormatUint(size/unit, 10) + suffix
	}
	return strconv.FormatFloat(float64(size)/float64(unit), 'f', 2, 64) + suffix
}
