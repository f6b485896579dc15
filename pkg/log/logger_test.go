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

package log

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSrcmapParse(t *testing.T) {
	type testCase struct {
		name    string
		value   string
		result  srcmap
		invalid bool
	}
	for _, tc := range []*testCase{
		{
			name:   "empty value",
			value:  "",
			result: srcmap{},
		},
		{
			name:   "single source",
			value:  "memtier",
			result: srcmap{"memtier": true},
		},
		{
			name:   "explicit state with several sources",
			value:  "on:memtier,bench,off:metrics",
			result: srcmap{"memtier": true, "bench": true, "metrics": false},
		},
		{
			name:   "all alias",
			value:  "off:all",
			result: srcmap{"*": false},
		},
		{
			name:    "invalid state",
			value:   "maybe:memtier",
			invalid: true,
		},
		{
			name:    "invalid spec",
			value:   "on:memtier:extra",
			invalid: true,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			m := make(srcmap)
			err := m.parse(tc.value)
			if tc.invalid {
				require.Error(t, err, "parse of invalid source map")
				return
			}
			require.NoError(t, err, "parse of source map")
			require.Equal(t, tc.result, m, "parsed source map")
		})
	}
}

func TestParseEnabled(t *testing.T) {
	for _, value := range []string{"on", "true", "enabled", "1", "On", "TRUE"} {
		state, err := parseEnabled(value)
		require.NoError(t, err, "parse of %q", value)
		require.True(t, state, "state of %q", value)
	}
	for _, value := range []string{"off", "false", "disabled", "0", "Off"} {
		state, err := parseEnabled(value)
		require.NoError(t, err, "parse of %q", value)
		require.False(t, state, "state of %q", value)
	}
	_, err := parseEnabled("bogus")
	require.Error(t, err, "parse of bogus state")
}

func TestDebugGating(t *testing.T) {
	lgr := Get("gating-test")
	require.False(t, lgr.DebugEnabled(), "debugging initially off")

	prev := lgr.EnableDebug(true)
	require.False(t, prev, "previous debugging state")
	require.True(t, lgr.DebugEnabled(), "debugging enabled")

	prev = lgr.EnableDebug(false)
	require.True(t, prev, "previous debugging state")
	require.False(t, lgr.DebugEnabled(), "debugging disabled")
}

func TestGetReturnsSameLogger(t *testing.T) {
	require.Equal(t, Get("memtier"), Get("memtier"), "repeated Get of one source")
	require.Equal(t, "memtier", Get("memtier").Source(), "logger source")
}

func TestConfigure(t *testing.T) {
	err := Configure(&Config{
		Debug: []string{"on:configure-test"},
	})
	require.NoError(t, err, "logger configuration")
	require.True(t, Get("configure-test").DebugEnabled(), "debugging from configuration")

	err = Configure(&Config{})
	require.NoError(t, err, "logger reconfiguration")
	require.False(t, Get("configure-test").DebugEnabled(), "debugging reset by configuration")
}
