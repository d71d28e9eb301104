// Copyright 2022 Intel Corporation. All Rights Reserved.
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

package memfailure

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	c := DefaultConfig()
	require.False(t, c.EarlyKill)
	require.Equal(t, defaultUnmapRetries, c.UnmapRetries)
	require.Equal(t, defaultDrainRetries, c.DrainRetries)
}

func TestParseConfig(t *testing.T) {
	c, err := ParseConfig([]byte(`
earlyKill: true
unmapRetries: 3
`))
	require.NoError(t, err)
	require.True(t, c.EarlyKill)
	require.Equal(t, 3, c.UnmapRetries)
	// Omitted fields keep their defaults.
	require.Equal(t, defaultDrainRetries, c.DrainRetries)
}

func TestParseConfigSanitizes(t *testing.T) {
	c, err := ParseConfig([]byte(`
unmapRetries: 0
drainRetries: -5
`))
	require.NoError(t, err)
	require.Equal(t, defaultUnmapRetries, c.UnmapRetries)
	require.Equal(t, defaultDrainRetries, c.DrainRetries)
}

func TestParseConfigInvalid(t *testing.T) {
	_, err := ParseConfig([]byte(`earlyKill: [not, a, bool]`))
	require.Error(t, err)
}
