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
	"github.com/pkg/errors"
	"sigs.k8s.io/yaml"
)

const (
	// defaultUnmapRetries is how often unmapping is retried before
	// giving up on racing mappers.
	defaultUnmapRetries = 5
	// defaultDrainRetries bounds the cache-shrink loop of the reclaim
	// pressure trigger.
	defaultDrainRetries = 16
)

// Config contains the tunables of the engine.
type Config struct {
	// EarlyKill is the process-wide default of the early-kill policy:
	// whether processes that do not state a preference are notified
	// proactively about corruption in their mapped pages.
	EarlyKill bool `json:"earlyKill"`
	// UnmapRetries is the bound on unmapping attempts per page.
	UnmapRetries int `json:"unmapRetries"`
	// DrainRetries is the bound on cache-shrink rounds per page.
	DrainRetries int `json:"drainRetries"`
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() *Config {
	return &Config{
		UnmapRetries: defaultUnmapRetries,
		DrainRetries: defaultDrainRetries,
	}
}

// ParseConfig parses a configuration from YAML data, filling in
// defaults for omitted fields.
func ParseConfig(data []byte) (*Config, error) {
	c := DefaultConfig()
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, errors.Wrap(err, "failed to parse configuration")
	}
	c.sanitize()
	return c, nil
}

func (c *Config) sanitize() {
	if c.UnmapRetries < 1 {
		c.UnmapRetries = defaultUnmapRetries
	}
	if c.DrainRetries < 1 {
		c.DrainRetries = defaultDrainRetries
	}
}
