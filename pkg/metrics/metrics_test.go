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

package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestRegisterCollector(t *testing.T) {
	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "test_register_total",
		Help: "Test counter.",
	})
	counter.Inc()

	init := func() (prometheus.Collector, error) { return counter, nil }
	if err := RegisterCollector("test-register", init); err != nil {
		t.Fatalf("RegisterCollector failed: %v", err)
	}
	if err := RegisterCollector("test-register", init); err == nil {
		t.Errorf("duplicate registration accepted")
	}

	// A collector whose initialization fails is skipped, not fatal.
	if err := RegisterCollector("test-broken", func() (prometheus.Collector, error) {
		return nil, metricsError("broken collector")
	}); err != nil {
		t.Fatalf("RegisterCollector failed: %v", err)
	}

	g, err := NewMetricGatherer()
	if err != nil {
		t.Fatalf("NewMetricGatherer failed: %v", err)
	}
	mfs, err := g.Gather()
	if err != nil {
		t.Fatalf("gathering failed: %v", err)
	}

	found := false
	for _, mf := range mfs {
		if mf.GetName() == "test_register_total" {
			found = true
			if v := mf.GetMetric()[0].GetCounter().GetValue(); v != 1 {
				t.Errorf("expected counter value 1, got %v", v)
			}
		}
	}
	if !found {
		t.Errorf("registered collector not gathered")
	}
}
