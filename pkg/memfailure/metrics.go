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
	"github.com/prometheus/client_golang/prometheus"

	"github.com/intel/hwpoison/pkg/metrics"
)

// engineMetrics holds the counters the engine updates while handling
// failures.
type engineMetrics struct {
	outcomes    *prometheus.CounterVec
	softOffline *prometheus.CounterVec
	unpoisons   prometheus.Counter
}

func newEngineMetrics() *engineMetrics {
	return &engineMetrics{
		outcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "hwpoison",
				Name:      "recovery_outcomes_total",
				Help:      "Recovery action outcomes by page class.",
			},
			[]string{"class", "outcome"},
		),
		softOffline: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "hwpoison",
				Name:      "soft_offline_total",
				Help:      "Soft-offline attempts by result.",
			},
			[]string{"result"},
		),
		unpoisons: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "hwpoison",
				Name:      "unpoison_total",
				Help:      "Pages explicitly unpoisoned.",
			},
		),
	}
}

func (m *engineMetrics) recordOutcome(class string, result Outcome) {
	m.outcomes.WithLabelValues(class, result.String()).Inc()
}

func (m *engineMetrics) recordSoftOffline(ok bool) {
	result := "failure"
	if ok {
		result = "success"
	}
	m.softOffline.WithLabelValues(result).Inc()
}

func (m *engineMetrics) recordUnpoison() {
	m.unpoisons.Inc()
}

// collector exposes the engine's counters and the quarantine ledger as
// prometheus metrics.
type collector struct {
	e        *Engine
	poisoned *prometheus.Desc
}

var _ prometheus.Collector = &collector{}

// Collector returns a prometheus collector for the engine.
func (e *Engine) Collector() prometheus.Collector {
	return &collector{
		e: e,
		poisoned: prometheus.NewDesc(
			"hwpoison_poisoned_pages",
			"Number of pages currently quarantined as poisoned.",
			nil, nil,
		),
	}
}

// RegisterCollector registers the engine's metrics for collection.
func (e *Engine) RegisterCollector() error {
	return metrics.RegisterCollector("memfailure", func() (prometheus.Collector, error) {
		return e.Collector(), nil
	})
}

// Describe implements prometheus.Collector.
func (c *collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.poisoned
	c.e.met.outcomes.Describe(ch)
	c.e.met.softOffline.Describe(ch)
	c.e.met.unpoisons.Describe(ch)
}

// Collect implements prometheus.Collector.
func (c *collector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(c.poisoned, prometheus.GaugeValue,
		float64(c.e.ledger.Count()))
	c.e.met.outcomes.Collect(ch)
	c.e.met.softOffline.Collect(ch)
	c.e.met.unpoisons.Collect(ch)
}
