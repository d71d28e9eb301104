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
	"strings"
	"sync"
	"testing"
)

// Shared test fixtures for the engine tests.

const testBase = 0x1000

type sigEvent struct {
	pid  int
	addr uint64
	pfn  uint64
}

// sigRecorder is a SignalSender that records every delivery instead of
// touching any real process.
type sigRecorder struct {
	mu       sync.Mutex
	advisory []sigEvent
	forced   []sigEvent
}

func (s *sigRecorder) Advisory(t *Process, addr uint64, trapno int, pfn uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advisory = append(s.advisory, sigEvent{pid: t.Pid, addr: addr, pfn: pfn})
	return nil
}

func (s *sigRecorder) Forced(t *Process, pfn uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forced = append(s.forced, sigEvent{pid: t.Pid, pfn: pfn})
	return nil
}

func (s *sigRecorder) counts() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.advisory), len(s.forced)
}

// nopDrainer satisfies Drainer without any caches behind it.
type nopDrainer struct{}

func (nopDrainer) DrainLRU()               {}
func (nopDrainer) ShrinkCaches(target int) int { return 0 }

// unmapMigrator emulates a successful migration: it obtains a target
// page and tears down the source page's user mappings.
type unmapMigrator struct {
	migrated []*Page
	targets  []*Page
}

func (m *unmapMigrator) Migrate(p *Page, alloc func() (*Page, error)) error {
	target, err := alloc()
	if err != nil {
		return err
	}
	tryToUnmap(p, unmapIgnoreMlock|unmapIgnoreAccess)
	m.migrated = append(m.migrated, p)
	m.targets = append(m.targets, target)
	return nil
}

// failMigrator emulates a migration that cannot find a target.
type failMigrator struct{}

func (failMigrator) Migrate(p *Page, alloc func() (*Page, error)) error {
	return memfailureError("no migration target")
}

// logRecorder is a log backend that collects emitted messages.
type logRecorder struct {
	mu       sync.Mutex
	messages []string
}

func (r *logRecorder) Name() string { return "recorder" }

func (r *logRecorder) record(message string) {
	r.mu.Lock()
	r.messages = append(r.messages, message)
	r.mu.Unlock()
}

func (r *logRecorder) Debug(message string) { r.record(message) }
func (r *logRecorder) Info(message string)  { r.record(message) }
func (r *logRecorder) Warn(message string)  { r.record(message) }
func (r *logRecorder) Error(message string) { r.record(message) }

func (r *logRecorder) contains(substr string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, message := range r.messages {
		if strings.Contains(message, substr) {
			return true
		}
	}
	return false
}

func newTestEngine(t *testing.T, cfg *Config, procs ...*Process) (*Engine, *FrameTable, *sigRecorder) {
	t.Helper()
	ft := NewFrameTable(testBase, 64)
	sig := &sigRecorder{}
	e, err := NewEngine(cfg, Options{
		Allocator:    ft,
		ProcessTable: NewStaticProcessTable(procs...),
		Signals:      sig,
		Drainer:      nopDrainer{},
	})
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	return e, ft, sig
}

func testPage(t *testing.T, ft *FrameTable, pfn uint64) *Page {
	t.Helper()
	p, ok := ft.PageByFrame(pfn)
	if !ok {
		t.Fatalf("page %#x outside test frame table", pfn)
	}
	return p
}
