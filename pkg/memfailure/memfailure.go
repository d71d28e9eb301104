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
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.opencensus.io/trace"

	logger "github.com/intel/hwpoison/pkg/log"
)

var log = logger.NewLogger("memfailure")

// HandleFlags adjust how a failure report is handled.
type HandleFlags uint

const (
	// MFCountIncreased tells that the caller already holds a reference
	// on the page.
	MFCountIncreased HandleFlags = 1 << iota
)

// Options are the collaborators the engine is wired to.
type Options struct {
	// Allocator is required.
	Allocator Allocator
	// ProcessTable is required.
	ProcessTable ProcessTable
	// Signals is required.
	Signals SignalSender
	// Drainer is optional; without one the reclaim pressure trigger is
	// a no-op on outside caches.
	Drainer Drainer
	// Migrator is optional; without one soft-offlining falls back to
	// invalidation only.
	Migrator Migrator
}

// Engine is the page-failure classification-and-recovery engine.
// Multiple failure reports may be in flight concurrently for different
// pages; per-page mutual exclusion is by the page lock.
type Engine struct {
	cfg     *Config
	alloc   Allocator
	procs   ProcessTable
	signals SignalSender
	drain   Drainer
	migrate Migrator

	// hotplug excludes concurrent structural memory changes for the
	// brief isolate/probe/unisolate sequence of getAnyPage, never for
	// a whole classification.
	hotplug sync.Mutex

	ledger Ledger
	met    *engineMetrics
	rlog   logger.Logger

	// allocEntry builds one notify entry; replaceable so tests can
	// exercise the degraded allocation-failure path.
	allocEntry func() *notifyEntry
}

// NewEngine returns an engine wired to the given collaborators.
func NewEngine(cfg *Config, opts Options) (*Engine, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	} else {
		cfg.sanitize()
	}
	if opts.Allocator == nil {
		return nil, memfailureError("engine needs an allocator")
	}
	if opts.ProcessTable == nil {
		return nil, memfailureError("engine needs a process table")
	}
	if opts.Signals == nil {
		return nil, memfailureError("engine needs a signal sender")
	}

	e := &Engine{
		cfg:        cfg,
		alloc:      opts.Allocator,
		procs:      opts.ProcessTable,
		signals:    opts.Signals,
		drain:      opts.Drainer,
		migrate:    opts.Migrator,
		met:        newEngineMetrics(),
		rlog:       logger.RateLimit(log, logger.Interval(time.Second)),
		allocEntry: func() *notifyEntry { return &notifyEntry{} },
	}
	return e, nil
}

// QuarantinedPages returns the number of pages currently quarantined.
func (e *Engine) QuarantinedPages() int64 {
	return e.ledger.Count()
}

// HandlePage handles a page reported corrupted by the hardware. It must
// run fairly fast and not sleep for too long elsewhere: it can be
// called for a page at any point in its life cycle.
//
// The return is nil when the page was recovered or its handling safely
// delayed; otherwise an error of the failure taxonomy. Handling may
// kill arbitrary processes that had the page mapped.
func (e *Engine) HandlePage(ctx context.Context, pfn uint64, flags HandleFlags, trapno int) error {
	_, span := trace.StartSpan(ctx, "memfailure.HandlePage")
	defer span.End()

	p, ok := e.alloc.PageByFrame(pfn)
	if !ok {
		log.Error("MCE %#x: memory outside kernel control", pfn)
		return errors.Wrapf(ErrNoSuchPage, "page frame %#x", pfn)
	}

	if p.TestSet(FlagPoisoned) {
		log.Error("MCE %#x: already hardware poisoned", pfn)
		return errors.Wrapf(ErrBusy, "page %#x already poisoned", pfn)
	}
	e.ledger.increment()

	// We need/get a reference before we can test further state. This
	// is racy: the error could be reported after someone dropped the
	// last reference but before the page was freed. A free page is
	// caught and quarantined right here; a zero-refcount page in any
	// other state cannot be handled.
	if flags&MFCountIncreased == 0 && !p.Head().TryGet() {
		if e.alloc.IsFreePage(p) {
			e.actionResult(pfn, p, "free buddy", Delayed)
			return nil
		}
		e.actionResult(pfn, p, "high order kernel", Ignored)
		return errors.Wrapf(ErrBusy, "page %#x: zero refcount in unknown state", pfn)
	}

	// Pages of unknown type are shaken loose in the hope that they
	// settle into a recognizable state.
	if !p.Has(FlagLRU) {
		e.shakePage(p, false)
	}

	// The page lock serializes against soft-offlining and unpoisoning
	// of the same page.
	p.Lock()

	// Unpoisoning raced with us and won; nothing left to handle.
	if !p.Has(FlagPoisoned) {
		log.Error("MCE %#x: just unpoisoned", pfn)
		p.Unlock()
		p.Put()
		return nil
	}

	// Take care of the user space mappings first. The classifier
	// actions assume an unmapped page.
	if !e.unmapAndNotify(p, pfn, trapno) {
		log.Error("MCE %#x: cannot unmap page, give up", pfn)
		p.Unlock()
		return errors.Wrapf(recoveryErrKind(p), "page %#x: failed to unmap", pfn)
	}

	// Torn down by someone else?
	if p.Has(FlagLRU) && !p.Has(FlagSwapCache) && !p.Anon() && p.Mapping() == nil {
		e.actionResult(pfn, p, "already truncated LRU", Ignored)
		p.Unlock()
		return errors.Wrapf(ErrBusy, "page %#x already truncated", pfn)
	}

	err := e.pageAction(classifyPage(p), p, pfn)
	p.Unlock()
	// The reference taken above is deliberately kept so the poisoned
	// page can never return to the allocator.
	return err
}
