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
	"sync"
)

// StaticProcessTable is a ProcessTable over an explicit process list.
type StaticProcessTable struct {
	mu    sync.RWMutex
	procs []*Process
}

var _ ProcessTable = &StaticProcessTable{}

// NewStaticProcessTable returns a table over the given processes.
func NewStaticProcessTable(procs ...*Process) *StaticProcessTable {
	return &StaticProcessTable{procs: procs}
}

// Add inserts a process into the table.
func (pt *StaticProcessTable) Add(t *Process) {
	pt.mu.Lock()
	pt.procs = append(pt.procs, t)
	pt.mu.Unlock()
}

// Remove drops a process from the table.
func (pt *StaticProcessTable) Remove(t *Process) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	for i, other := range pt.procs {
		if other == t {
			pt.procs = append(pt.procs[:i], pt.procs[i+1:]...)
			return
		}
	}
}

// Walk iterates the processes under the table's read lock.
func (pt *StaticProcessTable) Walk(fn func(t *Process) bool) {
	pt.mu.RLock()
	defer pt.mu.RUnlock()
	for _, t := range pt.procs {
		if !fn(t) {
			return
		}
	}
}
