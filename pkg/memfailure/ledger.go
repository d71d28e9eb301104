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
	"sync/atomic"
)

// Ledger counts the pages currently held in quarantine. It is
// incremented only when a page is newly marked poisoned and decremented
// only by explicit unpoisoning; nothing else may touch it, which keeps
// the invariant checkable at the two call sites.
type Ledger struct {
	poisoned int64
}

func (l *Ledger) increment() {
	atomic.AddInt64(&l.poisoned, 1)
}

func (l *Ledger) decrement() {
	atomic.AddInt64(&l.poisoned, -1)
}

// Count returns the number of pages currently quarantined.
func (l *Ledger) Count() int64 {
	return atomic.LoadInt64(&l.poisoned)
}
