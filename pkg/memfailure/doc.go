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

// Package memfailure recovers from asynchronous hardware-detected memory
// corruption reported against individual physical page frames.
//
// The engine classifies the corrupted page against an ordered state
// table, removes it from every address space that maps it, notifies or
// kills the affected processes, and quarantines the page so that it can
// never re-enter the allocator while poisoned. A corrupted page can be
// reached at any point in its life cycle, so nothing here may assume
// exclusive access: the code takes the normal locks and accepts that
// recovery may be slow.
//
// Mapping a corrupted page back to the processes using it has to walk
// the complete process table, which is nonlinear in the number of
// mappings. Memory corruption is rare enough that correctness, not
// throughput, is the contract.
package memfailure
