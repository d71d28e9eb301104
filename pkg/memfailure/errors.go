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
	"fmt"

	"github.com/pkg/errors"
)

// Errors of the failure-handling taxonomy. Callers check against these
// with errors.Is(); the wrapped messages carry page-specific context.
var (
	// ErrNoSuchPage marks a frame number that refers to no real memory.
	ErrNoSuchPage = errors.New("no such page frame")
	// ErrBusy marks a page that is already poisoned or concurrently handled.
	ErrBusy = errors.New("page busy")
	// ErrUnsupported marks page types the engine does not handle.
	ErrUnsupported = errors.New("unsupported page type")
	// ErrIO marks I/O-class failures: unknown page states, failed
	// invalidation or migration, allocation failure during notification.
	ErrIO = errors.New("I/O error")
)

func memfailureError(format string, args ...interface{}) error {
	return fmt.Errorf("memfailure: "+format, args...)
}

// recoveryErrKind picks the error class for a failed recovery. Huge and
// deduplicated pages have no reverse-mapping support, so their failures
// are a capability gap, not a transient busy state.
func recoveryErrKind(p *Page) error {
	if p.Compound() || p.Has(FlagKsm) {
		return ErrUnsupported
	}
	return ErrBusy
}
