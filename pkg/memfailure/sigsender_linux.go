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

//go:build linux
// +build linux

package memfailure

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// UnixSignals delivers kill decisions to real processes: SIGBUS for
// advisory notification, SIGKILL for forced termination. The advisory
// signal is deliberately not forced so the process can block it
// temporarily.
type UnixSignals struct{}

var _ SignalSender = UnixSignals{}

// Advisory sends a catchable SIGBUS to the process.
func (UnixSignals) Advisory(t *Process, addr uint64, trapno int, pfn uint64) error {
	if err := unix.Kill(t.Pid, unix.SIGBUS); err != nil {
		return errors.Wrapf(err, "failed to signal %s:%d", t.Comm, t.Pid)
	}
	return nil
}

// Forced terminates the process with SIGKILL.
func (UnixSignals) Forced(t *Process, pfn uint64) error {
	if err := unix.Kill(t.Pid, unix.SIGKILL); err != nil {
		return errors.Wrapf(err, "failed to kill %s:%d", t.Comm, t.Pid)
	}
	return nil
}
