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

// Outcome is the result of a recovery action.
type Outcome int

const (
	// Ignored means the error cannot be handled.
	Ignored Outcome = iota
	// Failed means handling was attempted but failed.
	Failed
	// Delayed means the page will be handled on a later access.
	Delayed
	// Recovered means the page was successfully recovered.
	Recovered
)

var outcomeNames = map[Outcome]string{
	Ignored:   "Ignored",
	Failed:    "Failed",
	Delayed:   "Delayed",
	Recovered: "Recovered",
}

// String returns the name of the outcome.
func (o Outcome) String() string {
	if name, ok := outcomeNames[o]; ok {
		return name
	}
	return "Unknown"
}

// Succeeded tells if the outcome counts as a successful recovery.
func (o Outcome) Succeeded() bool {
	return o == Recovered || o == Delayed
}
