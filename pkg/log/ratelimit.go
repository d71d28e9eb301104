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

package log

import (
	"fmt"
	"sync"
	"time"

	goxrate "golang.org/x/time/rate"
)

// Rate specifies the maximum per-message logging rate.
type Rate struct {
	// Limit is the rate limit.
	Limit goxrate.Limit
	// Burst is the number of allowed bursts.
	Burst int
	// Window is the optional message window size.
	Window int
}

// ratelimited implements rate-limited logging.
type ratelimited struct {
	Logger
	sync.Mutex
	rate   Rate
	window []string
	limits map[string]*goxrate.Limiter
}

const (
	// DefaultWindow is the default message window size for rate limiting.
	DefaultWindow = 256
	// MinimumWindow is the smallest message window size for rate limiting.
	MinimumWindow = 32
)

// Every defines a rate limit for the given interval.
func Every(interval time.Duration) goxrate.Limit {
	return goxrate.Every(interval)
}

// Interval returns a Rate for the given interval.
func Interval(interval time.Duration) Rate {
	return Rate{Limit: Every(interval), Burst: 1}
}

// RateLimit returns a rate-limited version of the given logger.
func RateLimit(log Logger, rate Rate) Logger {
	switch {
	case rate.Window == 0:
		rate.Window = DefaultWindow
	case rate.Window < MinimumWindow:
		rate.Window = MinimumWindow
	}
	if rate.Burst < 1 {
		rate.Burst = 1
	}
	return &ratelimited{
		Logger: log,
		rate:   rate,
		limits: make(map[string]*goxrate.Limiter),
		window: make([]string, 0, rate.Window),
	}
}

func (rl *ratelimited) Debug(format string, args ...interface{}) {
	if msg := rl.filter(format, args...); msg != "" {
		rl.Logger.Debug("%s", msg)
	}
}

func (rl *ratelimited) Info(format string, args ...interface{}) {
	if msg := rl.filter(format, args...); msg != "" {
		rl.Logger.Info("%s", msg)
	}
}

func (rl *ratelimited) Warn(format string, args ...interface{}) {
	if msg := rl.filter(format, args...); msg != "" {
		rl.Logger.Warn("%s", msg)
	}
}

func (rl *ratelimited) Error(format string, args ...interface{}) {
	if msg := rl.filter(format, args...); msg != "" {
		rl.Logger.Error("%s", msg)
	}
}

// filter returns the formatted message if it should be emitted, evicting
// the oldest tracked message once the window is full.
func (rl *ratelimited) filter(format string, args ...interface{}) string {
	rl.Lock()
	defer rl.Unlock()

	msg := fmt.Sprintf(format, args...)
	lim, ok := rl.limits[msg]

	if !ok {
		if len(rl.window) >= cap(rl.window) && len(rl.window) > 0 {
			delete(rl.limits, rl.window[0])
			rl.window = rl.window[1:]
		}
		rl.window = append(rl.window, msg)
		lim = goxrate.NewLimiter(rl.rate.Limit, rl.rate.Burst)
		rl.limits[msg] = lim
	}

	if !lim.Allow() {
		return ""
	}
	return msg
}
