/*
Copyright 2026 The ManifestHub Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package timewrapper abstracts the clock so that commit timestamps and
// retry sleeps can be driven synthetically in tests. Git records author
// time at second resolution, which makes real clocks useless for
// ordering assertions.
package timewrapper

import (
	"sync"
	"time"
)

// Time groups the clock functions mocked by StepClock.
type Time interface {
	Now() time.Time
	Sleep(d time.Duration)
}

// RealTime is a wrapper for the actual time functions.
type RealTime struct{}

// Now simply calls time.Now().
func (RealTime) Now() time.Time { return time.Now() }

// Sleep simply calls time.Sleep(d).
func (RealTime) Sleep(d time.Duration) { time.Sleep(d) }

// StepClock is a deterministic clock: every Now() advances the current
// time by Step, and Sleep returns immediately while recording the
// requested durations.
type StepClock struct {
	mu    sync.Mutex
	now   time.Time
	Step  time.Duration
	slept []time.Duration
}

// NewStepClock creates a StepClock starting at start, advancing by step
// per observation.
func NewStepClock(start time.Time, step time.Duration) *StepClock {
	return &StepClock{now: start, Step: step}
}

// Now returns the current fake time and advances it.
func (c *StepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now
	c.now = c.now.Add(c.Step)
	return t
}

// Sleep records the request and returns without blocking.
func (c *StepClock) Sleep(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.slept = append(c.slept, d)
	c.now = c.now.Add(d)
}

// Slept returns every duration passed to Sleep so far.
func (c *StepClock) Slept() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]time.Duration, len(c.slept))
	copy(out, c.slept)
	return out
}
