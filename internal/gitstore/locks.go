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

package gitstore

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// lockWaitLogInterval is how often a blocked writer reports that it is
// still waiting for its branch lock. The wait itself never times out.
const lockWaitLogInterval = 5 * time.Second

// branchLocks is a lazily-populated map of per-branch binary locks.
// Writes to different branches run in parallel; writes to the same
// branch hold the lock across their whole read-stage-commit-push
// sequence. The locks are channels rather than mutexes so a waiter can
// surface progress while blocked.
type branchLocks struct {
	mu sync.Mutex
	m  map[string]chan struct{}
}

func newBranchLocks() *branchLocks {
	return &branchLocks{m: map[string]chan struct{}{}}
}

func (b *branchLocks) get(branch string) chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch, ok := b.m[branch]
	if !ok {
		ch = make(chan struct{}, 1)
		ch <- struct{}{}
		b.m[branch] = ch
	}
	return ch
}

// acquire blocks until the branch lock is free and returns the release
// function. Release is safe to call exactly once, typically deferred.
func (b *branchLocks) acquire(branch string, log *logrus.Entry) func() {
	ch := b.get(branch)
	waited := time.Duration(0)
	for {
		select {
		case <-ch:
			return func() { ch <- struct{}{} }
		case <-time.After(lockWaitLogInterval):
			waited += lockWaitLogInterval
			log.WithFields(logrus.Fields{
				"branch": branch,
				"waited": waited.String(),
			}).Info("still waiting for branch lock")
		}
	}
}
