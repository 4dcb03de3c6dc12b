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
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManifestHub/ManifestHub/internal/timewrapper"
)

// newStore builds a bare origin plus a working clone, mirroring the
// gitstoretest fixture (which cannot be imported here without a cycle).
func newStore(t *testing.T) (*Store, *git.Repository) {
	t.Helper()
	dir := t.TempDir()
	originDir := filepath.Join(dir, "origin.git")
	origin, err := git.PlainInit(originDir, true)
	require.NoError(t, err)

	repo, err := git.PlainInit(filepath.Join(dir, "work"), false)
	require.NoError(t, err)
	_, err = repo.CreateRemote(&config.RemoteConfig{
		Name: git.DefaultRemoteName,
		URLs: []string{originDir},
	})
	require.NoError(t, err)

	store := NewFromRepo(repo, "")
	store.Clock = timewrapper.NewStepClock(time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC), time.Minute)
	return store, origin
}

func commitFile(t *testing.T, s *Store, name string, data []byte, parents []plumbing.Hash) plumbing.Hash {
	t.Helper()
	blob, err := s.WriteBlob(data)
	require.NoError(t, err)
	tree, err := s.WriteTree([]object.TreeEntry{
		{Name: name, Mode: filemode.Regular, Hash: blob},
	})
	require.NoError(t, err)
	commit, err := s.WriteCommit(tree, parents, "Update "+name)
	require.NoError(t, err)
	return commit
}

func TestObjectRoundtrip(t *testing.T) {
	s, _ := newStore(t)

	commit := commitFile(t, s, "a.txt", []byte("hello"), nil)
	tree, err := s.TreeOf(commit)
	require.NoError(t, err)
	entry, err := tree.FindEntry("a.txt")
	require.NoError(t, err)
	data, err := s.BlobBytes(entry.Hash)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), data)

	// The stepping clock gives strictly increasing commit times.
	next := commitFile(t, s, "a.txt", []byte("hello again"), []plumbing.Hash{commit})
	t1, err := s.CommitTime(commit)
	require.NoError(t, err)
	t2, err := s.CommitTime(next)
	require.NoError(t, err)
	assert.True(t, t2.After(t1))
}

func TestWriteTreeSortsEntries(t *testing.T) {
	s, _ := newStore(t)
	blob, err := s.WriteBlob([]byte("x"))
	require.NoError(t, err)

	unsorted := []object.TreeEntry{
		{Name: "b", Mode: filemode.Regular, Hash: blob},
		{Name: "a", Mode: filemode.Regular, Hash: blob},
	}
	sorted := []object.TreeEntry{
		{Name: "a", Mode: filemode.Regular, Hash: blob},
		{Name: "b", Mode: filemode.Regular, Hash: blob},
	}
	h1, err := s.WriteTree(unsorted)
	require.NoError(t, err)
	h2, err := s.WriteTree(sorted)
	require.NoError(t, err)
	assert.Equal(t, h2, h1, "entry order must not leak into the tree id")
}

func TestPushBranchAdvancesRemoteTracking(t *testing.T) {
	s, origin := newStore(t)
	ctx := context.Background()

	commit := commitFile(t, s, "a.txt", []byte("hello"), nil)
	require.NoError(t, s.SetBranch("main", commit))
	require.NoError(t, s.PushBranch(ctx, "main"))

	ref, err := origin.Reference(plumbing.NewBranchReferenceName("main"), false)
	require.NoError(t, err)
	assert.Equal(t, commit, ref.Hash())

	branches, err := s.RemoteBranches()
	require.NoError(t, err)
	assert.Equal(t, commit, branches["main"])

	// Pushing an unchanged branch is not an error.
	require.NoError(t, s.PushBranch(ctx, "main"))
}

func TestRemoveBranchToleratesMissingRefs(t *testing.T) {
	s, _ := newStore(t)
	require.NoError(t, s.RemoveBranch("never-existed"))

	commit := commitFile(t, s, "a.txt", []byte("hello"), nil)
	require.NoError(t, s.SetBranch("doomed", commit))
	require.NoError(t, s.RemoveBranch("doomed"))
	_, ok := s.BranchTip("doomed")
	assert.False(t, ok)
}

func TestTagLifecycle(t *testing.T) {
	s, origin := newStore(t)
	ctx := context.Background()

	commit := commitFile(t, s, "a.txt", []byte("hello"), nil)
	require.NoError(t, s.SetBranch("main", commit))
	require.NoError(t, s.PushBranch(ctx, "main"))

	require.False(t, s.TagExists("10_20_42"))
	require.NoError(t, s.SetTag("10_20_42", commit))
	require.True(t, s.TagExists("10_20_42"))
	require.NoError(t, s.PushTag(ctx, "10_20_42"))

	_, err := origin.Reference(plumbing.NewTagReferenceName("10_20_42"), false)
	require.NoError(t, err)

	require.NoError(t, s.DeleteTag("10_20_42"))
	require.NoError(t, s.PushDeleteTag(ctx, "10_20_42"))
	require.False(t, s.TagExists("10_20_42"))
	_, err = origin.Reference(plumbing.NewTagReferenceName("10_20_42"), false)
	assert.Error(t, err)
}

func TestLockSerializesPerBranch(t *testing.T) {
	s, _ := newStore(t)

	var mu sync.Mutex
	inCritical := 0
	maxSeen := 0

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release := s.Lock("440")
			defer release()
			mu.Lock()
			inCritical++
			if inCritical > maxSeen {
				maxSeen = inCritical
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			inCritical--
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxSeen, "same-branch writers must not overlap")
}
