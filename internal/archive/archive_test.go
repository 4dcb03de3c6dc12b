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

package archive

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"sync"
	"testing"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManifestHub/ManifestHub/internal/gitstore"
	"github.com/ManifestHub/ManifestHub/internal/gitstore/gitstoretest"
	"github.com/ManifestHub/ManifestHub/internal/keyvdf"
)

func desc(app, depot uint32, manifest uint64, key byte) *Descriptor {
	return &Descriptor{
		AppID:      app,
		DepotID:    depot,
		ManifestID: manifest,
		DepotKey:   bytes.Repeat([]byte{key}, 32),
		Manifest:   []byte(fmt.Sprintf("payload %d/%d/%d", app, depot, manifest)),
	}
}

// tipFiles returns the blob contents at a branch tip, keyed by name.
func tipFiles(t *testing.T, store *gitstore.Store, branch string) map[string][]byte {
	t.Helper()
	tip, ok := store.BranchTip(branch)
	require.True(t, ok, "branch %s should exist", branch)
	tree, err := store.TreeOf(tip)
	require.NoError(t, err)
	out := map[string][]byte{}
	for _, e := range tree.Entries {
		data, err := store.BlobBytes(e.Hash)
		require.NoError(t, err)
		out[e.Name] = data
	}
	return out
}

// history returns the commit hashes of a branch, tip first.
func history(t *testing.T, fx *gitstoretest.Fixture, branch string) []plumbing.Hash {
	t.Helper()
	tip, ok := fx.Store.BranchTip(branch)
	require.True(t, ok)
	var out []plumbing.Hash
	for h := tip; h != plumbing.ZeroHash; {
		out = append(out, h)
		c, err := fx.Repo.CommitObject(h)
		require.NoError(t, err)
		require.LessOrEqual(t, len(c.ParentHashes), 1, "history must stay linear")
		if len(c.ParentHashes) == 0 {
			break
		}
		h = c.ParentHashes[0]
	}
	return out
}

func TestWriteManifestIsIdempotent(t *testing.T) {
	fx := gitstoretest.New(t)
	a := New(fx.Store)
	ctx := context.Background()

	status, err := a.WriteManifest(ctx, desc(10, 20, 42, 0xaa))
	require.NoError(t, err)
	require.Equal(t, StatusWritten, status)

	status, err = a.WriteManifest(ctx, desc(10, 20, 42, 0xaa))
	require.NoError(t, err)
	require.Equal(t, StatusAlreadyTagged, status)

	require.Len(t, history(t, fx, "10"), 1, "second write must not commit")
	require.True(t, a.HasManifest(10, 20, 42))

	// The branch and the tag made it to the origin.
	_, err = fx.Origin.Reference(plumbing.NewBranchReferenceName("10"), false)
	require.NoError(t, err)
	_, err = fx.Origin.Reference(plumbing.NewTagReferenceName("10_20_42"), false)
	require.NoError(t, err)
}

func TestOneManifestPerDepot(t *testing.T) {
	fx := gitstoretest.New(t)
	a := New(fx.Store)
	ctx := context.Background()

	_, err := a.WriteManifest(ctx, desc(10, 20, 111, 0xaa))
	require.NoError(t, err)
	_, err = a.WriteManifest(ctx, desc(10, 20, 222, 0xbb))
	require.NoError(t, err)

	files := tipFiles(t, fx.Store, "10")
	assert.Contains(t, files, "20_222.manifest")
	assert.NotContains(t, files, "20_111.manifest")

	// Both triples stay tagged even though only the newer manifest
	// remains on the tip.
	assert.True(t, a.HasManifest(10, 20, 111))
	assert.True(t, a.HasManifest(10, 20, 222))
}

func TestKeyRegistryIsMonotonicAcrossHistory(t *testing.T) {
	fx := gitstoretest.New(t)
	a := New(fx.Store)
	ctx := context.Background()

	first := desc(10, 20, 111, 0xaa)
	second := desc(10, 20, 222, 0xbb)
	_, err := a.WriteManifest(ctx, first)
	require.NoError(t, err)
	_, err = a.WriteManifest(ctx, second)
	require.NoError(t, err)

	files := tipFiles(t, fx.Store, "10")
	tipReg := keyvdf.Parse(files[keyvdf.FileName])
	key, ok := tipReg.Get(20)
	require.True(t, ok)
	require.Equal(t, "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb", key)

	// The earlier commit still carries the first key.
	commits := history(t, fx, "10")
	require.Len(t, commits, 2)
	tree, err := fx.Store.TreeOf(commits[1])
	require.NoError(t, err)
	var oldKeyBlob []byte
	for _, e := range tree.Entries {
		if e.Name == keyvdf.FileName {
			oldKeyBlob, err = fx.Store.BlobBytes(e.Hash)
			require.NoError(t, err)
		}
	}
	oldReg := keyvdf.Parse(oldKeyBlob)
	key, ok = oldReg.Get(20)
	require.True(t, ok)
	require.Equal(t, "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", key)
}

func TestUnchangedTreeRecreatesMissingTag(t *testing.T) {
	fx := gitstoretest.New(t)
	a := New(fx.Store)
	ctx := context.Background()

	d := desc(10, 20, 42, 0xaa)
	_, err := a.WriteManifest(ctx, d)
	require.NoError(t, err)

	// Losing the tag (say, a partial clone) must not produce a second
	// commit on re-archive: the staged tree is identical.
	require.NoError(t, fx.Store.DeleteTag("10_20_42"))

	status, err := a.WriteManifest(ctx, d)
	require.NoError(t, err)
	require.Equal(t, StatusUnchanged, status)
	require.True(t, a.HasManifest(10, 20, 42))
	require.Len(t, history(t, fx, "10"), 1)
}

func TestPruneKeepsNewestTagPerDepot(t *testing.T) {
	fx := gitstoretest.New(t)
	a := New(fx.Store)
	ctx := context.Background()

	// Three generations of the same depot; the step clock guarantees
	// strictly increasing author times.
	for i, manifest := range []uint64{111, 222, 333} {
		_, err := a.WriteManifest(ctx, desc(10, 20, manifest, byte(i+1)))
		require.NoError(t, err)
	}
	// An unrelated depot must be untouched by the sweep.
	_, err := a.WriteManifest(ctx, desc(10, 77, 999, 0x77))
	require.NoError(t, err)

	require.NoError(t, a.PruneExpiredTags(ctx))

	assert.False(t, a.HasManifest(10, 20, 111))
	assert.False(t, a.HasManifest(10, 20, 222))
	assert.True(t, a.HasManifest(10, 20, 333))
	assert.True(t, a.HasManifest(10, 77, 999))

	// Deletions propagated to the origin.
	_, err = fx.Origin.Reference(plumbing.NewTagReferenceName("10_20_111"), false)
	assert.Error(t, err)
	_, err = fx.Origin.Reference(plumbing.NewTagReferenceName("10_20_333"), false)
	assert.NoError(t, err)
}

func TestConcurrentWritesStayLinearPerBranch(t *testing.T) {
	fx := gitstoretest.New(t)
	a := New(fx.Store)
	ctx := context.Background()

	const writers = 6
	var wg sync.WaitGroup
	errs := make([]error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// Half the writers share app 10, the rest get their own
			// branches.
			app := uint32(10)
			if i%2 == 1 {
				app = uint32(100 + i)
			}
			_, errs[i] = a.WriteManifest(ctx, desc(app, uint32(20+i), uint64(1000+i), byte(i+1)))
		}(i)
	}
	wg.Wait()
	for i, err := range errs {
		require.NoError(t, err, "writer %d", i)
	}

	// App 10 got three serialized commits.
	commits := history(t, fx, "10")
	require.Len(t, commits, 3)

	files := tipFiles(t, fx.Store, "10")
	require.Len(t, files, 4) // three manifests + Key.vdf
	reg := keyvdf.Parse(files[keyvdf.FileName])
	require.Len(t, reg, 3)

	for i := 1; i < writers; i += 2 {
		branch := strconv.Itoa(100 + i)
		require.Len(t, history(t, fx, branch), 1)
	}
}

func TestTrackingReportPartitionsApps(t *testing.T) {
	fx := gitstoretest.New(t)
	a := New(fx.Store)
	ctx := context.Background()

	_, err := a.WriteManifest(ctx, desc(10, 20, 42, 0xaa)) // managed + touched
	require.NoError(t, err)
	_, err = a.WriteManifest(ctx, desc(30, 40, 43, 0xbb)) // managed only
	require.NoError(t, err)

	tr := NewTracker()
	tr.TouchDepot(10, 20)
	tr.TouchApp(50) // touched only

	report, err := a.TrackingReport(tr, "run-1")
	require.NoError(t, err)

	assert.Contains(t, report, "## Active (1)")
	assert.Contains(t, report, "## Orphan (1)")
	assert.Contains(t, report, "## AccessDenied (1)")
	assert.Contains(t, report, "| 10 | 1 |")
	assert.Contains(t, report, "| 30 | 1 |")
	assert.Contains(t, report, "| 50 | 0 |")
	assert.Contains(t, report, "run-1")
}
