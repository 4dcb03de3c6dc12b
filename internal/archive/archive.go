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

// Package archive is the Git-backed manifest store. Every app owns a
// branch named by its decimal id whose tip tree carries one
// {depot}_{manifest}.manifest blob per tracked depot plus the Key.vdf
// decryption-key registry; every archived (app, depot, manifest) triple
// is pinned by a lightweight tag. Tags are the authoritative
// have-manifest index and are checked before any network work.
package archive

import (
	"context"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/ManifestHub/ManifestHub/internal/gitstore"
	"github.com/ManifestHub/ManifestHub/internal/keyvdf"
)

// Descriptor is one downloaded manifest ready for archival.
type Descriptor struct {
	AppID      uint32
	DepotID    uint32
	ManifestID uint64
	DepotKey   []byte
	Manifest   []byte
}

// Status is the outcome of a WriteManifest call.
type Status int

const (
	// StatusWritten: a new commit landed on the app branch.
	StatusWritten Status = iota
	// StatusUnchanged: the staged tree equals the current tip tree; at
	// most a missing tag was re-created.
	StatusUnchanged
	// StatusAlreadyTagged: the triple's tag already existed, nothing
	// was done.
	StatusAlreadyTagged
)

func (s Status) String() string {
	switch s {
	case StatusWritten:
		return "written"
	case StatusUnchanged:
		return "unchanged"
	case StatusAlreadyTagged:
		return "already tagged"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Archive writes manifests and tags into a shared Store.
type Archive struct {
	store *gitstore.Store
	log   *logrus.Entry
}

// New wraps a store.
func New(store *gitstore.Store) *Archive {
	return &Archive{
		store: store,
		log:   logrus.WithField("component", "archive"),
	}
}

// TagName encodes a triple as its tag.
func TagName(appID, depotID uint32, manifestID uint64) string {
	return fmt.Sprintf("%d_%d_%d", appID, depotID, manifestID)
}

// parseTagName is the inverse of TagName.
func parseTagName(name string) (appID, depotID uint32, manifestID uint64, ok bool) {
	parts := strings.Split(name, "_")
	if len(parts) != 3 {
		return 0, 0, 0, false
	}
	app, err := strconv.ParseUint(parts[0], 10, 32)
	if err != nil {
		return 0, 0, 0, false
	}
	depot, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return 0, 0, 0, false
	}
	manifest, err := strconv.ParseUint(parts[2], 10, 64)
	if err != nil {
		return 0, 0, 0, false
	}
	return uint32(app), uint32(depot), manifest, true
}

// HasManifest reports whether the triple's tag exists. O(1); callers
// consult it before spending Steam RPCs on a manifest.
func (a *Archive) HasManifest(appID, depotID uint32, manifestID uint64) bool {
	return a.store.TagExists(TagName(appID, depotID, manifestID))
}

// WriteManifest lands a descriptor on its app branch under the branch
// lock: drop prior blobs of the same depot, merge the depot key into
// Key.vdf, stage the manifest blob, commit if the tree changed, push,
// tag. Re-checks the tag under the lock to close the race with a
// concurrent writer of the same triple.
func (a *Archive) WriteManifest(ctx context.Context, d *Descriptor) (Status, error) {
	branch := strconv.FormatUint(uint64(d.AppID), 10)
	tag := TagName(d.AppID, d.DepotID, d.ManifestID)

	release := a.store.Lock(branch)
	defer release()

	if a.store.TagExists(tag) {
		return StatusAlreadyTagged, nil
	}

	tip, hasTip := a.store.BranchTip(branch)

	var entries []object.TreeEntry
	var keyBlob []byte
	var tipTree plumbing.Hash
	if hasTip {
		tree, err := a.store.TreeOf(tip)
		if err != nil {
			return 0, errors.Wrapf(err, "loading tip of branch %s", branch)
		}
		tipTree = tree.Hash
		for _, e := range tree.Entries {
			if e.Name == keyvdf.FileName {
				if keyBlob, err = a.store.BlobBytes(e.Hash); err != nil {
					return 0, errors.Wrap(err, "reading Key.vdf")
				}
				continue
			}
			// One manifest per depot: drop entries whose name prefix
			// is this depot's id. Unparseable prefixes are kept as-is.
			if prefix, _, found := strings.Cut(e.Name, "_"); found {
				if id, err := strconv.ParseUint(prefix, 10, 32); err == nil && uint32(id) == d.DepotID {
					continue
				}
			}
			entries = append(entries, e)
		}
	}

	registry := keyvdf.Parse(keyBlob)
	registry.Set(d.DepotID, hex.EncodeToString(d.DepotKey))
	keyHash, err := a.store.WriteBlob(registry.Serialize())
	if err != nil {
		return 0, errors.Wrap(err, "staging Key.vdf")
	}
	entries = append(entries, object.TreeEntry{
		Name: keyvdf.FileName,
		Mode: filemode.Regular,
		Hash: keyHash,
	})

	manifestName := fmt.Sprintf("%d_%d.manifest", d.DepotID, d.ManifestID)
	manifestHash, err := a.store.WriteBlob(d.Manifest)
	if err != nil {
		return 0, errors.Wrap(err, "staging manifest blob")
	}
	entries = append(entries, object.TreeEntry{
		Name: manifestName,
		Mode: filemode.Regular,
		Hash: manifestHash,
	})

	treeHash, err := a.store.WriteTree(entries)
	if err != nil {
		return 0, errors.Wrapf(err, "writing tree for branch %s", branch)
	}

	if hasTip && treeHash == tipTree {
		// Failsafe: the contents are already there but the tag is not.
		// Tag the current tip; failures here mean someone else already
		// created the tag, which is fine.
		if err := a.store.SetTag(tag, tip); err == nil {
			if err := a.store.PushTag(ctx, tag); err != nil {
				a.log.WithField("tag", tag).WithError(err).Debug("failsafe tag push failed")
			}
		}
		return StatusUnchanged, nil
	}

	var parents []plumbing.Hash
	if hasTip {
		parents = []plumbing.Hash{tip}
	}
	commit, err := a.store.WriteCommit(treeHash, parents, "Update "+manifestName)
	if err != nil {
		return 0, errors.Wrapf(err, "committing to branch %s", branch)
	}
	if err := a.store.SetBranch(branch, commit); err != nil {
		return 0, err
	}
	if err := a.store.PushBranch(ctx, branch); err != nil {
		return 0, err
	}
	if err := a.store.SetTag(tag, commit); err != nil {
		return 0, err
	}
	if err := a.store.PushTag(ctx, tag); err != nil {
		return 0, err
	}

	a.log.WithFields(logrus.Fields{
		"app":      d.AppID,
		"depot":    d.DepotID,
		"manifest": d.ManifestID,
	}).Info("archived manifest")
	return StatusWritten, nil
}
