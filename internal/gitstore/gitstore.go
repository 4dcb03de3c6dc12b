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

// Package gitstore wraps the go-git object database with the primitives
// the vault and the manifest archive share: blob/tree/commit writers,
// branch and tag refs, refspec pushes against the forge, and the
// per-branch serialization locks that keep concurrent writers off the
// same ref.
package gitstore

import (
	"context"
	"io"
	"sort"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/ManifestHub/ManifestHub/internal/timewrapper"
)

const (
	// PushUser is the username presented to the forge; the token rides
	// in the password slot.
	PushUser = "x-access-token"

	committerName  = "ManifestHub"
	committerEmail = "manifesthub@localhost"
)

// Store is a Git repository plus push credentials. All writers in the
// process share one Store so that the per-branch locks actually
// serialize.
type Store struct {
	repo   *git.Repository
	remote string
	auth   transport.AuthMethod
	log    *logrus.Entry

	// Clock is swapped for a fake in tests; commit timestamps have
	// second resolution and ordering assertions need control over them.
	Clock timewrapper.Time

	locks *branchLocks
}

// Open opens the on-disk clone the run operates on. An empty token
// leaves pushes unauthenticated (local remotes in tests).
func Open(path, token string) (*Store, error) {
	repo, err := git.PlainOpen(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening repository at %s", path)
	}
	return NewFromRepo(repo, token), nil
}

// NewFromRepo wraps an already-open repository.
func NewFromRepo(repo *git.Repository, token string) *Store {
	var auth transport.AuthMethod
	if token != "" {
		auth = &githttp.BasicAuth{Username: PushUser, Password: token}
	}
	return &Store{
		repo:   repo,
		remote: git.DefaultRemoteName,
		auth:   auth,
		log:    logrus.WithField("component", "gitstore"),
		Clock:  timewrapper.RealTime{},
		locks:  newBranchLocks(),
	}
}

// Lock acquires the binary lock for a branch and returns its release
// function. See branchLocks for the waiting behavior.
func (s *Store) Lock(branch string) func() {
	return s.locks.acquire(branch, s.log)
}

// WriteBlob streams bytes straight into the object database and returns
// the blob id.
func (s *Store) WriteBlob(data []byte) (plumbing.Hash, error) {
	obj := s.repo.Storer.NewEncodedObject()
	obj.SetType(plumbing.BlobObject)
	w, err := obj.Writer()
	if err != nil {
		return plumbing.ZeroHash, errors.Wrap(err, "opening blob writer")
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return plumbing.ZeroHash, errors.Wrap(err, "writing blob")
	}
	if err := w.Close(); err != nil {
		return plumbing.ZeroHash, errors.Wrap(err, "closing blob writer")
	}
	hash, err := s.repo.Storer.SetEncodedObject(obj)
	return hash, errors.Wrap(err, "storing blob")
}

// BlobBytes reads a blob back in full.
func (s *Store) BlobBytes(hash plumbing.Hash) ([]byte, error) {
	blob, err := object.GetBlob(s.repo.Storer, hash)
	if err != nil {
		return nil, errors.Wrap(err, "reading blob")
	}
	r, err := blob.Reader()
	if err != nil {
		return nil, errors.Wrap(err, "opening blob reader")
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	return data, errors.Wrap(err, "reading blob contents")
}

// WriteTree stores a tree of regular-file entries, sorting them the way
// git expects.
func (s *Store) WriteTree(entries []object.TreeEntry) (plumbing.Hash, error) {
	sorted := make([]object.TreeEntry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	tree := &object.Tree{Entries: sorted}
	obj := s.repo.Storer.NewEncodedObject()
	if err := tree.Encode(obj); err != nil {
		return plumbing.ZeroHash, errors.Wrap(err, "encoding tree")
	}
	hash, err := s.repo.Storer.SetEncodedObject(obj)
	return hash, errors.Wrap(err, "storing tree")
}

// WriteCommit stores a commit under the synthetic archive identity.
func (s *Store) WriteCommit(tree plumbing.Hash, parents []plumbing.Hash, message string) (plumbing.Hash, error) {
	sig := object.Signature{
		Name:  committerName,
		Email: committerEmail,
		When:  s.Clock.Now(),
	}
	commit := &object.Commit{
		Author:       sig,
		Committer:    sig,
		Message:      message,
		TreeHash:     tree,
		ParentHashes: parents,
	}
	obj := s.repo.Storer.NewEncodedObject()
	if err := commit.Encode(obj); err != nil {
		return plumbing.ZeroHash, errors.Wrap(err, "encoding commit")
	}
	hash, err := s.repo.Storer.SetEncodedObject(obj)
	return hash, errors.Wrap(err, "storing commit")
}

// TreeOf loads the tree of a commit.
func (s *Store) TreeOf(commit plumbing.Hash) (*object.Tree, error) {
	c, err := object.GetCommit(s.repo.Storer, commit)
	if err != nil {
		return nil, errors.Wrap(err, "reading commit")
	}
	tree, err := c.Tree()
	return tree, errors.Wrap(err, "reading commit tree")
}

// CommitTime returns a commit's author time.
func (s *Store) CommitTime(commit plumbing.Hash) (time.Time, error) {
	c, err := object.GetCommit(s.repo.Storer, commit)
	if err != nil {
		return time.Time{}, errors.Wrap(err, "reading commit")
	}
	return c.Author.When, nil
}

// BranchTip resolves a local branch head.
func (s *Store) BranchTip(branch string) (plumbing.Hash, bool) {
	ref, err := s.repo.Reference(plumbing.NewBranchReferenceName(branch), true)
	if err != nil {
		return plumbing.ZeroHash, false
	}
	return ref.Hash(), true
}

// SetBranch points a local branch at a commit.
func (s *Store) SetBranch(branch string, commit plumbing.Hash) error {
	ref := plumbing.NewHashReference(plumbing.NewBranchReferenceName(branch), commit)
	return errors.Wrapf(s.repo.Storer.SetReference(ref), "updating branch %s", branch)
}

// RemoveBranch drops the local head and remote-tracking refs of a
// branch. Missing refs are not an error.
func (s *Store) RemoveBranch(branch string) error {
	for _, name := range []plumbing.ReferenceName{
		plumbing.NewBranchReferenceName(branch),
		plumbing.NewRemoteReferenceName(s.remote, branch),
	} {
		if _, err := s.repo.Reference(name, false); err != nil {
			continue
		}
		if err := s.repo.Storer.RemoveReference(name); err != nil {
			return errors.Wrapf(err, "removing ref %s", name)
		}
	}
	return nil
}

// TagExists reports whether a local tag ref exists. This is the O(1)
// have-manifest gate, so it stays a pure ref lookup.
func (s *Store) TagExists(name string) bool {
	_, err := s.repo.Reference(plumbing.NewTagReferenceName(name), false)
	return err == nil
}

// SetTag creates (or moves) a lightweight tag.
func (s *Store) SetTag(name string, commit plumbing.Hash) error {
	ref := plumbing.NewHashReference(plumbing.NewTagReferenceName(name), commit)
	return errors.Wrapf(s.repo.Storer.SetReference(ref), "creating tag %s", name)
}

// DeleteTag drops a local tag ref.
func (s *Store) DeleteTag(name string) error {
	err := s.repo.Storer.RemoveReference(plumbing.NewTagReferenceName(name))
	return errors.Wrapf(err, "deleting tag %s", name)
}

// TagRef resolves a tag to its target commit.
func (s *Store) TagRef(name string) (plumbing.Hash, bool) {
	ref, err := s.repo.Reference(plumbing.NewTagReferenceName(name), false)
	if err != nil {
		return plumbing.ZeroHash, false
	}
	return ref.Hash(), true
}

// Tags lists all local tag refs.
func (s *Store) Tags() ([]*plumbing.Reference, error) {
	iter, err := s.repo.Tags()
	if err != nil {
		return nil, errors.Wrap(err, "listing tags")
	}
	var out []*plumbing.Reference
	err = iter.ForEach(func(ref *plumbing.Reference) error {
		out = append(out, ref)
		return nil
	})
	return out, errors.Wrap(err, "iterating tags")
}

// RemoteBranches lists the remote-tracking refs of the configured
// remote, with the remote prefix stripped from the returned names.
func (s *Store) RemoteBranches() (map[string]plumbing.Hash, error) {
	iter, err := s.repo.References()
	if err != nil {
		return nil, errors.Wrap(err, "listing references")
	}
	prefix := "refs/remotes/" + s.remote + "/"
	out := map[string]plumbing.Hash{}
	err = iter.ForEach(func(ref *plumbing.Reference) error {
		name := ref.Name().String()
		if len(name) > len(prefix) && name[:len(prefix)] == prefix {
			out[name[len(prefix):]] = ref.Hash()
		}
		return nil
	})
	return out, errors.Wrap(err, "iterating references")
}

// PushBranch pushes a local branch to the forge and, on success,
// advances the matching remote-tracking ref the way CLI git does.
func (s *Store) PushBranch(ctx context.Context, branch string) error {
	spec := config.RefSpec("refs/heads/" + branch + ":refs/heads/" + branch)
	if err := s.push(ctx, spec); err != nil {
		return errors.Wrapf(err, "pushing branch %s", branch)
	}
	if tip, ok := s.BranchTip(branch); ok {
		ref := plumbing.NewHashReference(plumbing.NewRemoteReferenceName(s.remote, branch), tip)
		if err := s.repo.Storer.SetReference(ref); err != nil {
			return errors.Wrapf(err, "updating remote-tracking ref for %s", branch)
		}
	}
	return nil
}

// PushDeleteBranch force-deletes a branch on the forge.
func (s *Store) PushDeleteBranch(ctx context.Context, branch string) error {
	spec := config.RefSpec(":refs/heads/" + branch)
	return errors.Wrapf(s.push(ctx, spec), "deleting remote branch %s", branch)
}

// PushTag pushes a tag ref to the forge.
func (s *Store) PushTag(ctx context.Context, name string) error {
	spec := config.RefSpec("refs/tags/" + name + ":refs/tags/" + name)
	return errors.Wrapf(s.push(ctx, spec), "pushing tag %s", name)
}

// PushDeleteTag force-deletes a tag on the forge.
func (s *Store) PushDeleteTag(ctx context.Context, name string) error {
	spec := config.RefSpec(":refs/tags/" + name)
	return errors.Wrapf(s.push(ctx, spec), "deleting remote tag %s", name)
}

func (s *Store) push(ctx context.Context, specs ...config.RefSpec) error {
	err := s.repo.PushContext(ctx, &git.PushOptions{
		RemoteName: s.remote,
		RefSpecs:   specs,
		Auth:       s.auth,
		Force:      true,
	})
	if errors.Is(err, git.NoErrAlreadyUpToDate) {
		return nil
	}
	return err
}
