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

// Package gitstoretest builds throwaway Git fixtures: a bare origin and
// a working clone wired to it over the file transport, so archive and
// vault tests exercise real pushes without a network.
package gitstoretest

import (
	"path/filepath"
	"testing"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/stretchr/testify/require"

	"github.com/ManifestHub/ManifestHub/internal/gitstore"
	"github.com/ManifestHub/ManifestHub/internal/timewrapper"
)

// Fixture is a Store backed by a local bare origin.
type Fixture struct {
	Store     *gitstore.Store
	Repo      *git.Repository
	Origin    *git.Repository
	OriginDir string
	Clock     *timewrapper.StepClock
}

// New creates the origin, the clone, and a Store with a deterministic
// stepping clock.
func New(t *testing.T) *Fixture {
	t.Helper()

	dir := t.TempDir()
	originDir := filepath.Join(dir, "origin.git")
	workDir := filepath.Join(dir, "work")

	origin, err := git.PlainInit(originDir, true)
	require.NoError(t, err)

	repo, err := git.PlainInit(workDir, false)
	require.NoError(t, err)
	_, err = repo.CreateRemote(&config.RemoteConfig{
		Name: git.DefaultRemoteName,
		URLs: []string{originDir},
	})
	require.NoError(t, err)

	store := gitstore.NewFromRepo(repo, "")
	clock := timewrapper.NewStepClock(time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC), time.Minute)
	store.Clock = clock

	return &Fixture{
		Store:     store,
		Repo:      repo,
		Origin:    origin,
		OriginDir: originDir,
		Clock:     clock,
	}
}
