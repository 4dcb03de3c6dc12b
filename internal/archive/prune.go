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
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

type taggedManifest struct {
	name string
	when time.Time
}

// PruneExpiredTags deletes, per (app, depot), every tag except the one
// whose target commit has the latest author time. Deletions are applied
// locally and pushed to the forge; individual failures are logged and
// do not stop the sweep.
func (a *Archive) PruneExpiredTags(ctx context.Context) error {
	refs, err := a.store.Tags()
	if err != nil {
		return err
	}

	type group struct{ app, depot uint32 }
	groups := map[group][]taggedManifest{}
	for _, ref := range refs {
		name := ref.Name().Short()
		app, depot, _, ok := parseTagName(name)
		if !ok {
			continue
		}
		when, err := a.store.CommitTime(ref.Hash())
		if err != nil {
			a.log.WithField("tag", name).WithError(err).Warn("skipping tag with unreadable commit")
			continue
		}
		key := group{app, depot}
		groups[key] = append(groups[key], taggedManifest{name: name, when: when})
	}

	pruned := 0
	for _, tags := range groups {
		newest := 0
		for i, t := range tags {
			if t.when.After(tags[newest].when) {
				newest = i
			}
		}
		for i, t := range tags {
			if i == newest {
				continue
			}
			if err := a.store.DeleteTag(t.name); err != nil {
				a.log.WithField("tag", t.name).WithError(err).Warn("could not delete tag locally")
				continue
			}
			if err := a.store.PushDeleteTag(ctx, t.name); err != nil {
				a.log.WithField("tag", t.name).WithError(err).Warn("could not delete tag on remote")
			}
			pruned++
		}
	}

	a.log.WithFields(logrus.Fields{"pruned": pruned}).Info("tag prune complete")
	return nil
}
