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
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Tracker accumulates the apps and depots the current run could see.
// It is run-scoped: the account records themselves carry no app list,
// so visibility is whatever the sessions touched this time around.
type Tracker struct {
	mu     sync.Mutex
	apps   map[uint32]struct{}
	depots map[uint32]map[uint32]struct{} // app -> depots
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		apps:   map[uint32]struct{}{},
		depots: map[uint32]map[uint32]struct{}{},
	}
}

// TouchApp records that some account can see the app.
func (t *Tracker) TouchApp(appID uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.apps[appID] = struct{}{}
}

// TouchDepot records an observed depot of an app.
func (t *Tracker) TouchDepot(appID, depotID uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.apps[appID] = struct{}{}
	m, ok := t.depots[appID]
	if !ok {
		m = map[uint32]struct{}{}
		t.depots[appID] = m
	}
	m[depotID] = struct{}{}
}

// Apps returns the touched app ids.
func (t *Tracker) Apps() map[uint32]struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[uint32]struct{}, len(t.apps))
	for id := range t.apps {
		out[id] = struct{}{}
	}
	return out
}

// TrackingReport renders the Markdown status table: Active apps are
// both managed (tagged in the archive) and touched this run; Orphan
// apps are managed but no longer visible to any account; AccessDenied
// apps were visible but have nothing archived.
func (a *Archive) TrackingReport(t *Tracker, runID string) (string, error) {
	refs, err := a.store.Tags()
	if err != nil {
		return "", err
	}

	managed := map[uint32]map[uint32]struct{}{}
	for _, ref := range refs {
		app, depot, _, ok := parseTagName(ref.Name().Short())
		if !ok {
			continue
		}
		m, found := managed[app]
		if !found {
			m = map[uint32]struct{}{}
			managed[app] = m
		}
		m[depot] = struct{}{}
	}

	touched := t.Apps()

	var active, orphan, denied []uint32
	for app := range managed {
		if _, ok := touched[app]; ok {
			active = append(active, app)
		} else {
			orphan = append(orphan, app)
		}
	}
	for app := range touched {
		if _, ok := managed[app]; !ok {
			denied = append(denied, app)
		}
	}

	var b strings.Builder
	b.WriteString("# ManifestHub Tracking Status\n")
	writeBlock(&b, "Active", active, managed)
	writeBlock(&b, "Orphan", orphan, managed)
	writeBlock(&b, "AccessDenied", denied, managed)
	fmt.Fprintf(&b, "\nRun `%s`: %d apps managed, %d apps touched.\n",
		runID, len(managed), len(touched))
	return b.String(), nil
}

func writeBlock(b *strings.Builder, title string, apps []uint32, managed map[uint32]map[uint32]struct{}) {
	sort.Slice(apps, func(i, j int) bool { return apps[i] < apps[j] })

	fmt.Fprintf(b, "\n## %s (%d)\n\n", title, len(apps))
	if len(apps) == 0 {
		b.WriteString("_none_\n")
		return
	}
	b.WriteString("| App | Tracked Depots |\n|---|---|\n")
	for _, app := range apps {
		fmt.Fprintf(b, "| %d | %d |\n", app, len(managed[app]))
	}
}
