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

// Package keyvdf reads and writes the Key.vdf depot-key registry kept
// on every app branch:
//
//	"depots"
//	{
//		"228990"
//		{
//			"DecryptionKey"		"c0ffee..."
//		}
//	}
//
// Parsing uses the vdf library; serialization is local because the
// archive relies on byte-stable output (an unchanged registry must
// produce an unchanged tree id). Depots are emitted in numeric order.
package keyvdf

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/andygrunwald/vdf"
)

// FileName is the blob name of the registry on an app branch.
const FileName = "Key.vdf"

const (
	rootKey = "depots"
	keyName = "DecryptionKey"
)

// Registry maps depot ids to hex-encoded decryption keys.
type Registry map[uint32]string

// Parse decodes a Key.vdf document. Anything that does not decode as
// the expected shape yields an empty registry; keys are accumulated
// from whatever entries do parse.
func Parse(data []byte) Registry {
	reg := Registry{}
	if len(data) == 0 {
		return reg
	}
	doc, err := vdf.NewParser(strings.NewReader(string(data))).Parse()
	if err != nil {
		return reg
	}
	depots, ok := doc[rootKey].(map[string]interface{})
	if !ok {
		return reg
	}
	for name, node := range depots {
		id, err := strconv.ParseUint(name, 10, 32)
		if err != nil {
			continue
		}
		entry, ok := node.(map[string]interface{})
		if !ok {
			continue
		}
		if key, ok := entry[keyName].(string); ok {
			reg[uint32(id)] = key
		}
	}
	return reg
}

// Set upserts the key for one depot.
func (r Registry) Set(depotID uint32, hexKey string) {
	r[depotID] = hexKey
}

// Get returns the key for one depot, if recorded.
func (r Registry) Get(depotID uint32) (string, bool) {
	key, ok := r[depotID]
	return key, ok
}

// Serialize renders the registry in its canonical form.
func (r Registry) Serialize() []byte {
	ids := make([]uint32, 0, len(r))
	for id := range r {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var b strings.Builder
	fmt.Fprintf(&b, "%q\n{\n", rootKey)
	for _, id := range ids {
		fmt.Fprintf(&b, "\t\"%d\"\n\t{\n", id)
		fmt.Fprintf(&b, "\t\t%q\t\t%q\n", keyName, r[id])
		b.WriteString("\t}\n")
	}
	b.WriteString("}\n")
	return []byte(b.String())
}
