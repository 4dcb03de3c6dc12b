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

package friendcode

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeReferenceValues(t *testing.T) {
	// Known outputs of the CSGO friend-code algorithm. The first is the
	// widely published reference value for Steam id 76561197960287930.
	cases := []struct {
		steamID uint64
		want    string
	}{
		{76561197960287930, "SUCVS-FADA"},
		{76561198000000000, "AEJG8-ELAJ"},
		{76561199000000000, "AEAM3-38NE"},
	}

	for _, tc := range cases {
		got := Encode(tc.steamID)
		require.Equal(t, tc.want, got, "steam id %d", tc.steamID)
		require.Regexp(t, Pattern, got)
	}
}

func TestEncodeIsDeterministic(t *testing.T) {
	for i := 0; i < 100; i++ {
		require.Equal(t, Encode(76561198000000000), "AEJG8-ELAJ")
	}
}

func TestDistinctIDsGetDistinctCodes(t *testing.T) {
	seen := map[string]uint64{}
	for id := uint64(76561198000000000); id < 76561198000000100; id++ {
		code := Encode(id)
		prev, dup := seen[code]
		require.False(t, dup, "ids %d and %d collide on %s", prev, id, code)
		seen[code] = id
	}
}
