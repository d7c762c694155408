// Copyright 2018-2021 CERN
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// In applying this license, CERN does not waive the privileges and immunities
// granted to it by virtue of its status as an Intergovernmental Organization
// or submit itself to any jurisdiction.

package digest

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestComputeIsStable(t *testing.T) {
	tests := map[string]struct {
		input    string
		expected Digest
	}{
		"hello_world": {
			"Hello World!",
			Of([]byte("Hello World!")),
		},
		"empty": {
			"",
			Of([]byte("")),
		},
	}

	for name := range tests {
		tc := tests[name]
		t.Run(name, func(t *testing.T) {
			d1, n1, err := Compute(strings.NewReader(tc.input))
			require.NoError(t, err)
			d2, n2, err := Compute(strings.NewReader(tc.input))
			require.NoError(t, err)

			require.Equal(t, tc.expected, d1)
			require.Equal(t, d1, d2, "digest must be stable across invocations")
			require.Equal(t, n1, n2)
			require.Equal(t, int64(len(tc.input)), n1)
		})
	}
}

func TestOfDiffersOnDifferentContent(t *testing.T) {
	require.NotEqual(t, Of([]byte("a")), Of([]byte("b")))
}

func TestEtagChangesWithVersion(t *testing.T) {
	d := Of([]byte("content"))
	e1 := Etag(d, 1)
	e2 := Etag(d, 2)
	require.NotEqual(t, e1, e2, "etag must change when the version changes even if content doesn't")
	require.Len(t, e1, 32, "etag is a 128-bit token hex-encoded to 32 chars")
}

func TestManifestTagging(t *testing.T) {
	m := Manifest([]byte(`[{"digest":"abc","offset":0,"size":10}]`))
	require.True(t, m.IsManifest())

	raw := Of([]byte("not a manifest"))
	require.False(t, raw.IsManifest())
}

func TestBlobKeyFanOut(t *testing.T) {
	d := Of([]byte("x"))
	key := BlobKey(d)
	require.True(t, strings.HasPrefix(key, string(d)[:2]+"/"))
}
