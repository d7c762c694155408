// Copyright 2018-2023 CERN
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

// Package digest computes the stable 256-bit content digest that names
// every blob in the content-addressed store, and derives the 128-bit etag
// token used for optimistic concurrency on file writes.
package digest

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"hash"
	"io"

	"github.com/google/uuid"
)

const bufferSize = 64 * 1024

// Digest is a 256-bit content identifier, hex-encoded for storage and wire
// transport.
type Digest string

// String implements fmt.Stringer.
func (d Digest) String() string { return string(d) }

// IsZero reports whether d is the empty digest.
func (d Digest) IsZero() bool { return d == "" }

func compute(r io.Reader, h hash.Hash) (string, int64, error) {
	buf := make([]byte, bufferSize)
	var total int64
	for {
		n, err := r.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
			total += int64(n)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", 0, err
		}
	}
	return hex.EncodeToString(h.Sum(nil)), total, nil
}

// Compute streams r through sha256 and returns the hex digest and the
// number of bytes read. Two invocations over byte-identical content always
// return the same digest, regardless of backend (Testable Property 2).
func Compute(r io.Reader) (Digest, int64, error) {
	s, n, err := compute(r, sha256.New())
	if err != nil {
		return "", 0, err
	}
	return Digest(s), n, nil
}

// Of returns the digest of an in-memory byte slice.
func Of(b []byte) Digest {
	sum := sha256.Sum256(b)
	return Digest(hex.EncodeToString(sum[:]))
}

// ManifestTag is prepended to the digest of a chunk manifest blob so readers
// can distinguish a manifest digest from a raw-content digest without a
// side channel. The logical digest of a chunked object is the digest of its
// manifest bytes, tagged — never the digest of the original unchunked
// bytes, since those were never stored as a single blob.
const ManifestTag = "manifest:"

// Manifest returns the tagged digest identifying a chunk manifest blob.
func Manifest(manifestBytes []byte) Digest {
	return Digest(ManifestTag + string(Of(manifestBytes)))
}

// IsManifest reports whether d identifies a chunk manifest rather than raw
// content.
func (d Digest) IsManifest() bool {
	return len(d) > len(ManifestTag) && string(d)[:len(ManifestTag)] == ManifestTag
}

// Etag derives the 128-bit optimistic-concurrency token from a content
// digest and a version number: etag = hash(content_digest || version),
// truncated to 128 bits (the low 16 bytes of the sha256 sum).
func Etag(content Digest, version int64) string {
	h := sha256.New()
	h.Write([]byte(content))
	var vb [8]byte
	binary.BigEndian.PutUint64(vb[:], uint64(version))
	h.Write(vb[:])
	sum := h.Sum(nil)
	return hex.EncodeToString(sum[len(sum)-16:])
}

// NewID returns a fresh 128-bit unique id (a ReBAC tuple_id, a blob
// reference handle, ...). Unlike a content digest this carries no meaning
// beyond uniqueness, so it is drawn from a random UUID rather than sha256.
func NewID() string {
	return uuid.NewString()
}

// BlobKey returns the on-disk relative key for a digest under the Local
// blob backend's two-level fan-out directory layout described in the
// on-disk layout contract: blobs/<first-2-hex>/<digest>.
func BlobKey(d Digest) string {
	s := string(d)
	if len(s) < 2 {
		return fmt.Sprintf("00/%s", s)
	}
	return fmt.Sprintf("%s/%s", s[:2], s)
}
