// Package dedup fingerprints render requests and detects recent duplicates.
package dedup

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"io"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

const fingerprintVersion = "v1"

// Options are the request attributes mixed into a fingerprint.
type Options struct {
	OwnerID     *string
	Tier        string
	ImageDigest *string
}

// Normalize canonicalizes a prompt so that trivial formatting differences
// (case, surrounding or repeated whitespace, compatibility forms) hash alike.
func Normalize(prompt string) string {
	s := norm.NFKC.String(prompt)
	s = cases.Fold().String(strings.TrimSpace(s))
	return strings.Join(strings.Fields(s), " ")
}

// Hash returns the hex SHA-256 fingerprint of a request. The owner segment is
// only present for owned requests, so anonymous requests dedupe globally.
// Image-bearing requests carry a tagged digest segment and can never collide
// with text-only ones.
func Hash(prompt string, opts Options) string {
	h := sha256.New()
	writeSegment(h, "ver", fingerprintVersion)
	writeSegment(h, "prompt", Normalize(prompt))
	writeSegment(h, "tier", strings.ToLower(strings.TrimSpace(opts.Tier)))
	if opts.ImageDigest != nil && *opts.ImageDigest != "" {
		writeSegment(h, "image", strings.ToLower(*opts.ImageDigest))
	}
	if opts.OwnerID != nil && *opts.OwnerID != "" {
		writeSegment(h, "owner", *opts.OwnerID)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// ImageDigest returns the hex SHA-256 digest of image content.
func ImageDigest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// writeSegment length-prefixes tag and value so no two segment lists share
// an encoding.
func writeSegment(w io.Writer, tag, value string) {
	var n [8]byte
	for _, part := range []string{tag, value} {
		binary.BigEndian.PutUint64(n[:], uint64(len(part)))
		_, _ = w.Write(n[:])
		_, _ = w.Write([]byte(part))
	}
}
