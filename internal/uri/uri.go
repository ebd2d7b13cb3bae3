// Package uri classifies and normalizes the URIs that name a File: the
// mandatory hash:// forms produced by internal/hasher, plus the
// alias forms a submission may carry (ipfs://, bare CIDs).
package uri

import (
	"strings"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
)

// URI is a single alias for a File: a hash://, ipfs://, or opaque
// externally-meaningful string (e.g. a source web address kept only as
// metadata, never dereferenced by the repository itself).
type URI string

func New(s string) URI { return URI(s) }

func (u URI) String() string { return string(u) }

func (u URI) IsZero() bool { return u == "" }

// IsHash reports whether u is a canonical hash://<algo>/<hex> URI.
func (u URI) IsHash() bool {
	return strings.HasPrefix(string(u), "hash://")
}

// IsIPFS reports whether u is an ipfs://<cid> alias URI.
func (u URI) IsIPFS() bool {
	return strings.HasPrefix(string(u), "ipfs://")
}

// IsCID reports whether u parses as a bare CID string (no scheme),
// accepted as an alias URI in its own right.
func (u URI) IsCID() bool {
	if u.IsZero() || u.IsHash() || u.IsIPFS() {
		return false
	}
	parsed, err := cid.Decode(string(u))
	return err == nil && parsed.Defined()
}

// IsAlias reports whether u is one of the recognized alias forms
// (ipfs:// or bare CID) layered on top of the mandatory hash:// set.
func (u URI) IsAlias() bool {
	return u.IsIPFS() || u.IsCID()
}

// IsValid reports whether u is a recognized URI form at all.
func (u URI) IsValid() bool {
	if u.IsZero() {
		return false
	}
	return u.IsHash() || u.IsAlias()
}

// CID extracts the multihash-bearing CID from an ipfs:// or bare-CID
// alias URI, or ok=false if u is not such a URI.
func (u URI) CID() (c cid.Cid, ok bool) {
	s := string(u)
	if u.IsIPFS() {
		s = strings.TrimPrefix(s, "ipfs://")
	} else if !u.IsCID() {
		return cid.Undef, false
	}
	parsed, err := cid.Decode(s)
	if err != nil || !parsed.Defined() {
		return cid.Undef, false
	}
	return parsed, true
}

// FromMultihash builds an ipfs:// alias URI around a raw multihash digest
// using CIDv1 with the raw-binary codec, the same placeholder codec the
// pack's dummycid package uses for content with no native IPLD encoding.
func FromMultihash(mh multihash.Multihash) URI {
	c := cid.NewCidV1(cid.Raw, mh)
	return URI("ipfs://" + c.String())
}

// List is an ordered, de-duplicated set of alias URIs for a single File.
type List []URI

// Add appends u if not already present, preserving insertion order.
func (l *List) Add(u URI) {
	for _, existing := range *l {
		if existing == u {
			return
		}
	}
	*l = append(*l, u)
}

func (l List) Strings() []string {
	out := make([]string, len(l))
	for i, u := range l {
		out[i] = u.String()
	}
	return out
}
