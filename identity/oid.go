// Package identity implements the document model, canonical encoding,
// signature handling and verification state machine of ember's identity
// engine (projects and persons).
package identity

import (
	"encoding/hex"
	"fmt"

	gogit "github.com/go-git/go-git/v5/plumbing"
	"github.com/multiformats/go-multibase"
	"github.com/multiformats/go-multihash"
	"github.com/pkg/errors"
)

// Oid is the engine's content address: a git object hash. The object store
// produces only 20-byte SHA1 hashes today; the 32-byte SHA256 form is
// accepted by this type (for forward compatibility with SHA256
// repositories) but never produced here.
type Oid struct {
	raw []byte
}

// ZeroOid is the all-zero 20-byte OID, used as the "no parent"/"no replaces" sentinel.
var ZeroOid = Oid{raw: make([]byte, 20)}

// OidFromGitHash wraps a go-git plumbing.Hash as an Oid.
func OidFromGitHash(h gogit.Hash) Oid {
	return Oid{raw: append([]byte{}, h[:]...)}
}

// GitHash converts the Oid back to a go-git plumbing.Hash. plumbing.Hash is
// a fixed [20]byte array: a 32-byte Oid is truncated to its first 20 bytes
// and a shorter one is zero-padded.
func (o Oid) GitHash() gogit.Hash {
	var h gogit.Hash
	copy(h[:], o.raw)
	return h
}

// OidFromBytes wraps a raw 20- or 32-byte digest as an Oid.
func OidFromBytes(b []byte) (Oid, error) {
	if len(b) != 20 && len(b) != 32 {
		return Oid{}, fmt.Errorf("oid: invalid length %d, want 20 or 32", len(b))
	}
	return Oid{raw: append([]byte{}, b...)}, nil
}

// OidFromHex decodes a hex-encoded digest into an Oid.
func OidFromHex(s string) (Oid, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return Oid{}, errors.Wrap(err, "oid: invalid hex")
	}
	return OidFromBytes(b)
}

// IsZero reports whether the OID is the all-zero sentinel.
func (o Oid) IsZero() bool {
	if len(o.raw) == 0 {
		return true
	}
	for _, b := range o.raw {
		if b != 0 {
			return false
		}
	}
	return true
}

// Bytes returns the raw digest bytes.
func (o Oid) Bytes() []byte { return append([]byte{}, o.raw...) }

// Hex renders the OID as a lowercase hex string, matching git's plumbing
// commands and the refdb's on-disk representation.
func (o Oid) Hex() string { return hex.EncodeToString(o.raw) }

// Equal compares two OIDs by digest.
func (o Oid) Equal(other Oid) bool {
	if len(o.raw) != len(other.raw) {
		return false
	}
	for i := range o.raw {
		if o.raw[i] != other.raw[i] {
			return false
		}
	}
	return true
}

func (o Oid) multihashCode() uint64 {
	if len(o.raw) == 32 {
		return multihash.SHA2_256
	}
	return multihash.SHA1
}

// Multihash encodes the OID's digest as a multihash (code + length prefix).
func (o Oid) Multihash() (multihash.Multihash, error) {
	return multihash.Encode(o.raw, o.multihashCode())
}

// String renders the OID as its URN-textual form: a multibase(base32-z)
// encoding of the OID's multihash, e.g. "hwd1y...".
func (o Oid) String() string {
	mh, err := o.Multihash()
	if err != nil {
		return o.Hex()
	}
	s, err := multibase.Encode(multibase.Base32z, mh)
	if err != nil {
		return o.Hex()
	}
	return s
}

// OidFromMultibase parses the multibase(multihash(digest)) textual form
// produced by String back into an Oid.
func OidFromMultibase(s string) (Oid, error) {
	_, data, err := multibase.Decode(s)
	if err != nil {
		return Oid{}, errors.Wrap(err, "oid: invalid multibase")
	}
	dmh, err := multihash.Decode(data)
	if err != nil {
		return Oid{}, errors.Wrap(err, "oid: invalid multihash")
	}
	return OidFromBytes(dmh.Digest)
}
