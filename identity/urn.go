package identity

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Urn is the stable identifier of an identity: a root OID plus an optional
// reference-path suffix. Two URNs with equal root OIDs name the same
// identity regardless of path.
type Urn struct {
	Root Oid
	Path string
}

// NewUrn constructs a Urn from a root OID and optional path.
func NewUrn(root Oid, path string) Urn {
	return Urn{Root: root, Path: strings.TrimPrefix(path, "/")}
}

// Identity returns the URN stripped of its path suffix, i.e. the stable
// identity key used for equality and map lookups.
func (u Urn) Identity() Urn {
	return Urn{Root: u.Root}
}

// Equal compares two URNs by root OID only, per the data model's
// "two URNs with equal root OIDs are the same identity" rule.
func (u Urn) Equal(other Urn) bool {
	return u.Root.Equal(other.Root)
}

// String renders the canonical textual form: rad:git:<multibase(root)>[/<path>].
func (u Urn) String() string {
	s := fmt.Sprintf("rad:git:%s", u.Root.String())
	if u.Path != "" {
		s += "/" + u.Path
	}
	return s
}

// ParseUrn parses the textual form produced by String.
func ParseUrn(s string) (Urn, error) {
	const prefix = "rad:git:"
	if !strings.HasPrefix(s, prefix) {
		return Urn{}, fmt.Errorf("urn: missing %q prefix", prefix)
	}
	rest := s[len(prefix):]
	root, path := rest, ""
	if idx := strings.Index(rest, "/"); idx >= 0 {
		root, path = rest[:idx], rest[idx+1:]
	}
	oid, err := OidFromMultibase(root)
	if err != nil {
		return Urn{}, errors.Wrap(err, "urn: invalid root")
	}
	return NewUrn(oid, path), nil
}

// MapKey returns a value suitable for use as a Go map key identifying this
// URN's identity (ignoring path), since Oid itself embeds a []byte slice.
func (u Urn) MapKey() string {
	return u.Root.Hex()
}
