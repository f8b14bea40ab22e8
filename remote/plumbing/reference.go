package plumbing

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/go-git/go-git/v5/plumbing"
)

// Reference categories a peer may publish (and sign) under a namespace.
var (
	HeadsCategory = "heads"
	TagsCategory  = "tags"
	NotesCategory = "notes"
	RadCategory   = "rad"
	CobsCategory  = "cobs"
)

// SignedCategories are the categories enumerated by a signed-refs record.
var SignedCategories = []string{HeadsCategory, TagsCategory, NotesCategory, RadCategory}

// IsBranch checks whether a reference name indicates a branch
func IsBranch(name string) bool {
	return plumbing.ReferenceName(name).IsBranch()
}

// IsTag checks whether a reference name indicates a tag
func IsTag(name string) bool {
	return plumbing.ReferenceName(name).IsTag()
}

// IsNote checks whether a reference name indicates a note
func IsNote(name string) bool {
	return plumbing.ReferenceName(name).IsNote()
}

// IsReference checks whether the given name is a reference path or full reference name
func IsReference(name string) bool {
	re := "^refs/(heads|tags|notes|rad|cobs)((/[a-zA-Z0-9_.-]+)+)?$"
	return regexp.MustCompile(re).MatchString(name)
}

// GetReferenceShortName returns the short name of a reference
func GetReferenceShortName(name string) string {
	return plumbing.ReferenceName(name).Short()
}

// RadId is the reference holding an identity's adopted revision.
const RadId = "refs/rad/id"

// RadSelf is the symbolic reference to the local person identity.
const RadSelf = "refs/rad/self"

// RadSignedRefs is the reference holding a peer's signed-refs record.
const RadSignedRefs = "refs/rad/signed_refs"

// MakeRadIdsRef returns the symbolic reference to a delegate's top-level
// identity: refs/rad/ids/<delegate-multibase>.
func MakeRadIdsRef(delegate string) string {
	return fmt.Sprintf("refs/rad/ids/%s", delegate)
}

// MakeRadDelegateRef returns the reference under which an indirect
// (person) delegate's identity is linked within a project's namespace.
func MakeRadDelegateRef(personUrn string) string {
	return fmt.Sprintf("refs/rad/delegates/%s", personUrn)
}

// MakeRemoteRef re-roots a reference under a tracked peer's remote
// prefix: refs/remotes/<peer>/<name-without-refs/>.
func MakeRemoteRef(peer string, name string) string {
	return fmt.Sprintf("refs/remotes/%s/%s", peer, strings.TrimPrefix(name, "refs/"))
}

// MakeRemotePrefix returns the prefix under which all of a peer's
// re-rooted references live.
func MakeRemotePrefix(peer string) string {
	return fmt.Sprintf("refs/remotes/%s", peer)
}

// MakeCategoryRef builds refs/<category>/<name>.
func MakeCategoryRef(category, name string) string {
	return fmt.Sprintf("refs/%s/%s", category, name)
}

// MakeTrackingRef returns the reference holding a tracked entry:
// refs/rad/remotes/<urn>/(<peer>|default).
func MakeTrackingRef(urn string, peer string) string {
	if peer == "" {
		peer = "default"
	}
	return fmt.Sprintf("refs/rad/remotes/%s/%s", urn, peer)
}

// ParseRemoteRef splits refs/remotes/<peer>/<rest> into its peer and the
// re-rooted refs/<rest> name. Returns false if the name is not a remote ref.
func ParseRemoteRef(name string) (peer string, rest string, ok bool) {
	const prefix = "refs/remotes/"
	if !strings.HasPrefix(name, prefix) {
		return "", "", false
	}
	trimmed := name[len(prefix):]
	idx := strings.Index(trimmed, "/")
	if idx <= 0 {
		return "", "", false
	}
	return trimmed[:idx], "refs/" + trimmed[idx+1:], true
}

// CategoryOf returns the category component of refs/<category>/... names.
func CategoryOf(name string) string {
	parts := strings.SplitN(strings.TrimPrefix(name, "refs/"), "/", 2)
	if len(parts) == 0 {
		return ""
	}
	return parts[0]
}
