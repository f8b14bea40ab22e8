package identity

import (
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
)

// Kind distinguishes the two subject shapes an identity document can carry.
type Kind int

const (
	// PersonKind identifies a Person subject: { name }.
	PersonKind Kind = iota
	// ProjectKind identifies a Project subject: { name, description?, default_branch? }.
	ProjectKind
)

// DocumentVersion is the only protocol version tag this engine accepts.
const DocumentVersion = 0

// Subject is the open-coproduct's one required member: either a Person or
// a Project payload, discriminated by Kind.
type Subject struct {
	Kind          Kind
	Name          string
	Description   string // Project only
	DefaultBranch string // Project only
}

// DelegationEntry is one member of a document's delegation set: for a
// Person document it is always a bare Key; for a Project document it is
// either a bare Key or a Person URN (resolved indirectly, see replication
// step 2 and the verification state machine's indirect-delegation pass).
type DelegationEntry struct {
	Key    *PeerId
	Person *Urn
}

// IsKey reports whether this entry is a bare public key.
func (d DelegationEntry) IsKey() bool { return d.Key != nil }

// IsPerson reports whether this entry is an indirect Person URN delegation.
func (d DelegationEntry) IsPerson() bool { return d.Person != nil }

// String renders the delegation entry for error messages and deduplication.
func (d DelegationEntry) String() string {
	if d.Key != nil {
		return "key:" + d.Key.String()
	}
	if d.Person != nil {
		return "urn:" + d.Person.String()
	}
	return "<empty>"
}

// Document is the versioned, content-addressed payload of an identity
// revision: the blob stored in the revision's tree.
type Document struct {
	Version     int
	Replaces    Oid // zero value means "no previous revision"
	HasReplaces bool
	Subject     Subject
	// Ext carries additional namespace-keyed extensions verbatim, as opaque
	// JSON values the engine never interprets.
	Ext         map[string]json.RawMessage
	Delegations []DelegationEntry
}

// Validation errors.
var (
	ErrUnknownProtocolVersion = fmt.Errorf("identity: unknown protocol version")
	ErrMissingSubject         = fmt.Errorf("identity: missing subject")
	ErrDuplicateExtNamespace  = fmt.Errorf("identity: duplicate extension namespace")
	ErrEmptyDelegations       = fmt.Errorf("identity: delegation set is empty")
	ErrDuplicateDelegation    = fmt.Errorf("identity: duplicate delegation entry")
)

// Validate checks the document's structural well-formedness: known
// version, present subject, non-empty and duplicate-free delegation set.
// This is the "well-formed" stage that precedes Signed in the
// verification pipeline.
func (d *Document) Validate() error {
	if d.Version != DocumentVersion {
		return ErrUnknownProtocolVersion
	}
	if d.Subject.Name == "" {
		return ErrMissingSubject
	}
	if len(d.Delegations) == 0 {
		return ErrEmptyDelegations
	}
	seen := make(map[string]struct{}, len(d.Delegations))
	for _, del := range d.Delegations {
		if d.Subject.Kind == PersonKind && !del.IsKey() {
			return errors.New("identity: person delegation must be a bare key")
		}
		if !del.IsKey() && !del.IsPerson() {
			return errors.New("identity: delegation entry has neither key nor person")
		}
		k := del.String()
		if _, ok := seen[k]; ok {
			return ErrDuplicateDelegation
		}
		seen[k] = struct{}{}
	}
	return nil
}

// DelegationKeys returns the bare public keys in the delegation set,
// excluding indirect Person URN entries.
func (d *Document) DelegationKeys() []PeerId {
	out := make([]PeerId, 0, len(d.Delegations))
	for _, del := range d.Delegations {
		if del.Key != nil {
			out = append(out, *del.Key)
		}
	}
	return out
}

// PersonDelegations returns the indirect Person URN entries in the
// delegation set.
func (d *Document) PersonDelegations() []Urn {
	out := make([]Urn, 0)
	for _, del := range d.Delegations {
		if del.Person != nil {
			out = append(out, *del.Person)
		}
	}
	return out
}
