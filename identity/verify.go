package identity

import "fmt"

// Verification errors.
var (
	ErrNoSignatures        = fmt.Errorf("identity: revision has no signatures")
	ErrSignatureInvalid    = fmt.Errorf("identity: signature verification failed")
	ErrNoQuorum            = fmt.Errorf("identity: signature set does not reach quorum")
	ErrParentMismatch      = fmt.Errorf("identity: replaces does not match parent revision")
	ErrRootMismatch        = fmt.Errorf("identity: parent has a different root")
	ErrDanglingParent      = fmt.Errorf("identity: parent revision not found")
	ErrMissingParent       = fmt.Errorf("identity: revision claims a parent but none is present")
	ErrParentQuorumFailure = fmt.Errorf("identity: parent delegation set does not ratify new signers")
	ErrEmptyHistory        = fmt.Errorf("identity: history is empty")
	ErrDuplicateResolved   = fmt.Errorf("identity: indirect delegation resolves to a key already present")
)

// Untrusted is the entry point of the verification pipeline: a revision
// that has been loaded but not yet examined.
type Untrusted struct {
	Rev *Revision
}

// Signed witnesses that every signature in the revision verifies over its
// tree OID, and that the signature set is non-empty.
type Signed struct {
	untrusted Untrusted
}

// Rev returns the underlying revision.
func (s Signed) Rev() *Revision { return s.untrusted.Rev }

// ToSigned checks the Signed predicate, the only way to produce a Signed value.
func ToSigned(u Untrusted) (Signed, error) {
	rev := u.Rev
	if len(rev.Signatures) == 0 {
		return Signed{}, ErrNoSignatures
	}
	for _, pid := range rev.Signers() {
		sig := rev.Signatures[pid.String()]
		ok, err := pid.Verify(rev.Tree.Bytes(), sig)
		if err != nil || !ok {
			return Signed{}, ErrSignatureInvalid
		}
	}
	return Signed{untrusted: u}, nil
}

// PersonResolver resolves indirect (Project) delegations: given a Person
// URN, it returns the verified head revision known for that delegate.
type PersonResolver interface {
	FindLatest(urn Urn) (Oid, error)
	VerifyPersonHead(urn Urn, head Oid) (Verified, error)
}

// Threshold is the strict-majority cutoff, applied identically for both
// Quorum (over the current delegation set) and parent-quorum (over the
// previous revision's delegation set).
func Threshold(n int) int { return n / 2 }

// EffectiveDelegationKeys resolves a document's delegation set into a flat
// key list: bare keys pass through unchanged; Person URN entries (Project
// documents only) are resolved via resolver to that person's current
// delegation keys. Duplicate resulting keys are rejected.
func EffectiveDelegationKeys(doc *Document, resolver PersonResolver) ([]PeerId, error) {
	seen := make(map[string]struct{})
	var out []PeerId
	add := func(pid PeerId) error {
		k := pid.String()
		if _, dup := seen[k]; dup {
			return ErrDuplicateResolved
		}
		seen[k] = struct{}{}
		out = append(out, pid)
		return nil
	}

	for _, del := range doc.Delegations {
		if del.Key != nil {
			if err := add(*del.Key); err != nil {
				return nil, err
			}
			continue
		}
		if resolver == nil {
			return nil, fmt.Errorf("identity: document has indirect delegation %s but no resolver was provided", del.Person)
		}
		head, err := resolver.FindLatest(*del.Person)
		if err != nil {
			return nil, err
		}
		verifiedPerson, err := resolver.VerifyPersonHead(*del.Person, head)
		if err != nil {
			return nil, err
		}
		for _, pid := range verifiedPerson.Rev().Document.DelegationKeys() {
			if err := add(pid); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

// Quorum witnesses that the revision's signatures include a strict
// majority of its (resolved) delegation set.
type Quorum struct {
	signed          Signed
	delegationKeys  []PeerId
	eligibleSigners []PeerId
}

// Rev returns the underlying revision.
func (q Quorum) Rev() *Revision { return q.signed.Rev() }

// DelegationKeys returns the revision's effective (resolved) delegation keys.
func (q Quorum) DelegationKeys() []PeerId { return q.delegationKeys }

func reachesQuorum(signers []PeerId, delegationKeys []PeerId) []PeerId {
	var eligible []PeerId
	for _, d := range delegationKeys {
		for _, s := range signers {
			if d.Equal(s) {
				eligible = append(eligible, d)
				break
			}
		}
	}
	return eligible
}

// ToQuorum checks the Quorum predicate over a Signed revision, resolving
// indirect delegations via resolver (nil is fine for Person documents or
// Project documents with only bare-key delegations).
func ToQuorum(s Signed, resolver PersonResolver) (Quorum, error) {
	rev := s.Rev()
	keys, err := EffectiveDelegationKeys(rev.Document, resolver)
	if err != nil {
		return Quorum{}, err
	}
	eligible := reachesQuorum(rev.Signers(), keys)
	if len(eligible) <= Threshold(len(keys)) {
		return Quorum{}, ErrNoQuorum
	}
	return Quorum{signed: s, delegationKeys: keys, eligibleSigners: eligible}, nil
}

// Verified is the terminal state: Quorum, plus a consistent link to the
// identity's history (root revision, or parent-quorum-ratified successor).
type Verified struct {
	quorum Quorum
}

// Rev returns the underlying revision.
func (v Verified) Rev() *Revision { return v.quorum.Rev() }

// DelegationKeys returns the revision's effective delegation keys.
func (v Verified) DelegationKeys() []PeerId { return v.quorum.DelegationKeys() }

// ToVerified checks the Verified predicate. parent is nil for a root
// revision (no replaces, no parent); otherwise it must be the already
// verified predecessor this revision's Parent points to.
func ToVerified(q Quorum, parent *Verified) (Verified, error) {
	rev := q.Rev()

	if parent == nil {
		if rev.Document.HasReplaces || rev.Parent != nil {
			return Verified{}, ErrMissingParent
		}
		return Verified{quorum: q}, nil
	}

	parentRev := parent.Rev()
	if !rev.Document.HasReplaces || rev.Parent == nil {
		return Verified{}, ErrMissingParent
	}
	if !rev.Document.Replaces.Equal(parentRev.Tree) {
		return Verified{}, ErrParentMismatch
	}
	if !parentRev.Root.Equal(rev.Root) {
		return Verified{}, ErrRootMismatch
	}

	eligible := reachesQuorum(rev.Signers(), parent.DelegationKeys())
	if len(eligible) <= Threshold(len(parent.DelegationKeys())) {
		return Verified{}, ErrParentQuorumFailure
	}

	return Verified{quorum: q}, nil
}

// Verify drives a freshly loaded revision through Untrusted -> Signed ->
// Quorum -> Verified in one call, given the already-verified parent (nil
// for a root revision) and a resolver for indirect delegations.
func Verify(rev *Revision, parent *Verified, resolver PersonResolver) (Verified, error) {
	signed, err := ToSigned(Untrusted{Rev: rev})
	if err != nil {
		return Verified{}, err
	}
	quorum, err := ToQuorum(signed, resolver)
	if err != nil {
		return Verified{}, err
	}
	return ToVerified(quorum, parent)
}
