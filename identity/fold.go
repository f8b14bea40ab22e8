package identity

// FoldStep reports what happened to one successor revision consumed by Fold.
type FoldStep int

const (
	// FoldAdvanced means the successor became the new head.
	FoldAdvanced FoldStep = iota
	// FoldSkipped means the successor failed Quorum and was ignored,
	// permitting unratified proposals to sit in the history.
	FoldSkipped
	// FoldConfirmed means the successor merely confirmed the same
	// (revision, replaces) pair as the current head, gaining signatures
	// without advancing the document.
	FoldConfirmed
)

// FoldResult is the outcome of folding one successor into the running head.
type FoldResult struct {
	Step FoldStep
	Head Verified
}

// Fold applies Signed -> Quorum -> Verified(parent=head) to successors in
// chronological order (oldest first), starting from a Verified base. A
// successor that fails Quorum is skipped. A successor that reaches Quorum
// but fails Verified is accepted only in the degenerate case where it
// confirms the same (revision, replaces) pair the current head already
// carries (i.e. it re-signs the current head's tree under a new commit);
// the head then advances to the confirming commit with the union of both
// signature sets. Any other Verified failure invalidates the whole
// history.
func Fold(base Verified, successors []*Revision, resolver PersonResolver) ([]FoldResult, error) {
	head := base
	results := make([]FoldResult, 0, len(successors))

	for _, rev := range successors {
		signed, err := ToSigned(Untrusted{Rev: rev})
		if err != nil {
			return nil, err
		}
		quorum, err := ToQuorum(signed, resolver)
		if err != nil {
			results = append(results, FoldResult{Step: FoldSkipped, Head: head})
			continue
		}

		verified, err := ToVerified(quorum, &head)
		if err == nil {
			head = verified
			results = append(results, FoldResult{Step: FoldAdvanced, Head: head})
			continue
		}

		if confirmsHead(rev, head) {
			head = confirmHead(head, rev)
			results = append(results, FoldResult{Step: FoldConfirmed, Head: head})
			continue
		}

		return nil, err
	}

	return results, nil
}

// confirmHead advances the head to the confirming commit: the document
// and tree are retained, the head's OID moves to the new commit, and
// the signature sets are merged so signers who only ratified the
// confirmation are counted. Every merged signature covers the same
// tree OID, so the Signed predicate is preserved by construction; the
// delegation keys carry over from the head unchanged and the eligible
// signers are recomputed over the merged signature set.
func confirmHead(head Verified, rev *Revision) Verified {
	headRev := head.Rev()
	merged := &Revision{
		Oid:        rev.Oid,
		Root:       headRev.Root,
		Tree:       headRev.Tree,
		Parent:     rev.Parent,
		MergeFrom:  rev.MergeFrom,
		Document:   headRev.Document,
		Signatures: unionSignatures(headRev.Signatures, rev.Signatures),
	}
	keys := head.DelegationKeys()
	return Verified{quorum: Quorum{
		signed:          Signed{untrusted: Untrusted{Rev: merged}},
		delegationKeys:  keys,
		eligibleSigners: reachesQuorum(merged.Signers(), keys),
	}}
}

// confirmsHead reports whether rev merely re-asserts the current head's
// tree: same replaces pointer and (implicitly, since trees are content
// addressed) the same document, just carrying additional signatures.
func confirmsHead(rev *Revision, head Verified) bool {
	headRev := head.Rev()
	if !rev.Document.HasReplaces || headRev.Document == nil {
		return false
	}
	if !rev.Tree.Equal(headRev.Tree) {
		return false
	}
	return rev.Document.Replaces.Equal(headRev.Document.Replaces) ||
		(rev.Parent != nil && rev.Parent.Equal(headRev.Oid))
}
