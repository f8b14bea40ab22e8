package identity

import (
	"fmt"

	"github.com/ekiva-dev/ember/crypto"
)

// Merge errors.
var (
	ErrForeignBase      = fmt.Errorf("identity: ours does not carry our own signature")
	ErrDifferentRoots   = fmt.Errorf("identity: ours and theirs have different roots")
	ErrRevisionMismatch = fmt.Errorf("identity: branches do not share a mergeable ancestor")
)

// Merge combines two branches of the same identity's history, ours (the
// local signed head) and theirs (a foreign signed head), applying the
// seven ordered cases of branch merging. localKey is the signer merge
// operations are performed as; its signature must already be present on
// ours.
func Merge(store Store, ours, theirs *Revision, localKey *crypto.Key) (*Revision, error) {
	localPid := NewPeerId(localKey.PubKey())

	// Case 1: ours lacks our signature.
	if _, signed := ours.Signatures[localPid.String()]; !signed {
		return nil, ErrForeignBase
	}

	// Case 2: different roots.
	if !ours.Root.Equal(theirs.Root) {
		return nil, ErrDifferentRoots
	}

	// Case 3: theirs reachable from ours -> up to date.
	if theirsReachable, err := store.IsAncestor(ours.Oid, theirs.Oid); err != nil {
		return nil, err
	} else if theirsReachable {
		return ours, nil
	}

	// Case 4: theirs carries our signature and ours is reachable from
	// theirs -> fast-forward.
	if _, signed := theirs.Signatures[localPid.String()]; signed {
		if oursReachable, err := store.IsAncestor(theirs.Oid, ours.Oid); err != nil {
			return nil, err
		} else if oursReachable {
			return theirs, nil
		}
	}

	// Case 5: same revision (tree), independently signed -> union of
	// signatures, two parents, tree unchanged.
	if ours.Tree.Equal(theirs.Tree) {
		return writeMergeCommit(store, ours, theirs, unionSignatures(ours.Signatures, theirs.Signatures), ours.Tree)
	}

	// Case 6: theirs replaces ours -> add our signature to theirs,
	// two parents, tree = theirs.
	if theirs.Document.HasReplaces && theirs.Document.Replaces.Equal(ours.Tree) {
		sigs := unionSignatures(theirs.Signatures, nil)
		sig, err := localKey.PrivKey().Sign(theirs.Tree.Bytes())
		if err != nil {
			return nil, err
		}
		sigs[localPid.String()] = sig
		return writeMergeCommit(store, ours, theirs, sigs, theirs.Tree)
	}

	// Case 7.
	return nil, ErrRevisionMismatch
}

func unionSignatures(a, b map[string][]byte) map[string][]byte {
	out := make(map[string][]byte, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		out[k] = v
	}
	return out
}

func writeMergeCommit(store Store, ours, theirs *Revision, sigs map[string][]byte, tree Oid) (*Revision, error) {
	commitOid, err := store.PutCommit(CommitSpec{
		Tree:    tree,
		Parents: []Oid{ours.Oid, theirs.Oid},
		Message: RenderTrailers(sigs),
	})
	if err != nil {
		return nil, err
	}

	doc := ours.Document
	if tree.Equal(theirs.Tree) {
		doc = theirs.Document
	}

	merged := &Revision{
		Oid:        commitOid,
		Root:       ours.Root,
		Tree:       tree,
		Parent:     &ours.Oid,
		MergeFrom:  &theirs.Oid,
		Document:   doc,
		Signatures: sigs,
	}
	return merged, nil
}
