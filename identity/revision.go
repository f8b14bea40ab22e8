package identity

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/mr-tron/base58"
	"github.com/pkg/errors"

	"github.com/ekiva-dev/ember/crypto"
)

// SignatureTrailerPrefix is the commit-message trailer key carrying a
// detached signature over the revision's tree OID.
const SignatureTrailerPrefix = "x-rad-signature"

var trailerRe = regexp.MustCompile(`(?m)^` + regexp.QuoteMeta(SignatureTrailerPrefix) + `:\s*(\S+)\s+(\S+)\s*$`)

// Revision is one identity commit: the tree OID carries the canonical
// document (the signed message), zero or more parents link it into the
// identity's history, and the signature set authenticates it.
type Revision struct {
	Oid        Oid
	Root       Oid // the identity's stable root OID (first revision's OID)
	Tree       Oid
	Parent     *Oid
	MergeFrom  *Oid
	Document   *Document
	Signatures map[string][]byte // PeerId.String() -> raw ed25519 signature
}

// ParseTrailers extracts signature trailers from a commit message. Parsing
// tolerates mixed-in free text around trailers, matching any line of the
// form "x-rad-signature: <b58 pubkey> <b58 sig>" anywhere in the message.
func ParseTrailers(message string) (map[string][]byte, error) {
	sigs := make(map[string][]byte)
	for _, m := range trailerRe.FindAllStringSubmatch(message, -1) {
		pubB58, sigB58 := m[1], m[2]
		pub, err := base58.Decode(pubB58)
		if err != nil {
			return nil, errors.Wrapf(err, "identity: invalid signer in trailer %q", pubB58)
		}
		sig, err := base58.Decode(sigB58)
		if err != nil {
			return nil, errors.Wrapf(err, "identity: invalid signature in trailer for %q", pubB58)
		}
		pid, err := PeerIdFromString(base58.Encode(pub))
		if err != nil {
			return nil, errors.Wrap(err, "identity: invalid signer public key")
		}
		sigs[pid.String()] = sig
	}
	return sigs, nil
}

// RenderTrailers renders the signature set back into trailer lines, one
// per signer, sorted by signer for determinism.
func RenderTrailers(sigs map[string][]byte) string {
	keys := make([]string, 0, len(sigs))
	for k := range sigs {
		keys = append(keys, k)
	}
	sortStrings(keys)
	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %s %s\n", SignatureTrailerPrefix, k, base58.Encode(sigs[k]))
	}
	return b.String()
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

// LoadRevision reads a revision commit from the store, decoding its tree's
// document blob and its message's signature trailers. root is the
// identity's stable root OID, known by the caller (e.g. from the URN).
func LoadRevision(store Store, root, commitOid Oid) (*Revision, error) {
	tree, message, err := store.CommitTree(commitOid)
	if err != nil {
		return nil, errors.Wrap(err, "identity: load commit")
	}

	kind, data, err := store.Lookup(tree)
	if err != nil || kind != "tree" {
		return nil, fmt.Errorf("identity: %s is not a tree", commitOid.Hex())
	}
	entries, err := decodeTreeEntries(data)
	if err != nil {
		return nil, err
	}

	var blobOid Oid
	found := false
	for _, e := range entries {
		if e.Name == root.Hex() {
			blobOid = e.Oid
			found = true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("identity: revision %s has no document blob named %s", commitOid.Hex(), root.Hex())
	}

	_, blobData, err := store.Lookup(blobOid)
	if err != nil {
		return nil, errors.Wrap(err, "identity: load document blob")
	}
	doc, err := ParseDocument(blobData)
	if err != nil {
		return nil, errors.Wrap(err, "identity: parse document")
	}

	sigs, err := ParseTrailers(message)
	if err != nil {
		return nil, err
	}

	parents, err := store.CommitParents(commitOid)
	if err != nil {
		return nil, err
	}
	rev := &Revision{
		Oid:        commitOid,
		Root:       root,
		Tree:       tree,
		Document:   doc,
		Signatures: sigs,
	}
	if len(parents) > 0 {
		p := parents[0]
		rev.Parent = &p
	}
	if len(parents) > 1 {
		p := parents[1]
		rev.MergeFrom = &p
	}
	return rev, nil
}

// decodeTreeEntries is a placeholder hook overridden by objectstore's
// concrete tree decoding; identity only needs the {name,oid} pairs an
// object-store tree lookup already decodes into Oid-addressed blobs.
// It is declared as a package-level var so objectstore can inject its
// go-git-based decoder without an import cycle.
var decodeTreeEntries = func(data []byte) ([]TreeEntry, error) {
	return nil, fmt.Errorf("identity: no tree decoder installed")
}

// SetTreeDecoder installs the function used to decode raw tree object
// bytes into TreeEntry lists. Called once by objectstore's init.
func SetTreeDecoder(f func([]byte) ([]TreeEntry, error)) {
	decodeTreeEntries = f
}

// DecodeTree decodes raw tree object bytes using the installed decoder.
func DecodeTree(data []byte) ([]TreeEntry, error) {
	return decodeTreeEntries(data)
}

// Sign adds (or replaces) this signer's entry in the revision's signature
// map. Signing twice with the same key is idempotent: re-signing produces
// the same deterministic ed25519 signature over the same tree OID, so no
// duplicate is ever added.
func (r *Revision) Sign(key *crypto.Key) error {
	sig, err := key.PrivKey().Sign(r.Tree.Bytes())
	if err != nil {
		return errors.Wrap(err, "identity: sign")
	}
	pid := NewPeerId(key.PubKey())
	if r.Signatures == nil {
		r.Signatures = make(map[string][]byte)
	}
	r.Signatures[pid.String()] = sig
	return nil
}

// Signers returns the set of PeerIds that have signed this revision.
func (r *Revision) Signers() []PeerId {
	out := make([]PeerId, 0, len(r.Signatures))
	for k := range r.Signatures {
		pid, err := PeerIdFromString(k)
		if err != nil {
			continue
		}
		out = append(out, pid)
	}
	return out
}

// CreateRevision builds and writes a new revision. If base is nil, this is
// a root revision (no parent, no replaces); otherwise doc's replaces is set
// to base's tree and base becomes the first parent. mergeFrom, if non-nil,
// becomes the second parent. If doc equals base's document apart from
// replaces, or the resulting tree OID equals the base's tree OID, no
// commit is written and base is returned unchanged.
func CreateRevision(store Store, base *Revision, doc *Document, signer *crypto.Key, mergeFrom *Oid) (*Revision, error) {
	var rootOid Oid
	if base != nil {
		rootOid = base.Root
		if base.Document != nil {
			probe := *doc
			probe.Replaces, probe.HasReplaces = base.Document.Replaces, base.Document.HasReplaces
			a, errA := CanonicalJSON(&probe)
			b, errB := CanonicalJSON(base.Document)
			if errA == nil && errB == nil && string(a) == string(b) {
				return base, nil
			}
		}
		doc.Replaces = base.Tree
		doc.HasReplaces = true
	}

	if err := doc.Validate(); err != nil {
		return nil, err
	}

	canon, err := CanonicalJSON(doc)
	if err != nil {
		return nil, err
	}
	blobOid, err := store.PutBlob(canon)
	if err != nil {
		return nil, err
	}

	treeEntries := []TreeEntry{{Name: rootOid.Hex(), Oid: blobOid}}
	if rootOid.IsZero() {
		// Root revision: the document names itself once its own OID is
		// known, which is circular for the first write. The convention is
		// that the root revision's entry name is the blob OID itself.
		treeEntries[0].Name = blobOid.Hex()
		rootOid = blobOid
	}
	treeOid, err := store.PutTree(treeEntries)
	if err != nil {
		return nil, err
	}

	if base != nil && treeOid.Equal(base.Tree) {
		return base, nil
	}

	var parents []Oid
	if base != nil {
		parents = append(parents, base.Oid)
	}
	if mergeFrom != nil {
		parents = append(parents, *mergeFrom)
	}

	rev := &Revision{
		Root:       rootOid,
		Tree:       treeOid,
		Document:   doc,
		Signatures: map[string][]byte{},
	}
	if base != nil {
		rev.Parent = &base.Oid
	}
	if mergeFrom != nil {
		rev.MergeFrom = mergeFrom
	}

	if err := rev.Sign(signer); err != nil {
		return nil, err
	}

	commitOid, err := store.PutCommit(CommitSpec{
		Tree:    treeOid,
		Parents: parents,
		Message: RenderTrailers(rev.Signatures),
	})
	if err != nil {
		return nil, err
	}
	rev.Oid = commitOid
	return rev, nil
}
