// Package sigrefs implements signed-ref records: a peer's attested
// snapshot of its named references under a URN, stored as a commit at
// refs/rad/signed_refs whose tree carries the canonical record blob.
package sigrefs

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/mr-tron/base58"
	"github.com/pkg/errors"

	"github.com/ekiva-dev/ember/crypto"
	"github.com/ekiva-dev/ember/identity"
	"github.com/ekiva-dev/ember/refdb"
	"github.com/ekiva-dev/ember/remote/plumbing"
)

// BlobName is the tree entry name carrying the record inside the
// signed-refs commit.
const BlobName = "refs"

var (
	ErrBadSignature = fmt.Errorf("sigrefs: signature verification failed")
	ErrNoRecord     = fmt.Errorf("sigrefs: no signed-refs record")
)

// Refs enumerates a peer's signed references, keyed by category then by
// the name under the category (e.g. "heads" -> "main" -> oid).
type Refs map[string]map[string]identity.Oid

// Signed is a verified signed-refs record: the enumerated refs, the
// signing peer and its signature over the canonical record bytes.
type Signed struct {
	Refs   Refs
	Signer identity.PeerId
	Sig    []byte
}

// Find returns the OID recorded for a fully qualified refs/<category>/<name>,
// or false if the record does not cover it.
func (r Refs) Find(name string) (identity.Oid, bool) {
	category := plumbing.CategoryOf(name)
	names, ok := r[category]
	if !ok {
		return identity.Oid{}, false
	}
	short := strings.TrimPrefix(name, "refs/"+category+"/")
	oid, ok := names[short]
	return oid, ok
}

// Compute scans the signed categories of a namespaced reference database
// view and builds the Refs snapshot. The rad category excludes
// signed_refs itself, which would otherwise sign its own pointer.
func Compute(db *refdb.DB) (Refs, error) {
	out := make(Refs)
	for _, category := range plumbing.SignedCategories {
		refs, err := db.Scan("refs/" + category + "/")
		if err != nil {
			return nil, err
		}
		for _, ref := range refs {
			if ref.Name == plumbing.RadSignedRefs {
				continue
			}
			short := strings.TrimPrefix(ref.Name, "refs/"+category+"/")
			if out[category] == nil {
				out[category] = make(map[string]identity.Oid)
			}
			out[category][short] = ref.Peeled
		}
	}
	return out, nil
}

// canonical renders the record in canonical-JSON form (sorted keys,
// minimal whitespace), the message the signature covers.
func (r Refs) canonical() ([]byte, error) {
	tree := make(map[string]map[string]string, len(r))
	for category, names := range r {
		tree[category] = make(map[string]string, len(names))
		for name, oid := range names {
			tree[category][name] = oid.Hex()
		}
	}
	// encoding/json sorts map keys, which is all the canonical form needs
	// for this flat shape.
	return json.Marshal(tree)
}

// Sign produces a Signed record over the snapshot with the given key.
func Sign(refs Refs, key *crypto.Key) (*Signed, error) {
	msg, err := refs.canonical()
	if err != nil {
		return nil, err
	}
	sig, err := key.PrivKey().Sign(msg)
	if err != nil {
		return nil, errors.Wrap(err, "sigrefs: sign")
	}
	return &Signed{Refs: refs, Signer: identity.NewPeerId(key.PubKey()), Sig: sig}, nil
}

// record is the serialized blob layout.
type record struct {
	Refs      map[string]map[string]string `json:"refs"`
	Signer    string                       `json:"signer"`
	Signature string                       `json:"signature"`
}

// Store writes the record blob, tree and commit. parent, if non-zero, is
// the previous signed-refs commit, preserving the record's own history.
func Store(store identity.Store, signed *Signed, parent identity.Oid) (identity.Oid, error) {
	tree := make(map[string]map[string]string, len(signed.Refs))
	for category, names := range signed.Refs {
		tree[category] = make(map[string]string, len(names))
		for name, oid := range names {
			tree[category][name] = oid.Hex()
		}
	}
	data, err := json.Marshal(record{
		Refs:      tree,
		Signer:    signed.Signer.String(),
		Signature: base58.Encode(signed.Sig),
	})
	if err != nil {
		return identity.Oid{}, err
	}
	blobOid, err := store.PutBlob(data)
	if err != nil {
		return identity.Oid{}, err
	}
	treeOid, err := store.PutTree([]identity.TreeEntry{{Name: BlobName, Oid: blobOid}})
	if err != nil {
		return identity.Oid{}, err
	}
	var parents []identity.Oid
	if !parent.IsZero() {
		parents = append(parents, parent)
	}
	return store.PutCommit(identity.CommitSpec{Tree: treeOid, Parents: parents})
}

// Load reads and verifies the record at the given signed-refs commit.
func Load(store identity.Store, commitOid identity.Oid) (*Signed, error) {
	tree, _, err := store.CommitTree(commitOid)
	if err != nil {
		return nil, errors.Wrap(ErrNoRecord, err.Error())
	}
	kind, data, err := store.Lookup(tree)
	if err != nil || kind != "tree" {
		return nil, ErrNoRecord
	}
	entries, err := identity.DecodeTree(data)
	if err != nil {
		return nil, err
	}
	var blobOid identity.Oid
	found := false
	for _, e := range entries {
		if e.Name == BlobName {
			blobOid = e.Oid
			found = true
			break
		}
	}
	if !found {
		return nil, ErrNoRecord
	}
	_, blob, err := store.Lookup(blobOid)
	if err != nil {
		return nil, errors.Wrap(ErrNoRecord, err.Error())
	}

	var rec record
	if err := json.Unmarshal(blob, &rec); err != nil {
		return nil, errors.Wrap(err, "sigrefs: decode record")
	}
	signer, err := identity.PeerIdFromString(rec.Signer)
	if err != nil {
		return nil, errors.Wrap(err, "sigrefs: invalid signer")
	}
	sig, err := base58.Decode(rec.Signature)
	if err != nil {
		return nil, errors.Wrap(err, "sigrefs: invalid signature encoding")
	}

	refs := make(Refs, len(rec.Refs))
	for category, names := range rec.Refs {
		refs[category] = make(map[string]identity.Oid, len(names))
		for name, hex := range names {
			oid, err := identity.OidFromHex(hex)
			if err != nil {
				return nil, errors.Wrapf(err, "sigrefs: invalid oid for %s/%s", category, name)
			}
			refs[category][name] = oid
		}
	}

	msg, err := refs.canonical()
	if err != nil {
		return nil, err
	}
	ok, err := signer.Verify(msg, sig)
	if err != nil || !ok {
		return nil, ErrBadSignature
	}
	return &Signed{Refs: refs, Signer: signer, Sig: sig}, nil
}

// Names returns the record's fully qualified reference names, sorted, for
// deterministic refspec computation.
func (r Refs) Names() []string {
	var out []string
	for category, names := range r {
		for name := range names {
			out = append(out, "refs/"+category+"/"+name)
		}
	}
	sort.Strings(out)
	return out
}
