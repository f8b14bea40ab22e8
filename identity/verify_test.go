package identity_test

import (
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/ekiva-dev/ember/crypto"
	"github.com/ekiva-dev/ember/identity"
)

// makeSignedRevision creates a revision signed by every given key. The
// commit is rewritten after the extra signatures are added so the
// trailers stay consistent with the signature map.
func makeSignedRevision(store identity.Store, base *identity.Revision, doc *identity.Document, keys ...*crypto.Key) *identity.Revision {
	rev, err := identity.CreateRevision(store, base, doc, keys[0], nil)
	Expect(err).To(BeNil())
	if base != nil && rev.Oid.Equal(base.Oid) {
		return rev
	}
	for _, key := range keys[1:] {
		Expect(rev.Sign(key)).To(BeNil())
	}
	var parents []identity.Oid
	if rev.Parent != nil {
		parents = append(parents, *rev.Parent)
	}
	if rev.MergeFrom != nil {
		parents = append(parents, *rev.MergeFrom)
	}
	oid, err := store.PutCommit(identity.CommitSpec{
		Tree:    rev.Tree,
		Parents: parents,
		Message: identity.RenderTrailers(rev.Signatures),
	})
	Expect(err).To(BeNil())
	rev.Oid = oid
	return rev
}

func personDoc(name string, seeds ...int) *identity.Document {
	var delegations []identity.DelegationEntry
	for _, seed := range seeds {
		delegations = append(delegations, newKeyDelegation(seed))
	}
	return &identity.Document{
		Version:     identity.DocumentVersion,
		Subject:     identity.Subject{Kind: identity.PersonKind, Name: name},
		Delegations: delegations,
	}
}

var _ = Describe("Verify", func() {
	var store *memStore

	BeforeEach(func() {
		store = newMemStore()
	})

	Describe(".ToSigned", func() {
		It("should fail on a revision with no signatures", func() {
			rev := makeSignedRevision(store, nil, personDoc("alice", 1), crypto.NewKeyFromIntSeed(1))
			rev.Signatures = map[string][]byte{}
			_, err := identity.ToSigned(identity.Untrusted{Rev: rev})
			Expect(err).To(Equal(identity.ErrNoSignatures))
		})

		It("should fail when any signature does not verify", func() {
			rev := makeSignedRevision(store, nil, personDoc("alice", 1), crypto.NewKeyFromIntSeed(1))
			for k := range rev.Signatures {
				rev.Signatures[k] = []byte("garbage")
			}
			_, err := identity.ToSigned(identity.Untrusted{Rev: rev})
			Expect(err).To(Equal(identity.ErrSignatureInvalid))
		})

		It("should accept a well-signed revision", func() {
			rev := makeSignedRevision(store, nil, personDoc("alice", 1), crypto.NewKeyFromIntSeed(1))
			signed, err := identity.ToSigned(identity.Untrusted{Rev: rev})
			Expect(err).To(BeNil())
			Expect(signed.Rev()).To(Equal(rev))
		})
	})

	Describe(".ToQuorum", func() {
		It("should fail when signers do not form a strict majority", func() {
			// two delegates, one signer: 1 > floor(2/2) is false
			rev := makeSignedRevision(store, nil, personDoc("pair", 1, 2), crypto.NewKeyFromIntSeed(1))
			signed, err := identity.ToSigned(identity.Untrusted{Rev: rev})
			Expect(err).To(BeNil())
			_, err = identity.ToQuorum(signed, nil)
			Expect(err).To(Equal(identity.ErrNoQuorum))
		})

		It("should pass with a strict majority of delegates", func() {
			rev := makeSignedRevision(store, nil, personDoc("pair", 1, 2),
				crypto.NewKeyFromIntSeed(1), crypto.NewKeyFromIntSeed(2))
			signed, err := identity.ToSigned(identity.Untrusted{Rev: rev})
			Expect(err).To(BeNil())
			quorum, err := identity.ToQuorum(signed, nil)
			Expect(err).To(BeNil())
			Expect(quorum.DelegationKeys()).To(HaveLen(2))
		})
	})

	Describe(".ToVerified", func() {
		It("should verify a root revision with neither parent nor replaces", func() {
			rev := makeSignedRevision(store, nil, personDoc("alice", 1), crypto.NewKeyFromIntSeed(1))
			_, err := identity.Verify(rev, nil, nil)
			Expect(err).To(BeNil())
		})

		It("should reject a root revision claiming a parent", func() {
			key := crypto.NewKeyFromIntSeed(1)
			root := makeSignedRevision(store, nil, personDoc("alice", 1), key)
			succ := makeSignedRevision(store, root, personDoc("alice2", 1), key)
			_, err := identity.Verify(succ, nil, nil)
			Expect(err).To(Equal(identity.ErrMissingParent))
		})

		It("should verify a successor ratified by the parent's delegates", func() {
			key := crypto.NewKeyFromIntSeed(1)
			root := makeSignedRevision(store, nil, personDoc("alice", 1), key)
			verifiedRoot, err := identity.Verify(root, nil, nil)
			Expect(err).To(BeNil())

			succ := makeSignedRevision(store, root, personDoc("alice2", 1), key)
			_, err = identity.Verify(succ, &verifiedRoot, nil)
			Expect(err).To(BeNil())
		})

		It("should reject a successor the parent's delegates did not ratify", func() {
			k1, k2 := crypto.NewKeyFromIntSeed(1), crypto.NewKeyFromIntSeed(2)
			root := makeSignedRevision(store, nil, personDoc("alice", 1), k1)
			verifiedRoot, err := identity.Verify(root, nil, nil)
			Expect(err).To(BeNil())

			// succ delegates to k2 only and is signed by k2: it reaches its
			// own quorum, but k1 (the parent's sole delegate) never ratified.
			succ := makeSignedRevision(store, root, personDoc("takeover", 2), k2)
			_, err = identity.Verify(succ, &verifiedRoot, nil)
			Expect(err).To(Equal(identity.ErrParentQuorumFailure))
		})

		It("should reject a parent from a different root", func() {
			k1 := crypto.NewKeyFromIntSeed(1)
			rootA := makeSignedRevision(store, nil, personDoc("alice", 1), k1)
			rootB := makeSignedRevision(store, nil, personDoc("bob", 1), k1)
			verifiedB, err := identity.Verify(rootB, nil, nil)
			Expect(err).To(BeNil())

			succ := makeSignedRevision(store, rootA, personDoc("alice2", 1), k1)
			_, err = identity.Verify(succ, &verifiedB, nil)
			Expect(err).ToNot(BeNil())
		})
	})

	Describe(".EffectiveDelegationKeys", func() {
		It("should resolve person URN delegations through the resolver", func() {
			personKey := crypto.NewKeyFromIntSeed(3)
			person := makeSignedRevision(store, nil, personDoc("carol", 3), personKey)
			verifiedPerson, err := identity.Verify(person, nil, nil)
			Expect(err).To(BeNil())

			personUrn := identity.NewUrn(person.Root, "")
			doc := &identity.Document{
				Version:     identity.DocumentVersion,
				Subject:     identity.Subject{Kind: identity.ProjectKind, Name: "proj"},
				Delegations: []identity.DelegationEntry{{Person: &personUrn}},
			}

			resolver := identity.CallbackResolver{
				FindLatestFunc: func(urn identity.Urn) (identity.Oid, error) {
					return person.Oid, nil
				},
				VerifyFunc: func(urn identity.Urn, head identity.Oid) (identity.Verified, error) {
					return verifiedPerson, nil
				},
			}

			keys, err := identity.EffectiveDelegationKeys(doc, resolver)
			Expect(err).To(BeNil())
			Expect(keys).To(HaveLen(1))
			Expect(keys[0].Equal(identity.NewPeerId(personKey.PubKey()))).To(BeTrue())
		})

		It("should reject duplicate keys across direct and resolved delegations", func() {
			personKey := crypto.NewKeyFromIntSeed(1)
			person := makeSignedRevision(store, nil, personDoc("carol", 1), personKey)
			verifiedPerson, err := identity.Verify(person, nil, nil)
			Expect(err).To(BeNil())

			personUrn := identity.NewUrn(person.Root, "")
			doc := &identity.Document{
				Version: identity.DocumentVersion,
				Subject: identity.Subject{Kind: identity.ProjectKind, Name: "proj"},
				Delegations: []identity.DelegationEntry{
					newKeyDelegation(1),
					{Person: &personUrn},
				},
			}

			resolver := identity.CallbackResolver{
				FindLatestFunc: func(urn identity.Urn) (identity.Oid, error) { return person.Oid, nil },
				VerifyFunc: func(urn identity.Urn, head identity.Oid) (identity.Verified, error) {
					return verifiedPerson, nil
				},
			}

			_, err = identity.EffectiveDelegationKeys(doc, resolver)
			Expect(err).To(Equal(identity.ErrDuplicateResolved))
		})
	})
})
