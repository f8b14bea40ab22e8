package identity_test

import (
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/ekiva-dev/ember/crypto"
	"github.com/ekiva-dev/ember/identity"
)

func newKeyDelegation(seed int) identity.DelegationEntry {
	pid := identity.NewPeerId(crypto.NewKeyFromIntSeed(seed).PubKey())
	return identity.DelegationEntry{Key: &pid}
}

var _ = Describe("Document", func() {
	Describe(".Validate", func() {
		It("should reject an unknown protocol version", func() {
			d := &identity.Document{
				Version:     99,
				Subject:     identity.Subject{Kind: identity.PersonKind, Name: "alice"},
				Delegations: []identity.DelegationEntry{newKeyDelegation(1)},
			}
			Expect(d.Validate()).To(Equal(identity.ErrUnknownProtocolVersion))
		})

		It("should reject a missing subject name", func() {
			d := &identity.Document{
				Version:     identity.DocumentVersion,
				Subject:     identity.Subject{Kind: identity.PersonKind},
				Delegations: []identity.DelegationEntry{newKeyDelegation(1)},
			}
			Expect(d.Validate()).To(Equal(identity.ErrMissingSubject))
		})

		It("should reject an empty delegation set", func() {
			d := &identity.Document{
				Version: identity.DocumentVersion,
				Subject: identity.Subject{Kind: identity.PersonKind, Name: "alice"},
			}
			Expect(d.Validate()).To(Equal(identity.ErrEmptyDelegations))
		})

		It("should reject duplicate delegation entries", func() {
			del := newKeyDelegation(1)
			d := &identity.Document{
				Version:     identity.DocumentVersion,
				Subject:     identity.Subject{Kind: identity.PersonKind, Name: "alice"},
				Delegations: []identity.DelegationEntry{del, del},
			}
			Expect(d.Validate()).To(Equal(identity.ErrDuplicateDelegation))
		})

		It("should reject indirect delegations on a Person document", func() {
			root, _ := identity.OidFromBytes(make([]byte, 20))
			urn := identity.NewUrn(root, "")
			d := &identity.Document{
				Version:     identity.DocumentVersion,
				Subject:     identity.Subject{Kind: identity.PersonKind, Name: "alice"},
				Delegations: []identity.DelegationEntry{{Person: &urn}},
			}
			Expect(d.Validate()).ToNot(BeNil())
		})

		It("should accept a well-formed project document with a mix of direct and indirect delegates", func() {
			root, _ := identity.OidFromBytes(make([]byte, 20))
			urn := identity.NewUrn(root, "")
			d := &identity.Document{
				Version: identity.DocumentVersion,
				Subject: identity.Subject{Kind: identity.ProjectKind, Name: "proj", DefaultBranch: "main"},
				Delegations: []identity.DelegationEntry{
					newKeyDelegation(1),
					{Person: &urn},
				},
			}
			Expect(d.Validate()).To(BeNil())
		})
	})

	Describe(".DelegationKeys / .PersonDelegations", func() {
		It("should split bare keys from indirect person URNs", func() {
			root, _ := identity.OidFromBytes(make([]byte, 20))
			urn := identity.NewUrn(root, "")
			d := &identity.Document{
				Delegations: []identity.DelegationEntry{
					newKeyDelegation(1),
					{Person: &urn},
				},
			}
			Expect(d.DelegationKeys()).To(HaveLen(1))
			Expect(d.PersonDelegations()).To(HaveLen(1))
		})
	})
})
