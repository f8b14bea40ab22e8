package identity_test

import (
	"encoding/json"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/ekiva-dev/ember/identity"
)

var _ = Describe("CanonicalJSON", func() {
	Describe("round-tripping", func() {
		It("should parse what it serializes, for a Person document", func() {
			d := &identity.Document{
				Version:     identity.DocumentVersion,
				Subject:     identity.Subject{Kind: identity.PersonKind, Name: "alice"},
				Delegations: []identity.DelegationEntry{newKeyDelegation(1)},
			}
			raw, err := identity.CanonicalJSON(d)
			Expect(err).To(BeNil())

			back, err := identity.ParseDocument(raw)
			Expect(err).To(BeNil())
			Expect(back.Subject.Kind).To(Equal(identity.PersonKind))
			Expect(back.Subject.Name).To(Equal("alice"))
			Expect(back.DelegationKeys()).To(HaveLen(1))
		})

		It("should parse what it serializes, for a Project document with extensions", func() {
			d := &identity.Document{
				Version: identity.DocumentVersion,
				Subject: identity.Subject{Kind: identity.ProjectKind, Name: "proj", Description: "desc", DefaultBranch: "main"},
				Ext: map[string]json.RawMessage{
					"https://ember.dev/ext#ci": json.RawMessage(`{"enabled":true}`),
				},
				Delegations: []identity.DelegationEntry{newKeyDelegation(1), newKeyDelegation(2)},
			}
			raw, err := identity.CanonicalJSON(d)
			Expect(err).To(BeNil())

			back, err := identity.ParseDocument(raw)
			Expect(err).To(BeNil())
			Expect(back.Subject.Description).To(Equal("desc"))
			Expect(back.Subject.DefaultBranch).To(Equal("main"))
			Expect(back.Ext).To(HaveKey("https://ember.dev/ext#ci"))
			Expect(back.DelegationKeys()).To(HaveLen(2))
		})
	})

	Describe("determinism", func() {
		It("should produce identical bytes regardless of delegation insertion order", func() {
			d1 := &identity.Document{
				Version:     identity.DocumentVersion,
				Subject:     identity.Subject{Kind: identity.PersonKind, Name: "alice"},
				Delegations: []identity.DelegationEntry{newKeyDelegation(1), newKeyDelegation(2)},
			}
			d2 := &identity.Document{
				Version:     identity.DocumentVersion,
				Subject:     identity.Subject{Kind: identity.PersonKind, Name: "alice"},
				Delegations: []identity.DelegationEntry{newKeyDelegation(2), newKeyDelegation(1)},
			}
			raw1, err := identity.CanonicalJSON(d1)
			Expect(err).To(BeNil())
			raw2, err := identity.CanonicalJSON(d2)
			Expect(err).To(BeNil())
			Expect(raw1).To(Equal(raw2))
		})
	})

	Describe("duplicate key rejection", func() {
		It("should reject a document whose payload repeats an object key", func() {
			raw := []byte(`{"version":0,"payload":{"https://ember.dev/payload#person":{"name":"a","name":"b"}},"delegations":[]}`)
			_, err := identity.ParseDocument(raw)
			Expect(err).ToNot(BeNil())
		})

		It("should reject a document missing a payload", func() {
			raw := []byte(`{"version":0,"delegations":[]}`)
			_, err := identity.ParseDocument(raw)
			Expect(err).To(Equal(identity.ErrMissingSubject))
		})
	})
})
