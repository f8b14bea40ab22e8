package identity_test

import (
	gogit "github.com/go-git/go-git/v5/plumbing"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/ekiva-dev/ember/identity"
)

var _ = Describe("Oid", func() {
	Describe(".OidFromBytes", func() {
		It("should accept a 20-byte hash", func() {
			oid, err := identity.OidFromBytes(make([]byte, 20))
			Expect(err).To(BeNil())
			Expect(oid.Bytes()).To(HaveLen(20))
		})

		It("should accept a 32-byte hash", func() {
			oid, err := identity.OidFromBytes(make([]byte, 32))
			Expect(err).To(BeNil())
			Expect(oid.Bytes()).To(HaveLen(32))
		})

		It("should reject any other length", func() {
			_, err := identity.OidFromBytes(make([]byte, 16))
			Expect(err).ToNot(BeNil())
		})
	})

	Describe(".ZeroOid", func() {
		It("should report IsZero", func() {
			Expect(identity.ZeroOid.IsZero()).To(BeTrue())
		})
	})

	Describe(".OidFromGitHash / .GitHash", func() {
		It("should round-trip through a go-git Hash", func() {
			h := gogit.NewHash("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
			oid := identity.OidFromGitHash(h)
			Expect(oid.GitHash()).To(Equal(h))
		})
	})

	Describe(".Hex / .OidFromHex", func() {
		It("should round-trip", func() {
			oid, err := identity.OidFromBytes(make([]byte, 20))
			Expect(err).To(BeNil())
			back, err := identity.OidFromHex(oid.Hex())
			Expect(err).To(BeNil())
			Expect(back.Equal(oid)).To(BeTrue())
		})
	})

	Describe(".String / .OidFromMultibase", func() {
		It("should round-trip through the multibase encoding", func() {
			raw := make([]byte, 32)
			raw[0] = 7
			oid, err := identity.OidFromBytes(raw)
			Expect(err).To(BeNil())

			s := oid.String()
			Expect(s).ToNot(BeEmpty())

			back, err := identity.OidFromMultibase(s)
			Expect(err).To(BeNil())
			Expect(back.Equal(oid)).To(BeTrue())
		})
	})

	Describe(".Equal", func() {
		It("should compare by content", func() {
			a, _ := identity.OidFromBytes(make([]byte, 20))
			b, _ := identity.OidFromBytes(make([]byte, 20))
			Expect(a.Equal(b)).To(BeTrue())

			other := make([]byte, 20)
			other[0] = 1
			c, _ := identity.OidFromBytes(other)
			Expect(a.Equal(c)).To(BeFalse())
		})
	})
})
