package replication_test

import (
	"crypto/sha256"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/ekiva-dev/ember/identity"
	"github.com/ekiva-dev/ember/refdb"
	"github.com/ekiva-dev/ember/replication"
	"github.com/ekiva-dev/ember/remote/sigrefs"
)

func urnFromSeed(seed byte) identity.Urn {
	sum := sha256.Sum256([]byte{seed})
	oid, _ := identity.OidFromBytes(sum[:20])
	return identity.NewUrn(oid, "")
}

func oidFromSeed(seed byte) identity.Oid {
	sum := sha256.Sum256([]byte{0xff, seed})
	oid, _ := identity.OidFromBytes(sum[:20])
	return oid
}

var _ = Describe("Refspecs", func() {
	var urn identity.Urn

	BeforeEach(func() {
		urn = urnFromSeed(1)
	})

	Describe(".AllSpecs", func() {
		It("should emit three identity-carrier globs mapping to themselves", func() {
			specs := replication.AllSpecs(urn)
			Expect(specs).To(HaveLen(3))
			ns := refdb.NamespacePrefix(urn)
			for _, spec := range specs {
				Expect(spec.Force).To(BeFalse())
				Expect(spec.Src).To(Equal(spec.Dst))
				Expect(spec.Src).To(HavePrefix(ns + "/refs/remotes/*/rad/"))
			}
		})
	})

	Describe(".PeekSpecs", func() {
		It("should source the remote peer's own refs unprefixed", func() {
			specs := replication.PeekSpecs(urn, "peerA", []string{"peerA"})
			Expect(specs).To(HaveLen(4))
			ns := refdb.NamespacePrefix(urn)
			for _, spec := range specs {
				Expect(spec.Src).ToNot(ContainSubstring("remotes/peerA"))
				Expect(spec.Dst).To(HavePrefix(ns + "/refs/remotes/peerA/"))
			}
		})

		It("should source other peers' refs under their remote prefix", func() {
			specs := replication.PeekSpecs(urn, "peerA", []string{"peerB"})
			ns := refdb.NamespacePrefix(urn)
			for _, spec := range specs {
				Expect(spec.Src).To(HavePrefix(ns + "/refs/remotes/peerB/"))
				Expect(spec.Dst).To(HavePrefix(ns + "/refs/remotes/peerB/"))
			}
		})
	})

	Describe(".ReplicateSpecs", func() {
		var heads map[string]identity.Oid
		var sigs map[string]sigrefs.Refs

		BeforeEach(func() {
			mainOid := oidFromSeed(1)
			staleOid := oidFromSeed(2)
			ns := refdb.NamespacePrefix(urn)

			heads = map[string]identity.Oid{
				ns + "/refs/remotes/peerB/heads/main":  mainOid,
				ns + "/refs/remotes/peerB/heads/stale": staleOid,
			}
			sigs = map[string]sigrefs.Refs{
				"peerB": {
					"heads": {
						"main":  mainOid,
						"stale": oidFromSeed(3), // signed oid disagrees with advertisement
					},
				},
			}
		})

		It("should emit force specs only for matching signed refs", func() {
			specs := replication.ReplicateSpecs(urn, "peerA", heads, sigs, nil, nil)

			var forced []replication.Refspec
			for _, spec := range specs {
				if spec.Force {
					forced = append(forced, spec)
				}
			}
			Expect(forced).To(HaveLen(1))
			Expect(forced[0].Src).To(ContainSubstring("remotes/peerB/heads/main"))
		})

		It("should satisfy the signed-ref filtering property for every forced spec", func() {
			specs := replication.ReplicateSpecs(urn, "peerA", heads, sigs, nil, nil)
			for _, spec := range specs {
				if !spec.Force {
					continue
				}
				oid, ok := heads[spec.Src]
				Expect(ok).To(BeTrue())
				found := false
				for _, refs := range sigs {
					for _, name := range refs.Names() {
						target, _ := refs.Find(name)
						if target.Equal(oid) {
							found = true
						}
					}
				}
				Expect(found).To(BeTrue())
			}
		})

		It("should include peek specs for the remote peer and each delegate", func() {
			delegate := urnFromSeed(9)
			specs := replication.ReplicateSpecs(urn, "peerA", heads, sigs, []identity.Urn{delegate}, nil)

			var sawOwnPeek, sawDelegatePeek bool
			for _, spec := range specs {
				if spec.Dst == refdb.NamespacePrefix(urn)+"/refs/remotes/peerA/rad/id" {
					sawOwnPeek = true
				}
				if spec.Dst == refdb.NamespacePrefix(delegate)+"/refs/remotes/peerA/rad/id" {
					sawDelegatePeek = true
				}
			}
			Expect(sawOwnPeek).To(BeTrue())
			Expect(sawDelegatePeek).To(BeTrue())
		})

		It("should be deterministic under map iteration order", func() {
			delegates := []identity.Urn{urnFromSeed(9), urnFromSeed(8)}
			first := replication.ReplicateSpecs(urn, "peerA", heads, sigs, delegates, nil)
			for i := 0; i < 20; i++ {
				again := replication.ReplicateSpecs(urn, "peerA", heads, sigs, delegates, nil)
				Expect(again).To(Equal(first))
			}
		})
	})
})
