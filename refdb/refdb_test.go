package refdb_test

import (
	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/storage/memory"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/ekiva-dev/ember/identity"
	"github.com/ekiva-dev/ember/objectstore"
	"github.com/ekiva-dev/ember/refdb"
)

// newStores creates an in-memory object store and a reference database
// sharing its storer.
func newStores() (*objectstore.Store, *refdb.DB) {
	repo, err := git.Init(memory.NewStorage(), nil)
	Expect(err).To(BeNil())
	objects := objectstore.New(repo)
	return objects, refdb.New(repo.Storer, objects, nil)
}

// commitChain writes n empty-tree commits, each a child of the previous,
// and returns their OIDs oldest-first.
func commitChain(objects *objectstore.Store, n int) []identity.Oid {
	tree, err := objects.PutTree(nil)
	Expect(err).To(BeNil())

	var out []identity.Oid
	var parents []identity.Oid
	for i := 0; i < n; i++ {
		oid, err := objects.PutCommit(identity.CommitSpec{
			Tree:    tree,
			Parents: parents,
			Message: "c",
		})
		Expect(err).To(BeNil())
		out = append(out, oid)
		parents = []identity.Oid{oid}
	}
	return out
}

var _ = Describe("DB", func() {
	var objects *objectstore.Store
	var db *refdb.DB

	BeforeEach(func() {
		objects, db = newStores()
	})

	Describe(".Update with Direct edits", func() {
		It("should create a reference", func() {
			chain := commitChain(objects, 1)
			applied, err := db.Update(refdb.Direct{Name: "refs/heads/main", Target: chain[0]})
			Expect(err).To(BeNil())
			Expect(applied.Updated).To(HaveLen(1))
			Expect(applied.Rejected).To(BeEmpty())

			target, err := db.Find("refs/heads/main")
			Expect(err).To(BeNil())
			Expect(target.Oid.Equal(chain[0])).To(BeTrue())
		})

		It("should fast-forward a reference", func() {
			chain := commitChain(objects, 2)
			_, err := db.Update(refdb.Direct{Name: "refs/heads/main", Target: chain[0]})
			Expect(err).To(BeNil())
			applied, err := db.Update(refdb.Direct{Name: "refs/heads/main", Target: chain[1]})
			Expect(err).To(BeNil())
			Expect(applied.Updated).To(HaveLen(1))
		})

		It("should abort the transaction on a non-fast-forward with Abort", func() {
			chain := commitChain(objects, 2)
			_, err := db.Update(refdb.Direct{Name: "refs/heads/main", Target: chain[1]})
			Expect(err).To(BeNil())
			_, err = db.Update(refdb.Direct{Name: "refs/heads/main", Target: chain[0], NoFF: refdb.Abort})
			Expect(err).ToNot(BeNil())
		})

		It("should record a rejected non-fast-forward with Reject and continue", func() {
			chain := commitChain(objects, 2)
			_, err := db.Update(refdb.Direct{Name: "refs/heads/main", Target: chain[1]})
			Expect(err).To(BeNil())

			applied, err := db.Update(
				refdb.Direct{Name: "refs/heads/main", Target: chain[0], NoFF: refdb.Reject},
				refdb.Direct{Name: "refs/heads/other", Target: chain[0], NoFF: refdb.Reject},
			)
			Expect(err).To(BeNil())
			Expect(applied.Rejected).To(HaveLen(1))
			Expect(applied.Updated).To(HaveLen(1))
		})

		It("should force a non-fast-forward with Allow", func() {
			chain := commitChain(objects, 2)
			_, err := db.Update(refdb.Direct{Name: "refs/heads/main", Target: chain[1]})
			Expect(err).To(BeNil())
			applied, err := db.Update(refdb.Direct{Name: "refs/heads/main", Target: chain[0], NoFF: refdb.Allow})
			Expect(err).To(BeNil())
			Expect(applied.Updated).To(HaveLen(1))

			oid, err := db.Resolve("refs/heads/main")
			Expect(err).To(BeNil())
			Expect(oid.Equal(chain[0])).To(BeTrue())
		})
	})

	Describe(".Update with Symbolic edits", func() {
		It("should create the implicit target and the symref", func() {
			chain := commitChain(objects, 1)
			applied, err := db.Update(refdb.Symbolic{
				Name:   "refs/rad/self",
				Target: refdb.SymbolicTarget{Name: "refs/heads/main", Oid: chain[0]},
			})
			Expect(err).To(BeNil())
			Expect(applied.Updated).To(HaveLen(2))

			oid, err := db.Resolve("refs/rad/self")
			Expect(err).To(BeNil())
			Expect(oid.Equal(chain[0])).To(BeTrue())

			target, err := db.Find("refs/rad/self")
			Expect(err).To(BeNil())
			Expect(target.IsSymbolic()).To(BeTrue())
		})

		It("should fail when the implicit target has no oid", func() {
			_, err := db.Update(refdb.Symbolic{
				Name:   "refs/rad/self",
				Target: refdb.SymbolicTarget{Name: "refs/heads/main"},
			})
			Expect(err).ToNot(BeNil())
		})

		It("should fast-forward an existing target", func() {
			chain := commitChain(objects, 2)
			_, err := db.Update(refdb.Direct{Name: "refs/heads/main", Target: chain[0]})
			Expect(err).To(BeNil())

			_, err = db.Update(refdb.Symbolic{
				Name:   "refs/rad/self",
				Target: refdb.SymbolicTarget{Name: "refs/heads/main", Oid: chain[1]},
			})
			Expect(err).To(BeNil())

			oid, err := db.Resolve("refs/heads/main")
			Expect(err).To(BeNil())
			Expect(oid.Equal(chain[1])).To(BeTrue())
		})

		It("should apply the type-change policy over an existing direct ref", func() {
			chain := commitChain(objects, 1)
			_, err := db.Update(refdb.Direct{Name: "refs/rad/self", Target: chain[0]})
			Expect(err).To(BeNil())

			applied, err := db.Update(refdb.Symbolic{
				Name:       "refs/rad/self",
				Target:     refdb.SymbolicTarget{Name: "refs/heads/main", Oid: chain[0]},
				TypeChange: refdb.Reject,
			})
			Expect(err).To(BeNil())
			Expect(applied.Rejected).To(HaveLen(1))
		})
	})

	Describe(".Scan", func() {
		It("should yield refs under a prefix with peeled resolutions", func() {
			chain := commitChain(objects, 1)
			_, err := db.Update(
				refdb.Direct{Name: "refs/heads/main", Target: chain[0]},
				refdb.Direct{Name: "refs/heads/dev", Target: chain[0]},
				refdb.Direct{Name: "refs/tags/v1", Target: chain[0]},
			)
			Expect(err).To(BeNil())

			refs, err := db.Scan("refs/heads/")
			Expect(err).To(BeNil())
			Expect(refs).To(HaveLen(2))
			for _, ref := range refs {
				Expect(ref.Peeled.Equal(chain[0])).To(BeTrue())
			}
		})
	})

	Describe(".Namespaced", func() {
		It("should rebase names under the namespace prefix", func() {
			chain := commitChain(objects, 1)
			root, _ := identity.OidFromBytes(chain[0].Bytes())
			urn := identity.NewUrn(root, "")

			ns := db.Namespaced(urn)
			_, err := ns.Update(refdb.Direct{Name: "refs/rad/id", Target: chain[0]})
			Expect(err).To(BeNil())

			_, err = ns.Find("refs/rad/id")
			Expect(err).To(BeNil())

			full := refdb.NamespacePrefix(urn) + "/refs/rad/id"
			_, err = db.Find(full)
			Expect(err).To(BeNil())

			// invisible outside the namespace under the short name
			_, err = db.Find("refs/rad/id")
			Expect(err).ToNot(BeNil())
		})
	})

	Describe(".ValidateName", func() {
		It("should accept well-formed names", func() {
			Expect(refdb.ValidateName("refs/heads/main")).To(BeNil())
			Expect(refdb.ValidateName("refs/rad/signed_refs")).To(BeNil())
		})

		It("should reject malformed names", func() {
			Expect(refdb.ValidateName("")).ToNot(BeNil())
			Expect(refdb.ValidateName("refs/heads/..")).ToNot(BeNil())
			Expect(refdb.ValidateName("refs/heads/a b")).ToNot(BeNil())
			Expect(refdb.ValidateName("refs/heads/a.lock")).ToNot(BeNil())
			Expect(refdb.ValidateName("refs/heads/.hidden")).ToNot(BeNil())
			Expect(refdb.ValidateName("/refs/heads/x")).ToNot(BeNil())
			Expect(refdb.ValidateName("refs/heads/x/")).ToNot(BeNil())
			Expect(refdb.ValidateName("refs/heads/a@{b}")).ToNot(BeNil())
		})
	})
})
