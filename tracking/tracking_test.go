package tracking_test

import (
	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/storage/memory"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/ekiva-dev/ember/identity"
	"github.com/ekiva-dev/ember/objectstore"
	"github.com/ekiva-dev/ember/refdb"
	"github.com/ekiva-dev/ember/storage"
	"github.com/ekiva-dev/ember/tracking"
)

var _ = Describe("Store", func() {
	var store *tracking.Store
	var objects *objectstore.Store
	var refs *refdb.DB
	var db *storage.Badger
	var urn identity.Urn

	BeforeEach(func() {
		repo, err := git.Init(memory.NewStorage(), nil)
		Expect(err).To(BeNil())
		objects = objectstore.New(repo)
		refs = refdb.New(repo.Storer, objects, nil)

		db = storage.NewBadger()
		Expect(db.Init("")).To(BeNil())

		store = tracking.New(objects, refs, db)

		blob, err := objects.PutBlob([]byte("root"))
		Expect(err).To(BeNil())
		urn = identity.NewUrn(blob, "")
	})

	AfterEach(func() {
		Expect(db.Close()).To(BeNil())
	})

	Describe(".Track", func() {
		It("should create an entry and report it tracked", func() {
			ref, err := store.Track(urn, "peer1", tracking.DefaultConfig(), tracking.Any)
			Expect(err).To(BeNil())
			Expect(ref).To(ContainSubstring("refs/rad/remotes/"))
			Expect(store.IsTracked(urn, "peer1")).To(BeTrue())
		})

		It("should create the default entry when no peer is given", func() {
			_, err := store.Track(urn, "", tracking.DefaultConfig(), tracking.Any)
			Expect(err).To(BeNil())
			Expect(store.IsTracked(urn, "")).To(BeTrue())
			Expect(store.DefaultOnly(urn)).To(BeTrue())
		})

		It("should honor MustNotExist", func() {
			_, err := store.Track(urn, "peer1", tracking.DefaultConfig(), tracking.Any)
			Expect(err).To(BeNil())
			_, err = store.Track(urn, "peer1", tracking.DefaultConfig(), tracking.MustNotExist)
			Expect(err).ToNot(BeNil())
		})

		It("should honor MustExist", func() {
			_, err := store.Track(urn, "peer1", tracking.DefaultConfig(), tracking.MustExist)
			Expect(err).ToNot(BeNil())
		})
	})

	Describe(".Get", func() {
		It("should return the stored configuration", func() {
			cfg := tracking.Config{Heads: true}
			_, err := store.Track(urn, "peer1", cfg, tracking.Any)
			Expect(err).To(BeNil())

			got, err := store.Get(urn, "peer1")
			Expect(err).To(BeNil())
			Expect(got).To(Equal(cfg))
		})

		It("should fall back to the default entry", func() {
			cfg := tracking.Config{Heads: true, Tags: true}
			_, err := store.Track(urn, "", cfg, tracking.Any)
			Expect(err).To(BeNil())

			got, err := store.Get(urn, "unknown-peer")
			Expect(err).To(BeNil())
			Expect(got).To(Equal(cfg))
		})
	})

	Describe(".Modify", func() {
		It("should apply the mutation under CAS", func() {
			_, err := store.Track(urn, "peer1", tracking.Config{Heads: true}, tracking.Any)
			Expect(err).To(BeNil())

			_, err = store.Modify(urn, "peer1", func(c tracking.Config) tracking.Config {
				c.Tags = true
				return c
			})
			Expect(err).To(BeNil())

			got, err := store.Get(urn, "peer1")
			Expect(err).To(BeNil())
			Expect(got.Tags).To(BeTrue())
		})

		It("should fail for a missing entry", func() {
			_, err := store.Modify(urn, "peer1", func(c tracking.Config) tracking.Config { return c })
			Expect(err).ToNot(BeNil())
		})

		It("should reject exactly one of two racing modifications", func() {
			_, err := store.Track(urn, "peer1", tracking.Config{Heads: true}, tracking.Any)
			Expect(err).To(BeNil())

			// The slow modification reads, then a fast one lands before it
			// writes: the slow one must observe the moved target and reject.
			var raced bool
			_, slowErr := store.Modify(urn, "peer1", func(c tracking.Config) tracking.Config {
				if !raced {
					raced = true
					_, fastErr := store.Modify(urn, "peer1", func(c tracking.Config) tracking.Config {
						c.Cobs = true
						return c
					})
					Expect(fastErr).To(BeNil())
				}
				c.Tags = true
				return c
			})
			Expect(slowErr).ToNot(BeNil())

			got, err := store.Get(urn, "peer1")
			Expect(err).To(BeNil())
			Expect(got.Cobs).To(BeTrue())
			Expect(got.Tags).To(BeFalse())
		})
	})

	Describe(".Untrack", func() {
		It("should remove the entry", func() {
			_, err := store.Track(urn, "peer1", tracking.DefaultConfig(), tracking.Any)
			Expect(err).To(BeNil())

			res, err := store.Untrack(urn, "peer1", tracking.MustExist, false)
			Expect(err).To(BeNil())
			Expect(res.Previous).To(Equal(tracking.DefaultConfig()))
			Expect(store.IsTracked(urn, "peer1")).To(BeFalse())
		})

		It("should honor MustExist", func() {
			_, err := store.Untrack(urn, "peer1", tracking.MustExist, false)
			Expect(err).ToNot(BeNil())
		})

		It("should prune the peer's remote references when asked", func() {
			_, err := store.Track(urn, "peer1", tracking.DefaultConfig(), tracking.Any)
			Expect(err).To(BeNil())

			tree, err := objects.PutTree(nil)
			Expect(err).To(BeNil())
			commit, err := objects.PutCommit(identity.CommitSpec{Tree: tree, Message: "c"})
			Expect(err).To(BeNil())

			ns := refs.Namespaced(urn)
			_, err = ns.Update(refdb.Direct{Name: "refs/remotes/peer1/heads/main", Target: commit})
			Expect(err).To(BeNil())

			res, err := store.Untrack(urn, "peer1", tracking.MustExist, true)
			Expect(err).To(BeNil())
			Expect(res.Pruned).To(HaveLen(1))

			_, err = ns.Find("refs/remotes/peer1/heads/main")
			Expect(err).ToNot(BeNil())
		})
	})

	Describe(".Tracked / .TrackedPeers", func() {
		It("should list entries, optionally filtered by urn", func() {
			blob, err := objects.PutBlob([]byte("other"))
			Expect(err).To(BeNil())
			other := identity.NewUrn(blob, "")

			store.Track(urn, "peer1", tracking.DefaultConfig(), tracking.Any)
			store.Track(urn, "peer2", tracking.DefaultConfig(), tracking.Any)
			store.Track(other, "peer3", tracking.DefaultConfig(), tracking.Any)

			all, err := store.Tracked(nil)
			Expect(err).To(BeNil())
			Expect(all).To(HaveLen(3))

			peers, err := store.TrackedPeers(&urn)
			Expect(err).To(BeNil())
			Expect(peers).To(ConsistOf("peer1", "peer2"))
		})
	})

	Describe(".UntrackAll", func() {
		It("should remove every entry including the default", func() {
			store.Track(urn, "", tracking.DefaultConfig(), tracking.Any)
			store.Track(urn, "peer1", tracking.DefaultConfig(), tracking.Any)

			res, err := store.UntrackAll(urn, tracking.Any, false)
			Expect(err).To(BeNil())
			Expect(res).To(HaveLen(2))
			Expect(store.IsTracked(urn, "")).To(BeFalse())
			Expect(store.IsTracked(urn, "peer1")).To(BeFalse())
		})
	})
})
