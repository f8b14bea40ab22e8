package waitingroom_test

import (
	"crypto/sha256"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/ekiva-dev/ember/identity"
	"github.com/ekiva-dev/ember/waitingroom"
)

func testUrn(seed byte) identity.Urn {
	sum := sha256.Sum256([]byte{seed})
	oid, _ := identity.OidFromBytes(sum[:20])
	return identity.NewUrn(oid, "")
}

var _ = Describe("WaitingRoom", func() {
	var wr *waitingroom.WaitingRoom
	var t0 time.Time
	var urn identity.Urn

	BeforeEach(func() {
		wr = waitingroom.New(waitingroom.Config{
			MaxQueries: 3,
			MaxClones:  2,
			Delta:      time.Second,
		})
		t0 = time.Unix(1000, 0)
		urn = testUrn(1)
	})

	Describe(".Request", func() {
		It("should create a record once and report existing afterwards", func() {
			Expect(wr.Request(urn, t0)).To(BeTrue())
			Expect(wr.Request(urn, t0)).To(BeFalse())
		})
	})

	Describe(".Queried", func() {
		It("should move Created to Requested and count attempts", func() {
			wr.Request(urn, t0)
			state, err := wr.Queried(urn, t0)
			Expect(err).To(BeNil())
			Expect(state).To(Equal(waitingroom.Requested))

			req, err := wr.Get(urn)
			Expect(err).To(BeNil())
			Expect(req.Attempts.Queries).To(Equal(1))
		})

		It("should time out when the query cap is exceeded", func() {
			wr.Request(urn, t0)
			for i := 0; i < 3; i++ {
				state, err := wr.Queried(urn, t0)
				Expect(err).To(BeNil())
				Expect(state).To(Equal(waitingroom.Requested))
			}
			state, err := wr.Queried(urn, t0)
			Expect(err).To(BeNil())
			Expect(state).To(Equal(waitingroom.TimedOut))

			req, _ := wr.Get(urn)
			Expect(req.Attempts.Queries).To(Equal(4))
		})

		It("should fail for an unknown urn", func() {
			_, err := wr.Queried(testUrn(9), t0)
			Expect(err).ToNot(BeNil())
		})
	})

	Describe(".Found / .Cloning / .Cloned", func() {
		It("should walk the happy path to Cloned", func() {
			wr.Request(urn, t0)
			wr.Queried(urn, t0)

			state, err := wr.Found(urn, "peer1", t0)
			Expect(err).To(BeNil())
			Expect(state).To(Equal(waitingroom.Found))

			state, err = wr.Cloning(urn, "peer1", t0)
			Expect(err).To(BeNil())
			Expect(state).To(Equal(waitingroom.Cloning))

			state, err = wr.Cloned(urn, "peer1", t0)
			Expect(err).To(BeNil())
			Expect(state).To(Equal(waitingroom.Cloned))
		})

		It("should add peers while Found or Cloning without changing state", func() {
			wr.Request(urn, t0)
			wr.Queried(urn, t0)
			wr.Found(urn, "peer1", t0)

			state, err := wr.Found(urn, "peer2", t0)
			Expect(err).To(BeNil())
			Expect(state).To(Equal(waitingroom.Found))

			req, _ := wr.Get(urn)
			Expect(req.Peers).To(HaveLen(2))
		})

		It("should time out when the clone cap is exceeded", func() {
			wr.Request(urn, t0)
			wr.Queried(urn, t0)
			wr.Found(urn, "peer1", t0)

			for i := 0; i < 2; i++ {
				state, err := wr.Cloning(urn, "peer1", t0)
				Expect(err).To(BeNil())
				Expect(state).To(Equal(waitingroom.Cloning))
				state, err = wr.CloningFailed(urn, "peer1", t0, "boom")
				Expect(err).To(BeNil())
				Expect(state).To(Equal(waitingroom.Found))
			}

			state, err := wr.Cloning(urn, "peer1", t0)
			Expect(err).To(BeNil())
			Expect(state).To(Equal(waitingroom.TimedOut))
		})

		It("should mark the peer failed after a failed clone", func() {
			wr.Request(urn, t0)
			wr.Queried(urn, t0)
			wr.Found(urn, "peer1", t0)
			wr.Cloning(urn, "peer1", t0)
			wr.CloningFailed(urn, "peer1", t0, "connection reset")

			req, _ := wr.Get(urn)
			Expect(req.Peers["peer1"].Kind).To(Equal(waitingroom.Failed))
			Expect(req.Peers["peer1"].Reason).To(Equal("connection reset"))
		})
	})

	Describe(".Canceled", func() {
		It("should cancel any non-terminal request", func() {
			wr.Request(urn, t0)
			state, err := wr.Canceled(urn, t0)
			Expect(err).To(BeNil())
			Expect(state).To(Equal(waitingroom.Cancelled))
		})

		It("should refuse to cancel a terminal request", func() {
			wr.Request(urn, t0)
			wr.Canceled(urn, t0)
			_, err := wr.Canceled(urn, t0)
			Expect(err).ToNot(BeNil())
			mismatch, ok := err.(*waitingroom.StateMismatchError)
			Expect(ok).To(BeTrue())
			Expect(mismatch.Current).To(Equal(waitingroom.Cancelled))
		})
	})

	Describe(".Tick", func() {
		It("should emit a query for fresh requests", func() {
			wr.Request(urn, t0)
			events := wr.Tick(t0)
			Expect(events).To(HaveLen(1))
			Expect(events[0].Kind).To(Equal(waitingroom.EventQuery))
		})

		It("should hold back a requeried request until its backoff expires", func() {
			wr.Request(urn, t0)
			wr.Queried(urn, t0)

			// backoff is delta * queries = 1s
			Expect(wr.Tick(t0.Add(500 * time.Millisecond))).To(BeEmpty())
			events := wr.Tick(t0.Add(time.Second))
			Expect(events).To(HaveLen(1))
			Expect(events[0].Kind).To(Equal(waitingroom.EventQuery))
		})

		It("should emit a clone for found requests with an available peer", func() {
			wr.Request(urn, t0)
			wr.Queried(urn, t0)
			wr.Found(urn, "peer1", t0)

			events := wr.Tick(t0)
			Expect(events).To(HaveLen(1))
			Expect(events[0].Kind).To(Equal(waitingroom.EventClone))
			Expect(events[0].Peer).To(Equal("peer1"))
		})

		It("should not emit a clone when every peer has failed", func() {
			wr.Request(urn, t0)
			wr.Queried(urn, t0)
			wr.Found(urn, "peer1", t0)
			wr.Cloning(urn, "peer1", t0)
			wr.CloningFailed(urn, "peer1", t0, "boom")

			Expect(wr.Tick(t0)).To(BeEmpty())
		})
	})

	Describe(".Remove", func() {
		It("should drop terminal requests from the map", func() {
			wr.Request(urn, t0)
			wr.Canceled(urn, t0)
			wr.Remove(urn)
			_, err := wr.Get(urn)
			Expect(err).ToNot(BeNil())
		})
	})
})
