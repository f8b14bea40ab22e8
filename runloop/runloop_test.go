package runloop_test

import (
	"crypto/sha256"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/ekiva-dev/ember/identity"
	"github.com/ekiva-dev/ember/pkgs/logger"
	"github.com/ekiva-dev/ember/runloop"
	"github.com/ekiva-dev/ember/waitingroom"
)

func testUrn(seed byte) identity.Urn {
	sum := sha256.Sum256([]byte{seed})
	oid, _ := identity.OidFromBytes(sum[:20])
	return identity.NewUrn(oid, "")
}

var _ = Describe("RunLoop", func() {
	var rl *runloop.RunLoop
	var t0 time.Time

	newLoop := func() *runloop.RunLoop {
		wr := waitingroom.New(waitingroom.Config{MaxQueries: 16, MaxClones: 3, Delta: time.Second})
		return runloop.New(wr, logger.NewNullLogger())
	}

	goOnline := func(rl *runloop.RunLoop) {
		rl.Step(runloop.EndpointUp{ListenAddrs: []string{"/ip4/127.0.0.1/tcp/9094"}})
		rl.Step(runloop.StatsTick{ConnectedPeers: []string{"peer1"}, MembershipActive: 1})
	}

	BeforeEach(func() {
		rl = newLoop()
		t0 = time.Unix(1000, 0)
	})

	Describe("status transitions", func() {
		It("should start stopped and move to started on endpoint up", func() {
			Expect(rl.Status().Kind).To(Equal(runloop.Stopped))
			rl.Step(runloop.EndpointUp{})
			Expect(rl.Status().Kind).To(Equal(runloop.Started))
		})

		It("should go online when peers connect and offline when they all leave", func() {
			rl.Step(runloop.EndpointUp{})
			rl.Step(runloop.StatsTick{ConnectedPeers: []string{"peer1"}, MembershipActive: 1})
			Expect(rl.Status().Kind).To(Equal(runloop.Online))

			rl.Step(runloop.StatsTick{})
			Expect(rl.Status().Kind).To(Equal(runloop.Offline))

			rl.Step(runloop.StatsTick{ConnectedPeers: []string{"peer2"}, MembershipActive: 1})
			Expect(rl.Status().Kind).To(Equal(runloop.Online))
		})

		It("should stop from any state on endpoint down", func() {
			goOnline(rl)
			rl.Step(runloop.EndpointDown{})
			Expect(rl.Status().Kind).To(Equal(runloop.Stopped))
		})
	})

	Describe("announce tick", func() {
		It("should announce only while online with connected peers and active membership", func() {
			Expect(rl.Step(runloop.AnnounceTick{})).To(BeEmpty())

			goOnline(rl)
			commands := rl.Step(runloop.AnnounceTick{})
			Expect(commands).To(HaveLen(1))
			_, ok := commands[0].(runloop.CmdAnnounce)
			Expect(ok).To(BeTrue())
		})

		It("should stay quiet when membership is empty", func() {
			rl.Step(runloop.EndpointUp{})
			rl.Step(runloop.StatsTick{ConnectedPeers: []string{"peer1"}, MembershipActive: 0})
			Expect(rl.Step(runloop.AnnounceTick{})).To(BeEmpty())
		})
	})

	Describe("gossip put", func() {
		It("should record the provider and include an applied urn", func() {
			urn := testUrn(1)
			goOnline(rl)
			rl.Step(runloop.ControlRequest{Urn: urn, Now: t0})
			rl.Step(runloop.RequestTick{Now: t0}) // created -> requested

			commands := rl.Step(runloop.GossipPut{
				Provider: "peer1",
				Urn:      urn,
				Result:   runloop.PutApplied,
				Now:      t0,
			})
			Expect(commands).To(HaveLen(1))
			include, ok := commands[0].(runloop.CmdInclude)
			Expect(ok).To(BeTrue())
			Expect(include.Urn.Equal(urn)).To(BeTrue())

			req, err := rl.WaitingRoom().Get(urn)
			Expect(err).To(BeNil())
			Expect(req.State).To(Equal(waitingroom.Found))
		})
	})

	Describe("request tick", func() {
		It("should do nothing while not online", func() {
			urn := testUrn(1)
			rl.Step(runloop.ControlRequest{Urn: urn, Now: t0})
			Expect(rl.Step(runloop.RequestTick{Now: t0})).To(BeEmpty())
		})

		It("should query fresh requests and clone found ones (S3)", func() {
			urn := testUrn(1)
			goOnline(rl)
			rl.Step(runloop.ControlRequest{Urn: urn, Now: t0})

			commands := rl.Step(runloop.RequestTick{Now: t0})
			Expect(commands).To(HaveLen(1))
			query, ok := commands[0].(runloop.CmdQuery)
			Expect(ok).To(BeTrue())
			Expect(query.Urn.Equal(urn)).To(BeTrue())

			rl.Step(runloop.GossipPut{Provider: "peerA", Urn: urn, Result: runloop.PutApplied, Now: t0})

			commands = rl.Step(runloop.RequestTick{Now: t0.Add(time.Minute)})
			Expect(commands).To(HaveLen(1))
			clone, ok := commands[0].(runloop.CmdClone)
			Expect(ok).To(BeTrue())
			Expect(clone.Urn.Equal(urn)).To(BeTrue())
			Expect(clone.Peer).To(Equal("peerA"))
		})
	})

	Describe("sync results", func() {
		It("should complete and remove the request on success", func() {
			urn := testUrn(1)
			goOnline(rl)
			rl.Step(runloop.ControlRequest{Urn: urn, Now: t0})
			rl.Step(runloop.RequestTick{Now: t0})
			rl.Step(runloop.GossipPut{Provider: "peerA", Urn: urn, Result: runloop.PutApplied, Now: t0})
			rl.Step(runloop.RequestTick{Now: t0.Add(time.Minute)})

			commands := rl.Step(runloop.SyncResult{Urn: urn, Peer: "peerA", Success: true, Now: t0})
			Expect(commands).To(BeEmpty())
			_, err := rl.WaitingRoom().Get(urn)
			Expect(err).ToNot(BeNil())
		})

		It("should return the request to found on failure", func() {
			urn := testUrn(1)
			goOnline(rl)
			rl.Step(runloop.ControlRequest{Urn: urn, Now: t0})
			rl.Step(runloop.RequestTick{Now: t0})
			rl.Step(runloop.GossipPut{Provider: "peerA", Urn: urn, Result: runloop.PutApplied, Now: t0})
			rl.Step(runloop.RequestTick{Now: t0.Add(time.Minute)})

			rl.Step(runloop.SyncResult{Urn: urn, Peer: "peerA", Success: false, Reason: "boom", Now: t0})
			req, err := rl.WaitingRoom().Get(urn)
			Expect(err).To(BeNil())
			Expect(req.State).To(Equal(waitingroom.Found))
			Expect(req.Peers["peerA"].Kind).To(Equal(waitingroom.Failed))
		})
	})

	Describe("timeouts (S6)", func() {
		It("should surface a timeout after the query cap is exhausted", func() {
			wr := waitingroom.New(waitingroom.Config{MaxQueries: 16, MaxClones: 3, Delta: 0})
			rl := runloop.New(wr, logger.NewNullLogger())
			goOnline(rl)

			urn := testUrn(1)
			rl.Step(runloop.ControlRequest{Urn: urn, Now: t0})

			var timedOut *runloop.CmdRequestTimedOut
			now := t0
			for i := 0; i < 20 && timedOut == nil; i++ {
				now = now.Add(time.Second)
				for _, command := range rl.Step(runloop.RequestTick{Now: now}) {
					if c, ok := command.(runloop.CmdRequestTimedOut); ok {
						timedOut = &c
					}
				}
			}
			Expect(timedOut).ToNot(BeNil())
			Expect(timedOut.Attempts.Queries).To(Equal(17))

			_, err := rl.WaitingRoom().Get(urn)
			Expect(err).ToNot(BeNil())
		})
	})
})
