package replication_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/ekiva-dev/ember/replication"
)

var _ = Describe("Locks", func() {
	var locks *replication.Locks

	BeforeEach(func() {
		locks = replication.NewLocks()
	})

	It("should grant the slot when free", func() {
		release, err := locks.Acquire(context.Background(), urnFromSeed(1), "peerA", time.Second)
		Expect(err).To(BeNil())
		release()
	})

	It("should fail immediately on a collision with the same remote peer", func() {
		urn := urnFromSeed(1)
		release, err := locks.Acquire(context.Background(), urn, "peerA", time.Second)
		Expect(err).To(BeNil())
		defer release()

		start := time.Now()
		_, err = locks.Acquire(context.Background(), urn, "peerA", 10*time.Second)
		Expect(err).ToNot(BeNil())
		_, ok := err.(*replication.ConcurrentError)
		Expect(ok).To(BeTrue())
		Expect(time.Since(start)).To(BeNumerically("<", time.Second))
	})

	It("should retry with backoff on a collision with a different remote peer", func() {
		urn := urnFromSeed(1)
		release, err := locks.Acquire(context.Background(), urn, "peerA", time.Second)
		Expect(err).To(BeNil())

		go func() {
			time.Sleep(1500 * time.Millisecond)
			release()
		}()

		release2, err := locks.Acquire(context.Background(), urn, "peerB", 10*time.Second)
		Expect(err).To(BeNil())
		release2()
	})

	It("should not contend across different urns", func() {
		r1, err := locks.Acquire(context.Background(), urnFromSeed(1), "peerA", time.Second)
		Expect(err).To(BeNil())
		r2, err := locks.Acquire(context.Background(), urnFromSeed(2), "peerA", time.Second)
		Expect(err).To(BeNil())
		r1()
		r2()
	})

	It("should observe context cancellation while waiting", func() {
		urn := urnFromSeed(1)
		release, err := locks.Acquire(context.Background(), urn, "peerA", time.Second)
		Expect(err).To(BeNil())
		defer release()

		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			time.Sleep(200 * time.Millisecond)
			cancel()
		}()
		_, err = locks.Acquire(ctx, urn, "peerB", time.Minute)
		Expect(err).ToNot(BeNil())
	})
})
