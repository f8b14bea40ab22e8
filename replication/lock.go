package replication

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/ekiva-dev/ember/identity"
)

// fetchSlot records the holder of a URN's fetch token.
type fetchSlot struct {
	peer  string
	token uint64
}

// Locks is the process-wide map guarding against overlapping fetches of
// the same URN. Acquire-or-observe: a contender sees the holder's peer
// without waiting for the holder to release the slot.
type Locks struct {
	mu     sync.Mutex
	held   map[string]fetchSlot
	tokens uint64
}

// NewLocks creates the keyed latch.
func NewLocks() *Locks {
	return &Locks{held: make(map[string]fetchSlot)}
}

// tryAcquire attempts to take the slot. On contention it returns the
// holder's peer.
func (l *Locks) tryAcquire(urn identity.Urn, peer string) (release func(), holder string, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := urn.MapKey()
	if slot, busy := l.held[key]; busy {
		return nil, slot.peer, false
	}
	l.tokens++
	token := l.tokens
	l.held[key] = fetchSlot{peer: peer, token: token}
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if slot, busy := l.held[key]; busy && slot.token == token {
			delete(l.held, key)
		}
	}, "", true
}

// Acquire takes the fetch slot for (urn, peer). A collision with a
// holder fetching from the same remote peer fails immediately with
// ConcurrentError; a collision with a different remote peer is retried
// with exponential backoff (1s growing to 5s) until timeout elapses or
// ctx is cancelled.
func (l *Locks) Acquire(ctx context.Context, urn identity.Urn, peer string, timeout time.Duration) (func(), error) {
	release, holder, ok := l.tryAcquire(urn, peer)
	if ok {
		return release, nil
	}
	if holder == peer {
		return nil, &ConcurrentError{Urn: urn, RemotePeer: holder}
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = 5 * time.Second
	bo.MaxElapsedTime = timeout
	boCtx := backoff.WithContext(bo, ctx)

	err := backoff.Retry(func() error {
		release, holder, ok = l.tryAcquire(urn, peer)
		if ok {
			return nil
		}
		if holder == peer {
			return backoff.Permanent(&ConcurrentError{Urn: urn, RemotePeer: holder})
		}
		return &ConcurrentError{Urn: urn, RemotePeer: holder}
	}, boCtx)
	if err != nil {
		return nil, err
	}
	return release, nil
}
