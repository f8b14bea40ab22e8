// Package replication implements the three-phase replication protocol:
// given a peer and an identity URN, fetch the remote's view of the
// identity, verify it, resolve delegates, fetch signed-ref sets, and
// install or advance local references while pruning obsolete remotes.
package replication

import (
	"fmt"

	"github.com/ekiva-dev/ember/identity"
	"github.com/ekiva-dev/ember/remote/sigrefs"
)

// Fetchspecs selects which refspec set a fetch phase executes.
type Fetchspecs interface {
	fetchspecs()
}

// PeekAll covers all identity-carrier refs under the namespace with a
// remote glob (clone phase A).
type PeekAll struct {
	Limit int64
}

// Peek covers the identity-carrier refs of a known set of remotes
// (clone phase B, fetch phase A').
type Peek struct {
	Remotes []string // peer ids
	Limit   int64
}

// Replicate covers the signed refs of the tracked peers plus the rad
// refs of the delegates (phase C).
type Replicate struct {
	TrackedSigrefs map[string]sigrefs.Refs
	Delegates      []identity.Urn
	Limit          int64
}

func (PeekAll) fetchspecs()   {}
func (Peek) fetchspecs()      {}
func (Replicate) fetchspecs() {}

// FetchResult reports the references a fetch updated, keyed by their
// fully qualified local name.
type FetchResult struct {
	UpdatedTips map[string]identity.Oid
}

// Fetcher is the injected transport-level git wire client executing
// refspec sets against one remote for one URN.
type Fetcher interface {
	Urn() identity.Urn
	RemotePeer() identity.PeerId
	// RemoteHeads is the remote's advertised refs, keyed by the name as
	// seen on the remote.
	RemoteHeads() map[string]identity.Oid
	Fetch(specs Fetchspecs) (*FetchResult, error)
}

// ConcurrentError is the busy signal observed when another task holds
// the fetch slot for the same URN.
type ConcurrentError struct {
	Urn        identity.Urn
	RemotePeer string
}

func (e *ConcurrentError) Error() string {
	return fmt.Sprintf("replication: concurrent fetch of %s via %s", e.Urn, e.RemotePeer)
}

// FetchLimitError reports a transfer aborted for exceeding its byte
// budget.
type FetchLimitError struct {
	Limit   int64
	Fetched int64
	Remote  string
}

func (e *FetchLimitError) Error() string {
	return fmt.Sprintf("replication: fetch limit %d exceeded (%d fetched) from %s", e.Limit, e.Fetched, e.Remote)
}

// Replication error sentinels.
var (
	ErrSelfReplication     = fmt.Errorf("replication: cannot replicate from self")
	ErrMissingIdentity     = fmt.Errorf("replication: identity document not found")
	ErrMissingRequiredRef  = fmt.Errorf("replication: required reference not found")
	ErrForkDetected        = fmt.Errorf("replication: delegate histories have forked")
	ErrUnknownIdentityKind = fmt.Errorf("replication: unknown identity kind")
)
