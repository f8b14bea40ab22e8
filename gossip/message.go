package gossip

import "github.com/libp2p/go-libp2p-core/peer"

// Message is the wire-agnostic membership message set.
type Message interface {
	message()
}

// Join is a peer's first contact: the receiver promotes it to active and
// spreads a ForwardJoin through its own active view.
type Join struct {
	Info PeerInfo
}

// ForwardJoin propagates a Join along a bounded random walk.
type ForwardJoin struct {
	Joined PeerInfo
	TTL    int
}

// Neighbour asks to be accepted into the receiver's active view.
type Neighbour struct {
	Info        PeerInfo
	NeedFriends bool
}

// Disconnect demotes the sender from the receiver's active view.
type Disconnect struct{}

// Shuffle carries a sample of the origin's views along a bounded random
// walk; at the end of the walk the receiver replies with its own sample.
type Shuffle struct {
	Origin PeerInfo
	Peers  []PeerInfo
	TTL    int
}

// ShuffleReply returns the receiver's sample to a Shuffle's origin.
type ShuffleReply struct {
	Peers []PeerInfo
}

func (Join) message()         {}
func (ForwardJoin) message()  {}
func (Neighbour) message()    {}
func (Disconnect) message()   {}
func (Shuffle) message()      {}
func (ShuffleReply) message() {}

// Tick is one step of the plan a mutation returns. Callers must
// interpret every tick before feeding the membership further input.
type Tick interface {
	tick()
}

// All broadcasts a message to the listed active peers.
type All struct {
	Recipients []peer.ID
	Message    Message
}

// Reply sends a message directly to a peer, establishing a fresh
// connection if needed.
type Reply struct {
	To      PeerInfo
	Message Message
}

// Try sends a best-effort ad-hoc message; failures are ignored.
type Try struct {
	Recipient PeerInfo
	Message   Message
}

// Connect asks the transport to establish a connection.
type Connect struct {
	To PeerInfo
}

// Demote closes the active stream to a peer.
type Demote struct {
	Peer peer.ID
}

// Forget drops a peer from the passive view.
type Forget struct {
	Peer peer.ID
}

// Ticks groups several ticks into one.
type Ticks struct {
	Ticks []Tick
}

func (All) tick()     {}
func (Reply) tick()   {}
func (Try) tick()     {}
func (Connect) tick() {}
func (Demote) tick()  {}
func (Forget) tick()  {}
func (Ticks) tick()   {}
