// Package runloop converts external inputs (gossip events, timer ticks,
// control commands) into replication and gossip commands plus node
// status changes. The loop owns the waiting room exclusively: all of its
// state transitions happen on this single thread.
package runloop

import (
	"time"

	"github.com/ekiva-dev/ember/identity"
	"github.com/ekiva-dev/ember/pkgs/logger"
	"github.com/ekiva-dev/ember/pkgs/queue"
	"github.com/ekiva-dev/ember/waitingroom"
)

// StatusKind is the node's lifecycle state.
type StatusKind int

const (
	Stopped StatusKind = iota
	Started
	Offline
	Online
)

// String renders the status kind.
func (s StatusKind) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Started:
		return "started"
	case Offline:
		return "offline"
	case Online:
		return "online"
	}
	return "unknown"
}

// Status is the node's current state, including connectivity details
// while Online.
type Status struct {
	Kind           StatusKind
	Connected      int
	ConnectedPeers []string
}

// PutResult reports whether a gossip Put was applied by the receiver.
type PutResult int

const (
	PutApplied PutResult = iota
	PutSeen
	PutUninteresting
)

// Input is the closed sum of everything the loop reacts to.
type Input interface {
	input()
}

// AnnounceTick fires on the announce timer.
type AnnounceTick struct{}

// RequestTick fires on the waiting-room timer.
type RequestTick struct {
	Now time.Time
}

// StatsTick carries the latest gossip membership stats.
type StatsTick struct {
	ConnectedPeers   []string
	MembershipActive int
}

// EndpointUp fires when the transport endpoint binds.
type EndpointUp struct {
	ListenAddrs []string
}

// EndpointDown fires when the transport endpoint closes.
type EndpointDown struct{}

// GossipPut is a gossip Have/Put observed from a provider.
type GossipPut struct {
	Provider string
	Urn      identity.Urn
	Result   PutResult
	Now      time.Time
}

// ControlRequest asks the loop to search for (and eventually clone) a URN.
type ControlRequest struct {
	Urn identity.Urn
	Now time.Time
}

// ControlCancel cancels an outstanding request.
type ControlCancel struct {
	Urn identity.Urn
	Now time.Time
}

// SyncResult reports the outcome of a clone the loop previously
// commanded.
type SyncResult struct {
	Urn     identity.Urn
	Peer    string
	Success bool
	Reason  string
	Now     time.Time
}

// RefsUpdated queues a URN whose local refs moved, to be announced on
// the next announce tick.
type RefsUpdated struct {
	Urn identity.Urn
}

func (AnnounceTick) input()   {}
func (RequestTick) input()    {}
func (StatsTick) input()      {}
func (EndpointUp) input()     {}
func (EndpointDown) input()   {}
func (GossipPut) input()      {}
func (ControlRequest) input() {}
func (ControlCancel) input()  {}
func (SyncResult) input()     {}
func (RefsUpdated) input()    {}

// Command is the closed sum of what the loop asks its interpreter to do.
type Command interface {
	command()
}

// CmdAnnounce broadcasts the local node's updated refs. Urns carries
// the identities queued since the last announcement, oldest first.
type CmdAnnounce struct {
	Urns []identity.Urn
}

// announceItem adapts a URN to the unique queue's item interface.
type announceItem struct {
	urn identity.Urn
}

func (a announceItem) GetID() interface{} { return a.urn.MapKey() }

// CmdInclude adds a URN to the locally served set.
type CmdInclude struct {
	Urn identity.Urn
}

// CmdQuery broadcasts a search for a URN.
type CmdQuery struct {
	Urn identity.Urn
}

// CmdClone starts a replication pass for a URN from a peer.
type CmdClone struct {
	Urn  identity.Urn
	Peer string
}

// CmdRequestTimedOut surfaces a waiting-room timeout to the user.
type CmdRequestTimedOut struct {
	Urn      identity.Urn
	Attempts waitingroom.Attempts
}

func (CmdAnnounce) command()        {}
func (CmdInclude) command()         {}
func (CmdQuery) command()           {}
func (CmdClone) command()           {}
func (CmdRequestTimedOut) command() {}

// RunLoop is the single-threaded input interpreter.
type RunLoop struct {
	status           Status
	waitingRoom      *waitingroom.WaitingRoom
	announceQueue    *queue.UniqueQueue
	listenAddrs      []string
	membershipActive int
	log              logger.Logger
}

// New creates a run-loop around a waiting room.
func New(wr *waitingroom.WaitingRoom, log logger.Logger) *RunLoop {
	return &RunLoop{
		status:        Status{Kind: Stopped},
		waitingRoom:   wr,
		announceQueue: queue.NewUnique(),
		log:           log,
	}
}

// Status returns the loop's current status.
func (rl *RunLoop) Status() Status {
	return rl.status
}

// WaitingRoom exposes the loop-owned waiting room, for inspection only.
func (rl *RunLoop) WaitingRoom() *waitingroom.WaitingRoom {
	return rl.waitingRoom
}

// Step consumes one input and returns the commands it produces.
func (rl *RunLoop) Step(in Input) []Command {
	switch in := in.(type) {
	case EndpointUp:
		if rl.status.Kind == Stopped {
			rl.status = Status{Kind: Started}
		}
		rl.listenAddrs = in.ListenAddrs
		return nil

	case EndpointDown:
		rl.status = Status{Kind: Stopped}
		rl.listenAddrs = nil
		return nil

	case StatsTick:
		return rl.onStats(in)

	case AnnounceTick:
		if rl.status.Kind == Online && len(rl.status.ConnectedPeers) > 0 && rl.membershipActive > 0 {
			var urns []identity.Urn
			for !rl.announceQueue.Empty() {
				item := rl.announceQueue.Head()
				if item == nil {
					break
				}
				urns = append(urns, item.(announceItem).urn)
			}
			return []Command{CmdAnnounce{Urns: urns}}
		}
		return nil

	case RefsUpdated:
		rl.announceQueue.Append(announceItem{urn: in.Urn.Identity()})
		return nil

	case GossipPut:
		return rl.onGossipPut(in)

	case ControlRequest:
		rl.waitingRoom.Request(in.Urn, in.Now)
		return nil

	case ControlCancel:
		if _, err := rl.waitingRoom.Canceled(in.Urn, in.Now); err != nil {
			rl.log.Debug("Cannot cancel request", "urn", in.Urn.String(), "err", err)
			return nil
		}
		rl.waitingRoom.Remove(in.Urn)
		return nil

	case RequestTick:
		return rl.onRequestTick(in.Now)

	case SyncResult:
		return rl.onSyncResult(in)
	}
	return nil
}

func (rl *RunLoop) onStats(in StatsTick) []Command {
	rl.membershipActive = in.MembershipActive
	switch {
	case len(in.ConnectedPeers) == 0 && rl.status.Kind == Online:
		rl.status = Status{Kind: Offline}
	case len(in.ConnectedPeers) > 0 && (rl.status.Kind == Started || rl.status.Kind == Offline):
		rl.status = Status{
			Kind:           Online,
			Connected:      len(in.ConnectedPeers),
			ConnectedPeers: in.ConnectedPeers,
		}
	case rl.status.Kind == Online:
		rl.status.Connected = len(in.ConnectedPeers)
		rl.status.ConnectedPeers = in.ConnectedPeers
	}
	return nil
}

func (rl *RunLoop) onGossipPut(in GossipPut) []Command {
	if _, err := rl.waitingRoom.Found(in.Urn, in.Provider, in.Now); err != nil {
		rl.log.Debug("Gossip put for unrequested urn", "urn", in.Urn.String(), "err", err)
	}
	if in.Result == PutApplied {
		return []Command{CmdInclude{Urn: in.Urn}}
	}
	return nil
}

func (rl *RunLoop) onRequestTick(now time.Time) []Command {
	if rl.status.Kind != Online {
		return nil
	}

	var commands []Command
	for _, event := range rl.waitingRoom.Tick(now) {
		switch event.Kind {
		case waitingroom.EventQuery:
			state, err := rl.waitingRoom.Queried(event.Urn, now)
			if err != nil {
				continue
			}
			if state == waitingroom.TimedOut {
				commands = append(commands, rl.timedOut(event.Urn)...)
				continue
			}
			commands = append(commands, CmdQuery{Urn: event.Urn})
		case waitingroom.EventClone:
			state, err := rl.waitingRoom.Cloning(event.Urn, event.Peer, now)
			if err != nil {
				continue
			}
			if state == waitingroom.TimedOut {
				commands = append(commands, rl.timedOut(event.Urn)...)
				continue
			}
			commands = append(commands, CmdClone{Urn: event.Urn, Peer: event.Peer})
		}
	}
	return commands
}

func (rl *RunLoop) onSyncResult(in SyncResult) []Command {
	if in.Success {
		if _, err := rl.waitingRoom.Cloned(in.Urn, in.Peer, in.Now); err != nil {
			rl.log.Debug("Clone finished for unknown request", "urn", in.Urn.String(), "err", err)
			return nil
		}
		rl.waitingRoom.Remove(in.Urn)
		return nil
	}

	state, err := rl.waitingRoom.CloningFailed(in.Urn, in.Peer, in.Now, in.Reason)
	if err != nil {
		rl.log.Debug("Clone failure for unknown request", "urn", in.Urn.String(), "err", err)
		return nil
	}
	if state == waitingroom.TimedOut {
		return rl.timedOut(in.Urn)
	}
	return nil
}

func (rl *RunLoop) timedOut(urn identity.Urn) []Command {
	req, err := rl.waitingRoom.Get(urn)
	if err != nil {
		return nil
	}
	attempts := req.Attempts
	rl.waitingRoom.Remove(urn)
	return []Command{CmdRequestTimedOut{Urn: urn, Attempts: attempts}}
}
