// Package waitingroom implements the request state machine tracking
// in-flight search-and-fetch operations per URN, with query/clone caps,
// backoff and timeouts. The waiting room is not internally synchronized;
// the run-loop owns it exclusively.
package waitingroom

import (
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/ekiva-dev/ember/identity"
)

// State labels of a request.
type State int

const (
	Created State = iota
	Requested
	Found
	Cloning
	Cloned
	Cancelled
	TimedOut
)

// String renders the state label.
func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case Requested:
		return "requested"
	case Found:
		return "found"
	case Cloning:
		return "cloning"
	case Cloned:
		return "cloned"
	case Cancelled:
		return "cancelled"
	case TimedOut:
		return "timed out"
	}
	return "unknown"
}

// IsTerminal reports whether no further transition (other than removal)
// is allowed from the state.
func (s State) IsTerminal() bool {
	return s == Cloned || s == Cancelled || s == TimedOut
}

// PeerStatus records what a request knows about one peer that claims to
// have the URN.
type PeerStatus struct {
	Kind   PeerStatusKind
	Reason string // Failed only
}

// PeerStatusKind is the tri-state of a recorded peer.
type PeerStatusKind int

const (
	// Available means the peer advertised the URN and has not been tried.
	Available PeerStatusKind = iota
	// InProgress means a clone from the peer is underway.
	InProgress
	// Failed means a clone from the peer failed.
	Failed
)

// Attempts counts how many times a request has been queried and cloned.
type Attempts struct {
	Queries int
	Clones  int
}

// Request is the record held per URN.
type Request struct {
	Urn       identity.Urn
	State     State
	Timestamp time.Time
	Attempts  Attempts
	Peers     map[string]PeerStatus
}

// availablePeer returns the first Available peer, if any.
func (r *Request) availablePeer() (string, bool) {
	for peer, status := range r.Peers {
		if status.Kind == Available {
			return peer, true
		}
	}
	return "", false
}

// Config holds the waiting room's caps and backoff delta.
type Config struct {
	MaxQueries int
	MaxClones  int
	Delta      time.Duration
}

// Errors.
var ErrMissingUrn = fmt.Errorf("waitingroom: no request for urn")

// StateMismatchError reports a transition applied to a request in the
// wrong state.
type StateMismatchError struct {
	Current State
}

func (e *StateMismatchError) Error() string {
	return fmt.Sprintf("waitingroom: state mismatch, request is %s", e.Current)
}

// EventKind distinguishes Tick's outputs.
type EventKind int

const (
	// EventQuery asks the run-loop to broadcast another search.
	EventQuery EventKind = iota
	// EventClone asks the run-loop to start a clone from a found peer.
	EventClone
)

// Event is one actionable output of Tick.
type Event struct {
	Kind EventKind
	Urn  identity.Urn
	Peer string // EventClone only
}

// WaitingRoom is the mapping urn -> request.
type WaitingRoom struct {
	config   Config
	requests map[string]*Request
}

// New creates a waiting room.
func New(config Config) *WaitingRoom {
	return &WaitingRoom{config: config, requests: make(map[string]*Request)}
}

// Request creates a record for the URN if absent. It reports whether the
// record was newly created.
func (w *WaitingRoom) Request(urn identity.Urn, t time.Time) (created bool) {
	if _, ok := w.requests[urn.MapKey()]; ok {
		return false
	}
	w.requests[urn.MapKey()] = &Request{
		Urn:       urn.Identity(),
		State:     Created,
		Timestamp: t,
		Peers:     make(map[string]PeerStatus),
	}
	return true
}

// Get returns the request for the URN.
func (w *WaitingRoom) Get(urn identity.Urn) (*Request, error) {
	req, ok := w.requests[urn.MapKey()]
	if !ok {
		return nil, errors.Wrap(ErrMissingUrn, urn.String())
	}
	return req, nil
}

// List returns every request.
func (w *WaitingRoom) List() []*Request {
	out := make([]*Request, 0, len(w.requests))
	for _, req := range w.requests {
		out = append(out, req)
	}
	return out
}

// Queried records one search broadcast. Exceeding the query cap moves the
// request to TimedOut.
func (w *WaitingRoom) Queried(urn identity.Urn, t time.Time) (State, error) {
	req, err := w.Get(urn)
	if err != nil {
		return 0, err
	}
	switch req.State {
	case Created, Requested:
		req.State = Requested
		req.Timestamp = t
		req.Attempts.Queries++
		if req.Attempts.Queries > w.config.MaxQueries {
			req.State = TimedOut
		}
		return req.State, nil
	default:
		return req.State, &StateMismatchError{Current: req.State}
	}
}

// Found records a peer advertising the URN. In Requested, the request
// moves to Found; in Found or Cloning, the peer is merely added.
func (w *WaitingRoom) Found(urn identity.Urn, peer string, t time.Time) (State, error) {
	req, err := w.Get(urn)
	if err != nil {
		return 0, err
	}
	switch req.State {
	case Requested:
		req.State = Found
		req.Timestamp = t
		req.Peers[peer] = PeerStatus{Kind: Available}
		return req.State, nil
	case Found, Cloning:
		if _, known := req.Peers[peer]; !known {
			req.Peers[peer] = PeerStatus{Kind: Available}
		}
		return req.State, nil
	default:
		return req.State, &StateMismatchError{Current: req.State}
	}
}

// Cloning records the start of a clone from a peer. Exceeding the clone
// cap moves the request to TimedOut.
func (w *WaitingRoom) Cloning(urn identity.Urn, peer string, t time.Time) (State, error) {
	req, err := w.Get(urn)
	if err != nil {
		return 0, err
	}
	if req.State != Found {
		return req.State, &StateMismatchError{Current: req.State}
	}
	req.Attempts.Clones++
	if req.Attempts.Clones > w.config.MaxClones {
		req.State = TimedOut
		return req.State, nil
	}
	req.State = Cloning
	req.Timestamp = t
	req.Peers[peer] = PeerStatus{Kind: InProgress}
	return req.State, nil
}

// Cloned completes a clone.
func (w *WaitingRoom) Cloned(urn identity.Urn, peer string, t time.Time) (State, error) {
	req, err := w.Get(urn)
	if err != nil {
		return 0, err
	}
	if req.State != Cloning {
		return req.State, &StateMismatchError{Current: req.State}
	}
	req.State = Cloned
	req.Timestamp = t
	return req.State, nil
}

// CloningFailed returns a request to Found with the peer marked failed.
func (w *WaitingRoom) CloningFailed(urn identity.Urn, peer string, t time.Time, reason string) (State, error) {
	req, err := w.Get(urn)
	if err != nil {
		return 0, err
	}
	if req.State != Cloning {
		return req.State, &StateMismatchError{Current: req.State}
	}
	req.State = Found
	req.Timestamp = t
	req.Peers[peer] = PeerStatus{Kind: Failed, Reason: reason}
	return req.State, nil
}

// Canceled cancels a non-terminal request.
func (w *WaitingRoom) Canceled(urn identity.Urn, t time.Time) (State, error) {
	req, err := w.Get(urn)
	if err != nil {
		return 0, err
	}
	if req.State.IsTerminal() {
		return req.State, &StateMismatchError{Current: req.State}
	}
	req.State = Cancelled
	req.Timestamp = t
	return req.State, nil
}

// Remove drops a request from the map. The run-loop calls this for
// terminal states.
func (w *WaitingRoom) Remove(urn identity.Urn) {
	delete(w.requests, urn.MapKey())
}

// backoff is delta scaled by the number of queries already made.
func (w *WaitingRoom) backoff(queries int) time.Duration {
	if queries <= 0 {
		return w.config.Delta
	}
	return w.config.Delta * time.Duration(queries)
}

// NextQuery reports when the request next becomes eligible for a query.
func (w *WaitingRoom) NextQuery(req *Request) time.Time {
	return req.Timestamp.Add(w.backoff(req.Attempts.Queries))
}

// Tick returns the actionable requests at now: Created requests and
// Requested ones whose backoff has expired (query again), then Found
// requests with at least one Available peer (start a clone).
func (w *WaitingRoom) Tick(now time.Time) []Event {
	var queries, clones []Event
	for _, req := range w.requests {
		switch req.State {
		case Created:
			queries = append(queries, Event{Kind: EventQuery, Urn: req.Urn})
		case Requested:
			if !w.NextQuery(req).After(now) {
				queries = append(queries, Event{Kind: EventQuery, Urn: req.Urn})
			}
		case Found:
			if peer, ok := req.availablePeer(); ok {
				clones = append(clones, Event{Kind: EventClone, Urn: req.Urn, Peer: peer})
			}
		}
	}
	return append(queries, clones...)
}
