// Package gossip implements the HyParView-style membership plane: two
// bounded partial views of the peer set (active and passive) maintained
// by a small message protocol, plus the periodic shuffle and promotion
// tasks that keep the overlay connected.
package gossip

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p-core/peer"
	"github.com/multiformats/go-multiaddr"

	"github.com/ekiva-dev/ember/pkgs/cache"
	"github.com/ekiva-dev/ember/pkgs/logger"
)

// ErrJoinWhileConnected indicates a Join from a peer already in the
// active view.
var ErrJoinWhileConnected = fmt.Errorf("gossip: join from peer already in active view")

// PeerInfo is a peer's advertised identity and dialable addresses.
type PeerInfo struct {
	ID    peer.ID
	Addrs []multiaddr.Multiaddr
}

// Params are the membership tuning knobs.
type Params struct {
	MaxActive         int
	MaxPassive        int
	ARWL              int // active random walk length (ForwardJoin ttl)
	PRWL              int // passive random walk length (Shuffle ttl)
	ShuffleSampleSize int
	ShuffleInterval   time.Duration
	PromoteInterval   time.Duration
}

// DefaultParams mirror the HyParView paper's small-cluster settings.
func DefaultParams() Params {
	return Params{
		MaxActive:         5,
		MaxPassive:        30,
		ARWL:              6,
		PRWL:              3,
		ShuffleSampleSize: 7,
		ShuffleInterval:   time.Minute,
		PromoteInterval:   10 * time.Second,
	}
}

// Membership is a peer's partial view of the network. All mutations
// return ticks the caller must interpret before accepting further input.
type Membership struct {
	mu      sync.RWMutex
	local   PeerInfo
	params  Params
	active  map[peer.ID]PeerInfo
	passive map[peer.ID]PeerInfo
	rng     *rand.Rand
	log     logger.Logger

	// recently tracks peers shuffled with lately; the periodic task
	// prefers recipients outside this set so consecutive shuffles do
	// not land on the same peer.
	recently *cache.Cache
}

// New creates a membership instance for the given local peer.
func New(local PeerInfo, params Params, log logger.Logger) *Membership {
	return NewWithRand(local, params, log, rand.New(rand.NewSource(time.Now().UnixNano())))
}

// NewWithRand is New with an injected random source, for tests.
func NewWithRand(local PeerInfo, params Params, log logger.Logger, rng *rand.Rand) *Membership {
	return &Membership{
		local:    local,
		params:   params,
		active:   make(map[peer.ID]PeerInfo),
		passive:  make(map[peer.ID]PeerInfo),
		rng:      rng,
		log:      log,
		recently: cache.NewCacheWithExpiringEntry(64),
	}
}

// Active returns a snapshot of the active view.
func (m *Membership) Active() []PeerInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]PeerInfo, 0, len(m.active))
	for _, info := range m.active {
		out = append(out, info)
	}
	return out
}

// Passive returns a snapshot of the passive view.
func (m *Membership) Passive() []PeerInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]PeerInfo, 0, len(m.passive))
	for _, info := range m.passive {
		out = append(out, info)
	}
	return out
}

// IsActive reports whether the peer is in the active view.
func (m *Membership) IsActive(id peer.ID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.active[id]
	return ok
}

// NumActive returns the size of the active view.
func (m *Membership) NumActive() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.active)
}

// Apply processes a message from a peer, mutating the views and
// returning the resulting plan.
func (m *Membership) Apply(from PeerInfo, msg Message) ([]Tick, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch msg := msg.(type) {
	case Join:
		return m.applyJoin(from)
	case ForwardJoin:
		return m.applyForwardJoin(from, msg), nil
	case Neighbour:
		return m.applyNeighbour(from, msg), nil
	case Disconnect:
		return m.demoteLocked(from.ID), nil
	case Shuffle:
		return m.applyShuffle(from, msg), nil
	case ShuffleReply:
		return m.insertPassive(msg.Peers...), nil
	default:
		return nil, fmt.Errorf("gossip: unknown message %T", msg)
	}
}

func (m *Membership) applyJoin(from PeerInfo) ([]Tick, error) {
	if _, connected := m.active[from.ID]; connected {
		return nil, ErrJoinWhileConnected
	}

	ticks := m.promoteLocked(from)
	fwd := ForwardJoin{Joined: from, TTL: m.params.ARWL}
	var recipients []peer.ID
	for id := range m.active {
		if id != from.ID {
			recipients = append(recipients, id)
		}
	}
	if len(recipients) > 0 {
		ticks = append(ticks, All{Recipients: recipients, Message: fwd})
	}
	return ticks, nil
}

func (m *Membership) applyForwardJoin(from PeerInfo, msg ForwardJoin) []Tick {
	if msg.Joined.ID == m.local.ID {
		return nil
	}

	var ticks []Tick
	if msg.TTL == 0 || len(m.active) < m.params.MaxActive {
		ticks = append(ticks, Connect{To: msg.Joined})
	} else if next, ok := m.randomActiveExcept(from.ID, msg.Joined.ID); ok {
		ticks = append(ticks, All{Recipients: []peer.ID{next.ID}, Message: ForwardJoin{Joined: msg.Joined, TTL: msg.TTL - 1}})
	}
	if msg.TTL == 0 {
		ticks = append(ticks, m.insertPassive(msg.Joined)...)
	}
	return ticks
}

func (m *Membership) applyNeighbour(from PeerInfo, msg Neighbour) []Tick {
	if msg.NeedFriends || len(m.active) < m.params.MaxActive {
		return m.promoteLocked(from)
	}
	return []Tick{Reply{To: from, Message: Disconnect{}}}
}

func (m *Membership) applyShuffle(from PeerInfo, msg Shuffle) []Tick {
	if msg.TTL == 0 && msg.Origin.ID != m.local.ID {
		sample := m.samplePassive(len(msg.Peers), msg.Origin.ID)
		ticks := []Tick{Try{Recipient: msg.Origin, Message: ShuffleReply{Peers: sample}}}
		return append(ticks, m.insertPassive(msg.Peers...)...)
	}
	if next, ok := m.randomActiveExcept(from.ID, msg.Origin.ID); ok {
		return []Tick{All{Recipients: []peer.ID{next.ID}, Message: Shuffle{Origin: msg.Origin, Peers: msg.Peers, TTL: msg.TTL - 1}}}
	}
	return m.insertPassive(msg.Peers...)
}

// ConnectionEstablished records a newly connected peer in the active
// view, ejecting a random member when the view is full.
func (m *Membership) ConnectionEstablished(info PeerInfo) []Tick {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.promoteLocked(info)
}

// ConnectionLost demotes a disconnected peer into the passive view.
func (m *Membership) ConnectionLost(id peer.ID) []Tick {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.demoteLocked(id)
}

// ShuffleTick runs the periodic shuffle: a random active recipient gets a
// sample drawn from both views. Recipients shuffled with recently are
// avoided while any other active remains.
func (m *Membership) ShuffleTick() []Tick {
	m.mu.Lock()
	defer m.mu.Unlock()

	recipient, ok := m.shuffleRecipient()
	if !ok {
		return nil
	}

	sample := m.sampleViews(m.params.ShuffleSampleSize, recipient.ID)
	if len(sample) == 0 {
		return nil
	}
	m.recently.Add(recipient.ID, struct{}{}, cache.Sec(int(m.params.ShuffleInterval.Seconds())*2))
	return []Tick{All{
		Recipients: []peer.ID{recipient.ID},
		Message:    Shuffle{Origin: m.local, Peers: sample, TTL: m.params.PRWL},
	}}
}

// shuffleRecipient picks a random active not shuffled with recently,
// falling back to any active when all of them are recent.
func (m *Membership) shuffleRecipient() (PeerInfo, bool) {
	fresh := make([]PeerInfo, 0, len(m.active))
	for id, info := range m.active {
		if m.recently.Has(id) {
			continue
		}
		fresh = append(fresh, info)
	}
	if len(fresh) > 0 {
		return fresh[m.rng.Intn(len(fresh))], true
	}
	return m.randomActiveExcept("", "")
}

// PromoteTick runs the periodic promotion: when the active view has
// room, random passive peers are asked to connect.
func (m *Membership) PromoteTick() []Tick {
	m.mu.Lock()
	defer m.mu.Unlock()

	room := m.params.MaxActive - len(m.active)
	if room <= 0 {
		return nil
	}
	var ticks []Tick
	for _, info := range m.passiveSampleLocked(room, "") {
		ticks = append(ticks, Connect{To: info})
	}
	return ticks
}

// promoteLocked inserts a peer into the active view, ejecting a random
// member when full. The local peer never enters the view.
func (m *Membership) promoteLocked(info PeerInfo) []Tick {
	if info.ID == m.local.ID {
		return nil
	}

	var ticks []Tick
	if _, ok := m.active[info.ID]; ok {
		m.active[info.ID] = info
		return nil
	}

	delete(m.passive, info.ID)
	if len(m.active) >= m.params.MaxActive {
		if victim, ok := m.randomActiveExcept(info.ID, ""); ok {
			delete(m.active, victim.ID)
			m.passive[victim.ID] = victim
			ticks = append(ticks, Demote{Peer: victim.ID})
			ticks = append(ticks, m.trimPassive()...)
		}
	}
	m.active[info.ID] = info
	return ticks
}

// demoteLocked moves an active peer to the passive view.
func (m *Membership) demoteLocked(id peer.ID) []Tick {
	info, ok := m.active[id]
	if !ok {
		return nil
	}
	delete(m.active, id)
	ticks := []Tick{Demote{Peer: id}}
	m.passive[id] = info
	return append(ticks, m.trimPassive()...)
}

// insertPassive adds peers to the passive view, ejecting random entries
// when full. Peers already active, and the local peer, are skipped.
func (m *Membership) insertPassive(peers ...PeerInfo) []Tick {
	var ticks []Tick
	for _, info := range peers {
		if info.ID == m.local.ID {
			continue
		}
		if _, ok := m.active[info.ID]; ok {
			continue
		}
		m.passive[info.ID] = info
		ticks = append(ticks, m.trimPassive()...)
	}
	return ticks
}

func (m *Membership) trimPassive() []Tick {
	var ticks []Tick
	for len(m.passive) > m.params.MaxPassive {
		victims := make([]peer.ID, 0, len(m.passive))
		for id := range m.passive {
			victims = append(victims, id)
		}
		victim := victims[m.rng.Intn(len(victims))]
		delete(m.passive, victim)
		ticks = append(ticks, Forget{Peer: victim})
	}
	return ticks
}

func (m *Membership) randomActiveExcept(a, b peer.ID) (PeerInfo, bool) {
	candidates := make([]PeerInfo, 0, len(m.active))
	for id, info := range m.active {
		if id == a || id == b {
			continue
		}
		candidates = append(candidates, info)
	}
	if len(candidates) == 0 {
		return PeerInfo{}, false
	}
	return candidates[m.rng.Intn(len(candidates))], true
}

func (m *Membership) samplePassive(n int, except peer.ID) []PeerInfo {
	return m.passiveSampleLocked(n, except)
}

func (m *Membership) passiveSampleLocked(n int, except peer.ID) []PeerInfo {
	candidates := make([]PeerInfo, 0, len(m.passive))
	for id, info := range m.passive {
		if id == except {
			continue
		}
		candidates = append(candidates, info)
	}
	m.rng.Shuffle(len(candidates), func(i, j int) {
		candidates[i], candidates[j] = candidates[j], candidates[i]
	})
	if n < len(candidates) {
		candidates = candidates[:n]
	}
	return candidates
}

// sampleViews draws from active and passive together, excluding the
// recipient.
func (m *Membership) sampleViews(n int, except peer.ID) []PeerInfo {
	candidates := make([]PeerInfo, 0, len(m.active)+len(m.passive))
	for id, info := range m.active {
		if id == except {
			continue
		}
		candidates = append(candidates, info)
	}
	for id, info := range m.passive {
		if id == except {
			continue
		}
		candidates = append(candidates, info)
	}
	m.rng.Shuffle(len(candidates), func(i, j int) {
		candidates[i], candidates[j] = candidates[j], candidates[i]
	})
	if n < len(candidates) {
		candidates = candidates[:n]
	}
	return candidates
}
