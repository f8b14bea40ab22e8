// Package pruner runs a scheduler that removes the re-rooted remote
// references of peers that are no longer tracked for a URN, keeping a
// namespace's reference set bounded to its delegates and tracked peers.
package pruner

import (
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/ekiva-dev/ember/identity"
	"github.com/ekiva-dev/ember/refdb"
	"github.com/ekiva-dev/ember/remote/plumbing"
	"github.com/ekiva-dev/ember/tracking"
)

// DefaultTickDur is how often scheduled namespaces are prune-checked.
var DefaultTickDur = 60 * time.Second

// target is one scheduled (urn, peer) pair.
type target struct {
	urn  identity.Urn
	peer string
}

// Pruner prunes the refs/remotes/<peer> reference trees of peers that
// have been untracked. A peer is only pruned if it is not (or no
// longer) tracked for the URN at prune time.
type Pruner struct {
	gmx     *sync.Mutex
	refs    *refdb.DB
	tracked *tracking.Store
	targets map[string]target
	tick    *time.Ticker
}

// NewPruner creates an instance of pruner
func NewPruner(refs *refdb.DB, tracked *tracking.Store) *Pruner {
	return &Pruner{
		gmx:     &sync.Mutex{},
		refs:    refs,
		tracked: tracked,
		targets: make(map[string]target),
		tick:    time.NewTicker(DefaultTickDur),
	}
}

// GetTargets returns the scheduled (urn, peer) pairs to prune
func (p *Pruner) GetTargets() map[string]target {
	return p.targets
}

// Schedule schedules a peer's remotes under a URN for pruning
func (p *Pruner) Schedule(urn identity.Urn, peer string) {
	p.gmx.Lock()
	p.targets[urn.MapKey()+"/"+peer] = target{urn: urn, peer: peer}
	p.gmx.Unlock()
}

// Prune prunes a peer's remotes under a URN only if the peer is not
// tracked for it. If force is set, the refs are removed regardless.
func (p *Pruner) Prune(urn identity.Urn, peer string, force bool) error {
	p.gmx.Lock()
	defer p.gmx.Unlock()
	return p.doPrune(target{urn: urn, peer: peer}, force)
}

// doPrune removes the peer's remote refs.
// Note: Not thread safe
func (p *Pruner) doPrune(t target, force bool) error {

	// Abort if the peer is still tracked for the URN
	if p.tracked.IsTracked(t.urn, t.peer) && !force {
		return fmt.Errorf("refused because peer is still tracked for the urn")
	}

	ns := p.refs.Namespaced(t.urn)
	refs, err := ns.Scan(plumbing.MakeRemotePrefix(t.peer) + "/")
	if err != nil {
		return err
	}
	for _, ref := range refs {
		if err := ns.Delete(ref.Name); err != nil {
			return errors.Wrap(err, "failed to prune")
		}
	}

	delete(p.targets, t.urn.MapKey()+"/"+t.peer)
	return nil
}

// Start starts the pruner
func (p *Pruner) Start() {
	for range p.tick.C {
		p.gmx.Lock()
		for _, t := range p.targets {
			p.doPrune(t, false)
		}
		p.gmx.Unlock()
	}
}

// Stop stops the pruner
func (p *Pruner) Stop() {
	p.tick.Stop()
}
