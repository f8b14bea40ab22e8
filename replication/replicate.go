package replication

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/ekiva-dev/ember/crypto"
	"github.com/ekiva-dev/ember/identity"
	"github.com/ekiva-dev/ember/pkgs/logger"
	"github.com/ekiva-dev/ember/refdb"
	"github.com/ekiva-dev/ember/remote/plumbing"
	"github.com/ekiva-dev/ember/remote/pruner"
	"github.com/ekiva-dev/ember/remote/sigrefs"
	"github.com/ekiva-dev/ember/tracking"
)

// Mode reports which path a replication pass took.
type Mode int

const (
	// Clone means the URN was previously unknown locally.
	Clone Mode = iota
	// Fetch means the URN already had a local namespace.
	Fetch
)

// IdentityStatus reports whether every delegate agrees on the adopted
// identity head.
type IdentityStatus int

const (
	// Even means all delegate heads converge on the adopted revision.
	Even IdentityStatus = iota
	// Uneven means at least one delegate has advanced past (or forked
	// from) the adopted revision.
	Uneven
)

// Config carries the per-call replication knobs.
type Config struct {
	// FetchLimit bounds the bytes a single fetch may transfer.
	FetchLimit int64
	// RetryTimeout bounds the concurrent-fetch backoff loop.
	RetryTimeout time.Duration
}

// Result is the outcome of one replication pass.
type Result struct {
	UpdatedTips    map[string]identity.Oid
	IdentityStatus IdentityStatus
	Mode           Mode
}

// Engine orchestrates replication over the object store, reference
// database and tracking store.
type Engine struct {
	localKey *crypto.Key
	objects  identity.Store
	refs     *refdb.DB
	tracked  *tracking.Store
	locks    *Locks
	pruner   *pruner.Pruner
	log      logger.Logger
}

// NewEngine creates a replication engine.
func NewEngine(localKey *crypto.Key, objects identity.Store, refs *refdb.DB, tracked *tracking.Store, log logger.Logger) *Engine {
	return &Engine{
		localKey: localKey,
		objects:  objects,
		refs:     refs,
		tracked:  tracked,
		locks:    NewLocks(),
		pruner:   pruner.NewPruner(refs, tracked),
		log:      log,
	}
}

// LocalPeer returns the engine's own peer id.
func (e *Engine) LocalPeer() identity.PeerId {
	return identity.NewPeerId(e.localKey.PubKey())
}

// Replicate runs the full clone-or-fetch pass for the fetcher's URN
// against its remote peer. localIdentity, when non-nil, is the person URN
// linked as refs/rad/self in the replicated namespace.
func (e *Engine) Replicate(ctx context.Context, fetcher Fetcher, localIdentity *identity.Urn, cfg Config) (*Result, error) {
	urn := fetcher.Urn().Identity()
	remotePeer := fetcher.RemotePeer().String()
	localPeer := e.LocalPeer().String()

	if remotePeer == localPeer {
		return nil, ErrSelfReplication
	}

	release, err := e.locks.Acquire(ctx, urn, remotePeer, cfg.RetryTimeout)
	if err != nil {
		return nil, err
	}
	defer release()

	ns := e.refs.Namespaced(urn)
	updatedTips := make(map[string]identity.Oid)

	_, modeErr := ns.Find(plumbing.RadId)
	mode := Fetch
	if modeErr != nil {
		mode = Clone
	}

	// Step 1: fetch the identity-carrier refs.
	var rev *identity.Revision
	switch mode {
	case Clone:
		res, err := fetcher.Fetch(PeekAll{Limit: cfg.FetchLimit})
		if err != nil {
			return nil, err
		}
		mergeTips(updatedTips, res.UpdatedTips)

		learned := peersFromTips(urn, updatedTips)
		learned = appendUnique(learned, remotePeer)
		res, err = fetcher.Fetch(Peek{Remotes: learned, Limit: cfg.FetchLimit})
		if err != nil {
			return nil, err
		}
		mergeTips(updatedTips, res.UpdatedTips)

		head, err := ns.Resolve(plumbing.MakeRemoteRef(remotePeer, plumbing.RadId))
		if err != nil {
			return nil, errors.Wrap(ErrMissingIdentity, urn.String())
		}
		rev, err = identity.LoadRevision(e.objects, urn.Root, head)
		if err != nil {
			return nil, err
		}

	case Fetch:
		head, err := ns.Resolve(plumbing.RadId)
		if err != nil {
			return nil, errors.Wrap(ErrMissingIdentity, urn.String())
		}
		rev, err = identity.LoadRevision(e.objects, urn.Root, head)
		if err != nil {
			return nil, err
		}

		existing, err := e.tracked.TrackedPeers(&urn)
		if err != nil {
			return nil, err
		}
		for _, del := range rev.Document.DelegationKeys() {
			existing = appendUnique(existing, del.String())
		}
		existing = appendUnique(existing, remotePeer)

		res, err := fetcher.Fetch(Peek{Remotes: existing, Limit: cfg.FetchLimit})
		if err != nil {
			return nil, err
		}
		mergeTips(updatedTips, res.UpdatedTips)

		// Prefer the remote's (possibly newer) view of the identity for
		// the setup pass.
		if remoteHead, err := ns.Resolve(plumbing.MakeRemoteRef(remotePeer, plumbing.RadId)); err == nil {
			if remoteRev, err := identity.LoadRevision(e.objects, urn.Root, remoteHead); err == nil {
				rev = remoteRev
			}
		}
	}

	// Step 2: identity setup by kind.
	var setup *setupResult
	switch rev.Document.Subject.Kind {
	case identity.PersonKind:
		setup, err = e.setupPerson(ns, urn, remotePeer, localPeer)
	case identity.ProjectKind:
		setup, err = e.setupProject(ns, urn, remotePeer, rev)
	default:
		return nil, ErrUnknownIdentityKind
	}
	if err != nil {
		return nil, err
	}

	// Step 3: signed-ref replication.
	trackedPeers, err := e.tracked.TrackedPeers(&urn)
	if err != nil {
		return nil, err
	}
	for _, p := range setup.delegatePeers {
		trackedPeers = appendUnique(trackedPeers, p)
	}

	sigs := make(map[string]sigrefs.Refs)
	for _, p := range trackedPeers {
		oid, err := ns.Resolve(plumbing.MakeRemoteRef(p, plumbing.RadSignedRefs))
		if err != nil {
			continue
		}
		signed, err := sigrefs.Load(e.objects, oid)
		if err != nil {
			e.log.Debug("Ignoring invalid signed-refs record", "peer", p, "err", err)
			continue
		}
		sigs[p] = signed.Refs
	}

	res, err := fetcher.Fetch(Replicate{
		TrackedSigrefs: sigs,
		Delegates:      setup.delegateUrns,
		Limit:          cfg.FetchLimit,
	})
	if err != nil {
		return nil, err
	}
	mergeTips(updatedTips, res.UpdatedTips)

	if err := e.updateOwnSignedRefs(ns); err != nil {
		return nil, err
	}

	// Step 4: adopt the latest verified identity head.
	status, err := e.adoptLatest(ns, urn, localPeer, setup)
	if err != nil {
		return nil, err
	}

	// Step 5: local identity linking.
	if localIdentity != nil {
		if err := e.linkSelf(ns, *localIdentity); err != nil {
			return nil, err
		}
	}

	// Step 6: prune peers neither delegated nor tracked.
	allowed := append([]string{localPeer}, trackedPeers...)
	if err := e.prune(urn, peersFromTips(urn, updatedTips), allowed); err != nil {
		return nil, err
	}

	return &Result{UpdatedTips: updatedTips, IdentityStatus: status, Mode: mode}, nil
}

// setupResult carries step 2's outputs into the later steps.
type setupResult struct {
	delegatePeers []string
	delegateUrns  []identity.Urn
	// rawHeads is each delegate's advertised rad/id tip; verifiedHeads
	// the ratified head its history verifies to.
	rawHeads      map[string]identity.Oid
	verifiedHeads map[string]identity.Oid
}

// setupPerson verifies the remote person and tracks its delegates.
func (e *Engine) setupPerson(ns *refdb.DB, urn identity.Urn, remotePeer, localPeer string) (*setupResult, error) {
	head, err := ns.Resolve(plumbing.MakeRemoteRef(remotePeer, plumbing.RadId))
	if err != nil {
		return nil, errors.Wrap(ErrMissingRequiredRef, plumbing.RadId)
	}
	verified, err := identity.VerifyHead(e.objects, urn.Root, head, nil)
	if err != nil {
		return nil, err
	}

	out := &setupResult{
		rawHeads:      make(map[string]identity.Oid),
		verifiedHeads: make(map[string]identity.Oid),
	}
	for _, del := range verified.Rev().Document.DelegationKeys() {
		peer := del.String()
		out.delegatePeers = append(out.delegatePeers, peer)
		if peer != localPeer {
			if _, err := e.tracked.Track(urn, peer, tracking.DefaultConfig(), tracking.Any); err != nil {
				return nil, err
			}
			e.adoptSelf(ns, peer)
		}
		raw, err := ns.Resolve(plumbing.MakeRemoteRef(peer, plumbing.RadId))
		if err != nil {
			continue
		}
		out.rawHeads[peer] = raw
		v, err := identity.VerifyHead(e.objects, urn.Root, raw, nil)
		if err != nil {
			e.log.Debug("Delegate head failed verification", "peer", peer, "err", err)
			continue
		}
		out.verifiedHeads[peer] = v.Rev().Oid
	}
	return out, nil
}

// setupProject resolves the project's delegate views, materializing
// top-level person namespaces for indirect delegations, and verifies
// each delegate's view of the project.
func (e *Engine) setupProject(ns *refdb.DB, urn identity.Urn, remotePeer string, rev *identity.Revision) (*setupResult, error) {
	resolver := e.personResolver(ns, remotePeer)

	views, err := identity.ResolveDelegateViews(rev.Document, resolver)
	if err != nil {
		return nil, err
	}

	out := &setupResult{
		rawHeads:      make(map[string]identity.Oid),
		verifiedHeads: make(map[string]identity.Oid),
	}
	for _, view := range views {
		if view.Entry.IsPerson() {
			personUrn := view.Entry.Person.Identity()
			out.delegateUrns = append(out.delegateUrns, personUrn)
			if err := e.materializePerson(ns, personUrn, *view.PersonHead); err != nil {
				return nil, err
			}
		}
		for _, key := range view.Keys {
			out.delegatePeers = appendUnique(out.delegatePeers, key.String())
		}
	}

	localPeer := e.LocalPeer().String()
	for _, peer := range out.delegatePeers {
		if peer != localPeer {
			if _, err := e.tracked.Track(urn, peer, tracking.DefaultConfig(), tracking.Any); err != nil {
				return nil, err
			}
		}
		raw, err := ns.Resolve(plumbing.MakeRemoteRef(peer, plumbing.RadId))
		if err != nil {
			continue
		}
		out.rawHeads[peer] = raw
		v, err := identity.VerifyHead(e.objects, urn.Root, raw, resolver)
		if err != nil {
			e.log.Debug("Delegate's project view failed verification", "peer", peer, "err", err)
			continue
		}
		out.verifiedHeads[peer] = v.Rev().Oid
	}
	return out, nil
}

// personResolver resolves indirect person delegations: the top-level
// person namespace when it exists, otherwise the remote peer's inlined
// rad/ids symref inside the project namespace.
func (e *Engine) personResolver(ns *refdb.DB, remotePeer string) identity.PersonResolver {
	return identity.CallbackResolver{
		FindLatestFunc: func(personUrn identity.Urn) (identity.Oid, error) {
			personNs := e.refs.Namespaced(personUrn.Identity())
			if oid, err := personNs.Resolve(plumbing.RadId); err == nil {
				return oid, nil
			}
			delegate := personUrn.Root.String()
			if oid, err := ns.Resolve(plumbing.MakeRemoteRef(remotePeer, plumbing.MakeRadIdsRef(delegate))); err == nil {
				return oid, nil
			}
			return identity.Oid{}, errors.Wrap(ErrMissingRequiredRef, plumbing.MakeRadIdsRef(delegate))
		},
		VerifyFunc: func(personUrn identity.Urn, head identity.Oid) (identity.Verified, error) {
			return identity.VerifyHead(e.objects, personUrn.Identity().Root, head, nil)
		},
	}
}

// materializePerson creates the person's top-level namespace (if absent),
// links the project's rad/delegates symref to it, and tracks the
// person's keys against the person URN.
func (e *Engine) materializePerson(ns *refdb.DB, personUrn identity.Urn, head identity.Verified) error {
	personNs := e.refs.Namespaced(personUrn)
	headOid := head.Rev().Oid
	if _, err := personNs.Find(plumbing.RadId); err != nil {
		if _, err := personNs.Update(refdb.Direct{Name: plumbing.RadId, Target: headOid, NoFF: refdb.Allow}); err != nil {
			return err
		}
	}

	delegateRef := plumbing.MakeRadDelegateRef(personUrn.Root.String())
	_, err := ns.Update(refdb.Symbolic{
		Name: delegateRef,
		Target: refdb.SymbolicTarget{
			Name: refdb.NamespacePrefix(personUrn) + "/" + plumbing.RadId,
			Oid:  headOid,
		},
		TypeChange: refdb.Allow,
	})
	if err != nil {
		return err
	}

	localPeer := e.LocalPeer().String()
	for _, key := range head.Rev().Document.DelegationKeys() {
		if key.String() == localPeer {
			continue
		}
		if _, err := e.tracked.Track(personUrn, key.String(), tracking.DefaultConfig(), tracking.Any); err != nil {
			return err
		}
	}
	return nil
}

// adoptSelf materializes the top-level namespace of the person a
// delegate publishes as its rad/self, when present.
func (e *Engine) adoptSelf(ns *refdb.DB, peer string) {
	target, err := ns.Find(plumbing.MakeRemoteRef(peer, plumbing.RadSelf))
	if err != nil || !target.IsSymbolic() {
		return
	}
	personRoot, ok := namespaceOf(target.Sym)
	if !ok {
		return
	}
	root, err := identity.OidFromMultibase(personRoot)
	if err != nil {
		return
	}
	personUrn := identity.NewUrn(root, "")
	oid, err := ns.Resolve(plumbing.MakeRemoteRef(peer, plumbing.RadSelf))
	if err != nil {
		return
	}
	personNs := e.refs.Namespaced(personUrn)
	if _, err := personNs.Find(plumbing.RadId); err != nil {
		if _, err := personNs.Update(refdb.Direct{Name: plumbing.RadId, Target: oid, NoFF: refdb.Allow}); err != nil {
			e.log.Debug("Failed to adopt delegate self identity", "peer", peer, "err", err)
		}
	}
}

// updateOwnSignedRefs recomputes and re-signs the local view's
// signed-refs record from the materialized references.
func (e *Engine) updateOwnSignedRefs(ns *refdb.DB) error {
	snapshot, err := sigrefs.Compute(ns)
	if err != nil {
		return err
	}
	signed, err := sigrefs.Sign(snapshot, e.localKey)
	if err != nil {
		return err
	}
	var parent identity.Oid
	if cur, err := ns.Resolve(plumbing.RadSignedRefs); err == nil {
		parent = cur
	}
	commit, err := sigrefs.Store(e.objects, signed, parent)
	if err != nil {
		return err
	}
	_, err = ns.Update(refdb.Direct{Name: plumbing.RadSignedRefs, Target: commit, NoFF: refdb.Allow})
	return err
}

// adoptLatest picks the ancestry-wise latest verified head and installs
// it at rad/id; when the local peer is itself a delegate, its own rad/id
// is kept instead. It reports Uneven when any delegate's raw head has
// moved past (or forked from) the adopted revision, or when a local
// delegate's kept head differs from the latest verified one.
func (e *Engine) adoptLatest(ns *refdb.DB, urn identity.Urn, localPeer string, setup *setupResult) (IdentityStatus, error) {
	var latest identity.Oid
	for _, head := range setup.verifiedHeads {
		if latest.IsZero() {
			latest = head
			continue
		}
		if head.Equal(latest) {
			continue
		}
		newer, err := e.objects.IsAncestor(head, latest)
		if err == nil && newer {
			latest = head
		}
	}
	if latest.IsZero() {
		// No delegate head verified; keep whatever is adopted already.
		if cur, err := ns.Resolve(plumbing.RadId); err == nil {
			latest = cur
		} else {
			return Uneven, errors.Wrap(ErrMissingIdentity, urn.String())
		}
	}

	adopted := latest
	localIsDelegate := false
	for _, p := range setup.delegatePeers {
		if p == localPeer {
			localIsDelegate = true
		}
	}
	if localIsDelegate {
		if own, err := ns.Resolve(plumbing.RadId); err == nil {
			adopted = own
		}
	}

	if cur, err := ns.Resolve(plumbing.RadId); err != nil || !cur.Equal(adopted) {
		if _, err := ns.Update(refdb.Direct{Name: plumbing.RadId, Target: adopted, NoFF: refdb.Allow}); err != nil {
			return Uneven, err
		}
	}

	status := Even
	if localIsDelegate && !adopted.Equal(latest) {
		status = Uneven
	}
	for _, raw := range setup.rawHeads {
		if raw.Equal(adopted) {
			continue
		}
		if behind, err := e.objects.IsAncestor(adopted, raw); err == nil && behind {
			// The delegate is merely behind the adopted head.
			continue
		}
		status = Uneven
	}
	return status, nil
}

// linkSelf points the namespace's rad/self at the local person's
// top-level identity.
func (e *Engine) linkSelf(ns *refdb.DB, person identity.Urn) error {
	personNs := e.refs.Namespaced(person.Identity())
	oid, err := personNs.Resolve(plumbing.RadId)
	if err != nil {
		return errors.Wrap(ErrMissingIdentity, person.String())
	}
	_, err = ns.Update(refdb.Symbolic{
		Name: plumbing.RadSelf,
		Target: refdb.SymbolicTarget{
			Name: refdb.NamespacePrefix(person.Identity()) + "/" + plumbing.RadId,
			Oid:  oid,
		},
		TypeChange: refdb.Allow,
	})
	return err
}

// prune untracks and deletes the remotes of peers that are neither
// delegates nor explicitly tracked. A failure on any peer aborts the
// pass.
func (e *Engine) prune(urn identity.Urn, fetched, allowed []string) error {
	allowedSet := make(map[string]struct{}, len(allowed))
	for _, p := range allowed {
		allowedSet[p] = struct{}{}
	}
	for _, p := range fetched {
		if _, ok := allowedSet[p]; ok {
			continue
		}
		if _, err := e.tracked.Untrack(urn, p, tracking.Any, false); err != nil {
			return errors.Wrapf(err, "replication: prune %s", p)
		}
		if err := e.pruner.Prune(urn, p, true); err != nil {
			return errors.Wrapf(err, "replication: prune %s", p)
		}
	}
	return nil
}

// peersFromTips extracts the peer components of refs/remotes/<peer>/...
// names under the URN's namespace.
func peersFromTips(urn identity.Urn, tips map[string]identity.Oid) []string {
	prefix := refdb.NamespacePrefix(urn) + "/"
	var out []string
	for name := range tips {
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		peer, _, ok := plumbing.ParseRemoteRef(strings.TrimPrefix(name, prefix))
		if !ok {
			continue
		}
		out = appendUnique(out, peer)
	}
	return out
}

// namespaceOf extracts the multibase root component of a fully qualified
// refs/namespaces/<root>/... name.
func namespaceOf(name string) (string, bool) {
	const prefix = "refs/namespaces/"
	if !strings.HasPrefix(name, prefix) {
		return "", false
	}
	rest := name[len(prefix):]
	idx := strings.Index(rest, "/")
	if idx <= 0 {
		return "", false
	}
	return rest[:idx], true
}

func appendUnique(list []string, items ...string) []string {
	for _, item := range items {
		found := false
		for _, existing := range list {
			if existing == item {
				found = true
				break
			}
		}
		if !found {
			list = append(list, item)
		}
	}
	return list
}

func mergeTips(into, from map[string]identity.Oid) {
	for name, oid := range from {
		into[name] = oid
	}
}
