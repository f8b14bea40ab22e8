// Package identitycmd implements the create/get/list/update/accept
// operations shared by the project and person CLI nouns.
package identitycmd

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/pkg/errors"

	"github.com/ekiva-dev/ember/crypto"
	"github.com/ekiva-dev/ember/identity"
	"github.com/ekiva-dev/ember/refdb"
	"github.com/ekiva-dev/ember/remote/plumbing"
	"github.com/ekiva-dev/ember/tracking"
)

// Env bundles the stores every command operates on.
type Env struct {
	Objects  identity.Store
	Refs     *refdb.DB
	Tracking *tracking.Store
	Key      *crypto.Key

	// RepoPath is the on-disk location of the shared monorepo, used by
	// checkout to clone working copies.
	RepoPath string
}

// Payload is the user-supplied subject fields of a create/update.
type Payload struct {
	Name          string `json:"name"`
	Description   string `json:"description,omitempty"`
	DefaultBranch string `json:"default_branch,omitempty"`
}

// CreateArgs contains arguments for CreateCmd.
type CreateArgs struct {
	Kind identity.Kind

	// Payload is the subject JSON: {name, description?, default_branch?}.
	Payload string

	// Ext holds namespace=json extension pairs carried verbatim.
	Ext []string

	// Delegations are PeerIds or, for projects, person URNs. When empty,
	// the local key delegates to itself.
	Delegations []string

	Stdout io.Writer
}

// CreateCmd creates a new identity: its root revision, namespace and
// rad/id reference.
func CreateCmd(env *Env, args *CreateArgs) error {
	var payload Payload
	if err := json.Unmarshal([]byte(args.Payload), &payload); err != nil {
		return errors.Wrap(err, "failed to parse payload")
	}

	doc := &identity.Document{
		Version: identity.DocumentVersion,
		Subject: identity.Subject{
			Kind:          args.Kind,
			Name:          payload.Name,
			Description:   payload.Description,
			DefaultBranch: payload.DefaultBranch,
		},
		Ext: make(map[string]json.RawMessage),
	}

	for _, pair := range args.Ext {
		idx := strings.Index(pair, "=")
		if idx <= 0 {
			return fmt.Errorf("invalid --ext %q, want namespace=json", pair)
		}
		doc.Ext[pair[:idx]] = json.RawMessage(pair[idx+1:])
	}

	delegations, err := parseDelegations(args.Delegations, args.Kind)
	if err != nil {
		return err
	}
	if len(delegations) == 0 {
		self := identity.NewPeerId(env.Key.PubKey())
		delegations = []identity.DelegationEntry{{Key: &self}}
	}
	doc.Delegations = delegations

	rev, err := identity.CreateRevision(env.Objects, nil, doc, env.Key, nil)
	if err != nil {
		return err
	}

	urn := identity.NewUrn(rev.Root, "")
	ns := env.Refs.Namespaced(urn)
	if _, err := ns.Update(refdb.Direct{Name: plumbing.RadId, Target: rev.Oid, NoFF: refdb.Allow}); err != nil {
		return err
	}

	color.Green("Created %s", urn)
	if args.Stdout != nil {
		fmt.Fprintln(args.Stdout, urn.String())
	}
	return nil
}

// GetArgs contains arguments for GetCmd.
type GetArgs struct {
	Urn  string
	Peer string

	Stdout io.Writer
}

// GetCmd prints an identity's current document.
func GetCmd(env *Env, args *GetArgs) error {
	urn, err := identity.ParseUrn(args.Urn)
	if err != nil {
		return err
	}
	rev, err := loadHead(env, urn, args.Peer)
	if err != nil {
		return err
	}
	canon, err := identity.CanonicalJSON(rev.Document)
	if err != nil {
		return err
	}
	fmt.Fprintln(args.Stdout, string(canon))
	return nil
}

// ListArgs contains arguments for ListCmd.
type ListArgs struct {
	// Kind filters the listing; nil lists both kinds.
	Kind *identity.Kind

	Stdout io.Writer
}

// ListCmd prints every locally adopted identity, one URN and name per
// line.
func ListCmd(env *Env, args *ListArgs) error {
	refs, err := env.Refs.Scan("refs/namespaces/")
	if err != nil {
		return err
	}

	type row struct{ urn, name string }
	var rows []row
	for _, ref := range refs {
		rest := strings.TrimPrefix(ref.Name, "refs/namespaces/")
		parts := strings.SplitN(rest, "/", 2)
		if len(parts) != 2 || parts[1] != plumbing.RadId {
			continue
		}
		root, err := identity.OidFromMultibase(parts[0])
		if err != nil {
			continue
		}
		rev, err := identity.LoadRevision(env.Objects, root, ref.Peeled)
		if err != nil {
			continue
		}
		if args.Kind != nil && rev.Document.Subject.Kind != *args.Kind {
			continue
		}
		rows = append(rows, row{urn: identity.NewUrn(root, "").String(), name: rev.Document.Subject.Name})
	}

	sort.Slice(rows, func(i, j int) bool { return rows[i].urn < rows[j].urn })
	for _, r := range rows {
		fmt.Fprintf(args.Stdout, "%s %s\n", r.urn, r.name)
	}
	return nil
}

// UpdateArgs contains arguments for UpdateCmd.
type UpdateArgs struct {
	Urn         string
	Payload     string
	Ext         []string
	Delegations []string

	Stdout io.Writer
}

// UpdateCmd writes a new revision replacing the identity's current one.
func UpdateCmd(env *Env, args *UpdateArgs) error {
	urn, err := identity.ParseUrn(args.Urn)
	if err != nil {
		return err
	}
	base, err := loadHead(env, urn, "")
	if err != nil {
		return err
	}

	doc := &identity.Document{
		Version:     base.Document.Version,
		Subject:     base.Document.Subject,
		Ext:         base.Document.Ext,
		Delegations: base.Document.Delegations,
	}

	if args.Payload != "" {
		var payload Payload
		if err := json.Unmarshal([]byte(args.Payload), &payload); err != nil {
			return errors.Wrap(err, "failed to parse payload")
		}
		doc.Subject.Name = payload.Name
		doc.Subject.Description = payload.Description
		doc.Subject.DefaultBranch = payload.DefaultBranch
	}
	for _, pair := range args.Ext {
		idx := strings.Index(pair, "=")
		if idx <= 0 {
			return fmt.Errorf("invalid --ext %q, want namespace=json", pair)
		}
		if doc.Ext == nil {
			doc.Ext = make(map[string]json.RawMessage)
		}
		doc.Ext[pair[:idx]] = json.RawMessage(pair[idx+1:])
	}
	if len(args.Delegations) > 0 {
		delegations, err := parseDelegations(args.Delegations, doc.Subject.Kind)
		if err != nil {
			return err
		}
		doc.Delegations = delegations
	}

	rev, err := identity.CreateRevision(env.Objects, base, doc, env.Key, nil)
	if err != nil {
		return err
	}
	if rev.Oid.Equal(base.Oid) {
		fmt.Fprintln(args.Stdout, "No changes")
		return nil
	}

	ns := env.Refs.Namespaced(urn)
	if _, err := ns.Update(refdb.Direct{Name: plumbing.RadId, Target: rev.Oid, NoFF: refdb.Allow}); err != nil {
		return err
	}
	color.Green("Updated %s", urn)
	return nil
}

// AcceptArgs contains arguments for AcceptCmd.
type AcceptArgs struct {
	Urn  string
	Peer string

	Stdout io.Writer
}

// AcceptCmd merges a tracked peer's head of the identity into ours,
// adding our signature where the merge rules permit.
func AcceptCmd(env *Env, args *AcceptArgs) error {
	urn, err := identity.ParseUrn(args.Urn)
	if err != nil {
		return err
	}
	if args.Peer == "" {
		return fmt.Errorf("peer is required")
	}

	ours, err := loadHead(env, urn, "")
	if err != nil {
		return err
	}
	theirs, err := loadHead(env, urn, args.Peer)
	if err != nil {
		return err
	}

	merged, err := identity.Merge(env.Objects, ours, theirs, env.Key)
	if err != nil {
		return err
	}
	if merged.Oid.Equal(ours.Oid) {
		fmt.Fprintln(args.Stdout, "Already up to date")
		return nil
	}

	ns := env.Refs.Namespaced(urn)
	if _, err := ns.Update(refdb.Direct{Name: plumbing.RadId, Target: merged.Oid, NoFF: refdb.Allow}); err != nil {
		return err
	}
	color.Green("Accepted %s from %s", urn, args.Peer)
	return nil
}

// DiffArgs contains arguments for DiffCmd.
type DiffArgs struct {
	Urn  string
	Peer string

	Stdout io.Writer
}

// DiffCmd prints our and a peer's canonical documents when they differ.
func DiffCmd(env *Env, args *DiffArgs) error {
	urn, err := identity.ParseUrn(args.Urn)
	if err != nil {
		return err
	}
	ours, err := loadHead(env, urn, "")
	if err != nil {
		return err
	}
	theirs, err := loadHead(env, urn, args.Peer)
	if err != nil {
		return err
	}

	if ours.Tree.Equal(theirs.Tree) {
		fmt.Fprintln(args.Stdout, "No differences")
		return nil
	}
	ourJSON, err := identity.CanonicalJSON(ours.Document)
	if err != nil {
		return err
	}
	theirJSON, err := identity.CanonicalJSON(theirs.Document)
	if err != nil {
		return err
	}
	fmt.Fprintf(args.Stdout, "--- ours\n%s\n+++ %s\n%s\n", ourJSON, args.Peer, theirJSON)
	return nil
}

// TrackedArgs contains arguments for TrackedCmd.
type TrackedArgs struct {
	Urn string

	Stdout io.Writer
}

// TrackedCmd lists the peers tracked for an identity.
func TrackedCmd(env *Env, args *TrackedArgs) error {
	urn, err := identity.ParseUrn(args.Urn)
	if err != nil {
		return err
	}
	peers, err := env.Tracking.TrackedPeers(&urn)
	if err != nil {
		return err
	}
	sort.Strings(peers)
	for _, peer := range peers {
		fmt.Fprintln(args.Stdout, peer)
	}
	return nil
}

// LoadLocalHead loads the identity revision at our adopted rad/id.
func LoadLocalHead(env *Env, urn identity.Urn) (*identity.Revision, error) {
	return loadHead(env, urn, "")
}

// SoleLocalPerson returns the URN of the only local person identity,
// failing when there are none or several.
func SoleLocalPerson(env *Env) (identity.Urn, error) {
	refs, err := env.Refs.Scan("refs/namespaces/")
	if err != nil {
		return identity.Urn{}, err
	}
	var found []identity.Urn
	for _, ref := range refs {
		rest := strings.TrimPrefix(ref.Name, "refs/namespaces/")
		parts := strings.SplitN(rest, "/", 2)
		if len(parts) != 2 || parts[1] != plumbing.RadId {
			continue
		}
		root, err := identity.OidFromMultibase(parts[0])
		if err != nil {
			continue
		}
		rev, err := identity.LoadRevision(env.Objects, root, ref.Peeled)
		if err != nil || rev.Document.Subject.Kind != identity.PersonKind {
			continue
		}
		found = append(found, identity.NewUrn(root, ""))
	}
	if len(found) != 1 {
		return identity.Urn{}, fmt.Errorf("no unambiguous local person identity (found %d)", len(found))
	}
	return found[0], nil
}

// loadHead loads the identity revision at our adopted rad/id, or a
// peer's remote view of it.
func loadHead(env *Env, urn identity.Urn, peer string) (*identity.Revision, error) {
	ns := env.Refs.Namespaced(urn)
	name := plumbing.RadId
	if peer != "" {
		name = plumbing.MakeRemoteRef(peer, plumbing.RadId)
	}
	head, err := ns.Resolve(name)
	if err != nil {
		return nil, errors.Wrapf(err, "identity %s not found", urn)
	}
	return identity.LoadRevision(env.Objects, urn.Root, head)
}

func parseDelegations(raw []string, kind identity.Kind) ([]identity.DelegationEntry, error) {
	var out []identity.DelegationEntry
	for _, s := range raw {
		if strings.HasPrefix(s, "rad:git:") {
			if kind == identity.PersonKind {
				return nil, fmt.Errorf("person delegations must be public keys")
			}
			urn, err := identity.ParseUrn(s)
			if err != nil {
				return nil, errors.Wrapf(err, "invalid delegation %q", s)
			}
			out = append(out, identity.DelegationEntry{Person: &urn})
			continue
		}
		pid, err := identity.PeerIdFromString(s)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid delegation %q", s)
		}
		out = append(out, identity.DelegationEntry{Key: &pid})
	}
	return out, nil
}
