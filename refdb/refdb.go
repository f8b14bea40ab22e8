// Package refdb implements the engine's reference database: hierarchical
// names mapping to OIDs or to other references, with serialized
// multi-edit transactions, reflogs and a namespace prefix, on top of a go-git
// reference storer.
package refdb

import (
	"fmt"
	"strings"
	"sync"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/storage"
	"github.com/pkg/errors"

	"github.com/ekiva-dev/ember/identity"
)

// Storage error sentinels.
var (
	ErrRefNotFound          = fmt.Errorf("refdb: reference not found")
	ErrNonFastForward       = fmt.Errorf("refdb: non-fast-forward rejected")
	ErrTypeChange           = fmt.Errorf("refdb: reference type change rejected")
	ErrSymrefTargetSymbolic = fmt.Errorf("refdb: symref target is itself symbolic")
	ErrMissingImplicitTarget = fmt.Errorf("refdb: symbolic edit has no implicit target oid")
)

// Target is what a reference points at: a peeled OID or another
// reference's name.
type Target struct {
	Oid identity.Oid
	Sym string
}

// IsSymbolic reports whether the target names another reference.
func (t Target) IsSymbolic() bool { return t.Sym != "" }

// Ref is one scanned reference: its name, its original target, and the
// peeled OID the target ultimately resolves to.
type Ref struct {
	Name   string
	Target Target
	Peeled identity.Oid
}

// Policy governs what happens when an edit conflicts with the current
// state of its reference: a non-fast-forward for Direct edits, a
// direct/symbolic kind flip for Symbolic edits.
type Policy int

const (
	// Abort fails the whole transaction.
	Abort Policy = iota
	// Reject records the edit in Applied.Rejected and continues.
	Reject
	// Allow forcibly overwrites the reference.
	Allow
)

// Direct creates or fast-forwards a direct reference.
type Direct struct {
	Name   string
	Target identity.Oid
	NoFF   Policy
}

// SymbolicTarget is the reference a Symbolic edit points at, plus the OID
// the target reference is created at (or fast-forwarded to) as a side
// effect.
type SymbolicTarget struct {
	Name string
	Oid  identity.Oid
}

// Symbolic creates or moves a symbolic reference, creating its target as
// a direct ref if absent and fast-forwarding it otherwise.
type Symbolic struct {
	Name       string
	Target     SymbolicTarget
	TypeChange Policy
}

// Edit is one entry of an Update transaction: a Direct or a Symbolic.
type Edit interface {
	editName() string
}

func (d Direct) editName() string   { return d.Name }
func (s Symbolic) editName() string { return s.Name }

// Updated describes one applied edit.
type Updated struct {
	Name   string
	Target Target
}

// Applied is the result of an Update transaction. Callers must reload any
// cached view of the references after a non-empty Updated.
type Applied struct {
	Updated  []Updated
	Rejected []Edit
}

// Ancestry is the object-store ancestry query Update needs for its
// fast-forward checks.
type Ancestry interface {
	IsAncestor(newer, older identity.Oid) (bool, error)
	Contains(oid identity.Oid) bool
}

// DB is the reference database. A DB carries an optional namespace prefix
// (see Namespaced); names passed to its methods are rebased under it.
type DB struct {
	storer   storage.Storer
	ancestry Ancestry
	ns       string
	mu       *sync.Mutex
	reflog   ReflogWriter
}

// ReflogWriter records reference movements. A nil writer disables logging.
type ReflogWriter interface {
	Record(name string, old, new identity.Oid) error
}

// New creates a reference database over a go-git storer. The mutex
// serializes transactions, standing in for the filesystem lock on the
// reference directory.
func New(storer storage.Storer, ancestry Ancestry, reflog ReflogWriter) *DB {
	return &DB{storer: storer, ancestry: ancestry, mu: &sync.Mutex{}, reflog: reflog}
}

// Namespaced returns a view of the database whose names are rebased under
// refs/namespaces/<multibase(urn root)>/. The view shares the parent's
// lock and storer.
func (db *DB) Namespaced(urn identity.Urn) *DB {
	return &DB{
		storer:   db.storer,
		ancestry: db.ancestry,
		ns:       NamespacePrefix(urn),
		mu:       db.mu,
		reflog:   db.reflog,
	}
}

// NamespacePrefix renders the reference prefix of a URN's namespace,
// without a trailing slash.
func NamespacePrefix(urn identity.Urn) string {
	return "refs/namespaces/" + urn.Root.String()
}

func (db *DB) qualify(name string) string {
	if db.ns == "" {
		return name
	}
	return db.ns + "/" + name
}

// qualifyTarget rebases a symref target under the namespace, unless it is
// already an absolute namespaced name (cross-namespace symrefs such as
// rad/ids/<delegate> point into another identity's namespace).
func (db *DB) qualifyTarget(name string) string {
	if strings.HasPrefix(name, "refs/namespaces/") {
		return name
	}
	return db.qualify(name)
}

func (db *DB) unqualify(name string) string {
	if db.ns == "" {
		return name
	}
	return strings.TrimPrefix(name, db.ns+"/")
}

// Find returns the reference's target, without following symbolic refs.
func (db *DB) Find(name string) (Target, error) {
	ref, err := db.storer.Reference(plumbing.ReferenceName(db.qualify(name)))
	if err != nil {
		return Target{}, ErrRefNotFound
	}
	return targetOf(ref), nil
}

// Resolve follows symbolic references until a peeled OID is reached.
func (db *DB) Resolve(name string) (identity.Oid, error) {
	seen := make(map[string]struct{})
	cur := db.qualify(name)
	for {
		if _, loop := seen[cur]; loop {
			return identity.Oid{}, errors.Wrap(ErrRefNotFound, "symbolic reference loop")
		}
		seen[cur] = struct{}{}
		ref, err := db.storer.Reference(plumbing.ReferenceName(cur))
		if err != nil {
			return identity.Oid{}, ErrRefNotFound
		}
		if ref.Type() == plumbing.SymbolicReference {
			cur = string(ref.Target())
			continue
		}
		return identity.OidFromGitHash(ref.Hash()), nil
	}
}

// Scan yields every reference under prefix, with symbolic targets peeled
// on demand. References whose target cannot be resolved are skipped.
func (db *DB) Scan(prefix string) ([]Ref, error) {
	iter, err := db.storer.IterReferences()
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	full := db.qualify(prefix)
	var out []Ref
	err = iter.ForEach(func(ref *plumbing.Reference) error {
		name := string(ref.Name())
		if !strings.HasPrefix(name, full) {
			return nil
		}
		r := Ref{Name: db.unqualify(name), Target: targetOf(ref)}
		if r.Target.IsSymbolic() {
			peeled, err := db.Resolve(db.unqualify(name))
			if err != nil {
				return nil
			}
			r.Peeled = peeled
		} else {
			r.Peeled = r.Target.Oid
		}
		out = append(out, r)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Delete removes a reference. Missing references are not an error.
func (db *DB) Delete(name string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.storer.RemoveReference(plumbing.ReferenceName(db.qualify(name)))
}

// Update applies the edits in order under the database lock, so no other
// transaction interleaves with them. The edits are not applied as a
// unit: a Policy of Abort on a conflicting edit (or any other error)
// stops the transaction, and edits applied before it stay written (there
// is no rollback).
func (db *DB) Update(edits ...Edit) (Applied, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	var applied Applied
	for _, e := range edits {
		if err := ValidateName(e.editName()); err != nil {
			return applied, err
		}
		switch edit := e.(type) {
		case Direct:
			rejected, err := db.applyDirect(edit, &applied)
			if err != nil {
				return applied, err
			}
			if rejected {
				applied.Rejected = append(applied.Rejected, edit)
			}
		case Symbolic:
			rejected, err := db.applySymbolic(edit, &applied)
			if err != nil {
				return applied, err
			}
			if rejected {
				applied.Rejected = append(applied.Rejected, edit)
			}
		default:
			return applied, fmt.Errorf("refdb: unknown edit type %T", e)
		}
	}
	return applied, nil
}

func (db *DB) applyDirect(edit Direct, applied *Applied) (rejected bool, err error) {
	full := plumbing.ReferenceName(db.qualify(edit.Name))
	cur, findErr := db.storer.Reference(full)

	var old identity.Oid
	if findErr == nil {
		if cur.Type() == plumbing.SymbolicReference {
			// Writing a direct ref over a symbolic one is a type change,
			// governed by the same policy knob as a non-fast-forward.
			switch edit.NoFF {
			case Abort:
				return false, errors.Wrap(ErrTypeChange, edit.Name)
			case Reject:
				return true, nil
			}
		} else {
			old = identity.OidFromGitHash(cur.Hash())
			if old.Equal(edit.Target) {
				return false, nil
			}
			ff, ancErr := db.ancestry.IsAncestor(edit.Target, old)
			if ancErr != nil || !ff {
				switch edit.NoFF {
				case Abort:
					return false, errors.Wrap(ErrNonFastForward, edit.Name)
				case Reject:
					return true, nil
				}
			}
		}
	}

	ref := plumbing.NewHashReference(full, edit.Target.GitHash())
	if err := db.storer.SetReference(ref); err != nil {
		return false, err
	}
	db.logMove(edit.Name, old, edit.Target)
	applied.Updated = append(applied.Updated, Updated{Name: edit.Name, Target: Target{Oid: edit.Target}})
	return false, nil
}

func (db *DB) applySymbolic(edit Symbolic, applied *Applied) (rejected bool, err error) {
	if err := ValidateName(edit.Target.Name); err != nil {
		return false, err
	}

	// The symref target must itself be a direct ref: create it if absent,
	// fast-forward it otherwise.
	targetFull := plumbing.ReferenceName(db.qualifyTarget(edit.Target.Name))
	curTarget, findErr := db.storer.Reference(targetFull)
	if findErr != nil {
		if edit.Target.Oid.IsZero() {
			return false, errors.Wrap(ErrMissingImplicitTarget, edit.Name)
		}
		ref := plumbing.NewHashReference(targetFull, edit.Target.Oid.GitHash())
		if err := db.storer.SetReference(ref); err != nil {
			return false, err
		}
		db.logMove(edit.Target.Name, identity.Oid{}, edit.Target.Oid)
		applied.Updated = append(applied.Updated, Updated{Name: edit.Target.Name, Target: Target{Oid: edit.Target.Oid}})
	} else {
		if curTarget.Type() == plumbing.SymbolicReference {
			return false, errors.Wrap(ErrSymrefTargetSymbolic, edit.Target.Name)
		}
		if !edit.Target.Oid.IsZero() {
			old := identity.OidFromGitHash(curTarget.Hash())
			if !old.Equal(edit.Target.Oid) {
				if ff, _ := db.ancestry.IsAncestor(edit.Target.Oid, old); ff {
					ref := plumbing.NewHashReference(targetFull, edit.Target.Oid.GitHash())
					if err := db.storer.SetReference(ref); err != nil {
						return false, err
					}
					db.logMove(edit.Target.Name, old, edit.Target.Oid)
					applied.Updated = append(applied.Updated, Updated{Name: edit.Target.Name, Target: Target{Oid: edit.Target.Oid}})
				}
			}
		}
	}

	full := plumbing.ReferenceName(db.qualify(edit.Name))
	if cur, err := db.storer.Reference(full); err == nil && cur.Type() != plumbing.SymbolicReference {
		switch edit.TypeChange {
		case Abort:
			return false, errors.Wrap(ErrTypeChange, edit.Name)
		case Reject:
			return true, nil
		}
	}

	ref := plumbing.NewSymbolicReference(full, plumbing.ReferenceName(db.qualifyTarget(edit.Target.Name)))
	if err := db.storer.SetReference(ref); err != nil {
		return false, err
	}
	applied.Updated = append(applied.Updated, Updated{
		Name:   edit.Name,
		Target: Target{Sym: edit.Target.Name},
	})
	return false, nil
}

func (db *DB) logMove(name string, old, new identity.Oid) {
	if db.reflog == nil {
		return
	}
	_ = db.reflog.Record(db.qualify(name), old, new)
}

func targetOf(ref *plumbing.Reference) Target {
	if ref.Type() == plumbing.SymbolicReference {
		return Target{Sym: string(ref.Target())}
	}
	return Target{Oid: identity.OidFromGitHash(ref.Hash())}
}
