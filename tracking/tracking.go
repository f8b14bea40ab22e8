// Package tracking implements the who-tracks-whom configuration store:
// per-(URN, peer) entries persisted as blobs referenced by
// refs/rad/remotes/<urn>/(<peer>|default), with a badger-backed index for
// fast listing.
package tracking

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/pkg/errors"

	"github.com/ekiva-dev/ember/identity"
	"github.com/ekiva-dev/ember/refdb"
	"github.com/ekiva-dev/ember/remote/plumbing"
	"github.com/ekiva-dev/ember/storage"
)

// Tracking error sentinels, per the policy knobs of Track/Untrack/Modify.
var (
	ErrEntryExists     = fmt.Errorf("tracking: entry already exists")
	ErrEntryNotFound   = fmt.Errorf("tracking: entry not found")
	ErrPreviousChanged = fmt.Errorf("tracking: entry changed under the caller")
)

var indexPrefix = []byte("tracking")

// Config is the per-peer predicate set constraining which remote
// categories are replicated. CobTypes, when non-empty, filters which
// collaborative-object types are eligible; empty means all.
type Config struct {
	Heads    bool     `json:"heads"`
	Tags     bool     `json:"tags"`
	Cobs     bool     `json:"cobs"`
	CobTypes []string `json:"cobTypes,omitempty"`
}

// DefaultConfig admits every category with no cob-type filter.
func DefaultConfig() Config {
	return Config{Heads: true, Tags: true, Cobs: true}
}

// TrackPolicy governs Track's behavior when an entry already exists.
type TrackPolicy int

const (
	// Any overwrites an existing entry.
	Any TrackPolicy = iota
	// MustNotExist fails if an entry is present.
	MustNotExist
	// MustExist fails if no entry is present.
	MustExist
)

// Entry is one tracked (URN, peer) pair and its configuration.
type Entry struct {
	Urn    identity.Urn
	Peer   string // empty means the default entry
	Config Config
}

// Untracked is the result of an Untrack call.
type Untracked struct {
	Previous Config
	Pruned   []string
}

// Store is the tracking store. Writes go through both the reference
// database (the authoritative pointer) and a badger index used for
// listing queries.
type Store struct {
	objects identity.Store
	refs    *refdb.DB
	db      storage.Engine
	mu      sync.Mutex
}

// New creates a tracking store.
func New(objects identity.Store, refs *refdb.DB, db storage.Engine) *Store {
	return &Store{objects: objects, refs: refs, db: db}
}

func trackingRef(urn identity.Urn, peer string) string {
	return plumbing.MakeTrackingRef(urn.Root.String(), peer)
}

func indexKey(peer string) []byte {
	if peer == "" {
		peer = "default"
	}
	return []byte(peer)
}

// Track writes (or rewrites, policy permitting) the entry for (urn, peer)
// and returns the reference holding it. An empty peer targets the default
// entry.
func (s *Store) Track(urn identity.Urn, peer string, config Config, policy TrackPolicy) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := trackingRef(urn, peer)
	_, findErr := s.refs.Find(name)
	exists := findErr == nil

	switch policy {
	case MustNotExist:
		if exists {
			return "", errors.Wrap(ErrEntryExists, name)
		}
	case MustExist:
		if !exists {
			return "", errors.Wrap(ErrEntryNotFound, name)
		}
	}

	if err := s.write(urn, peer, name, config); err != nil {
		return "", err
	}
	return name, nil
}

// Modify applies f to the current configuration under a compare-and-swap
// on the entry's reference target: if the target moves between the read
// and the write, the call fails with ErrPreviousChanged.
func (s *Store) Modify(urn identity.Urn, peer string, f func(Config) Config) (string, error) {
	name := trackingRef(urn, peer)

	prev, err := s.refs.Find(name)
	if err != nil {
		return "", errors.Wrap(ErrEntryNotFound, name)
	}
	cfg, err := s.load(prev.Oid)
	if err != nil {
		return "", err
	}
	next := f(cfg)

	s.mu.Lock()
	defer s.mu.Unlock()

	cur, err := s.refs.Find(name)
	if err != nil {
		return "", errors.Wrap(ErrEntryNotFound, name)
	}
	if !cur.Oid.Equal(prev.Oid) {
		return "", errors.Wrap(ErrPreviousChanged, name)
	}
	if err := s.write(urn, peer, name, next); err != nil {
		return "", err
	}
	return name, nil
}

// Untrack removes the entry for (urn, peer). With prune set, every
// reference under the URN namespace's refs/remotes/<peer>/ is deleted as
// well, and the deleted names are reported.
func (s *Store) Untrack(urn identity.Urn, peer string, policy TrackPolicy, prune bool) (*Untracked, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := trackingRef(urn, peer)
	out := &Untracked{}

	target, findErr := s.refs.Find(name)
	if findErr != nil && policy == MustExist {
		return nil, errors.Wrap(ErrEntryNotFound, name)
	}
	if findErr == nil {
		prev, err := s.load(target.Oid)
		if err != nil {
			return nil, err
		}
		out.Previous = prev
		if err := s.refs.Delete(name); err != nil {
			return nil, err
		}
		if err := s.db.Del(storage.MakeKey(indexKey(peer), indexPrefix, []byte(urn.MapKey()))); err != nil && err != storage.ErrRecordNotFound {
			return nil, err
		}
	}

	if prune && peer != "" {
		pruned, err := s.pruneRemotes(urn, peer)
		if err != nil {
			return nil, err
		}
		out.Pruned = pruned
	}
	return out, nil
}

// UntrackAll removes every entry for the URN, including the default one.
func (s *Store) UntrackAll(urn identity.Urn, policy TrackPolicy, prune bool) ([]*Untracked, error) {
	peers, err := s.TrackedPeers(&urn)
	if err != nil {
		return nil, err
	}
	if s.hasDefault(urn) {
		peers = append(peers, "")
	}
	if len(peers) == 0 && policy == MustExist {
		return nil, ErrEntryNotFound
	}
	var out []*Untracked
	for _, peer := range peers {
		u, err := s.Untrack(urn, peer, Any, prune)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, nil
}

// Get returns the configuration for (urn, peer), falling back to the
// default entry when no peer-specific one exists.
func (s *Store) Get(urn identity.Urn, peer string) (Config, error) {
	target, err := s.refs.Find(trackingRef(urn, peer))
	if err != nil && peer != "" {
		target, err = s.refs.Find(trackingRef(urn, ""))
	}
	if err != nil {
		return Config{}, ErrEntryNotFound
	}
	return s.load(target.Oid)
}

// IsTracked reports whether a peer-specific (or, with an empty peer,
// default) entry exists.
func (s *Store) IsTracked(urn identity.Urn, peer string) bool {
	_, err := s.refs.Find(trackingRef(urn, peer))
	return err == nil
}

// DefaultOnly reports whether the URN carries a default entry and no
// peer-specific ones.
func (s *Store) DefaultOnly(urn identity.Urn) bool {
	peers, err := s.TrackedPeers(&urn)
	if err != nil || len(peers) > 0 {
		return false
	}
	return s.hasDefault(urn)
}

// Tracked lists entries, optionally filtered to one URN.
func (s *Store) Tracked(filterBy *identity.Urn) ([]Entry, error) {
	prefix := storage.MakePrefix(indexPrefix)
	if filterBy != nil {
		prefix = storage.MakePrefix(indexPrefix, []byte(filterBy.MapKey()))
	}
	var out []Entry
	var scanErr error
	s.db.Iterate(prefix, true, func(rec *storage.Record) bool {
		parts := storage.SplitPrefix(rec.Prefix)
		if len(parts) != 2 {
			return false
		}
		root, err := identity.OidFromHex(string(parts[1]))
		if err != nil {
			scanErr = err
			return true
		}
		var cfg Config
		if err := rec.Scan(&cfg); err != nil {
			scanErr = err
			return true
		}
		peer := string(rec.Key)
		if peer == "default" {
			peer = ""
		}
		out = append(out, Entry{Urn: identity.NewUrn(root, ""), Peer: peer, Config: cfg})
		return false
	})
	return out, scanErr
}

// TrackedPeers lists the peer ids with peer-specific entries, optionally
// filtered to one URN. The default entry is excluded.
func (s *Store) TrackedPeers(filterBy *identity.Urn) ([]string, error) {
	entries, err := s.Tracked(filterBy)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.Peer != "" {
			out = append(out, e.Peer)
		}
	}
	return out, nil
}

func (s *Store) hasDefault(urn identity.Urn) bool {
	_, err := s.refs.Find(trackingRef(urn, ""))
	return err == nil
}

func (s *Store) write(urn identity.Urn, peer, name string, config Config) error {
	data, err := json.Marshal(config)
	if err != nil {
		return err
	}
	blobOid, err := s.objects.PutBlob(data)
	if err != nil {
		return err
	}
	applied, err := s.refs.Update(refdb.Direct{Name: name, Target: blobOid, NoFF: refdb.Allow})
	if err != nil {
		return err
	}
	if len(applied.Rejected) > 0 {
		return fmt.Errorf("tracking: reference update rejected for %s", name)
	}
	rec := storage.NewRecord(indexKey(peer), data, indexPrefix, []byte(urn.MapKey()))
	return s.db.Put(rec)
}

func (s *Store) load(oid identity.Oid) (Config, error) {
	kind, data, err := s.objects.Lookup(oid)
	if err != nil || kind != "blob" {
		return Config{}, fmt.Errorf("tracking: entry blob %s not found", oid.Hex())
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, errors.Wrap(err, "tracking: decode entry")
	}
	return cfg, nil
}

func (s *Store) pruneRemotes(urn identity.Urn, peer string) ([]string, error) {
	ns := s.refs.Namespaced(urn)
	refs, err := ns.Scan(plumbing.MakeRemotePrefix(peer) + "/")
	if err != nil {
		return nil, err
	}
	var pruned []string
	for _, ref := range refs {
		if err := ns.Delete(ref.Name); err != nil {
			return pruned, errors.Wrapf(err, "tracking: prune %s", ref.Name)
		}
		pruned = append(pruned, ref.Name)
	}
	return pruned, nil
}
