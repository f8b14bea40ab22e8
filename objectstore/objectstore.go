// Package objectstore implements the engine's content-addressed object
// store on top of a go-git repository: blob/tree/commit storage keyed by
// OID, ancestry queries and pack ingestion.
package objectstore

import (
	"fmt"
	"io/ioutil"
	"os"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/format/packfile"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/storage"
	"github.com/pkg/errors"

	"github.com/ekiva-dev/ember/identity"
)

// ErrObjectNotFound indicates that no object with the given OID exists.
var ErrObjectNotFound = fmt.Errorf("object not found")

// Store wraps a bare go-git repository as the engine's object store.
type Store struct {
	repo   *git.Repository
	storer storage.Storer

	// CommitterName/CommitterEmail stamp commits written through PutCommit.
	CommitterName  string
	CommitterEmail string
}

// Open opens (or initializes, if absent) a bare repository at path.
func Open(path string) (*Store, error) {
	repo, err := git.PlainOpen(path)
	if err == git.ErrRepositoryNotExists {
		repo, err = git.PlainInit(path, true)
	}
	if err != nil {
		return nil, errors.Wrap(err, "objectstore: open repository")
	}
	return New(repo), nil
}

// New wraps an already opened repository.
func New(repo *git.Repository) *Store {
	return &Store{
		repo:           repo,
		storer:         repo.Storer,
		CommitterName:  "ember",
		CommitterEmail: "ember@localhost",
	}
}

// Repo returns the underlying go-git repository, for the reference
// database which shares its storer.
func (s *Store) Repo() *git.Repository { return s.repo }

// Contains reports whether an object with the given OID exists.
func (s *Store) Contains(oid identity.Oid) bool {
	return s.storer.HasEncodedObject(oid.GitHash()) == nil
}

// Lookup returns the kind and raw content bytes of an object.
func (s *Store) Lookup(oid identity.Oid) (string, []byte, error) {
	obj, err := s.storer.EncodedObject(plumbing.AnyObject, oid.GitHash())
	if err != nil {
		return "", nil, errors.Wrap(ErrObjectNotFound, oid.Hex())
	}
	rd, err := obj.Reader()
	if err != nil {
		return "", nil, err
	}
	defer rd.Close()
	data, err := ioutil.ReadAll(rd)
	if err != nil {
		return "", nil, err
	}
	return obj.Type().String(), data, nil
}

// IsAncestor reports whether older is reachable from newer by following
// commit parents. It fails if either OID does not name a known commit.
func (s *Store) IsAncestor(newer, older identity.Oid) (bool, error) {
	newCommit, err := object.GetCommit(s.storer, newer.GitHash())
	if err != nil {
		return false, errors.Wrapf(err, "objectstore: unknown commit %s", newer.Hex())
	}
	oldCommit, err := object.GetCommit(s.storer, older.GitHash())
	if err != nil {
		return false, errors.Wrapf(err, "objectstore: unknown commit %s", older.Hex())
	}
	if newCommit.Hash == oldCommit.Hash {
		return true, nil
	}
	return oldCommit.IsAncestor(newCommit)
}

// PutBlob writes a blob object and returns its OID.
func (s *Store) PutBlob(data []byte) (identity.Oid, error) {
	obj := s.storer.NewEncodedObject()
	obj.SetType(plumbing.BlobObject)
	w, err := obj.Writer()
	if err != nil {
		return identity.Oid{}, err
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return identity.Oid{}, err
	}
	if err := w.Close(); err != nil {
		return identity.Oid{}, err
	}
	h, err := s.storer.SetEncodedObject(obj)
	if err != nil {
		return identity.Oid{}, err
	}
	return identity.OidFromGitHash(h), nil
}

// PutTree writes a tree object from the given entries and returns its OID.
func (s *Store) PutTree(entries []identity.TreeEntry) (identity.Oid, error) {
	tree := &object.Tree{}
	for _, e := range entries {
		mode := filemode.Regular
		if e.Dir {
			mode = filemode.Dir
		}
		tree.Entries = append(tree.Entries, object.TreeEntry{
			Name: e.Name,
			Mode: mode,
			Hash: e.Oid.GitHash(),
		})
	}
	obj := s.storer.NewEncodedObject()
	if err := tree.Encode(obj); err != nil {
		return identity.Oid{}, err
	}
	h, err := s.storer.SetEncodedObject(obj)
	if err != nil {
		return identity.Oid{}, err
	}
	return identity.OidFromGitHash(h), nil
}

// PutCommit writes a commit object and returns its OID.
func (s *Store) PutCommit(spec identity.CommitSpec) (identity.Oid, error) {
	sig := object.Signature{
		Name:  s.CommitterName,
		Email: s.CommitterEmail,
		When:  time.Now(),
	}
	commit := &object.Commit{
		Author:    sig,
		Committer: sig,
		Message:   spec.Message,
		TreeHash:  spec.Tree.GitHash(),
	}
	for _, p := range spec.Parents {
		commit.ParentHashes = append(commit.ParentHashes, p.GitHash())
	}
	obj := s.storer.NewEncodedObject()
	if err := commit.Encode(obj); err != nil {
		return identity.Oid{}, err
	}
	h, err := s.storer.SetEncodedObject(obj)
	if err != nil {
		return identity.Oid{}, err
	}
	return identity.OidFromGitHash(h), nil
}

// CommitTree returns a commit's tree OID and message.
func (s *Store) CommitTree(oid identity.Oid) (identity.Oid, string, error) {
	commit, err := object.GetCommit(s.storer, oid.GitHash())
	if err != nil {
		return identity.Oid{}, "", errors.Wrapf(err, "objectstore: unknown commit %s", oid.Hex())
	}
	return identity.OidFromGitHash(commit.TreeHash), commit.Message, nil
}

// CommitParents returns a commit's parent OIDs in order.
func (s *Store) CommitParents(oid identity.Oid) ([]identity.Oid, error) {
	commit, err := object.GetCommit(s.storer, oid.GitHash())
	if err != nil {
		return nil, errors.Wrapf(err, "objectstore: unknown commit %s", oid.Hex())
	}
	out := make([]identity.Oid, 0, len(commit.ParentHashes))
	for _, p := range commit.ParentHashes {
		out = append(out, identity.OidFromGitHash(p))
	}
	return out, nil
}

// IngestPack adds a prebuilt packfile to the store.
func (s *Store) IngestPack(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "objectstore: open pack")
	}
	defer f.Close()
	if err := packfile.UpdateObjectStorage(s.storer, f); err != nil {
		return errors.Wrap(err, "objectstore: ingest pack")
	}
	return nil
}

func init() {
	// Install the concrete tree decoder used by identity.LoadRevision; the
	// identity package cannot import go-git's object model without a cycle
	// back into this package's OID conversions.
	identity.SetTreeDecoder(func(data []byte) ([]identity.TreeEntry, error) {
		obj := &plumbing.MemoryObject{}
		obj.SetType(plumbing.TreeObject)
		if _, err := obj.Write(data); err != nil {
			return nil, err
		}
		tree := &object.Tree{}
		if err := tree.Decode(obj); err != nil {
			return nil, errors.Wrap(err, "objectstore: decode tree")
		}
		out := make([]identity.TreeEntry, 0, len(tree.Entries))
		for _, e := range tree.Entries {
			out = append(out, identity.TreeEntry{
				Name: e.Name,
				Oid:  identity.OidFromGitHash(e.Hash),
				Dir:  e.Mode == filemode.Dir,
			})
		}
		return out, nil
	})
}
