package identity

// Store is the subset of the object store (see package objectstore) the
// identity engine needs to load, verify and create revisions: read access
// to blobs/trees/commits by OID, ancestry queries, and the ability to
// write new blob/tree/commit objects when producing a revision.
type Store interface {
	Contains(oid Oid) bool
	Lookup(oid Oid) (kind string, data []byte, err error)
	IsAncestor(newer, older Oid) (bool, error)

	PutBlob(data []byte) (Oid, error)
	PutTree(entries []TreeEntry) (Oid, error)
	PutCommit(spec CommitSpec) (Oid, error)

	// CommitTree returns the tree OID and message of a commit object,
	// without decoding its parents (use CommitParents for that).
	CommitTree(oid Oid) (tree Oid, message string, err error)
	CommitParents(oid Oid) ([]Oid, error)
}

// TreeEntry is one named pointer inside a tree object.
type TreeEntry struct {
	Name string
	Oid  Oid
	Dir  bool
}

// CommitSpec describes a commit to be written by PutCommit.
type CommitSpec struct {
	Tree    Oid
	Parents []Oid
	Message string
}
