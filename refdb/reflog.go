package refdb

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ekiva-dev/ember/identity"
	"github.com/ekiva-dev/ember/storage"
)

var reflogPrefix = []byte("reflog")

// ReflogEntry is one recorded reference movement.
type ReflogEntry struct {
	Name string `json:"name"`
	Old  string `json:"old"`
	New  string `json:"new"`
	At   int64  `json:"at"`
}

// StorageReflog appends reference movements as records in the storage
// engine, keyed by reference name plus a per-name sequence number so a
// prefix scan replays a reference's history in order.
type StorageReflog struct {
	db storage.Engine
}

// NewStorageReflog creates a reflog writer over the given engine.
func NewStorageReflog(db storage.Engine) *StorageReflog {
	return &StorageReflog{db: db}
}

// Record implements ReflogWriter.
func (l *StorageReflog) Record(name string, old, new identity.Oid) error {
	seq := 0
	l.db.Iterate(storage.MakePrefix(reflogPrefix, []byte(name)), true, func(rec *storage.Record) bool {
		seq++
		return false
	})
	entry := ReflogEntry{Name: name, Old: old.Hex(), New: new.Hex(), At: time.Now().UnixNano()}
	value, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	key := []byte(fmt.Sprintf("%012d", seq))
	return l.db.Put(storage.NewRecord(key, value, reflogPrefix, []byte(name)))
}

// History returns a reference's recorded movements, oldest first.
func (l *StorageReflog) History(name string) ([]ReflogEntry, error) {
	var out []ReflogEntry
	var scanErr error
	l.db.Iterate(storage.MakePrefix(reflogPrefix, []byte(name)), true, func(rec *storage.Record) bool {
		var entry ReflogEntry
		if err := rec.Scan(&entry); err != nil {
			scanErr = err
			return true
		}
		out = append(out, entry)
		return false
	})
	return out, scanErr
}
