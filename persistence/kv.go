// Package persistence implements the key-value storage contract used by
// chainstore's overflow tier and the node's account state: a thin KV
// interface backed concretely by goleveldb, plus a copy-on-write
// TempOverlay standing in for the "temp AccountStore layer" described in
// spec.md §5/§7 that either commits atomically into a Batch or is
// discarded wholesale. Grounded on the teacher's use of
// github.com/syndtr/goleveldb for its on-disk store.
package persistence

import "github.com/syndtr/goleveldb/leveldb"

// KV is the minimal storage contract every persistent component in this
// tree depends on — chainstore's overflow tier, persistence.TempOverlay's
// commit target, and (eventually) the account trie's backing store.
type KV interface {
	Get(key []byte) ([]byte, error)
	Put(key, value []byte) error
	Delete(key []byte) error
	NewBatch() Batch
}

// Batch accumulates writes for atomic application, the same role
// *leveldb.Batch plays via DB.Write.
type Batch interface {
	Put(key, value []byte)
	Delete(key []byte)
	Commit() error
}

// ErrNotFound is returned by Get when the key does not exist, mirroring
// goleveldb's own leveldb.ErrNotFound so callers can compare against a
// single sentinel regardless of backend.
var ErrNotFound = leveldb.ErrNotFound

// LevelDB is the concrete KV implementation wrapping goleveldb.
type LevelDB struct {
	db *leveldb.DB
}

// OpenLevelDB opens (creating if necessary) a goleveldb database at path.
func OpenLevelDB(path string) (*LevelDB, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}
	return &LevelDB{db: db}, nil
}

// Get returns the value stored at key, or ErrNotFound.
func (l *LevelDB) Get(key []byte) ([]byte, error) {
	return l.db.Get(key, nil)
}

// Put writes value at key.
func (l *LevelDB) Put(key, value []byte) error {
	return l.db.Put(key, value, nil)
}

// Delete removes key.
func (l *LevelDB) Delete(key []byte) error {
	return l.db.Delete(key, nil)
}

// NewBatch starts an accumulating write batch.
func (l *LevelDB) NewBatch() Batch {
	return &levelBatch{db: l.db, batch: new(leveldb.Batch)}
}

// Close releases the underlying database handle.
func (l *LevelDB) Close() error {
	return l.db.Close()
}

type levelBatch struct {
	db    *leveldb.DB
	batch *leveldb.Batch
}

func (b *levelBatch) Put(key, value []byte) { b.batch.Put(key, value) }
func (b *levelBatch) Delete(key []byte)     { b.batch.Delete(key) }
func (b *levelBatch) Commit() error         { return b.db.Write(b.batch, nil) }

// Namespace returns a key prefixed for logical table separation, the
// realization of spec.md §6.3's logical tables as key prefixes over a
// single physical KV (e.g. Namespace("dsblock", blockNumBytes)).
func Namespace(table string, key []byte) []byte {
	out := make([]byte, 0, len(table)+1+len(key))
	out = append(out, table...)
	out = append(out, ':')
	out = append(out, key...)
	return out
}
