package persistence

import "sync"

// NumOfWritersInQueue is how many writer slots AcquireWriter hands out at
// once; with 1, a second writer blocks on writerSpace until the first
// releases its slot. This is the value of spec.md §5's
// NUM_OF_WRITERS_IN_QUEUE = 1 for the account state writer path.
const NumOfWritersInQueue = 1

// TempOverlay is a copy-on-write staging layer over a KV backend: writes
// accumulate in memory until Commit flushes them into a single KV.Batch,
// or Abort discards them wholesale. This is the "temp AccountStore layer"
// of spec.md §5/§7 — every TxBlock's account mutations land here first and
// only become durable once the block's consensus round finalizes.
//
// Reads (RLock) and Commit/Abort (Lock) share sync.RWMutex the way the
// teacher's consensus package separates read-heavy validator sanity
// checks from the rarer state-mutating leader path. writerSpace, a
// buffered channel holding NumOfWritersInQueue slots, bounds how many
// writers hold a slot at once; further writers block until a slot frees,
// the concurrency behavior spec.md §5 describes as external writers
// blocking on a condition variable until queue depth drops.
type TempOverlay struct {
	mu           sync.RWMutex
	base         KV
	writes       map[string][]byte
	deletes      map[string]struct{}
	writerSpace  chan struct{}
}

// NewTempOverlay builds an overlay backed by base.
func NewTempOverlay(base KV) *TempOverlay {
	space := make(chan struct{}, NumOfWritersInQueue)
	for i := 0; i < NumOfWritersInQueue; i++ {
		space <- struct{}{}
	}
	return &TempOverlay{
		base:        base,
		writes:      map[string][]byte{},
		deletes:     map[string]struct{}{},
		writerSpace: space,
	}
}

// AcquireWriter blocks until a writer slot is available, then returns a
// release function the caller must defer. Callers that mutate the overlay
// (Put/Delete/Commit/Abort) are expected to hold a writer slot first.
func (o *TempOverlay) AcquireWriter() (release func()) {
	<-o.writerSpace
	return func() { o.writerSpace <- struct{}{} }
}

// Get reads key, checking the overlay before falling through to base.
func (o *TempOverlay) Get(key []byte) ([]byte, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	k := string(key)
	if _, deleted := o.deletes[k]; deleted {
		return nil, ErrNotFound
	}
	if v, ok := o.writes[k]; ok {
		return v, nil
	}
	return o.base.Get(key)
}

// Put stages value at key in the overlay; not yet visible to base until
// Commit.
func (o *TempOverlay) Put(key, value []byte) {
	o.mu.Lock()
	defer o.mu.Unlock()
	k := string(key)
	delete(o.deletes, k)
	o.writes[k] = value
}

// Delete stages a delete of key.
func (o *TempOverlay) Delete(key []byte) {
	o.mu.Lock()
	defer o.mu.Unlock()
	k := string(key)
	delete(o.writes, k)
	o.deletes[k] = struct{}{}
}

// Commit flushes every staged write/delete into a single KV.Batch and
// applies it atomically, then clears the overlay. Returns the batch
// commit error, if any, leaving the overlay uncleared so the caller can
// retry.
func (o *TempOverlay) Commit() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	batch := o.base.NewBatch()
	for k, v := range o.writes {
		batch.Put([]byte(k), v)
	}
	for k := range o.deletes {
		batch.Delete([]byte(k))
	}
	if err := batch.Commit(); err != nil {
		return err
	}
	o.writes = map[string][]byte{}
	o.deletes = map[string]struct{}{}
	return nil
}

// Abort discards every staged write/delete without touching base.
func (o *TempOverlay) Abort() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.writes = map[string][]byte{}
	o.deletes = map[string]struct{}{}
}
