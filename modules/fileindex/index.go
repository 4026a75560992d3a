package fileindex

import (
	"time"

	"github.com/uplo-tech/demotemutex"
	"github.com/uplo-tech/errors"
	"github.com/uplo-tech/threadgroup"

	"github.com/uroni/urbackup-backend-sub007/errkind"
	"github.com/uroni/urbackup-backend-sub007/persist"
	"github.com/uroni/urbackup-backend-sub007/types"
)

const (
	// MinSizeNoWait is the active-buffer size at which the flusher wakes
	// immediately instead of waiting out MaxWait.
	MinSizeNoWait = 10000

	// MaxWait is the longest the flusher ever sleeps between flushes.
	MaxWait = 30 * time.Second

	// MaxBuffer is the active-buffer size at which writers start
	// blocking until room is made by a flush.
	MaxBuffer = 100000

	// writerBackoff is how long a blocked writer sleeps before
	// rechecking the active buffer's size.
	writerBackoff = 10 * time.Millisecond
)

// Index is the buffered front end to a Store: writers land in an
// in-memory active buffer under a short-held lock, and a background
// flusher periodically rotates it into the persistent Store. Reads
// consult the active buffer, then the buffer currently being flushed,
// then the Store, in that order, so a lookup always sees its own
// preceding write without waiting for a flush.
type Index struct {
	store *Store

	mu     demotemutex.DemoteMutex
	active map[types.IndexKey]types.EntryID
	other  map[types.IndexKey]types.EntryID

	stopAccept bool
	lastFlush  time.Time
	flushNow   chan struct{}

	tg threadgroup.ThreadGroup
	log *persist.Logger
}

// New creates an Index over store and starts its background flusher.
// log may be nil, in which case flush activity is not logged.
func New(store *Store, log *persist.Logger) *Index {
	idx := &Index{
		store:     store,
		active:    make(map[types.IndexKey]types.EntryID),
		other:     make(map[types.IndexKey]types.EntryID),
		lastFlush: time.Now(),
		flushNow:  make(chan struct{}, 1),
		log:       log,
	}
	go idx.threadedFlusher()
	return idx
}

// Close stops accepting writes, stops the flusher, and then performs one
// final flush, blocking until both are done.
func (idx *Index) Close() error {
	idx.mu.Lock()
	idx.stopAccept = true
	idx.mu.Unlock()
	err := idx.tg.Stop()
	idx.flush()
	return err
}

// PutDelayed enqueues key -> id in the active buffer. It blocks (without
// holding the lock) while the active buffer is at capacity; once Close
// has begun it returns errkind.ErrShuttingDown instead of blocking.
func (idx *Index) PutDelayed(key types.IndexKey, id types.EntryID) error {
	return idx.writeDelayed(key, id)
}

// DelDelayed enqueues a deletion of key in the active buffer.
func (idx *Index) DelDelayed(key types.IndexKey) error {
	return idx.writeDelayed(key, 0)
}

func (idx *Index) writeDelayed(key types.IndexKey, id types.EntryID) error {
	for {
		idx.mu.Lock()
		if idx.stopAccept {
			idx.mu.Unlock()
			return errkind.ErrShuttingDown
		}
		if len(idx.active) < MaxBuffer {
			idx.active[key] = id
			full := len(idx.active) >= MinSizeNoWait
			idx.mu.Unlock()
			if full {
				select {
				case idx.flushNow <- struct{}{}:
				default:
				}
			}
			return nil
		}
		idx.mu.Unlock()
		time.Sleep(writerBackoff)
	}
}

// GetExact looks up the exact (hash, size, client) key.
func (idx *Index) GetExact(key types.IndexKey) (types.EntryID, bool, error) {
	if id, ok := idx.lookupBuffers(key); ok {
		if id == 0 {
			return 0, false, nil
		}
		return id, true, nil
	}
	return idx.store.Get(key)
}

// GetAnyClient returns the entry for any client holding this content,
// preferring the smallest client id, by scanning both buffers and the
// persistent store and keeping the minimum.
func (idx *Index) GetAnyClient(hash types.Hash, size uint64) (uint64, types.EntryID, bool, error) {
	best := struct {
		client uint64
		id     types.EntryID
		found  bool
	}{}

	idx.mu.RLock()
	idx.scanBufferPrefix(idx.active, hash, size, &best)
	idx.scanBufferPrefix(idx.other, hash, size, &best)
	idx.mu.RUnlock()

	err := idx.store.RangeClients(hash, size, func(client uint64, id types.EntryID) bool {
		if idx.bufferedDeleted(types.IndexKey{Hash: hash, Size: size, Client: client}) {
			return true
		}
		if !best.found || client < best.client {
			best.client, best.id, best.found = client, id, true
		}
		return true
	})
	if err != nil {
		return 0, 0, false, err
	}
	return best.client, best.id, best.found, nil
}

// GetPreferClient returns the entry for client if it holds the content,
// else falls back to GetAnyClient.
func (idx *Index) GetPreferClient(hash types.Hash, size, client uint64) (uint64, types.EntryID, bool, error) {
	key := types.IndexKey{Hash: hash, Size: size, Client: client}
	if id, ok, err := idx.GetExact(key); err != nil {
		return 0, 0, false, err
	} else if ok {
		return client, id, true, nil
	}
	return idx.GetAnyClient(hash, size)
}

// GetAllClients returns every client currently resolving to this content.
func (idx *Index) GetAllClients(hash types.Hash, size uint64) (map[uint64]types.EntryID, error) {
	out := make(map[uint64]types.EntryID)

	idx.mu.RLock()
	for key, id := range idx.active {
		if key.Hash == hash && key.Size == size {
			setOrDelete(out, key.Client, id)
		}
	}
	for key, id := range idx.other {
		if key.Hash == hash && key.Size == size {
			if _, ok := out[key.Client]; !ok {
				setOrDelete(out, key.Client, id)
			}
		}
	}
	idx.mu.RUnlock()

	err := idx.store.RangeClients(hash, size, func(client uint64, id types.EntryID) bool {
		if _, ok := out[client]; !ok {
			out[client] = id
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	for client, id := range out {
		if id == 0 {
			delete(out, client)
		}
	}
	return out, nil
}

func setOrDelete(m map[uint64]types.EntryID, client uint64, id types.EntryID) {
	m[client] = id
}

func (idx *Index) bufferedDeleted(key types.IndexKey) bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if id, ok := idx.active[key]; ok {
		return id == 0
	}
	if id, ok := idx.other[key]; ok {
		return id == 0
	}
	return false
}

func (idx *Index) scanBufferPrefix(buf map[types.IndexKey]types.EntryID, hash types.Hash, size uint64, best *struct {
	client uint64
	id     types.EntryID
	found  bool
}) {
	for key, id := range buf {
		if key.Hash != hash || key.Size != size || id == 0 {
			continue
		}
		if !best.found || key.Client < best.client {
			best.client, best.id, best.found = key.Client, id, true
		}
	}
}

func (idx *Index) lookupBuffers(key types.IndexKey) (types.EntryID, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if id, ok := idx.active[key]; ok {
		return id, true
	}
	if id, ok := idx.other[key]; ok {
		return id, true
	}
	return 0, false
}

// threadedFlusher runs until Close, waking on MinSizeNoWait, MaxWait, or
// an explicit flush request, and rotating the active buffer into the
// Store on every wake.
func (idx *Index) threadedFlusher() {
	if err := idx.tg.Add(); err != nil {
		return
	}
	defer idx.tg.Done()

	timer := time.NewTimer(MaxWait)
	defer timer.Stop()
	for {
		select {
		case <-idx.tg.StopChan():
			return
		case <-idx.flushNow:
		case <-timer.C:
		}
		idx.flush()
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(MaxWait)
	}
}

// flush rotates active into other and applies other to the persistent
// store. It is also called synchronously by Close for the final drain.
func (idx *Index) flush() {
	idx.mu.Lock()
	if len(idx.active) == 0 {
		idx.mu.Unlock()
		return
	}
	idx.other, idx.active = idx.active, make(map[types.IndexKey]types.EntryID)
	batch := idx.other
	// Demote lets readers keep consulting active/other (now frozen for
	// this flush) while the write transaction commits, instead of
	// blocking every lookup for the duration of the disk I/O.
	idx.mu.Demote()
	err := idx.store.ApplyBatch(batch)
	idx.mu.DemotedUnlock()
	if err != nil {
		if idx.log != nil {
			idx.log.Println("ERROR: fileindex: flush failed:", errors.AddContext(err, "applying delayed-write batch"))
		}
		return
	}
	idx.mu.Lock()
	idx.other = make(map[types.IndexKey]types.EntryID)
	idx.lastFlush = time.Now()
	idx.mu.Unlock()
}
