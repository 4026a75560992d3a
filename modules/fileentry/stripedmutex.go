package fileentry

import (
	"sync"

	"github.com/uroni/urbackup-backend-sub007/types"
)

// stripedMutex hashes an IndexKey to one of a fixed number of mutexes, so
// that concurrent add/remove operations on unrelated content groups don't
// serialize on a single global lock, while operations on the SAME
// (hash,size,client) group are ordered: the pointed_to transition between
// an add and a concurrent remove is defined by lock order alone (the add
// acquires the group's mutex before the remove releases it).
type stripedMutex struct {
	locks []sync.Mutex
}

func newStripedMutex(n int) *stripedMutex {
	return &stripedMutex{locks: make([]sync.Mutex, n)}
}

func (m *stripedMutex) lockKey(key types.IndexKey) func() {
	i := stripeIndex(key, len(m.locks))
	m.locks[i].Lock()
	return m.locks[i].Unlock
}

func stripeIndex(key types.IndexKey, n int) int {
	var h uint64
	for _, b := range key.Hash {
		h = h*31 + uint64(b)
	}
	h = h*31 + key.Size
	return int(h % uint64(n))
}
