// Package status implements the C9 process registry: a mutex-guarded map
// from client name to its current Status, the thing the web UI and the
// API poll to show running backups and restores.
package status

import (
	"sync"
	"time"

	"github.com/uroni/urbackup-backend-sub007/errkind"
	"github.com/uroni/urbackup-backend-sub007/types"
)

// Registry tracks the live Status of every client the server currently
// knows about, the same way a gateway tracks its connected peers: one
// mutex, one map, small accessor methods.
type Registry struct {
	mu      sync.Mutex
	clients map[string]*types.Status
	nextID  types.ProcessID
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{clients: make(map[string]*types.Status)}
}

// SetOnline records whether clientName currently has a live connection.
func (r *Registry) SetOnline(clientName string, online bool, ip string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.statusLocked(clientName)
	s.Online = online
	if online {
		s.IP = ip
	}
}

// SetLastError records the most recent failure reported for clientName.
func (r *Registry) SetLastError(clientName, msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statusLocked(clientName).LastError = msg
}

// Status returns a snapshot of clientName's status. The Processes slice
// is a copy; mutating it has no effect on the registry.
func (r *Registry) Status(clientName string) (types.Status, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.clients[clientName]
	if !ok {
		return types.Status{}, false
	}
	return copyStatus(s), true
}

// All returns a snapshot of every tracked client's status.
func (r *Registry) All() []types.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]types.Status, 0, len(r.clients))
	for _, s := range r.clients {
		out = append(out, copyStatus(s))
	}
	return out
}

// StartProcess registers a new process for clientName and returns its id.
func (r *Registry) StartProcess(clientName string, action types.ProcessAction, totalBytes uint64, details string) types.ProcessID {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	id := r.nextID
	s := r.statusLocked(clientName)
	s.Processes = append(s.Processes, types.Process{
		ID:         id,
		Action:     action,
		PCDone:     -1,
		StartTime:  time.Now(),
		TotalBytes: totalBytes,
		Details:    details,
		Refs:       1,
		LastPing:   time.Now(),
	})
	return id
}

// UpdateRunningPC updates the progress fields of a running process.
func (r *Registry) UpdateRunningPC(clientName string, id types.ProcessID, doneBytes uint64, pcDone int, speedBps float64, etaMs int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := r.findLocked(clientName, id)
	if p == nil {
		return errkind.ErrProcessNotFound
	}
	p.DoneBytes = doneBytes
	p.PCDone = pcDone
	p.SpeedBps = speedBps
	p.ETAMs = etaMs
	p.LastPing = time.Now()
	return nil
}

// Ping refreshes a process's liveness timestamp without changing progress.
func (r *Registry) Ping(clientName string, id types.ProcessID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := r.findLocked(clientName, id)
	if p == nil {
		return errkind.ErrProcessNotFound
	}
	p.LastPing = time.Now()
	return nil
}

// RequestStop marks a process for cooperative cancellation.
func (r *Registry) RequestStop(clientName string, id types.ProcessID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := r.findLocked(clientName, id)
	if p == nil {
		return errkind.ErrProcessNotFound
	}
	p.StopRequested = true
	return nil
}

// StopRequested reports whether id has been asked to cancel.
func (r *Registry) StopRequested(clientName string, id types.ProcessID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := r.findLocked(clientName, id)
	return p != nil && p.StopRequested
}

// Ref increments a process's reference count, for a second caller (e.g.
// the UI polling a download already being served) attaching to the same
// process instead of creating a duplicate entry.
func (r *Registry) Ref(clientName string, id types.ProcessID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := r.findLocked(clientName, id)
	if p == nil {
		return errkind.ErrProcessNotFound
	}
	p.Refs++
	return nil
}

// Unref decrements a process's reference count and removes it from the
// registry once it reaches zero.
func (r *Registry) Unref(clientName string, id types.ProcessID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.clients[clientName]
	if !ok {
		return
	}
	for i := range s.Processes {
		if s.Processes[i].ID != id {
			continue
		}
		s.Processes[i].Refs--
		if s.Processes[i].Refs <= 0 {
			s.Processes = append(s.Processes[:i], s.Processes[i+1:]...)
		}
		return
	}
}

// RemoveTimedOutProcesses drops every process across every client whose
// LastPing is older than types.PingTimeout, for the case where a worker
// crashed without releasing its reference.
func (r *Registry) RemoveTimedOutProcesses() {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := time.Now().Add(-types.PingTimeout)
	for _, s := range r.clients {
		kept := s.Processes[:0]
		for _, p := range s.Processes {
			if p.LastPing.Before(cutoff) {
				continue
			}
			kept = append(kept, p)
		}
		s.Processes = kept
	}
}

func (r *Registry) statusLocked(clientName string) *types.Status {
	s, ok := r.clients[clientName]
	if !ok {
		s = &types.Status{ClientName: clientName}
		r.clients[clientName] = s
	}
	return s
}

func (r *Registry) findLocked(clientName string, id types.ProcessID) *types.Process {
	s, ok := r.clients[clientName]
	if !ok {
		return nil
	}
	for i := range s.Processes {
		if s.Processes[i].ID == id {
			return &s.Processes[i]
		}
	}
	return nil
}

func copyStatus(s *types.Status) types.Status {
	cp := *s
	cp.Processes = append([]types.Process(nil), s.Processes...)
	return cp
}
