//go:build !windows

package journal

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/uroni/urbackup-backend-sub007/persist"
)

// snapshot is one directory-walk's worth of path -> mtime/size state.
type snapshot map[string]snapEntry

type snapEntry struct {
	modTime time.Time
	size    int64
	isDir   bool
}

// PollWatcher is the portable C2 fallback used wherever no native
// change-journal facility is available: it achieves the same normalized
// event stream as USNWatcher by diffing two successive directory walks,
// at the cost of granularity (a change between two Update calls that is
// overwritten before the next walk is invisible) and cost (a full walk
// per Update instead of an incremental journal read).
type PollWatcher struct {
	log *persist.Logger

	mu       sync.Mutex
	roots    map[string]bool
	last     map[string]snapshot
	openForWrite map[string]bool
	frozen       map[string]bool
	freezeOn     bool
}

// NewPollWatcher creates a watcher tracking roots added via WatchDir.
func NewPollWatcher(log *persist.Logger) *PollWatcher {
	return &PollWatcher{
		log:          log,
		roots:        make(map[string]bool),
		last:         make(map[string]snapshot),
		openForWrite: make(map[string]bool),
	}
}

// WatchDir implements Watcher.
func (w *PollWatcher) WatchDir(path string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.roots[path] {
		return nil
	}
	w.roots[path] = true
	snap, err := walkSnapshot(path)
	if err != nil {
		return err
	}
	w.last[path] = snap
	return nil
}

// Update implements Watcher.
func (w *PollWatcher) Update() ([]Event, error) {
	w.mu.Lock()
	roots := make([]string, 0, len(w.roots))
	for r := range w.roots {
		roots = append(roots, r)
	}
	w.mu.Unlock()

	var events []Event
	for _, root := range roots {
		next, err := walkSnapshot(root)
		if err != nil {
			if w.log != nil {
				w.log.Println("ERROR: journal: poll walk failed for", root, err)
			}
			events = append(events, Event{Kind: EventResetAll, Path: root, Time: time.Now()})
			continue
		}
		w.mu.Lock()
		prev := w.last[root]
		w.last[root] = next
		w.mu.Unlock()
		events = append(events, diffSnapshots(prev, next)...)
	}
	return events, nil
}

func walkSnapshot(root string) (snapshot, error) {
	snap := make(snapshot)
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if path == root {
			return nil
		}
		snap[path] = snapEntry{modTime: info.ModTime(), size: info.Size(), isDir: info.IsDir()}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

func diffSnapshots(prev, next snapshot) []Event {
	var events []Event
	now := time.Now()
	for path, entry := range next {
		old, existed := prev[path]
		if !existed {
			if entry.isDir {
				events = append(events, Event{Kind: EventDirAdded, Path: path, Time: now})
			} else {
				events = append(events, Event{Kind: EventFileAdded, Path: path, Time: now, Closed: true})
			}
			continue
		}
		if !entry.isDir && (entry.modTime != old.modTime || entry.size != old.size) {
			events = append(events, Event{Kind: EventFileModified, Path: path, Time: now, Closed: true})
		}
	}
	for path, entry := range prev {
		if _, stillThere := next[path]; stillThere {
			continue
		}
		if entry.isDir {
			events = append(events, Event{Kind: EventDirRemoved, Path: path, Time: now})
		} else {
			events = append(events, Event{Kind: EventFileRemoved, Path: path, Time: now})
		}
	}
	return events
}

// UpdateLongLiving implements Watcher.
func (w *PollWatcher) UpdateLongLiving() ([]Event, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	set := w.openForWrite
	if w.freezeOn {
		set = w.frozen
	}
	now := time.Now()
	out := make([]Event, 0, len(set))
	for p := range set {
		out = append(out, Event{Kind: EventFileModified, Path: p, Time: now, Closed: false})
	}
	return out, nil
}

// FreezeOpenWriteFiles implements Watcher.
func (w *PollWatcher) FreezeOpenWriteFiles(freeze bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.freezeOn = freeze
	if freeze {
		cp := make(map[string]bool, len(w.openForWrite))
		for p := range w.openForWrite {
			cp[p] = true
		}
		w.frozen = cp
	}
}

// Close implements Watcher.
func (w *PollWatcher) Close() error {
	return nil
}
