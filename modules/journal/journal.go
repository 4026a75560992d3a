// Package journal implements the client-side change-journal watcher
// (C2): a persistent file-reference-number to (parent, name) map kept in
// sync with the OS's change-journal facility, normalized into
// create/modify/rename/delete events.
package journal

import "time"

// FRN is an OS file-reference-number: an opaque, volume-unique id more
// stable across renames than a path. SentinelRoot is the FRN a path
// walk resolves to once it reaches the volume root.
type FRN uint64

// SentinelRoot marks the top of the FRN parent chain.
const SentinelRoot FRN = 0

// ReindexThreshold is how many journal records the watcher tolerates
// having missed (by USN distance) before preferring a full reindex over
// an incremental catch-up, since a catch-up that long has likely already
// wrapped parts of the journal.
const ReindexThreshold = 1_000_000

// EventKind classifies a normalized filesystem change.
type EventKind int

const (
	EventFileAdded EventKind = iota
	EventFileModified
	EventFileRemoved
	EventFileRenamed
	EventDirAdded
	EventDirRemoved
	EventDirRenamed
	EventResetAll
)

// String renders an EventKind for logging.
func (k EventKind) String() string {
	switch k {
	case EventFileAdded:
		return "file_added"
	case EventFileModified:
		return "file_modified"
	case EventFileRemoved:
		return "file_removed"
	case EventFileRenamed:
		return "file_renamed"
	case EventDirAdded:
		return "dir_added"
	case EventDirRemoved:
		return "dir_removed"
	case EventDirRenamed:
		return "dir_renamed"
	case EventResetAll:
		return "reset_all"
	default:
		return "unknown"
	}
}

// Event is a normalized change the watcher emits after classifying one or
// more raw journal records.
type Event struct {
	Kind EventKind
	Path string

	// OldPath is set for EventFileRenamed / EventDirRenamed.
	OldPath string

	// Closed is false for the periodic "still open for write" re-emit
	// update_longliving performs, so the indexer knows not to trust the
	// file's content yet.
	Closed bool

	Volume string
	Time   time.Time
}

// Entry is one row of the persistent FRN map: a file or directory's
// parent and name, enough to reconstruct a full path by walking upward.
type Entry struct {
	FRN      FRN
	ParentFRN FRN
	Name     string
	IsDir    bool
}

// VolumeState is the per-volume bookkeeping the watcher persists: which
// journal it last read from, and how far it has read.
type VolumeState struct {
	Volume        string
	JournalID     uint64
	LastUSN       int64
	IndexComplete bool
	Errored       bool
}

// Watcher is the platform-independent capability C2 exposes. Windows
// backs it with the real NTFS USN journal (see usnjournal_windows.go);
// other platforms fall back to a directory-snapshot poller that achieves
// the same normalized event stream at a coarser granularity.
type Watcher interface {
	// WatchDir ensures path's volume is tracked, triggering a full
	// reindex if needed. It emits no event for that reindex;
	// EventResetAll comes only from Update, when a volume cannot be read.
	WatchDir(path string) error

	// Update pulls all pending changes and returns the normalized
	// events produced since the last call.
	Update() ([]Event, error)

	// UpdateLongLiving re-emits EventFileModified(closed=false) for
	// every file currently open for write.
	UpdateLongLiving() ([]Event, error)

	// FreezeOpenWriteFiles snapshots the currently-open-for-write set so
	// a backup sees a stable list across its own indexing pass; it does
	// not suppress the periodic re-emit events themselves.
	FreezeOpenWriteFiles(freeze bool)

	// Close stops watching and releases OS resources.
	Close() error
}
