//go:build !windows

package journal

import (
	"github.com/uroni/urbackup-backend-sub007/persist"
)

// NewWatcher returns the directory-snapshot poller every non-Windows
// platform falls back to. dataDir is unused here: the poller keeps its
// snapshots in memory rather than persisting them, since a restart is
// cheap to recover from with a fresh walk.
func NewWatcher(dataDir string, log *persist.Logger) (Watcher, error) {
	return NewPollWatcher(log), nil
}
