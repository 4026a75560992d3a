//go:build windows

package journal

import (
	"path/filepath"

	"github.com/uroni/urbackup-backend-sub007/persist"
)

// NewWatcher opens the persistent FRN map under dataDir and returns the
// real NTFS USN journal watcher.
func NewWatcher(dataDir string, log *persist.Logger) (Watcher, error) {
	frnMap, err := OpenFRNMap(filepath.Join(dataDir, "frnmap.db"))
	if err != nil {
		return nil, err
	}
	return NewUSNWatcher(frnMap, log), nil
}
