package types

import "time"

// BackupID identifies a Backup row.
type BackupID uint64

// Backup identifies one backup run: a (client, timestamp, incremental
// level, root path) tuple plus lifecycle flags. A Backup references many
// FileEntry rows; deleting it removes its entries and triggers the
// cleanup sweep that prunes any content group left without a pointed-to
// entry.
type Backup struct {
	ID               BackupID
	ClientID         uint64
	Path             string
	BackupTime       time.Time
	IncrementalLevel int

	Complete       bool
	Archived       bool
	ArchiveTimeout time.Time
	DeletePending  bool

	// SizeBytes is the logical size of all files referenced by the
	// backup, independent of how much storage dedup actually occupies.
	SizeBytes uint64

	// AssocImageID is the BackupID of the image backup this one is an
	// incremental delta against, or 0 for a full image/file backup with
	// no referent. Cleanup must not remove the referent before every
	// backup that names it here has already been removed.
	AssocImageID BackupID
}

// IsIncremental reports whether b references files unchanged since an
// earlier backup rather than being a full backup in its own right.
func (b Backup) IsIncremental() bool {
	return b.IncrementalLevel > 0
}

// RestoreSessionID identifies an in-progress client restore (C7/C8).
type RestoreSessionID string

// RestoreSession tracks a restore a client has accepted but not yet
// finished. It is created when the client acknowledges the restore offer
// and destroyed when the client reports completion or the server times it
// out.
type RestoreSession struct {
	RestoreID     RestoreSessionID
	ClientID      uint64
	IdentityToken string
	LogID         uint64
	StatusID      uint64
	RelPath       string

	Started time.Time
	Flags   RestoreFlags
}

// RestoreFlags carries the restore options a client requested.
type RestoreFlags struct {
	// CleanTarget removes files in the destination not present in the
	// backup being restored.
	CleanTarget bool
	// FollowSymlinks restores symlink targets' content instead of the
	// symlink itself, matching how the backup captured them.
	FollowSymlinks bool
}
