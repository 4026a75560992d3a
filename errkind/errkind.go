// Package errkind declares the sentinel errors shared across the backup
// core, so callers can classify a failure with errors.Contains instead of
// string-matching.
package errkind

import "github.com/uplo-tech/errors"

var (
	// ErrNotExist is returned when a lookup (index, file-entry store,
	// volume map) finds no matching record.
	ErrNotExist = errors.New("errkind: record does not exist")

	// ErrIndexCorruption is returned when an index hit resolves to a
	// missing FileEntry, or one with a mismatched hash/size/client. The
	// caller is expected to log it as fatal for the current backup and
	// trigger the opportunistic repair path.
	ErrIndexCorruption = errors.New("errkind: index resolved to an inconsistent file entry")

	// ErrBufferFull is returned by the delayed-write index when its
	// active buffer has reached capacity and the caller must wait for a
	// flush before retrying.
	ErrBufferFull = errors.New("errkind: delayed-write buffer is full")

	// ErrShuttingDown is returned by any long-running operation started
	// after shutdown has begun.
	ErrShuttingDown = errors.New("errkind: component is shutting down")

	// ErrReflinkUnsupported is returned by a BackupFileSystem
	// implementation when the underlying filesystem does not support
	// copy-on-write clones.
	ErrReflinkUnsupported = errors.New("errkind: filesystem does not support reflinks")

	// ErrHardlinkUnsafe is returned when linking a file would push its
	// hardlink count past the configured safety margin.
	ErrHardlinkUnsafe = errors.New("errkind: hardlink count too close to filesystem limit")

	// ErrJournalNotActive is returned when a volume's change journal
	// could not be opened and the OS refused to create one.
	ErrJournalNotActive = errors.New("errkind: change journal is not active")

	// ErrJournalDeletedMidRead is returned when the change journal was
	// deleted and recreated while records were being read from it.
	ErrJournalDeletedMidRead = errors.New("errkind: change journal deleted during read")

	// ErrReindexNeeded signals to a watcher's caller that the volume
	// needs a full reindex before incremental updates can resume.
	ErrReindexNeeded = errors.New("errkind: volume requires a full reindex")

	// ErrChunkMismatch is returned by the patcher when a chunk's strong
	// hash does not match what was requested after the literal-bytes
	// fallback was exhausted.
	ErrChunkMismatch = errors.New("errkind: chunk content does not match expected hash")

	// ErrWholeFileHashMismatch is returned when a reconstructed file's
	// whole-file hash does not match the expected value after retrying.
	ErrWholeFileHashMismatch = errors.New("errkind: reconstructed file hash mismatch")

	// ErrPathOutsideRoot is returned when a FileEntry or restore target
	// path resolves outside the configured backup root.
	ErrPathOutsideRoot = errors.New("errkind: path escapes configured backup root")

	// ErrProcessNotFound is returned by the status registry when a
	// caller references a process id no longer tracked.
	ErrProcessNotFound = errors.New("errkind: process not found")

	// ErrRestoreSessionNotFound is returned when a restore download
	// references a session that does not exist or already finished.
	ErrRestoreSessionNotFound = errors.New("errkind: restore session not found")

	// ErrCancelled is returned by cooperative workers that observed a
	// stop request at a chunk boundary.
	ErrCancelled = errors.New("errkind: operation cancelled")
)
