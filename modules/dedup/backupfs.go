// Package dedup implements the server-side dedup sink (C5): given a
// freshly received file, decide whether to link it to existing content,
// patch it from an older version, or store it fresh, while preserving
// invariants I1-I5 of the file store.
package dedup

import "io"

// BackupFileSystem is the storage capability the sink needs from the
// server's backup root: reflink (copy-on-write clone), hardlink, and the
// plain file operations every fallback eventually bottoms out at. A
// filesystem that supports neither reflink nor a safe hardlink must still
// satisfy this interface by falling back to Copy.
type BackupFileSystem interface {
	// Reflink creates dst as a copy-on-write clone of src. Returns
	// errkind.ErrReflinkUnsupported if the filesystem cannot do this.
	Reflink(src, dst string) error

	// Hardlink creates dst as an additional name for src's inode.
	// Returns errkind.ErrHardlinkUnsafe if linking src would push its
	// link count within HardlinkSafetyMargin of the filesystem's limit.
	Hardlink(src, dst string) error

	// LinkCount returns the number of hardlinks currently pointing at
	// path's inode.
	LinkCount(path string) (int, error)

	// Copy performs a full byte-for-byte copy of src to dst.
	Copy(src, dst string) error

	// Open opens path for reading.
	Open(path string) (io.ReadCloser, error)

	// Create opens path for writing, creating parent directories as
	// needed.
	Create(path string) (io.WriteCloser, error)

	// Remove deletes path.
	Remove(path string) error
}

// HardlinkSafetyMargin is how far below a filesystem's hardlink limit the
// sink refuses to add another link, preserving headroom for future
// references to the same content.
const HardlinkSafetyMargin = 32

// LinkFileMinSize is the smallest file size the sink will ever link
// instead of copying inline; below it, link metadata overhead can exceed
// the space a dedup link would save.
const LinkFileMinSize = 2048

// NoSpcRetries is how many times the sink retries a single file after
// handle_not_enough_space reports it freed space, before failing just
// that file.
const NoSpcRetries = 3
