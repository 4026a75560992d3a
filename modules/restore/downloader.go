package restore

import (
	"io"
	"os"
	"path/filepath"

	"github.com/uplo-tech/errors"

	"github.com/uroni/urbackup-backend-sub007/errkind"
	"github.com/uroni/urbackup-backend-sub007/modules/patcher"
	"github.com/uroni/urbackup-backend-sub007/types"
	"github.com/uroni/urbackup-backend-sub007/wire"
)

// FileFetcher fetches a file's full contents given its server_path extra
// param, the thing the transport layer (out of scope here) implements
// against the real control/data channel.
type FileFetcher interface {
	// Fetch opens a reader for serverPath's contents.
	Fetch(serverPath string) (io.ReadCloser, error)

	// FetchPatch opens a reassembly instruction stream against base,
	// used when a local copy of an older version already exists and a
	// chunked patch is cheaper than a full fetch.
	FetchPatch(serverPath string, base io.ReaderAt) (func() (patcher.Instruction, error), error)
}

// CancelFunc reports whether the in-progress restore has been asked to
// stop, checked at file boundaries.
type CancelFunc func() bool

// ProgressFunc is called after each file completes, with bytes
// transferred so far and the total the file list declared.
type ProgressFunc func(doneBytes, totalBytes uint64)

// Downloader drives the client side of a restore: walking a file list,
// materializing directories, and fetching or patching each file into
// place under Target.
type Downloader struct {
	Target  string
	Flags   types.RestoreFlags
	Fetcher FileFetcher
	Cancel  CancelFunc
	Progress ProgressFunc
}

// Run consumes entries (in the parent-first order BuildFileList produces)
// and materializes them under d.Target.
func (d *Downloader) Run(entries []wire.FileListEntry) error {
	var dirStack []string
	var doneBytes, totalBytes uint64
	for _, e := range entries {
		totalBytes += e.Size
	}

	keep := make(map[string]bool)
	for _, e := range entries {
		if d.Cancel != nil && d.Cancel() {
			return errkind.ErrCancelled
		}

		if e.Type == wire.EntryDir {
			if e.Name == ".." {
				if len(dirStack) > 0 {
					dirStack = dirStack[:len(dirStack)-1]
				}
				continue
			}
			dirStack = append(dirStack, e.Name)
			dirPath := filepath.Join(append([]string{d.Target}, dirStack...)...)
			if err := os.MkdirAll(dirPath, 0755); err != nil {
				return errors.AddContext(err, "restore: could not create directory")
			}
			keep[dirPath] = true
			continue
		}

		destPath := filepath.Join(append(append([]string{d.Target}, dirStack...), e.Name)...)
		keep[destPath] = true

		if err := d.fetchFile(e, destPath); err != nil {
			return errors.AddContext(err, "restore: could not fetch "+e.Name)
		}
		doneBytes += e.Size
		if d.Progress != nil {
			d.Progress(doneBytes, totalBytes)
		}
	}

	if d.Flags.CleanTarget {
		return d.cleanUnlisted(keep)
	}
	return nil
}

func (d *Downloader) fetchFile(e wire.FileListEntry, destPath string) error {
	serverPath := e.Extra["server_path"]

	if base, err := os.Open(destPath); err == nil {
		next, ferr := d.Fetcher.FetchPatch(serverPath, base)
		if ferr == nil {
			return d.applyPatch(destPath, base, next)
		}
		base.Close()
	}

	rc, err := d.Fetcher.Fetch(serverPath)
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.Create(destPath)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, rc)
	return err
}

func (d *Downloader) applyPatch(destPath string, base *os.File, next func() (patcher.Instruction, error)) error {
	defer base.Close()

	tmpPath := destPath + ".restoring"
	out, err := os.Create(tmpPath)
	if err != nil {
		return err
	}

	reassembler := patcher.NewReassembler(base, out)
	written, err := reassembler.Apply(next)
	if err != nil {
		out.Close()
		return patcher.FinalizeIncomplete(tmpPath, written, true)
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, destPath)
}

// cleanUnlisted removes every file under d.Target not present in keep,
// honoring Flags.CleanTarget.
func (d *Downloader) cleanUnlisted(keep map[string]bool) error {
	return filepath.Walk(d.Target, func(path string, info os.FileInfo, err error) error {
		if err != nil || path == d.Target {
			return nil
		}
		if keep[path] {
			return nil
		}
		if info.IsDir() {
			return os.RemoveAll(path)
		}
		return os.Remove(path)
	})
}
