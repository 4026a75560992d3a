// Package restore implements the download/restore engine: the
// server-side tree walk and transient share bookkeeping (C7), and the
// client-side receive/patch loop (C8).
package restore

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/uplo-tech/errors"
	"github.com/uplo-tech/fastrand"

	"github.com/uroni/urbackup-backend-sub007/errkind"
	"github.com/uroni/urbackup-backend-sub007/types"
	"github.com/uroni/urbackup-backend-sub007/wire"
)

// PoolMarker is the directory name marking where the dedup pool lives,
// outside any single backup's tree.
const PoolMarker = ".directory_pool"

// TokenTTL is how long a share token remains valid after creation without
// being renewed by restore progress.
const TokenTTL = 30 * time.Minute

// MetadataLookup resolves a file's sidecar-derived metadata (hash,
// permissions, timestamps, ACLs/xattrs) given its on-disk hashpath. The
// dedup sink and file-entry store are the source of truth for this; the
// engine only needs read access to it while walking.
type MetadataLookup func(hashpath string) (FileMetadata, error)

// FileMetadata is the sidecar-derived metadata attached to every emitted
// file-list entry.
type FileMetadata struct {
	Hash       types.Hash
	TreeHash   types.Hash
	Size       uint64
	ModTime    time.Time
	Attributes map[string]string // arbitrary OS-specific extras (perm bits, ACL blob refs, ...)
}

// Options configures one BuildFileList walk.
type Options struct {
	Subpath        string
	FollowSymlinks bool
	Filter         func(relPath string) bool // nil means "include everything"
}

// Engine walks an on-disk backup tree rooted at Root and resolves
// symlinks into Pool, the dedup-pool directory living outside any single
// backup's own tree.
type Engine struct {
	Root     string
	Pool     string
	Metadata MetadataLookup
}

// NewEngine creates an Engine over a backup rooted at root, resolving
// pool-directory symlinks against pool.
func NewEngine(root, pool string, metadata MetadataLookup) *Engine {
	return &Engine{Root: root, Pool: pool, Metadata: metadata}
}

// BuildFileList walks the tree under opts.Subpath and returns the
// parent-first sequence of wire.FileListEntry the client consumes.
func (e *Engine) BuildFileList(opts Options) ([]wire.FileListEntry, error) {
	start := e.Root
	if opts.Subpath != "" {
		start = filepath.Join(e.Root, opts.Subpath)
	}

	w := &walker{engine: e, opts: opts, visited: make(map[string]bool)}
	if err := w.walkDir(start, ""); err != nil {
		return nil, err
	}
	return w.entries, nil
}

type walker struct {
	engine  *Engine
	opts    Options
	entries []wire.FileListEntry
	visited map[string]bool
}

func (w *walker) walkDir(absPath, relPath string) error {
	if w.visited[absPath] {
		return nil
	}
	w.visited[absPath] = true

	infos, err := os.ReadDir(absPath)
	if err != nil {
		return errors.AddContext(err, "restore: could not read directory")
	}

	opened := relPath != ""
	if opened {
		w.entries = append(w.entries, wire.DirOpen(filepath.Base(absPath), map[string]string{
			"orig_path": relPath,
		}))
	}

	for _, info := range infos {
		childRel := filepath.Join(relPath, info.Name())
		childAbs := filepath.Join(absPath, info.Name())

		if w.opts.Filter != nil && !w.opts.Filter(childRel) {
			continue
		}

		fi, err := info.Info()
		if err != nil {
			continue // permission-denied et al: log at WARN in a full deployment, omit
		}

		if fi.Mode()&os.ModeSymlink != 0 {
			if err := w.handleSymlink(childAbs, childRel); err != nil {
				return err
			}
			continue
		}

		if fi.IsDir() {
			if err := w.walkDir(childAbs, childRel); err != nil {
				return err
			}
			continue
		}

		entry, err := w.fileEntry(childAbs, childRel, fi.Size(), fi.ModTime())
		if err != nil {
			continue
		}
		w.entries = append(w.entries, entry)
	}

	if opened {
		w.entries = append(w.entries, wire.DirClose())
	}
	return nil
}

// handleSymlink resolves a symlink into the dedup pool. A target that
// escapes the pool root is skipped silently rather than failed, per
// the restore engine's symlink-escape policy.
func (w *walker) handleSymlink(absPath, relPath string) error {
	target, err := os.Readlink(absPath)
	if err != nil {
		return nil
	}
	resolved := target
	if !filepath.IsAbs(target) {
		resolved = filepath.Join(filepath.Dir(absPath), target)
	}
	resolved = filepath.Clean(resolved)

	if !withinRoot(resolved, w.engine.Pool) {
		// Escapes the pool root: skipped, not fatal.
		return nil
	}

	if w.visited[resolved] {
		return nil
	}

	if !w.opts.FollowSymlinks {
		return nil
	}

	fi, err := os.Stat(resolved)
	if err != nil {
		return nil
	}
	if fi.IsDir() {
		return w.walkDir(resolved, relPath)
	}
	entry, err := w.fileEntry(resolved, relPath, fi.Size(), fi.ModTime())
	if err != nil {
		return nil
	}
	w.entries = append(w.entries, entry)
	return nil
}

func (w *walker) fileEntry(absPath, relPath string, size int64, modTime time.Time) (wire.FileListEntry, error) {
	extra := map[string]string{
		"orig_path": relPath,
	}
	if w.engine.Metadata != nil {
		if meta, err := w.engine.Metadata(absPath + ".hash"); err == nil {
			extra["sha"] = meta.Hash.String()
			if !meta.TreeHash.IsZero() {
				extra["thash"] = meta.TreeHash.String()
			}
			for k, v := range meta.Attributes {
				extra[k] = v
			}
		}
	}
	return wire.FileListEntry{
		Type:    wire.EntryFile,
		Name:    filepath.Base(relPath),
		Size:    uint64(size),
		ModTime: modTime,
		Extra:   extra,
	}, nil
}

func withinRoot(path, root string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel == "." || !strings.HasPrefix(rel, "..")
}

// Share is one transient authenticated mapping from an identity token to
// a directory or file the client is allowed to fetch during a restore.
type Share struct {
	Token      string
	ClientDLID int
	Path       string
	IsFileList bool
	Created    time.Time
}

// ShareRegistry issues and expires the clientdl<N>/clientdl_filelist
// shares a restore download exposes, one per active restore session.
type ShareRegistry struct {
	mu     sync.Mutex
	shares map[string]*Share
	nextID int
}

// NewShareRegistry creates an empty registry.
func NewShareRegistry() *ShareRegistry {
	return &ShareRegistry{shares: make(map[string]*Share)}
}

// NewDirShare mints a clientdl<N> share pointing at path, authenticated by
// a fresh random 16-byte token.
func (r *ShareRegistry) NewDirShare(path string) *Share {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	s := &Share{
		Token:      randomToken(),
		ClientDLID: r.nextID,
		Path:       path,
		Created:    time.Now(),
	}
	r.shares[s.Token] = s
	return s
}

// NewFileListShare mints the clientdl_filelist share for path (the
// generated file-list file itself).
func (r *ShareRegistry) NewFileListShare(path string) *Share {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := &Share{
		Token:      randomToken(),
		Path:       path,
		IsFileList: true,
		Created:    time.Now(),
	}
	r.shares[s.Token] = s
	return s
}

// Resolve returns the share for token, if it exists and has not expired.
func (r *ShareRegistry) Resolve(token string) (*Share, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.shares[token]
	if !ok {
		return nil, errkind.ErrRestoreSessionNotFound
	}
	if time.Since(s.Created) > TokenTTL {
		delete(r.shares, token)
		return nil, errkind.ErrRestoreSessionNotFound
	}
	return s, nil
}

// Revoke removes token, called on restore completion.
func (r *ShareRegistry) Revoke(token string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.shares, token)
}

// SweepExpired removes every share older than TokenTTL, for a background
// timer to call periodically alongside status.Registry's own timeout
// sweep.
func (r *ShareRegistry) SweepExpired() {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := time.Now().Add(-TokenTTL)
	for token, s := range r.shares {
		if s.Created.Before(cutoff) {
			delete(r.shares, token)
		}
	}
}

func randomToken() string {
	const hex = "0123456789abcdef"
	raw := fastrand.Bytes(16)
	out := make([]byte, 32)
	for i, b := range raw {
		out[2*i] = hex[b>>4]
		out[2*i+1] = hex[b&0xf]
	}
	return string(out)
}
