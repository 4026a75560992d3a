package dedup

import (
	"path/filepath"
	"sync/atomic"
	"syscall"

	"github.com/uplo-tech/errors"

	"github.com/uroni/urbackup-backend-sub007/errkind"
	"github.com/uroni/urbackup-backend-sub007/modules/fileentry"
	"github.com/uroni/urbackup-backend-sub007/modules/fileindex"
	"github.com/uroni/urbackup-backend-sub007/persist"
	"github.com/uroni/urbackup-backend-sub007/types"
)

// NotEnoughSpaceFunc is called synchronously when a link or copy fails
// for lack of disk space. It should attempt to free space and report
// whether the caller should retry.
type NotEnoughSpaceFunc func(path string) (retry bool)

// Stats accumulates per-file outcome counters, exposed so a backup run
// can report how much dedup actually saved.
type Stats struct {
	ExactHits    uint64
	AnyClientHits uint64
	Misses       uint64
	ReflinkUsed  uint64
	HardlinkUsed uint64
	CopiedInline uint64
	Repaired     uint64
	Failed       uint64
}

// IncomingFile describes a file the sink has just received (or is about
// to request via the chunked patcher) and needs to place in the store.
type IncomingFile struct {
	BackupID         types.BackupID
	ClientID         uint64
	IncrementalLevel int
	RelPath          string // path relative to the backup root, used to build Fullpath
	Hash             types.Hash
	Size             uint64
	HashpathData     []byte // serialized chunk-hash sidecar to persist alongside Fullpath
}

// Sink is the dedup decision engine (C5). It owns no storage state of its
// own beyond what FileEntry/Index already track; nextID and
// storageRoot tell it how to name newly created objects.
type Sink struct {
	entries *fileentry.Store
	index   *fileindex.Index
	fs      BackupFileSystem
	log     *persist.Logger

	storageRoot string
	nextID      uint64

	notEnoughSpace NotEnoughSpaceFunc

	// repair resolves a broken index entry to a corrected storage path,
	// installed by the cleanup subsystem, which owns the moved-client
	// tracking the repair needs.
	repair RepairFunc

	Stats Stats
}

// RepairFunc resolves an index entry whose storage path could not be
// opened to a corrected entry id, per the corrective-path-repair step.
type RepairFunc func(brokenID types.EntryID) (types.EntryID, error)

// SetRepairFunc installs the repair hook. Called once during wiring.
func (s *Sink) SetRepairFunc(fn RepairFunc) {
	s.repair = fn
}

// New creates a Sink backed by entries/index/fs, rooted at storageRoot
// for new content objects. startID seeds the monotonic entry id
// allocator above the highest id currently in use.
func New(entries *fileentry.Store, index *fileindex.Index, fs BackupFileSystem, log *persist.Logger, storageRoot string, startID uint64, notEnoughSpace NotEnoughSpaceFunc) *Sink {
	return &Sink{
		entries:        entries,
		index:          index,
		fs:             fs,
		log:            log,
		storageRoot:    storageRoot,
		nextID:         startID,
		notEnoughSpace: notEnoughSpace,
	}
}

func (s *Sink) allocID() types.EntryID {
	return types.EntryID(atomic.AddUint64(&s.nextID, 1))
}

// Ingest runs the per-file decision in 4.4 for f, returning the FileEntry
// it inserted.
func (s *Sink) Ingest(f IncomingFile) (types.FileEntry, error) {
	var lastErr error
	for attempt := 0; attempt <= NoSpcRetries; attempt++ {
		entry, err := s.ingestOnce(f)
		if err == nil {
			return entry, nil
		}
		if !errors.Contains(err, errNoSpace) {
			s.Stats.Failed++
			return types.FileEntry{}, err
		}
		lastErr = err
		if s.notEnoughSpace == nil || !s.notEnoughSpace(s.fullpath(f)) {
			break
		}
	}
	s.Stats.Failed++
	return types.FileEntry{}, errors.AddContext(lastErr, "dedup: giving up on file after retries")
}

var errNoSpace = errors.New("dedup: not enough space")

func (s *Sink) ingestOnce(f IncomingFile) (types.FileEntry, error) {
	key := types.IndexKey{Hash: f.Hash, Size: f.Size, Client: f.ClientID}

	// Step 2: exact hit on this client's own chain.
	if id, ok, err := s.index.GetExact(key); err != nil {
		return types.FileEntry{}, err
	} else if ok {
		entry, err := s.linkExisting(f, id, false)
		if err == nil {
			s.Stats.ExactHits++
			return entry, nil
		}
		if errors.Contains(err, errNoSpace) {
			return types.FileEntry{}, err
		}
		if repaired, rerr := s.tryRepair(f, id); rerr == nil {
			s.Stats.Repaired++
			return repaired, nil
		}
		s.log.Println("ERROR: dedup: exact hit could not be linked, falling back:", err)
	}

	// Step 2: any-client hit.
	if f.Size >= LinkFileMinSize {
		if client, id, ok, err := s.index.GetAnyClient(f.Hash, f.Size); err != nil {
			return types.FileEntry{}, err
		} else if ok && client != f.ClientID {
			entry, err := s.linkExisting(f, id, true)
			if err == nil {
				s.Stats.AnyClientHits++
				return entry, nil
			}
			if errors.Contains(err, errNoSpace) {
				return types.FileEntry{}, err
			}
			s.log.Println("ERROR: dedup: any-client hit could not be linked, storing fresh:", err)
		}
	}

	// Miss: store a fresh copy and become the head of a new list.
	return s.storeFresh(f)
}

// linkExisting links f onto srcID's storage object, inserting a new
// FileEntry. If head is true, the new entry becomes the head of a new
// per-client list (pointed_to=1, index updated); otherwise it's appended
// to the existing client's list without touching the index.
func (s *Sink) linkExisting(f IncomingFile, srcID types.EntryID, head bool) (types.FileEntry, error) {
	src, err := s.entries.Lookup(srcID)
	if err != nil {
		return types.FileEntry{}, err
	}

	dst := f.dstFullpath(s)
	method, err := s.link(src.Fullpath, dst, f.Size)
	if err != nil {
		return types.FileEntry{}, err
	}

	entry := types.FileEntry{
		ID:               s.allocID(),
		BackupID:         uint64(f.BackupID),
		ClientID:         f.ClientID,
		IncrementalLevel: f.IncrementalLevel,
		Fullpath:         dst,
		Hashpath:         dst + ".chash",
		Hash:             f.Hash,
		Size:             f.Size,
		RealSize:         0,
		PointedTo:        head,
	}

	req := fileentry.AddRequest{Entry: entry, UpdateFileIndex: head}
	if !head {
		// Append to the tail of this client's existing list: find the
		// current tail by walking from the index's resolved head. The
		// index necessarily still resolves to src's chain head; reuse
		// src as the insertion point's neighbour when src has no next,
		// else walk forward.
		tail := src
		for tail.NextEntry != 0 {
			next, err := s.entries.Lookup(tail.NextEntry)
			if err != nil {
				return types.FileEntry{}, err
			}
			tail = next
		}
		entry.PrevEntry = tail.ID
		entry.RealSize = 0
		req.Entry = entry
	} else {
		entry.RealSize = method.realSize(f.Size)
		req.Entry = entry
	}

	if err := s.entries.Add(req); err != nil {
		return types.FileEntry{}, err
	}
	return req.Entry, nil
}

// storeFresh accepts the whole upload as new storage content.
func (s *Sink) storeFresh(f IncomingFile) (types.FileEntry, error) {
	dst := f.dstFullpath(s)
	s.Stats.Misses++

	entry := types.FileEntry{
		ID:               s.allocID(),
		BackupID:         uint64(f.BackupID),
		ClientID:         f.ClientID,
		IncrementalLevel: f.IncrementalLevel,
		Fullpath:         dst,
		Hashpath:         dst + ".chash",
		Hash:             f.Hash,
		Size:             f.Size,
		RealSize:         f.Size,
		PointedTo:        true,
	}
	req := fileentry.AddRequest{Entry: entry, UpdateFileIndex: true}
	if err := s.entries.Add(req); err != nil {
		return types.FileEntry{}, err
	}
	return entry, nil
}

// linkMethod records which mechanism actually placed dst's bytes on
// storage, so callers can charge real_size accordingly instead of
// assuming every link is free.
type linkMethod int

const (
	linkMethodReflink linkMethod = iota
	linkMethodHardlink
	linkMethodCopy
)

// realSize is the disk-usage accounting figure for a client that links
// onto existing content via method, per S1: a reflink is a true
// copy-on-write clone and costs nothing until a future write diverges
// it, a hardlink only adds a directory entry so it is charged at the
// link-accounting floor, and a fallback copy occupies size bytes same
// as storing fresh.
func (m linkMethod) realSize(size uint64) uint64 {
	switch m {
	case linkMethodReflink:
		return 0
	case linkMethodHardlink:
		return LinkFileMinSize
	default:
		return size
	}
}

// link attempts reflink, then a safety-gated hardlink, then a full copy,
// in that order, honoring the minimum-link-size gate.
func (s *Sink) link(src, dst string, size uint64) (linkMethod, error) {
	if size < LinkFileMinSize {
		return linkMethodCopy, s.copyInline(src, dst)
	}
	if err := s.fs.Reflink(src, dst); err == nil {
		s.Stats.ReflinkUsed++
		return linkMethodReflink, nil
	} else if !errors.Contains(err, errkind.ErrReflinkUnsupported) {
		return linkMethodReflink, translateIOErr(err)
	}

	if err := s.fs.Hardlink(src, dst); err == nil {
		s.Stats.HardlinkUsed++
		return linkMethodHardlink, nil
	} else if !errors.Contains(err, errkind.ErrHardlinkUnsafe) {
		return linkMethodHardlink, translateIOErr(err)
	}

	return linkMethodCopy, s.copyInline(src, dst)
}

func (s *Sink) copyInline(src, dst string) error {
	if err := s.fs.Copy(src, dst); err != nil {
		s.Stats.Failed++
		return translateIOErr(err)
	}
	s.Stats.CopiedInline++
	return nil
}

// tryRepair attempts to rewrite a broken index resolution's storage path
// to a known-moved location and retry linking. Repair ownership lives in
// cleanup; this calls into a pluggable resolver.
func (s *Sink) tryRepair(f IncomingFile, brokenID types.EntryID) (types.FileEntry, error) {
	if s.repair == nil {
		return types.FileEntry{}, errkind.ErrIndexCorruption
	}
	fixed, err := s.repair(brokenID)
	if err != nil {
		return types.FileEntry{}, errors.Compose(errkind.ErrIndexCorruption, err)
	}
	return s.linkExisting(f, fixed, false)
}

func (s *Sink) fullpath(f IncomingFile) string {
	return f.dstFullpath(s)
}

func (f IncomingFile) dstFullpath(s *Sink) string {
	return filepath.Join(s.storageRoot, "content", shardedName(f.Hash))
}

func shardedName(h types.Hash) string {
	hex := h.String()
	if len(hex) < 4 {
		return hex
	}
	return filepath.Join(hex[:2], hex[2:4], hex)
}

func translateIOErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Contains(err, syscall.ENOSPC) {
		return errors.Compose(errNoSpace, err)
	}
	return err
}
