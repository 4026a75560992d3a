// Package cleanup implements the C10 retention sweep: marking backups for
// removal under disk pressure or a retention floor, then actually
// reclaiming their file entries and storage in a second pass, the same
// mark-then-sweep split the two-phase delete_pending flag requires.
package cleanup

import (
	"sort"

	"github.com/uplo-tech/errors"

	"github.com/uroni/urbackup-backend-sub007/modules/backupstore"
	"github.com/uroni/urbackup-backend-sub007/modules/fileentry"
	"github.com/uroni/urbackup-backend-sub007/types"
)

// DiskPressureFunc reports whether storage is still under pressure and
// another backup should be marked for removal. It is consulted before
// each mark so the sweep can stop as soon as pressure clears rather than
// over-pruning to satisfy a fixed count.
type DiskPressureFunc func() bool

// Policy configures one sweep.
type Policy struct {
	// MinBackupsPerClient is the retention floor: a client is never
	// pruned below this many backups regardless of disk pressure.
	MinBackupsPerClient int

	// UnderPressure reports whether the sweep should keep marking more
	// backups for removal. A nil func never stops the marking early:
	// backups are marked oldest-first down to MinBackupsPerClient.
	UnderPressure DiskPressureFunc

	// EnableUpdateStats is called exactly once when the sweep finishes,
	// on both the success and failure path, resuming the statistics
	// recomputation this sweep suspends while it runs.
	EnableUpdateStats func()

	// Defragment requests a file-entry database compaction once the
	// sweep has finished removing rows, reclaiming the free pages the
	// splices above leave behind.
	Defragment bool
}

// Sweeper owns the backup metadata table and the file-entry store it
// drives removals through.
type Sweeper struct {
	backups *backupstore.Store
	entries *fileentry.Store
}

// New creates a Sweeper over the given stores.
func New(backups *backupstore.Store, entries *fileentry.Store) *Sweeper {
	return &Sweeper{backups: backups, entries: entries}
}

// Run performs one full mark-then-sweep pass under policy. It always
// invokes policy.EnableUpdateStats exactly once before returning,
// including on error, matching the defer-guaranteed contract for
// statistics recomputation.
func (s *Sweeper) Run(policy Policy) (err error) {
	if policy.EnableUpdateStats != nil {
		defer policy.EnableUpdateStats()
	}

	if err = s.markForDeletion(policy); err != nil {
		return errors.AddContext(err, "cleanup: mark phase failed")
	}
	if err = s.sweepPending(); err != nil {
		return errors.AddContext(err, "cleanup: sweep phase failed")
	}

	if policy.Defragment {
		if err = s.entries.Defragment(); err != nil {
			return errors.AddContext(err, "cleanup: defragment failed")
		}
	}
	return nil
}

// markForDeletion flags the oldest eligible backups with DeletePending,
// oldest first, per client, stopping once the retention floor is hit or
// UnderPressure reports the disk is no longer under pressure.
func (s *Sweeper) markForDeletion(policy Policy) error {
	byClient := make(map[uint64][]types.Backup)
	err := s.backups.Range(func(b types.Backup) bool {
		byClient[b.ClientID] = append(byClient[b.ClientID], b)
		return true
	})
	if err != nil {
		return err
	}

	for _, backups := range byClient {
		sort.Slice(backups, func(i, j int) bool {
			return backups[i].BackupTime.Before(backups[j].BackupTime)
		})

		active := 0
		for _, b := range backups {
			if !b.DeletePending {
				active++
			}
		}

		for _, b := range backups {
			if active <= policy.MinBackupsPerClient {
				break
			}
			if policy.UnderPressure != nil && !policy.UnderPressure() {
				break
			}
			if b.DeletePending || b.Archived {
				continue
			}
			if referenced, err := s.isReferenced(b.ID); err != nil {
				return err
			} else if referenced {
				// Cascade rule: a referenced image cannot be marked
				// before its referent, so skip it this round; it
				// becomes eligible once the referencing backup is
				// swept away.
				continue
			}
			b.DeletePending = true
			if err := s.backups.Put(b); err != nil {
				return err
			}
			active--
		}
	}
	return nil
}

// sweepPending actually removes every backup currently flagged
// DeletePending, provided nothing still references it. Every file entry
// across every eligible backup in this sweep is spliced out through a
// single fileentry.CorrectionBatch, so a sweep over thousands of removes
// costs one WAL transaction instead of one per entry.
func (s *Sweeper) sweepPending() error {
	var pending []types.Backup
	err := s.backups.Range(func(b types.Backup) bool {
		if b.DeletePending {
			pending = append(pending, b)
		}
		return true
	})
	if err != nil {
		return err
	}

	batch := s.entries.NewCorrectionBatch(types.EntryID(0), types.EntryID(^uint64(0)))

	var eligible []types.Backup
	for _, b := range pending {
		referenced, err := s.isReferenced(b.ID)
		if err != nil {
			return err
		}
		if referenced {
			continue
		}
		if err := s.spliceOutBackup(batch, b); err != nil {
			return errors.AddContext(err, "cleanup: failed removing backup")
		}
		eligible = append(eligible, b)
	}

	if len(eligible) == 0 {
		return nil
	}
	if err := batch.Flush(); err != nil {
		return errors.AddContext(err, "cleanup: correction batch flush failed")
	}

	for _, b := range eligible {
		if err := s.backups.Delete(b.ID); err != nil {
			return errors.AddContext(err, "cleanup: failed deleting backup row")
		}
	}
	return nil
}

func (s *Sweeper) isReferenced(id types.BackupID) (bool, error) {
	refs, err := s.backups.ReferencingAssoc(id)
	if err != nil {
		return false, err
	}
	for _, refID := range refs {
		b, err := s.backups.Get(refID)
		if err != nil {
			continue
		}
		if !b.DeletePending {
			return true, nil
		}
	}
	return false, nil
}

// spliceOutBackup walks every file entry belonging to b and records its
// removal in batch, repairing the sibling list and index in memory
// without touching the database; the caller flushes the batch once for
// every backup in the sweep and deletes the backup rows afterward.
func (s *Sweeper) spliceOutBackup(batch *fileentry.CorrectionBatch, b types.Backup) error {
	var ids []types.EntryID
	err := s.entries.Range(func(e types.FileEntry) bool {
		if e.BackupID == uint64(b.ID) {
			ids = append(ids, e.ID)
		}
		return true
	})
	if err != nil {
		return err
	}

	for _, id := range ids {
		if err := batch.Remove(id); err != nil {
			return errors.AddContext(err, "cleanup: could not stage file entry removal")
		}
	}
	return nil
}
