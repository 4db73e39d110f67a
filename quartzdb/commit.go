package quartzdb

import (
	"github.com/quartzdb/quartz/internal/qerr"
	"github.com/quartzdb/quartz/postlist"
)

// Commit flushes buffered posting-list changes into the postlist table,
// then applies every table's overlay in commit order (postlist first,
// records last): the records table's Apply is the durable commit point,
// since its revision number is what a reader treats as "current".
//
// On any error partway through, every table is forced to a shared revision
// two past the last fully-committed one with no data changes (the recovery
// invariant from §4.10), and the original error is re-raised so the caller
// knows the transaction did not apply.
func (db *DB) Commit() error {
	if !db.writable {
		return qerr.Unimplementedf("quartzdb: database not writable")
	}
	if err := db.checkFresh(); err != nil {
		return err
	}

	if err := db.flushPostingChanges(); err != nil {
		db.rollbackAndRecover()
		return err
	}

	newRevision := db.revision + 1
	for _, name := range tableNames {
		if err := db.tables[name].Apply(newRevision); err != nil {
			db.rollbackAndRecover()
			return err
		}
	}

	db.revision = newRevision
	db.pending = 0
	db.pendingPostings = nil
	if db.opts.Metrics != nil {
		db.opts.Metrics.Commits.Inc()
		db.opts.Metrics.PendingOps.Set(0)
	}
	return nil
}

// flushPostingChanges runs postlist.MergeChanges once per touched term,
// applying every staged TermChanges into the postlist table's overlay
// (still uncommitted at this point; Apply below makes it durable).
func (db *DB) flushPostingChanges() error {
	for _, tc := range db.pendingPostings {
		if err := postlist.MergeChanges(db.table("postlist"), tc); err != nil {
			return err
		}
	}
	return nil
}

// Cancel discards every table's overlay and all buffered document edits
// without touching disk state.
func (db *DB) Cancel() {
	for _, t := range db.tables {
		t.Cancel()
	}
	db.pending = 0
	db.pendingPostings = nil
	if db.opts.Metrics != nil {
		db.opts.Metrics.PendingOps.Set(0)
	}
}

// rollbackAndRecover discards in-memory overlay state on every table, then
// forces them all to revision+2 with empty changes so a subsequent open
// finds a single consistent revision again, matching the recovery
// invariant that protects a mid-commit crash. The handle itself becomes
// unusable for further writes and must be reopened.
func (db *DB) rollbackAndRecover() {
	for _, t := range db.tables {
		t.Rollback()
	}
	newRevision := db.revision + 2
	for _, name := range tableNames {
		// Best-effort: each table independently applies an empty change
		// set. A further failure here leaves the database to be repaired
		// by the next writable open's own recovery pass.
		_ = db.tables[name].Apply(newRevision)
	}
	db.stale = true
	if db.opts.Metrics != nil {
		db.opts.Metrics.Rollbacks.Inc()
	}
}
