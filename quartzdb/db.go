package quartzdb

import (
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/quartzdb/quartz/internal/qerr"
	"github.com/quartzdb/quartz/postlist"
	"github.com/quartzdb/quartz/record"
	"github.com/quartzdb/quartz/table"
)

// tableNames lists every on-disk table in commit order: postlist first,
// records last, matching the control-flow rule that the records table's
// revision defines what is "committed".
var tableNames = []string{"postlist", "position", "termlist", "value", "record"}

const recordTable = "record"

// DB is an open handle onto one database directory: five tables opened at a
// mutually consistent revision, plus (for a writable handle) the lock file
// and buffered pending-operation count driving auto-flush.
type DB struct {
	dir  string
	opts Options

	tables map[string]*table.Table

	revision uint32
	writable bool
	lockFile *os.File

	pending           int
	stale             bool
	suppressAutoFlush bool

	pendingPostings map[string]*postlist.TermChanges
}

// Create initializes a brand-new, empty database directory and opens it
// writable.
func Create(dir string, opts Options) (*DB, error) {
	opts.ensureDefaults()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, qerr.OpenFailedf("quartzdb: create dir %s: %v", dir, err)
	}
	lockFile, err := acquireLock(dir)
	if err != nil {
		return nil, err
	}
	tables := make(map[string]*table.Table, len(tableNames))
	for _, name := range tableNames {
		t, err := table.Create(dir, name, table.Options{
			BlockSize: opts.BlockSize,
			Compress:  opts.Compress,
			Stats:     opts.Stats,
		})
		if err != nil {
			releaseLock(lockFile)
			return nil, err
		}
		tables[name] = t
	}
	return &DB{dir: dir, opts: opts, tables: tables, revision: 0, writable: true, lockFile: lockFile}, nil
}

// Open opens the database read-only at the records table's committed
// revision, retrying (per §4.10) if the other tables have not yet caught up
// to that revision.
func Open(dir string, opts Options) (*DB, error) {
	opts.ensureDefaults()
	for attempt := 0; attempt < opts.MaxOpenRetries; attempt++ {
		rt, err := table.OpenLatest(dir, recordTable, tableOpts(opts), false)
		if err != nil {
			return nil, err
		}
		r := rt.Revision()

		tables := map[string]*table.Table{recordTable: rt}
		ok, err := openOthersAt(dir, opts, r, tables)
		if err != nil {
			closeAll(tables)
			return nil, err
		}
		if ok {
			return &DB{dir: dir, opts: opts, tables: tables, revision: r, writable: false}, nil
		}

		closeAll(tables)
		opts.Metrics.OpenRetries.Inc()

		rt2, err := table.OpenLatest(dir, recordTable, tableOpts(opts), false)
		if err != nil {
			return nil, err
		}
		r2 := rt2.Revision()
		rt2.Close()
		if r2 == r {
			return nil, qerr.Corruptf("quartzdb: no consistent revision across tables (stuck at %d)", qerr.Safe(r))
		}
	}
	return nil, qerr.OpenFailedf("quartzdb: database changing too fast (gave up after %d attempts)", opts.MaxOpenRetries)
}

// openOthersAt tries to open every non-records table at revision r,
// concurrently, adding each success into tables. It reports false (with no
// error) if any table cannot be opened at r, so the caller can retry at a
// newer revision.
func openOthersAt(dir string, opts Options, r uint32, tables map[string]*table.Table) (bool, error) {
	var g errgroup.Group
	var mu sync.Mutex
	results := make(map[string]*table.Table, len(tableNames)-1)
	for _, name := range tableNames {
		if name == recordTable {
			continue
		}
		name := name
		g.Go(func() error {
			t, err := table.OpenAt(dir, name, tableOpts(opts), r)
			if err != nil {
				return err
			}
			mu.Lock()
			results[name] = t
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, t := range results {
			t.Close()
		}
		return false, nil
	}
	for name, t := range results {
		tables[name] = t
	}
	return true, nil
}

// OpenWritable opens the database for writes, failing with a Locked error
// if another writable handle already holds the lock file.
func OpenWritable(dir string, opts Options) (*DB, error) {
	opts.ensureDefaults()
	lockFile, err := acquireLock(dir)
	if err != nil {
		return nil, err
	}

	rt, err := table.OpenLatest(dir, recordTable, tableOpts(opts), false)
	if err != nil {
		releaseLock(lockFile)
		return nil, err
	}
	r := rt.Revision()
	rt.Close()

	tables, err := openAllWritableAt(dir, opts, r)
	if err != nil {
		// Revision mismatch on a writable open means a prior process died
		// mid-commit (records at R_old, some other table already at
		// R_old+1). Recover by bringing every table to R_old+2 with no
		// data changes, matching the recovery invariant, then retry once.
		if err2 := recoverMismatch(dir, opts, r); err2 != nil {
			releaseLock(lockFile)
			return nil, err2
		}
		return OpenWritableAfterRecovery(dir, opts, lockFile)
	}
	return &DB{dir: dir, opts: opts, tables: tables, revision: r, writable: true, lockFile: lockFile}, nil
}

func openAllWritableAt(dir string, opts Options, r uint32) (map[string]*table.Table, error) {
	tables := make(map[string]*table.Table, len(tableNames))
	for _, name := range tableNames {
		t, err := table.OpenAt(dir, name, tableOpts(opts), r)
		if err != nil {
			closeAll(tables)
			return nil, err
		}
		tables[name] = t
	}
	return tables, nil
}

// OpenWritableAfterRecovery re-opens the database writable once every table
// has been brought to a shared revision by recoverMismatch.
func OpenWritableAfterRecovery(dir string, opts Options, lockFile *os.File) (*DB, error) {
	rt, err := table.OpenLatest(dir, recordTable, tableOpts(opts), true)
	if err != nil {
		releaseLock(lockFile)
		return nil, err
	}
	r := rt.Revision()
	rt.Close()
	tables, err := openAllWritableAt(dir, opts, r)
	if err != nil {
		releaseLock(lockFile)
		return nil, err
	}
	return &DB{dir: dir, opts: opts, tables: tables, revision: r, writable: true, lockFile: lockFile}, nil
}

// recoverMismatch brings every table from whatever revision it is stuck at
// up to oldRevision+2 with empty changes, restoring the invariant that all
// tables share one revision number after a crash mid-commit.
func recoverMismatch(dir string, opts Options, oldRevision uint32) error {
	tables := make(map[string]*table.Table, len(tableNames))
	for _, name := range tableNames {
		t, err := table.OpenLatest(dir, name, tableOpts(opts), true)
		if err != nil {
			closeAll(tables)
			return err
		}
		tables[name] = t
	}
	defer closeAll(tables)

	newRevision := oldRevision + 2
	for _, name := range tableNames {
		if err := tables[name].Apply(newRevision); err != nil {
			return qerr.Corruptf("quartzdb: recovery failed applying empty revision to %s: %v", name, err)
		}
	}
	return nil
}

func tableOpts(opts Options) table.Options {
	return table.Options{BlockSize: opts.BlockSize, Compress: opts.Compress, Stats: opts.Stats}
}

func closeAll(tables map[string]*table.Table) {
	for _, t := range tables {
		t.Close()
	}
}

// acquireLock creates db_lock via a write-temp-then-link so the lock's
// presence is atomic even if the process is killed mid-write; the link
// leaves an existing db_lock (and any flock held on it) in place. It then
// takes an advisory exclusive flock on it for the lifetime of this handle.
func acquireLock(dir string) (*os.File, error) {
	lockPath := filepath.Join(dir, "db_lock")
	tmp := lockPath + ".tmp"
	if err := os.WriteFile(tmp, []byte{}, 0o644); err != nil {
		return nil, qerr.OpenFailedf("quartzdb: write lock temp file: %v", err)
	}
	if err := os.Link(tmp, lockPath); err != nil && !os.IsExist(err) {
		os.Remove(tmp)
		return nil, qerr.OpenFailedf("quartzdb: link lock file: %v", err)
	}
	os.Remove(tmp)
	f, err := os.OpenFile(lockPath, os.O_RDWR, 0o644)
	if err != nil {
		return nil, qerr.OpenFailedf("quartzdb: open lock file: %v", err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return nil, qerr.Lockedf("quartzdb: database already locked for writing: %v", err)
	}
	return f, nil
}

func releaseLock(f *os.File) {
	if f == nil {
		return
	}
	unix.Flock(int(f.Fd()), unix.LOCK_UN)
	f.Close()
}

// Revision returns the revision this handle is positioned at.
func (db *DB) Revision() uint32 { return db.revision }

// Writable reports whether this handle has write access.
func (db *DB) Writable() bool { return db.writable }

// checkFresh returns a Modified error if this handle has been flagged stale
// by MarkStale or by rollbackAndRecover. It does not look at the directory,
// so commits made by other handles are not detected here.
func (db *DB) checkFresh() error {
	if db.stale {
		return qerr.Modifiedf("quartzdb: database modified since this handle was opened")
	}
	return nil
}

// MarkStale flags this handle as observing a superseded revision, so that
// subsequent operations fail with a distinct "database modified" error
// until the caller reopens.
func (db *DB) MarkStale() { db.stale = true }

// table returns the named table, asserting it exists: an internal
// programming error if it doesn't, since tableNames is fixed.
func (db *DB) table(name string) *table.Table {
	t, ok := db.tables[name]
	if !ok {
		panic("quartzdb: unknown table " + name)
	}
	return t
}

// Meta returns the collection-wide document count/length bookkeeping.
func (db *DB) Meta() (record.Meta, error) {
	if err := db.checkFresh(); err != nil {
		return record.Meta{}, err
	}
	return record.ReadMeta(db.table(recordTable))
}

// Close releases every table and (for a writable handle) the write lock.
func (db *DB) Close() error {
	var firstErr error
	for _, t := range db.tables {
		if err := t.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	releaseLock(db.lockFile)
	return firstErr
}
