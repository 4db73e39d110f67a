// Package quartzdb is the database orchestrator: it opens the five on-disk
// tables (postlist, position, termlist, record, value) at a mutually
// consistent revision, coordinates commit and rollback across them, buffers
// document-level edits before they reach any table's overlay, and exposes
// the document/term/value accessors the matcher and indexer (both out of
// scope here) would consume.
package quartzdb

import (
	"os"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/quartzdb/quartz/block"
)

// defaultFlushThreshold is the number of buffered document operations that
// triggers an implicit commit, overridable via QUARTZDB_FLUSH_THRESHOLD.
const defaultFlushThreshold = 10000

// Options configures an open database. Lifting what the source kept as
// process-global state (the flush threshold default, in particular) into an
// explicit struct passed at open time; the environment variable is
// consulted only inside ensureDefaults, once, rather than read ad hoc on
// every commit.
type Options struct {
	BlockSize      uint32
	Compress       bool
	FlushThreshold int
	Stats          *block.Stats
	Metrics        *Metrics
	// MaxOpenRetries bounds how many times a read-only open will retry after
	// observing a torn revision across tables before failing with a
	// "changing too fast" error.
	MaxOpenRetries int
}

func (o *Options) ensureDefaults() {
	if o.BlockSize == 0 {
		o.BlockSize = 4096
	}
	if o.FlushThreshold == 0 {
		o.FlushThreshold = defaultFlushThreshold
		if v := os.Getenv("QUARTZDB_FLUSH_THRESHOLD"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				o.FlushThreshold = n
			}
		}
	}
	if o.Stats == nil {
		o.Stats = block.NewStats()
	}
	if o.Metrics == nil {
		o.Metrics = NewMetrics()
	}
	if o.MaxOpenRetries == 0 {
		o.MaxOpenRetries = 100
	}
}

// Metrics is the Prometheus surface for database-level operations,
// distinct from block.Stats' per-block I/O histograms.
type Metrics struct {
	Commits     prometheus.Counter
	Rollbacks   prometheus.Counter
	OpenRetries prometheus.Counter
	PendingOps  prometheus.Gauge
}

// NewMetrics constructs an unregistered Metrics set; callers that want
// these exported register the returned collectors with their own registry.
func NewMetrics() *Metrics {
	return &Metrics{
		Commits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quartzdb_commits_total",
			Help: "Number of database commits applied.",
		}),
		Rollbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quartzdb_rollbacks_total",
			Help: "Number of mid-commit rollbacks recovered from.",
		}),
		OpenRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quartzdb_open_retries_total",
			Help: "Number of revision-consistency retries on read-only open.",
		}),
		PendingOps: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "quartzdb_pending_ops",
			Help: "Buffered document operations awaiting auto-flush.",
		}),
	}
}
