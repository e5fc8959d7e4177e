package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Keys for rowset metrics.
const (
	Fail = "fail"
	Ok   = "ok"
)

// Collectors of the data receiver and read jobs.
var (
	RowsFetchedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rowset_rows_fetched_total",
		Help: "Cumulative number of rows received from data containers.",
	})
	FetchWarningsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rowset_fetch_warnings_total",
		Help: "Cumulative number of distinct cell decoding warnings collected by reads.",
	})
	ReadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rowset_reads_total",
		Help: "Cumulative number of read jobs, by outcome.",
	}, []string{"status"})
	ReadDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "rowset_read_duration_seconds",
		Help:    "Duration of read jobs.",
		Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
	})
)

// Collectors of the persister.
var (
	StatementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rowset_statements_total",
		Help: "Cumulative number of executed write statements, by kind and outcome.",
	}, []string{"kind", "status"})
	CommitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rowset_commits_total",
		Help: "Cumulative number of commit runs, by final plan state.",
	}, []string{"state"})
	SavepointRollbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rowset_savepoint_rollbacks_total",
		Help: "Cumulative number of rollbacks to a commit run savepoint, by outcome.",
	}, []string{"status"})
)
