// Package metrics holds the Prometheus collectors exported by the sync
// engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TransferredBytes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "treesync",
		Subsystem: "downloader",
		Name:      "transferred_bytes_total",
		Help:      "Total number of bytes appended to staging files",
	})
	SegmentRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "treesync",
		Subsystem: "downloader",
		Name:      "segment_requests_total",
		Help:      "Total number of segment range requests, per outcome (ok/retry/failed)",
	}, []string{"outcome"})

	FilesHashed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "treesync",
		Subsystem: "integrity",
		Name:      "files_hashed_total",
		Help:      "Total number of files fully hashed",
	})
	HashedBytes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "treesync",
		Subsystem: "integrity",
		Name:      "hashed_bytes_total",
		Help:      "Total number of bytes fed into the content digest",
	})

	FilesFinalized = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "treesync",
		Subsystem: "syncer",
		Name:      "files_finalized_total",
		Help:      "Total number of staging files promoted into the target tree",
	})
	FilesCorrupted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "treesync",
		Subsystem: "syncer",
		Name:      "files_corrupted_total",
		Help:      "Total number of files that could not be synchronized, per reason (transfer/mismatch/filesystem)",
	}, []string{"reason"})
	Runs = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "treesync",
		Subsystem: "syncer",
		Name:      "runs_total",
		Help:      "Total number of finished runs, per kind (sync/verify) and status",
	}, []string{"kind", "status"})
	ActiveRun = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "treesync",
		Subsystem: "syncer",
		Name:      "active_run",
		Help:      "1 while a sync or verify run is executing",
	})

	TargetUp = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "treesync",
		Subsystem: "health",
		Name:      "target_up",
		Help:      "1 if the last TCP check of the target succeeded",
	}, []string{"target"})
)

const (
	OutcomeOK     = "ok"
	OutcomeRetry  = "retry"
	OutcomeFailed = "failed"

	ReasonTransfer   = "transfer"
	ReasonMismatch   = "mismatch"
	ReasonFilesystem = "filesystem"
)
