package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TasksCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mobile_transfer_tasks_created_total",
		Help: "Total number of tasks created",
	}, []string{"kind"})

	TasksFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mobile_transfer_tasks_finished_total",
		Help: "Total number of tasks reaching a terminal status",
	}, []string{"kind", "status"})

	DownloadAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mobile_transfer_download_attempts_total",
		Help: "Total number of download attempts",
	})

	DownloadStalls = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mobile_transfer_download_stalls_total",
		Help: "Total number of attempts aborted by stall detection",
	})

	DownloadBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mobile_transfer_download_bytes_total",
		Help: "Total bytes downloaded",
	})

	DownloadDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "mobile_transfer_download_duration_seconds",
		Help:    "Per item download pipeline duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
	})

	ItemOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mobile_transfer_item_outcomes_total",
		Help: "Per item outcomes by kind and failure reason",
	}, []string{"kind", "reason"})

	ProcessExits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mobile_transfer_process_exits_total",
		Help: "Supervised process exits by engine and result",
	}, []string{"engine", "result"})
)
