// Package observability holds pana's Prometheus metrics.
// Metrics register with the default registry and are served on /metrics.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ─── Download Metrics ───────────────────────────────────────────────────────

// DownloadsStarted tracks accepted download requests.
var DownloadsStarted = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "pana",
	Subsystem: "download",
	Name:      "started_total",
	Help:      "Total model downloads started.",
})

// DownloadsFinished tracks download outcomes.
var DownloadsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "pana",
	Subsystem: "download",
	Name:      "finished_total",
	Help:      "Total model downloads by outcome (ok, failed, cancelled).",
}, []string{"outcome"})

// DownloadsSuperseded tracks downloads cancelled because a newer one replaced them.
var DownloadsSuperseded = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "pana",
	Subsystem: "download",
	Name:      "superseded_total",
	Help:      "Total in-flight downloads cancelled by a newer download request.",
})

// DownloadBytes tracks bytes received.
var DownloadBytes = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "pana",
	Subsystem: "download",
	Name:      "bytes_total",
	Help:      "Total artifact bytes written by downloads.",
})

// ─── Model Metrics ──────────────────────────────────────────────────────────

// ModelLoaded is 1 while a model is active.
var ModelLoaded = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "pana",
	Subsystem: "model",
	Name:      "loaded",
	Help:      "Whether a model is currently loaded (1) or not (0).",
})

// ModelLoads tracks load attempts by result.
var ModelLoads = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "pana",
	Subsystem: "model",
	Name:      "loads_total",
	Help:      "Total model load attempts by result.",
}, []string{"result"})

// ─── Inference Metrics ──────────────────────────────────────────────────────

// InferenceRuns tracks inference runs by outcome.
var InferenceRuns = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "pana",
	Subsystem: "inference",
	Name:      "runs_total",
	Help:      "Total inference runs by outcome (ok, cancelled, failed, no_model).",
}, []string{"outcome"})

// InferenceFragments tracks fragments forwarded to the observer.
var InferenceFragments = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "pana",
	Subsystem: "inference",
	Name:      "fragments_total",
	Help:      "Total streamed fragments delivered to the observer.",
})

// InferenceDuration tracks wall time per run.
var InferenceDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "pana",
	Subsystem: "inference",
	Name:      "duration_seconds",
	Help:      "Inference run duration in seconds.",
	Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
})

// ─── Conversation Metrics ───────────────────────────────────────────────────

// PairsAppended tracks persisted human/assistant pairs.
var PairsAppended = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "pana",
	Subsystem: "conversation",
	Name:      "pairs_appended_total",
	Help:      "Total human/assistant pairs persisted.",
})

// ─── Event Metrics ──────────────────────────────────────────────────────────

// EventsDropped tracks observer events a slow subscriber missed.
var EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "pana",
	Subsystem: "events",
	Name:      "dropped_total",
	Help:      "Total observer events dropped because a subscriber was too slow.",
})
