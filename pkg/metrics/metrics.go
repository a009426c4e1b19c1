// Package metrics holds the Prometheus instruments of the importer.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Result label values
const (
	ResultOK        = "ok"
	ResultError     = "error"
	ResultCancelled = "cancelled"
	ResultDemangled = "demangled"
	ResultFallback  = "fallback"
)

var (
	ReportsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lcov_import_reports_total",
		Help: "Coverage reports processed, by result.",
	}, []string{"result"})

	SectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lcov_import_sections_total",
		Help: "File sections emitted by collection runs.",
	})

	CollectDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "lcov_import_collect_seconds",
		Help:    "Duration of collection runs.",
		Buckets: prometheus.DefBuckets,
	})

	DemangleTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lcov_import_demangle_total",
		Help: "Demangle calls, by result.",
	}, []string{"result"})

	DemanglerLoadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lcov_import_demangler_loads_total",
		Help: "Demangler module load attempts, by result.",
	}, []string{"result"})
)
