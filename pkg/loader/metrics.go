package loader

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	ObjectsLoaded       *prometheus.CounterVec
	RelocationsApplied  *prometheus.CounterVec
	RelocationsSkipped  *prometheus.CounterVec
	UnresolvedSymbols   prometheus.Counter
	DependencyErrors    *prometheus.CounterVec
	FileCacheRequests   *prometheus.CounterVec
	MappedBytes         prometheus.Counter
	LoadDurationSeconds prometheus.Histogram
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ObjectsLoaded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "elfld_loader_objects_loaded_total",
			Help: "Total number of objects placed into a process, by kind",
		}, []string{"kind"}),
		RelocationsApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "elfld_loader_relocations_applied_total",
			Help: "Total number of relocation entries applied, by relocation type",
		}, []string{"type"}),
		RelocationsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "elfld_loader_relocations_skipped_total",
			Help: "Total number of relocation entries left unapplied, by reason",
		}, []string{"reason"}),
		UnresolvedSymbols: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "elfld_loader_unresolved_symbols_total",
			Help: "Total number of relocations whose symbol no loaded object defines",
		}),
		DependencyErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "elfld_loader_dependency_errors_total",
			Help: "Total number of shared objects that could not be loaded, by reason",
		}, []string{"reason"}),
		FileCacheRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "elfld_loader_file_cache_requests_total",
			Help: "Total number of parsed file cache lookups, by result",
		}, []string{"result"}),
		MappedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "elfld_loader_mapped_bytes_total",
			Help: "Total number of bytes mapped for Load segments",
		}),
		LoadDurationSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "elfld_loader_load_duration_seconds",
			Help:    "Time spent loading a process, including its dependencies",
			Buckets: prometheus.ExponentialBuckets(0.0005, 4, 8),
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.ObjectsLoaded,
			m.RelocationsApplied,
			m.RelocationsSkipped,
			m.UnresolvedSymbols,
			m.DependencyErrors,
			m.FileCacheRequests,
			m.MappedBytes,
			m.LoadDurationSeconds,
		)
	}

	return m
}
