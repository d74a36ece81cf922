package portfolio

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	changesPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "caribou_portal",
		Name:      "changes_published_total",
		Help:      "Change events delivered to the change feed, by result.",
	}, []string{"result"})

	changesInline = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "caribou_portal",
		Name:      "changes_published_inline_total",
		Help:      "Change events published by the caller because the pool was saturated.",
	})

	refreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "caribou_portal",
		Name:      "refresh_total",
		Help:      "Snapshot refreshes, by result.",
	}, []string{"result"})

	edits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "caribou_portal",
		Name:      "edits_total",
		Help:      "Persisted portal edits, by field.",
	}, []string{"field"})

	projectsLoaded = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "caribou_portal",
		Name:      "projects_loaded",
		Help:      "Projects in the current snapshot.",
	})
)
