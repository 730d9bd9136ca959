// Package metrics exposes the service's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TripsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sealtrip_trips_created_total",
		Help: "Trips created (creation unit committed).",
	})

	TripsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sealtrip_trips_completed_total",
		Help: "Trips finalized by verification.",
	})

	CoinsDebited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sealtrip_coins_debited_total",
		Help: "Coins debited across all accounts.",
	})

	ScansRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sealtrip_scans_recorded_total",
		Help: "Seal tag scans by result.",
	}, []string{"result"})

	DuplicateTagRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sealtrip_duplicate_tag_rejections_total",
		Help: "Trip creations rejected by the cross-trip tag uniqueness check.",
	})
)
