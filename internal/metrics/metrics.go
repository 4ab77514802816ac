package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "viewpersonal_events_ingested_total",
		Help: "Total number of events accepted for processing, labelled by event type.",
	}, []string{"event_type"})

	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "viewpersonal_events_dropped_total",
		Help: "Total number of events rejected due to a full queue.",
	})

	ValidationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "viewpersonal_validation_failures_total",
		Help: "Total number of events rejected by validation, labelled by reason.",
	}, []string{"reason"})

	DuplicateEvents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "viewpersonal_duplicate_events_total",
		Help: "Total number of replayed event ids absorbed as no-ops.",
	})

	LateEventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "viewpersonal_late_events_dropped_total",
		Help: "Total number of events that landed in a closed aggregation bucket.",
	})

	StateChanges = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "viewpersonal_state_changes_total",
		Help: "Total number of subject status transitions, labelled by new status.",
	}, []string{"status"})

	ZoneTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "viewpersonal_zone_transitions_total",
		Help: "Total number of zone compliance state transitions, labelled by new state.",
	}, []string{"state"})

	ViewersConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "viewpersonal_viewers_connected",
		Help: "Number of live viewer connections.",
	})

	ViewerMessagesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "viewpersonal_viewer_messages_dropped_total",
		Help: "Total number of queued messages dropped for slow viewers.",
	})

	ResyncSignals = promauto.NewCounter(prometheus.CounterOpts{
		Name: "viewpersonal_resync_signals_total",
		Help: "Total number of resync-required markers sent to lagging viewers.",
	})

	EventProcessingDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "viewpersonal_event_processing_duration_ms",
		Help:    "End-to-end event processing latency in milliseconds.",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
	})

	QueueUtilization = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "viewpersonal_queue_utilization_ratio",
		Help: "Current event queue utilization (0-1).",
	})
)
