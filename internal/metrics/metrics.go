package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	reg *prometheus.Registry

	OpenControllers prometheus.Gauge

	LocationSubmissions prometheus.Counter
	SubmissionDrops     prometheus.Counter
	ReadingsDiscarded   prometheus.Counter
	SourceErrors        prometheus.Counter
	ForcedCancellations prometheus.Counter
	SweptSessions       prometheus.Counter

	Transitions *prometheus.CounterVec // status label: pending|active|completed|cancelled
}

func NewCollector() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		OpenControllers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "busbuddy_open_trip_controllers",
			Help: "Number of trip controllers currently reporting.",
		}),
		LocationSubmissions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "busbuddy_location_submissions_total",
			Help: "Total location submissions sent to the store.",
		}),
		SubmissionDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "busbuddy_location_submission_drops_total",
			Help: "Readings dropped because a submission was already in flight.",
		}),
		ReadingsDiscarded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "busbuddy_location_readings_discarded_total",
			Help: "Readings discarded because the session was no longer active.",
		}),
		SourceErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "busbuddy_location_source_errors_total",
			Help: "Errors reported by the primary location channel.",
		}),
		ForcedCancellations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "busbuddy_forced_cancellations_total",
			Help: "Trips cancelled because the location source failed.",
		}),
		SweptSessions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "busbuddy_swept_sessions_total",
			Help: "Stale active sessions cancelled by the sweeper.",
		}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "busbuddy_session_transitions_total",
			Help: "Session status transitions by target status.",
		}, []string{"status"}),
	}

	reg.MustRegister(
		c.OpenControllers,
		c.LocationSubmissions, c.SubmissionDrops, c.ReadingsDiscarded,
		c.SourceErrors, c.ForcedCancellations, c.SweptSessions,
		c.Transitions,
	)
	return c
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{})
}
