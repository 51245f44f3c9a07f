package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"meshcall/internal/core/domain"
)

type PrometheusCollector struct {
	usersConnected   prometheus.Gauge
	callsActive      prometheus.Gauge
	groupCallsActive prometheus.Gauge
	linksActive      prometheus.Gauge

	callsTotal        *prometheus.CounterVec
	callOutcomesTotal *prometheus.CounterVec
	signalsTotal      *prometheus.CounterVec
	linkSetupDuration prometheus.Histogram
	callDuration      prometheus.Histogram
	groupParticipants *prometheus.GaugeVec
}

// NewPrometheusCollector registers all call metrics on the given registerer.
// Pass prometheus.DefaultRegisterer in production; tests use a fresh registry.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	factory := promauto.With(reg)
	return &PrometheusCollector{
		usersConnected: factory.NewGauge(prometheus.GaugeOpts{
			Name: "meshcall_users_connected",
			Help: "Number of users with a live gateway connection",
		}),

		callsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "meshcall_calls_active",
			Help: "Number of 1:1 calls currently accepted and running",
		}),

		groupCallsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "meshcall_group_calls_active",
			Help: "Number of active group calls",
		}),

		linksActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "meshcall_peer_links_active",
			Help: "Number of open pairwise peer links",
		}),

		callsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "meshcall_calls_total",
			Help: "Total calls started, by call type",
		}, []string{"call_type"}),

		callOutcomesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "meshcall_call_outcomes_total",
			Help: "Terminal call transitions, by outcome",
		}, []string{"outcome"}),

		signalsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "meshcall_signals_total",
			Help: "Signaling messages sent, by kind",
		}, []string{"kind"}),

		linkSetupDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "meshcall_link_setup_duration_seconds",
			Help:    "Time from link open to connected state",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}),

		callDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "meshcall_call_duration_seconds",
			Help:    "Duration of ended calls",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14),
		}),

		groupParticipants: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "meshcall_group_call_participants",
			Help: "Active participants per group call",
		}, []string{"group_call_id"}),
	}
}

func (p *PrometheusCollector) RecordUserConnected()    { p.usersConnected.Inc() }
func (p *PrometheusCollector) RecordUserDisconnected() { p.usersConnected.Dec() }

func (p *PrometheusCollector) RecordCallStarted(callType domain.CallType) {
	p.callsTotal.WithLabelValues(string(callType)).Inc()
}

func (p *PrometheusCollector) RecordCallAccepted() {
	p.callsActive.Inc()
}

// RecordCallOutcome counts the terminal transition and, for ended calls,
// observes the duration and releases the active slot.
func (p *PrometheusCollector) RecordCallOutcome(status domain.CallStatus, duration time.Duration) {
	p.callOutcomesTotal.WithLabelValues(string(status)).Inc()
	if status == domain.CallStatusEnded {
		p.callsActive.Dec()
		p.callDuration.Observe(duration.Seconds())
	}
}

func (p *PrometheusCollector) RecordSignal(kind domain.SignalKind) {
	p.signalsTotal.WithLabelValues(string(kind)).Inc()
}

func (p *PrometheusCollector) RecordLinkOpened() { p.linksActive.Inc() }
func (p *PrometheusCollector) RecordLinkClosed() { p.linksActive.Dec() }

func (p *PrometheusCollector) RecordLinkSetup(duration time.Duration) {
	p.linkSetupDuration.Observe(duration.Seconds())
}

func (p *PrometheusCollector) RecordGroupCallCreated() {
	p.groupCallsActive.Inc()
}

func (p *PrometheusCollector) RecordGroupCallEnded(id domain.GroupCallID) {
	p.groupCallsActive.Dec()
	p.groupParticipants.DeleteLabelValues(string(id))
}

func (p *PrometheusCollector) SetGroupParticipants(id domain.GroupCallID, count int) {
	p.groupParticipants.WithLabelValues(string(id)).Set(float64(count))
}
