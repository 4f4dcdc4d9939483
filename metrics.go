package taskauth

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes engine counters on a Prometheus registry. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	logins    *prometheus.CounterVec
	refreshes *prometheus.CounterVec
	logouts   prometheus.Counter
	reuse     prometheus.Counter
}

// NewMetrics registers the engine metrics on reg. Returns nil when reg is
// nil, which disables collection.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return nil
	}
	factory := promauto.With(reg)
	return &Metrics{
		logins: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "taskauth_logins_total",
			Help: "Login attempts by result.",
		}, []string{"result"}),
		refreshes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "taskauth_refreshes_total",
			Help: "Refresh attempts by result.",
		}, []string{"result"}),
		logouts: factory.NewCounter(prometheus.CounterOpts{
			Name: "taskauth_logouts_total",
			Help: "Logout requests processed.",
		}),
		reuse: factory.NewCounter(prometheus.CounterOpts{
			Name: "taskauth_refresh_reuse_detected_total",
			Help: "Refresh tokens presented after rotation, each revoking its chain.",
		}),
	}
}

func (m *Metrics) observeLogin(result string) {
	if m == nil {
		return
	}
	m.logins.WithLabelValues(result).Inc()
}

func (m *Metrics) observeRefresh(result string) {
	if m == nil {
		return
	}
	m.refreshes.WithLabelValues(result).Inc()
}

func (m *Metrics) observeLogout() {
	if m == nil {
		return
	}
	m.logouts.Inc()
}

func (m *Metrics) observeReuse() {
	if m == nil {
		return
	}
	m.reuse.Inc()
}
