package sandbox

import "github.com/prometheus/client_golang/prometheus"

// metrics exposes the governor's rolling state as Prometheus gauges and
// counters, labelled per plugin and resource.
type metrics struct {
	usage          *prometheus.GaugeVec
	softBreaches   *prometheus.CounterVec
	hardBreaches   *prometheus.CounterVec
	recoveries     *prometheus.CounterVec
	actionsApplied *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		usage: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "pluginhostd",
			Subsystem: "sandbox",
			Name:      "resource_usage",
			Help:      "Most recent sampled usage per plugin and resource.",
		}, []string{"plugin_id", "resource"}),
		softBreaches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pluginhostd",
			Subsystem: "sandbox",
			Name:      "soft_limit_breaches_total",
			Help:      "Count of soft-limit rising-edge breaches.",
		}, []string{"plugin_id", "resource"}),
		hardBreaches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pluginhostd",
			Subsystem: "sandbox",
			Name:      "hard_limit_breaches_total",
			Help:      "Count of hard-limit rising-edge breaches.",
		}, []string{"plugin_id", "resource"}),
		recoveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pluginhostd",
			Subsystem: "sandbox",
			Name:      "limit_recoveries_total",
			Help:      "Count of falling-edge recoveries below soft limit.",
		}, []string{"plugin_id", "resource"}),
		actionsApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pluginhostd",
			Subsystem: "sandbox",
			Name:      "actions_applied_total",
			Help:      "Count of graduated enforcement actions applied.",
		}, []string{"plugin_id", "resource", "action"}),
	}
	if reg != nil {
		reg.MustRegister(m.usage, m.softBreaches, m.hardBreaches, m.recoveries, m.actionsApplied)
	}
	return m
}
