package fleet

import (
	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	prometheus.MustRegister(serversMetric, instancesLaunchedMetric, jobsWaitingMetric)
}

var (
	serversMetric = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "ci",
		Subsystem: "fleet",
		Name:      "servers",
		Help:      "Servers by kind and status",
	}, []string{"kind", "status"})

	instancesLaunchedMetric = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "ci",
		Subsystem: "fleet",
		Name:      "instances_launched_total",
		Help:      "Total cloud instances launched",
	})

	jobsWaitingMetric = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "ci",
		Subsystem: "fleet",
		Name:      "jobs_waiting",
		Help:      "Jobs waiting for a server",
	})
)

func recordMetrics(servers []*Server, waiting int) {
	serversMetric.Reset()
	for _, s := range servers {
		serversMetric.WithLabelValues(string(s.Kind), string(s.Status)).Inc()
	}
	jobsWaitingMetric.Set(float64(waiting))
}
