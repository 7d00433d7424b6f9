package api

import (
	"errors"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "tripwise_client"

type clientMetrics struct {
	attempts  *prometheus.CounterVec
	refreshes *prometheus.CounterVec
	aborted   prometheus.Counter
}

var metrics = clientMetrics{
	attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "request_attempts_total",
		Help:      "Physical HTTP attempts sent to the backend.",
	}, []string{"method", "code"}),
	refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "token_refreshes_total",
		Help:      "Token refreshes triggered by a 401 response.",
	}, []string{"result"}),
	aborted: prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "requests_aborted_total",
		Help:      "Requests cancelled by the caller.",
	}),
}

func (m *clientMetrics) observeAttempt(method string, status int) {
	m.attempts.WithLabelValues(method, strconv.Itoa(status)).Inc()
}

// EnablePrometheusMetrics registers the client metrics on reg, or on the
// default registerer if reg is nil. Registering twice on the same registry
// is not an error.
func EnablePrometheusMetrics(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	for _, c := range []prometheus.Collector{metrics.attempts, metrics.refreshes, metrics.aborted} {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}
