// Package metrics holds the sync server's Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "gophvault_sync"

type Metrics struct {
	registry *prometheus.Registry

	Requests        *prometheus.CounterVec
	RecordsPushed   prometheus.Counter
	RecordsAccepted prometheus.Counter
	RecordsRejected prometheus.Counter
	RecordsPulled   prometheus.Counter
}

// New registers the collectors on a private registry together with the Go
// and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Sync RPCs by method and status code.",
		}, []string{"method", "code"}),
		RecordsPushed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_pushed_total",
			Help:      "Records received in push requests.",
		}),
		RecordsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_accepted_total",
			Help:      "Pushed records stored by the backend.",
		}),
		RecordsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_rejected_total",
			Help:      "Pushed records skipped as stale or refused as malformed.",
		}),
		RecordsPulled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_pulled_total",
			Help:      "Records returned by pull requests.",
		}),
	}
	reg.MustRegister(
		m.Requests, m.RecordsPushed, m.RecordsAccepted, m.RecordsRejected, m.RecordsPulled,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
