package coordinator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "plantwatch_coordinator_requests_total",
		Help: "Day requests by reason and where the answer came from",
	}, []string{"reason", "source"}) // source: cache, network, joined, error

	fetchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "plantwatch_coordinator_fetches_total",
		Help: "Upstream day fetches by result",
	}, []string{"result"}) // result: committed, discarded, error

	prefetchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "plantwatch_coordinator_prefetches_total",
		Help: "Background prefetches of neighbouring days by result",
	}, []string{"result"}) // result: skipped, success, error

	inflightFetches = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "plantwatch_coordinator_inflight_fetches",
		Help: "Upstream day fetches currently in flight",
	})
)
