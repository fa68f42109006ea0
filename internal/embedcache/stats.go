package embedcache

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Stats counts lookups per cache layer. A nil *Stats records nothing.
type Stats struct {
	lookups *prometheus.CounterVec
}

func NewStats(reg prometheus.Registerer) *Stats {
	s := &Stats{
		lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "feedrec",
			Subsystem: "embedding_cache",
			Name:      "lookups_total",
			Help:      "Embedding cache lookups by layer and result",
		}, []string{"layer", "result"}),
	}
	if reg != nil {
		reg.MustRegister(s.lookups)
	}
	return s
}

func (s *Stats) observe(layer string, hit bool) {
	if s == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	s.lookups.WithLabelValues(layer, result).Inc()
}
