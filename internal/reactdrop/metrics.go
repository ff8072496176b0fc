package reactdrop

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	reactdropsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tipbot_reactdrops_total",
		Help: "Reactdrop settlement attempts, labeled by outcome",
	}, []string{"outcome"})

	reactdropsStuck = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tipbot_reactdrops_stuck",
		Help: "Reactdrops left in settling longer than the stuck threshold",
	})
)
