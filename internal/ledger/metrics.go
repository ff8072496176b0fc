package ledger

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	transfersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tipbot_transfers_total",
		Help: "Transfers attempted, labeled by kind and outcome",
	}, []string{"kind", "outcome"})

	transferDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tipbot_transfer_duration_seconds",
		Help:    "Latency of atomic transfer execution",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"kind"})
)

func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "settled"
	case errors.Is(err, ErrAlreadySettled):
		return "conflict"
	case IsValidation(err):
		return "rejected"
	default:
		return "error"
	}
}
