package notify

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var notificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "tipbot_notifications_total",
	Help: "Post-settlement notifications, labeled by channel (public, dm) and outcome",
}, []string{"channel", "outcome"})
