package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	partnershipEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "couplecook_partnership_events_total",
			Help: "Partnership lifecycle operations by event and outcome",
		},
		[]string{"event", "result"},
	)
	recipeWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "couplecook_recipe_writes_total",
			Help: "Recipe mutations by operation and outcome",
		},
		[]string{"op", "result"},
	)
	notificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "couplecook_notifications_total",
			Help: "Partner notifications by channel and outcome",
		},
		[]string{"channel", "result"},
	)
)

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
