// Package server exposes Prometheus metrics for the room engine.
package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	roomsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "roomchat",
		Name:      "rooms_active",
		Help:      "Number of rooms currently present in the store.",
	})

	clientsConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "roomchat",
		Name:      "clients_connected",
		Help:      "Number of registered client connections.",
	})

	messagesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "roomchat",
		Name:      "messages_total",
		Help:      "Chat messages accepted and broadcast.",
	})

	joinRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "roomchat",
		Name:      "join_rejections_total",
		Help:      "Join attempts rejected at validation, by reason.",
	}, []string{"reason"})

	sweepReaps = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "roomchat",
		Name:      "sweep_reaps_total",
		Help:      "Dead connections reaped by the liveness sweeps.",
	})
)
