package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	relayPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feedsync_relay_published_total",
		Help: "Outbox changes published to the realtime bus",
	}, []string{"table"})
	relayFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "feedsync_relay_publish_failures_total",
		Help: "Outbox changes released back to pending after a failed publish",
	})
	relayLanding = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "feedsync_relay_landing_seconds",
		Help:    "Time from outbox write to publish",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms .. ~8s
	})
	recountsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feedsync_recounts_dropped_total",
		Help: "Counter recounts dropped because the replicator queue was full",
	}, []string{"kind"})
)
