package network

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	packetsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fastpay_packets_processed_total",
		Help: "Messages handled by a shard server.",
	}, []string{"shard"})

	userErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fastpay_user_errors_total",
		Help: "Messages rejected with a typed error.",
	}, []string{"shard"})

	crossShardRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fastpay_cross_shard_retries_total",
		Help: "Cross-shard deliveries that had to be retried.",
	}, []string{"shard"})
)
