// Package metrics exposes the prometheus counters/gauges referenced in
// spec §5/§6's health and status surfaces.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	QueueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "edgecoder_queue_depth",
		Help: "Number of subtasks currently queued per project.",
	}, []string{"project_id"})

	ClaimLatencySeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "edgecoder_claim_latency_seconds",
		Help:    "Time between a subtask's enqueue and its claim.",
		Buckets: prometheus.DefBuckets,
	})

	GossipFanoutTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "edgecoder_gossip_fanout_total",
		Help: "Gossip broadcast attempts by outcome.",
	}, []string{"outcome"})

	LedgerLength = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "edgecoder_ledger_length",
		Help: "Number of records in each hash chain.",
	}, []string{"chain"})

	BehavioralStrikes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "edgecoder_behavioral_strikes_total",
		Help: "Behavioral anomaly strikes recorded per rule.",
	}, []string{"rule_code", "severity"})

	PeerCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "edgecoder_peer_count",
		Help: "Number of peers currently registered in the local peer set.",
	})
)

// Register attaches every collector to reg. Called once from
// cmd/coordinatord at startup.
func Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		QueueDepth, ClaimLatencySeconds, GossipFanoutTotal,
		LedgerLength, BehavioralStrikes, PeerCount,
	} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
