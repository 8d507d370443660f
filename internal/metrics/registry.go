// Package metrics holds the Prometheus instrumentation for the trading
// pipeline and the ingest path.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds all Prometheus metrics for the platform.
type Registry struct {
	// Gate chain
	IntentsTotal prometheus.Counter
	RejectsTotal *prometheus.CounterVec
	SplitsTotal  prometheus.Counter

	// OMS
	FillsTotal  *prometheus.CounterVec
	TradesOpen  prometheus.Gauge
	RealizedPnL prometheus.Gauge

	// Ingest
	IngestEventsTotal  *prometheus.CounterVec
	IngestDropsTotal   prometheus.Counter
	IngestCommitsTotal prometheus.Counter
	IngestQueueDepth   prometheus.Gauge
	FeedReconnects     prometheus.Counter

	// Bars
	BarsUpsertedTotal prometheus.Counter
	ParserFaultsTotal *prometheus.CounterVec
}

// NewRegistry creates the full metric set.
func NewRegistry() *Registry {
	return &Registry{
		IntentsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tmftrader_intents_total",
			Help: "Total trade intents entering the gateway",
		}),
		RejectsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tmftrader_rejects_total",
			Help: "Total rejected intents by code, domain, and action",
		}, []string{"code", "domain", "action"}),
		SplitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tmftrader_splits_total",
			Help: "Total split-submitted parent orders",
		}),
		FillsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tmftrader_fills_total",
			Help: "Total fills booked by symbol and side",
		}, []string{"symbol", "side"}),
		TradesOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tmftrader_trades_open",
			Help: "Currently open trades",
		}),
		RealizedPnL: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tmftrader_realized_pnl_ntd",
			Help: "Realized pnl today in NTD",
		}),
		IngestEventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tmftrader_ingest_events_total",
			Help: "Events committed to the log by kind",
		}, []string{"kind"}),
		IngestDropsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tmftrader_ingest_drops_total",
			Help: "Events dropped from the bounded ingest queue on overflow",
		}),
		IngestCommitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tmftrader_ingest_commits_total",
			Help: "Batch commits performed by the ingest writer",
		}),
		IngestQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tmftrader_ingest_queue_depth",
			Help: "Current depth of the ingest queue",
		}),
		FeedReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tmftrader_feed_reconnects_total",
			Help: "Websocket feed reconnect attempts",
		}),
		BarsUpsertedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tmftrader_bars_upserted_total",
			Help: "1-minute bars upserted",
		}),
		ParserFaultsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tmftrader_parser_faults_total",
			Help: "Payload parser faults counted and skipped by component",
		}, []string{"component"}),
	}
}

// Register attaches every metric to the given registerer.
func (r *Registry) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		r.IntentsTotal, r.RejectsTotal, r.SplitsTotal,
		r.FillsTotal, r.TradesOpen, r.RealizedPnL,
		r.IngestEventsTotal, r.IngestDropsTotal, r.IngestCommitsTotal,
		r.IngestQueueDepth, r.FeedReconnects,
		r.BarsUpsertedTotal, r.ParserFaultsTotal,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
