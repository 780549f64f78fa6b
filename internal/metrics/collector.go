package metrics

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

// BatchStats is the view of the batch pool read at scrape time.
type BatchStats interface {
	Pending() int
	Active() int
}

type liveGauge struct {
	desc  *prometheus.Desc
	value func() float64
}

// Collector reports batch queue depth and database pool usage as gauges
// read at scrape time. Missing sources report 0.
type Collector struct {
	gauges []liveGauge
}

// NewCollector reads from pool and stats; either may be nil.
func NewCollector(pool *pgxpool.Pool, stats BatchStats) *Collector {
	batch := func(f func(BatchStats) int) func() float64 {
		return func() float64 {
			if stats == nil {
				return 0
			}
			return float64(f(stats))
		}
	}
	db := func(f func(*pgxpool.Stat) int32) func() float64 {
		return func() float64 {
			if pool == nil {
				return 0
			}
			return float64(f(pool.Stat()))
		}
	}
	gauge := func(subsystem, name, help string, value func() float64) liveGauge {
		return liveGauge{
			desc:  prometheus.NewDesc(prometheus.BuildFQName(namespace, subsystem, name), help, nil, nil),
			value: value,
		}
	}

	return &Collector{gauges: []liveGauge{
		gauge("batch", "pending_jobs", "Dataset jobs waiting in the batch queue.", batch(BatchStats.Pending)),
		gauge("batch", "active_jobs", "Dataset jobs currently being evaluated.", batch(BatchStats.Active)),
		gauge("db_pool", "total_conns", "Total database pool connections.", db((*pgxpool.Stat).TotalConns)),
		gauge("db_pool", "acquired_conns", "Database pool connections currently in use.", db((*pgxpool.Stat).AcquiredConns)),
		gauge("db_pool", "idle_conns", "Database pool idle connections.", db((*pgxpool.Stat).IdleConns)),
	}}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, g := range c.gauges {
		ch <- g.desc
	}
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, g := range c.gauges {
		ch <- prometheus.MustNewConstMetric(g.desc, prometheus.GaugeValue, g.value())
	}
}
