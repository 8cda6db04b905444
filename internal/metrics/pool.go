package metrics

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

// PoolStatter is satisfied by *pgxpool.Pool.
type PoolStatter interface {
	Stat() *pgxpool.Stat
}

type poolCollector struct {
	pool PoolStatter

	acquiredConns  *prometheus.Desc
	idleConns      *prometheus.Desc
	totalConns     *prometheus.Desc
	maxConns       *prometheus.Desc
	acquireCount   *prometheus.Desc
	acquireSeconds *prometheus.Desc
	emptyAcquires  *prometheus.Desc
}

// RegisterPoolMetrics registers a collector that reads live pgxpool
// statistics on every scrape.
func RegisterPoolMetrics(reg prometheus.Registerer, pool PoolStatter) {
	gauge := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc("surveyz_db_pool_"+name, help, nil, nil)
	}
	reg.MustRegister(&poolCollector{
		pool:           pool,
		acquiredConns:  gauge("acquired", "Number of currently acquired database connections."),
		idleConns:      gauge("idle", "Number of idle database connections in the pool."),
		totalConns:     gauge("total", "Total number of database connections in the pool."),
		maxConns:       gauge("max", "Maximum number of database connections allowed in the pool."),
		acquireCount:   gauge("acquires_total", "Cumulative count of successful connection acquires."),
		acquireSeconds: gauge("acquire_seconds_total", "Cumulative time spent acquiring connections."),
		emptyAcquires:  gauge("empty_acquires_total", "Cumulative count of acquires that waited for a connection."),
	})
}

func (c *poolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.acquiredConns
	ch <- c.idleConns
	ch <- c.totalConns
	ch <- c.maxConns
	ch <- c.acquireCount
	ch <- c.acquireSeconds
	ch <- c.emptyAcquires
}

func (c *poolCollector) Collect(ch chan<- prometheus.Metric) {
	stat := c.pool.Stat()

	ch <- prometheus.MustNewConstMetric(c.acquiredConns, prometheus.GaugeValue, float64(stat.AcquiredConns()))
	ch <- prometheus.MustNewConstMetric(c.idleConns, prometheus.GaugeValue, float64(stat.IdleConns()))
	ch <- prometheus.MustNewConstMetric(c.totalConns, prometheus.GaugeValue, float64(stat.TotalConns()))
	ch <- prometheus.MustNewConstMetric(c.maxConns, prometheus.GaugeValue, float64(stat.MaxConns()))
	ch <- prometheus.MustNewConstMetric(c.acquireCount, prometheus.CounterValue, float64(stat.AcquireCount()))
	ch <- prometheus.MustNewConstMetric(c.acquireSeconds, prometheus.CounterValue, stat.AcquireDuration().Seconds())
	ch <- prometheus.MustNewConstMetric(c.emptyAcquires, prometheus.CounterValue, float64(stat.EmptyAcquireCount()))
}
