package metrics

import "github.com/prometheus/client_golang/prometheus"

// PoolStats is a snapshot of the database pool, decoupled from pgxpool.
type PoolStats struct {
	Total         int32
	Idle          int32
	Acquired      int32
	Max           int32
	EmptyAcquires int64
}

// DBPoolStatFunc returns the current pool snapshot.
type DBPoolStatFunc func() PoolStats

type dbPoolCollector struct {
	stat DBPoolStatFunc

	total, idle, acquired, max, empty *prometheus.Desc
}

// NewDBPoolCollector creates a collector that reads pool stats on every scrape.
func NewDBPoolCollector(stat DBPoolStatFunc) prometheus.Collector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc("quotedesk_db_pool_"+name, help, nil, nil)
	}
	return &dbPoolCollector{
		stat:     stat,
		total:    desc("total_conns", "Total number of connections in the DB pool."),
		idle:     desc("idle_conns", "Number of idle connections in the DB pool."),
		acquired: desc("acquired_conns", "Number of acquired connections in the DB pool."),
		max:      desc("max_conns", "Configured maximum size of the DB pool."),
		empty:    desc("empty_acquires_total", "Acquires that had to wait for a connection."),
	}
}

func (c *dbPoolCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{c.total, c.idle, c.acquired, c.max, c.empty} {
		ch <- d
	}
}

func (c *dbPoolCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.stat()
	ch <- prometheus.MustNewConstMetric(c.total, prometheus.GaugeValue, float64(s.Total))
	ch <- prometheus.MustNewConstMetric(c.idle, prometheus.GaugeValue, float64(s.Idle))
	ch <- prometheus.MustNewConstMetric(c.acquired, prometheus.GaugeValue, float64(s.Acquired))
	ch <- prometheus.MustNewConstMetric(c.max, prometheus.GaugeValue, float64(s.Max))
	ch <- prometheus.MustNewConstMetric(c.empty, prometheus.CounterValue, float64(s.EmptyAcquires))
}
