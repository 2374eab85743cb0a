package metrics

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

// RegisterPgxPoolMetrics exposes the bridge database pool's statistics as
// Prometheus gauges, namespaced alongside the bridge_* reconciliation
// counters.
func RegisterPgxPoolMetrics(pool *pgxpool.Pool) {
	gauges := []struct {
		name string
		help string
		get  func(*pgxpool.Stat) int32
	}{
		{"bridge_pgxpool_acquired_conns", "Connections currently acquired from the pool",
			func(s *pgxpool.Stat) int32 { return s.AcquiredConns() }},
		{"bridge_pgxpool_idle_conns", "Idle connections held by the pool",
			func(s *pgxpool.Stat) int32 { return s.IdleConns() }},
		{"bridge_pgxpool_total_conns", "Total connections held by the pool",
			func(s *pgxpool.Stat) int32 { return s.TotalConns() }},
		{"bridge_pgxpool_max_conns", "Configured pool connection limit",
			func(s *pgxpool.Stat) int32 { return s.MaxConns() }},
	}

	for _, g := range gauges {
		get := g.get
		prometheus.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: g.name,
			Help: g.help,
		}, func() float64 {
			return float64(get(pool.Stat()))
		}))
	}
}
