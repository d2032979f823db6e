package monitor

import "github.com/prometheus/client_golang/prometheus"

const namespace = "stratbot"

// Metrics agrupa las métricas Prometheus del pipeline.
//
//   - stratbot_runs_total{trigger,status}
//   - stratbot_run_duration_seconds
//   - stratbot_jobs_total{status,phase}
//   - stratbot_job_sharpe{strategy}
//   - stratbot_pairs_total{phase,reason}
//   - stratbot_alerts_total{kind}
//   - stratbot_warnings_total
//   - stratbot_promotions_total
//   - stratbot_best_combined_score
type Metrics struct {
	runs        *prometheus.CounterVec
	runDuration prometheus.Histogram
	jobs        *prometheus.CounterVec
	jobSharpe   *prometheus.HistogramVec
	pairs       *prometheus.CounterVec
	alerts      *prometheus.CounterVec
	warnings    prometheus.Counter
	promotions  prometheus.Counter
	bestScore   prometheus.Gauge
}

// NewMetrics crea las métricas y las registra en reg. Con reg nil no se registran.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Pipeline runs by trigger and final status",
		}, []string{"trigger", "status"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall-clock duration of a pipeline run",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Backtest jobs by final status and search phase",
		}, []string{"status", "phase"}),
		jobSharpe: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_sharpe",
			Help:      "Sharpe ratio of completed backtest jobs by strategy",
			Buckets:   []float64{-1, 0, 0.5, 1, 1.5, 2, 3},
		}, []string{"strategy"}),
		pairs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pairs_total",
			Help:      "Finished pair searches by phase and reason",
		}, []string{"phase", "reason"}),
		alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_total",
			Help:      "Monitoring alerts raised during runs",
		}, []string{"kind"}),
		warnings: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "warnings_total",
			Help:      "Non-fatal warnings recorded during runs",
		}),
		promotions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "promotions_total",
			Help:      "Strategies promoted to paper trading",
		}),
		bestScore: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "best_combined_score",
			Help:      "Best combined score of the last finished run",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.runs, m.runDuration, m.jobs, m.jobSharpe, m.pairs,
			m.alerts, m.warnings, m.promotions, m.bestScore,
		)
	}
	return m
}
