package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TallyMutationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "elecciones_tally_mutations_total",
		Help: "Committed tally writes by operation",
	}, []string{"op"})
	TallyRejectedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "elecciones_tally_rejected_total",
		Help: "Tally submissions rejected by validation, by kind",
	}, []string{"kind"})
	ReconcileTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "elecciones_reconcile_total",
		Help: "Aggregate reconciliations by result (upserted, deleted, failed)",
	}, []string{"result"})
	ReconcileDurationMs = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "elecciones_reconcile_duration_ms",
		Help:    "Reconciliation duration in milliseconds",
		Buckets: []float64{1, 5, 10, 20, 50, 100, 200, 500, 1000},
	})
	RepairTablesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "elecciones_repair_tables_total",
		Help: "Tables touched by numbering repairs, by action",
	}, []string{"action"})
	RepairSchoolFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "elecciones_repair_school_failures_total",
		Help: "Schools whose repair plan could not be applied",
	})
)

func init() {
	prometheus.MustRegister(TallyMutationsTotal)
	prometheus.MustRegister(TallyRejectedTotal)
	prometheus.MustRegister(ReconcileTotal)
	prometheus.MustRegister(ReconcileDurationMs)
	prometheus.MustRegister(RepairTablesTotal)
	prometheus.MustRegister(RepairSchoolFailuresTotal)
}

func Handler() http.Handler { return promhttp.Handler() }
