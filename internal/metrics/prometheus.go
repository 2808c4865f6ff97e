package metrics

import (
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	QueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nl2sql_eval_query_duration_seconds",
			Help:    "Query execution duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"engine"},
	)

	QueryTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nl2sql_eval_query_total",
			Help: "Total number of queries executed",
		},
		[]string{"engine", "status"},
	)

	QueryRows = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nl2sql_eval_query_rows",
			Help:    "Rows returned per successful query",
			Buckets: []float64{0, 1, 10, 100, 1000, 10000},
		},
		[]string{"engine"},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nl2sql_eval_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nl2sql_eval_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache_type"},
	)

	BreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nl2sql_eval_circuit_breaker_state",
			Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
		[]string{"name"},
	)

	ChartsRendered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nl2sql_eval_charts_rendered_total",
			Help: "Total charts rendered",
		},
		[]string{"chart_type", "status"},
	)

	RubricSubmissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nl2sql_eval_rubric_submissions_total",
			Help: "Total rubric submissions",
		},
		[]string{"model"},
	)

	DatasetWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nl2sql_eval_dataset_writes_total",
			Help: "Total dataset file writes",
		},
		[]string{"kind"},
	)

	ImagesExtracted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "nl2sql_eval_images_extracted_total",
			Help: "Total images extracted from email",
		},
	)
)

var initOnce sync.Once

func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(QueryDuration)
		prometheus.MustRegister(QueryTotal)
		prometheus.MustRegister(QueryRows)
		prometheus.MustRegister(CacheHits)
		prometheus.MustRegister(CacheMisses)
		prometheus.MustRegister(BreakerState)
		prometheus.MustRegister(ChartsRendered)
		prometheus.MustRegister(RubricSubmissions)
		prometheus.MustRegister(DatasetWrites)
		prometheus.MustRegister(ImagesExtracted)
	})
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
