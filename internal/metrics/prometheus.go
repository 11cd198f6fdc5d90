package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ChatTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ehr_chatbot_chat_total",
			Help: "Total chat turns routed, by response variant",
		},
		[]string{"response_type"},
	)

	ChatDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ehr_chatbot_chat_duration_seconds",
			Help:    "End-to-end chat turn duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"response_type"},
	)

	SimilarityScore = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ehr_chatbot_similarity_score",
			Help:    "Best-match similarity per routed query",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.75, 0.8, 0.83, 0.9, 1.0},
		},
	)

	MismatchDetections = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ehr_chatbot_mismatch_detections_total",
			Help: "Queries flagged as belonging to a different condition",
		},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ehr_chatbot_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ehr_chatbot_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache_type"},
	)

	ItemsIndexed = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ehr_chatbot_items_indexed",
			Help: "Items in the vector index at last build",
		},
	)
)

func Init() {
	prometheus.MustRegister(ChatTotal)
	prometheus.MustRegister(ChatDuration)
	prometheus.MustRegister(SimilarityScore)
	prometheus.MustRegister(MismatchDetections)
	prometheus.MustRegister(CacheHits)
	prometheus.MustRegister(CacheMisses)
	prometheus.MustRegister(ItemsIndexed)
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
