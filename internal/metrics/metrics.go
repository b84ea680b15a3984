package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kyc_http_requests_total",
			Help: "Total number of HTTP requests served",
		},
		[]string{"method", "path", "status"},
	)

	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "kyc_http_request_duration_seconds",
			Help: "Duration of HTTP request handling in seconds",
		},
		[]string{"method", "path"},
	)

	ApplicationsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kyc_applications_processed_total",
			Help: "Applications run through the verification pipeline, by outcome",
		},
		[]string{"outcome"},
	)

	ReviewDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kyc_review_decisions_total",
			Help: "Manual review decisions, by action",
		},
		[]string{"action"},
	)

	InstitutionResolves = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kyc_institution_resolves_total",
			Help: "Institution UKN resolve attempts, by result",
		},
		[]string{"result"},
	)
)

func ObserveHTTPRequest(method, path string, status int, elapsed time.Duration) {
	HTTPRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	HTTPDuration.WithLabelValues(method, path).Observe(elapsed.Seconds())
}
