// Package metrics provides Prometheus metrics for the aggregator.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// SubmissionsTotal is a counter of oracle submissions by outcome.
	SubmissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flux_submissions_total",
			Help: "Total number of oracle submissions by outcome",
		},
		[]string{"feed", "status"},
	)

	// RoundsStartedTotal is a counter of opened rounds.
	RoundsStartedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flux_rounds_started_total",
			Help: "Total number of rounds opened",
		},
		[]string{"feed"},
	)

	// AnswersTotal is a counter of round answers by kind (quorum or timeout).
	AnswersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flux_answers_total",
			Help: "Total number of round answers by kind",
		},
		[]string{"feed", "kind"},
	)

	// ReportingRound is a gauge of the current reporting round id.
	ReportingRound = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "flux_reporting_round",
			Help: "Current reporting round id",
		},
		[]string{"feed"},
	)

	// LatestAnswer is a gauge of the latest median answer.
	LatestAnswer = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "flux_latest_answer",
			Help: "Latest median answer of a feed",
		},
		[]string{"feed"},
	)

	// CommitDuration is a histogram of state commit latencies.
	CommitDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "flux_commit_duration_seconds",
			Help:    "Duration of protocol state commits",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5},
		},
		[]string{"feed"},
	)

	// QuotesTotal is a counter of authenticated quotes.
	QuotesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flux_quotes_total",
			Help: "Total number of authenticated quotes",
		},
		[]string{"feed", "status"},
	)

	// PriceUpdatesTotal is a counter of the total number of price updates.
	PriceUpdatesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "price_updates_total",
			Help: "Total number of price updates received from sources",
		},
		[]string{"source", "symbol"},
	)

	// PriceAggregationDuration is a histogram of price aggregation duration.
	PriceAggregationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "price_aggregation_duration_seconds",
			Help:    "Duration of price aggregation operations",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// OutlierRejectionsTotal is a counter of rejected outlier prices.
	OutlierRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outlier_rejections_total",
			Help: "Total number of outlier prices rejected",
		},
		[]string{"symbol"},
	)

	// SourceHealth is a gauge of the health status of price sources.
	SourceHealth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "source_health",
			Help: "Health status of price sources (1=healthy, 0=unhealthy)",
		},
		[]string{"source", "type"},
	)

	// SourceLastUpdate is a gauge of the last update timestamp from sources.
	SourceLastUpdate = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "source_last_update_timestamp",
			Help: "Unix timestamp of last update from source",
		},
		[]string{"source"},
	)

	// AgentPollsTotal is a counter of agent poll cycles by result.
	AgentPollsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agent_polls_total",
			Help: "Total number of agent poll cycles by result",
		},
		[]string{"oracle", "result"},
	)

	// HTTPRequestsTotal is a counter of total HTTP requests.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"endpoint", "status"},
	)

	// HTTPRequestDuration is a histogram of HTTP request latencies.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"endpoint"},
	)

	// WebSocketClients is a gauge of connected WebSocket clients.
	WebSocketClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "websocket_clients",
			Help: "Number of connected WebSocket clients",
		},
	)
)

// Init registers all metrics with the default registry.
func Init() {
	prometheus.MustRegister(
		SubmissionsTotal,
		RoundsStartedTotal,
		AnswersTotal,
		ReportingRound,
		LatestAnswer,
		CommitDuration,
		QuotesTotal,
		PriceUpdatesTotal,
		PriceAggregationDuration,
		OutlierRejectionsTotal,
		SourceHealth,
		SourceLastUpdate,
		AgentPollsTotal,
		HTTPRequestsTotal,
		HTTPRequestDuration,
		WebSocketClients,
	)
}

// Serve serves Prometheus metrics on addr until ctx is cancelled.
func Serve(ctx context.Context, addr, path string) error {
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.Handler())
	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// RecordSubmission records an oracle submission outcome.
func RecordSubmission(feed, status string) {
	SubmissionsTotal.WithLabelValues(feed, status).Inc()
}

// RecordRoundStarted records an opened round.
func RecordRoundStarted(feed string, roundID uint64) {
	RoundsStartedTotal.WithLabelValues(feed).Inc()
	ReportingRound.WithLabelValues(feed).Set(float64(roundID))
}

// RecordAnswer records a round answer. kind is "quorum" or "timeout".
func RecordAnswer(feed, kind string, answer float64) {
	AnswersTotal.WithLabelValues(feed, kind).Inc()
	if kind == "quorum" {
		LatestAnswer.WithLabelValues(feed).Set(answer)
	}
}

// RecordCommit records the duration of a state commit.
func RecordCommit(feed string, duration time.Duration) {
	CommitDuration.WithLabelValues(feed).Observe(duration.Seconds())
}

// RecordQuote records a quote authentication outcome.
func RecordQuote(feed, status string) {
	QuotesTotal.WithLabelValues(feed, status).Inc()
}

// RecordSourceUpdate records a price update from a source.
func RecordSourceUpdate(source, symbol string) {
	PriceUpdatesTotal.WithLabelValues(source, symbol).Inc()
	SourceLastUpdate.WithLabelValues(source).SetToCurrentTime()
}

// RecordSourceHealth records the health status of a source.
func RecordSourceHealth(source, sourceType string, healthy bool) {
	val := 0.0
	if healthy {
		val = 1.0
	}
	SourceHealth.WithLabelValues(source, sourceType).Set(val)
}

// RecordAggregation records a price aggregation operation.
func RecordAggregation(method string, duration time.Duration) {
	PriceAggregationDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordOutlierRejection records an outlier rejection.
func RecordOutlierRejection(symbol string) {
	OutlierRejectionsTotal.WithLabelValues(symbol).Inc()
}

// RecordAgentPoll records the result of one agent poll cycle.
func RecordAgentPoll(oracle, result string) {
	AgentPollsTotal.WithLabelValues(oracle, result).Inc()
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, status string, duration time.Duration) {
	HTTPRequestsTotal.WithLabelValues(endpoint, status).Inc()
	HTTPRequestDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}
