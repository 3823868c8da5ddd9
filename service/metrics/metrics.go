package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the application.
// It is passed explicitly to every component that records metrics; a nil
// *Metrics means "don't record".
type Metrics struct {
	// Solana RPC
	solanaRPCCallsTotal        *prometheus.CounterVec
	solanaRPCCallDuration      *prometheus.HistogramVec
	solanaRPCRateLimitHits     *prometheus.CounterVec
	solanaRPCRetries           *prometheus.CounterVec
	solanaRPCSignaturesPerCall *prometheus.HistogramVec
	solanaConfirmDuration      *prometheus.HistogramVec

	// VRF protocol
	vrfRequestsTotal        *prometheus.CounterVec
	vrfVerificationsTotal   *prometheus.CounterVec
	vrfFulfillmentWait      *prometheus.HistogramVec
	vrfTransactionsScanned  *prometheus.HistogramVec
	vrfAccountDecodeFailure *prometheus.CounterVec

	// Workflows
	workflowDuration        *prometheus.HistogramVec
	workflowExecutionsTotal *prometheus.CounterVec
	activityDuration        *prometheus.HistogramVec

	// Database
	dbQueryDuration   *prometheus.HistogramVec
	dbOperationsTotal *prometheus.CounterVec

	// HTTP
	httpRequestDuration *prometheus.HistogramVec
	httpRequestsTotal   *prometheus.CounterVec

	// NATS
	natsMessagesPublished *prometheus.CounterVec
	natsPublishDuration   *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance and registers all collectors.
// If registry is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		solanaRPCCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solana_rpc_calls_total",
				Help: "Total number of Solana RPC calls by method and status",
			},
			[]string{"method", "status", "endpoint"},
		),
		solanaRPCCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "solana_rpc_call_duration_seconds",
				Help:    "Duration of Solana RPC calls in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"method", "endpoint"},
		),
		solanaRPCRateLimitHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solana_rpc_rate_limit_hits_total",
				Help: "Total number of Solana RPC rate limit hits (429 errors)",
			},
			[]string{"endpoint"},
		),
		solanaRPCRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solana_rpc_retries_total",
				Help: "Total number of Solana RPC retry attempts",
			},
			[]string{"method", "reason"},
		),
		solanaRPCSignaturesPerCall: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "solana_rpc_signatures_per_call",
				Help:    "Number of signatures returned per getSignaturesForAddress call",
				Buckets: []float64{0, 1, 2, 5, 10, 50, 100, 1000},
			},
			[]string{"endpoint"},
		),
		solanaConfirmDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "solana_transaction_confirm_duration_seconds",
				Help:    "Time from send to confirmation of submitted transactions",
				Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
			},
			[]string{"endpoint", "status"},
		),

		vrfRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vrf_requests_total",
				Help: "Randomness requests by outcome (submitted, skipped, error)",
			},
			[]string{"network", "outcome"},
		),
		vrfVerificationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vrf_verifications_total",
				Help: "Offchain verifications by outcome (verified, rejected, not_found, error)",
			},
			[]string{"network", "outcome"},
		),
		vrfFulfillmentWait: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "vrf_fulfillment_wait_seconds",
				Help:    "Time spent waiting for the oracle to fulfill a request",
				Buckets: []float64{1, 2, 5, 10, 20, 30, 60, 120, 300},
			},
			[]string{"network"},
		),
		vrfTransactionsScanned: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "vrf_scan_transactions_inspected",
				Help:    "Transactions inspected per fulfillment scan",
				Buckets: []float64{1, 2, 3, 5, 10, 25, 100},
			},
			[]string{"network", "result"},
		),
		vrfAccountDecodeFailure: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vrf_account_decode_failures_total",
				Help: "Account payloads that failed to decode",
			},
			[]string{"network", "account"},
		),

		workflowDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "randomness_workflow_duration_seconds",
				Help:    "Duration of randomness workflow executions in seconds",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"network", "status"},
		),
		workflowExecutionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "randomness_workflow_executions_total",
				Help: "Total number of randomness workflow executions",
			},
			[]string{"network", "status"},
		),
		activityDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "randomness_activity_duration_seconds",
				Help:    "Duration of randomness workflow activities in seconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"activity", "status"},
		),

		dbQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "db_query_duration_seconds",
				Help:    "Duration of database queries in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
			},
			[]string{"operation", "table"},
		),
		dbOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "db_operations_total",
				Help: "Total number of database operations",
			},
			[]string{"operation", "status"},
		),

		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
			},
			[]string{"handler", "method", "status"},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"handler", "method", "status"},
		),

		natsMessagesPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nats_messages_published_total",
				Help: "Total number of NATS messages published",
			},
			[]string{"event", "status"},
		),
		natsPublishDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nats_publish_duration_seconds",
				Help:    "Duration of NATS publish operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
			[]string{"event"},
		),
	}
}

// Solana RPC metric helpers

// RecordRPCCall records a Solana RPC call with duration.
func (m *Metrics) RecordRPCCall(method, status, endpoint string, duration float64) {
	m.solanaRPCCallsTotal.WithLabelValues(method, status, endpoint).Inc()
	m.solanaRPCCallDuration.WithLabelValues(method, endpoint).Observe(duration)
}

// RecordRateLimitHit records a rate limit hit (429 error).
func (m *Metrics) RecordRateLimitHit(endpoint string) {
	m.solanaRPCRateLimitHits.WithLabelValues(endpoint).Inc()
}

// RecordRPCRetry records a retry attempt.
func (m *Metrics) RecordRPCRetry(method, reason string) {
	m.solanaRPCRetries.WithLabelValues(method, reason).Inc()
}

// RecordRPCSignaturesPerCall records the number of signatures fetched.
func (m *Metrics) RecordRPCSignaturesPerCall(endpoint string, count float64) {
	m.solanaRPCSignaturesPerCall.WithLabelValues(endpoint).Observe(count)
}

// RecordConfirmation records how long a submitted transaction took to reach
// the requested commitment.
func (m *Metrics) RecordConfirmation(endpoint, status string, duration float64) {
	m.solanaConfirmDuration.WithLabelValues(endpoint, status).Observe(duration)
}

// VRF metric helpers

func (m *Metrics) RecordRandomnessRequest(network, outcome string) {
	m.vrfRequestsTotal.WithLabelValues(network, outcome).Inc()
}

func (m *Metrics) RecordVerification(network, outcome string) {
	m.vrfVerificationsTotal.WithLabelValues(network, outcome).Inc()
}

func (m *Metrics) RecordFulfillmentWait(network string, duration float64) {
	m.vrfFulfillmentWait.WithLabelValues(network).Observe(duration)
}

// RecordScan records how many transactions a fulfillment scan inspected.
func (m *Metrics) RecordScan(network, result string, inspected int) {
	m.vrfTransactionsScanned.WithLabelValues(network, result).Observe(float64(inspected))
}

func (m *Metrics) RecordDecodeFailure(network, account string) {
	m.vrfAccountDecodeFailure.WithLabelValues(network, account).Inc()
}

// Workflow metric helpers

// RecordWorkflowDuration records workflow execution duration.
func (m *Metrics) RecordWorkflowDuration(network, status string, duration float64) {
	m.workflowDuration.WithLabelValues(network, status).Observe(duration)
	m.workflowExecutionsTotal.WithLabelValues(network, status).Inc()
}

// RecordActivityDuration records activity execution duration.
func (m *Metrics) RecordActivityDuration(activity string, err error, duration float64) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.activityDuration.WithLabelValues(activity, status).Observe(duration)
}

// Database metric helpers

// RecordDBQuery records a database query with duration.
func (m *Metrics) RecordDBQuery(operation, table string, duration float64, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.dbQueryDuration.WithLabelValues(operation, table).Observe(duration)
	m.dbOperationsTotal.WithLabelValues(operation, status).Inc()
}

// HTTP metric helpers

// RecordHTTPRequest records an HTTP request with duration.
func (m *Metrics) RecordHTTPRequest(handler, method string, statusCode int, duration float64) {
	status := statusCodeToString(statusCode)
	m.httpRequestDuration.WithLabelValues(handler, method, status).Observe(duration)
	m.httpRequestsTotal.WithLabelValues(handler, method, status).Inc()
}

// NATS metric helpers

// RecordNATSPublish records a NATS publish operation for an event kind.
func (m *Metrics) RecordNATSPublish(event, status string, duration float64) {
	m.natsMessagesPublished.WithLabelValues(event, status).Inc()
	m.natsPublishDuration.WithLabelValues(event).Observe(duration)
}

func statusCodeToString(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500 && code < 600:
		return "5xx"
	default:
		return "unknown"
	}
}
