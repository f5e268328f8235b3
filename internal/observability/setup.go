package observability

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/iamwavecut/antispambot"

var (
	// Logger is the structured access logger of the verification server.
	Logger = zap.NewNop()

	registry = prometheus.NewRegistry()

	moderatedMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "antispam_moderated_messages_total",
			Help: "Messages that went through classification, by outcome",
		},
		[]string{"outcome"},
	)

	classificationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "antispam_classification_duration_seconds",
			Help:    "Time spent waiting for the language model",
			Buckets: []float64{.25, .5, 1, 2, 4, 8, 15},
		},
		[]string{"status"},
	)

	enforcementActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "antispam_enforcement_actions_total",
			Help: "Enforcement actions by level and status",
		},
		[]string{"level", "status"},
	)

	verificationAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "antispam_verification_attempts_total",
			Help: "Verification form submissions by result",
		},
		[]string{"result"},
	)
)

func init() {
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		moderatedMessagesTotal,
		classificationDuration,
		enforcementActionsTotal,
		verificationAttemptsTotal,
	)
}

// Init installs the zap logger and the tracer provider. The returned function
// flushes both.
func Init(ctx context.Context) (func(context.Context) error, error) {
	logger, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}
	Logger = logger

	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)

	return func(ctx context.Context) error {
		// Sync on a console fd reports EINVAL on most platforms.
		_ = logger.Sync()
		return tp.Shutdown(ctx)
	}, nil
}

// MetricsHandler serves the private registry.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})
}

func Tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

func RecordModeration(outcome string) {
	moderatedMessagesTotal.WithLabelValues(outcome).Inc()
}

// StartClassification returns a function recording the call duration.
func StartClassification() func(status string) {
	start := time.Now()
	return func(status string) {
		classificationDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())
	}
}

func RecordEnforcement(level, status string) {
	enforcementActionsTotal.WithLabelValues(level, status).Inc()
}

func RecordVerification(result string) {
	verificationAttemptsTotal.WithLabelValues(result).Inc()
}
