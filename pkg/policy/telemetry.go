package policy

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/AdalynJs/nucypher/logging"
)

var (
	policyTelemetryOnce sync.Once
	policyMeter         metric.Meter

	policyNegotiations     metric.Int64Counter
	policyEnactmentLatency metric.Float64Histogram
	policyPublications     metric.Int64Counter
	policyAbandonments     metric.Int64Counter
)

func initPolicyTelemetry() {
	policyTelemetryOnce.Do(func() {
		logger := logging.GetLogger()
		policyMeter = otel.GetMeterProvider().Meter("nkms/pkg/policy")

		var err error
		if policyNegotiations, err = policyMeter.Int64Counter(
			"nkms_policy_negotiations_total",
			metric.WithDescription("Per-fragment negotiation attempts by outcome"),
		); err != nil {
			logger.Warn("Failed to register negotiation counter: %v", err)
		}

		if policyEnactmentLatency, err = policyMeter.Float64Histogram(
			"nkms_policy_enactment_duration_ms",
			metric.WithDescription("Duration of policy enactment in milliseconds"),
			metric.WithUnit("ms"),
		); err != nil {
			logger.Warn("Failed to register enactment latency histogram: %v", err)
		}

		if policyPublications, err = policyMeter.Int64Counter(
			"nkms_policy_publications_total",
			metric.WithDescription("Treasure map publications by result"),
		); err != nil {
			logger.Warn("Failed to register publication counter: %v", err)
		}

		if policyAbandonments, err = policyMeter.Int64Counter(
			"nkms_policy_abandoned_contracts_total",
			metric.WithDescription("Accepted contracts abandoned after a failed grant"),
		); err != nil {
			logger.Warn("Failed to register abandonment counter: %v", err)
		}
	})
}

func recordNegotiation(ctx context.Context, outcome string) {
	initPolicyTelemetry()
	if policyNegotiations == nil {
		return
	}
	policyNegotiations.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func recordEnactment(ctx context.Context, duration time.Duration, fragments int, err error) {
	initPolicyTelemetry()
	if policyEnactmentLatency == nil {
		return
	}
	policyEnactmentLatency.Record(ctx, float64(duration.Milliseconds()),
		metric.WithAttributes(
			attribute.Int("fragments", fragments),
			attribute.String("result", resultLabel(err)),
		))
}

func recordPublication(ctx context.Context, err error) {
	initPolicyTelemetry()
	if policyPublications == nil {
		return
	}
	policyPublications.Add(ctx, 1, metric.WithAttributes(attribute.String("result", resultLabel(err))))
}

func recordAbandoned(ctx context.Context, count int) {
	initPolicyTelemetry()
	if policyAbandonments == nil || count == 0 {
		return
	}
	policyAbandonments.Add(ctx, int64(count))
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
