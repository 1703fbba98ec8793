package ursula

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
	nodeTelemetryOnce sync.Once
	nodeMeter         metric.Meter

	nodeArrangements      metric.Int64Counter
	nodeEnactments        metric.Int64Counter
	nodeWorkOrders        metric.Int64Counter
	nodeWorkOrderLatency  metric.Float64Histogram
	nodeTreasureMaps      metric.Int64Counter
	nodeExpiredSweepTotal metric.Int64Counter
)

func initNodeTelemetry() {
	nodeTelemetryOnce.Do(func() {
		logger := logging.GetLogger()
		nodeMeter = otel.GetMeterProvider().Meter("nkms/services/ursula")

		var err error
		if nodeArrangements, err = nodeMeter.Int64Counter(
			"nkms_node_arrangements_total",
			metric.WithDescription("Arrangement proposals by decision"),
		); err != nil {
			logger.Warn("Failed to register arrangement counter: %v", err)
		}

		if nodeEnactments, err = nodeMeter.Int64Counter(
			"nkms_node_enactments_total",
			metric.WithDescription("Key fragments received by result"),
		); err != nil {
			logger.Warn("Failed to register enactment counter: %v", err)
		}

		if nodeWorkOrders, err = nodeMeter.Int64Counter(
			"nkms_node_work_orders_total",
			metric.WithDescription("Work orders served by result"),
		); err != nil {
			logger.Warn("Failed to register work order counter: %v", err)
		}

		if nodeWorkOrderLatency, err = nodeMeter.Float64Histogram(
			"nkms_node_work_order_duration_ms",
			metric.WithDescription("Duration of work order re-encryption in milliseconds"),
			metric.WithUnit("ms"),
		); err != nil {
			logger.Warn("Failed to register work order latency histogram: %v", err)
		}

		if nodeTreasureMaps, err = nodeMeter.Int64Counter(
			"nkms_node_treasure_maps_total",
			metric.WithDescription("Treasure maps stored by result"),
		); err != nil {
			logger.Warn("Failed to register treasure map counter: %v", err)
		}

		if nodeExpiredSweepTotal, err = nodeMeter.Int64Counter(
			"nkms_node_expired_arrangements_total",
			metric.WithDescription("Arrangements removed by the expiration sweeper"),
		); err != nil {
			logger.Warn("Failed to register expiration counter: %v", err)
		}
	})
}

func recordArrangement(ctx context.Context, accepted bool) {
	initNodeTelemetry()
	if nodeArrangements == nil {
		return
	}
	decision := "declined"
	if accepted {
		decision = "accepted"
	}
	nodeArrangements.Add(ctx, 1, metric.WithAttributes(attribute.String("decision", decision)))
}

func recordEnactment(ctx context.Context, err error) {
	initNodeTelemetry()
	if nodeEnactments == nil {
		return
	}
	nodeEnactments.Add(ctx, 1, metric.WithAttributes(attribute.String("result", resultLabel(err))))
}

func recordWorkOrder(ctx context.Context, duration time.Duration, capsules int, err error) {
	initNodeTelemetry()
	attrs := metric.WithAttributes(attribute.String("result", resultLabel(err)))
	if nodeWorkOrders != nil {
		nodeWorkOrders.Add(ctx, 1, attrs)
	}
	if nodeWorkOrderLatency != nil {
		nodeWorkOrderLatency.Record(ctx, float64(duration.Milliseconds()),
			metric.WithAttributes(
				attribute.Int("capsules", capsules),
				attribute.String("result", resultLabel(err)),
			))
	}
}

func recordTreasureMap(ctx context.Context, err error) {
	initNodeTelemetry()
	if nodeTreasureMaps == nil {
		return
	}
	nodeTreasureMaps.Add(ctx, 1, metric.WithAttributes(attribute.String("result", resultLabel(err))))
}

func recordExpired(ctx context.Context, count int) {
	initNodeTelemetry()
	if nodeExpiredSweepTotal == nil || count == 0 {
		return
	}
	nodeExpiredSweepTotal.Add(ctx, int64(count))
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
