package recipient

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/AdalynJs/nucypher/logging"
)

var (
	recipientTelemetryOnce sync.Once
	recipientWorkOrders    metric.Int64Counter
)

func initRecipientTelemetry() {
	recipientTelemetryOnce.Do(func() {
		meter := otel.GetMeterProvider().Meter("nkms/pkg/recipient")

		var err error
		if recipientWorkOrders, err = meter.Int64Counter(
			"nkms_recipient_work_orders_total",
			metric.WithDescription("Work orders issued by the recipient, by result"),
		); err != nil {
			logging.GetLogger().Warn("Failed to register work order counter: %v", err)
		}
	})
}

func recordWorkOrder(ctx context.Context, err error) {
	initRecipientTelemetry()
	if recipientWorkOrders == nil {
		return
	}
	result := "verified"
	if err != nil {
		result = "error"
	}
	recipientWorkOrders.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}
