package telemetry

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// InitMeterProvider initializes the Prometheus exporter and MeterProvider.
// It returns an http.Handler for the /metrics endpoint and a shutdown function.
func InitMeterProvider(serviceName, serviceVersion string) (http.Handler, func(context.Context) error, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, nil, err
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
		sdkmetric.WithResource(newResource(serviceName, serviceVersion)),
	)
	otel.SetMeterProvider(mp)

	return promhttp.Handler(), mp.Shutdown, nil
}

// Instruments are the counters shared by the order store and the desk client.
type Instruments struct {
	OrdersCreated    metric.Int64Counter
	ReplaysDeduped   metric.Int64Counter
	LockAcquired     metric.Int64Counter
	LockConflicts    metric.Int64Counter
	LockLost         metric.Int64Counter
	PaymentRejected  metric.Int64Counter
	QueueReplayed    metric.Int64Counter
	QueueReplayFails metric.Int64Counter
}

// NewInstruments registers the counters on meter.
func NewInstruments(meter metric.Meter) (*Instruments, error) {
	var (
		in  Instruments
		err error
	)
	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&in.OrdersCreated, "laundry.orders.created", "Orders created"},
		{&in.ReplaysDeduped, "laundry.orders.replays_deduplicated", "Replayed creates answered with an existing order"},
		{&in.LockAcquired, "laundry.locks.acquired", "Edit locks granted"},
		{&in.LockConflicts, "laundry.locks.conflicts", "Edit lock requests refused because another operator holds the lock"},
		{&in.LockLost, "laundry.locks.lost", "Edit sessions that lost their lease"},
		{&in.PaymentRejected, "laundry.payments.rejected", "Payment transitions rejected by validation"},
		{&in.QueueReplayed, "laundry.queue.replayed", "Queued operations acknowledged by the order store"},
		{&in.QueueReplayFails, "laundry.queue.replay_failures", "Queued operation replays that failed"},
	}
	for _, c := range counters {
		if *c.dst, err = meter.Int64Counter(c.name, metric.WithDescription(c.desc)); err != nil {
			return nil, err
		}
	}
	return &in, nil
}

// Discard returns instruments that record nothing.
func Discard() *Instruments {
	in, _ := NewInstruments(noop.NewMeterProvider().Meter(""))
	return in
}
