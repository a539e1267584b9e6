package telemetry

import (
	"context"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestInstrumentsRecord(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	in, err := NewInstruments(mp.Meter("test"))
	if err != nil {
		t.Fatalf("new instruments: %v", err)
	}
	ctx := context.Background()
	in.LockConflicts.Add(ctx, 2)
	in.OrdersCreated.Add(ctx, 1)

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}

	got := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					got[m.Name] += dp.Value
				}
			}
		}
	}
	if got["laundry.locks.conflicts"] != 2 || got["laundry.orders.created"] != 1 {
		t.Fatalf("unexpected sums: %v", got)
	}
}

func TestDiscard(t *testing.T) {
	in := Discard()
	if in == nil || in.LockAcquired == nil {
		t.Fatal("Discard must return usable instruments")
	}
	in.LockAcquired.Add(context.Background(), 1)
}
