package impl

import (
	"context"
	"fmt"
	"time"

	"github.com/textileio/go-tonconnect/pkg/metrics"
	"github.com/textileio/go-tonconnect/pkg/tonconnect"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/global"
	"go.opentelemetry.io/otel/metric/instrument"
)

func (ep *EventProcessor) initMetrics() error {
	meter := global.MeterProvider().Meter("tonconnect")
	ep.mBaseLabels = append([]attribute.KeyValue(nil), metrics.BaseAttrs...)

	// Async instruments.
	mActiveLoops, err := meter.Int64ObservableGauge("tonconnect.eventprocessor.active.loops")
	if err != nil {
		return fmt.Errorf("creating active loops gauge: %s", err)
	}
	_, err = meter.RegisterCallback(
		func(ctx context.Context, o metric.Observer) error {
			o.ObserveInt64(mActiveLoops, ep.mActiveLoops.Load(), ep.mBaseLabels...)
			return nil
		},
		[]instrument.Asynchronous{mActiveLoops}...,
	)
	if err != nil {
		return fmt.Errorf("registering async metric callback: %s", err)
	}

	// Sync instruments.
	ep.mEventCounter, err = meter.Int64Counter("tonconnect.eventprocessor.event.count")
	if err != nil {
		return fmt.Errorf("creating event count instrument: %s", err)
	}
	ep.mEventLatency, err = meter.Int64Histogram("tonconnect.eventprocessor.event.latency")
	if err != nil {
		return fmt.Errorf("creating event latency instrument: %s", err)
	}
	ep.mRecoveredCounter, err = meter.Int64Counter("tonconnect.eventprocessor.recovered.count")
	if err != nil {
		return fmt.Errorf("creating recovered count instrument: %s", err)
	}
	ep.mCleanedUpCounter, err = meter.Int64Counter("tonconnect.eventprocessor.cleanedup.count")
	if err != nil {
		return fmt.Errorf("creating cleaned up count instrument: %s", err)
	}
	ep.mSweepErrorCounter, err = meter.Int64Counter("tonconnect.eventprocessor.sweep.error.count")
	if err != nil {
		return fmt.Errorf("creating sweep error count instrument: %s", err)
	}

	return nil
}

func (ep *EventProcessor) attrs(kvs ...attribute.KeyValue) []attribute.KeyValue {
	return append(append(make([]attribute.KeyValue, 0, len(kvs)+len(ep.mBaseLabels)), kvs...), ep.mBaseLabels...)
}

func (ep *EventProcessor) record(ctx context.Context, eventType tonconnect.EventType, result string, start time.Time) {
	attrs := ep.attrs(
		attribute.String("type", string(eventType)),
		attribute.String("result", result),
	)
	ep.mEventCounter.Add(ctx, 1, attrs...)
	ep.mEventLatency.Record(ctx, time.Since(start).Milliseconds(), attrs...)
}
