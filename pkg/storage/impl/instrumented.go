package impl

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/textileio/go-tonconnect/pkg/metrics"
	"github.com/textileio/go-tonconnect/pkg/storage"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/global"
	"go.opentelemetry.io/otel/metric/instrument"
)

// InstrumentedAdapter implements an instrumented storage.Adapter.
type InstrumentedAdapter struct {
	adapter          storage.Adapter
	backend          string
	callCount        instrument.Int64Counter
	latencyHistogram instrument.Int64Histogram
}

var _ storage.Adapter = (*InstrumentedAdapter)(nil)

// NewInstrumentedAdapter creates a new InstrumentedAdapter.
func NewInstrumentedAdapter(adapter storage.Adapter, backend string) (storage.Adapter, error) {
	meter := global.MeterProvider().Meter("tonconnect")
	callCount, err := meter.Int64Counter("tonconnect.storage.call.count")
	if err != nil {
		return nil, fmt.Errorf("registering call counter: %s", err)
	}
	latencyHistogram, err := meter.Int64Histogram("tonconnect.storage.call.latency")
	if err != nil {
		return nil, fmt.Errorf("registering latency histogram: %s", err)
	}

	return &InstrumentedAdapter{
		adapter:          adapter,
		backend:          backend,
		callCount:        callCount,
		latencyHistogram: latencyHistogram,
	}, nil
}

// Get implements storage.Adapter.
func (a *InstrumentedAdapter) Get(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()
	value, err := a.adapter.Get(ctx, key)
	// A missing key is a regular outcome, not a failed call.
	success := err == nil || errors.Is(err, storage.ErrNotFound)
	a.record(ctx, "Get", success, start)
	return value, err
}

// Set implements storage.Adapter.
func (a *InstrumentedAdapter) Set(ctx context.Context, key string, value []byte) error {
	start := time.Now()
	err := a.adapter.Set(ctx, key, value)
	a.record(ctx, "Set", err == nil, start)
	return err
}

// Remove implements storage.Adapter.
func (a *InstrumentedAdapter) Remove(ctx context.Context, key string) error {
	start := time.Now()
	err := a.adapter.Remove(ctx, key)
	a.record(ctx, "Remove", err == nil, start)
	return err
}

// Clear implements storage.Adapter.
func (a *InstrumentedAdapter) Clear(ctx context.Context) error {
	start := time.Now()
	err := a.adapter.Clear(ctx)
	a.record(ctx, "Clear", err == nil, start)
	return err
}

// Close implements storage.Adapter.
func (a *InstrumentedAdapter) Close() error {
	return a.adapter.Close()
}

func (a *InstrumentedAdapter) record(ctx context.Context, method string, success bool, start time.Time) {
	latency := time.Since(start).Milliseconds()
	attributes := append([]attribute.KeyValue{
		{Key: "method", Value: attribute.StringValue(method)},
		{Key: "success", Value: attribute.BoolValue(success)},
		{Key: "backend", Value: attribute.StringValue(a.backend)},
	}, metrics.BaseAttrs...)

	a.callCount.Add(ctx, 1, attributes...)
	a.latencyHistogram.Record(ctx, latency, attributes...)
}
