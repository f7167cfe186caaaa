package impl

import (
	"context"
	"fmt"
	"time"

	"github.com/textileio/go-tonconnect/pkg/eventstore"
	"github.com/textileio/go-tonconnect/pkg/metrics"
	"github.com/textileio/go-tonconnect/pkg/tonconnect"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/global"
	"go.opentelemetry.io/otel/metric/instrument"
)

// InstrumentedEventStore implements an instrumented eventstore.EventStore.
type InstrumentedEventStore struct {
	store            eventstore.EventStore
	callCount        instrument.Int64Counter
	latencyHistogram instrument.Int64Histogram
	recoveredCount   instrument.Int64Counter
	removedCount     instrument.Int64Counter
}

var _ eventstore.EventStore = (*InstrumentedEventStore)(nil)

// NewInstrumentedEventStore creates a new InstrumentedEventStore.
func NewInstrumentedEventStore(store eventstore.EventStore) (eventstore.EventStore, error) {
	meter := global.MeterProvider().Meter("tonconnect")
	callCount, err := meter.Int64Counter("tonconnect.eventstore.call.count")
	if err != nil {
		return nil, fmt.Errorf("registering call counter: %s", err)
	}
	latencyHistogram, err := meter.Int64Histogram("tonconnect.eventstore.call.latency")
	if err != nil {
		return nil, fmt.Errorf("registering latency histogram: %s", err)
	}
	recoveredCount, err := meter.Int64Counter("tonconnect.eventstore.recovered.count")
	if err != nil {
		return nil, fmt.Errorf("registering recovered counter: %s", err)
	}
	removedCount, err := meter.Int64Counter("tonconnect.eventstore.removed.count")
	if err != nil {
		return nil, fmt.Errorf("registering removed counter: %s", err)
	}

	return &InstrumentedEventStore{
		store:            store,
		callCount:        callCount,
		latencyHistogram: latencyHistogram,
		recoveredCount:   recoveredCount,
		removedCount:     removedCount,
	}, nil
}

// StoreEvent implements eventstore.EventStore.
func (s *InstrumentedEventStore) StoreEvent(
	ctx context.Context,
	raw tonconnect.RawEvent,
) (eventstore.StoredEvent, error) {
	start := time.Now()
	e, err := s.store.StoreEvent(ctx, raw)
	s.record(ctx, "StoreEvent", err == nil, start)
	return e, err
}

// GetEventsForWallet implements eventstore.EventStore.
func (s *InstrumentedEventStore) GetEventsForWallet(
	ctx context.Context,
	walletAddress string,
	sessionIDs []string,
	eventTypes []tonconnect.EventType,
) ([]eventstore.StoredEvent, error) {
	start := time.Now()
	events, err := s.store.GetEventsForWallet(ctx, walletAddress, sessionIDs, eventTypes)
	s.record(ctx, "GetEventsForWallet", err == nil, start)
	return events, err
}

// AcquireLock implements eventstore.EventStore.
func (s *InstrumentedEventStore) AcquireLock(
	ctx context.Context,
	id, walletAddress string,
) (*eventstore.StoredEvent, error) {
	start := time.Now()
	e, err := s.store.AcquireLock(ctx, id, walletAddress)
	s.record(ctx, "AcquireLock", err == nil, start)
	return e, err
}

// UpdateEventStatus implements eventstore.EventStore.
func (s *InstrumentedEventStore) UpdateEventStatus(
	ctx context.Context,
	id string,
	newStatus, expectedOld eventstore.Status,
) (eventstore.StoredEvent, error) {
	start := time.Now()
	e, err := s.store.UpdateEventStatus(ctx, id, newStatus, expectedOld)
	s.record(ctx, "UpdateEventStatus", err == nil, start)
	return e, err
}

// ReleaseEvent implements eventstore.EventStore.
func (s *InstrumentedEventStore) ReleaseEvent(
	ctx context.Context,
	id string,
	cause error,
	maxRetries int,
) (eventstore.StoredEvent, error) {
	start := time.Now()
	e, err := s.store.ReleaseEvent(ctx, id, cause, maxRetries)
	s.record(ctx, "ReleaseEvent", err == nil, start)
	return e, err
}

// RecoverStaleEvents implements eventstore.EventStore.
func (s *InstrumentedEventStore) RecoverStaleEvents(ctx context.Context, timeout time.Duration) (int, error) {
	start := time.Now()
	n, err := s.store.RecoverStaleEvents(ctx, timeout)
	s.record(ctx, "RecoverStaleEvents", err == nil, start)
	if n > 0 {
		s.recoveredCount.Add(ctx, int64(n), metrics.BaseAttrs...)
	}
	return n, err
}

// CleanupOldEvents implements eventstore.EventStore.
func (s *InstrumentedEventStore) CleanupOldEvents(ctx context.Context, retention time.Duration) (int, error) {
	start := time.Now()
	n, err := s.store.CleanupOldEvents(ctx, retention)
	s.record(ctx, "CleanupOldEvents", err == nil, start)
	if n > 0 {
		s.removedCount.Add(ctx, int64(n), metrics.BaseAttrs...)
	}
	return n, err
}

// GetEvent implements eventstore.EventStore.
func (s *InstrumentedEventStore) GetEvent(ctx context.Context, id string) (eventstore.StoredEvent, error) {
	start := time.Now()
	e, err := s.store.GetEvent(ctx, id)
	s.record(ctx, "GetEvent", err == nil, start)
	return e, err
}

// ListEvents implements eventstore.EventStore.
func (s *InstrumentedEventStore) ListEvents(
	ctx context.Context,
	filter eventstore.Filter,
) ([]eventstore.StoredEvent, error) {
	start := time.Now()
	events, err := s.store.ListEvents(ctx, filter)
	s.record(ctx, "ListEvents", err == nil, start)
	return events, err
}

// Stats implements eventstore.EventStore.
func (s *InstrumentedEventStore) Stats(ctx context.Context) (eventstore.Stats, error) {
	start := time.Now()
	stats, err := s.store.Stats(ctx)
	s.record(ctx, "Stats", err == nil, start)
	return stats, err
}

func (s *InstrumentedEventStore) record(ctx context.Context, method string, success bool, start time.Time) {
	latency := time.Since(start).Milliseconds()
	attributes := append([]attribute.KeyValue{
		{Key: "method", Value: attribute.StringValue(method)},
		{Key: "success", Value: attribute.BoolValue(success)},
	}, metrics.BaseAttrs...)

	s.callCount.Add(ctx, 1, attributes...)
	s.latencyHistogram.Record(ctx, latency, attributes...)
}
