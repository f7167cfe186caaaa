package impl

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	logger "github.com/rs/zerolog/log"
	"github.com/textileio/go-tonconnect/pkg/eventstore"
	"github.com/textileio/go-tonconnect/pkg/storage"
	"github.com/textileio/go-tonconnect/pkg/tonconnect"
	"golang.org/x/sync/semaphore"
)

// table is the decoded content of the events key.
type table map[string]*eventstore.StoredEvent

// EventStore implements eventstore.EventStore on top of a storage.Adapter that
// only offers whole-value reads and writes.
type EventStore struct {
	log     zerolog.Logger
	adapter storage.Adapter
	config  *eventstore.Config
	clock   *logicalClock
	locks   *criticalSections
}

var _ eventstore.EventStore = (*EventStore)(nil)

// New returns a new EventStore persisting into adapter.
func New(adapter storage.Adapter, opts ...eventstore.Option) (*EventStore, error) {
	config := eventstore.DefaultConfig()
	for _, op := range opts {
		if err := op(config); err != nil {
			return nil, fmt.Errorf("applying option: %s", err)
		}
	}

	log := logger.With().
		Str("component", "eventstore").
		Str("codec", config.Codec.Name()).
		Logger()

	return &EventStore{
		log:     log,
		adapter: adapter,
		config:  config,
		clock:   newLogicalClock(config.Now),
		locks:   newCriticalSections(),
	}, nil
}

// StoreEvent implements eventstore.EventStore.
func (s *EventStore) StoreEvent(ctx context.Context, raw tonconnect.RawEvent) (eventstore.StoredEvent, error) {
	eventType, ok := tonconnect.EventTypeFromMethod(raw.Method)
	if !ok {
		return eventstore.StoredEvent{}, fmt.Errorf("%w: %q", eventstore.ErrUnknownMethod, raw.Method)
	}
	if err := raw.Validate(); err != nil {
		return eventstore.StoredEvent{}, fmt.Errorf("%w: %s", eventstore.ErrInvalidEvent, err)
	}
	serialized, err := storage.JSON.Marshal(raw)
	if err != nil {
		return eventstore.StoredEvent{}, fmt.Errorf("%w: serializing raw event: %s", eventstore.ErrInvalidEvent, err)
	}
	if len(serialized) > s.config.MaxEventSize {
		return eventstore.StoredEvent{}, fmt.Errorf(
			"%w: %d bytes exceeds %d", eventstore.ErrEventTooLarge, len(serialized), s.config.MaxEventSize)
	}

	// A connect request is what creates the session, so it can't be bound to one yet.
	var sessionID string
	if eventType != tonconnect.EventConnect {
		sessionID = raw.From
	}

	var stored eventstore.StoredEvent
	err = s.mutate(ctx, func(t table) (bool, error) {
		stored = eventstore.StoredEvent{
			ID:        uuid.NewString(),
			SessionID: sessionID,
			Type:      eventType,
			RawEvent:  raw,
			Status:    eventstore.StatusNew,
			CreatedAt: s.clock.Next(),
			SizeBytes: len(serialized),
		}
		e := stored
		t[stored.ID] = &e
		return true, nil
	})
	if err != nil {
		return eventstore.StoredEvent{}, fmt.Errorf("storing event: %w", err)
	}

	s.log.Debug().
		Str("event_id", stored.ID).
		Str("request_id", raw.ID).
		Str("type", string(eventType)).
		Str("session_id", sessionID).
		Int("size", stored.SizeBytes).
		Msg("event stored")

	return stored, nil
}

// GetEventsForWallet implements eventstore.EventStore.
func (s *EventStore) GetEventsForWallet(
	ctx context.Context,
	walletAddress string,
	sessionIDs []string,
	eventTypes []tonconnect.EventType,
) ([]eventstore.StoredEvent, error) {
	if len(sessionIDs) == 0 {
		return nil, nil
	}
	sessions := make(map[string]struct{}, len(sessionIDs))
	for _, id := range sessionIDs {
		sessions[id] = struct{}{}
	}
	types := make(map[tonconnect.EventType]struct{}, len(eventTypes))
	for _, et := range eventTypes {
		types[et] = struct{}{}
	}

	t, err := s.load(ctx)
	if err != nil {
		return nil, err
	}

	var events []eventstore.StoredEvent
	for _, e := range t {
		if e.Status != eventstore.StatusNew {
			continue
		}
		if _, ok := sessions[e.SessionID]; !ok {
			continue
		}
		if _, ok := types[e.Type]; len(types) > 0 && !ok {
			continue
		}
		// An event explicitly addressed to another wallet is never handed to this one.
		if walletAddress != eventstore.NoWallet && e.RawEvent.WalletAddress != "" &&
			!sameAddress(e.RawEvent.WalletAddress, walletAddress) {
			continue
		}
		events = append(events, *e)
	}
	sortEvents(events)

	return events, nil
}

// AcquireLock implements eventstore.EventStore.
func (s *EventStore) AcquireLock(ctx context.Context, id, walletAddress string) (*eventstore.StoredEvent, error) {
	var locked *eventstore.StoredEvent
	err := s.mutate(ctx, func(t table) (bool, error) {
		e, ok := t[id]
		if !ok || e.Status != eventstore.StatusNew {
			return false, nil
		}
		now := s.now()
		e.Status = eventstore.StatusProcessing
		e.ProcessingStartedAt = &now
		e.LockedBy = walletAddress
		cp := *e
		locked = &cp
		return true, nil
	})
	if err != nil {
		return nil, fmt.Errorf("acquiring lock: %w", err)
	}
	return locked, nil
}

// UpdateEventStatus implements eventstore.EventStore.
func (s *EventStore) UpdateEventStatus(
	ctx context.Context,
	id string,
	newStatus, expectedOld eventstore.Status,
) (eventstore.StoredEvent, error) {
	if !newStatus.Valid() {
		return eventstore.StoredEvent{}, fmt.Errorf("unknown status %q", newStatus)
	}

	var updated eventstore.StoredEvent
	err := s.mutate(ctx, func(t table) (bool, error) {
		e, ok := t[id]
		if !ok {
			return false, fmt.Errorf("%w: %s", eventstore.ErrEventNotFound, id)
		}
		if e.Status != expectedOld {
			return false, fmt.Errorf("%w: event %s is %s, expected %s",
				eventstore.ErrStatusMismatch, id, e.Status, expectedOld)
		}
		s.transition(e, newStatus)
		updated = *e
		return true, nil
	})
	if err != nil {
		return eventstore.StoredEvent{}, fmt.Errorf("updating status: %w", err)
	}
	return updated, nil
}

// ReleaseEvent implements eventstore.EventStore.
func (s *EventStore) ReleaseEvent(
	ctx context.Context,
	id string,
	cause error,
	maxRetries int,
) (eventstore.StoredEvent, error) {
	var released eventstore.StoredEvent
	err := s.mutate(ctx, func(t table) (bool, error) {
		e, ok := t[id]
		if !ok {
			return false, fmt.Errorf("%w: %s", eventstore.ErrEventNotFound, id)
		}
		if e.Status != eventstore.StatusProcessing {
			return false, fmt.Errorf("%w: event %s is %s, expected %s",
				eventstore.ErrStatusMismatch, id, e.Status, eventstore.StatusProcessing)
		}
		e.RetryCount++
		if cause != nil {
			e.LastError = cause.Error()
		}
		if maxRetries > 0 && e.RetryCount >= maxRetries {
			s.transition(e, eventstore.StatusErrored)
		} else {
			s.transition(e, eventstore.StatusNew)
		}
		released = *e
		return true, nil
	})
	if err != nil {
		return eventstore.StoredEvent{}, fmt.Errorf("releasing event: %w", err)
	}

	if released.Status == eventstore.StatusErrored {
		s.log.Warn().
			Str("event_id", id).
			Int("retries", released.RetryCount).
			Str("last_error", released.LastError).
			Msg("event exhausted its retries")
	}
	return released, nil
}

// RecoverStaleEvents implements eventstore.EventStore.
func (s *EventStore) RecoverStaleEvents(ctx context.Context, timeout time.Duration) (int, error) {
	var recovered int
	err := s.mutate(ctx, func(t table) (bool, error) {
		now := s.now()
		for _, e := range t {
			if e.Status != eventstore.StatusProcessing {
				continue
			}
			if e.ProcessingStartedAt != nil && now-*e.ProcessingStartedAt <= timeout.Milliseconds() {
				continue
			}
			s.log.Warn().
				Str("event_id", e.ID).
				Str("locked_by", e.LockedBy).
				Msg("recovering stale event")
			e.RecoveryCount++
			s.transition(e, eventstore.StatusNew)
			recovered++
		}
		return recovered > 0, nil
	})
	if err != nil {
		return 0, fmt.Errorf("recovering stale events: %w", err)
	}
	return recovered, nil
}

// CleanupOldEvents implements eventstore.EventStore.
func (s *EventStore) CleanupOldEvents(ctx context.Context, retention time.Duration) (int, error) {
	var removed int
	err := s.mutate(ctx, func(t table) (bool, error) {
		now := s.now()
		for id, e := range t {
			// Errored events stay for inspection.
			if e.Status != eventstore.StatusCompleted || e.CompletedAt == nil {
				continue
			}
			if now-*e.CompletedAt > retention.Milliseconds() {
				delete(t, id)
				removed++
			}
		}
		return removed > 0, nil
	})
	if err != nil {
		return 0, fmt.Errorf("cleaning up events: %w", err)
	}
	return removed, nil
}

// GetEvent implements eventstore.EventStore.
func (s *EventStore) GetEvent(ctx context.Context, id string) (eventstore.StoredEvent, error) {
	t, err := s.load(ctx)
	if err != nil {
		return eventstore.StoredEvent{}, err
	}
	e, ok := t[id]
	if !ok {
		return eventstore.StoredEvent{}, fmt.Errorf("%w: %s", eventstore.ErrEventNotFound, id)
	}
	return *e, nil
}

// ListEvents implements eventstore.EventStore.
func (s *EventStore) ListEvents(ctx context.Context, filter eventstore.Filter) ([]eventstore.StoredEvent, error) {
	t, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	events := make([]eventstore.StoredEvent, 0, len(t))
	for _, e := range t {
		if filter.Match(*e) {
			events = append(events, *e)
		}
	}
	sortEvents(events)
	if filter.Limit > 0 && len(events) > filter.Limit {
		events = events[:filter.Limit]
	}
	return events, nil
}

// Stats implements eventstore.EventStore.
func (s *EventStore) Stats(ctx context.Context) (eventstore.Stats, error) {
	t, err := s.load(ctx)
	if err != nil {
		return eventstore.Stats{}, err
	}
	stats := eventstore.Stats{ByStatus: map[eventstore.Status]int{}}
	for _, e := range t {
		stats.Total++
		stats.TotalBytes += e.SizeBytes
		stats.ByStatus[e.Status]++
		if e.Status == eventstore.StatusNew && (stats.OldestNew == nil || e.CreatedAt < *stats.OldestNew) {
			createdAt := e.CreatedAt
			stats.OldestNew = &createdAt
		}
	}
	return stats, nil
}

// transition sets the status and the bookkeeping fields that go with it.
func (s *EventStore) transition(e *eventstore.StoredEvent, status eventstore.Status) {
	e.Status = status
	switch status {
	case eventstore.StatusNew:
		e.ProcessingStartedAt = nil
		e.LockedBy = ""
		e.CompletedAt = nil
	case eventstore.StatusProcessing:
		now := s.now()
		e.ProcessingStartedAt = &now
	case eventstore.StatusCompleted, eventstore.StatusErrored:
		now := s.now()
		e.CompletedAt = &now
	}
}

// mutate runs f over the current table inside the events critical section and
// persists the table if f reports a change. Nothing is written when f fails.
func (s *EventStore) mutate(ctx context.Context, f func(t table) (bool, error)) error {
	release, err := s.locks.enter(ctx, eventstore.EventsKey)
	if err != nil {
		return err
	}
	defer release()

	t, err := s.load(ctx)
	if err != nil {
		return err
	}
	dirty, err := f(t)
	if err != nil {
		return err
	}
	if !dirty {
		return nil
	}
	if err := storage.Set(ctx, s.adapter, s.config.Codec, eventstore.EventsKey, t); err != nil {
		return fmt.Errorf("persisting events: %w", err)
	}
	return nil
}

func (s *EventStore) load(ctx context.Context) (table, error) {
	t, ok, err := storage.Get[table](ctx, s.adapter, s.config.Codec, eventstore.EventsKey)
	if err != nil {
		return nil, fmt.Errorf("loading events: %w", err)
	}
	if !ok || t == nil {
		t = table{}
	}
	for _, e := range t {
		s.clock.Observe(e.CreatedAt)
	}
	return t, nil
}

func (s *EventStore) now() int64 {
	return s.config.Now().UnixMilli()
}

func sortEvents(events []eventstore.StoredEvent) {
	sort.Slice(events, func(i, j int) bool {
		if events[i].CreatedAt != events[j].CreatedAt {
			return events[i].CreatedAt < events[j].CreatedAt
		}
		return events[i].ID < events[j].ID
	})
}

func sameAddress(a, b string) bool {
	if a == b {
		return true
	}
	na, err := tonconnect.NormalizeAddress(a)
	if err != nil {
		return false
	}
	nb, err := tonconnect.NormalizeAddress(b)
	if err != nil {
		return false
	}
	return na == nb
}

// criticalSections serializes callers per lock name. Waiting is cancellable
// through the caller context.
type criticalSections struct {
	mu   sync.Mutex
	sems map[string]*semaphore.Weighted
}

func newCriticalSections() *criticalSections {
	return &criticalSections{sems: map[string]*semaphore.Weighted{}}
}

func (c *criticalSections) enter(ctx context.Context, name string) (func(), error) {
	c.mu.Lock()
	sem, ok := c.sems[name]
	if !ok {
		sem = semaphore.NewWeighted(1)
		c.sems[name] = sem
	}
	c.mu.Unlock()

	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("entering %s critical section: %w", name, err)
	}
	return func() { sem.Release(1) }, nil
}
