package eventstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/textileio/go-tonconnect/pkg/storage"
	"github.com/textileio/go-tonconnect/pkg/tonconnect"
)

const (
	// EventsKey is the storage key holding the whole event table.
	EventsKey = "durable_events"

	// NoWallet is the lock owner used by the loop processing events that are
	// not bound to any wallet yet (e.g: the first connect of a dApp).
	NoWallet = "__no_wallet__"

	// DefaultMaxEventSize is the largest serialized raw event accepted.
	DefaultMaxEventSize = 100 * 1024
)

var (
	// ErrUnknownMethod indicates the raw event method doesn't map to an event type.
	ErrUnknownMethod = errors.New("unknown method")
	// ErrEventTooLarge indicates the serialized raw event exceeds the size ceiling.
	ErrEventTooLarge = errors.New("event too large")
	// ErrInvalidEvent indicates the raw event is structurally invalid.
	ErrInvalidEvent = errors.New("invalid event")
	// ErrEventNotFound indicates there's no event with the provided id.
	ErrEventNotFound = errors.New("event not found")
	// ErrStatusMismatch indicates a compare-and-swap status transition lost the race.
	ErrStatusMismatch = errors.New("status mismatch")
)

// Status is the processing status of a stored event.
type Status string

const (
	// StatusNew events are waiting to be claimed.
	StatusNew Status = "new"
	// StatusProcessing events are locked by a processing loop.
	StatusProcessing Status = "processing"
	// StatusCompleted events were routed successfully.
	StatusCompleted Status = "completed"
	// StatusErrored events failed too many times and won't be retried.
	StatusErrored Status = "errored"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusNew, StatusProcessing, StatusCompleted, StatusErrored:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further transitions are expected from s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusErrored
}

// StoredEvent is the durable unit of the event queue.
// Timestamps are unix milliseconds.
type StoredEvent struct {
	ID                  string               `json:"id" msgpack:"id"`
	SessionID           string               `json:"sessionId,omitempty" msgpack:"sessionId"`
	Type                tonconnect.EventType `json:"eventType" msgpack:"eventType"`
	RawEvent            tonconnect.RawEvent  `json:"rawEvent" msgpack:"rawEvent"`
	Status              Status               `json:"status" msgpack:"status"`
	CreatedAt           int64                `json:"createdAt" msgpack:"createdAt"`
	ProcessingStartedAt *int64               `json:"processingStartedAt,omitempty" msgpack:"processingStartedAt"`
	CompletedAt         *int64               `json:"completedAt,omitempty" msgpack:"completedAt"`
	LockedBy            string               `json:"lockedBy,omitempty" msgpack:"lockedBy"`
	SizeBytes           int                  `json:"sizeBytes" msgpack:"sizeBytes"`
	RetryCount          int                  `json:"retryCount" msgpack:"retryCount"`
	RecoveryCount       int                  `json:"recoveryCount" msgpack:"recoveryCount"`
	LastError           string               `json:"lastError,omitempty" msgpack:"lastError"`
}

// Filter narrows ListEvents results. Zero values match everything.
type Filter struct {
	Status    Status
	Type      tonconnect.EventType
	SessionID *string
	LockedBy  string
	Limit     int
}

// Match reports whether e satisfies the filter.
func (f Filter) Match(e StoredEvent) bool {
	if f.Status != "" && e.Status != f.Status {
		return false
	}
	if f.Type != "" && e.Type != f.Type {
		return false
	}
	if f.SessionID != nil && e.SessionID != *f.SessionID {
		return false
	}
	if f.LockedBy != "" && e.LockedBy != f.LockedBy {
		return false
	}
	return true
}

// Stats summarizes the event table.
type Stats struct {
	Total      int            `json:"total"`
	TotalBytes int            `json:"totalBytes"`
	ByStatus   map[Status]int `json:"byStatus"`
	OldestNew  *int64         `json:"oldestNew,omitempty"`
}

// EventStore is the durable record of inbound bridge events.
//
// Every mutation runs inside a single process-wide critical section over the
// event table. Reads outside of it are snapshots that are only good enough for
// filtering, never for commit decisions.
type EventStore interface {
	// StoreEvent validates and persists a raw event with status new.
	StoreEvent(ctx context.Context, raw tonconnect.RawEvent) (StoredEvent, error)
	// GetEventsForWallet returns the new events bound to one of sessionIDs whose
	// type is in eventTypes, oldest first. An empty session id selects events
	// that aren't bound to a session.
	GetEventsForWallet(
		ctx context.Context,
		walletAddress string,
		sessionIDs []string,
		eventTypes []tonconnect.EventType) ([]StoredEvent, error)
	// AcquireLock moves a new event to processing on behalf of walletAddress.
	// It returns nil if the event doesn't exist or was already claimed.
	AcquireLock(ctx context.Context, id, walletAddress string) (*StoredEvent, error)
	// UpdateEventStatus transitions the event to newStatus only if its current
	// status is expectedOld.
	UpdateEventStatus(ctx context.Context, id string, newStatus, expectedOld Status) (StoredEvent, error)
	// ReleaseEvent records a failed processing attempt. The event goes back to new,
	// or to errored once maxRetries attempts failed.
	ReleaseEvent(ctx context.Context, id string, cause error, maxRetries int) (StoredEvent, error)
	// RecoverStaleEvents resets processing events locked for longer than timeout.
	RecoverStaleEvents(ctx context.Context, timeout time.Duration) (int, error)
	// CleanupOldEvents removes completed events older than retention. Errored
	// events are kept.
	CleanupOldEvents(ctx context.Context, retention time.Duration) (int, error)

	// GetEvent returns a snapshot of a single event.
	GetEvent(ctx context.Context, id string) (StoredEvent, error)
	// ListEvents returns a snapshot of the events matching the filter, oldest first.
	ListEvents(ctx context.Context, filter Filter) ([]StoredEvent, error)
	// Stats summarizes the event table.
	Stats(ctx context.Context) (Stats, error)
}

// Config contains configuration attributes for an event store.
type Config struct {
	Codec        storage.Codec
	MaxEventSize int
	Now          func() time.Time
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Codec:        storage.JSON,
		MaxEventSize: DefaultMaxEventSize,
		Now:          time.Now,
	}
}

// Option modifies a configuration attribute.
type Option func(*Config) error

// WithCodec sets how the event table is serialized.
func WithCodec(codec storage.Codec) Option {
	return func(c *Config) error {
		if codec == nil {
			return fmt.Errorf("codec is nil")
		}
		c.Codec = codec
		return nil
	}
}

// WithMaxEventSize sets the size ceiling of a serialized raw event.
func WithMaxEventSize(size int) Option {
	return func(c *Config) error {
		if size <= 0 {
			return fmt.Errorf("max event size must be positive")
		}
		c.MaxEventSize = size
		return nil
	}
}

// WithClock replaces the wall clock. It's mostly useful in tests.
func WithClock(now func() time.Time) Option {
	return func(c *Config) error {
		if now == nil {
			return fmt.Errorf("clock is nil")
		}
		c.Now = now
		return nil
	}
}
