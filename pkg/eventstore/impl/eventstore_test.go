package impl

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/textileio/go-tonconnect/pkg/eventstore"
	"github.com/textileio/go-tonconnect/pkg/storage"
	"github.com/textileio/go-tonconnect/pkg/storage/impl/memory"
	"github.com/textileio/go-tonconnect/pkg/storage/impl/sqlite"
	"github.com/textileio/go-tonconnect/pkg/tonconnect"
	"github.com/textileio/go-tonconnect/tests"
)

func TestStoreEvent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		t.Parallel()
		store, _ := setup(t)

		e, err := store.StoreEvent(ctx, txEvent("1", "session-1"))
		require.NoError(t, err)
		require.NotEmpty(t, e.ID)
		require.NotEqual(t, "1", e.ID)
		require.Equal(t, "session-1", e.SessionID)
		require.Equal(t, tonconnect.EventSendTransaction, e.Type)
		require.Equal(t, eventstore.StatusNew, e.Status)
		require.Greater(t, e.SizeBytes, 0)
		require.Nil(t, e.ProcessingStartedAt)
		require.Empty(t, e.LockedBy)

		got, err := store.GetEvent(ctx, e.ID)
		require.NoError(t, err)
		require.Equal(t, e, got)
	})

	t.Run("connect is not bound to a session", func(t *testing.T) {
		t.Parallel()
		store, _ := setup(t)

		e, err := store.StoreEvent(ctx, connectEvent("1", "dapp-client"))
		require.NoError(t, err)
		require.Empty(t, e.SessionID)
		require.Equal(t, "dapp-client", e.RawEvent.From)
	})

	t.Run("unknown method", func(t *testing.T) {
		t.Parallel()
		store, adapter := setup(t)

		_, err := store.StoreEvent(ctx, tonconnect.RawEvent{ID: "1", Method: "restoreConnection"})
		require.ErrorIs(t, err, eventstore.ErrUnknownMethod)
		requireNothingPersisted(t, adapter)
	})

	t.Run("oversized", func(t *testing.T) {
		t.Parallel()
		store, adapter := setup(t)

		huge := tonconnect.RawEvent{
			ID:     "1",
			Method: "signData",
			Params: json.RawMessage(`{"type":"text","text":"` + strings.Repeat("a", eventstore.DefaultMaxEventSize) + `"}`),
		}
		_, err := store.StoreEvent(ctx, huge)
		require.ErrorIs(t, err, eventstore.ErrEventTooLarge)
		requireNothingPersisted(t, adapter)
	})

	t.Run("invalid", func(t *testing.T) {
		t.Parallel()
		store, adapter := setup(t)

		_, err := store.StoreEvent(ctx, tonconnect.RawEvent{Method: "signData"})
		require.ErrorIs(t, err, eventstore.ErrInvalidEvent)
		requireNothingPersisted(t, adapter)
	})
}

func TestCreatedAtIsStrictlyIncreasing(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, _ := setup(t) // the fake clock never moves on its own

	var last int64
	for i := 0; i < 20; i++ {
		e, err := store.StoreEvent(ctx, txEvent("r", "s"))
		require.NoError(t, err)
		require.Greater(t, e.CreatedAt, last)
		last = e.CreatedAt
	}
}

func TestGetEventsForWallet(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, _ := setup(t)

	a, err := store.StoreEvent(ctx, txEvent("a", "s1"))
	require.NoError(t, err)
	_, err = store.StoreEvent(ctx, txEvent("other", "s2"))
	require.NoError(t, err)
	b, err := store.StoreEvent(ctx, signEvent("b", "s1"))
	require.NoError(t, err)
	c, err := store.StoreEvent(ctx, txEvent("c", "s1"))
	require.NoError(t, err)
	conn, err := store.StoreEvent(ctx, connectEvent("conn", "s9"))
	require.NoError(t, err)

	events, err := store.GetEventsForWallet(ctx, "w", []string{"s1"}, tonconnect.AllEventTypes)
	require.NoError(t, err)
	require.Equal(t, []string{a.ID, b.ID, c.ID}, ids(events))

	events, err = store.GetEventsForWallet(ctx, "w", []string{"s1"}, []tonconnect.EventType{tonconnect.EventSendTransaction})
	require.NoError(t, err)
	require.Equal(t, []string{a.ID, c.ID}, ids(events))

	// Claimed events are no longer eligible.
	locked, err := store.AcquireLock(ctx, a.ID, "w")
	require.NoError(t, err)
	require.NotNil(t, locked)
	events, err = store.GetEventsForWallet(ctx, "w", []string{"s1"}, tonconnect.AllEventTypes)
	require.NoError(t, err)
	require.Equal(t, []string{b.ID, c.ID}, ids(events))

	// Unbound events are selected with the empty session id.
	events, err = store.GetEventsForWallet(ctx, eventstore.NoWallet, []string{""}, tonconnect.AllEventTypes)
	require.NoError(t, err)
	require.Equal(t, []string{conn.ID}, ids(events))

	events, err = store.GetEventsForWallet(ctx, "w", nil, tonconnect.AllEventTypes)
	require.NoError(t, err)
	require.Empty(t, events)
}

func TestGetEventsForWalletSkipsEventsAddressedToAnotherWallet(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, _ := setup(t)

	raw := txEvent("a", "s1")
	raw.WalletAddress = testAddr
	e, err := store.StoreEvent(ctx, raw)
	require.NoError(t, err)

	events, err := store.GetEventsForWallet(ctx, "0:"+strings.Repeat("0", 64), []string{"s1"}, nil)
	require.NoError(t, err)
	require.Empty(t, events)

	events, err = store.GetEventsForWallet(ctx, testAddr, []string{"s1"}, nil)
	require.NoError(t, err)
	require.Equal(t, []string{e.ID}, ids(events))
}

func TestAcquireLock(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("single holder under contention", func(t *testing.T) {
		t.Parallel()
		store, _ := setup(t)

		e, err := store.StoreEvent(ctx, txEvent("1", "s"))
		require.NoError(t, err)

		type attempt struct {
			locked *eventstore.StoredEvent
			err    error
		}
		const contenders = 16
		var wg sync.WaitGroup
		results := make(chan attempt, contenders)
		for i := 0; i < contenders; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				locked, err := store.AcquireLock(ctx, e.ID, "w")
				results <- attempt{locked: locked, err: err}
			}()
		}
		wg.Wait()
		close(results)

		var holders int
		for a := range results {
			require.NoError(t, a.err)
			if r := a.locked; r != nil {
				holders++
				require.Equal(t, eventstore.StatusProcessing, r.Status)
				require.Equal(t, "w", r.LockedBy)
				require.NotNil(t, r.ProcessingStartedAt)
			}
		}
		require.Equal(t, 1, holders)
	})

	t.Run("missing event", func(t *testing.T) {
		t.Parallel()
		store, _ := setup(t)

		locked, err := store.AcquireLock(ctx, "nope", "w")
		require.NoError(t, err)
		require.Nil(t, locked)
	})

	t.Run("cancelled while waiting", func(t *testing.T) {
		t.Parallel()
		store, _ := setup(t)

		release, err := store.locks.enter(ctx, eventstore.EventsKey)
		require.NoError(t, err)
		defer release()

		cctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
		defer cancel()
		_, err = store.AcquireLock(cctx, "any", "w")
		require.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestUpdateEventStatus(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, _ := setup(t)

	e, err := store.StoreEvent(ctx, txEvent("1", "s"))
	require.NoError(t, err)
	_, err = store.AcquireLock(ctx, e.ID, "w")
	require.NoError(t, err)

	completed, err := store.UpdateEventStatus(ctx, e.ID, eventstore.StatusCompleted, eventstore.StatusProcessing)
	require.NoError(t, err)
	require.Equal(t, eventstore.StatusCompleted, completed.Status)
	require.NotNil(t, completed.CompletedAt)

	// A second completion must lose the compare-and-swap.
	_, err = store.UpdateEventStatus(ctx, e.ID, eventstore.StatusCompleted, eventstore.StatusProcessing)
	require.ErrorIs(t, err, eventstore.ErrStatusMismatch)

	_, err = store.UpdateEventStatus(ctx, "nope", eventstore.StatusCompleted, eventstore.StatusProcessing)
	require.ErrorIs(t, err, eventstore.ErrEventNotFound)

	_, err = store.UpdateEventStatus(ctx, e.ID, "done", eventstore.StatusCompleted)
	require.Error(t, err)
}

func TestReleaseEvent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, _ := setup(t)

	e, err := store.StoreEvent(ctx, txEvent("1", "s"))
	require.NoError(t, err)

	for attempt := 1; attempt <= 3; attempt++ {
		locked, err := store.AcquireLock(ctx, e.ID, "w")
		require.NoError(t, err)
		require.NotNil(t, locked)

		released, err := store.ReleaseEvent(ctx, e.ID, errors.New("boom"), 3)
		require.NoError(t, err)
		require.Equal(t, attempt, released.RetryCount)
		require.Equal(t, "boom", released.LastError)
		require.Equal(t, e.CreatedAt, released.CreatedAt)
		if attempt < 3 {
			require.Equal(t, eventstore.StatusNew, released.Status)
			require.Empty(t, released.LockedBy)
			require.Nil(t, released.ProcessingStartedAt)
		} else {
			require.Equal(t, eventstore.StatusErrored, released.Status)
			require.NotNil(t, released.CompletedAt)
		}
	}

	// Errored events are never claimed again.
	locked, err := store.AcquireLock(ctx, e.ID, "w")
	require.NoError(t, err)
	require.Nil(t, locked)

	_, err = store.ReleaseEvent(ctx, e.ID, errors.New("boom"), 3)
	require.ErrorIs(t, err, eventstore.ErrStatusMismatch)
}

func TestRecoverStaleEvents(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, clock := setupWithClock(t)
	const timeout = time.Minute

	stale, err := store.StoreEvent(ctx, txEvent("stale", "s"))
	require.NoError(t, err)
	fresh, err := store.StoreEvent(ctx, txEvent("fresh", "s"))
	require.NoError(t, err)

	_, err = store.AcquireLock(ctx, stale.ID, "w")
	require.NoError(t, err)
	clock.Advance(2 * time.Millisecond)
	_, err = store.AcquireLock(ctx, fresh.ID, "w")
	require.NoError(t, err)

	// stale is now timeout+1ms old, fresh is timeout-1ms old.
	clock.Advance(timeout - time.Millisecond)

	n, err := store.RecoverStaleEvents(ctx, timeout)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	got, err := store.GetEvent(ctx, stale.ID)
	require.NoError(t, err)
	require.Equal(t, eventstore.StatusNew, got.Status)
	require.Empty(t, got.LockedBy)
	require.Nil(t, got.ProcessingStartedAt)
	require.Equal(t, 1, got.RecoveryCount)
	require.Equal(t, 0, got.RetryCount)

	got, err = store.GetEvent(ctx, fresh.ID)
	require.NoError(t, err)
	require.Equal(t, eventstore.StatusProcessing, got.Status)

	locked, err := store.AcquireLock(ctx, stale.ID, "w2")
	require.NoError(t, err)
	require.NotNil(t, locked)
}

func TestCleanupOldEvents(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, clock := setupWithClock(t)
	const retention = time.Hour

	complete := func(raw tonconnect.RawEvent) eventstore.StoredEvent {
		e, err := store.StoreEvent(ctx, raw)
		require.NoError(t, err)
		_, err = store.AcquireLock(ctx, e.ID, "w")
		require.NoError(t, err)
		_, err = store.UpdateEventStatus(ctx, e.ID, eventstore.StatusCompleted, eventstore.StatusProcessing)
		require.NoError(t, err)
		return e
	}

	old := complete(txEvent("old", "s"))
	failed, err := store.StoreEvent(ctx, txEvent("failed", "s"))
	require.NoError(t, err)
	_, err = store.AcquireLock(ctx, failed.ID, "w")
	require.NoError(t, err)
	failed, err = store.ReleaseEvent(ctx, failed.ID, errors.New("boom"), 1)
	require.NoError(t, err)
	require.Equal(t, eventstore.StatusErrored, failed.Status)
	clock.Advance(2 * time.Millisecond)
	recent := complete(txEvent("recent", "s"))
	pending, err := store.StoreEvent(ctx, txEvent("pending", "s"))
	require.NoError(t, err)

	clock.Advance(retention - time.Millisecond)

	n, err := store.CleanupOldEvents(ctx, retention)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	_, err = store.GetEvent(ctx, old.ID)
	require.ErrorIs(t, err, eventstore.ErrEventNotFound)
	_, err = store.GetEvent(ctx, recent.ID)
	require.NoError(t, err)
	_, err = store.GetEvent(ctx, pending.ID)
	require.NoError(t, err)
	// Errored events are kept however old they are.
	got, err := store.GetEvent(ctx, failed.ID)
	require.NoError(t, err)
	require.Equal(t, eventstore.StatusErrored, got.Status)

	n, err = store.CleanupOldEvents(ctx, retention)
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestListEventsAndStats(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, _ := setup(t)

	a, err := store.StoreEvent(ctx, txEvent("a", "s1"))
	require.NoError(t, err)
	b, err := store.StoreEvent(ctx, signEvent("b", "s2"))
	require.NoError(t, err)
	_, err = store.AcquireLock(ctx, b.ID, "w")
	require.NoError(t, err)

	all, err := store.ListEvents(ctx, eventstore.Filter{})
	require.NoError(t, err)
	require.Equal(t, []string{a.ID, b.ID}, ids(all))

	processing, err := store.ListEvents(ctx, eventstore.Filter{Status: eventstore.StatusProcessing})
	require.NoError(t, err)
	require.Equal(t, []string{b.ID}, ids(processing))

	s1 := "s1"
	bySession, err := store.ListEvents(ctx, eventstore.Filter{SessionID: &s1})
	require.NoError(t, err)
	require.Equal(t, []string{a.ID}, ids(bySession))

	limited, err := store.ListEvents(ctx, eventstore.Filter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, stats.Total)
	require.Equal(t, 1, stats.ByStatus[eventstore.StatusNew])
	require.Equal(t, 1, stats.ByStatus[eventstore.StatusProcessing])
	require.Equal(t, a.SizeBytes+b.SizeBytes, stats.TotalBytes)
	require.NotNil(t, stats.OldestNew)
	require.Equal(t, a.CreatedAt, *stats.OldestNew)
}

func TestDurableAcrossRestarts(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	for _, codec := range []storage.Codec{storage.JSON, storage.Msgpack} {
		codec := codec
		t.Run(codec.Name(), func(t *testing.T) {
			t.Parallel()

			adapter, err := sqlite.New(tests.Sqlite3URL(), sqlite.WithCompression(true))
			require.NoError(t, err)
			t.Cleanup(func() { require.NoError(t, adapter.Close()) })

			clock := &fakeClock{now: time.UnixMilli(1_700_000_000_000)}
			first, err := New(adapter, eventstore.WithCodec(codec), eventstore.WithClock(clock.Now))
			require.NoError(t, err)
			a, err := first.StoreEvent(ctx, txEvent("a", "s"))
			require.NoError(t, err)
			_, err = first.AcquireLock(ctx, a.ID, "w")
			require.NoError(t, err)

			// A new process whose clock is behind must still order after what's stored.
			clock.Advance(-time.Hour)
			second, err := New(adapter, eventstore.WithCodec(codec), eventstore.WithClock(clock.Now))
			require.NoError(t, err)
			got, err := second.GetEvent(ctx, a.ID)
			require.NoError(t, err)
			require.Equal(t, eventstore.StatusProcessing, got.Status)
			require.Equal(t, a.RawEvent, got.RawEvent)

			b, err := second.StoreEvent(ctx, txEvent("b", "s"))
			require.NoError(t, err)
			require.Greater(t, b.CreatedAt, a.CreatedAt)
		})
	}
}

func TestInstrumentedEventStore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	inner, _ := setup(t)

	store, err := NewInstrumentedEventStore(inner)
	require.NoError(t, err)

	e, err := store.StoreEvent(ctx, txEvent("1", "s"))
	require.NoError(t, err)
	locked, err := store.AcquireLock(ctx, e.ID, "w")
	require.NoError(t, err)
	require.NotNil(t, locked)
	_, err = store.UpdateEventStatus(ctx, e.ID, eventstore.StatusCompleted, eventstore.StatusProcessing)
	require.NoError(t, err)
	n, err := store.CleanupOldEvents(ctx, -time.Second)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

const testAddr = "0:83dfd552e63729b472fcbcc8c45ebcc6691702558b68ec7527e1ba403a0f31a8"

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func setup(t *testing.T) (*EventStore, storage.Adapter) {
	t.Helper()
	adapter := memory.New()
	clock := &fakeClock{now: time.UnixMilli(1_700_000_000_000)}
	store, err := New(adapter, eventstore.WithClock(clock.Now))
	require.NoError(t, err)
	return store, adapter
}

func setupWithClock(t *testing.T) (*EventStore, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.UnixMilli(1_700_000_000_000)}
	store, err := New(memory.New(), eventstore.WithClock(clock.Now))
	require.NoError(t, err)
	return store, clock
}

func requireNothingPersisted(t *testing.T, adapter storage.Adapter) {
	t.Helper()
	_, err := adapter.Get(context.Background(), eventstore.EventsKey)
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func txEvent(id, from string) tonconnect.RawEvent {
	return tonconnect.RawEvent{
		ID:     id,
		Method: string(tonconnect.MethodSendTransaction),
		Params: json.RawMessage(`["{\"messages\":[]}"]`),
		From:   from,
	}
}

func signEvent(id, from string) tonconnect.RawEvent {
	return tonconnect.RawEvent{
		ID:     id,
		Method: string(tonconnect.MethodSignData),
		Params: json.RawMessage(`["{\"type\":\"text\",\"text\":\"hi\"}"]`),
		From:   from,
	}
}

func connectEvent(id, from string) tonconnect.RawEvent {
	return tonconnect.RawEvent{
		ID:     id,
		Method: string(tonconnect.MethodConnect),
		Params: json.RawMessage(`{"manifestUrl":"https://app.example/tonconnect-manifest.json","items":[{"name":"ton_addr"}]}`),
		From:   from,
	}
}

func ids(events []eventstore.StoredEvent) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.ID
	}
	return out
}
