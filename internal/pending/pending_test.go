package pending

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"github.com/textileio/go-tonconnect/pkg/eventrouter"
	"github.com/textileio/go-tonconnect/pkg/tonconnect"
)

func TestQueueCollectsRouterRequests(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	q, clock := newQueue(0)
	cbs := eventrouter.NewCallbacks()
	q.Register(cbs)

	cbs.NotifyConnectRequest(ctx, zerolog.Nop(), eventrouter.ConnectRequest{
		Request: eventrouter.Request{ID: "1", SessionID: "s1"},
	})
	clock.Advance(time.Second)
	cbs.NotifyTransactionRequest(ctx, zerolog.Nop(), eventrouter.TransactionRequest{
		Request: eventrouter.Request{ID: "2", SessionID: "s1"},
	})
	clock.Advance(time.Second)
	cbs.NotifySignDataRequest(ctx, zerolog.Nop(), eventrouter.SignDataRequest{
		Request: eventrouter.Request{ID: "1", SessionID: "s2"},
	})

	items := q.List()
	require.Len(t, items, 3)
	require.Equal(t, tonconnect.EventConnect, items[0].Type)
	require.NotNil(t, items[0].Connect)
	require.Equal(t, tonconnect.EventSendTransaction, items[1].Type)
	require.NotNil(t, items[1].Transaction)
	require.Equal(t, tonconnect.EventSignData, items[2].Type)
	require.NotNil(t, items[2].SignData)
	require.Equal(t, ID("s2", "1"), items[2].ID)
	require.Equal(t, "s2", items[2].Request().SessionID)

	got, err := q.Get(items[1].ID)
	require.NoError(t, err)
	require.Equal(t, "2", got.Request().ID)
}

func TestQueueDeduplicates(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	q, clock := newQueue(0)
	cbs := eventrouter.NewCallbacks()
	q.Register(cbs)

	req := eventrouter.TransactionRequest{Request: eventrouter.Request{ID: "1", SessionID: "s1"}}
	cbs.NotifyTransactionRequest(ctx, zerolog.Nop(), req)
	first := q.List()[0].CreatedAt
	clock.Advance(time.Minute)
	cbs.NotifyTransactionRequest(ctx, zerolog.Nop(), req)

	items := q.List()
	require.Len(t, items, 1)
	require.Equal(t, first, items[0].CreatedAt)
}

func TestQueueDisconnectDropsSessionRequests(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	q, _ := newQueue(0)
	cbs := eventrouter.NewCallbacks()
	q.Register(cbs)

	cbs.NotifyTransactionRequest(ctx, zerolog.Nop(), eventrouter.TransactionRequest{
		Request: eventrouter.Request{ID: "1", SessionID: "s1"},
	})
	cbs.NotifySignDataRequest(ctx, zerolog.Nop(), eventrouter.SignDataRequest{
		Request: eventrouter.Request{ID: "2", SessionID: "s1"},
	})
	cbs.NotifySignDataRequest(ctx, zerolog.Nop(), eventrouter.SignDataRequest{
		Request: eventrouter.Request{ID: "1", SessionID: "s2"},
	})

	cbs.NotifyDisconnect(ctx, zerolog.Nop(), eventrouter.DisconnectEvent{
		Request: eventrouter.Request{ID: "3", SessionID: "s1"},
	})
	items := q.List()
	require.Len(t, items, 1)
	require.Equal(t, "s2", items[0].Request().SessionID)
}

func TestQueueRemoveAndExpire(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	q, clock := newQueue(time.Minute)
	cbs := eventrouter.NewCallbacks()
	q.Register(cbs)

	cbs.NotifyConnectRequest(ctx, zerolog.Nop(), eventrouter.ConnectRequest{
		Request: eventrouter.Request{ID: "1", SessionID: "s1"},
	})
	cbs.NotifyConnectRequest(ctx, zerolog.Nop(), eventrouter.ConnectRequest{
		Request: eventrouter.Request{ID: "1", SessionID: "s2"},
	})

	id := ID("s1", "1")
	require.True(t, q.Remove(id))
	require.False(t, q.Remove(id))
	_, err := q.Get(id)
	require.ErrorIs(t, err, ErrNotFound)

	clock.Advance(2 * time.Minute)
	_, err = q.Get(ID("s2", "1"))
	require.ErrorIs(t, err, ErrNotFound)
	require.Empty(t, q.List())
}

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

func newQueue(ttl time.Duration) (*Queue, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	q := NewQueue(ttl)
	q.now = clock.Now
	return q, clock
}
