package ingress

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/textileio/go-tonconnect/pkg/eventstore"
	esimpl "github.com/textileio/go-tonconnect/pkg/eventstore/impl"
	"github.com/textileio/go-tonconnect/pkg/session"
	sessionimpl "github.com/textileio/go-tonconnect/pkg/session/impl"
	"github.com/textileio/go-tonconnect/pkg/storage"
	"github.com/textileio/go-tonconnect/pkg/storage/impl/memory"
	"github.com/textileio/go-tonconnect/pkg/tonconnect"
	"go.uber.org/atomic"
)

func TestIngestConnectPreparesSession(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	in, sessions, notified, refreshed := setup(t)

	stored, err := in.Ingest(ctx, tonconnect.RawEvent{
		ID:     "0",
		Method: string(tonconnect.MethodConnect),
		Params: json.RawMessage(`{"manifestUrl":"https://app.example/manifest.json","items":[{"name":"ton_addr"}]}`),
		From:   "dapp-client",
	})
	require.NoError(t, err)
	require.Equal(t, tonconnect.EventConnect, stored.Type)
	require.Equal(t, eventstore.StatusNew, stored.Status)

	s, err := sessions.GetSession(ctx, "dapp-client")
	require.NoError(t, err)
	require.False(t, s.Bound())
	require.NotEmpty(t, s.PublicKey)

	require.Equal(t, int64(1), notified.Load())
	require.Equal(t, int64(1), refreshed.Load())
}

func TestIngestRequest(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	in, sessions, notified, refreshed := setup(t)

	require.NoError(t, in.StoreEvent(ctx, tonconnect.RawEvent{
		ID:     "1",
		Method: string(tonconnect.MethodSignData),
		Params: json.RawMessage(`["{\"type\":\"text\",\"text\":\"hi\"}"]`),
		From:   "dapp-client",
	}))

	_, err := sessions.GetSession(ctx, "dapp-client")
	require.ErrorIs(t, err, session.ErrSessionNotFound)
	require.Equal(t, int64(1), notified.Load())
	require.Equal(t, int64(0), refreshed.Load())
}

func TestIngestInvalidEvent(t *testing.T) {
	t.Parallel()
	in, _, notified, _ := setup(t)

	_, err := in.Ingest(context.Background(), tonconnect.RawEvent{ID: "1", Method: "transfer"})
	require.ErrorIs(t, err, eventstore.ErrUnknownMethod)
	require.Equal(t, int64(0), notified.Load())
}

type counter struct {
	n *atomic.Int64
}

func (c counter) Notify()  { c.n.Inc() }
func (c counter) Refresh() { c.n.Inc() }

func setup(t *testing.T) (*Ingress, session.Manager, *atomic.Int64, *atomic.Int64) {
	t.Helper()
	store, err := esimpl.New(memory.New())
	require.NoError(t, err)
	sessions := sessionimpl.NewManager(memory.New(), storage.JSON)

	notified, refreshed := atomic.NewInt64(0), atomic.NewInt64(0)
	in := New(store, sessions)
	in.NotifyTo(counter{n: notified})
	in.RefreshTo(counter{n: refreshed})
	return in, sessions, notified, refreshed
}
