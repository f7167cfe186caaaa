package impl

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/textileio/go-tonconnect/pkg/session"
	"github.com/textileio/go-tonconnect/pkg/storage"
	"github.com/textileio/go-tonconnect/pkg/storage/impl/memory"
	"github.com/textileio/go-tonconnect/pkg/tonconnect"
)

const (
	walletA = "0:83dfd552e63729b472fcbcc8c45ebcc6691702558b68ec7527e1ba403a0f31a8"
	walletB = "0:0000000000000000000000000000000000000000000000000000000000000001"
)

func TestSessionLifecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewManager(memory.New(), storage.Msgpack)

	dAppPub, _, err := session.NewKeyPair()
	require.NoError(t, err)

	pending, err := m.PrepareSession(ctx, dAppPub)
	require.NoError(t, err)
	require.False(t, pending.Bound())
	again, err := m.PrepareSession(ctx, dAppPub)
	require.NoError(t, err)
	require.Equal(t, pending, again)

	ids, err := m.GetSessionIDsForWallet(ctx, walletA)
	require.NoError(t, err)
	require.Empty(t, ids)

	// Binding reuses the keys handed out while pairing.
	s, err := m.CreateSession(ctx, dAppPub, walletA, session.DApp{Name: "App", Domain: "app.example"})
	require.NoError(t, err)
	require.True(t, s.Bound())
	require.Equal(t, pending.PublicKey, s.PublicKey)
	require.Equal(t, "App", s.DAppName)

	// Any address form resolves to the same wallet.
	addr, err := tonconnect.ParseAddress(walletA)
	require.NoError(t, err)
	ids, err = m.GetSessionIDsForWallet(ctx, addr.String())
	require.NoError(t, err)
	require.Equal(t, []string{dAppPub}, ids)

	require.NoError(t, m.Touch(ctx, dAppPub))
	got, err := m.GetSession(ctx, dAppPub)
	require.NoError(t, err)
	require.GreaterOrEqual(t, got.LastActivityAt, s.LastActivityAt)

	all, err := m.ListSessions(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)

	require.NoError(t, m.RemoveSession(ctx, dAppPub))
	_, err = m.GetSession(ctx, dAppPub)
	require.ErrorIs(t, err, session.ErrSessionNotFound)
	require.ErrorIs(t, m.RemoveSession(ctx, dAppPub), session.ErrSessionNotFound)
	require.ErrorIs(t, m.Touch(ctx, dAppPub), session.ErrSessionNotFound)
}

func TestRemoveSessionsForWallet(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewManager(memory.New(), nil)

	for _, id := range []string{"a1", "a2"} {
		_, err := m.CreateSession(ctx, id, walletA, session.DApp{})
		require.NoError(t, err)
	}
	_, err := m.CreateSession(ctx, "b1", walletB, session.DApp{})
	require.NoError(t, err)

	n, err := m.RemoveSessionsForWallet(ctx, walletA)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	ids, err := m.GetSessionIDsForWallet(ctx, walletB)
	require.NoError(t, err)
	require.Equal(t, []string{"b1"}, ids)

	_, err = m.CreateSession(ctx, "x", "not-an-address", session.DApp{})
	require.Error(t, err)
}

func TestSealOpen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewManager(memory.New(), nil)

	dAppPub, dAppPriv, err := session.NewKeyPair()
	require.NoError(t, err)
	walletSide, err := m.CreateSession(ctx, dAppPub, walletA, session.DApp{})
	require.NoError(t, err)

	// The dApp view of the channel mirrors the keys.
	dAppSide := session.Session{ID: walletSide.PublicKey, PrivateKey: dAppPriv}

	sealed, err := walletSide.Seal([]byte("hello dApp"))
	require.NoError(t, err)
	msg, err := dAppSide.Open(sealed)
	require.NoError(t, err)
	require.Equal(t, "hello dApp", string(msg))

	sealed, err = dAppSide.Seal([]byte("hello wallet"))
	require.NoError(t, err)
	msg, err = walletSide.Open(sealed)
	require.NoError(t, err)
	require.Equal(t, "hello wallet", string(msg))

	sealed[len(sealed)-1] ^= 0xff
	_, err = walletSide.Open(sealed)
	require.Error(t, err)
	_, err = walletSide.Open([]byte("short"))
	require.Error(t, err)
}
