package impl

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/textileio/go-tonconnect/pkg/storage"
	"github.com/textileio/go-tonconnect/pkg/storage/impl/memory"
)

func TestInstrumentedAdapter(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	a, err := NewInstrumentedAdapter(memory.New(), "memory")
	require.NoError(t, err)

	_, err = a.Get(ctx, "k")
	require.ErrorIs(t, err, storage.ErrNotFound)
	require.NoError(t, a.Set(ctx, "k", []byte("v")))
	v, err := a.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, []byte("v"), v)
	require.NoError(t, a.Remove(ctx, "k"))
	require.NoError(t, a.Clear(ctx))
	require.NoError(t, a.Close())
}
