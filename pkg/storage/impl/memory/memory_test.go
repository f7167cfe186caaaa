package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/textileio/go-tonconnect/pkg/storage"
)

func TestAdapter(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	a := New()

	_, err := a.Get(ctx, "k")
	require.ErrorIs(t, err, storage.ErrNotFound)

	in := []byte("value")
	require.NoError(t, a.Set(ctx, "k", in))
	in[0] = 'X'

	out, err := a.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, []byte("value"), out)
	out[0] = 'Y'

	again, err := a.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, []byte("value"), again)

	require.NoError(t, a.Remove(ctx, "k"))
	require.NoError(t, a.Remove(ctx, "k"))
	_, err = a.Get(ctx, "k")
	require.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, a.Set(ctx, "a", []byte("1")))
	require.NoError(t, a.Clear(ctx))
	_, err = a.Get(ctx, "a")
	require.ErrorIs(t, err, storage.ErrNotFound)
	require.NoError(t, a.Close())
}
