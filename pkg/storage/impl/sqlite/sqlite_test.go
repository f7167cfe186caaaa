package sqlite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/textileio/go-tonconnect/pkg/storage"
	"github.com/textileio/go-tonconnect/tests"
)

func TestAdapter(t *testing.T) {
	t.Parallel()

	for _, compression := range []bool{false, true} {
		compression := compression
		name := "plain"
		if compression {
			name = "compressed"
		}
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()

			a, err := New(tests.Sqlite3URL(), WithCompression(compression))
			require.NoError(t, err)
			t.Cleanup(func() { require.NoError(t, a.Close()) })

			_, err = a.Get(ctx, "missing")
			require.ErrorIs(t, err, storage.ErrNotFound)

			require.NoError(t, a.Set(ctx, "k1", []byte("v1")))
			require.NoError(t, a.Set(ctx, "k1", []byte("v1-updated")))
			require.NoError(t, a.Set(ctx, "k2", []byte("v2")))

			v, err := a.Get(ctx, "k1")
			require.NoError(t, err)
			require.Equal(t, []byte("v1-updated"), v)

			require.NoError(t, a.Remove(ctx, "k1"))
			_, err = a.Get(ctx, "k1")
			require.ErrorIs(t, err, storage.ErrNotFound)
			require.NoError(t, a.Remove(ctx, "k1"))

			require.NoError(t, a.Clear(ctx))
			_, err = a.Get(ctx, "k2")
			require.ErrorIs(t, err, storage.ErrNotFound)
		})
	}
}

func TestAdapterReadsUncompressedValuesAfterEnablingCompression(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	a, err := New(tests.Sqlite3URL())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, a.Close()) })

	require.NoError(t, a.Set(ctx, "k", []byte("plain")))
	a.config.Compression = true
	require.NoError(t, a.Set(ctx, "k2", []byte("zstd")))

	v, err := a.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, []byte("plain"), v)

	v, err = a.Get(ctx, "k2")
	require.NoError(t, err)
	require.Equal(t, []byte("zstd"), v)
}

func TestTypedHelpers(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	a, err := New(tests.Sqlite3URL())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, a.Close()) })

	type record struct {
		Name  string
		Count int
	}

	for _, codec := range []storage.Codec{storage.JSON, storage.Msgpack} {
		_, ok, err := storage.Get[record](ctx, a, codec, "rec-"+codec.Name())
		require.NoError(t, err)
		require.False(t, ok)

		require.NoError(t, storage.Set(ctx, a, codec, "rec-"+codec.Name(), record{Name: "a", Count: 2}))
		got, ok, err := storage.Get[record](ctx, a, codec, "rec-"+codec.Name())
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, record{Name: "a", Count: 2}, got)
	}
}
