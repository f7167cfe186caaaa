package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/textileio/go-tonconnect/pkg/storage/impl/sqlite"
)

func TestSnapshot(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string
		opts []Option
		ext  string
	}{
		{name: "plain", opts: []Option{WithCompression(false)}, ext: ".db"},
		{name: "vacuum", opts: []Option{WithCompression(false), WithVacuum(true)}, ext: ".db"},
		{name: "compressed", opts: []Option{WithCompression(true), WithVacuum(true)}, ext: ".db.zst"},
	}
	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			source := createSourceDatabase(t)

			dir := t.TempDir()
			s, err := NewSnapshotter(source, dir, tc.opts...)
			require.NoError(t, err)
			s.now = func() time.Time { return time.Date(2009, 11, 17, 20, 34, 58, 651387237, time.UTC) }

			result, err := s.Snapshot(ctx)
			require.NoError(t, err)
			require.Equal(t, filepath.Join(dir, "tonconnect_snapshot_20091117T203458.651Z"+tc.ext), result.Path)
			require.FileExists(t, result.Path)
			require.Greater(t, result.Size, int64(0))
			if s.config.Vacuum {
				require.Greater(t, result.SizeAfterVacuum, int64(0))
			}
			if s.config.Compression {
				require.Greater(t, result.SizeAfterCompression, int64(0))
				require.NoFileExists(t, filepath.Join(dir, "tonconnect_snapshot_20091117T203458.651Z.db"))

				decompressed, err := Decompress(result.Path)
				require.NoError(t, err)
				requireSourceContent(t, decompressed)
			} else {
				requireSourceContent(t, result.Path)
			}
		})
	}
}

func TestSnapshotPrunes(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	source := createSourceDatabase(t)

	dir := t.TempDir()
	s, err := NewSnapshotter(source, dir, WithKeepFiles(2))
	require.NoError(t, err)

	ts := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time {
		ts = ts.Add(time.Minute)
		return ts
	}
	for i := 0; i < 4; i++ {
		_, err := s.Snapshot(ctx)
		require.NoError(t, err)
	}

	files, err := List(dir)
	require.NoError(t, err)
	require.Equal(t, []string{
		"tonconnect_snapshot_20230101T000300.000Z.db.zst",
		"tonconnect_snapshot_20230101T000400.000Z.db.zst",
	}, files)
}

func TestSnapshotMissingSource(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s, err := NewSnapshotter(filepath.Join(t.TempDir(), "missing", "events.db"), dir)
	require.NoError(t, err)

	_, err = s.Snapshot(context.Background())
	require.Error(t, err)
	files, err := List(dir)
	require.NoError(t, err)
	require.Empty(t, files)
}

func TestOptions(t *testing.T) {
	t.Parallel()

	_, err := NewSnapshotter("", t.TempDir())
	require.Error(t, err)
	_, err = NewSnapshotter("events.db", t.TempDir(), WithKeepFiles(-1))
	require.Error(t, err)
}

func TestPrune(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	for i := 1; i <= 5; i++ {
		name := fmt.Sprintf("%s_2023010%dT000000.000Z.db", FilenamePrefix, i)
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "unrelated.db"), []byte("x"), 0o644))

	require.Error(t, Prune(dir, 0))
	require.NoError(t, Prune(dir, 3))

	files, err := List(dir)
	require.NoError(t, err)
	require.Equal(t, []string{
		FilenamePrefix + "_20230103T000000.000Z.db",
		FilenamePrefix + "_20230104T000000.000Z.db",
		FilenamePrefix + "_20230105T000000.000Z.db",
	}, files)
	require.FileExists(t, filepath.Join(dir, "unrelated.db"))
}

func TestScheduler(t *testing.T) {
	t.Parallel()
	source := createSourceDatabase(t)

	s, err := NewSnapshotter(source, t.TempDir(), WithKeepFiles(0))
	require.NoError(t, err)

	results := make(chan error, 10)
	scheduler := NewScheduler(20*time.Millisecond, s, func(_ Result, err error) {
		results <- err
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		scheduler.Run(ctx)
	}()

	for i := 0; i < 2; i++ {
		select {
		case err := <-results:
			require.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("snapshot wasn't taken")
		}
	}
	cancel()
	<-done
}

func createSourceDatabase(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "events.db")
	a, err := sqlite.New(path)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		require.NoError(t, a.Set(ctx, fmt.Sprintf("key-%d", i), []byte(fmt.Sprintf("value-%d", i))))
	}
	require.NoError(t, a.Close())
	return path
}

func requireSourceContent(t *testing.T, path string) {
	t.Helper()
	ctx := context.Background()

	a, err := sqlite.New(path)
	require.NoError(t, err)
	defer func() { require.NoError(t, a.Close()) }()
	for i := 0; i < 10; i++ {
		v, err := a.Get(ctx, fmt.Sprintf("key-%d", i))
		require.NoError(t, err)
		require.Equal(t, fmt.Sprintf("value-%d", i), string(v))
	}
}
