package backup

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

// FilenamePrefix is the prefix of every snapshot file.
const FilenamePrefix = "tonconnect_snapshot"

const timeLayout = "20060102T150405.000Z"

// Config contains configuration parameters for the snapshotter.
type Config struct {
	Compression bool
	Vacuum      bool
	// KeepFiles is the number of snapshots kept in the directory. Zero
	// disables pruning.
	KeepFiles   int
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Compression: true,
		Vacuum:      false,
		KeepFiles:   5,
	}
}

// Option modifies a configuration attribute.
type Option func(*Config) error

// WithCompression enables zstd compression of snapshots.
func WithCompression(v bool) Option {
	return func(c *Config) error {
		c.Compression = v
		return nil
	}
}

// WithVacuum runs VACUUM on the snapshot before compressing it.
func WithVacuum(v bool) Option {
	return func(c *Config) error {
		c.Vacuum = v
		return nil
	}
}

// WithKeepFiles sets how many snapshots are kept. Zero keeps all of them.
func WithKeepFiles(n int) Option {
	return func(c *Config) error {
		if n < 0 {
			return fmt.Errorf("keep files can't be negative")
		}
		c.KeepFiles = n
		return nil
	}
}

// Result describes a snapshot.
type Result struct {
	Timestamp time.Time
	Path      string

	ElapsedTime            time.Duration
	VacuumElapsedTime      time.Duration
	CompressionElapsedTime time.Duration
	Size                   int64
	SizeAfterVacuum        int64
	SizeAfterCompression   int64
}

// Snapshotter copies a live SQLite event store into a directory using the
// SQLite online backup API, so the store keeps serving while it runs.
type Snapshotter struct {
	sourcePath string
	dir        string
	config     *Config

	now func() time.Time
}

// NewSnapshotter creates a snapshotter of the SQLite database file at
// sourcePath writing to dir.
func NewSnapshotter(sourcePath, dir string, opts ...Option) (*Snapshotter, error) {
	config := DefaultConfig()
	for _, o := range opts {
		if err := o(config); err != nil {
			return nil, err
		}
	}
	if sourcePath == "" {
		return nil, errors.New("source path is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Errorf("os mkdir all: %s", err)
	}

	return &Snapshotter{
		sourcePath: sourcePath,
		dir:        dir,
		config:     config,
		now:        time.Now,
	}, nil
}

// Snapshot takes a snapshot. A failed snapshot leaves no file behind.
func (s *Snapshotter) Snapshot(ctx context.Context) (_ Result, err error) {
	timestamp := s.now().UTC()
	dbPath := filepath.Join(s.dir, fmt.Sprintf("%s_%s.db", FilenamePrefix, timestamp.Format(timeLayout)))
	defer func() {
		if err != nil {
			_ = os.Remove(dbPath)
		}
	}()

	source, err := open(s.sourcePath)
	if err != nil {
		return Result{}, errors.Errorf("opening source db: %s", err)
	}
	defer func() { _ = source.Close() }()
	target, err := open(dbPath)
	if err != nil {
		return Result{}, errors.Errorf("opening snapshot db: %s", err)
	}
	defer func() { _ = target.Close() }()

	result := Result{Timestamp: timestamp, Path: dbPath}
	startTime := time.Now()
	if err := copyDB(ctx, source, target); err != nil {
		return Result{}, errors.Errorf("copying db: %s", err)
	}
	result.ElapsedTime = time.Since(startTime)
	if result.Size, err = fileSize(dbPath); err != nil {
		return Result{}, err
	}

	if s.config.Vacuum {
		startTime = time.Now()
		if _, err := target.ExecContext(ctx, "VACUUM"); err != nil {
			return Result{}, errors.Errorf("exec vacuum: %s", err)
		}
		result.VacuumElapsedTime = time.Since(startTime)
		if result.SizeAfterVacuum, err = fileSize(dbPath); err != nil {
			return Result{}, err
		}
	}
	if err := target.Close(); err != nil {
		return Result{}, errors.Errorf("closing snapshot db: %s", err)
	}

	if s.config.Compression {
		startTime = time.Now()
		compressed, err := Compress(dbPath)
		if err != nil {
			return Result{}, errors.Errorf("compress: %s", err)
		}
		if err := os.Remove(dbPath); err != nil {
			return Result{}, errors.Errorf("os remove: %s", err)
		}
		result.Path = compressed
		result.CompressionElapsedTime = time.Since(startTime)
		if result.SizeAfterCompression, err = fileSize(compressed); err != nil {
			return Result{}, err
		}
	}

	if s.config.KeepFiles > 0 {
		if err := Prune(s.dir, s.config.KeepFiles); err != nil {
			return Result{}, errors.Errorf("prune: %s", err)
		}
	}
	return result, nil
}

func copyDB(ctx context.Context, source, target *sql.DB) error {
	in, err := source.Conn(ctx)
	if err != nil {
		return errors.Errorf("getting db conn: %s", err)
	}
	defer func() { _ = in.Close() }()
	out, err := target.Conn(ctx)
	if err != nil {
		return errors.Errorf("getting snapshot db conn: %s", err)
	}
	defer func() { _ = out.Close() }()

	return in.Raw(func(inConn interface{}) error {
		return out.Raw(func(outConn interface{}) error {
			src, ok := inConn.(*sqlite3.SQLiteConn)
			if !ok {
				return errors.Errorf("unexpected source driver connection %T", inConn)
			}
			dst, ok := outConn.(*sqlite3.SQLiteConn)
			if !ok {
				return errors.Errorf("unexpected snapshot driver connection %T", outConn)
			}
			return backupRaw(src, dst)
		})
	})
}

func backupRaw(in, out *sqlite3.SQLiteConn) error {
	bk, err := out.Backup("main", in, "main")
	if err != nil {
		return errors.Errorf("initializing the backup: %s", err)
	}
	done, err := bk.Step(-1)
	if err != nil {
		_ = bk.Close()
		return errors.Errorf("performing the backup step: %s", err)
	}
	if !done || bk.Remaining() != 0 {
		_ = bk.Close()
		return errors.Errorf("backup is unexpectedly not done, %d pages remaining", bk.Remaining())
	}
	if err := bk.Finish(); err != nil {
		return errors.Errorf("finishing backup: %s", err)
	}
	return nil
}

func open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Errorf("opening db: %s", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, errors.Errorf("pinging db: %s", err)
	}
	return db, nil
}

func fileSize(path string) (int64, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return 0, errors.Errorf("os stat: %s", err)
	}
	return fi.Size(), nil
}
