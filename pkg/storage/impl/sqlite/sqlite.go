package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"time"

	"github.com/XSAM/otelsql"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite3" // migration for sqlite3
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/klauspost/compress/zstd"
	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	logger "github.com/rs/zerolog/log"
	"github.com/textileio/go-tonconnect/pkg/storage"
	"go.opentelemetry.io/otel/attribute"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Adapter is a storage.Adapter backed by a SQLite key-value table.
type Adapter struct {
	log    zerolog.Logger
	dbURI  string
	sqlDB  *sql.DB
	config *Config

	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

var _ storage.Adapter = (*Adapter)(nil)

// Config contains configuration attributes for the adapter.
type Config struct {
	Compression bool
}

// Option modifies a configuration attribute.
type Option func(*Config) error

// WithCompression compresses values with zstd before writing them.
// Values written before compression was enabled are still readable.
func WithCompression(v bool) Option {
	return func(c *Config) error {
		c.Compression = v
		return nil
	}
}

// New opens the database at dbURI and runs pending migrations.
func New(dbURI string, opts ...Option) (*Adapter, error) {
	config := &Config{}
	for _, o := range opts {
		if err := o(config); err != nil {
			return nil, errors.Errorf("applying option: %s", err)
		}
	}

	sqlDB, err := otelsql.Open("sqlite3", dbURI, otelsql.WithAttributes(
		attribute.String("name", "kvstore"),
	))
	if err != nil {
		return nil, errors.Errorf("connecting to db: %s", err)
	}
	// A single connection keeps in-memory databases alive and avoids
	// shared-cache table locks between concurrent readers and writers.
	sqlDB.SetMaxOpenConns(1)
	if err := sqlDB.Ping(); err != nil {
		return nil, errors.Errorf("pinging db: %s", err)
	}
	if err := otelsql.RegisterDBStatsMetrics(sqlDB, otelsql.WithAttributes(
		attribute.String("name", "kvstore"),
	)); err != nil {
		return nil, errors.Errorf("registering dbstats: %s", err)
	}

	encoder, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, errors.Errorf("creating zstd encoder: %s", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, errors.Errorf("creating zstd decoder: %s", err)
	}

	a := &Adapter{
		log:     logger.With().Str("component", "sqlitestorage").Logger(),
		dbURI:   dbURI,
		sqlDB:   sqlDB,
		config:  config,
		encoder: encoder,
		decoder: decoder,
	}
	if err := a.executeMigration(); err != nil {
		return nil, errors.Errorf("initializing db connection: %s", err)
	}

	return a, nil
}

// Get implements storage.Adapter.
func (a *Adapter) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	var compressed bool
	row := a.sqlDB.QueryRowContext(ctx, `SELECT value, compressed FROM kv WHERE key = ?1`, key)
	if err := row.Scan(&value, &compressed); err != nil {
		if err == sql.ErrNoRows {
			return nil, storage.ErrNotFound
		}
		return nil, errors.Errorf("select value: %s", err)
	}
	if !compressed {
		return value, nil
	}

	decoded, err := a.decoder.DecodeAll(value, nil)
	if err != nil {
		return nil, errors.Errorf("decompressing value: %s", err)
	}
	return decoded, nil
}

// Set implements storage.Adapter.
func (a *Adapter) Set(ctx context.Context, key string, value []byte) error {
	compressed := a.config.Compression
	if compressed {
		value = a.encoder.EncodeAll(value, nil)
	}

	_, err := a.sqlDB.ExecContext(ctx,
		`INSERT INTO kv (key, value, compressed, updated_at) VALUES (?1, ?2, ?3, ?4)
		 ON CONFLICT (key) DO UPDATE SET
		   value = excluded.value,
		   compressed = excluded.compressed,
		   updated_at = excluded.updated_at`,
		key, value, compressed, time.Now().UnixMilli(),
	)
	if err != nil {
		return errors.Errorf("upsert value: %s", err)
	}
	return nil
}

// Remove implements storage.Adapter.
func (a *Adapter) Remove(ctx context.Context, key string) error {
	if _, err := a.sqlDB.ExecContext(ctx, `DELETE FROM kv WHERE key = ?1`, key); err != nil {
		return errors.Errorf("delete value: %s", err)
	}
	return nil
}

// Clear implements storage.Adapter.
func (a *Adapter) Clear(ctx context.Context) error {
	if _, err := a.sqlDB.ExecContext(ctx, `DELETE FROM kv`); err != nil {
		return errors.Errorf("delete all values: %s", err)
	}
	return nil
}

// Close implements storage.Adapter.
func (a *Adapter) Close() error {
	a.encoder.Close() //nolint
	a.decoder.Close()
	if err := a.sqlDB.Close(); err != nil {
		return errors.Errorf("close: %s", err)
	}
	return nil
}

// executeMigration runs db migrations embedded in the binary.
func (a *Adapter) executeMigration() error {
	d, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return errors.Errorf("creating source driver: %s", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", d, "sqlite3://"+a.dbURI)
	if err != nil {
		return errors.Errorf("creating migration: %s", err)
	}
	version, dirty, err := m.Version()
	a.log.Info().
		Uint("dbVersion", version).
		Bool("dirty", dirty).
		Err(err).
		Msg("database migration executed")

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return errors.Errorf("running migration up: %s", err)
	}

	return nil
}
