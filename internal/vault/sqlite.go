package vault

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
	_ "modernc.org/sqlite" // pure Go sqlite driver
)

// record is the msgpack-encoded row payload: the blob is wrapped in a
// one-field map under the key "value" rather than stored as raw bytes.
// It carries no version tag.
type record struct {
	Value []byte `msgpack:"value"`
}

// SQLiteVault is a file-backed Key Vault. It stores one opaque blob
// per well-known name in a single table; each blob is msgpack-encoded
// before being written, matching the teacher's sqlite.DB connection
// and pragma conventions.
type SQLiteVault struct {
	conn   *sql.DB
	path   string
	logger zerolog.Logger
}

// SQLiteConfig mirrors the teacher's sqlite.Config, trimmed to the
// fields a single-table key-value store needs.
type SQLiteConfig struct {
	Path            string
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
	BusyTimeout     time.Duration
}

// NewSQLiteVault opens (and migrates, if absent) the vault database at
// cfg.Path.
func NewSQLiteVault(cfg SQLiteConfig, logger zerolog.Logger) (*SQLiteVault, error) {
	dsn := fmt.Sprintf("file:%s?cache=shared&mode=rwc", cfg.Path)
	if cfg.BusyTimeout > 0 {
		dsn += fmt.Sprintf("&_busy_timeout=%d", cfg.BusyTimeout.Milliseconds())
	}

	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, wipeErr("open", err)
	}
	if cfg.MaxOpenConns > 0 {
		conn.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		conn.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, wipeErr("ping", err)
	}

	if _, err := conn.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, wipeErr("pragma", err)
	}

	if _, err := conn.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS vault_blobs (
			name  TEXT PRIMARY KEY,
			value BLOB NOT NULL
		)`); err != nil {
		conn.Close()
		return nil, wipeErr("migrate", err)
	}

	logger.Info().Str("path", cfg.Path).Msg("sqlite key vault initialized")

	return &SQLiteVault{conn: conn, path: cfg.Path, logger: logger}, nil
}

// Get implements Vault.
func (v *SQLiteVault) Get(ctx context.Context, name string) ([]byte, bool, error) {
	var raw []byte
	err := v.conn.QueryRowContext(ctx, "SELECT value FROM vault_blobs WHERE name = ?", name).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, wipeErr("get", err)
	}

	var rec record
	if err := msgpack.Unmarshal(raw, &rec); err != nil {
		return nil, false, wipeErr("decode", err)
	}
	return rec.Value, true, nil
}

// Set implements Vault.
func (v *SQLiteVault) Set(ctx context.Context, name string, value []byte) error {
	raw, err := msgpack.Marshal(record{Value: value})
	if err != nil {
		return wipeErr("encode", err)
	}

	_, err = v.conn.ExecContext(ctx, `
		INSERT INTO vault_blobs (name, value) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET value = excluded.value`, name, raw)
	if err != nil {
		return wipeErr("set", err)
	}
	return nil
}

// Delete implements Vault.
func (v *SQLiteVault) Delete(ctx context.Context, name string) error {
	if _, err := v.conn.ExecContext(ctx, "DELETE FROM vault_blobs WHERE name = ?", name); err != nil {
		return wipeErr("delete", err)
	}
	return nil
}

// Clear implements Vault.
func (v *SQLiteVault) Clear(ctx context.Context) error {
	if _, err := v.conn.ExecContext(ctx, "DELETE FROM vault_blobs"); err != nil {
		return wipeErr("clear", err)
	}
	return nil
}

// Ping implements Vault.
func (v *SQLiteVault) Ping(ctx context.Context) error {
	if err := v.conn.PingContext(ctx); err != nil {
		return wipeErr("ping", err)
	}
	return nil
}

// Close implements Vault.
func (v *SQLiteVault) Close() error {
	if err := v.conn.Close(); err != nil {
		return wipeErr("close", err)
	}
	return nil
}
