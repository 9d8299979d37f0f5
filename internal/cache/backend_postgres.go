package cache

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// PostgresBackend keeps the whole document in one jsonb row. Selected by a
// DSN in the environment; the file backend stays the default. Read-modify-
// write still happens in the store, so concurrency characteristics match
// the file backend (last write wins).
type PostgresBackend struct {
	db *sql.DB

	schemaOnce sync.Once
	schemaErr  error
}

func NewPostgresBackend(dsn string) (*PostgresBackend, error) {
	db, err := sql.Open("pgx", strings.TrimSpace(dsn))
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &PostgresBackend{db: db}, nil
}

func (b *PostgresBackend) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}

func (b *PostgresBackend) ensureSchema(ctx context.Context) error {
	b.schemaOnce.Do(func() {
		_, b.schemaErr = b.db.ExecContext(ctx, `
			CREATE TABLE IF NOT EXISTS mapping_cache_document (
				id  integer PRIMARY KEY,
				doc jsonb NOT NULL
			)`)
	})
	return b.schemaErr
}

func (b *PostgresBackend) Load(ctx context.Context) ([]byte, bool, error) {
	if err := b.ensureSchema(ctx); err != nil {
		return nil, false, err
	}
	var raw []byte
	err := b.db.QueryRowContext(ctx, `SELECT doc FROM mapping_cache_document WHERE id = 1`).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return raw, true, nil
}

func (b *PostgresBackend) Save(ctx context.Context, raw []byte) error {
	if err := b.ensureSchema(ctx); err != nil {
		return err
	}
	_, err := b.db.ExecContext(ctx, `
		INSERT INTO mapping_cache_document (id, doc) VALUES (1, $1)
		ON CONFLICT (id) DO UPDATE SET doc = EXCLUDED.doc`, raw)
	return err
}
