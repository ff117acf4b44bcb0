// Package postgres provides a Postgres-backed tablestore.Store. Each logical table is a
// SQL table keyed by (partition_key, row_key) with the properties held in a JSONB column.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/market-update/internal/tablestore"
)

const undefinedTable = "42P01"

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// Store persists entities in Postgres.
type Store struct {
	pool pool
}

var _ tablestore.Store = (*Store)(nil)

// New creates a pool-backed Store using the provided config.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: p}, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(p pool) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: p}, nil
}

// EnsureTable creates the backing SQL table if it does not exist.
func (s *Store) EnsureTable(ctx context.Context, table string) error {
	ident, err := identifier(table)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	partition_key TEXT NOT NULL,
	row_key TEXT NOT NULL,
	properties JSONB NOT NULL DEFAULT '{}'::jsonb,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (partition_key, row_key)
)`, ident)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create table %s: %w", table, err)
	}
	return nil
}

// Insert adds a row; a primary key collision yields tablestore.ErrAlreadyExists.
func (s *Store) Insert(ctx context.Context, table string, entity tablestore.Entity) error {
	ident, props, err := prepare(table, entity)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`
INSERT INTO %s (partition_key, row_key, properties, updated_at)
VALUES ($1, $2, $3, now())
ON CONFLICT (partition_key, row_key) DO NOTHING`, ident)
	tag, err := s.pool.Exec(ctx, query, entity.PartitionKey, entity.RowKey, props)
	if err != nil {
		return mapError(fmt.Sprintf("insert into %s", table), err)
	}
	if tag.RowsAffected() == 0 {
		return tablestore.ErrAlreadyExists
	}
	return nil
}

// Upsert inserts the row or replaces its properties.
func (s *Store) Upsert(ctx context.Context, table string, entity tablestore.Entity) error {
	ident, props, err := prepare(table, entity)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`
INSERT INTO %s (partition_key, row_key, properties, updated_at)
VALUES ($1, $2, $3, now())
ON CONFLICT (partition_key, row_key) DO UPDATE
SET properties = EXCLUDED.properties, updated_at = EXCLUDED.updated_at`, ident)
	if _, err := s.pool.Exec(ctx, query, entity.PartitionKey, entity.RowKey, props); err != nil {
		return mapError(fmt.Sprintf("upsert into %s", table), err)
	}
	return nil
}

// Get reads one row.
func (s *Store) Get(ctx context.Context, table, partitionKey, rowKey string) (tablestore.Entity, error) {
	ident, err := identifier(table)
	if err != nil {
		return tablestore.Entity{}, err
	}
	query := fmt.Sprintf(`SELECT properties FROM %s WHERE partition_key = $1 AND row_key = $2`, ident)
	var raw []byte
	if err := s.pool.QueryRow(ctx, query, partitionKey, rowKey).Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return tablestore.Entity{}, tablestore.ErrNotFound
		}
		return tablestore.Entity{}, mapError(fmt.Sprintf("get from %s", table), err)
	}
	props, err := decode(raw)
	if err != nil {
		return tablestore.Entity{}, err
	}
	return tablestore.Entity{PartitionKey: partitionKey, RowKey: rowKey, Properties: props}, nil
}

// Query lists a partition ordered by row key.
func (s *Store) Query(ctx context.Context, table, partitionKey string) ([]tablestore.Entity, error) {
	ident, err := identifier(table)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`SELECT row_key, properties FROM %s WHERE partition_key = $1 ORDER BY row_key`, ident)
	rows, err := s.pool.Query(ctx, query, partitionKey)
	if err != nil {
		return nil, mapError(fmt.Sprintf("query %s", table), err)
	}
	defer rows.Close()

	var out []tablestore.Entity
	for rows.Next() {
		var (
			rowKey string
			raw    []byte
		)
		if err := rows.Scan(&rowKey, &raw); err != nil {
			return nil, fmt.Errorf("scan %s row: %w", table, err)
		}
		props, err := decode(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, tablestore.Entity{PartitionKey: partitionKey, RowKey: rowKey, Properties: props})
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(fmt.Sprintf("query %s", table), err)
	}
	return out, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

func identifier(table string) (string, error) {
	if err := tablestore.ValidateTable(table); err != nil {
		return "", err
	}
	return pgx.Identifier{table}.Sanitize(), nil
}

func prepare(table string, entity tablestore.Entity) (string, []byte, error) {
	ident, err := identifier(table)
	if err != nil {
		return "", nil, err
	}
	if err := tablestore.ValidateEntity(entity); err != nil {
		return "", nil, err
	}
	props := entity.Properties
	if props == nil {
		props = map[string]string{}
	}
	payload, err := json.Marshal(props)
	if err != nil {
		return "", nil, fmt.Errorf("marshal properties: %w", err)
	}
	return ident, payload, nil
}

func decode(raw []byte) (map[string]string, error) {
	props := map[string]string{}
	if len(raw) == 0 {
		return props, nil
	}
	if err := json.Unmarshal(raw, &props); err != nil {
		return nil, fmt.Errorf("decode properties: %w", err)
	}
	return props, nil
}

func mapError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == undefinedTable {
		return fmt.Errorf("%s: %w", op, tablestore.ErrTableNotFound)
	}
	return fmt.Errorf("%s: %w", op, err)
}
