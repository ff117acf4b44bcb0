// Package redis provides a Redis-backed tablestore.Store. Every (table, partition)
// pair is one hash whose fields are row keys and whose values are JSON property bags.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	goredis "github.com/redis/go-redis/v9"

	"github.com/JakeFAU/market-update/internal/tablestore"
)

// Store persists entities in Redis hashes.
type Store struct {
	client goredis.UniversalClient
	prefix string
}

var _ tablestore.Store = (*Store)(nil)

// New connects using a redis:// URL and pings the server so misconfiguration fails fast.
func New(ctx context.Context, url, prefix string) (*Store, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewWithClient(client, prefix), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client goredis.UniversalClient, prefix string) *Store {
	return &Store{client: client, prefix: prefix}
}

func (s *Store) key(table, partition string) string {
	return fmt.Sprintf("%s%s:%s", s.prefix, table, partition)
}

// EnsureTable records the table name; hashes are created lazily on first write.
func (s *Store) EnsureTable(ctx context.Context, table string) error {
	if err := tablestore.ValidateTable(table); err != nil {
		return err
	}
	if err := s.client.SAdd(ctx, s.prefix+"tables", table).Err(); err != nil {
		return fmt.Errorf("register table %s: %w", table, err)
	}
	return nil
}

// Insert uses HSETNX so a taken row key reports tablestore.ErrAlreadyExists.
func (s *Store) Insert(ctx context.Context, table string, entity tablestore.Entity) error {
	payload, err := encode(entity)
	if err != nil {
		return err
	}
	created, err := s.client.HSetNX(ctx, s.key(table, entity.PartitionKey), entity.RowKey, payload).Result()
	if err != nil {
		return fmt.Errorf("insert into %s: %w", table, err)
	}
	if !created {
		return tablestore.ErrAlreadyExists
	}
	return nil
}

// Upsert overwrites the row.
func (s *Store) Upsert(ctx context.Context, table string, entity tablestore.Entity) error {
	payload, err := encode(entity)
	if err != nil {
		return err
	}
	if err := s.client.HSet(ctx, s.key(table, entity.PartitionKey), entity.RowKey, payload).Err(); err != nil {
		return fmt.Errorf("upsert into %s: %w", table, err)
	}
	return nil
}

// Get reads one row.
func (s *Store) Get(ctx context.Context, table, partitionKey, rowKey string) (tablestore.Entity, error) {
	raw, err := s.client.HGet(ctx, s.key(table, partitionKey), rowKey).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return tablestore.Entity{}, tablestore.ErrNotFound
		}
		return tablestore.Entity{}, fmt.Errorf("get from %s: %w", table, err)
	}
	props, err := decode(raw)
	if err != nil {
		return tablestore.Entity{}, err
	}
	return tablestore.Entity{PartitionKey: partitionKey, RowKey: rowKey, Properties: props}, nil
}

// Query returns the whole partition hash ordered by row key.
func (s *Store) Query(ctx context.Context, table, partitionKey string) ([]tablestore.Entity, error) {
	all, err := s.client.HGetAll(ctx, s.key(table, partitionKey)).Result()
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", table, err)
	}
	keys := make([]string, 0, len(all))
	for k := range all {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]tablestore.Entity, 0, len(keys))
	for _, k := range keys {
		props, err := decode(all[k])
		if err != nil {
			return nil, err
		}
		out = append(out, tablestore.Entity{PartitionKey: partitionKey, RowKey: k, Properties: props})
	}
	return out, nil
}

// Close closes the client.
func (s *Store) Close() error {
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("close redis: %w", err)
	}
	return nil
}

func encode(entity tablestore.Entity) (string, error) {
	if err := tablestore.ValidateEntity(entity); err != nil {
		return "", err
	}
	props := entity.Properties
	if props == nil {
		props = map[string]string{}
	}
	b, err := json.Marshal(props)
	if err != nil {
		return "", fmt.Errorf("marshal properties: %w", err)
	}
	return string(b), nil
}

func decode(raw string) (map[string]string, error) {
	props := map[string]string{}
	if raw == "" {
		return props, nil
	}
	if err := json.Unmarshal([]byte(raw), &props); err != nil {
		return nil, fmt.Errorf("decode properties: %w", err)
	}
	return props, nil
}
