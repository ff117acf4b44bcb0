// Package memory provides an in-memory tablestore.Store for development and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/JakeFAU/market-update/internal/tablestore"
)

// table maps partition key -> row key -> properties.
type table map[string]map[string]map[string]string

// Store keeps every table in process memory.
type Store struct {
	mu     sync.RWMutex
	tables map[string]table
}

var _ tablestore.Store = (*Store)(nil)

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{tables: make(map[string]table)}
}

// EnsureTable creates the table if needed.
func (s *Store) EnsureTable(_ context.Context, name string) error {
	if err := tablestore.ValidateTable(name); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tables[name]; !ok {
		s.tables[name] = make(table)
	}
	return nil
}

// Insert adds a row unless the key is already taken.
func (s *Store) Insert(_ context.Context, name string, entity tablestore.Entity) error {
	if err := tablestore.ValidateEntity(entity); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[name]
	if !ok {
		return fmt.Errorf("insert into %s: %w", name, tablestore.ErrTableNotFound)
	}
	rows := t[entity.PartitionKey]
	if _, exists := rows[entity.RowKey]; exists {
		return tablestore.ErrAlreadyExists
	}
	if rows == nil {
		rows = make(map[string]map[string]string)
		t[entity.PartitionKey] = rows
	}
	rows[entity.RowKey] = tablestore.CloneProperties(entity.Properties)
	return nil
}

// Upsert replaces or inserts a row.
func (s *Store) Upsert(_ context.Context, name string, entity tablestore.Entity) error {
	if err := tablestore.ValidateEntity(entity); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[name]
	if !ok {
		return fmt.Errorf("upsert into %s: %w", name, tablestore.ErrTableNotFound)
	}
	rows := t[entity.PartitionKey]
	if rows == nil {
		rows = make(map[string]map[string]string)
		t[entity.PartitionKey] = rows
	}
	rows[entity.RowKey] = tablestore.CloneProperties(entity.Properties)
	return nil
}

// Get returns a copy of one row.
func (s *Store) Get(_ context.Context, name, partitionKey, rowKey string) (tablestore.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	props, ok := s.tables[name][partitionKey][rowKey]
	if !ok {
		return tablestore.Entity{}, tablestore.ErrNotFound
	}
	return tablestore.Entity{
		PartitionKey: partitionKey,
		RowKey:       rowKey,
		Properties:   tablestore.CloneProperties(props),
	}, nil
}

// Query returns copies of every row in the partition ordered by row key.
func (s *Store) Query(_ context.Context, name, partitionKey string) ([]tablestore.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tables[name]
	if !ok {
		return nil, fmt.Errorf("query %s: %w", name, tablestore.ErrTableNotFound)
	}
	rows := t[partitionKey]
	keys := make([]string, 0, len(rows))
	for k := range rows {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]tablestore.Entity, 0, len(keys))
	for _, k := range keys {
		out = append(out, tablestore.Entity{
			PartitionKey: partitionKey,
			RowKey:       k,
			Properties:   tablestore.CloneProperties(rows[k]),
		})
	}
	return out, nil
}

// Close is a no-op.
func (s *Store) Close() error { return nil }
