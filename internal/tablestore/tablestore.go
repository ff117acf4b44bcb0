// Package tablestore defines the partitioned key-value table abstraction that every
// marketupdate process reads and writes. A table maps a partition key to row keys,
// and each row carries a flat bag of string properties.
package tablestore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	// ErrAlreadyExists is returned by Insert when the partition/row pair is taken.
	ErrAlreadyExists = errors.New("entity already exists")
	// ErrNotFound is returned by Get when no row matches.
	ErrNotFound = errors.New("entity not found")
	// ErrTableNotFound is returned when a backend with explicit tables is asked to
	// operate on a table that was never ensured.
	ErrTableNotFound = errors.New("table not found")
	// ErrInvalidKey is returned for empty keys or keys with characters the Azure Table
	// service forbids.
	ErrInvalidKey = errors.New("invalid entity key")
)

// Azure Table names are alphanumeric only.
var validTableName = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9]{2,62}$`)

// Entity is one row of a table.
type Entity struct {
	PartitionKey string
	RowKey       string
	Properties   map[string]string
}

// Property returns the named property or "" when it is absent.
func (e Entity) Property(name string) string {
	if e.Properties == nil {
		return ""
	}
	return e.Properties[name]
}

// Store is implemented by every table backend.
type Store interface {
	// EnsureTable creates the table if it does not exist yet.
	EnsureTable(ctx context.Context, table string) error
	// Insert adds a new row and fails with ErrAlreadyExists on a key collision.
	Insert(ctx context.Context, table string, entity Entity) error
	// Upsert replaces the row (all properties) or inserts it.
	Upsert(ctx context.Context, table string, entity Entity) error
	// Get reads one row, returning ErrNotFound when absent.
	Get(ctx context.Context, table, partitionKey, rowKey string) (Entity, error)
	// Query returns every row in a partition ordered by row key.
	Query(ctx context.Context, table, partitionKey string) ([]Entity, error)
	// Close releases backend resources.
	Close() error
}

// ValidateTable rejects names that are not portable across the backends.
func ValidateTable(table string) error {
	if !validTableName.MatchString(table) {
		return fmt.Errorf("invalid table name %q", table)
	}
	return nil
}

// ValidateEntity enforces non-empty keys without characters the Azure Table service
// forbids in keys.
func ValidateEntity(entity Entity) error {
	if err := validateKey("partition key", entity.PartitionKey); err != nil {
		return err
	}
	return validateKey("row key", entity.RowKey)
}

func validateKey(kind, key string) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("%w: %s is required", ErrInvalidKey, kind)
	}
	if strings.ContainsAny(key, "/\\#?") {
		return fmt.Errorf("%w: %s %q contains a forbidden character", ErrInvalidKey, kind, key)
	}
	return nil
}

// CloneProperties copies a property bag so callers cannot mutate stored rows.
func CloneProperties(src map[string]string) map[string]string {
	dst := make(map[string]string, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
