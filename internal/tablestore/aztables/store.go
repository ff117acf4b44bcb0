// Package aztables provides a tablestore.Store backed by Azure Table Storage.
package aztables

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"

	"github.com/JakeFAU/market-update/internal/tablestore"
)

// Timestamp is a system property owned by the service; it is stripped on write and the
// service value is returned on read.
const timestampProperty = "Timestamp"

// Store talks to one storage account.
type Store struct {
	service *aztables.ServiceClient
}

var _ tablestore.Store = (*Store)(nil)

// New builds a Store from a storage account connection string.
func New(connectionString string) (*Store, error) {
	if connectionString == "" {
		return nil, fmt.Errorf("storage connection string is required")
	}
	service, err := aztables.NewServiceClientFromConnectionString(connectionString, nil)
	if err != nil {
		return nil, fmt.Errorf("create table service client: %w", err)
	}
	return &Store{service: service}, nil
}

// EnsureTable creates the table, treating "already exists" as success.
func (s *Store) EnsureTable(ctx context.Context, table string) error {
	if err := tablestore.ValidateTable(table); err != nil {
		return err
	}
	if _, err := s.service.CreateTable(ctx, table, nil); err != nil {
		if statusCode(err) == http.StatusConflict {
			return nil
		}
		return fmt.Errorf("create table %s: %w", table, err)
	}
	return nil
}

// Insert adds the entity; a 409 maps to tablestore.ErrAlreadyExists.
func (s *Store) Insert(ctx context.Context, table string, entity tablestore.Entity) error {
	payload, err := encodeEntity(entity)
	if err != nil {
		return err
	}
	if _, err := s.service.NewClient(table).AddEntity(ctx, payload, nil); err != nil {
		return mapError(fmt.Sprintf("insert into %s", table), err)
	}
	return nil
}

// Upsert replaces the entity wholesale.
func (s *Store) Upsert(ctx context.Context, table string, entity tablestore.Entity) error {
	payload, err := encodeEntity(entity)
	if err != nil {
		return err
	}
	opts := &aztables.UpsertEntityOptions{UpdateMode: aztables.UpdateModeReplace}
	if _, err := s.service.NewClient(table).UpsertEntity(ctx, payload, opts); err != nil {
		return mapError(fmt.Sprintf("upsert into %s", table), err)
	}
	return nil
}

// Get reads one entity.
func (s *Store) Get(ctx context.Context, table, partitionKey, rowKey string) (tablestore.Entity, error) {
	resp, err := s.service.NewClient(table).GetEntity(ctx, partitionKey, rowKey, nil)
	if err != nil {
		return tablestore.Entity{}, mapError(fmt.Sprintf("get from %s", table), err)
	}
	return decodeEntity(resp.Value)
}

// Query pages through every entity in a partition.
func (s *Store) Query(ctx context.Context, table, partitionKey string) ([]tablestore.Entity, error) {
	filter := partitionFilter(partitionKey)
	pager := s.service.NewClient(table).NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	var out []tablestore.Entity
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, mapError(fmt.Sprintf("query %s", table), err)
		}
		for _, raw := range page.Entities {
			entity, err := decodeEntity(raw)
			if err != nil {
				return nil, err
			}
			out = append(out, entity)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RowKey < out[j].RowKey })
	return out, nil
}

// Close is a no-op; the SDK client holds no closable resources.
func (s *Store) Close() error { return nil }

func partitionFilter(partitionKey string) string {
	return fmt.Sprintf("PartitionKey eq '%s'", strings.ReplaceAll(partitionKey, "'", "''"))
}

func encodeEntity(entity tablestore.Entity) ([]byte, error) {
	if err := tablestore.ValidateEntity(entity); err != nil {
		return nil, err
	}
	doc := make(map[string]any, len(entity.Properties)+2)
	for k, v := range entity.Properties {
		if k == timestampProperty {
			continue
		}
		doc[k] = v
	}
	doc["PartitionKey"] = entity.PartitionKey
	doc["RowKey"] = entity.RowKey
	payload, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal entity: %w", err)
	}
	return payload, nil
}

func decodeEntity(raw []byte) (tablestore.Entity, error) {
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return tablestore.Entity{}, fmt.Errorf("decode entity: %w", err)
	}
	entity := tablestore.Entity{Properties: map[string]string{}}
	for k, v := range doc {
		switch {
		case k == "PartitionKey":
			entity.PartitionKey, _ = v.(string)
		case k == "RowKey":
			entity.RowKey, _ = v.(string)
		case strings.HasPrefix(k, "odata."), strings.Contains(k, "@odata."):
			continue
		default:
			if s, ok := v.(string); ok {
				entity.Properties[k] = s
			} else {
				entity.Properties[k] = fmt.Sprint(v)
			}
		}
	}
	return entity, nil
}

func statusCode(err error) int {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		return respErr.StatusCode
	}
	return 0
}

func mapError(op string, err error) error {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		switch {
		case respErr.StatusCode == http.StatusConflict:
			return tablestore.ErrAlreadyExists
		case respErr.ErrorCode == "TableNotFound":
			return fmt.Errorf("%s: %w", op, tablestore.ErrTableNotFound)
		case respErr.StatusCode == http.StatusNotFound:
			return tablestore.ErrNotFound
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
