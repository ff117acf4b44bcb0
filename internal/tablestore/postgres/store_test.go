package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/market-update/internal/tablestore"
)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	store, err := NewWithPool(mock)
	require.NoError(t, err)
	return store, mock
}

func TestEnsureTableCreatesSchema(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS "StockMarketData"`).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))

	require.NoError(t, store.EnsureTable(context.Background(), "StockMarketData"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureTableRejectsBadName(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	require.Error(t, store.EnsureTable(context.Background(), "bad name"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertCreatesRow(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec(`INSERT INTO "EmailSubscriptions"`).
		WithArgs("Subscription", "a@x.com", []byte(`{"SubscribedAt":"t1"}`)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := store.Insert(context.Background(), "EmailSubscriptions", tablestore.Entity{
		PartitionKey: "Subscription",
		RowKey:       "a@x.com",
		Properties:   map[string]string{"SubscribedAt": "t1"},
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertConflictMapsToAlreadyExists(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec(`INSERT INTO "EmailSubscriptions"`).
		WithArgs("Subscription", "a@x.com", []byte(`{}`)).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	err := store.Insert(context.Background(), "EmailSubscriptions", tablestore.Entity{
		PartitionKey: "Subscription",
		RowKey:       "a@x.com",
	})
	require.ErrorIs(t, err, tablestore.ErrAlreadyExists)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertUndefinedTable(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec(`INSERT INTO "EmailSubscriptions"`).
		WithArgs("Subscription", "a@x.com", []byte(`{}`)).
		WillReturnError(&pgconn.PgError{Code: "42P01", Message: "relation does not exist"})

	err := store.Insert(context.Background(), "EmailSubscriptions", tablestore.Entity{
		PartitionKey: "Subscription",
		RowKey:       "a@x.com",
	})
	require.ErrorIs(t, err, tablestore.ErrTableNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertReplacesRow(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec(`ON CONFLICT \(partition_key, row_key\) DO UPDATE`).
		WithArgs("StockData", "S&P 500", []byte(`{"LatestValue":"5000","PercentageChange":"+1.2%"}`)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := store.Upsert(context.Background(), "StockMarketData", tablestore.Entity{
		PartitionKey: "StockData",
		RowKey:       "S&P 500",
		Properties:   map[string]string{"LatestValue": "5000", "PercentageChange": "+1.2%"},
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertPropagatesErrors(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec(`INSERT INTO "StockMarketData"`).
		WithArgs("StockData", "Nasdaq-100", []byte(`{}`)).
		WillReturnError(errors.New("connection reset"))

	err := store.Upsert(context.Background(), "StockMarketData", tablestore.Entity{
		PartitionKey: "StockData",
		RowKey:       "Nasdaq-100",
	})
	require.ErrorContains(t, err, "connection reset")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetReturnsProperties(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT properties FROM "StockMarketData"`).
		WithArgs("StockData", "S&P 500").
		WillReturnRows(mock.NewRows([]string{"properties"}).AddRow([]byte(`{"LatestValue":"5000"}`)))

	got, err := store.Get(context.Background(), "StockMarketData", "StockData", "S&P 500")
	require.NoError(t, err)
	require.Equal(t, "5000", got.Property("LatestValue"))
	require.Equal(t, "S&P 500", got.RowKey)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetMissingRow(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT properties FROM "StockMarketData"`).
		WithArgs("StockData", "S&P 500").
		WillReturnRows(mock.NewRows([]string{"properties"}))

	_, err := store.Get(context.Background(), "StockMarketData", "StockData", "S&P 500")
	require.ErrorIs(t, err, tablestore.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestQueryListsPartition(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT row_key, properties FROM "EmailSubscriptions"`).
		WithArgs("Subscription").
		WillReturnRows(mock.NewRows([]string{"row_key", "properties"}).
			AddRow("a@x.com", []byte(`{}`)).
			AddRow("b@x.com", []byte(`{"SubscribedAt":"t"}`)))

	rows, err := store.Query(context.Background(), "EmailSubscriptions", "Subscription")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, "a@x.com", rows[0].RowKey)
	require.Equal(t, "t", rows[1].Property("SubscribedAt"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), Config{})
	require.ErrorContains(t, err, "dsn is required")
	_, err = NewWithPool(nil)
	require.ErrorContains(t, err, "pool is required")
}
