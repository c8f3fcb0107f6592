package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/pricefeed/internal/ingest"
)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	s, err := NewWithPool(mock, "")
	require.NoError(t, err)
	return s, mock
}

func TestSetUpsertsRow(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	payload := []byte(`{"price":2345.6}`)

	mock.ExpectExec("INSERT INTO latest_prices").
		WithArgs("price:gold", payload).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.Set(context.Background(), "price:gold", payload))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSetPropagatesErrors(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO latest_prices").
		WithArgs("price:gold", pgxmock.AnyArg()).
		WillReturnError(errors.New("connection refused"))

	err := s.Set(context.Background(), "price:gold", []byte(`{}`))
	require.ErrorContains(t, err, "upsert price:gold")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGet(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	mock.ExpectQuery("SELECT payload FROM latest_prices").
		WithArgs("price:gold").
		WillReturnRows(mock.NewRows([]string{"payload"}).AddRow([]byte(`{"price":2345.6}`)))
	mock.ExpectQuery("SELECT payload FROM latest_prices").
		WithArgs("price:silver").
		WillReturnError(pgx.ErrNoRows)

	ctx := context.Background()
	got, err := s.Get(ctx, "price:gold")
	require.NoError(t, err)
	require.JSONEq(t, `{"price":2345.6}`, string(got))

	_, err = s.Get(ctx, "price:silver")
	require.ErrorIs(t, err, ingest.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureSchemaAndPing(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS latest_prices").
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectPing()

	require.NoError(t, s.EnsureSchema(context.Background()))
	require.NoError(t, s.Ping(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewWithPoolValidation(t *testing.T) {
	t.Parallel()

	_, err := NewWithPool(nil, "")
	require.Error(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewWithPool(mock, "prices; DROP TABLE x")
	require.ErrorContains(t, err, "invalid table name")

	s, err := NewWithPool(mock, "custom_prices")
	require.NoError(t, err)
	require.Equal(t, "custom_prices", s.table)
}

func TestNewRequiresDSN(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), Config{})
	require.ErrorContains(t, err, "dsn is required")
}
