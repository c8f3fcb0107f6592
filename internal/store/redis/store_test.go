package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/pricefeed/internal/ingest"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	s, err := New(Config{URL: "redis://" + mr.Addr() + "/0", DialTimeout: time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

func TestSetGetRoundTrip(t *testing.T) {
	t.Parallel()

	s, mr := newTestStore(t)
	ctx := context.Background()
	payload := []byte(`{"price":2345.6,"source":"Kitco","unit":"troy_ounce","updated_at":"2026-03-14T02:30:00Z"}`)

	require.NoError(t, s.Ping(ctx))
	require.NoError(t, s.Set(ctx, "price:gold", payload))

	got, err := s.Get(ctx, "price:gold")
	require.NoError(t, err)
	require.Equal(t, payload, got)

	raw, err := mr.Get("price:gold")
	require.NoError(t, err)
	require.Equal(t, string(payload), raw)
	require.Zero(t, mr.TTL("price:gold"))
}

func TestSetOverwrites(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "price:silver", []byte(`1`)))
	require.NoError(t, s.Set(ctx, "price:silver", []byte(`2`)))

	got, err := s.Get(ctx, "price:silver")
	require.NoError(t, err)
	require.Equal(t, []byte(`2`), got)
}

func TestGetMissingKey(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t)
	_, err := s.Get(context.Background(), "price:unobtainium")
	require.ErrorIs(t, err, ingest.ErrNotFound)
}

func TestUnavailableServer(t *testing.T) {
	t.Parallel()

	s, mr := newTestStore(t)
	mr.Close()

	ctx := context.Background()
	require.Error(t, s.Ping(ctx))
	require.Error(t, s.Set(ctx, "price:gold", []byte(`1`)))
	_, err := s.Get(ctx, "price:gold")
	require.Error(t, err)
	require.NotErrorIs(t, err, ingest.ErrNotFound)
}

func TestNewValidatesURL(t *testing.T) {
	t.Parallel()

	_, err := New(Config{})
	require.Error(t, err)
	_, err = New(Config{URL: "http://not-redis"})
	require.ErrorContains(t, err, "parse redis url")
}
