package memory

import (
	"context"
	"errors"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/require"
)

func TestBlobStorePutObject(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	ctx := context.Background()
	uri, err := store.PutObject(ctx, "snapshots/gold/b.html", "text/html", strings.NewReader("<p>b</p>"))
	require.NoError(t, err)
	require.Equal(t, "memory://snapshots/gold/b.html", uri)
	_, err = store.PutObject(ctx, "snapshots/gold/a.html", "text/html", strings.NewReader("<p>a</p>"))
	require.NoError(t, err)

	body, contentType, ok := store.Object("snapshots/gold/b.html")
	require.True(t, ok)
	require.Equal(t, "<p>b</p>", string(body))
	require.Equal(t, "text/html", contentType)

	body[0] = 'X'
	again, _, _ := store.Object("snapshots/gold/b.html")
	require.Equal(t, "<p>b</p>", string(again))

	require.Equal(t, []string{"snapshots/gold/a.html", "snapshots/gold/b.html"}, store.Paths())

	_, _, ok = store.Object("missing")
	require.False(t, ok)
}

func TestBlobStoreReadError(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	_, err := store.PutObject(context.Background(), "x", "", iotest.ErrReader(errors.New("boom")))
	require.ErrorContains(t, err, "boom")
	require.Empty(t, store.Paths())
}
