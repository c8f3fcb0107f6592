package gcs

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/require"
)

type bufferWriter struct {
	bytes.Buffer
	closeErr error
	closed   bool
}

func (w *bufferWriter) Close() error {
	w.closed = true
	return w.closeErr
}

func TestPutObjectUploads(t *testing.T) {
	t.Parallel()

	w := &bufferWriter{}
	var gotBucket, gotPath, gotType string
	store, err := NewWithWriter(func(_ context.Context, bucket, path, contentType string) io.WriteCloser {
		gotBucket, gotPath, gotType = bucket, path, contentType
		return w
	}, Config{Bucket: "pricefeed-snapshots"})
	require.NoError(t, err)

	uri, err := store.PutObject(context.Background(), "snapshots/gold/x.html", "text/html", strings.NewReader("<html/>"))
	require.NoError(t, err)
	require.Equal(t, "gs://pricefeed-snapshots/snapshots/gold/x.html", uri)
	require.Equal(t, "pricefeed-snapshots", gotBucket)
	require.Equal(t, "snapshots/gold/x.html", gotPath)
	require.Equal(t, "text/html", gotType)
	require.Equal(t, "<html/>", w.String())
	require.True(t, w.closed)
}

func TestPutObjectErrors(t *testing.T) {
	t.Parallel()

	failing := &bufferWriter{closeErr: errors.New("quota exceeded")}
	store, err := NewWithWriter(func(context.Context, string, string, string) io.WriteCloser {
		return failing
	}, Config{Bucket: "b"})
	require.NoError(t, err)

	ctx := context.Background()
	_, err = store.PutObject(ctx, " ", "", strings.NewReader(""))
	require.ErrorContains(t, err, "path is required")

	_, err = store.PutObject(ctx, "a.html", "", strings.NewReader("x"))
	require.ErrorContains(t, err, "quota exceeded")

	_, err = store.PutObject(ctx, "a.html", "", iotest.ErrReader(errors.New("read failed")))
	require.ErrorContains(t, err, "read failed")
}

func TestConstructorValidation(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	require.Error(t, err)
	_, err = NewWithWriter(nil, Config{Bucket: "b"})
	require.Error(t, err)
	_, err = NewWithWriter(func(context.Context, string, string, string) io.WriteCloser { return &bufferWriter{} }, Config{})
	require.ErrorContains(t, err, "bucket")
}
