package pubsub

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/propagation"
)

func TestNewMessage(t *testing.T) {
	t.Parallel()

	msg, err := newMessage(context.Background(), "prices.gold", map[string]any{"price": 2345.6})
	require.NoError(t, err)
	require.Equal(t, "prices.gold", msg.Attributes[SubjectAttribute])

	var decoded map[string]float64
	require.NoError(t, json.Unmarshal(msg.Data, &decoded))
	require.InDelta(t, 2345.6, decoded["price"], 1e-9)
}

func TestNewMessageRejectsUnmarshalable(t *testing.T) {
	t.Parallel()

	_, err := newMessage(context.Background(), "prices.gold", make(chan int))
	require.ErrorContains(t, err, "marshal payload")
}

func TestPublishWithoutPublisher(t *testing.T) {
	t.Parallel()

	_, err := New(nil).Publish(context.Background(), "prices.gold", nil)
	require.Error(t, err)
	New(nil).Stop()
}

func TestCarrierImplementsTextMapCarrier(t *testing.T) {
	t.Parallel()

	var c propagation.TextMapCarrier = &carrier{attrs: map[string]string{}}
	c.Set("traceparent", "00-abc-def-01")
	require.Equal(t, "00-abc-def-01", c.Get("traceparent"))
	require.Equal(t, []string{"traceparent"}, c.Keys())
}
