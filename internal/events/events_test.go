package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

type fakeConn struct {
	msgs []*nats.Msg
	err  error
}

func (f *fakeConn) PublishMsg(m *nats.Msg) error {
	f.msgs = append(f.msgs, m)
	return f.err
}

func TestNATSPublisher_Publish(t *testing.T) {
	conn := &fakeConn{}
	p := NewNATSPublisher(conn, "")
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	err := p.Publish(context.Background(), TurnEvent{
		ThreadID: "web-1a2b3c4d", Route: "retrieve", NumMessages: 2, Sources: []string{"gverse.txt"}, At: at,
	})
	require.NoError(t, err)
	require.Len(t, conn.msgs, 1)
	assert.Equal(t, DefaultSubject, conn.msgs[0].Subject)

	var got TurnEvent
	require.NoError(t, json.Unmarshal(conn.msgs[0].Data, &got))
	assert.Equal(t, "web-1a2b3c4d", got.ThreadID)
	assert.Equal(t, []string{"gverse.txt"}, got.Sources)
	assert.True(t, at.Equal(got.At))
}

func TestNATSPublisher_PropagatesTraceContext(t *testing.T) {
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { otel.SetTextMapPropagator(prev) })

	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{1, 2, 3},
		SpanID:     trace.SpanID{4, 5, 6},
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	conn := &fakeConn{}
	require.NoError(t, NewNATSPublisher(conn, "custom").Publish(ctx, TurnEvent{ThreadID: "t"}))
	assert.Equal(t, "custom", conn.msgs[0].Subject)
	assert.Contains(t, conn.msgs[0].Header.Get("traceparent"), sc.TraceID().String())
}

func TestNATSPublisher_PublishError(t *testing.T) {
	p := NewNATSPublisher(&fakeConn{err: errors.New("disconnected")}, "s")
	assert.Error(t, p.Publish(context.Background(), TurnEvent{}))
	assert.NoError(t, p.Close())
}

func TestHeaderCarrier(t *testing.T) {
	msg := &nats.Msg{}
	c := (*headerCarrier)(msg)
	assert.Equal(t, "", c.Get("missing"))
	assert.Nil(t, c.Keys())
	c.Set("traceparent", "00-abc-def-01")
	assert.Equal(t, "00-abc-def-01", c.Get("traceparent"))
	assert.Len(t, c.Keys(), 1)
}

func TestNop(t *testing.T) {
	var p Publisher = Nop{}
	assert.NoError(t, p.Publish(context.Background(), TurnEvent{}))
	assert.NoError(t, p.Close())
}
