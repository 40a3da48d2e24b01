package natsutil

import (
	"context"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func startTestNATS(t *testing.T) *nats.Conn {
	t.Helper()
	srv, err := natsserver.NewServer(&natsserver.Options{Port: -1})
	if err != nil {
		t.Fatal(err)
	}
	srv.Start()
	if !srv.ReadyForConnections(3 * time.Second) {
		t.Fatal("nats not ready")
	}
	nc, err := nats.Connect(srv.ClientURL())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		nc.Close()
		srv.Shutdown()
	})
	return nc
}

type rowEvent struct {
	URL    string `json:"url"`
	Parent string `json:"parent"`
}

func TestSubscribe_EmbeddedServer(t *testing.T) {
	nc := startTestNATS(t)

	ch := make(chan rowEvent, 1)
	sub, err := Subscribe(nc, "threadwatch.rows", func(_ context.Context, ev rowEvent) {
		ch <- ev
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	// Malformed payloads are dropped without reaching the handler.
	if err := nc.Publish("threadwatch.rows", []byte("{not json")); err != nil {
		t.Fatal(err)
	}
	want := rowEvent{URL: "https://example.com/post/abc/", Parent: "bob(YES)"}
	if err := Publish(context.Background(), nc, "threadwatch.rows", want); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case got := <-ch:
		if got != want {
			t.Fatalf("expected %+v, got %+v", want, got)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestPublish_CarriesTraceContext(t *testing.T) {
	nc := startTestNATS(t)
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { otel.SetTextMapPropagator(prev) })

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	}))

	ch := make(chan trace.SpanContext, 1)
	sub, err := Subscribe(nc, "threadwatch.trace", func(ctx context.Context, _ rowEvent) {
		ch <- trace.SpanContextFromContext(ctx)
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	if err := Publish(ctx, nc, "threadwatch.trace", rowEvent{}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	select {
	case sc := <-ch:
		if sc.TraceID() != traceID {
			t.Fatalf("expected trace %s, got %s", traceID, sc.TraceID())
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for message")
	}
}
