package natsutil

import (
	"context"
	"errors"
	"testing"

	"github.com/nats-io/nats.go"
)

type testMsg struct {
	Name  string `json:"name"`
	Value int    `json:"value"`
}

type captureConn struct {
	msgs []*nats.Msg
	err  error
}

func (c *captureConn) PublishMsg(msg *nats.Msg) error {
	c.msgs = append(c.msgs, msg)
	return c.err
}

func TestNatsHeaderCarrier(t *testing.T) {
	msg := &nats.Msg{}
	carrier := (*natsHeaderCarrier)(msg)

	carrier.Set("traceparent", "00-abc-def-01")
	if got := carrier.Get("traceparent"); got != "00-abc-def-01" {
		t.Fatalf("expected traceparent, got %q", got)
	}

	keys := carrier.Keys()
	if len(keys) != 1 {
		t.Fatalf("unexpected keys: %v", keys)
	}
}

func TestNatsHeaderCarrierNilHeader(t *testing.T) {
	msg := &nats.Msg{}
	carrier := (*natsHeaderCarrier)(msg)

	if got := carrier.Get("missing"); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
	if keys := carrier.Keys(); keys != nil {
		t.Fatalf("expected nil keys, got %v", keys)
	}
}

func TestPublishRoundTrip(t *testing.T) {
	conn := &captureConn{}
	if err := Publish(context.Background(), conn, "threadwatch.test", testMsg{Name: "test", Value: 42}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if len(conn.msgs) != 1 || conn.msgs[0].Subject != "threadwatch.test" {
		t.Fatalf("unexpected messages: %+v", conn.msgs)
	}

	_, got, err := Decode[testMsg](conn.msgs[0])
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Name != "test" || got.Value != 42 {
		t.Fatalf("unexpected: %+v", got)
	}
}

func TestPublishPropagatesConnError(t *testing.T) {
	conn := &captureConn{err: nats.ErrConnectionClosed}
	err := Publish(context.Background(), conn, "threadwatch.test", testMsg{})
	if !errors.Is(err, nats.ErrConnectionClosed) {
		t.Fatalf("expected connection closed error, got %v", err)
	}
}

func TestDecodeRejectsMalformed(t *testing.T) {
	_, _, err := Decode[testMsg](&nats.Msg{Subject: "x", Data: []byte("{invalid json")})
	if err == nil {
		t.Fatal("malformed payload should fail to decode")
	}
}
