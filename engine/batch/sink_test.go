package batch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/nats-io/nats.go"

	"github.com/WessleyAI/threadwatch/engine/domain"
)

type captureConn struct {
	msgs []*nats.Msg
	err  error
}

func (c *captureConn) PublishMsg(msg *nats.Msg) error {
	if c.err != nil {
		return c.err
	}
	c.msgs = append(c.msgs, msg)
	return nil
}

func TestNATSSink_PublishesProgress(t *testing.T) {
	conn := &captureConn{}
	sink := NATSSink{Conn: conn, JobID: "job-1"}
	if err := sink.Report(context.Background(), domain.Progress{Percent: 50, Message: "Processed 1 / 2 URLs", Completed: 1, Total: 2}); err != nil {
		t.Fatalf("Report: %v", err)
	}
	if len(conn.msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(conn.msgs))
	}
	msg := conn.msgs[0]
	if msg.Subject != DefaultProgressSubject {
		t.Errorf("unexpected subject %q", msg.Subject)
	}
	var ev ProgressEvent
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.JobID != "job-1" || ev.Percent != 50 || ev.Message != "Processed 1 / 2 URLs" || ev.Done {
		t.Errorf("unexpected event %+v", ev)
	}
}

func TestNATSSink_PropagatesPublishError(t *testing.T) {
	sink := NATSSink{Conn: &captureConn{err: nats.ErrConnectionClosed}, Subject: "custom"}
	if err := sink.Report(context.Background(), domain.Progress{}); !errors.Is(err, nats.ErrConnectionClosed) {
		t.Fatalf("expected connection error, got %v", err)
	}
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	sink := LogSink{Log: slog.New(slog.NewJSONHandler(&buf, nil))}
	sink.Report(context.Background(), domain.Progress{Percent: 100, Message: "Completed: 2 URLs, 3 rows", Done: true})
	sink.Report(context.Background(), domain.Progress{Done: true, Message: "Cancelled", Error: "batch cancelled"})
	out := buf.String()
	if !strings.Contains(out, `"msg":"Completed: 2 URLs, 3 rows"`) || !strings.Contains(out, `"percent":100`) {
		t.Errorf("missing completion line:\n%s", out)
	}
	if !strings.Contains(out, `"level":"WARN"`) || !strings.Contains(out, `"error":"batch cancelled"`) {
		t.Errorf("missing warning line:\n%s", out)
	}
}

func TestMultiSink(t *testing.T) {
	var got []string
	ok := SinkFunc(func(_ context.Context, p domain.Progress) error {
		got = append(got, p.Message)
		return nil
	})
	failing := SinkFunc(func(context.Context, domain.Progress) error { return errors.New("down") })
	err := MultiSink{ok, nil, failing, ok}.Report(context.Background(), domain.Progress{Message: "m"})
	if err == nil || err.Error() != "down" {
		t.Fatalf("expected joined error, got %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("every sink should be called, got %d", len(got))
	}
}

func TestAccumulator(t *testing.T) {
	acc := NewAccumulator(3)
	var mu sync.Mutex
	seen := map[int]bool{}
	var wg sync.WaitGroup
	for _, i := range []int{2, 0, 1} {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			done := acc.Put(i, []domain.Row{{Parent: string(rune('a' + i))}})
			mu.Lock()
			seen[done] = true
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	if acc.Put(1, []domain.Row{{Parent: "dup"}}) != 0 || acc.Put(7, []domain.Row{{Parent: "out of range"}}) != 0 {
		t.Fatal("ignored puts should return 0")
	}

	rows := acc.Rows()
	if len(rows) != 3 || rows[0].Parent != "a" || rows[1].Parent != "b" || rows[2].Parent != "c" {
		t.Fatalf("unexpected rows %+v", rows)
	}
	if acc.Done() != 3 {
		t.Fatalf("expected 3 done, got %d", acc.Done())
	}
	if len(seen) != 3 || !seen[1] || !seen[2] || !seen[3] {
		t.Fatalf("each count should be returned once: %v", seen)
	}
}

func TestProgressQueue_ReportsInOrder(t *testing.T) {
	var got []int
	q := newProgressQueue(4, func(done int) { got = append(got, done) })
	for _, c := range []int{2, 0, 1, 4, 3} {
		q.push(c)
	}
	q.close()
	if len(got) != 4 || got[0] != 1 || got[1] != 2 || got[2] != 3 || got[3] != 4 {
		t.Fatalf("expected 1..4 in order, got %v", got)
	}
}
