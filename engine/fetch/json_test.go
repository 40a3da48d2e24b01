package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/WessleyAI/threadwatch/engine/domain"
)

// redirectTransport intercepts HTTP requests and redirects them to a test server.
type redirectTransport struct {
	server *httptest.Server
}

func (t *redirectTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.URL.Scheme = "http"
	req.URL.Host = strings.TrimPrefix(t.server.URL, "http://")
	return http.DefaultTransport.RoundTrip(req)
}

func newTestClient(srv *httptest.Server) *http.Client {
	return &http.Client{Transport: &redirectTransport{server: srv}, Timeout: 5 * time.Second}
}

const threadURL = "https://www.reddit.com/r/cars/comments/abc/brake_squeal"

const threadJSON = `[
  {"kind":"Listing","data":{"children":[{"kind":"t3","data":{"id":"abc","title":"Brake squeal"}}]}},
  {"kind":"Listing","data":{"children":[
    {"kind":"t1","data":{"id":"c1","author":"alice","created_utc":1700000000.0,"parent_id":"t3_abc","replies":""}},
    {"kind":"t1","data":{"id":"c2","author":"bob","created_utc":1700000100.5,"parent_id":"t3_abc","replies":
      {"kind":"Listing","data":{"children":[
        {"kind":"t1","data":{"id":"r1","author":"carol","created_utc":1700000200,"parent_id":"t1_c2","replies":""}},
        {"kind":"more","data":{"id":"m1","parent_id":"t1_c2","children":["r2","r3"]}}
      ]}}}},
    {"kind":"t1","data":{"id":"c3","created_utc":1700000300,"parent_id":"t3_abc"}}
  ]}}
]`

func TestJSONFetcher_DecodesNestedListing(t *testing.T) {
	var gotPath, gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath, gotUA = r.URL.Path, r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(threadJSON))
	}))
	defer srv.Close()

	f := NewJSONFetcher(newTestClient(srv), "threadwatch-test/1.0", nil)
	snap, err := f.Fetch(context.Background(), threadURL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotPath != "/r/cars/comments/abc/brake_squeal/.json" {
		t.Errorf("unexpected path %q", gotPath)
	}
	if gotUA != "threadwatch-test/1.0" {
		t.Errorf("unexpected user agent %q", gotUA)
	}
	if snap.Status != domain.SnapshotOK || snap.PostID != "abc" || snap.URL != threadURL {
		t.Fatalf("unexpected snapshot header: %+v", snap)
	}
	if len(snap.Comments) != 3 {
		t.Fatalf("expected 3 top-level nodes, got %d", len(snap.Comments))
	}
	c2 := snap.Comments[1]
	if *c2.Author != "bob" || *c2.CreatedUTC != 1700000100.5 {
		t.Errorf("unexpected c2: %+v", c2)
	}
	if len(c2.Replies) != 2 || c2.Replies[0].ID != "r1" || c2.Replies[1].Kind != domain.KindMore {
		t.Errorf("unexpected c2 replies: %+v", c2.Replies)
	}
	if c3 := snap.Comments[2]; c3.Author != nil {
		t.Errorf("missing author should stay nil, got %q", *c3.Author)
	}
}

func TestJSONFetcher_NonSuccessIsTransient(t *testing.T) {
	for _, code := range []int{http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusForbidden, http.StatusNotFound} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(code)
		}))
		f := NewJSONFetcher(newTestClient(srv), DefaultUserAgent, nil)
		_, err := f.Fetch(context.Background(), threadURL)
		srv.Close()
		if !errors.Is(err, domain.ErrTransient) {
			t.Errorf("status %d: expected transient error, got %v", code, err)
		}
	}
}

func TestJSONFetcher_MalformedPayloadIsNoComments(t *testing.T) {
	for name, body := range map[string]string{
		"not json":    "<html>blocked</html>",
		"one listing": `[{"kind":"Listing","data":{"children":[]}}]`,
		"wrong shape": `{"kind":"Listing"}`,
		"empty array": `[]`,
	} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(body))
		}))
		f := NewJSONFetcher(newTestClient(srv), DefaultUserAgent, nil)
		snap, err := f.Fetch(context.Background(), threadURL)
		srv.Close()
		if err != nil {
			t.Errorf("%s: unexpected error %v", name, err)
			continue
		}
		if snap.Status != domain.SnapshotNoComments {
			t.Errorf("%s: expected no-comments snapshot, got %v", name, snap.Status)
		}
	}
}

func TestJSONFetcher_InvalidURLIsNoComments(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	f := NewJSONFetcher(newTestClient(srv), DefaultUserAgent, nil)
	snap, err := f.Fetch(context.Background(), "not a url")
	if err != nil || snap.Status != domain.SnapshotNoComments {
		t.Fatalf("expected no-comments snapshot, got %+v, %v", snap, err)
	}
	if hits.Load() != 0 {
		t.Fatal("invalid url should not reach the network")
	}
}

func TestNew_RetriesThroughJSONBackend(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(threadJSON))
	}))
	defer srv.Close()

	f, err := New(Config{
		Backend: BackendJSON,
		Client:  newTestClient(srv),
		Retry:   RetryPolicy{MaxAttempts: 3, Delay: time.Millisecond, Timeout: time.Second},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	snap, err := f.Fetch(context.Background(), threadURL)
	if err != nil {
		t.Fatalf("expected success on third attempt, got %v", err)
	}
	if len(snap.Comments) != 3 || hits.Load() != 3 {
		t.Fatalf("unexpected result: %d comments after %d hits", len(snap.Comments), hits.Load())
	}
}

func TestNew_UnknownBackend(t *testing.T) {
	if _, err := New(Config{Backend: "carrier-pigeon"}); !errors.Is(err, domain.ErrInvalidOption) {
		t.Fatalf("expected ErrInvalidOption, got %v", err)
	}
}
