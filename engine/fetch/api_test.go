package fetch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vartanbeno/go-reddit/v2/reddit"

	"github.com/WessleyAI/threadwatch/engine/domain"
)

type fakePosts struct {
	pc        *reddit.PostAndComments
	getErr    error
	moreErr   error
	gotID     string
	moreCalls int
	// keepMore leaves the placeholder in place after each expansion.
	keepMore bool
}

func (f *fakePosts) Get(ctx context.Context, id string) (*reddit.PostAndComments, *reddit.Response, error) {
	f.gotID = id
	return f.pc, nil, f.getErr
}

func (f *fakePosts) LoadMoreComments(ctx context.Context, pc *reddit.PostAndComments) (*reddit.Response, error) {
	f.moreCalls++
	if f.moreErr != nil {
		return nil, f.moreErr
	}
	created := &reddit.Timestamp{Time: time.Unix(1700000500, 0)}
	pc.Comments = append(pc.Comments, &reddit.Comment{ID: "late", ParentID: "t3_abc", Author: "dave", Created: created})
	if !f.keepMore {
		pc.More = nil
	}
	return nil, nil
}

func samplePost() *reddit.PostAndComments {
	ts := func(sec int64) *reddit.Timestamp { return &reddit.Timestamp{Time: time.Unix(sec, 0)} }
	return &reddit.PostAndComments{
		Post: &reddit.Post{ID: "abc"},
		Comments: []*reddit.Comment{
			{ID: "c1", ParentID: "t3_abc", Author: "alice", Created: ts(1700000000)},
			{ID: "c2", ParentID: "t3_abc", Author: "bob", Created: ts(1700000100), Replies: reddit.Replies{
				Comments: []*reddit.Comment{{ID: "r1", ParentID: "t1_c2", Author: "carol", Created: ts(1700000200)}},
			}},
			{ID: "c3", ParentID: "t3_abc"},
		},
		More: &reddit.More{ID: "m1", ParentID: "t3_abc", Children: []string{"late"}},
	}
}

func TestAPIFetcher_MaterializesTree(t *testing.T) {
	posts := &fakePosts{pc: samplePost()}
	f := newAPIFetcher(posts, 0, nil)

	snap, err := f.Fetch(context.Background(), threadURL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if posts.gotID != "abc" {
		t.Errorf("expected post id abc, got %q", posts.gotID)
	}
	if posts.moreCalls != 1 {
		t.Errorf("expected one expansion, got %d", posts.moreCalls)
	}
	if snap.Status != domain.SnapshotOK || snap.PostID != "abc" {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if len(snap.Comments) != 4 || snap.Comments[3].ID != "late" {
		t.Fatalf("expected expanded comments, got %d", len(snap.Comments))
	}
	c2 := snap.Comments[1]
	if len(c2.Replies) != 1 || *c2.Replies[0].Author != "carol" || *c2.Replies[0].CreatedUTC != 1700000200 {
		t.Errorf("unexpected replies: %+v", c2.Replies)
	}
	if c3 := snap.Comments[2]; c3.Author != nil || c3.CreatedUTC != nil {
		t.Errorf("missing fields should stay nil: %+v", c3)
	}
}

func TestAPIFetcher_BoundedExpansion(t *testing.T) {
	posts := &fakePosts{pc: samplePost(), keepMore: true}
	f := newAPIFetcher(posts, 4, nil)
	if _, err := f.Fetch(context.Background(), threadURL); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if posts.moreCalls != 4 {
		t.Fatalf("expected 4 expansion rounds, got %d", posts.moreCalls)
	}
}

func TestAPIFetcher_ClientErrorsAreTransient(t *testing.T) {
	f := newAPIFetcher(&fakePosts{getErr: errors.New("503 service unavailable")}, 0, nil)
	if _, err := f.Fetch(context.Background(), threadURL); !errors.Is(err, domain.ErrTransient) {
		t.Fatalf("expected transient error, got %v", err)
	}

	f = newAPIFetcher(&fakePosts{pc: samplePost(), moreErr: errors.New("timeout")}, 0, nil)
	if _, err := f.Fetch(context.Background(), threadURL); !errors.Is(err, domain.ErrTransient) {
		t.Fatalf("expected transient error from expansion, got %v", err)
	}
}

func TestAPIFetcher_NoPostIDIsNoComments(t *testing.T) {
	posts := &fakePosts{pc: samplePost()}
	f := newAPIFetcher(posts, 0, nil)
	snap, err := f.Fetch(context.Background(), "https://example.com/post/abc")
	if err != nil || snap.Status != domain.SnapshotNoComments {
		t.Fatalf("expected no-comments snapshot, got %+v, %v", snap, err)
	}
	if posts.gotID != "" {
		t.Fatal("client should not be called without a post id")
	}
}
