package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/WessleyAI/threadwatch/engine/domain"
)

const maxBody = 32 << 20

// JSONFetcher reads a thread's public JSON listing directly.
type JSONFetcher struct {
	client    *http.Client
	userAgent string
	log       *slog.Logger
}

// NewJSONFetcher creates a direct-transport fetcher.
func NewJSONFetcher(client *http.Client, userAgent string, log *slog.Logger) *JSONFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	if log == nil {
		log = slog.Default()
	}
	return &JSONFetcher{client: client, userAgent: userAgent, log: log}
}

// Fetch issues one GET for url's listing. The upstream returns
// [postListing, commentListing].
func (f *JSONFetcher) Fetch(ctx context.Context, url string) (domain.Snapshot, error) {
	norm, err := NormalizeURL(url)
	if err != nil {
		f.log.Warn("skipping url", "url", url, "err", err)
		return domain.NoComments(url), nil
	}

	body, err := f.httpGet(ctx, JSONEndpoint(norm))
	if err != nil {
		return domain.Snapshot{}, err
	}

	var listings []listingResponse
	if err := json.Unmarshal(body, &listings); err != nil {
		f.log.Warn("undecodable listing", "url", url, "err", fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err))
		return domain.NoComments(url), nil
	}
	if len(listings) < 2 {
		f.log.Warn("listing without comments", "url", url, "listings", len(listings))
		return domain.NoComments(url), nil
	}

	postID := PostID(norm)
	if posts := listings[0].Data.Children; len(posts) > 0 && posts[0].Data.ID != "" {
		postID = posts[0].Data.ID
	}
	return domain.Snapshot{
		URL:      url,
		PostID:   postID,
		Status:   domain.SnapshotOK,
		Comments: f.toRaw(url, listings[1].Data.Children),
	}, nil
}

func (f *JSONFetcher) httpGet(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidURL, err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, domain.Transient(fmt.Errorf("get %s: %w", url, err))
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return nil, domain.Transient(fmt.Errorf("http %d from %s", resp.StatusCode, url))
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, domain.Transient(fmt.Errorf("read %s: %w", url, err))
	}
	return body, nil
}

func (f *JSONFetcher) toRaw(url string, children []listingChild) []domain.RawComment {
	out := make([]domain.RawComment, 0, len(children))
	for _, child := range children {
		d := child.Data
		rc := domain.RawComment{
			Kind:       child.Kind,
			ID:         d.ID,
			ParentID:   d.ParentID,
			Author:     d.Author,
			CreatedUTC: d.CreatedUTC,
		}
		if replies, ok := d.Replies.listing(); ok {
			rc.Replies = f.toRaw(url, replies.Data.Children)
		} else {
			f.log.Warn("undecodable replies", "url", url, "comment", d.ID)
		}
		out = append(out, rc)
	}
	return out
}

// Listing JSON types. Author and created_utc stay pointers so a missing
// field is distinguishable from an empty one.

type listingResponse struct {
	Data struct {
		Children []listingChild `json:"children"`
	} `json:"data"`
}

type listingChild struct {
	Kind string      `json:"kind"`
	Data listingData `json:"data"`
}

type listingData struct {
	ID         string   `json:"id"`
	Author     *string  `json:"author"`
	CreatedUTC *float64 `json:"created_utc"`
	ParentID   string   `json:"parent_id"`
	Replies    replies  `json:"replies"`
}

// replies is either "" or a nested listing.
type replies json.RawMessage

func (r *replies) UnmarshalJSON(b []byte) error {
	*r = append((*r)[:0], b...)
	return nil
}

// listing decodes the nested listing. An empty string, null or absent
// field means no replies; ok is false only for an unusable value.
func (r replies) listing() (listingResponse, bool) {
	var l listingResponse
	b := bytes.TrimSpace(r)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) || bytes.Equal(b, []byte(`""`)) {
		return l, true
	}
	if err := json.Unmarshal(b, &l); err != nil {
		return l, false
	}
	return l, true
}
