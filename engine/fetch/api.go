package fetch

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/vartanbeno/go-reddit/v2/reddit"

	"github.com/WessleyAI/threadwatch/engine/domain"
)

// DefaultMoreRounds bounds "load more" expansion when unset.
const DefaultMoreRounds = 32

// postSource is the part of the API client the fetcher needs.
type postSource interface {
	Get(ctx context.Context, id string) (*reddit.PostAndComments, *reddit.Response, error)
	LoadMoreComments(ctx context.Context, pc *reddit.PostAndComments) (*reddit.Response, error)
}

// APIFetcher resolves a post through the API client and materializes its
// whole comment tree, expanding truncated "more" placeholders.
type APIFetcher struct {
	posts      postSource
	moreRounds int
	log        *slog.Logger
}

// NewAPIFetcher builds the client from cfg. Without credentials the
// read-only client is used.
func NewAPIFetcher(cfg Config) (*APIFetcher, error) {
	opts := []reddit.Opt{reddit.WithUserAgent(cfg.UserAgent)}
	if cfg.Client != nil {
		opts = append(opts, reddit.WithHTTPClient(cfg.Client))
	}

	var (
		client *reddit.Client
		err    error
	)
	if c := cfg.Credentials; c.ClientID != "" {
		client, err = reddit.NewClient(reddit.Credentials{
			ID:       c.ClientID,
			Secret:   c.ClientSecret,
			Username: c.Username,
			Password: c.Password,
		}, opts...)
	} else {
		client, err = reddit.NewReadonlyClient(opts...)
	}
	if err != nil {
		return nil, err
	}
	return newAPIFetcher(client.Post, cfg.MoreRounds, cfg.Log), nil
}

func newAPIFetcher(posts postSource, rounds int, log *slog.Logger) *APIFetcher {
	if rounds <= 0 {
		rounds = DefaultMoreRounds
	}
	if log == nil {
		log = slog.Default()
	}
	return &APIFetcher{posts: posts, moreRounds: rounds, log: log}
}

// Fetch loads the post named by url. A URL with no post ID cannot be
// requested and yields a no-comments snapshot.
func (f *APIFetcher) Fetch(ctx context.Context, url string) (domain.Snapshot, error) {
	norm, err := NormalizeURL(url)
	if err != nil {
		f.log.Warn("skipping url", "url", url, "err", err)
		return domain.NoComments(url), nil
	}
	id := PostID(norm)
	if id == "" {
		f.log.Warn("no post id in url", "url", url)
		return domain.NoComments(url), nil
	}

	pc, _, err := f.posts.Get(ctx, id)
	if err != nil {
		return domain.Snapshot{}, domain.Transient(fmt.Errorf("get post %s: %w", id, err))
	}
	if pc == nil {
		return domain.NoComments(url), nil
	}
	for round := 0; pc.HasMore(); round++ {
		if round == f.moreRounds {
			f.log.Warn("comment expansion truncated", "url", url, "rounds", round)
			break
		}
		if _, err := f.posts.LoadMoreComments(ctx, pc); err != nil {
			return domain.Snapshot{}, domain.Transient(fmt.Errorf("load more for %s: %w", id, err))
		}
	}

	postID := id
	if pc.Post != nil && pc.Post.ID != "" {
		postID = pc.Post.ID
	}
	return domain.Snapshot{
		URL:      url,
		PostID:   postID,
		Status:   domain.SnapshotOK,
		Comments: fromAPI(pc.Comments),
	}, nil
}

func fromAPI(comments []*reddit.Comment) []domain.RawComment {
	out := make([]domain.RawComment, 0, len(comments))
	for _, c := range comments {
		if c == nil {
			continue
		}
		rc := domain.RawComment{
			Kind:     domain.KindComment,
			ID:       c.ID,
			ParentID: c.ParentID,
			Replies:  fromAPI(c.Replies.Comments),
		}
		if c.Author != "" {
			author := c.Author
			rc.Author = &author
		}
		if c.Created != nil && !c.Created.IsZero() {
			secs := float64(c.Created.UnixNano()) / 1e9
			rc.CreatedUTC = &secs
		}
		out = append(out, rc)
	}
	return out
}
