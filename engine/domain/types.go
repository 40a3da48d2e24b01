// Package domain defines the thread, comment and row types shared by the
// fetch, tree and batch stages, plus the sentinel errors that classify
// their failures.
package domain

import (
	"strings"
	"time"
)

// Kind prefixes the upstream uses for full names such as "t1_abc".
const (
	KindComment = "t1"
	KindPost    = "t3"
	KindMore    = "more"
)

// Sentinel cell values.
const (
	NoCommentsText = "No comments found"
	ErrorRowPrefix = "Error: "
	DeletedAuthor  = "[deleted]"
)

// DefaultExcludedAuthor is the automated moderation account.
const DefaultExcludedAuthor = "AutoModerator"

// FullName joins a kind prefix and an id, e.g. FullName(KindPost, "abc") = "t3_abc".
func FullName(kind, id string) string { return kind + "_" + id }

// Comment is one node of a thread. Author and Created are optional: a
// payload may omit either, and that absence is kept as state rather than
// guessed at.
type Comment struct {
	ID string
	// ParentID is the full name of the comment or post replied to.
	ParentID    string
	Author      string
	AuthorKnown bool
	// Created is zero when the payload carried no timestamp.
	Created time.Time
}

// FullName returns the comment's "t1_" name, which replies use as ParentID.
func (c Comment) FullName() string { return FullName(KindComment, c.ID) }

// HasAuthor reports whether the payload named an author.
func (c Comment) HasAuthor() bool { return c.AuthorKnown }

// HasCreated reports whether the payload carried a creation time.
func (c Comment) HasCreated() bool { return !c.Created.IsZero() }

// DisplayAuthor is the author name, or "[deleted]" when missing.
func (c Comment) DisplayAuthor() string {
	if !c.AuthorKnown || c.Author == "" {
		return DeletedAuthor
	}
	return c.Author
}

// AuthoredBy compares the author case-insensitively. A missing author
// never matches.
func (c Comment) AuthoredBy(name string) bool {
	return c.AuthorKnown && name != "" && strings.EqualFold(c.Author, name)
}

// RawComment is the backend-neutral payload node produced by a fetcher:
// fields are pointers where the upstream may leave them out.
type RawComment struct {
	Kind       string
	ID         string
	ParentID   string
	Author     *string
	CreatedUTC *float64
	Replies    []RawComment
}

// SnapshotStatus marks what a fetch found.
type SnapshotStatus int

const (
	SnapshotNoComments SnapshotStatus = iota
	SnapshotOK
)

func (s SnapshotStatus) String() string {
	switch s {
	case SnapshotOK:
		return "ok"
	case SnapshotNoComments:
		return "no_comments"
	default:
		return "unknown"
	}
}

// Snapshot is the payload for one URL at fetch time. A fetch that failed
// for good is reported as a *FetchError instead.
type Snapshot struct {
	URL      string
	PostID   string
	Status   SnapshotStatus
	Comments []RawComment
}

// NoComments returns the "no comments" marker snapshot for url.
func NoComments(url string) Snapshot {
	return Snapshot{URL: url, Status: SnapshotNoComments}
}

// Row is one line of the output table. Children always has exactly the
// configured reply count; nil entries are empty cells.
type Row struct {
	Parent   string    `json:"parent"`
	Children []*string `json:"children"`
	URL      string    `json:"url,omitempty"`
}

// Child returns the i-th child cell or "" when it is empty.
func (r Row) Child(i int) string {
	if i < 0 || i >= len(r.Children) || r.Children[i] == nil {
		return ""
	}
	return *r.Children[i]
}

// Progress is one notification emitted while a batch runs.
type Progress struct {
	Percent   int    `json:"percent"`
	Message   string `json:"message"`
	Done      bool   `json:"done"`
	Error     string `json:"error,omitempty"`
	Completed int    `json:"completed"`
	Total     int    `json:"total"`
}

// Policy holds the selection and recency settings for row projection.
type Policy struct {
	ExcludedAuthor string
	// RecencyDays may be fractional, e.g. 2.2.
	RecencyDays float64
	MaxRoots    int
	MaxReplies  int
}

// DefaultPolicy mirrors the historical scraper settings.
var DefaultPolicy = Policy{
	ExcludedAuthor: DefaultExcludedAuthor,
	RecencyDays:    2,
	MaxRoots:       3,
	MaxReplies:     3,
}
