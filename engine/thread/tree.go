// Package thread turns a fetched comment payload into a tree, decides which
// comments saw recent activity, and projects the visible part into rows.
package thread

import (
	"errors"
	"math"
	"strings"
	"time"

	"github.com/WessleyAI/threadwatch/engine/domain"
	"github.com/WessleyAI/threadwatch/pkg/fn"
)

var (
	errMissingID     = errors.New("missing id")
	errMissingParent = errors.New("missing parent_id")
	errBadTimestamp  = errors.New("invalid created_utc")
)

// Fault records a payload node the builder skipped.
type Fault struct {
	ID     string
	Reason string
}

// Tree indexes one thread's comments by ID and by parent.
type Tree struct {
	postRoot string
	nodes    map[string]domain.Comment
	// children is keyed by the parent's full name ("t1_x" or "t3_x").
	children map[string][]string
	order    []string
	faults   []Fault
}

// Build walks comments depth first in source order, descending into each
// node's replies before its next sibling. Every comment is registered
// regardless of author. A node that cannot be decoded is skipped and
// recorded as a fault; its replies are still walked.
func Build(postID string, comments []domain.RawComment) *Tree {
	t := &Tree{
		nodes:    make(map[string]domain.Comment),
		children: make(map[string][]string),
	}
	if postID != "" {
		t.postRoot = domain.FullName(domain.KindPost, postID)
	}
	t.walk(comments)
	return t
}

func (t *Tree) walk(raw []domain.RawComment) {
	for _, rc := range raw {
		if rc.Kind != "" && rc.Kind != domain.KindComment {
			continue
		}
		c, err := decode(rc).Unwrap()
		switch {
		case err != nil:
			t.faults = append(t.faults, Fault{ID: rc.ID, Reason: err.Error()})
		case t.has(c.ID):
			t.faults = append(t.faults, Fault{ID: c.ID, Reason: "duplicate id"})
		default:
			t.nodes[c.ID] = c
			t.children[c.ParentID] = append(t.children[c.ParentID], c.ID)
			t.order = append(t.order, c.ID)
		}
		t.walk(rc.Replies)
	}
}

func (t *Tree) has(id string) bool {
	_, ok := t.nodes[id]
	return ok
}

func decode(rc domain.RawComment) fn.Result[domain.Comment] {
	if strings.TrimSpace(rc.ID) == "" {
		return fn.Err[domain.Comment](errMissingID)
	}
	if strings.TrimSpace(rc.ParentID) == "" {
		return fn.Err[domain.Comment](errMissingParent)
	}
	c := domain.Comment{ID: rc.ID, ParentID: rc.ParentID}
	if rc.Author != nil {
		c.Author = *rc.Author
		c.AuthorKnown = true
	}
	if rc.CreatedUTC != nil {
		secs := *rc.CreatedUTC
		if math.IsNaN(secs) || math.IsInf(secs, 0) || secs < 0 {
			return fn.Err[domain.Comment](errBadTimestamp)
		}
		whole, frac := math.Modf(secs)
		c.Created = time.Unix(int64(whole), int64(frac*1e9)).UTC()
	}
	return fn.Ok(c)
}

// Comment returns the comment registered under id.
func (t *Tree) Comment(id string) (domain.Comment, bool) {
	c, ok := t.nodes[id]
	return c, ok
}

// Children returns the direct replies to the comment id, in source order.
func (t *Tree) Children(id string) []domain.Comment {
	return t.resolve(t.children[domain.FullName(domain.KindComment, id)])
}

// TopLevel returns the comments that reply to the post itself, in source
// order. Without a known post ID any "t3_" parent counts.
func (t *Tree) TopLevel() []domain.Comment {
	var out []domain.Comment
	for _, id := range t.order {
		c := t.nodes[id]
		if t.isRoot(c.ParentID) {
			out = append(out, c)
		}
	}
	return out
}

func (t *Tree) isRoot(parent string) bool {
	if t.postRoot != "" {
		return parent == t.postRoot
	}
	return strings.HasPrefix(parent, domain.KindPost+"_")
}

func (t *Tree) resolve(ids []string) []domain.Comment {
	out := make([]domain.Comment, 0, len(ids))
	for _, id := range ids {
		out = append(out, t.nodes[id])
	}
	return out
}

// Len is the number of registered comments.
func (t *Tree) Len() int { return len(t.nodes) }

// Faults lists the nodes skipped while building.
func (t *Tree) Faults() []Fault { return t.faults }
