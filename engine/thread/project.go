package thread

import (
	"errors"
	"time"

	"github.com/WessleyAI/threadwatch/engine/domain"
	"github.com/WessleyAI/threadwatch/pkg/fn"
)

// Projector selects the visible comments of a thread and formats them
// into rows.
type Projector struct {
	MaxRoots   int
	MaxReplies int
	Evaluator  Evaluator
}

// NewProjector builds a Projector from a policy and a batch threshold.
func NewProjector(p domain.Policy, threshold time.Time) Projector {
	return Projector{
		MaxRoots:   p.MaxRoots,
		MaxReplies: p.MaxReplies,
		Evaluator:  Evaluator{Excluded: p.ExcludedAuthor, Threshold: threshold},
	}
}

// Project emits one row per selected top-level comment, or a single
// "No comments found" row when nothing qualifies.
func (p Projector) Project(snap domain.Snapshot, t *Tree) []domain.Row {
	if snap.Status == domain.SnapshotNoComments || t == nil {
		return []domain.Row{p.sentinel(snap.URL, domain.NoCommentsText)}
	}

	roots := fn.Take(p.visible(t.TopLevel()), p.MaxRoots)
	if len(roots) == 0 {
		return []domain.Row{p.sentinel(snap.URL, domain.NoCommentsText)}
	}

	rows := make([]domain.Row, 0, len(roots))
	for _, root := range roots {
		replies := fn.Take(p.visible(t.Children(root.ID)), p.MaxReplies)
		cells := fn.Map(replies, func(c domain.Comment) *string {
			s := p.cell(t, c)
			return &s
		})
		rows = append(rows, domain.Row{
			Parent:   p.cell(t, root),
			Children: fn.Pad(cells, p.MaxReplies),
			URL:      snap.URL,
		})
	}
	return rows
}

// ErrorRow is the single row for a URL whose fetch failed for good.
func (p Projector) ErrorRow(url string, err error) domain.Row {
	msg := "unknown error"
	var fe *domain.FetchError
	switch {
	case errors.As(err, &fe):
		msg = fe.Message()
	case err != nil:
		msg = err.Error()
	}
	return p.sentinel(url, domain.ErrorRowPrefix+msg)
}

func (p Projector) sentinel(url, text string) domain.Row {
	return domain.Row{Parent: text, Children: make([]*string, p.MaxReplies), URL: url}
}

func (p Projector) visible(cs []domain.Comment) []domain.Comment {
	return fn.Filter(cs, func(c domain.Comment) bool {
		return !c.AuthoredBy(p.Evaluator.Excluded)
	})
}

func (p Projector) cell(t *Tree, c domain.Comment) string {
	status := "NO"
	if p.Evaluator.HasRecentActivity(t, c.ID) {
		status = "YES"
	}
	return c.DisplayAuthor() + "(" + status + ")"
}
