package thread

import (
	"time"

	"github.com/WessleyAI/threadwatch/engine/domain"
)

// Threshold is now minus days, which may be fractional.
func Threshold(now time.Time, days float64) time.Time {
	return now.Add(-time.Duration(days * float64(24*time.Hour)))
}

// Evaluator decides whether a comment's subtree saw activity at or after
// Threshold. Replies by Excluded are skipped along with everything below
// them.
type Evaluator struct {
	Excluded  string
	Threshold time.Time
}

// HasRecentActivity reports whether any reply below id, excluding the
// excluded author's subtrees, was created at or after the threshold. The
// comment's own timestamp is not considered.
func (e Evaluator) HasRecentActivity(t *Tree, id string) bool {
	visited := map[string]bool{id: true}
	return e.walk(t, id, visited)
}

func (e Evaluator) walk(t *Tree, id string, visited map[string]bool) bool {
	for _, child := range t.Children(id) {
		if visited[child.ID] {
			continue
		}
		visited[child.ID] = true
		if child.AuthoredBy(e.Excluded) {
			continue
		}
		if e.recent(child) {
			return true
		}
		if e.walk(t, child.ID, visited) {
			return true
		}
	}
	return false
}

// recent is false for a comment with no timestamp.
func (e Evaluator) recent(c domain.Comment) bool {
	return c.HasCreated() && !c.Created.Before(e.Threshold)
}
