package batch

import (
	"sync"

	"github.com/WessleyAI/threadwatch/engine/domain"
)

// Accumulator collects each URL's rows into its input slot. It is safe for
// concurrent use.
type Accumulator struct {
	mu    sync.Mutex
	slots [][]domain.Row
	set   []bool
	done  int
}

// NewAccumulator returns an accumulator with n slots.
func NewAccumulator(n int) *Accumulator {
	return &Accumulator{slots: make([][]domain.Row, n), set: make([]bool, n)}
}

// Put stores rows for slot i and returns the number of filled slots,
// counting this one. Each count is returned exactly once. A slot is filled
// at most once; later puts, and puts outside the slots, are ignored and
// return 0.
func (a *Accumulator) Put(i int, rows []domain.Row) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if i < 0 || i >= len(a.slots) || a.set[i] {
		return 0
	}
	a.slots[i] = rows
	a.set[i] = true
	a.done++
	return a.done
}

// Done is the number of filled slots.
func (a *Accumulator) Done() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.done
}

// Rows flattens the slots in input order.
func (a *Accumulator) Rows() []domain.Row {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, s := range a.slots {
		n += len(s)
	}
	out := make([]domain.Row, 0, n)
	for _, s := range a.slots {
		out = append(out, s...)
	}
	return out
}

// progressQueue reports completion counts in order from its own goroutine,
// so a slow sink never holds up the pipelines. Counts may be pushed out of
// order; each is reported once every smaller count has been.
type progressQueue struct {
	counts chan int
	done   chan struct{}
}

func newProgressQueue(total int, report func(done int)) *progressQueue {
	q := &progressQueue{counts: make(chan int, total), done: make(chan struct{})}
	go func() {
		defer close(q.done)
		pending := make(map[int]bool)
		next := 1
		for c := range q.counts {
			pending[c] = true
			for pending[next] {
				delete(pending, next)
				report(next)
				next++
			}
		}
	}()
	return q
}

// push queues count c without blocking; the buffer holds every count a
// batch can produce. Zero, from an ignored Put, is dropped.
func (q *progressQueue) push(c int) {
	if c > 0 {
		q.counts <- c
	}
}

// close waits until every pushed count has been reported.
func (q *progressQueue) close() {
	close(q.counts)
	<-q.done
}
