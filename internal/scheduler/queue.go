package scheduler

import (
	"sync"

	"github.com/bianoble/updater/internal/record"
)

// Queue hands out pending download records to workers. The mutex guards only
// the cursor and record state; no I/O happens while it is held.
type Queue struct {
	mu   sync.Mutex
	list *record.List
	next int
}

// NewQueue returns a queue over list.
func NewQueue(list *record.List) *Queue {
	return &Queue{list: list}
}

// Claim returns the next PendingDownload record after marking it Downloading.
// It returns false once no pending record remains.
func (q *Queue) Claim() (*record.Record, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.next < q.list.Len() {
		r := q.list.At(q.next)
		q.next++
		if r.State != record.PendingDownload {
			continue
		}
		if err := r.Advance(record.Downloading); err != nil {
			continue
		}
		return r, true
	}
	return nil, false
}

// Complete marks a claimed record Downloaded.
func (q *Queue) Complete(r *record.Record) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return r.Advance(record.Downloaded)
}
