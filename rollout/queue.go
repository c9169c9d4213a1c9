package rollout

import (
	"context"
	"sync"
)

// Queue is a join-queue for task records: Join blocks until every record
// that was Put has been balanced by a TaskDone, including records
// re-queued by retry. Capacity must cover the initial batch; a record is
// only ever re-queued after being taken out, so occupancy never exceeds
// the initial count.
type Queue struct {
	tasks chan *Record
	wg    sync.WaitGroup
}

// NewQueue creates a queue with the given capacity
func NewQueue(capacity int) *Queue {
	return &Queue{tasks: make(chan *Record, capacity)}
}

// Put enqueues a record and increments the unfinished count
func (q *Queue) Put(record *Record) {
	q.wg.Add(1)
	q.tasks <- record
}

// Get dequeues the next record, blocking until one is available or the
// context is cancelled. The second return is false on cancellation.
func (q *Queue) Get(ctx context.Context) (*Record, bool) {
	select {
	case record := <-q.tasks:
		return record, true
	case <-ctx.Done():
		return nil, false
	}
}

// TaskDone marks one previously dequeued record as finished
func (q *Queue) TaskDone() {
	q.wg.Done()
}

// Join blocks until the unfinished count drops to zero. On context
// cancellation, records still sitting in the queue are drained and
// counted done (no worker will dequeue them anymore), so Join only waits
// for records already in flight.
func (q *Queue) Join(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return
	case <-ctx.Done():
	}
	// keep draining until the count balances: a worker racing the
	// cancellation may still re-queue its in-flight record
	for {
		select {
		case <-q.tasks:
			q.wg.Done()
		case <-done:
			return
		}
	}
}

// Len returns the number of records currently waiting in the queue
func (q *Queue) Len() int {
	return len(q.tasks)
}
