package app

import (
	"sync"

	"github.com/yourusername/gameinstall-go/internal/domain"
)

// workQueue is the item queue of one engine phase. Pop blocks while the
// queue is paused or while it is empty but items are still in flight, since
// those may re-enqueue follow-up work.
type workQueue struct {
	mu       sync.Mutex
	cond     *sync.Cond
	items    []domain.InstallItem
	inflight int
	paused   bool
	closed   bool
}

func newWorkQueue(items []domain.InstallItem) *workQueue {
	q := &workQueue{items: append([]domain.InstallItem(nil), items...)}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push appends an item, used for re-enqueues from a running worker
func (q *workQueue) Push(item domain.InstallItem) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.items = append(q.items, item)
	q.cond.Signal()
}

// Pop takes the next item. It returns false once the queue is drained with
// nothing in flight, or after Close.
func (q *workQueue) Pop() (domain.InstallItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		if q.closed {
			return domain.InstallItem{}, false
		}
		if len(q.items) == 0 && q.inflight == 0 {
			return domain.InstallItem{}, false
		}
		if !q.paused && len(q.items) > 0 {
			item := q.items[0]
			q.items[0] = domain.InstallItem{}
			q.items = q.items[1:]
			q.inflight++
			return item, true
		}
		q.cond.Wait()
	}
}

// Done marks one popped item as finished
func (q *workQueue) Done() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.inflight--
	q.cond.Broadcast()
}

// SetPaused gates Pop without touching queued items
func (q *workQueue) SetPaused(paused bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.paused = paused
	q.cond.Broadcast()
}

// Close discards the remaining items and releases blocked workers
func (q *workQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.items = nil
	q.cond.Broadcast()
}

// Len returns the number of queued items
func (q *workQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// InFlight returns the number of popped items not yet done
func (q *workQueue) InFlight() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.inflight
}
