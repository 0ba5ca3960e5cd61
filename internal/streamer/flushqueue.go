package streamer

import (
	"container/heap"
	"sync"
	"time"
)

// flushQueue is a process-wide delay queue of streamers due for an
// auto-flush, keyed by last_flush_ts + auto_flush_period. This is a
// deadline that re-arms itself relative to "now" every time it fires,
// not a calendar schedule, so it's modeled with container/heap as a
// generic delayed-task queue rather than with a cron expression.
type flushQueue struct {
	mu    sync.Mutex
	items flushHeap
	wake  chan struct{}

	closeOnce sync.Once
	closed    chan struct{}
}

type flushItem struct {
	streamer *Streamer
	deadline time.Time
	index    int
}

type flushHeap []*flushItem

func (h flushHeap) Len() int            { return len(h) }
func (h flushHeap) Less(i, j int) bool  { return h[i].deadline.Before(h[j].deadline) }
func (h flushHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *flushHeap) Push(x interface{}) {
	item := x.(*flushItem)
	item.index = len(*h)
	*h = append(*h, item)
}
func (h *flushHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

func newFlushQueue() *flushQueue {
	q := &flushQueue{
		wake:   make(chan struct{}, 1),
		closed: make(chan struct{}),
	}
	go q.run()
	return q
}

// schedule (re)arms s's auto-flush deadline at "now + period".
func (q *flushQueue) schedule(s *Streamer, period time.Duration) {
	q.mu.Lock()
	heap.Push(&q.items, &flushItem{streamer: s, deadline: time.Now().Add(period)})
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *flushQueue) run() {
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()
	for {
		q.mu.Lock()
		var wait time.Duration
		if len(q.items) == 0 {
			wait = time.Hour
		} else {
			wait = time.Until(q.items[0].deadline)
		}
		q.mu.Unlock()

		if wait <= 0 {
			q.popDue()
			continue
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-timer.C:
			q.popDue()
		case <-q.wake:
		case <-q.closed:
			return
		}
	}
}

func (q *flushQueue) popDue() {
	now := time.Now()
	for {
		q.mu.Lock()
		if len(q.items) == 0 || q.items[0].deadline.After(now) {
			q.mu.Unlock()
			return
		}
		item := heap.Pop(&q.items).(*flushItem)
		q.mu.Unlock()

		s := item.streamer
		go func() {
			s.TryFlush()
			period := s.autoFlushPeriod()
			if period > 0 && !s.isClosed() {
				q.schedule(s, period)
			}
		}()
	}
}

func (q *flushQueue) close() {
	q.closeOnce.Do(func() { close(q.closed) })
}
