package gossip

import (
	"container/heap"
	"net"
	"time"
)

// futureHost is a scheduled gossip retry: AddHost keeps pinging an
// address, backing off exponentially up to maxRetryInterval. Each due
// entry is re-queued; entries are never dropped from the queue.
type futureHost struct {
	deadline time.Time
	address  *net.UDPAddr
	attempts uint32
	timeout  time.Duration
}

// futureHostQueue is a min-heap on deadline, matching the original's
// BinaryHeap<FutureHost> ordered by earliest deadline first (spec.md's
// design notes call a timer wheel an equivalent alternative; a heap is
// the simpler and sufficient choice at agent scale).
type futureHostQueue []*futureHost

func (q futureHostQueue) Len() int            { return len(q) }
func (q futureHostQueue) Less(i, j int) bool  { return q[i].deadline.Before(q[j].deadline) }
func (q futureHostQueue) Swap(i, j int)       { q[i], q[j] = q[j], q[i] }
func (q *futureHostQueue) Push(x interface{}) { *q = append(*q, x.(*futureHost)) }
func (q *futureHostQueue) Pop() interface{} {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return item
}

func (q *futureHostQueue) peek() *futureHost {
	if len(*q) == 0 {
		return nil
	}
	return (*q)[0]
}

func (q *futureHostQueue) pushHost(h *futureHost) {
	heap.Push(q, h)
}

func (q *futureHostQueue) popHost() *futureHost {
	return heap.Pop(q).(*futureHost)
}
