/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package ondemand

import (
	"container/heap"
)

type queueItem[K comparable] struct {
	req   LoadRequest[K]
	seq   uint64 // insertion order, the final tie-break among equal priorities
	index int    // position in the heap, maintained by heap.Interface
}

// requestQueue is a bounded priority queue of load requests with at most one
// entry per key. Not safe for concurrent use; the scheduler serializes access.
type requestQueue[K comparable] struct {
	maxSize int
	items   requestHeap[K]
	byKey   map[K]*queueItem[K]
	nextSeq uint64
}

func newRequestQueue[K comparable](maxSize int) *requestQueue[K] {
	return &requestQueue[K]{
		maxSize: maxSize,
		byKey:   make(map[K]*queueItem[K]),
	}
}

// upsert admits a request into the queue.
//
// If an entry for the same key is already queued, the new request wins only if it is
// equally or more urgent (numerically lower or equal priority). On a strictly more
// urgent request the entry is fully replaced; on an equal one the original RequestedAt
// (and so the FIFO position among equal priorities) is kept and only the source tag is
// adopted. A less urgent duplicate is dropped silently.
//
// When the queue is full, the least urgent queued entry is evicted to make room,
// unless the new request is itself less urgent than everything queued - then it is
// the one dropped. Either way the queue never grows beyond maxSize.
func (q *requestQueue[K]) upsert(req LoadRequest[K]) {
	if item, ok := q.byKey[req.Key]; ok {
		if req.Priority > item.req.Priority {
			return
		}
		if req.Priority == item.req.Priority {
			item.req.Source = req.Source
			return
		}
		item.req = req
		item.seq = q.nextSeq
		q.nextSeq++
		heap.Fix(&q.items, item.index)
		return
	}

	if q.maxSize > 0 && len(q.items) >= q.maxSize {
		worst := q.leastUrgent()
		if worst == nil || req.Priority >= worst.req.Priority {
			return
		}
		heap.Remove(&q.items, worst.index)
		delete(q.byKey, worst.req.Key)
	}

	item := &queueItem[K]{req: req, seq: q.nextSeq}
	q.nextSeq++
	q.byKey[req.Key] = item
	heap.Push(&q.items, item)
}

// popBest removes and returns the most urgent request,
// ties broken by earliest insertion (FIFO among equal priorities).
func (q *requestQueue[K]) popBest() (LoadRequest[K], bool) {
	if len(q.items) == 0 {
		var zero LoadRequest[K]
		return zero, false
	}
	item := heap.Pop(&q.items).(*queueItem[K])
	delete(q.byKey, item.req.Key)
	return item.req, true
}

func (q *requestQueue[K]) len() int {
	return len(q.items)
}

func (q *requestQueue[K]) contains(key K) bool {
	_, ok := q.byKey[key]
	return ok
}

// leastUrgent returns the queued item with the highest priority value,
// ties broken by latest insertion (the newest entry has the weakest claim).
func (q *requestQueue[K]) leastUrgent() *queueItem[K] {
	var worst *queueItem[K]
	for _, item := range q.items {
		if worst == nil || item.req.Priority > worst.req.Priority ||
			(item.req.Priority == worst.req.Priority && item.seq > worst.seq) {
			worst = item
		}
	}
	return worst
}

type requestHeap[K comparable] []*queueItem[K]

func (h requestHeap[K]) Len() int { return len(h) }

func (h requestHeap[K]) Less(i, j int) bool {
	if h[i].req.Priority != h[j].req.Priority {
		return h[i].req.Priority < h[j].req.Priority
	}
	return h[i].seq < h[j].seq
}

func (h requestHeap[K]) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *requestHeap[K]) Push(x interface{}) {
	item := x.(*queueItem[K])
	item.index = len(*h)
	*h = append(*h, item)
}

func (h *requestHeap[K]) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}
