package tracking

import (
	"container/heap"
	"sync"
	"time"
)

type queueEntry struct {
	key Key
	at  time.Time
	// seq breaks ties between equal timestamps in insertion order.
	seq uint64
	idx int
}

type entryHeap []*queueEntry

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool {
	if !h[i].at.Equal(h[j].at) {
		return h[i].at.Before(h[j].at)
	}
	return h[i].seq < h[j].seq
}

func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].idx = i
	h[j].idx = j
}

func (h *entryHeap) Push(x any) {
	e := x.(*queueEntry)
	e.idx = len(*h)
	*h = append(*h, e)
}

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.idx = -1
	*h = old[:n-1]
	return e
}

// Queue orders keys by the time they were last inserted or reset, oldest first.
//
// Every method takes the queue mutex for the duration of one structural change.
// Keys are unique; the index allows repositioning and removal without a scan.
type Queue struct {
	mu    sync.Mutex
	h     entryHeap
	index map[Key]*queueEntry
	seq   uint64
}

func NewQueue() *Queue {
	return &Queue{index: map[Key]*queueEntry{}}
}

// Push inserts key with priority at, or repositions it if already queued.
func (q *Queue) Push(key Key, at time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.seq++
	if e, ok := q.index[key]; ok {
		e.at = at
		e.seq = q.seq
		heap.Fix(&q.h, e.idx)
		return
	}
	e := &queueEntry{key: key, at: at, seq: q.seq}
	heap.Push(&q.h, e)
	q.index[key] = e
}

// Update repositions an existing key. The new priority may be earlier or later.
func (q *Queue) Update(key Key, at time.Time) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.index[key]
	if !ok {
		return false
	}
	q.seq++
	e.at = at
	e.seq = q.seq
	heap.Fix(&q.h, e.idx)
	return true
}

func (q *Queue) Remove(key Key) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.index[key]
	if !ok {
		return false
	}
	heap.Remove(&q.h, e.idx)
	delete(q.index, key)
	return true
}

// PopOldest removes and returns the key with the smallest priority.
func (q *Queue) PopOldest() (Key, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.h) == 0 {
		return Key{}, false
	}
	e := heap.Pop(&q.h).(*queueEntry)
	delete(q.index, e.key)
	return e.key, true
}

// Peek returns the key PopOldest would return, without removing it.
func (q *Queue) Peek() (Key, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.h) == 0 {
		return Key{}, false
	}
	return q.h[0].key, true
}

func (q *Queue) contains(key Key) bool {
	q.mu.Lock()
	_, ok := q.index[key]
	q.mu.Unlock()
	return ok
}

func (q *Queue) Len() int {
	q.mu.Lock()
	n := len(q.h)
	q.mu.Unlock()
	return n
}
