// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package bridge

import (
	"sync"

	"github.com/eapache/queue"
)

// workQueue is an unbounded FIFO consumed by a single goroutine.
type workQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  *queue.Queue
	closed bool
}

func newWorkQueue() *workQueue {
	q := &workQueue{items: queue.New()}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// push appends item. It reports false once the queue is closed.
func (q *workQueue) push(item interface{}) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.items.Add(item)
	q.cond.Signal()
	return true
}

// pop blocks until an item is available. After close it keeps returning
// queued items and reports false once drained.
func (q *workQueue) pop() (interface{}, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.items.Length() == 0 && !q.closed {
		q.cond.Wait()
	}
	if q.items.Length() == 0 {
		return nil, false
	}
	return q.items.Remove(), true
}

// close stops accepting items and wakes the consumer.
func (q *workQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()
}

func (q *workQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Length()
}
