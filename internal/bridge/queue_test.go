// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package bridge

import (
	"testing"
	"time"
)

func TestWorkQueueDrainsAfterClose(t *testing.T) {
	q := newWorkQueue()
	for i := 0; i < 3; i++ {
		if !q.push(i) {
			t.Fatalf("push(%d) rejected", i)
		}
	}
	if got := q.len(); got != 3 {
		t.Errorf("len = %d, want 3", got)
	}

	q.close()
	if q.push(99) {
		t.Error("push after close should be rejected")
	}
	for want := 0; want < 3; want++ {
		item, ok := q.pop()
		if !ok || item.(int) != want {
			t.Errorf("pop = %v, %v; want %d", item, ok, want)
		}
	}
	if _, ok := q.pop(); ok {
		t.Error("pop on a drained, closed queue should report false")
	}
}

func TestWorkQueuePopBlocksUntilPush(t *testing.T) {
	q := newWorkQueue()
	got := make(chan interface{}, 1)
	go func() {
		item, _ := q.pop()
		got <- item
	}()

	select {
	case item := <-got:
		t.Fatalf("pop returned %v before push", item)
	case <-time.After(20 * time.Millisecond):
	}

	q.push("job")
	select {
	case item := <-got:
		if item != "job" {
			t.Errorf("pop = %v", item)
		}
	case <-time.After(time.Second):
		t.Fatal("pop did not wake after push")
	}
	q.close()
}
