package queue

import (
	"sync"
	"testing"
)

type testItem struct {
	Tick uint32
}

func TestQueue_PushDrain(t *testing.T) {
	q := New[testItem]()
	if q.Len() != 0 {
		t.Fatalf("expected empty queue, got %d", q.Len())
	}

	q.Push(testItem{1})
	q.Push(testItem{2}, testItem{3})
	if q.Len() != 3 {
		t.Errorf("expected length 3, got %d", q.Len())
	}

	batch := q.Drain()
	if len(batch) != 3 || batch[0].Tick != 1 || batch[2].Tick != 3 {
		t.Errorf("unexpected batch %+v", batch)
	}
	if q.Len() != 0 {
		t.Errorf("expected drained queue, got %d", q.Len())
	}
	if got := q.Drain(); len(got) != 0 {
		t.Errorf("expected empty drain, got %+v", got)
	}
}

func TestQueue_Requeue(t *testing.T) {
	q := New[testItem]()
	q.Push(testItem{1}, testItem{2})
	batch := q.Drain()

	q.Push(testItem{3})
	q.Requeue(batch)

	got := q.Drain()
	want := []uint32{1, 2, 3}
	if len(got) != len(want) {
		t.Fatalf("expected %d items, got %d", len(want), len(got))
	}
	for i, w := range want {
		if got[i].Tick != w {
			t.Errorf("item %d: expected tick %d, got %d", i, w, got[i].Tick)
		}
	}

	q.Requeue(nil)
	if q.Len() != 0 {
		t.Errorf("requeue of empty batch should be a no-op")
	}
}

func TestQueue_ConcurrentPush(t *testing.T) {
	q := New[testItem]()
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			q.Push(testItem{uint32(i)})
		}(i)
	}
	wg.Wait()

	if q.Len() != 100 {
		t.Errorf("expected 100 items, got %d", q.Len())
	}
}
