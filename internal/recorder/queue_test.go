package recorder

import (
	"sync"
	"testing"
)

func TestQueue_FIFO(t *testing.T) {
	q := NewQueue[int](4, 0)
	for i := 0; i < 10; i++ {
		if !q.Push(i) {
			t.Fatalf("Push(%d) = false, want true", i)
		}
	}

	got := q.Drain(0)
	if len(got) != 10 {
		t.Fatalf("Drain() returned %d items, want 10", len(got))
	}
	for i, v := range got {
		if v != i {
			t.Errorf("item %d = %d, want %d", i, v, i)
		}
	}
	if q.Len() != 0 {
		t.Errorf("Len() = %d, want 0", q.Len())
	}
}

func TestQueue_Grows(t *testing.T) {
	q := NewQueue[int](10, 0)
	for i := 0; i < 7; i++ {
		q.Push(i)
	}

	stats := q.Stats()
	if stats.Capacity != 20 {
		t.Errorf("Capacity = %d, want 20", stats.Capacity)
	}
	if stats.ResizeCount != 1 {
		t.Errorf("ResizeCount = %d, want 1", stats.ResizeCount)
	}
}

func TestQueue_GrowAfterWrap(t *testing.T) {
	q := NewQueue[int](10, 0)
	for i := 0; i < 5; i++ {
		q.Push(i)
	}
	q.Drain(4) // head moves forward

	for i := 5; i < 12; i++ {
		q.Push(i)
	}

	got := q.Drain(0)
	want := []int{4, 5, 6, 7, 8, 9, 10, 11}
	if len(got) != len(want) {
		t.Fatalf("Drain() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("item %d = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestQueue_DropsOldestAtMax(t *testing.T) {
	q := NewQueue[int](2, 4)
	for i := 0; i < 6; i++ {
		q.Push(i)
	}

	stats := q.Stats()
	if stats.Capacity != 4 {
		t.Errorf("Capacity = %d, want 4", stats.Capacity)
	}
	if stats.Dropped != 2 {
		t.Errorf("Dropped = %d, want 2", stats.Dropped)
	}

	got := q.Drain(0)
	want := []int{2, 3, 4, 5}
	if len(got) != len(want) {
		t.Fatalf("Drain() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("item %d = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestQueue_DrainMax(t *testing.T) {
	q := NewQueue[int](10, 0)
	for i := 0; i < 5; i++ {
		q.Push(i)
	}

	got := q.Drain(3)
	if len(got) != 3 {
		t.Errorf("Drain(3) returned %d items, want 3", len(got))
	}
	if q.Len() != 2 {
		t.Errorf("Len() = %d, want 2", q.Len())
	}
	if q.Drain(0) == nil {
		t.Error("Drain(0) = nil, want remaining items")
	}
	if q.Drain(0) != nil {
		t.Error("Drain(0) on empty queue should return nil")
	}
}

func TestQueue_Close(t *testing.T) {
	q := NewQueue[int](4, 0)
	q.Push(1)
	q.Close()

	if q.Push(2) {
		t.Error("Push after Close = true, want false")
	}
	got := q.Drain(0)
	if len(got) != 1 || got[0] != 1 {
		t.Errorf("Drain() after Close = %v, want [1]", got)
	}
}

func TestQueue_ReadySignal(t *testing.T) {
	q := NewQueue[int](4, 0)

	select {
	case <-q.Ready():
		t.Fatal("Ready signalled on empty queue")
	default:
	}

	q.Push(1)
	q.Push(2)

	select {
	case <-q.Ready():
	default:
		t.Fatal("Ready not signalled after Push")
	}

	select {
	case <-q.Ready():
		t.Fatal("Ready should coalesce signals")
	default:
	}
}

func TestQueue_Concurrent(t *testing.T) {
	q := NewQueue[int](8, 0)

	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 250; i++ {
				q.Push(i)
			}
		}()
	}
	wg.Wait()

	stats := q.Stats()
	if stats.Pushed != 1000 {
		t.Errorf("Pushed = %d, want 1000", stats.Pushed)
	}
	if len(q.Drain(0)) != 1000 {
		t.Error("Drain() did not return all items")
	}
}
