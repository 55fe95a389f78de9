package ringbuf

import (
	"encoding/json"
	"sync"
	"testing"
)

func TestBuffer_PushWithinCapacity(t *testing.T) {
	b := New[int](5)

	for i := 1; i <= 3; i++ {
		if evicted := b.Push(i); evicted {
			t.Fatalf("Push(%d) evicted = true, want false", i)
		}
	}

	if b.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", b.Len())
	}
	got := b.View().Items()
	want := []int{1, 2, 3}
	assertInts(t, got, want)
}

func TestBuffer_NeverExceedsCapacity(t *testing.T) {
	tests := []struct {
		name      string
		capacity  int
		chunkSize int
		pushes    int
	}{
		{"single chunk", 10, 16, 1000},
		{"exact chunk multiple", 12, 4, 1000},
		{"uneven chunks", 10, 3, 997},
		{"capacity one", 1, 1, 50},
		{"fewer pushes than capacity", 100, 7, 42},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewWithChunkSize[int](tt.capacity, tt.chunkSize)
			for i := 0; i < tt.pushes; i++ {
				b.Push(i)
				if b.Len() > tt.capacity {
					t.Fatalf("Len() = %d after %d pushes, exceeds capacity %d", b.Len(), i+1, tt.capacity)
				}
			}

			// FIFO: the view holds the newest elements in insertion order
			wantLen := tt.pushes
			if wantLen > tt.capacity {
				wantLen = tt.capacity
			}
			v := b.View()
			if v.Len() != wantLen {
				t.Fatalf("View().Len() = %d, want %d", v.Len(), wantLen)
			}
			first := tt.pushes - wantLen
			for i := 0; i < v.Len(); i++ {
				if v.At(i) != first+i {
					t.Fatalf("At(%d) = %d, want %d", i, v.At(i), first+i)
				}
			}
		})
	}
}

func TestBuffer_PushReportsEviction(t *testing.T) {
	b := New[string](2)
	b.Push("a")
	b.Push("b")
	if !b.Push("c") {
		t.Error("Push() on full buffer evicted = false, want true")
	}
	assertStrings(t, b.View().Items(), []string{"b", "c"})
}

func TestView_UnaffectedByLaterPushes(t *testing.T) {
	b := NewWithChunkSize[int](8, 3)
	for i := 0; i < 8; i++ {
		b.Push(i)
	}
	snapshot := b.View()

	for i := 8; i < 100; i++ {
		b.Push(i)
	}

	assertInts(t, snapshot.Items(), []int{0, 1, 2, 3, 4, 5, 6, 7})
	assertInts(t, b.View().Items(), []int{92, 93, 94, 95, 96, 97, 98, 99})
}

func TestView_UnaffectedByReset(t *testing.T) {
	b := New[int](4)
	b.Push(1)
	b.Push(2)
	v := b.View()

	b.Reset()
	b.Push(9)

	assertInts(t, v.Items(), []int{1, 2})
	assertInts(t, b.View().Items(), []int{9})
}

func TestView_TailAndSlice(t *testing.T) {
	b := NewWithChunkSize[int](6, 4)
	for i := 0; i < 9; i++ {
		b.Push(i)
	}
	v := b.View() // 3..8

	assertInts(t, v.Tail(2), []int{7, 8})
	assertInts(t, v.Tail(100), []int{3, 4, 5, 6, 7, 8})
	assertInts(t, v.Slice(1, 3), []int{4, 5})
	assertInts(t, v.Slice(4, 2), []int{})

	last, ok := v.Last()
	if !ok || last != 8 {
		t.Errorf("Last() = %d, %v, want 8, true", last, ok)
	}
}

func TestView_Search(t *testing.T) {
	b := NewWithChunkSize[int](10, 3)
	for i := 0; i < 10; i++ {
		b.Push(i * 10)
	}
	v := b.View()

	if got := v.Search(func(x int) bool { return x >= 35 }); got != 4 {
		t.Errorf("Search(>=35) = %d, want 4", got)
	}
	if got := v.Search(func(x int) bool { return x >= 1000 }); got != v.Len() {
		t.Errorf("Search(>=1000) = %d, want %d", got, v.Len())
	}
}

func TestView_ZeroValueIsEmpty(t *testing.T) {
	var v View[int]
	if v.Len() != 0 {
		t.Errorf("Len() = %d, want 0", v.Len())
	}
	if _, ok := v.Last(); ok {
		t.Error("Last() ok = true on empty view")
	}
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if string(data) != "[]" {
		t.Errorf("Marshal() = %s, want []", data)
	}
}

func TestView_ConcurrentReadersWhileWriting(t *testing.T) {
	b := NewWithChunkSize[int](64, 8)
	views := make(chan View[int], 16)

	var wg sync.WaitGroup
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for v := range views {
				// contents are consecutive integers regardless of writer progress
				items := v.Items()
				for i := 1; i < len(items); i++ {
					if items[i] != items[i-1]+1 {
						t.Errorf("view not contiguous at %d: %d then %d", i, items[i-1], items[i])
						return
					}
				}
			}
		}()
	}

	for i := 0; i < 5000; i++ {
		b.Push(i)
		if i%10 == 0 {
			views <- b.View()
		}
	}
	close(views)
	wg.Wait()
}

func assertInts(t *testing.T, got, want []int) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range got {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func assertStrings(t *testing.T, got, want []string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range got {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}
