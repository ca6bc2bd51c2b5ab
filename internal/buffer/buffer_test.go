package buffer

import (
	"fmt"
	"sync"
	"testing"

	"github.com/mkarling/warden/internal/detect"
)

func rec(id string) detect.Record {
	return detect.Record{ID: id, DeviceID: "PC-001", RiskLevel: detect.RiskLow}
}

func TestBuffer_AppendDrain(t *testing.T) {
	b := New(8)

	if b.Len() != 0 {
		t.Errorf("new buffer should be empty, len=%d", b.Len())
	}

	for i := 0; i < 5; i++ {
		b.Append(rec(fmt.Sprintf("r%d", i)))
	}
	if b.Len() != 5 {
		t.Errorf("expected len=5, got %d", b.Len())
	}

	drained := b.DrainAll()
	if len(drained) != 5 {
		t.Fatalf("expected 5 drained, got %d", len(drained))
	}
	for i, r := range drained {
		if r.ID != fmt.Sprintf("r%d", i) {
			t.Errorf("drain order broken at %d: %s", i, r.ID)
		}
	}

	if b.Len() != 0 {
		t.Errorf("buffer should be empty after drain, len=%d", b.Len())
	}
	if got := b.DrainAll(); len(got) != 0 {
		t.Errorf("second drain should be empty, got %d", len(got))
	}
}

func TestBuffer_DrainIsSeparateMemory(t *testing.T) {
	b := New(4)
	b.Append(rec("a"))

	drained := b.DrainAll()
	b.Append(rec("b"))
	b.Append(rec("c"))

	if len(drained) != 1 || drained[0].ID != "a" {
		t.Errorf("drained batch mutated by later appends: %v", drained)
	}
}

func TestBuffer_RequeueFront(t *testing.T) {
	b := New(4)
	b.Append(rec("a"))
	b.Append(rec("b"))

	batch := b.DrainAll()

	// New arrivals while the failed batch is in flight.
	b.Append(rec("c"))

	b.Requeue(batch)

	next := b.DrainAll()
	want := []string{"a", "b", "c"}
	if len(next) != len(want) {
		t.Fatalf("expected %d records, got %d", len(want), len(next))
	}
	for i, id := range want {
		if next[i].ID != id {
			t.Errorf("position %d: expected %s, got %s", i, id, next[i].ID)
		}
	}
}

func TestBuffer_ConcurrentAppendDrain(t *testing.T) {
	const writers = 8
	const perWriter = 1000

	b := New(256)

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				b.Append(rec(fmt.Sprintf("w%d-%d", w, i)))
			}
		}(w)
	}

	// Drain concurrently while writers run.
	var mu sync.Mutex
	seen := make(map[string]int, writers*perWriter)
	done := make(chan struct{})
	var drainWg sync.WaitGroup
	drainWg.Add(1)
	go func() {
		defer drainWg.Done()
		for {
			for _, r := range b.DrainAll() {
				mu.Lock()
				seen[r.ID]++
				mu.Unlock()
			}
			select {
			case <-done:
				// Final sweep after all writers stopped.
				for _, r := range b.DrainAll() {
					mu.Lock()
					seen[r.ID]++
					mu.Unlock()
				}
				return
			default:
			}
		}
	}()

	wg.Wait()
	close(done)
	drainWg.Wait()

	if len(seen) != writers*perWriter {
		t.Fatalf("expected %d distinct records drained, got %d", writers*perWriter, len(seen))
	}
	for id, n := range seen {
		if n != 1 {
			t.Errorf("record %s drained %d times", id, n)
		}
	}

	st := b.Stats()
	if st.Appended != int64(writers*perWriter) {
		t.Errorf("expected %d appended, got %d", writers*perWriter, st.Appended)
	}
	if st.Drained != st.Appended {
		t.Errorf("drained (%d) should equal appended (%d)", st.Drained, st.Appended)
	}
}

func TestBuffer_Stats(t *testing.T) {
	b := New(0)
	b.AppendBatch([]detect.Record{rec("a"), rec("b")})

	st := b.Stats()
	if st.Pending != 2 || st.Appended != 2 {
		t.Errorf("unexpected stats: %+v", st)
	}

	batch := b.DrainAll()
	b.Requeue(batch)

	st = b.Stats()
	if st.Requeued != 2 {
		t.Errorf("expected requeued=2, got %d", st.Requeued)
	}
	if st.Pending != 2 {
		t.Errorf("expected pending=2 after requeue, got %d", st.Pending)
	}
}
