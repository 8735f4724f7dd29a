package queue

import (
	"sync"
	"testing"

	"github.com/nanolog-ingest/ingestsdk/pkg/types"
)

func rec(msg string) types.LogRecord {
	return types.LogRecord{Message: msg, Level: types.LevelInfo, LogType: types.LogTypeLogger}
}

func TestEnqueueDrain_FIFO(t *testing.T) {
	q := New(10, nil)
	q.Enqueue(rec("a"))
	q.Enqueue(rec("b"))
	q.Enqueue(rec("c"))

	got := q.DrainBatch(10)
	if len(got) != 3 {
		t.Fatalf("expected 3 records, got %d", len(got))
	}
	for i, want := range []string{"a", "b", "c"} {
		if got[i].Message != want {
			t.Fatalf("position %d: want %q, got %q", i, want, got[i].Message)
		}
	}
	if q.Size() != 0 {
		t.Fatalf("expected empty queue after drain, size=%d", q.Size())
	}
}

func TestEnqueue_OverflowDropsOldest(t *testing.T) {
	var diagCount int
	q := New(10, func(source, message string) { diagCount++ })

	for i := 0; i < 15; i++ {
		q.Enqueue(rec(string(rune('a' + i))))
	}

	if q.Size() != 10 {
		t.Fatalf("expected size=10 after overflow, got %d", q.Size())
	}
	if q.DropCount() != 5 {
		t.Fatalf("expected dropped=5, got %d", q.DropCount())
	}

	got := q.DrainBatch(10)
	for i, want := range []string{"f", "g", "h", "i", "j", "k", "l", "m", "n", "o"} {
		if got[i].Message != want {
			t.Fatalf("position %d: want %q, got %q", i, want, got[i].Message)
		}
	}
}

func TestDrainBatch_MaxNCap(t *testing.T) {
	q := New(10, nil)
	for i := 0; i < 5; i++ {
		q.Enqueue(rec("x"))
	}
	got := q.DrainBatch(3)
	if len(got) != 3 {
		t.Fatalf("expected 3, got %d", len(got))
	}
	if q.Size() != 2 {
		t.Fatalf("expected 2 remaining, got %d", q.Size())
	}
}

func TestRequeueFront_PreservesOrder(t *testing.T) {
	q := New(10, nil)
	q.Enqueue(rec("c"))
	q.Enqueue(rec("d"))

	batch := []types.LogRecord{rec("a"), rec("b")}
	q.RequeueFront(batch)

	got := q.DrainBatch(10)
	for i, want := range []string{"a", "b", "c", "d"} {
		if got[i].Message != want {
			t.Fatalf("position %d: want %q, got %q", i, want, got[i].Message)
		}
	}
}

func TestRequeueFront_DropsNewestWhenOverCapacity(t *testing.T) {
	q := New(3, nil)
	q.Enqueue(rec("old1"))
	q.Enqueue(rec("old2"))
	q.Enqueue(rec("old3"))

	batch := []types.LogRecord{rec("retry1"), rec("retry2")}
	q.RequeueFront(batch)

	if q.Size() != 3 {
		t.Fatalf("expected size capped at capacity=3, got %d", q.Size())
	}
	got := q.DrainBatch(10)
	if got[0].Message != "retry1" || got[1].Message != "retry2" {
		t.Fatalf("retried batch must survive at the head, got %v", got)
	}
}

func TestConcurrentProducersSingleConsumer(t *testing.T) {
	q := New(1000, nil)
	const producers = 20
	const perProducer = 200

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.Enqueue(rec("m"))
			}
		}()
	}
	wg.Wait()

	total := 0
	for {
		batch := q.DrainBatch(50)
		if len(batch) == 0 {
			break
		}
		total += len(batch)
	}

	want := producers * perProducer
	if total+int(q.DropCount()) != want {
		t.Fatalf("enqueued(%d) != drained(%d) + dropped(%d)", want, total, q.DropCount())
	}
}

func TestUtilization(t *testing.T) {
	q := New(4, nil)
	q.Enqueue(rec("a"))
	q.Enqueue(rec("b"))
	if got := q.Utilization(); got != 0.5 {
		t.Fatalf("expected utilization 0.5, got %f", got)
	}
}
