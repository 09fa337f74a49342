package callqueue

import (
	"fmt"
	"testing"

	"github.com/sovereignedge/cognit-device-runtime/internal/domain"
)

func testCall(id string) *domain.Call {
	return &domain.Call{
		RequestID: id,
		Function:  &domain.FaasFunction{Name: "f", Lang: domain.LangPY, Payload: []byte("body")},
		Mode:      domain.ModeAsync,
	}
}

func TestQueuePreservesFIFO(t *testing.T) {
	q := New(10)
	for i := 0; i < 5; i++ {
		if !q.Enqueue(testCall(fmt.Sprintf("r%d", i))) {
			t.Fatalf("enqueue %d rejected below capacity", i)
		}
	}
	for i := 0; i < 5; i++ {
		call := q.Dequeue()
		if call == nil {
			t.Fatalf("dequeue %d returned nil", i)
		}
		if want := fmt.Sprintf("r%d", i); call.RequestID != want {
			t.Fatalf("dequeue order broken: got %s, want %s", call.RequestID, want)
		}
	}
	if q.Dequeue() != nil {
		t.Fatal("empty queue should dequeue nil")
	}
}

func TestQueueShedsAtCapacity(t *testing.T) {
	q := New(3)
	for i := 0; i < 3; i++ {
		if !q.Enqueue(testCall(fmt.Sprintf("r%d", i))) {
			t.Fatalf("enqueue %d rejected below capacity", i)
		}
	}
	if q.Enqueue(testCall("overflow")) {
		t.Fatal("enqueue above capacity should be rejected")
	}
	if q.Len() != 3 {
		t.Fatalf("rejected enqueue must not grow the queue: len=%d", q.Len())
	}

	// Shedding never evicts older entries.
	if got := q.Dequeue().RequestID; got != "r0" {
		t.Fatalf("oldest entry lost: got %s", got)
	}
	if !q.Enqueue(testCall("r3")) {
		t.Fatal("enqueue after drain should succeed")
	}
}

func TestQueueDefaultBound(t *testing.T) {
	q := New(0)
	for i := 0; i < DefaultSize; i++ {
		if !q.Enqueue(testCall(fmt.Sprintf("r%d", i))) {
			t.Fatalf("enqueue %d rejected below default capacity", i)
		}
	}
	if q.Enqueue(testCall("overflow")) {
		t.Fatal("default bound not enforced")
	}
}

func TestQueueDrain(t *testing.T) {
	q := New(5)
	q.Enqueue(testCall("a"))
	q.Enqueue(testCall("b"))

	drained := q.Drain()
	if len(drained) != 2 || drained[0].RequestID != "a" || drained[1].RequestID != "b" {
		t.Fatalf("drain should return queued calls in order, got %v", drained)
	}
	if q.Len() != 0 {
		t.Fatalf("drain should empty the queue, len=%d", q.Len())
	}
}
