package pipeline

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/erpbridge/erpbridge/pkg/connector"
	"github.com/erpbridge/erpbridge/pkg/model"
)

// recordingDispatcher records dispatch order and lets tests fail or hang
// specific events.
type recordingDispatcher struct {
	mu     sync.Mutex
	order  []string
	failOn map[string]bool
	delay  time.Duration
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, evt *model.Event) connector.SyncResult {
	if d.delay > 0 {
		time.Sleep(d.delay)
	}
	d.mu.Lock()
	d.order = append(d.order, evt.EventID)
	fail := d.failOn[evt.EventID]
	d.mu.Unlock()
	if fail {
		return connector.Failure("dispatch failed for %s", evt.EventID)
	}
	return connector.SyncResult{Success: true, RecordID: 1}
}

func (d *recordingDispatcher) seen() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.order))
	copy(out, d.order)
	return out
}

func event(id string) *model.Event {
	return &model.Event{
		EventID:    id,
		EventType:  model.EventCreate,
		EntityType: model.EntityProduct,
		Timestamp:  time.Now().UTC(),
	}
}

func TestPipelineProcessesInOrder(t *testing.T) {
	d := &recordingDispatcher{}
	p := New(d, 10, 2, zap.NewNop())
	p.Start(context.Background())

	for i := 0; i < 5; i++ {
		if err := p.Enqueue(event(fmt.Sprintf("evt-%d", i))); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := p.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}

	got := d.seen()
	if len(got) != 5 {
		t.Fatalf("expected 5 dispatched events, got %d", len(got))
	}
	for i, id := range got {
		if want := fmt.Sprintf("evt-%d", i); id != want {
			t.Fatalf("expected %s at position %d, got %s", want, i, id)
		}
	}
}

func TestPipelineStopDrainsQueue(t *testing.T) {
	d := &recordingDispatcher{delay: 10 * time.Millisecond}
	p := New(d, 10, 2, zap.NewNop())
	p.Start(context.Background())

	for i := 0; i < 4; i++ {
		if err := p.Enqueue(event(fmt.Sprintf("evt-%d", i))); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := p.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if len(d.seen()) != 4 {
		t.Fatalf("expected all queued events drained, got %d", len(d.seen()))
	}
}

func TestPipelineEnqueueAfterStopFails(t *testing.T) {
	p := New(&recordingDispatcher{}, 10, 2, zap.NewNop())
	p.Start(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := p.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := p.Enqueue(event("evt-late")); err != ErrNotRunning {
		t.Fatalf("expected ErrNotRunning, got %v", err)
	}
}

func TestPipelineEnqueueBeforeStartFails(t *testing.T) {
	p := New(&recordingDispatcher{}, 10, 2, zap.NewNop())
	if err := p.Enqueue(event("evt-early")); err != ErrNotRunning {
		t.Fatalf("expected ErrNotRunning, got %v", err)
	}
}

func TestPipelineQueueFull(t *testing.T) {
	// a hung dispatcher keeps the worker busy while the queue fills
	d := &recordingDispatcher{delay: time.Second}
	p := New(d, 2, 2, zap.NewNop())
	p.Start(context.Background())
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		p.Stop(ctx)
	}()

	// first event occupies the worker, next two fill the queue
	if err := p.Enqueue(event("evt-0")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if err := p.Enqueue(event("evt-1")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := p.Enqueue(event("evt-2")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := p.Enqueue(event("evt-3")); err != ErrQueueFull {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
}

func TestDispatchBatchIsolatesFailures(t *testing.T) {
	d := &recordingDispatcher{failOn: map[string]bool{"evt-1": true, "evt-3": true}}
	p := New(d, 10, 3, zap.NewNop())

	events := make([]*model.Event, 0, 5)
	for i := 0; i < 5; i++ {
		events = append(events, event(fmt.Sprintf("evt-%d", i)))
	}

	result := p.DispatchBatch(context.Background(), events)
	if result.Total != 5 {
		t.Fatalf("expected total 5, got %d", result.Total)
	}
	if result.Success != 3 {
		t.Fatalf("expected 3 successes, got %d", result.Success)
	}
	if result.Failed != 2 {
		t.Fatalf("expected 2 failures, got %d", result.Failed)
	}
	if len(result.Errors) != 2 {
		t.Fatalf("expected 2 error messages, got %d", len(result.Errors))
	}
}
