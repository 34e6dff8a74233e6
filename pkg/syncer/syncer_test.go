package syncer

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/erpbridge/erpbridge/pkg/connector"
	"github.com/erpbridge/erpbridge/pkg/model"
	"github.com/erpbridge/erpbridge/pkg/store/memory"
)

type stubDispatcher struct {
	mu         sync.Mutex
	dispatched []*model.Event
	failOn     map[string]bool
}

func (d *stubDispatcher) Dispatch(ctx context.Context, evt *model.Event) connector.SyncResult {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dispatched = append(d.dispatched, evt)
	if d.failOn[evt.EventID] {
		return connector.Failure("dispatch failed for %s", evt.EventID)
	}
	return connector.SyncResult{Success: true, RecordID: 1}
}

func (d *stubDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.dispatched)
}

func (d *stubDispatcher) ids() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, 0, len(d.dispatched))
	for _, evt := range d.dispatched {
		out = append(out, evt.EventID)
	}
	return out
}

func storedEvent(id string, entity model.EntityType, ts time.Time, retries int) *model.Event {
	evt := &model.Event{
		EventID:    id,
		EventType:  model.EventUpdate,
		EntityType: entity,
		Timestamp:  ts,
		SourceSystem: &model.SourceSystem{
			ERPName:    "erpA",
			InstanceID: "inst1",
		},
		Payload: &model.Payload{Data: map[string]interface{}{"id": "R1", "name": "x"}},
	}
	if retries > 0 {
		evt.SetRetryCount(retries)
	}
	return evt
}

func TestFullSyncIsolatesFailures(t *testing.T) {
	st := memory.NewStore()
	d := &stubDispatcher{failOn: map[string]bool{}}
	s := New(st, d, 3, 100, 30*24*time.Hour, zap.NewNop())

	records := []map[string]interface{}{
		{"id": "P1", "name": "Widget"},
		{"id": "P2", "name": "Gadget"},
		{"id": "P3", "name": "Gizmo"},
	}

	// fail the middle record once we know its generated event id; simpler to
	// fail by wrapping the dispatcher
	s.dispatcher = dispatchFunc(func(ctx context.Context, evt *model.Event) connector.SyncResult {
		if evt.Data()["id"] == "P2" {
			return connector.Failure("remote rejected P2")
		}
		return d.Dispatch(ctx, evt)
	})

	report := s.FullSync(context.Background(), model.EntityProduct, records)
	if report.Total != 3 {
		t.Fatalf("expected total 3, got %d", report.Total)
	}
	if report.Success != 2 {
		t.Fatalf("expected 2 successes, got %d", report.Success)
	}
	if report.Failed != 1 {
		t.Fatalf("expected 1 failure, got %d", report.Failed)
	}
	if len(report.Errors) != 1 {
		t.Fatalf("expected 1 error entry, got %d", len(report.Errors))
	}

	// every synthesized envelope is a Sync event from the manual source
	for _, evt := range d.dispatched {
		if evt.EventType != model.EventSync {
			t.Fatalf("expected Sync event, got %s", evt.EventType)
		}
		if evt.SourceSystem.ERPName != "manual_sync" {
			t.Fatalf("expected manual_sync source, got %s", evt.SourceSystem.ERPName)
		}
	}
}

type dispatchFunc func(ctx context.Context, evt *model.Event) connector.SyncResult

func (f dispatchFunc) Dispatch(ctx context.Context, evt *model.Event) connector.SyncResult {
	return f(ctx, evt)
}

func TestFullSyncEventIDsAreUnique(t *testing.T) {
	st := memory.NewStore()
	d := &stubDispatcher{}
	s := New(st, d, 3, 100, time.Hour, zap.NewNop())

	records := []map[string]interface{}{
		{"id": "P1"},
		{"id": "P1"},
	}
	s.FullSync(context.Background(), model.EntityProduct, records)

	ids := d.ids()
	if len(ids) != 2 {
		t.Fatalf("expected 2 dispatches, got %d", len(ids))
	}
	if ids[0] == ids[1] {
		t.Fatalf("expected unique event ids, both were %s", ids[0])
	}
}

func TestIncrementalSyncFiltersByTimestamp(t *testing.T) {
	st := memory.NewStore()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if err := st.Save(ctx, storedEvent("evt-old", model.EntityProduct, base.Add(-time.Hour), 0)); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := st.Save(ctx, storedEvent("evt-new", model.EntityProduct, base.Add(time.Hour), 0)); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := st.Save(ctx, storedEvent("evt-other", model.EntityUser, base.Add(time.Hour), 0)); err != nil {
		t.Fatalf("save: %v", err)
	}

	d := &stubDispatcher{}
	s := New(st, d, 3, 100, time.Hour, zap.NewNop())

	report, err := s.IncrementalSync(ctx, model.EntityProduct, base)
	if err != nil {
		t.Fatalf("incremental sync: %v", err)
	}
	if report.Total != 1 {
		t.Fatalf("expected 1 event in range, got %d", report.Total)
	}
	if got := d.ids(); len(got) != 1 || got[0] != "evt-new" {
		t.Fatalf("expected only evt-new dispatched, got %v", got)
	}
}

func TestRetryFailedSkipsExhaustedEvents(t *testing.T) {
	st := memory.NewStore()
	ctx := context.Background()

	// one event under the retry budget, one at it
	if err := st.Save(ctx, storedEvent("evt-retryable", model.EntityProduct, time.Now().UTC(), 1)); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := st.MarkFailed(ctx, "evt-retryable", "boom"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if err := st.Save(ctx, storedEvent("evt-exhausted", model.EntityProduct, time.Now().UTC(), 3)); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := st.MarkFailed(ctx, "evt-exhausted", "boom"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	d := &stubDispatcher{}
	s := New(st, d, 3, 100, time.Hour, zap.NewNop())

	report, err := s.RetryFailed(ctx)
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if report.Total != 2 {
		t.Fatalf("expected total 2, got %d", report.Total)
	}
	if report.Skipped != 1 {
		t.Fatalf("expected 1 skipped, got %d", report.Skipped)
	}
	if report.Success != 1 {
		t.Fatalf("expected 1 success, got %d", report.Success)
	}

	// the exhausted event must never reach the dispatcher
	for _, id := range d.ids() {
		if id == "evt-exhausted" {
			t.Fatal("exhausted event was dispatched")
		}
	}

	// the retried event carries an incremented retry count
	if len(d.dispatched) != 1 || d.dispatched[0].RetryCount() != 2 {
		t.Fatalf("expected retry count 2 on dispatched event, got %+v", d.dispatched)
	}

	if status, _ := st.Status("evt-exhausted"); status != model.EventStatusSkipped {
		t.Fatalf("expected skipped status, got %q", status)
	}
}

func TestCleanupUsesRetentionCutoff(t *testing.T) {
	st := memory.NewStore()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	if err := st.Save(ctx, storedEvent("evt-stale", model.EntityProduct, now.Add(-48*time.Hour), 0)); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := st.MarkProcessed(ctx, "evt-stale"); err != nil {
		t.Fatalf("mark processed: %v", err)
	}
	if err := st.Save(ctx, storedEvent("evt-fresh", model.EntityProduct, now.Add(-time.Hour), 0)); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := st.MarkProcessed(ctx, "evt-fresh"); err != nil {
		t.Fatalf("mark processed: %v", err)
	}

	s := New(st, &stubDispatcher{}, 3, 100, 24*time.Hour, zap.NewNop())
	s.now = func() time.Time { return now }

	removed, err := s.Cleanup(ctx)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removed, got %d", removed)
	}
	if _, err := st.GetByID(ctx, "evt-fresh"); err != nil {
		t.Fatalf("fresh event should survive, got %v", err)
	}
}

func TestProcessPendingDrainsBacklog(t *testing.T) {
	st := memory.NewStore()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		id := fmt.Sprintf("evt-%d", i)
		if err := st.Save(ctx, storedEvent(id, model.EntityProduct, time.Now().UTC(), 0)); err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	d := &stubDispatcher{}
	s := New(st, d, 3, 100, time.Hour, zap.NewNop())

	report, err := s.ProcessPending(ctx)
	if err != nil {
		t.Fatalf("process pending: %v", err)
	}
	if report.Total != 3 || report.Success != 3 {
		t.Fatalf("expected 3/3 processed, got %d/%d", report.Success, report.Total)
	}
	if d.count() != 3 {
		t.Fatalf("expected 3 dispatches, got %d", d.count())
	}
}
