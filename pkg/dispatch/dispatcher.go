// Package dispatch maps inbound envelopes onto idempotent target-system
// operations.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/erpbridge/erpbridge/pkg/connector"
	"github.com/erpbridge/erpbridge/pkg/correlation"
	"github.com/erpbridge/erpbridge/pkg/mapping"
	"github.com/erpbridge/erpbridge/pkg/metrics"
	"github.com/erpbridge/erpbridge/pkg/model"
	"github.com/erpbridge/erpbridge/pkg/store"
)

type Dispatcher struct {
	store    store.EventStore
	conn     connector.Connector
	registry correlation.Registry
	mapper   *mapping.Mapper
	logger   *zap.Logger
}

func New(st store.EventStore, conn connector.Connector, registry correlation.Registry, mapper *mapping.Mapper, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		store:    st,
		conn:     conn,
		registry: registry,
		mapper:   mapper,
		logger:   logger,
	}
}

// Dispatch persists the envelope, applies it to the target system and records
// the outcome. The envelope is saved before any side effect so a crash
// mid-dispatch leaves a recoverable pending row, never a lost event.
func (d *Dispatcher) Dispatch(ctx context.Context, evt *model.Event) connector.SyncResult {
	start := time.Now()

	if err := d.store.Save(ctx, evt); err != nil {
		// the event was never ingested; this is a store failure, not a
		// dispatch failure, and there is no row to mark
		d.logger.Error("failed to persist event",
			zap.String("event_id", evt.EventID),
			zap.Error(err),
		)
		result := connector.Failure("store save failed for event %s: %v", evt.EventID, err)
		result.ErrorDetails = map[string]interface{}{"store_error": err.Error()}
		return result
	}

	result := d.apply(ctx, evt)

	if result.Success {
		if err := d.store.MarkProcessed(ctx, evt.EventID); err != nil {
			d.logger.Error("failed to mark event processed",
				zap.String("event_id", evt.EventID),
				zap.Error(err),
			)
		}
		d.logger.Info("processed event",
			zap.String("event_id", evt.EventID),
			zap.String("event_type", string(evt.EventType)),
			zap.String("entity_type", string(evt.EntityType)),
			zap.Int64("record_id", result.RecordID),
		)
	} else {
		if err := d.store.MarkFailed(ctx, evt.EventID, result.Message); err != nil {
			d.logger.Error("failed to mark event failed",
				zap.String("event_id", evt.EventID),
				zap.Error(err),
			)
		}
		d.logger.Error("failed to process event",
			zap.String("event_id", evt.EventID),
			zap.String("event_type", string(evt.EventType)),
			zap.String("entity_type", string(evt.EntityType)),
			zap.String("message", result.Message),
		)
	}

	status := model.EventStatusProcessed
	if !result.Success {
		status = model.EventStatusFailed
	}
	metrics.EventsTotal.WithLabelValues(string(evt.EntityType), string(evt.EventType), status).Inc()
	metrics.DispatchDuration.WithLabelValues(string(evt.EntityType)).Observe(time.Since(start).Seconds())

	return result
}

func (d *Dispatcher) apply(ctx context.Context, evt *model.Event) (result connector.SyncResult) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("panic during dispatch",
				zap.String("event_id", evt.EventID),
				zap.Any("panic", r),
			)
			result = connector.Failure("internal error processing event %s: %v", evt.EventID, r)
		}
	}()

	targetModel, ok := d.mapper.ModelFor(evt.EntityType)
	if !ok {
		return connector.Failure("unsupported entity type: %s", evt.EntityType)
	}

	if !d.conn.IsConnected(ctx) {
		if err := d.conn.Connect(ctx); err != nil {
			return connector.Failure("connector unavailable: %v", err)
		}
	}

	switch evt.EventType {
	case model.EventCreate:
		return d.handleCreate(ctx, targetModel, evt)
	case model.EventUpdate:
		return d.handleUpdate(ctx, targetModel, evt)
	case model.EventDelete:
		return d.handleDelete(ctx, targetModel, evt)
	case model.EventSync:
		return d.handleSync(ctx, targetModel, evt)
	default:
		return connector.Failure("unsupported event type: %s", evt.EventType)
	}
}

// sourceRecordID extracts the source record id from the payload. Create
// events fall back to the event id so records without one still correlate.
func sourceRecordID(evt *model.Event) string {
	if raw, ok := evt.Data()["id"]; ok {
		switch id := raw.(type) {
		case string:
			return id
		case float64:
			if id == float64(int64(id)) {
				return fmt.Sprintf("%d", int64(id))
			}
			return fmt.Sprint(id)
		default:
			return fmt.Sprint(raw)
		}
	}
	if evt.EventType == model.EventCreate {
		return evt.EventID
	}
	return ""
}

func (d *Dispatcher) mapPayload(ctx context.Context, evt *model.Event, partial bool) (map[string]interface{}, connector.SyncResult, bool) {
	var mapped map[string]interface{}
	var err error
	if partial {
		mapped, err = d.mapper.MapPartial(ctx, evt.EntityType, evt.Data())
	} else {
		mapped, err = d.mapper.Map(ctx, evt.EntityType, evt.Data())
	}
	if err != nil {
		var validationErr *mapping.ValidationError
		if errors.As(err, &validationErr) {
			return nil, connector.Failure("validation failed: %v", validationErr), false
		}
		return nil, connector.Failure("mapping failed: %v", err), false
	}
	return mapped, connector.SyncResult{}, true
}

func (d *Dispatcher) handleCreate(ctx context.Context, targetModel string, evt *model.Event) connector.SyncResult {
	mapped, failure, ok := d.mapPayload(ctx, evt, false)
	if !ok {
		return failure
	}

	result := d.conn.CreateRecord(ctx, targetModel, mapped)
	if !result.Success || result.RecordID == 0 {
		return result
	}

	key := correlation.Key(evt.SourceSystem, sourceRecordID(evt))
	if err := d.registry.Register(ctx, key, targetModel, result.RecordID); err != nil {
		if errors.Is(err, correlation.ErrConflict) {
			return connector.Failure("correlation key already registered: %s", key)
		}
		return connector.Failure("failed to register correlation key %s: %v", key, err)
	}
	return result
}

func (d *Dispatcher) handleUpdate(ctx context.Context, targetModel string, evt *model.Event) connector.SyncResult {
	key := correlation.Key(evt.SourceSystem, sourceRecordID(evt))
	recordID, err := d.registry.Resolve(ctx, key)
	if err != nil {
		if errors.Is(err, correlation.ErrNotFound) {
			return connector.Failure("record not found for correlation key: %s", key)
		}
		return connector.Failure("failed to resolve correlation key %s: %v", key, err)
	}

	// updates map only the fields the source sent
	mapped, failure, ok := d.mapPayload(ctx, evt, true)
	if !ok {
		return failure
	}
	return d.conn.UpdateRecord(ctx, targetModel, recordID, mapped)
}

func (d *Dispatcher) handleDelete(ctx context.Context, targetModel string, evt *model.Event) connector.SyncResult {
	key := correlation.Key(evt.SourceSystem, sourceRecordID(evt))
	recordID, err := d.registry.Resolve(ctx, key)
	if err != nil {
		if errors.Is(err, correlation.ErrNotFound) {
			return connector.Failure("record not found for correlation key: %s", key)
		}
		return connector.Failure("failed to resolve correlation key %s: %v", key, err)
	}
	return d.conn.DeleteRecord(ctx, targetModel, recordID)
}

// handleSync is the only create-or-update path: an unresolved key falls
// through to create-and-register instead of failing.
func (d *Dispatcher) handleSync(ctx context.Context, targetModel string, evt *model.Event) connector.SyncResult {
	key := correlation.Key(evt.SourceSystem, sourceRecordID(evt))
	recordID, err := d.registry.Resolve(ctx, key)
	if err != nil && !errors.Is(err, correlation.ErrNotFound) {
		return connector.Failure("failed to resolve correlation key %s: %v", key, err)
	}

	mapped, failure, ok := d.mapPayload(ctx, evt, false)
	if !ok {
		return failure
	}

	if err == nil {
		return d.conn.UpdateRecord(ctx, targetModel, recordID, mapped)
	}

	result := d.conn.CreateRecord(ctx, targetModel, mapped)
	if !result.Success || result.RecordID == 0 {
		return result
	}
	if err := d.registry.Register(ctx, key, targetModel, result.RecordID); err != nil {
		if errors.Is(err, correlation.ErrConflict) {
			return connector.Failure("correlation key already registered: %s", key)
		}
		return connector.Failure("failed to register correlation key %s: %v", key, err)
	}
	return result
}
