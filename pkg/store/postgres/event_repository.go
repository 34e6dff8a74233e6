package postgres

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/erpbridge/erpbridge/pkg/model"
	"github.com/erpbridge/erpbridge/pkg/store"
)

// EventRepository implements store.EventStore on Postgres. The upsert relies
// on the unique index over event_id, so concurrent saves of the same event
// resolve last-write-wins at the database rather than in application code.
type EventRepository struct {
	db *gorm.DB
}

func NewEventRepository(db *gorm.DB) *EventRepository {
	return &EventRepository{db: db}
}

func (r *EventRepository) Save(ctx context.Context, evt *model.Event) error {
	rec, err := model.NewStoredEvent(evt)
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "event_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"event_type", "entity_type", "timestamp",
				"source_system", "payload", "context",
				"status", "error_message", "updated_at",
			}),
		}).
		Create(rec).Error
}

func (r *EventRepository) GetByID(ctx context.Context, eventID string) (*model.Event, error) {
	var rec model.StoredEvent
	err := r.db.WithContext(ctx).First(&rec, "event_id = ?", eventID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return rec.Event()
}

func (r *EventRepository) ListByEntityType(ctx context.Context, entityType model.EntityType, limit int) ([]*model.Event, error) {
	return r.list(ctx, r.db.Where("entity_type = ?", string(entityType)), "timestamp DESC", limit)
}

func (r *EventRepository) ListPending(ctx context.Context, limit int) ([]*model.Event, error) {
	return r.list(ctx, r.db.Where("status = ?", model.EventStatusPending), "timestamp ASC", limit)
}

func (r *EventRepository) ListFailed(ctx context.Context, limit int) ([]*model.Event, error) {
	return r.list(ctx, r.db.Where("status = ?", model.EventStatusFailed), "timestamp DESC", limit)
}

func (r *EventRepository) list(ctx context.Context, query *gorm.DB, order string, limit int) ([]*model.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	var recs []model.StoredEvent
	err := query.WithContext(ctx).
		Order(order).
		Limit(limit).
		Find(&recs).Error
	if err != nil {
		return nil, err
	}
	events := make([]*model.Event, 0, len(recs))
	for i := range recs {
		evt, err := recs[i].Event()
		if err != nil {
			return nil, err
		}
		events = append(events, evt)
	}
	return events, nil
}

func (r *EventRepository) MarkProcessed(ctx context.Context, eventID string) error {
	return r.updateStatus(ctx, eventID, map[string]interface{}{
		"status":     model.EventStatusProcessed,
		"updated_at": time.Now(),
	})
}

func (r *EventRepository) MarkFailed(ctx context.Context, eventID string, message string) error {
	return r.updateStatus(ctx, eventID, map[string]interface{}{
		"status":        model.EventStatusFailed,
		"error_message": message,
		"updated_at":    time.Now(),
	})
}

func (r *EventRepository) MarkSkipped(ctx context.Context, eventID string) error {
	return r.updateStatus(ctx, eventID, map[string]interface{}{
		"status":     model.EventStatusSkipped,
		"updated_at": time.Now(),
	})
}

func (r *EventRepository) updateStatus(ctx context.Context, eventID string, updates map[string]interface{}) error {
	return r.db.WithContext(ctx).
		Model(&model.StoredEvent{}).
		Where("event_id = ?", eventID).
		Updates(updates).Error
}

func (r *EventRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("timestamp < ? AND status = ?", cutoff, model.EventStatusProcessed).
		Delete(&model.StoredEvent{})
	return result.RowsAffected, result.Error
}
