package store

import (
	"context"
	"errors"
	"time"

	"github.com/erpbridge/erpbridge/pkg/model"
)

var ErrNotFound = errors.New("event not found")

// EventStore is the durable log of integration events. Save is an idempotent
// upsert keyed by event id; a race on the same id resolves last-write-wins.
// All operations are safe for concurrent use.
type EventStore interface {
	Save(ctx context.Context, evt *model.Event) error
	GetByID(ctx context.Context, eventID string) (*model.Event, error)
	ListByEntityType(ctx context.Context, entityType model.EntityType, limit int) ([]*model.Event, error)
	ListPending(ctx context.Context, limit int) ([]*model.Event, error)
	ListFailed(ctx context.Context, limit int) ([]*model.Event, error)
	MarkProcessed(ctx context.Context, eventID string) error
	MarkFailed(ctx context.Context, eventID string, message string) error
	MarkSkipped(ctx context.Context, eventID string) error
	// DeleteOlderThan removes processed rows with a timestamp before the
	// cutoff. Pending and failed rows are never touched.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
