// Package memory provides an in-process EventStore for single-node
// deployments without Postgres and for tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/erpbridge/erpbridge/pkg/model"
	"github.com/erpbridge/erpbridge/pkg/store"
)

type Store struct {
	mu      sync.RWMutex
	records map[string]*model.StoredEvent
}

func NewStore() *Store {
	return &Store{records: make(map[string]*model.StoredEvent)}
}

func (s *Store) Save(ctx context.Context, evt *model.Event) error {
	rec, err := model.NewStoredEvent(evt)
	if err != nil {
		return err
	}
	now := time.Now()
	rec.UpdatedAt = now

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.records[evt.EventID]; ok {
		rec.ID = existing.ID
		rec.CreatedAt = existing.CreatedAt
	} else {
		rec.ID = uint(len(s.records) + 1)
		rec.CreatedAt = now
	}
	s.records[evt.EventID] = rec
	return nil
}

func (s *Store) GetByID(ctx context.Context, eventID string) (*model.Event, error) {
	s.mu.RLock()
	rec, ok := s.records[eventID]
	s.mu.RUnlock()
	if !ok {
		return nil, store.ErrNotFound
	}
	return rec.Event()
}

// Status reports the stored status for an event id. It is not part of the
// EventStore contract; callers use it for inspection.
func (s *Store) Status(eventID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[eventID]
	if !ok {
		return "", false
	}
	return rec.Status, true
}

// ErrorMessage reports the stored error message for an event id.
func (s *Store) ErrorMessage(eventID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[eventID]
	if !ok {
		return "", false
	}
	return rec.ErrorMessage, true
}

// Len reports the number of stored rows.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func (s *Store) ListByEntityType(ctx context.Context, entityType model.EntityType, limit int) ([]*model.Event, error) {
	return s.list(func(rec *model.StoredEvent) bool {
		return rec.EntityType == string(entityType)
	}, false, limit)
}

func (s *Store) ListPending(ctx context.Context, limit int) ([]*model.Event, error) {
	return s.list(func(rec *model.StoredEvent) bool {
		return rec.Status == model.EventStatusPending
	}, true, limit)
}

func (s *Store) ListFailed(ctx context.Context, limit int) ([]*model.Event, error) {
	return s.list(func(rec *model.StoredEvent) bool {
		return rec.Status == model.EventStatusFailed
	}, false, limit)
}

func (s *Store) list(match func(*model.StoredEvent) bool, ascending bool, limit int) ([]*model.Event, error) {
	if limit <= 0 {
		limit = 100
	}

	s.mu.RLock()
	matched := make([]*model.StoredEvent, 0, len(s.records))
	for _, rec := range s.records {
		if match(rec) {
			matched = append(matched, rec)
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if ascending {
			return matched[i].Timestamp.Before(matched[j].Timestamp)
		}
		return matched[j].Timestamp.Before(matched[i].Timestamp)
	})
	if len(matched) > limit {
		matched = matched[:limit]
	}

	events := make([]*model.Event, 0, len(matched))
	for _, rec := range matched {
		evt, err := rec.Event()
		if err != nil {
			return nil, err
		}
		events = append(events, evt)
	}
	return events, nil
}

func (s *Store) MarkProcessed(ctx context.Context, eventID string) error {
	return s.updateStatus(eventID, model.EventStatusProcessed, "")
}

func (s *Store) MarkFailed(ctx context.Context, eventID string, message string) error {
	return s.updateStatus(eventID, model.EventStatusFailed, message)
}

func (s *Store) MarkSkipped(ctx context.Context, eventID string) error {
	return s.updateStatus(eventID, model.EventStatusSkipped, "")
}

func (s *Store) updateStatus(eventID, status, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[eventID]
	if !ok {
		return store.ErrNotFound
	}
	rec.Status = status
	if message != "" {
		rec.ErrorMessage = message
	}
	rec.UpdatedAt = time.Now()
	return nil
}

func (s *Store) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var deleted int64
	for id, rec := range s.records {
		if rec.Status == model.EventStatusProcessed && rec.Timestamp.Before(cutoff) {
			delete(s.records, id)
			deleted++
		}
	}
	return deleted, nil
}
