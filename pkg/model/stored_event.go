package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

const (
	EventStatusPending   = "pending"
	EventStatusProcessed = "processed"
	EventStatusFailed    = "failed"
	EventStatusSkipped   = "skipped"
)

type JSONB map[string]interface{}

func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("failed to scan JSONB: %v", value)
	}
	return json.Unmarshal(bytes, j)
}

func (j JSONB) GormDataType() string {
	return "jsonb"
}

// StoredEvent is the persisted projection of an envelope plus its processing
// status. event_id is the idempotency key: re-saving the same id replaces the
// row instead of duplicating it.
type StoredEvent struct {
	ID           uint      `gorm:"primaryKey"`
	EventID      string    `gorm:"uniqueIndex;not null"`
	EventType    string    `gorm:"not null"`
	EntityType   string    `gorm:"not null;index"`
	Timestamp    time.Time `gorm:"not null;index"`
	SourceSystem JSONB     `gorm:"type:jsonb"`
	Payload      JSONB     `gorm:"type:jsonb"`
	Context      JSONB     `gorm:"type:jsonb"`
	Status       string    `gorm:"type:varchar(20);default:'pending';index"`
	ErrorMessage string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (StoredEvent) TableName() string {
	return "integration_events"
}

func toJSONB(v interface{}) (JSONB, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out JSONB
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func fromJSONB(j JSONB, out interface{}) error {
	if j == nil {
		return nil
	}
	raw, err := json.Marshal(j)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

// NewStoredEvent projects an envelope into a pending store row.
func NewStoredEvent(evt *Event) (*StoredEvent, error) {
	rec := &StoredEvent{
		EventID:    evt.EventID,
		EventType:  string(evt.EventType),
		EntityType: string(evt.EntityType),
		Timestamp:  evt.Timestamp,
		Status:     EventStatusPending,
	}
	var err error
	if evt.SourceSystem != nil {
		if rec.SourceSystem, err = toJSONB(evt.SourceSystem); err != nil {
			return nil, fmt.Errorf("encode source system: %w", err)
		}
	}
	if evt.Payload != nil {
		if rec.Payload, err = toJSONB(evt.Payload); err != nil {
			return nil, fmt.Errorf("encode payload: %w", err)
		}
	}
	if evt.Context != nil {
		if rec.Context, err = toJSONB(evt.Context); err != nil {
			return nil, fmt.Errorf("encode context: %w", err)
		}
	}
	return rec, nil
}

// Event reconstructs the envelope from a store row.
func (s *StoredEvent) Event() (*Event, error) {
	evt := &Event{
		EventID:    s.EventID,
		EventType:  EventType(s.EventType),
		EntityType: EntityType(s.EntityType),
		Timestamp:  s.Timestamp,
	}
	if s.SourceSystem != nil {
		evt.SourceSystem = &SourceSystem{}
		if err := fromJSONB(s.SourceSystem, evt.SourceSystem); err != nil {
			return nil, fmt.Errorf("decode source system: %w", err)
		}
	}
	if s.Payload != nil {
		evt.Payload = &Payload{}
		if err := fromJSONB(s.Payload, evt.Payload); err != nil {
			return nil, fmt.Errorf("decode payload: %w", err)
		}
	}
	if s.Context != nil {
		evt.Context = &Context{}
		if err := fromJSONB(s.Context, evt.Context); err != nil {
			return nil, fmt.Errorf("decode context: %w", err)
		}
	}
	return evt, nil
}
