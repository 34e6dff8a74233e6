package model

import (
	"time"
)

type EventType string

const (
	EventCreate EventType = "Create"
	EventUpdate EventType = "Update"
	EventDelete EventType = "Delete"
	EventSync   EventType = "Sync"
)

func (t EventType) Valid() bool {
	switch t {
	case EventCreate, EventUpdate, EventDelete, EventSync:
		return true
	}
	return false
}

type EntityType string

const (
	EntityProduct    EntityType = "Product"
	EntityUser       EntityType = "User"
	EntityStore      EntityType = "Store"
	EntityInvoice    EntityType = "Invoice"
	EntityShift      EntityType = "Shift"
	EntityZetaReport EntityType = "ZetaReport"
)

func (t EntityType) Valid() bool {
	switch t {
	case EntityProduct, EntityUser, EntityStore, EntityInvoice, EntityShift, EntityZetaReport:
		return true
	}
	return false
}

// SourceSystem identifies the origin of an event and scopes correlation keys.
type SourceSystem struct {
	ERPName    string `json:"erp_name"`
	InstanceID string `json:"instance_id"`
}

type Metadata struct {
	Version       string `json:"version,omitempty"`
	SchemaVersion string `json:"schema_version,omitempty"`
}

type Payload struct {
	Data     map[string]interface{} `json:"data,omitempty"`
	Metadata *Metadata              `json:"metadata,omitempty"`
}

type Header struct {
	CorrelationID string `json:"correlation_id,omitempty"`
	TenantID      string `json:"tenant_id,omitempty"`
	UserID        string `json:"user_id,omitempty"`
}

type Context struct {
	Header     *Header `json:"header,omitempty"`
	RetryCount int     `json:"retry_count"`
}

// Event is the canonical envelope for one change notification, regardless of
// which transport delivered it.
type Event struct {
	EventID      string        `json:"event_id"`
	EventType    EventType     `json:"event_type"`
	EntityType   EntityType    `json:"entity_type"`
	Timestamp    time.Time     `json:"timestamp"`
	SourceSystem *SourceSystem `json:"source_system,omitempty"`
	Payload      *Payload      `json:"payload,omitempty"`
	Context      *Context      `json:"context,omitempty"`
}

// Data returns the payload field map, or nil when the envelope carries none.
func (e *Event) Data() map[string]interface{} {
	if e.Payload == nil {
		return nil
	}
	return e.Payload.Data
}

func (e *Event) RetryCount() int {
	if e.Context == nil {
		return 0
	}
	return e.Context.RetryCount
}

func (e *Event) SetRetryCount(n int) {
	if e.Context == nil {
		e.Context = &Context{}
	}
	e.Context.RetryCount = n
}
