package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// WireEvent is the inbound JSON shape shared by the push feed and the webhook
// receiver. Field names follow the source system's casing.
type WireEvent struct {
	EventType    string            `json:"eventType" binding:"required"`
	EntityType   string            `json:"entityType" binding:"required"`
	EventID      string            `json:"eventId" binding:"required"`
	TimeStamp    string            `json:"timeStamp" binding:"required"`
	SourceSystem *WireSourceSystem `json:"sourceSystem,omitempty"`
	Payload      *WirePayload      `json:"payload,omitempty"`
	Context      *WireContext      `json:"context,omitempty"`
}

type WireSourceSystem struct {
	ERPName    string `json:"erpName"`
	InstanceID string `json:"instanceId"`
}

type WirePayload struct {
	Data     map[string]interface{} `json:"data,omitempty"`
	Metadata *WireMetadata          `json:"metadata,omitempty"`
}

type WireMetadata struct {
	Version       string `json:"version,omitempty"`
	SchemaVersion string `json:"schemaVersion,omitempty"`
}

type WireContext struct {
	Header     *WireHeader `json:"header,omitempty"`
	RetryCount int         `json:"retryCount,omitempty"`
}

type WireHeader struct {
	CorrelationID string `json:"correlationId,omitempty"`
	TenantID      string `json:"tenantId,omitempty"`
	UserID        string `json:"userId,omitempty"`
}

// timestamps arrive as RFC 3339 or as a bare local datetime without a zone
var timestampLayouts = []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05"}

func parseTimestamp(value string) (time.Time, error) {
	var lastErr error
	for _, layout := range timestampLayouts {
		ts, err := time.Parse(layout, value)
		if err == nil {
			return ts, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

// ToEvent validates the wire shape and converts it to the canonical envelope.
func (w *WireEvent) ToEvent() (*Event, error) {
	if w.EventID == "" {
		return nil, fmt.Errorf("event is missing eventId")
	}
	eventType := EventType(w.EventType)
	if !eventType.Valid() {
		return nil, fmt.Errorf("unknown eventType %q", w.EventType)
	}
	entityType := EntityType(w.EntityType)
	if !entityType.Valid() {
		return nil, fmt.Errorf("unknown entityType %q", w.EntityType)
	}
	ts, err := parseTimestamp(w.TimeStamp)
	if err != nil {
		return nil, fmt.Errorf("parse timeStamp %q: %w", w.TimeStamp, err)
	}

	evt := &Event{
		EventID:    w.EventID,
		EventType:  eventType,
		EntityType: entityType,
		Timestamp:  ts,
	}
	if w.SourceSystem != nil {
		evt.SourceSystem = &SourceSystem{
			ERPName:    w.SourceSystem.ERPName,
			InstanceID: w.SourceSystem.InstanceID,
		}
	}
	if w.Payload != nil {
		evt.Payload = &Payload{Data: w.Payload.Data}
		if w.Payload.Metadata != nil {
			evt.Payload.Metadata = &Metadata{
				Version:       w.Payload.Metadata.Version,
				SchemaVersion: w.Payload.Metadata.SchemaVersion,
			}
		}
	}
	if w.Context != nil {
		evt.Context = &Context{RetryCount: w.Context.RetryCount}
		if w.Context.Header != nil {
			evt.Context.Header = &Header{
				CorrelationID: w.Context.Header.CorrelationID,
				TenantID:      w.Context.Header.TenantID,
				UserID:        w.Context.Header.UserID,
			}
		}
	}
	return evt, nil
}

// ParseEvent decodes one inbound event from raw JSON.
func ParseEvent(data []byte) (*Event, error) {
	var wire WireEvent
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("unmarshal event: %w", err)
	}
	return wire.ToEvent()
}
