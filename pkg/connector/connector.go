// Package connector defines the contract against the target ERP backend.
package connector

import (
	"context"
	"fmt"
)

// SyncResult is the outcome of applying one operation to the target system.
// Expected failures (validation, correlation, remote errors) travel in the
// result; Go errors are reserved for transport and programmer errors.
type SyncResult struct {
	Success      bool                   `json:"success"`
	RecordID     int64                  `json:"record_id,omitempty"`
	Message      string                 `json:"message,omitempty"`
	ErrorDetails map[string]interface{} `json:"error_details,omitempty"`
}

func Failure(format string, args ...interface{}) SyncResult {
	return SyncResult{Success: false, Message: fmt.Sprintf(format, args...)}
}

// Condition is one element of a search domain: field, operator, value.
type Condition struct {
	Field string
	Op    string
	Value interface{}
}

func Eq(field string, value interface{}) Condition {
	return Condition{Field: field, Op: "=", Value: value}
}

// Record is a target-system record located through its external reference.
type Record struct {
	Model      string
	RecordID   int64
	ExternalID string
}

// Connector performs create/update/delete/search against the ERP backend.
// FindByExternalID returns (nil, nil) when no record carries the reference;
// callers decide whether that is an error.
type Connector interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	IsConnected(ctx context.Context) bool

	CreateRecord(ctx context.Context, model string, values map[string]interface{}) SyncResult
	UpdateRecord(ctx context.Context, model string, recordID int64, values map[string]interface{}) SyncResult
	DeleteRecord(ctx context.Context, model string, recordID int64) SyncResult
	SearchRecords(ctx context.Context, model string, domain []Condition, limit int) ([]int64, error)
	SearchRead(ctx context.Context, model string, domain []Condition, fields []string, limit int) ([]map[string]interface{}, error)

	FindByExternalID(ctx context.Context, externalID string) (*Record, error)
	SetExternalID(ctx context.Context, model string, recordID int64, externalID string) error
	GetExternalID(ctx context.Context, model string, recordID int64) (string, error)
}
