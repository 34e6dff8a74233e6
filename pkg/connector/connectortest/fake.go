// Package connectortest provides an in-memory Connector for tests.
package connectortest

import (
	"context"
	"fmt"
	"sync"

	"github.com/erpbridge/erpbridge/pkg/connector"
)

// Fake is a configurable in-memory Connector. Error fields, when set, force
// the corresponding operation to fail.
type Fake struct {
	mu sync.Mutex

	ConnectErr error
	CreateErr  error
	UpdateErr  error
	DeleteErr  error
	SearchErr  error

	// CreatePanics makes CreateRecord panic, to exercise recovery paths.
	CreatePanics bool

	connected bool
	nextID    int64
	records   map[string]map[int64]map[string]interface{}
	externals map[string]connector.Record

	CreateCalls []string
	UpdateCalls []int64
	DeleteCalls []int64
}

func New() *Fake {
	return &Fake{
		nextID:    40,
		records:   make(map[string]map[int64]map[string]interface{}),
		externals: make(map[string]connector.Record),
	}
}

func (f *Fake) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ConnectErr != nil {
		return f.ConnectErr
	}
	f.connected = true
	return nil
}

func (f *Fake) Disconnect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	return nil
}

func (f *Fake) IsConnected(ctx context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *Fake) CreateRecord(ctx context.Context, model string, values map[string]interface{}) connector.SyncResult {
	if f.CreatePanics {
		panic("connector blew up")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CreateErr != nil {
		return connector.Failure("failed to create record in %s: %v", model, f.CreateErr)
	}
	f.nextID++
	id := f.nextID
	if f.records[model] == nil {
		f.records[model] = make(map[int64]map[string]interface{})
	}
	f.records[model][id] = values
	f.CreateCalls = append(f.CreateCalls, model)
	return connector.SyncResult{Success: true, RecordID: id, Message: fmt.Sprintf("record created in %s", model)}
}

func (f *Fake) UpdateRecord(ctx context.Context, model string, recordID int64, values map[string]interface{}) connector.SyncResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.UpdateErr != nil {
		return connector.Failure("failed to update record %d in %s: %v", recordID, model, f.UpdateErr)
	}
	if f.records[model] == nil {
		f.records[model] = make(map[int64]map[string]interface{})
	}
	f.records[model][recordID] = values
	f.UpdateCalls = append(f.UpdateCalls, recordID)
	return connector.SyncResult{Success: true, RecordID: recordID}
}

func (f *Fake) DeleteRecord(ctx context.Context, model string, recordID int64) connector.SyncResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.DeleteErr != nil {
		return connector.Failure("failed to delete record %d from %s: %v", recordID, model, f.DeleteErr)
	}
	delete(f.records[model], recordID)
	f.DeleteCalls = append(f.DeleteCalls, recordID)
	return connector.SyncResult{Success: true, RecordID: recordID}
}

func (f *Fake) SearchRecords(ctx context.Context, model string, domain []connector.Condition, limit int) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SearchErr != nil {
		return nil, f.SearchErr
	}
	var ids []int64
	for id, values := range f.records[model] {
		if matches(values, domain) {
			ids = append(ids, id)
			if limit > 0 && len(ids) >= limit {
				break
			}
		}
	}
	return ids, nil
}

func (f *Fake) SearchRead(ctx context.Context, model string, domain []connector.Condition, fields []string, limit int) ([]map[string]interface{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SearchErr != nil {
		return nil, f.SearchErr
	}
	var out []map[string]interface{}
	for id, values := range f.records[model] {
		if matches(values, domain) {
			row := map[string]interface{}{"id": id}
			for k, v := range values {
				row[k] = v
			}
			out = append(out, row)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func matches(values map[string]interface{}, domain []connector.Condition) bool {
	for _, cond := range domain {
		if cond.Op != "=" {
			return false
		}
		if values[cond.Field] != cond.Value {
			return false
		}
	}
	return true
}

func (f *Fake) FindByExternalID(ctx context.Context, externalID string) (*connector.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.externals[externalID]
	if !ok {
		return nil, nil
	}
	out := rec
	return &out, nil
}

func (f *Fake) SetExternalID(ctx context.Context, model string, recordID int64, externalID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.externals[externalID] = connector.Record{Model: model, RecordID: recordID, ExternalID: externalID}
	return nil
}

func (f *Fake) GetExternalID(ctx context.Context, model string, recordID int64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for ext, rec := range f.externals {
		if rec.Model == model && rec.RecordID == recordID {
			return ext, nil
		}
	}
	return "", nil
}

// Record returns the stored values for a record, for assertions.
func (f *Fake) Record(model string, recordID int64) (map[string]interface{}, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	values, ok := f.records[model][recordID]
	return values, ok
}

// Seed inserts a record with a fixed id without going through CreateRecord.
func (f *Fake) Seed(model string, recordID int64, values map[string]interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.records[model] == nil {
		f.records[model] = make(map[int64]map[string]interface{})
	}
	f.records[model][recordID] = values
}
