// Package correlation ties source records to target ERP records through
// derived external references.
package correlation

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/erpbridge/erpbridge/pkg/connector"
	"github.com/erpbridge/erpbridge/pkg/model"
)

var (
	ErrNotFound = errors.New("correlation key not found")
	ErrConflict = errors.New("correlation key already registered")
)

// Key derives the correlation key for a source record. The key is scoped by
// the origin system and instance so two sources can share record ids.
func Key(src *model.SourceSystem, recordID string) string {
	if src == nil {
		return recordID
	}
	return fmt.Sprintf("%s_%s_%s", src.ERPName, src.InstanceID, recordID)
}

// Registry is the append-only mapping from correlation key to target record.
// Register must reject a duplicate key with ErrConflict rather than
// overwrite it.
type Registry interface {
	Resolve(ctx context.Context, key string) (int64, error)
	Register(ctx context.Context, key, targetModel string, recordID int64) error
}

// ConnectorRegistry stores the mapping in the target system's external-id
// table. Registrations are serialized so two concurrent creates for the same
// key cannot both pass the duplicate check.
type ConnectorRegistry struct {
	conn   connector.Connector
	logger *zap.Logger
	mu     sync.Mutex
}

func NewConnectorRegistry(conn connector.Connector, logger *zap.Logger) *ConnectorRegistry {
	return &ConnectorRegistry{conn: conn, logger: logger}
}

func (r *ConnectorRegistry) Resolve(ctx context.Context, key string) (int64, error) {
	rec, err := r.conn.FindByExternalID(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("resolve %s: %w", key, err)
	}
	if rec == nil || rec.RecordID == 0 {
		return 0, ErrNotFound
	}
	return rec.RecordID, nil
}

func (r *ConnectorRegistry) Register(ctx context.Context, key, targetModel string, recordID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, err := r.conn.FindByExternalID(ctx, key)
	if err != nil {
		return fmt.Errorf("register %s: %w", key, err)
	}
	if existing != nil && existing.RecordID != 0 {
		return fmt.Errorf("register %s for record %d: %w", key, recordID, ErrConflict)
	}
	if err := r.conn.SetExternalID(ctx, targetModel, recordID, key); err != nil {
		return fmt.Errorf("register %s: %w", key, err)
	}
	r.logger.Debug("registered correlation key",
		zap.String("key", key),
		zap.String("model", targetModel),
		zap.Int64("record_id", recordID),
	)
	return nil
}
