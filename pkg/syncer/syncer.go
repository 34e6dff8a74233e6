// Package syncer runs bulk synchronization, bounded retries and retention
// sweeps over the event store.
package syncer

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/erpbridge/erpbridge/pkg/connector"
	"github.com/erpbridge/erpbridge/pkg/metrics"
	"github.com/erpbridge/erpbridge/pkg/model"
	"github.com/erpbridge/erpbridge/pkg/store"
)

// Dispatcher applies one envelope to the target system.
type Dispatcher interface {
	Dispatch(ctx context.Context, evt *model.Event) connector.SyncResult
}

// ReportError ties a failure message to the event that produced it.
type ReportError struct {
	EventID string `json:"event_id"`
	Message string `json:"message"`
}

// Report summarizes one sync or retry pass.
type Report struct {
	Total   int           `json:"total"`
	Success int           `json:"success"`
	Failed  int           `json:"failed"`
	Skipped int           `json:"skipped"`
	Errors  []ReportError `json:"errors,omitempty"`
}

type Syncer struct {
	store      store.EventStore
	dispatcher Dispatcher
	logger     *zap.Logger

	maxRetries int
	retention  time.Duration
	pageSize   int

	// now is swapped in tests to pin the cleanup cutoff
	now func() time.Time
}

func New(st store.EventStore, dispatcher Dispatcher, maxRetries, pageSize int, retention time.Duration, logger *zap.Logger) *Syncer {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if pageSize <= 0 {
		pageSize = 100
	}
	return &Syncer{
		store:      st,
		dispatcher: dispatcher,
		logger:     logger,
		maxRetries: maxRetries,
		retention:  retention,
		pageSize:   pageSize,
		now:        time.Now,
	}
}

// FullSync synthesizes a Sync envelope per source record and dispatches each.
// One record's failure never aborts the batch.
func (s *Syncer) FullSync(ctx context.Context, entity model.EntityType, records []map[string]interface{}) Report {
	report := Report{Total: len(records)}
	now := s.now().UTC()

	for _, record := range records {
		evt := &model.Event{
			EventID:    syncEventID(entity, record, now),
			EventType:  model.EventSync,
			EntityType: entity,
			Timestamp:  now,
			SourceSystem: &model.SourceSystem{
				ERPName:    "manual_sync",
				InstanceID: "bridge",
			},
			Payload: &model.Payload{Data: record},
		}
		result := s.dispatcher.Dispatch(ctx, evt)
		if result.Success {
			report.Success++
		} else {
			report.Failed++
			report.Errors = append(report.Errors, ReportError{EventID: evt.EventID, Message: result.Message})
		}
	}

	s.logger.Info("full sync finished",
		zap.String("entity_type", string(entity)),
		zap.Int("total", report.Total),
		zap.Int("success", report.Success),
		zap.Int("failed", report.Failed),
	)
	return report
}

func syncEventID(entity model.EntityType, record map[string]interface{}, now time.Time) string {
	id := "unknown"
	if raw, ok := record["id"]; ok {
		id = fmt.Sprint(raw)
	}
	return fmt.Sprintf("sync_%s_%s_%d_%s", entity, id, now.Unix(), uuid.NewString()[:8])
}

// IncrementalSync re-dispatches stored events for one entity kind with a
// timestamp at or after since.
func (s *Syncer) IncrementalSync(ctx context.Context, entity model.EntityType, since time.Time) (Report, error) {
	events, err := s.store.ListByEntityType(ctx, entity, s.pageSize)
	if err != nil {
		return Report{}, fmt.Errorf("list events for %s: %w", entity, err)
	}

	var report Report
	for _, evt := range events {
		if evt.Timestamp.Before(since) {
			continue
		}
		report.Total++
		result := s.dispatcher.Dispatch(ctx, evt)
		if result.Success {
			report.Success++
		} else {
			report.Failed++
			report.Errors = append(report.Errors, ReportError{EventID: evt.EventID, Message: result.Message})
		}
	}

	s.logger.Info("incremental sync finished",
		zap.String("entity_type", string(entity)),
		zap.Time("since", since),
		zap.Int("total", report.Total),
		zap.Int("failed", report.Failed),
	)
	return report, nil
}

// RetryFailed re-dispatches one page of failed events. Events that exhausted
// their retry budget are marked skipped and never dispatched again. This is
// the only place retry counts change.
func (s *Syncer) RetryFailed(ctx context.Context) (Report, error) {
	events, err := s.store.ListFailed(ctx, s.pageSize)
	if err != nil {
		return Report{}, fmt.Errorf("list failed events: %w", err)
	}

	report := Report{Total: len(events)}
	for _, evt := range events {
		if evt.RetryCount() >= s.maxRetries {
			if err := s.store.MarkSkipped(ctx, evt.EventID); err != nil {
				s.logger.Error("failed to mark event skipped",
					zap.String("event_id", evt.EventID),
					zap.Error(err),
				)
			}
			report.Skipped++
			s.logger.Warn("retry budget exhausted",
				zap.String("event_id", evt.EventID),
				zap.Int("retry_count", evt.RetryCount()),
			)
			continue
		}

		evt.SetRetryCount(evt.RetryCount() + 1)
		metrics.RetriesTotal.Inc()
		result := s.dispatcher.Dispatch(ctx, evt)
		if result.Success {
			report.Success++
		} else {
			report.Failed++
			report.Errors = append(report.Errors, ReportError{EventID: evt.EventID, Message: result.Message})
		}
	}

	if report.Total > 0 {
		s.logger.Info("retry sweep finished",
			zap.Int("total", report.Total),
			zap.Int("success", report.Success),
			zap.Int("skipped", report.Skipped),
		)
	}
	return report, nil
}

// Cleanup removes processed events older than the retention window.
func (s *Syncer) Cleanup(ctx context.Context) (int64, error) {
	cutoff := s.now().UTC().Add(-s.retention)
	removed, err := s.store.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup events: %w", err)
	}
	if removed > 0 {
		s.logger.Info("cleanup sweep finished",
			zap.Time("cutoff", cutoff),
			zap.Int64("removed", removed),
		)
	}
	return removed, nil
}

// ProcessPending drains events left pending by a prior crash through the
// regular dispatch path.
func (s *Syncer) ProcessPending(ctx context.Context) (Report, error) {
	events, err := s.store.ListPending(ctx, s.pageSize)
	if err != nil {
		return Report{}, fmt.Errorf("list pending events: %w", err)
	}

	report := Report{Total: len(events)}
	for _, evt := range events {
		result := s.dispatcher.Dispatch(ctx, evt)
		if result.Success {
			report.Success++
		} else {
			report.Failed++
			report.Errors = append(report.Errors, ReportError{EventID: evt.EventID, Message: result.Message})
		}
	}

	if report.Total > 0 {
		s.logger.Info("pending catch-up finished",
			zap.Int("total", report.Total),
			zap.Int("success", report.Success),
		)
	}
	return report, nil
}

// RunSweeps blocks running periodic retry and cleanup passes until ctx is
// cancelled.
func (s *Syncer) RunSweeps(ctx context.Context, retryInterval, cleanupInterval time.Duration) {
	retryTicker := time.NewTicker(retryInterval)
	defer retryTicker.Stop()
	cleanupTicker := time.NewTicker(cleanupInterval)
	defer cleanupTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-retryTicker.C:
			if _, err := s.RetryFailed(ctx); err != nil {
				s.logger.Error("retry sweep failed", zap.Error(err))
			}
		case <-cleanupTicker.C:
			if _, err := s.Cleanup(ctx); err != nil {
				s.logger.Error("cleanup sweep failed", zap.Error(err))
			}
		}
	}
}
