// Package pipeline serializes event processing through a bounded in-process
// queue with a single worker goroutine.
package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"

	"github.com/erpbridge/erpbridge/pkg/connector"
	"github.com/erpbridge/erpbridge/pkg/metrics"
	"github.com/erpbridge/erpbridge/pkg/model"
)

var (
	ErrQueueFull  = errors.New("event queue is full")
	ErrNotRunning = errors.New("pipeline is not running")
)

// Dispatcher applies one envelope to the target system.
type Dispatcher interface {
	Dispatch(ctx context.Context, evt *model.Event) connector.SyncResult
}

// BatchResult aggregates the outcome of a DispatchBatch call.
type BatchResult struct {
	Total   int
	Success int
	Failed  int
	Errors  []string
}

type Pipeline struct {
	dispatcher  Dispatcher
	logger      *zap.Logger
	queue       chan *model.Event
	concurrency int

	running atomic.Bool
	stopCh  chan struct{}
	done    chan struct{}
}

func New(dispatcher Dispatcher, capacity, batchConcurrency int, logger *zap.Logger) *Pipeline {
	if capacity <= 0 {
		capacity = 1000
	}
	if batchConcurrency <= 0 {
		batchConcurrency = 4
	}
	return &Pipeline{
		dispatcher:  dispatcher,
		logger:      logger,
		queue:       make(chan *model.Event, capacity),
		concurrency: batchConcurrency,
	}
}

// Start launches the worker. Calling Start on a running pipeline is a no-op.
func (p *Pipeline) Start(ctx context.Context) {
	if !p.running.CompareAndSwap(false, true) {
		return
	}
	p.stopCh = make(chan struct{})
	p.done = make(chan struct{})
	go p.run(ctx)
	p.logger.Info("event pipeline started", zap.Int("capacity", cap(p.queue)))
}

// Enqueue hands an event to the worker without blocking. A full queue is the
// caller's signal to shed load.
func (p *Pipeline) Enqueue(evt *model.Event) error {
	if !p.running.Load() {
		return ErrNotRunning
	}
	select {
	case p.queue <- evt:
		metrics.QueueDepth.Set(float64(len(p.queue)))
		return nil
	default:
		return ErrQueueFull
	}
}

// Depth reports the number of queued events.
func (p *Pipeline) Depth() int {
	return len(p.queue)
}

func (p *Pipeline) run(ctx context.Context) {
	defer close(p.done)
	for {
		select {
		case evt := <-p.queue:
			p.process(ctx, evt)
		case <-p.stopCh:
			p.drain(ctx)
			return
		case <-ctx.Done():
			return
		}
	}
}

// drain processes everything still queued at shutdown so accepted events are
// never dropped.
func (p *Pipeline) drain(ctx context.Context) {
	for {
		select {
		case evt := <-p.queue:
			p.process(ctx, evt)
		default:
			return
		}
	}
}

func (p *Pipeline) process(ctx context.Context, evt *model.Event) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("panic in pipeline worker",
				zap.String("event_id", evt.EventID),
				zap.Any("panic", r),
			)
			time.Sleep(100 * time.Millisecond)
		}
	}()
	p.dispatcher.Dispatch(ctx, evt)
	metrics.QueueDepth.Set(float64(len(p.queue)))
}

// Stop closes intake and waits for the worker to drain, bounded by ctx.
func (p *Pipeline) Stop(ctx context.Context) error {
	if !p.running.CompareAndSwap(true, false) {
		return nil
	}
	close(p.stopCh)
	select {
	case <-p.done:
		p.logger.Info("event pipeline stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// DispatchBatch applies a slice of events concurrently, bypassing the queue.
// Failures are collected per event; one bad envelope never aborts the batch.
func (p *Pipeline) DispatchBatch(ctx context.Context, events []*model.Event) BatchResult {
	result := BatchResult{Total: len(events)}
	var mu sync.Mutex

	workers := pool.New().WithMaxGoroutines(p.concurrency)
	for _, evt := range events {
		evt := evt
		workers.Go(func() {
			r := p.dispatcher.Dispatch(ctx, evt)
			mu.Lock()
			defer mu.Unlock()
			if r.Success {
				result.Success++
			} else {
				result.Failed++
				result.Errors = append(result.Errors, r.Message)
			}
		})
	}
	workers.Wait()
	return result
}
