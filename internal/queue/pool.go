package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"teamdigest/internal/event"
	"teamdigest/internal/metrics"
)

// Processor consumes one dequeued event. Processing errors are logged and the
// event is dropped; redelivery is the platform's responsibility.
type Processor interface {
	Process(ctx context.Context, env *event.Envelope, lane Lane) error
}

// Pool drains the manager with a fixed number of workers.
type Pool struct {
	manager   *Manager
	processor Processor
	workers   int

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewPool(manager *Manager, processor Processor, workers int) *Pool {
	if workers < 1 {
		workers = 1
	}
	return &Pool{manager: manager, processor: processor, workers: workers}
}

func (p *Pool) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	slog.Info("Starting pipeline workers", "count", p.workers)
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.run(ctx, i)
	}
}

func (p *Pool) run(ctx context.Context, id int) {
	defer p.wg.Done()
	for {
		env, lane, err := p.manager.PopNext(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				slog.Error("Worker stopping on dequeue error", "worker", id, "error", err)
			}
			return
		}
		if err := p.processor.Process(ctx, env, lane); err != nil {
			metrics.PipelineErrors.Inc()
			slog.Error("Failed to process event",
				"worker", id,
				"event_id", env.EventID,
				"lane", lane.String(),
				"error", err)
			continue
		}
		metrics.EventsProcessed.WithLabelValues(lane.String()).Inc()
	}
}

// Stop cancels the workers and waits for in-flight events to finish.
func (p *Pool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	slog.Info("Pipeline workers stopped")
}
