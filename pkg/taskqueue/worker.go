package taskqueue

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/anvilfs/anvil/pkg/anvilerr"
	"github.com/anvilfs/anvil/pkg/metrics"
	"github.com/anvilfs/anvil/pkg/types"
)

// Handler processes one claimed task's payload. A returned error causes the
// task to transition to Failed (and retry with backoff) or DeadLetter once
// maxAttempts is exhausted.
type Handler func(ctx context.Context, task *types.Task) error

// Pool polls the Queue on an interval, claiming a batch of eligible tasks
// and dispatching each to its registered Handler concurrently.
type Pool struct {
	queue     *Queue
	handlers  map[types.TaskType]Handler
	batchSize int
	interval  time.Duration
	logger    zerolog.Logger
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

// NewPool builds an unstarted worker pool.
func NewPool(queue *Queue, interval time.Duration, batchSize int, logger zerolog.Logger) *Pool {
	if batchSize <= 0 {
		batchSize = 10
	}
	return &Pool{
		queue:     queue,
		handlers:  make(map[types.TaskType]Handler),
		batchSize: batchSize,
		interval:  interval,
		logger:    logger.With().Str("component", "taskqueue").Logger(),
		stopCh:    make(chan struct{}),
	}
}

// Register associates a Handler with a task type; call before Start.
func (p *Pool) Register(taskType types.TaskType, handler Handler) {
	p.handlers[taskType] = handler
}

// Start begins the polling loop in a background goroutine.
func (p *Pool) Start() {
	p.wg.Add(1)
	go p.run()
}

// Stop signals the polling loop to exit and waits for in-flight tasks.
func (p *Pool) Stop() {
	close(p.stopCh)
	p.wg.Wait()
}

func (p *Pool) run() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.logger.Info().Msg("task queue worker pool started")

	for {
		select {
		case <-ticker.C:
			p.drain()
		case <-p.stopCh:
			p.logger.Info().Msg("task queue worker pool stopped")
			return
		}
	}
}

func (p *Pool) drain() {
	tasks, err := p.queue.Claim(p.batchSize)
	if err != nil {
		p.logger.Error().Err(err).Msg("failed to claim tasks")
		return
	}

	var wg sync.WaitGroup
	for _, task := range tasks {
		wg.Add(1)
		go func(task *types.Task) {
			defer wg.Done()
			p.process(task)
		}(task)
	}
	wg.Wait()
}

func (p *Pool) process(task *types.Task) {
	metrics.TasksClaimedTotal.WithLabelValues(string(task.Type)).Inc()
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.TaskHandlerDuration, string(task.Type))

	handler, ok := p.handlers[task.Type]
	if !ok {
		err := anvilerr.New(anvilerr.Internal, "no handler registered for task type "+string(task.Type))
		p.fail(task, err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if err := handler(ctx, task); err != nil {
		p.fail(task, err)
		return
	}

	if err := p.queue.Complete(task.ID); err != nil {
		p.logger.Error().Err(err).Int64("task_id", task.ID).Msg("failed to mark task completed")
		return
	}
	metrics.TasksCompletedTotal.WithLabelValues(string(task.Type), "success").Inc()
}

func (p *Pool) fail(task *types.Task, cause error) {
	p.logger.Warn().Err(cause).Int64("task_id", task.ID).Str("type", string(task.Type)).Msg("task handler failed")
	if err := p.queue.Fail(task.ID, cause); err != nil {
		p.logger.Error().Err(err).Int64("task_id", task.ID).Msg("failed to record task failure")
	}
	metrics.TasksCompletedTotal.WithLabelValues(string(task.Type), "failure").Inc()
}
