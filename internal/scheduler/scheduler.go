package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mdlforge/conversiond/internal/job"
)

// ErrQueueFull is returned when pool and queue are saturated. This is a
// capacity control, not an abuse control: the API surfaces it as "try
// later", distinct from rate limiting.
var ErrQueueFull = errors.New("scheduler queue is full")

// Runner executes one job's pipeline to a terminal outcome. It must not
// return until the job is done with its work.
type Runner interface {
	Run(ctx context.Context, j job.Job)
}

// Config holds scheduler configuration.
type Config struct {
	Logger      *slog.Logger
	Registry    *job.Registry
	Runner      Runner
	Concurrency int
	QueueSize   int
}

// Scheduler bounds the number of simultaneously executing pipelines with a
// fixed pool of executor goroutines fed by a bounded FIFO queue of job ids.
// No two executors ever operate on the same job.
type Scheduler struct {
	logger      *slog.Logger
	registry    *job.Registry
	runner      Runner
	concurrency int
	queue       chan string
	wg          sync.WaitGroup
	stopChan    chan struct{}
}

// New creates a scheduler; Start must be called before Submit.
func New(cfg *Config) *Scheduler {
	return &Scheduler{
		logger:      cfg.Logger,
		registry:    cfg.Registry,
		runner:      cfg.Runner,
		concurrency: cfg.Concurrency,
		queue:       make(chan string, cfg.QueueSize),
		stopChan:    make(chan struct{}),
	}
}

// Start spawns the executor pool.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info("Spawning executor pool",
		slog.Int("concurrency", s.concurrency),
		slog.Int("queue_size", cap(s.queue)),
	)

	for i := 0; i < s.concurrency; i++ {
		s.wg.Add(1)
		go s.executorLoop(ctx, i)
	}
}

// Submit enqueues a queued job id for execution. Non-blocking: when the
// queue is saturated it fails immediately with ErrQueueFull instead of
// silently accepting work that would starve.
func (s *Scheduler) Submit(id string) error {
	select {
	case s.queue <- id:
		s.logger.Debug("Job enqueued",
			slog.String("job_id", id),
		)
		return nil
	default:
		return ErrQueueFull
	}
}

// Stop signals the pool and waits for in-flight pipelines to finish.
func (s *Scheduler) Stop() {
	s.logger.Info("Stopping scheduler...")
	close(s.stopChan)
	s.wg.Wait()
	s.logger.Info("Scheduler stopped")
}

// executorLoop dequeues FIFO and drives one pipeline at a time.
func (s *Scheduler) executorLoop(ctx context.Context, num int) {
	defer s.wg.Done()

	name := fmt.Sprintf("executor-%d", num)
	s.logger.Debug("Executor started",
		slog.String("executor", name),
	)

	for {
		select {
		case <-s.stopChan:
			s.logger.Debug("Executor stopping - stopChan closed",
				slog.String("executor", name),
			)
			return

		case <-ctx.Done():
			s.logger.Debug("Executor stopping - context canceled",
				slog.String("executor", name),
			)
			return

		case id := <-s.queue:
			s.execute(ctx, name, id)
		}
	}
}

// execute transitions the job to processing and runs its pipeline. A job
// cancelled while still queued loses the transition race and is skipped
// without ever invoking an external tool.
func (s *Scheduler) execute(ctx context.Context, executor, id string) {
	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := s.registry.StartProcessing(id, cancel); err != nil {
		s.logger.Info("Skipping job - not in queued status",
			slog.String("executor", executor),
			slog.String("job_id", id),
			slog.Any("error", err),
		)
		return
	}

	j, err := s.registry.Get(id)
	if err != nil {
		s.logger.Error("Dequeued job vanished from registry",
			slog.String("executor", executor),
			slog.String("job_id", id),
		)
		return
	}

	s.logger.Info("Executor picked up job",
		slog.String("executor", executor),
		slog.String("job_id", id),
	)

	s.runner.Run(jobCtx, j)
}
