package job

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// TerminalHook is invoked once per job when it reaches a terminal status.
// Hooks run on their own goroutine and receive a snapshot.
type TerminalHook func(j Job)

// record is the registry's internal, mutable view of one job. All field
// access goes through mu; the cancel func is only set while processing.
type record struct {
	mu     sync.Mutex
	job    Job
	cancel context.CancelFunc
	done   chan struct{}
}

// snapshot copies the job under the record lock. The log slice is copied so
// pollers never observe an in-flight append.
func (r *record) snapshot() Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.copyLocked()
}

func (r *record) copyLocked() Job {
	j := r.job
	j.Log = append([]string(nil), r.job.Log...)
	j.OutputPaths = append([]string(nil), r.job.OutputPaths...)
	if r.job.Err != nil {
		e := *r.job.Err
		j.Err = &e
	}
	return j
}

// Registry is the authoritative, process-lifetime store of job records.
// Constructed once at startup and injected into the API layer and the
// scheduler; there is no ambient global state.
type Registry struct {
	mu     sync.RWMutex
	jobs   map[string]*record
	hooks  []TerminalHook
	logger *slog.Logger
	now    func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		jobs:   make(map[string]*record),
		logger: logger,
		now:    time.Now,
	}
}

// OnTerminal registers a hook fired for every job that reaches a terminal
// status. Must be called before jobs are created.
func (reg *Registry) OnTerminal(h TerminalHook) {
	reg.hooks = append(reg.hooks, h)
}

// Create registers a new job in the queued status. The id is the external
// handle and must be unique; the caller owns id generation so that the
// upload path can lay out per-job directories before the record exists.
func (reg *Registry) Create(id string, opts Options, inputPath, workDir string) Job {
	rec := &record{
		job: Job{
			ID:        id,
			Status:    StatusQueued,
			Options:   opts,
			InputPath: inputPath,
			WorkDir:   workDir,
			CreatedAt: reg.now(),
		},
		done: make(chan struct{}),
	}

	reg.mu.Lock()
	reg.jobs[id] = rec
	reg.mu.Unlock()

	reg.logger.Info("Job created",
		slog.String("job_id", id),
		slog.Float64("scale", opts.Scale),
		slog.String("bodygroup", opts.BodygroupName),
	)

	return rec.snapshot()
}

// Remove deletes a job record outright. Used only to unwind a creation that
// could not be scheduled; eviction of finished jobs goes through
// EvictTerminalBefore.
func (reg *Registry) Remove(id string) {
	reg.mu.Lock()
	delete(reg.jobs, id)
	reg.mu.Unlock()
}

// Get returns a snapshot of the job, or ErrNotFound.
func (reg *Registry) Get(id string) (Job, error) {
	rec, ok := reg.lookup(id)
	if !ok {
		return Job{}, ErrNotFound
	}
	return rec.snapshot(), nil
}

// Done returns a channel closed when the job reaches a terminal status.
func (reg *Registry) Done(id string) (<-chan struct{}, error) {
	rec, ok := reg.lookup(id)
	if !ok {
		return nil, ErrNotFound
	}
	return rec.done, nil
}

// StartProcessing atomically transitions queued -> processing and binds the
// cancel func the executor's context hangs off. It fails with
// ErrIllegalTransition when the job was cancelled before dequeue, which is
// how a cancelled queued job is never executed.
func (reg *Registry) StartProcessing(id string, cancel context.CancelFunc) error {
	rec, ok := reg.lookup(id)
	if !ok {
		return ErrNotFound
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec.job.Status != StatusQueued {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, rec.job.Status, StatusProcessing)
	}
	rec.job.Status = StatusProcessing
	rec.cancel = cancel
	return nil
}

// AppendLog appends one timestamped line to the job's log. The log is
// append-only; lines are visible to pollers in arrival order. Terminal jobs
// accept no further lines.
func (reg *Registry) AppendLog(id, line string) {
	rec, ok := reg.lookup(id)
	if !ok {
		return
	}
	rec.mu.Lock()
	if !rec.job.Status.Terminal() {
		rec.job.Log = append(rec.job.Log, fmt.Sprintf("[%s] %s", reg.now().Format("15:04:05"), line))
	}
	rec.mu.Unlock()
}

// SetProgress updates progress, rejecting regressions and mutations of
// terminal jobs.
func (reg *Registry) SetProgress(id string, value int) error {
	rec, ok := reg.lookup(id)
	if !ok {
		return ErrNotFound
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec.job.Status.Terminal() {
		return ErrAlreadyTerminal
	}
	if value < rec.job.Progress {
		return fmt.Errorf("%w: %d -> %d", ErrProgressRegression, rec.job.Progress, value)
	}
	if value > 100 {
		value = 100
	}
	rec.job.Progress = value
	return nil
}

// MarkCompleted transitions processing -> completed, records the produced
// artifacts and bundle, and pins progress at 100.
func (reg *Registry) MarkCompleted(id string, outputs []string, bundlePath string) error {
	return reg.finish(id, StatusCompleted, func(j *Job) {
		j.OutputPaths = append([]string(nil), outputs...)
		j.BundlePath = bundlePath
		j.Progress = 100
	})
}

// MarkFailed transitions processing -> failed and records the failure.
// Progress stays frozen at its last value.
func (reg *Registry) MarkFailed(id string, failure *Failure) error {
	return reg.finish(id, StatusFailed, func(j *Job) {
		j.Err = failure
	})
}

// Cancel requests cancellation. Legal only while queued or processing; a
// processing job's executor context is cancelled so the live subprocess is
// terminated best-effort.
func (reg *Registry) Cancel(id string) error {
	rec, ok := reg.lookup(id)
	if !ok {
		return ErrNotFound
	}

	rec.mu.Lock()
	if rec.job.Status.Terminal() {
		rec.mu.Unlock()
		return ErrAlreadyTerminal
	}
	if !rec.job.Status.CanTransition(StatusCancelled) {
		from := rec.job.Status
		rec.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, StatusCancelled)
	}
	rec.job.Status = StatusCancelled
	rec.job.CompletedAt = reg.now()
	cancel := rec.cancel
	snap := rec.copyLocked()
	close(rec.done)
	rec.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	reg.logger.Info("Job cancelled",
		slog.String("job_id", id),
	)
	reg.fireTerminal(snap)
	return nil
}

// IsCancelled reports whether the job has been cancelled. The executor
// consults this after a stage aborts to avoid marking a cancelled job failed.
func (reg *Registry) IsCancelled(id string) bool {
	rec, ok := reg.lookup(id)
	if !ok {
		return false
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.job.Status == StatusCancelled
}

// Counts returns the number of jobs currently processing and the total
// number of tracked jobs.
func (reg *Registry) Counts() (active, total int) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	for _, rec := range reg.jobs {
		rec.mu.Lock()
		if rec.job.Status == StatusProcessing {
			active++
		}
		rec.mu.Unlock()
	}
	return active, len(reg.jobs)
}

// EvictTerminalBefore removes terminal jobs whose creation time is older
// than cutoff and returns their snapshots so the caller can release working
// files and bundles. Non-terminal jobs are never evicted.
func (reg *Registry) EvictTerminalBefore(cutoff time.Time) []Job {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	var evicted []Job
	for id, rec := range reg.jobs {
		rec.mu.Lock()
		expired := rec.job.Status.Terminal() && rec.job.CreatedAt.Before(cutoff)
		if expired {
			evicted = append(evicted, rec.copyLocked())
		}
		rec.mu.Unlock()
		if expired {
			delete(reg.jobs, id)
		}
	}
	return evicted
}

func (reg *Registry) lookup(id string) (*record, bool) {
	reg.mu.RLock()
	rec, ok := reg.jobs[id]
	reg.mu.RUnlock()
	return rec, ok
}

// finish applies a terminal transition from processing. The mutate func runs
// under the record lock before hooks fire.
func (reg *Registry) finish(id string, to Status, mutate func(*Job)) error {
	rec, ok := reg.lookup(id)
	if !ok {
		return ErrNotFound
	}

	rec.mu.Lock()
	if rec.job.Status.Terminal() {
		rec.mu.Unlock()
		return ErrAlreadyTerminal
	}
	if !rec.job.Status.CanTransition(to) {
		from := rec.job.Status
		rec.mu.Unlock()
		reg.logger.Error("Illegal status transition",
			slog.String("job_id", id),
			slog.String("from", string(from)),
			slog.String("to", string(to)),
		)
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}
	rec.job.Status = to
	rec.job.CompletedAt = reg.now()
	mutate(&rec.job)
	snap := rec.copyLocked()
	close(rec.done)
	rec.mu.Unlock()

	reg.logger.Info("Job finished",
		slog.String("job_id", id),
		slog.String("status", string(to)),
	)
	reg.fireTerminal(snap)
	return nil
}

// fireTerminal runs terminal hooks off the caller's goroutine so slow
// consumers (archive inserts, event publishes) never stall a worker.
func (reg *Registry) fireTerminal(j Job) {
	if len(reg.hooks) == 0 {
		return
	}
	go func() {
		for _, h := range reg.hooks {
			h(j)
		}
	}()
}
