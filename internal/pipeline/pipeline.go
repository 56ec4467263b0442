package pipeline

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mdlforge/conversiond/internal/job"
	"github.com/mdlforge/conversiond/internal/packager"
)

// stderrTail is how many trailing stderr lines a stage failure carries.
const stderrTail = 20

// Workspace is the per-job scratch area. Each job owns its directory
// exclusively for its lifetime; no two jobs ever share one.
type Workspace struct {
	JobID     string
	Dir       string
	InputPath string
	BaseName  string
	Options   job.Options

	// Populated as stages run.
	SMDFiles  []string
	QCPath    string
	Artifacts []string
}

// Stage is one step of the conversion pipeline. External stages provide
// Command; in-process stages provide Run. Outputs resolves the files the
// stage is expected to have produced and fails when any are missing.
type Stage struct {
	Name    string
	Weight  int
	Timeout time.Duration

	Prepare func(ws *Workspace) error
	Command func(ws *Workspace) *exec.Cmd
	Run     func(ctx context.Context, ws *Workspace, logf func(string)) error
	Outputs func(ws *Workspace) ([]string, error)
}

// StageError describes a stage that timed out, exited non-zero, or missed
// an expected output.
type StageError struct {
	Stage    string
	Timeout  bool
	ExitCode int
	Stderr   []string
	Err      error
}

func (e *StageError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("stage %s timed out", e.Stage)
	}
	return fmt.Sprintf("stage %s failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Failure converts the stage error into the job's structured failure record.
func (e *StageError) Failure() *job.Failure {
	if e.Timeout {
		return &job.Failure{
			Kind:    job.FailureTimeout,
			Stage:   e.Stage,
			Message: fmt.Sprintf("stage %s exceeded its deadline", e.Stage),
		}
	}
	msg := fmt.Sprintf("stage %s failed (exit code %d)", e.Stage, e.ExitCode)
	if e.Err != nil && e.ExitCode == 0 {
		msg = fmt.Sprintf("stage %s failed: %v", e.Stage, e.Err)
	}
	if len(e.Stderr) > 0 {
		msg += "; stderr: " + strings.Join(e.Stderr, " | ")
	}
	return &job.Failure{Kind: job.FailureStage, Stage: e.Stage, Message: msg}
}

// Executor drives the ordered stage list for one job: progress checkpoints,
// live log capture, timeouts, postcondition checks, packaging, and
// cooperative cancellation. Exactly one executor runs a given job.
type Executor struct {
	registry *job.Registry
	packager *packager.Packager
	stages   []Stage
	logger   *slog.Logger
}

// NewExecutor creates an executor over a fixed stage list.
func NewExecutor(registry *job.Registry, pkg *packager.Packager, stages []Stage, logger *slog.Logger) *Executor {
	return &Executor{
		registry: registry,
		packager: pkg,
		stages:   stages,
		logger:   logger,
	}
}

// Run executes the pipeline for j. The job must already be in the
// processing status; Run marks the terminal outcome itself and never
// returns an error to the scheduler — external tool misbehavior must not
// take the process down.
func (e *Executor) Run(ctx context.Context, j job.Job) {
	ws := &Workspace{
		JobID:     j.ID,
		Dir:       j.WorkDir,
		InputPath: j.InputPath,
		BaseName:  baseName(j.InputPath),
		Options:   j.Options,
	}

	e.registry.AppendLog(j.ID, fmt.Sprintf("Starting conversion for %s", filepath.Base(j.InputPath)))

	checkpoints := e.checkpoints()
	for i, st := range e.stages {
		if e.aborted(ctx, j.ID) {
			return
		}

		e.registry.AppendLog(j.ID, fmt.Sprintf("Stage %s started", st.Name))
		if err := e.registry.SetProgress(j.ID, checkpoints[i]); err != nil {
			e.logger.Warn("Progress update rejected",
				slog.String("job_id", j.ID),
				slog.String("stage", st.Name),
				slog.Any("error", err),
			)
		}

		if err := e.runStage(ctx, st, ws, j.ID); err != nil {
			if e.aborted(ctx, j.ID) {
				return
			}
			e.fail(j.ID, ws, st.Name, err)
			return
		}

		e.registry.AppendLog(j.ID, fmt.Sprintf("Stage %s completed", st.Name))
	}

	if e.aborted(ctx, j.ID) {
		return
	}
	e.finish(j, ws)
}

// aborted reports whether the job was cancelled, logging the stop once.
func (e *Executor) aborted(ctx context.Context, id string) bool {
	if ctx.Err() == nil && !e.registry.IsCancelled(id) {
		return false
	}
	e.registry.AppendLog(id, "Pipeline stopped: job cancelled")
	e.logger.Info("Pipeline aborted by cancellation",
		slog.String("job_id", id),
	)
	return true
}

func (e *Executor) fail(id string, ws *Workspace, stage string, err error) {
	var se *StageError
	if !errors.As(err, &se) {
		se = &StageError{Stage: stage, Err: err}
	}

	failure := se.Failure()
	e.registry.AppendLog(id, "Conversion failed: "+failure.Message)
	if markErr := e.registry.MarkFailed(id, failure); markErr != nil {
		e.logger.Error("Failed to mark job failed",
			slog.String("job_id", id),
			slog.Any("error", markErr),
		)
	}

	// Partial artifacts from failed stages never reach the download path.
	e.packager.RemoveWorkDir(ws.Dir)
}

func (e *Executor) finish(j job.Job, ws *Workspace) {
	e.registry.AppendLog(j.ID, "Packaging artifacts")
	if err := e.registry.SetProgress(j.ID, 95); err != nil {
		e.logger.Warn("Progress update rejected",
			slog.String("job_id", j.ID),
			slog.Any("error", err),
		)
	}

	snap, err := e.registry.Get(j.ID)
	if err != nil {
		return
	}

	bundlePath := filepath.Join(ws.Dir, j.ID+"_result.zip")
	if err := e.packager.Package(bundlePath, ws.Artifacts, snap.Log, j.InputPath); err != nil {
		e.registry.AppendLog(j.ID, "Packaging failed: "+err.Error())
		_ = e.registry.MarkFailed(j.ID, &job.Failure{
			Kind:    job.FailurePackaging,
			Message: fmt.Sprintf("failed to package artifacts: %v", err),
		})
		e.packager.RemoveWorkDir(ws.Dir)
		return
	}

	// Intermediates are inside the bundle now; only the bundle stays.
	e.packager.CleanupWorkDir(ws.Dir, bundlePath)

	e.registry.AppendLog(j.ID, "Conversion completed successfully")
	if err := e.registry.MarkCompleted(j.ID, ws.Artifacts, bundlePath); err != nil {
		e.logger.Error("Failed to mark job completed",
			slog.String("job_id", j.ID),
			slog.Any("error", err),
		)
	}
}

// runStage executes one stage under its timeout and classifies the outcome.
func (e *Executor) runStage(ctx context.Context, st Stage, ws *Workspace, id string) error {
	stageCtx := ctx
	if st.Timeout > 0 {
		var cancel context.CancelFunc
		stageCtx, cancel = context.WithTimeout(ctx, st.Timeout)
		defer cancel()
	}

	logf := func(line string) { e.registry.AppendLog(id, line) }

	if st.Prepare != nil {
		if err := st.Prepare(ws); err != nil {
			return &StageError{Stage: st.Name, Err: err}
		}
	}

	var err error
	switch {
	case st.Run != nil:
		err = st.Run(stageCtx, ws, logf)
	case st.Command != nil:
		err = e.runCommand(stageCtx, st, ws, logf)
	}

	if err != nil {
		if stageCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return &StageError{Stage: st.Name, Timeout: true, Err: err}
		}
		if ctx.Err() != nil {
			// Job cancellation killed the subprocess; not a failure.
			return ctx.Err()
		}
		var se *StageError
		if errors.As(err, &se) {
			return se
		}
		return &StageError{Stage: st.Name, Err: err}
	}

	if st.Outputs != nil {
		outs, oerr := st.Outputs(ws)
		if oerr != nil {
			return &StageError{Stage: st.Name, Err: oerr}
		}
		ws.Artifacts = append(ws.Artifacts, outs...)
	}
	return nil
}

// runCommand launches the stage's subprocess in the job's working directory,
// streaming stdout and stderr into the job log line by line as they arrive.
// On context expiry the process is killed.
func (e *Executor) runCommand(ctx context.Context, st Stage, ws *Workspace, logf func(string)) error {
	cmd := st.Command(ws)
	if cmd.Dir == "" {
		cmd.Dir = ws.Dir
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to open stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to open stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", st.Name, err)
	}

	e.logger.Debug("Stage subprocess started",
		slog.String("job_id", ws.JobID),
		slog.String("stage", st.Name),
		slog.Int("pid", cmd.Process.Pid),
	)

	// Kill the process when the stage deadline or the job cancellation hits.
	watchDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = cmd.Process.Kill()
		case <-watchDone:
		}
	}()

	tail := newTailBuffer(stderrTail)
	var g errgroup.Group
	g.Go(func() error { return pumpLines(stdout, logf, nil) })
	g.Go(func() error { return pumpLines(stderr, logf, tail) })

	pumpErr := g.Wait()
	waitErr := cmd.Wait()
	close(watchDone)

	if waitErr != nil {
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		return &StageError{
			Stage:    st.Name,
			ExitCode: exitCode,
			Stderr:   tail.Lines(),
			Err:      waitErr,
		}
	}
	if pumpErr != nil {
		return fmt.Errorf("failed to capture %s output: %w", st.Name, pumpErr)
	}
	return nil
}

// checkpoints partitions 0..95 across stages by weight; 95..100 is reserved
// for packaging. Entry i is the progress reported when stage i starts.
func (e *Executor) checkpoints() []int {
	total := 0
	for _, st := range e.stages {
		w := st.Weight
		if w <= 0 {
			w = 1
		}
		total += w
	}

	points := make([]int, len(e.stages))
	acc := 0
	for i, st := range e.stages {
		points[i] = acc * 95 / total
		w := st.Weight
		if w <= 0 {
			w = 1
		}
		acc += w
	}
	return points
}

// pumpLines copies lines from r into logf and, optionally, a tail buffer.
func pumpLines(r io.Reader, logf func(string), tail *tailBuffer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 512*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		logf(line)
		if tail != nil {
			tail.Add(line)
		}
	}
	return scanner.Err()
}

// tailBuffer keeps the most recent n lines.
type tailBuffer struct {
	n     int
	lines []string
}

func newTailBuffer(n int) *tailBuffer {
	return &tailBuffer{n: n}
}

func (t *tailBuffer) Add(line string) {
	t.lines = append(t.lines, line)
	if len(t.lines) > t.n {
		t.lines = t.lines[len(t.lines)-t.n:]
	}
}

func (t *tailBuffer) Lines() []string {
	return t.lines
}

func baseName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
