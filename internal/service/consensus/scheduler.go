package consensus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hugo-lorenzo-mato/quorum-consensus/internal/core"
	"github.com/hugo-lorenzo-mato/quorum-consensus/internal/logging"
)

// Task is one model consultation within a phase.
type Task struct {
	// Model is the attribution label of the roster entry.
	Model string
	// Call performs the consultation. It runs inside a worker pool slot and
	// should honor ctx, but the scheduler does not depend on it doing so.
	Call func(ctx context.Context) core.ConsultationResult
}

// Scheduler runs a phase's tasks concurrently under a shared worker pool
// and a single phase deadline.
type Scheduler struct {
	pool   *WorkerPool
	logger *logging.Logger
}

// NewScheduler creates a scheduler drawing slots from pool.
func NewScheduler(pool *WorkerPool, logger *logging.Logger) *Scheduler {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Scheduler{pool: pool, logger: logger}
}

// Run dispatches every task and returns one result per task, index-aligned
// with tasks. Tasks still running at the deadline are recorded as timeouts
// and abandoned; Run itself returns no later than the deadline.
func (s *Scheduler) Run(ctx context.Context, phase core.Phase, tasks []Task, deadline time.Duration) core.PhaseOutcome {
	out := make(core.PhaseOutcome, len(tasks))
	if len(tasks) == 0 {
		return out
	}

	phaseCtx, cancel := ctx, context.CancelFunc(func() {})
	if deadline > 0 {
		phaseCtx, cancel = context.WithTimeout(ctx, deadline)
	}
	defer cancel()

	s.logger.Debug("phase started",
		"phase", phase,
		"tasks", len(tasks),
		"deadline", deadline,
		"pool_size", s.pool.Size())

	var g errgroup.Group
	for i, task := range tasks {
		g.Go(func() error {
			out[i] = s.runTask(phaseCtx, phase, task, deadline)
			return nil
		})
	}
	_ = g.Wait()

	return out
}

func (s *Scheduler) runTask(ctx context.Context, phase core.Phase, task Task, deadline time.Duration) core.ConsultationResult {
	start := time.Now()

	var result core.ConsultationResult
	done, err := s.pool.Go(ctx, func() {
		result = s.invoke(ctx, phase, task, start)
	})
	if err != nil {
		return s.abandoned(ctx, phase, task.Model, deadline, start, "waiting for worker slot")
	}

	select {
	case <-done:
		return result
	case <-ctx.Done():
		// Prefer a result that landed at the same instant.
		select {
		case <-done:
			return result
		default:
		}
		return s.abandoned(ctx, phase, task.Model, deadline, start, "awaiting model response")
	}
}

// invoke runs the task's call, converting panics into error results.
func (s *Scheduler) invoke(ctx context.Context, phase core.Phase, task Task, start time.Time) (res core.ConsultationResult) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("model call panicked", "model", task.Model, "phase", phase, "panic", r)
			err := core.ErrExecution(core.CodeModelPanicked, fmt.Sprintf("model call panicked: %v", r))
			res = core.Failed(task.Model, phase, err, time.Since(start))
		}
	}()

	res = task.Call(ctx)
	if res.Model == "" {
		res.Model = task.Model
	}
	res.Phase = phase
	if res.Elapsed == 0 {
		res.Elapsed = time.Since(start)
	}
	return res
}

func (s *Scheduler) abandoned(ctx context.Context, phase core.Phase, model string, deadline time.Duration, start time.Time, stage string) core.ConsultationResult {
	elapsed := time.Since(start)
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		s.logger.Warn("model abandoned at phase deadline",
			"model", model, "phase", phase, "deadline", deadline, "stage", stage)
		return core.TimedOut(model, phase, deadline, elapsed)
	}
	s.logger.Warn("model call cancelled", "model", model, "phase", phase, "stage", stage)
	return core.Failed(model, phase, fmt.Errorf("consultation cancelled while %s: %w", stage, ctx.Err()), elapsed)
}
