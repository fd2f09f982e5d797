// Package pipeline runs documents through the ordered stage registry and
// hands the outcome to persistence.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/docflow/internal/model"
	"github.com/sells-group/docflow/internal/resilience"
	"github.com/sells-group/docflow/internal/stage"
)

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithBackoff sets the delay between stage attempts.
func WithBackoff(initial, maxDelay time.Duration) Option {
	return func(o *Orchestrator) {
		o.retry.InitialBackoff = initial
		o.retry.MaxBackoff = maxDelay
	}
}

// WithClock overrides the clock used for run timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// Orchestrator executes the enabled stages of a registry strictly in order.
// It holds no per-run state and may run many documents concurrently.
type Orchestrator struct {
	steps     []model.StepDescriptor
	executors map[model.StepID]stage.Executor
	retry     resilience.RetryConfig
	now       func() time.Time
}

// NewOrchestrator binds executors to the registry. Every enabled step must
// have an executor.
func NewOrchestrator(reg *Registry, executors map[model.StepID]stage.Executor, opts ...Option) (*Orchestrator, error) {
	steps := reg.Enabled()
	for _, s := range steps {
		if executors[s.ID] == nil {
			return nil, model.NewConfigError("step "+string(s.ID), "no executor registered")
		}
	}
	o := &Orchestrator{
		steps:     steps,
		executors: executors,
		retry:     resilience.DefaultRetryConfig(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Run processes doc and returns the run context. Run never returns an
// error: a REQUIRED stage that exhausts its attempts sets TerminalError on
// the result and stops the run; an OPTIONAL one adds a warning.
func (o *Orchestrator) Run(ctx context.Context, doc model.Document) *model.RunContext {
	rc := model.NewRunContext(uuid.NewString(), doc, o.now().UTC())
	log := zap.L().With(zap.String("run_id", rc.RunID), zap.String("document_id", doc.ID))
	log.Info("pipeline: starting run")

	for i, step := range o.steps {
		if err := ctx.Err(); err != nil {
			rc.Fail(step.ID, eris.Wrap(err, "pipeline: run cancelled"))
			o.skipRest(rc, i)
			break
		}

		st, err := o.runStep(ctx, rc, step, log)
		rc.Steps[step.ID] = st
		if err == nil {
			continue
		}

		if step.Priority == model.PriorityRequired || ctx.Err() != nil {
			st.State = model.StepStateFailed
			rc.Fail(step.ID, err)
			log.Error("pipeline: required step failed, stopping run",
				zap.String("step", string(step.ID)),
				zap.Int("attempts", st.Attempts),
				zap.Error(err),
			)
			o.skipRest(rc, i+1)
			break
		}
		st.State = model.StepStateWarning
		rc.Warnings = append(rc.Warnings, fmt.Sprintf("%s: %v", step.ID, err))
		log.Warn("pipeline: optional step failed, continuing",
			zap.String("step", string(step.ID)),
			zap.Int("attempts", st.Attempts),
			zap.Error(err),
		)
	}

	rc.FinishedAt = o.now().UTC()
	log.Info("pipeline: run complete",
		zap.String("status", string(rc.Status())),
		zap.String("routing_decision", string(rc.RoutingDecision)),
		zap.Float64("confidence", rc.OverallConfidence),
		zap.Int("warnings", len(rc.Warnings)),
	)
	return rc
}

func (o *Orchestrator) skipRest(rc *model.RunContext, from int) {
	for _, s := range o.steps[from:] {
		if _, ok := rc.Steps[s.ID]; !ok {
			rc.Steps[s.ID] = &model.StepStatus{State: model.StepStateSkipped}
		}
	}
}

// runStep makes up to step.MaxAttempts attempts, each under its own
// deadline, and applies the first successful output to rc.
func (o *Orchestrator) runStep(ctx context.Context, rc *model.RunContext, step model.StepDescriptor, log *zap.Logger) (*model.StepStatus, error) {
	exec := o.executors[step.ID]
	st := &model.StepStatus{}
	start := time.Now()

	cfg := o.retry
	cfg.MaxAttempts = step.MaxAttempts()
	cfg.AttemptTimeout = step.Timeout
	cfg.OnRetry = func(attempt int, err error) {
		log.Warn("pipeline: retrying step",
			zap.String("step", string(step.ID)),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}

	out, err := resilience.DoVal(ctx, cfg, func(actx context.Context) (stage.Output, error) {
		st.Attempts++
		out, err := attempt(actx, exec, rc.Snapshot())
		if err != nil {
			st.LastError = err.Error()
		}
		return out, err
	})
	st.DurationMs = time.Since(start).Milliseconds()

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return st, &StageTimeoutError{Step: step.ID, Timeout: step.Timeout, Attempts: st.Attempts, Err: err}
		}
		return st, &StageExecutionError{Step: step.ID, Attempts: st.Attempts, Err: err}
	}

	if out != nil {
		out.Apply(rc)
	}
	st.State = model.StepStateComplete
	log.Debug("pipeline: step complete",
		zap.String("step", string(step.ID)),
		zap.Int("attempts", st.Attempts),
		zap.Int64("duration_ms", st.DurationMs),
	)
	return st, nil
}

type attemptResult struct {
	out stage.Output
	err error
}

// attempt runs exec in its own goroutine so an executor that ignores ctx is
// abandoned at the deadline. Its late result is dropped.
func attempt(ctx context.Context, exec stage.Executor, view *model.RunContext) (stage.Output, error) {
	done := make(chan attemptResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- attemptResult{err: eris.Errorf("pipeline: executor panicked: %v", r)}
			}
		}()
		out, err := exec.Execute(ctx, view)
		done <- attemptResult{out: out, err: err}
	}()

	select {
	case res := <-done:
		if res.err == nil && ctx.Err() != nil {
			// Finished, but after the deadline.
			return nil, ctx.Err()
		}
		return res.out, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
