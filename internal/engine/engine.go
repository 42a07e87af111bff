package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/skillrun/internal/catalog"
	"github.com/rendis/skillrun/internal/expressions"
	"github.com/rendis/skillrun/internal/store"
	"github.com/rendis/skillrun/internal/streaming"
	"github.com/rendis/skillrun/internal/tools"
	"github.com/rendis/skillrun/internal/validation"
	"github.com/rendis/skillrun/pkg/schema"
)

// DefaultMaxConcurrentRuns caps simultaneously executing skills.
const DefaultMaxConcurrentRuns = 8

// Config holds engine tunables.
type Config struct {
	MaxConcurrentRuns int
}

// Engine executes skill definitions: synchronous, strictly sequential
// steps, one lifecycle event stream per run.
type Engine struct {
	catalog   *catalog.Catalog
	tools     tools.Invoker
	store     store.Store
	healer    tools.AutoHealer
	validator *validation.SkillValidator
	engines   *expressions.Engines
	resolver  *expressions.Resolver
	gateway   *ConfirmationGateway
	sink      *eventSink
	execFSM   *ExecutionFSM
	stepFSM   *StepFSM
	pool      *RunPool
	logger    *slog.Logger

	// mu guards the running map.
	mu      sync.Mutex
	running map[string]*runContext
}

// New creates an Engine wired to the given catalog, tool registry, store,
// and event hub. A nil healer disables auto_heal fixes.
func New(cat *catalog.Catalog, reg *tools.Registry, st store.Store, hub streaming.EventHub, healer tools.AutoHealer, cfg Config, logger *slog.Logger) (*Engine, error) {
	if cfg.MaxConcurrentRuns <= 0 {
		cfg.MaxConcurrentRuns = DefaultMaxConcurrentRuns
	}
	if healer == nil {
		healer = tools.NoopHealer{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	validator, err := validation.NewSkillValidator(reg)
	if err != nil {
		return nil, err
	}
	engines, err := expressions.NewEngines()
	if err != nil {
		return nil, err
	}

	sink := newEventSink(st, hub, logger)

	return &Engine{
		catalog:   cat,
		tools:     reg,
		store:     st,
		healer:    healer,
		validator: validator,
		engines:   engines,
		resolver:  expressions.NewResolver(),
		gateway:   NewConfirmationGateway(),
		sink:      sink,
		execFSM:   NewExecutionFSM(sink),
		stepFSM:   NewStepFSM(sink),
		pool:      NewRunPool(cfg.MaxConcurrentRuns),
		logger:    logger,
		running:   make(map[string]*runContext),
	}, nil
}

// Execute runs the named skill to completion and returns its record. The
// call blocks until the run reaches a terminal status; the returned record
// carries the outcome, including failures.
func (e *Engine) Execute(ctx context.Context, skillName string, inputs, callerContext map[string]any) (*schema.SkillExecutionRecord, error) {
	def, err := e.catalog.Get(skillName)
	if err != nil {
		return nil, err
	}

	executionID := uuid.New().String()
	record := &schema.SkillExecutionRecord{
		ExecutionID: executionID,
		SkillName:   def.Name,
		FinalStatus: schema.ExecutionStatusCreated,
		Inputs:      inputs,
		Steps:       []schema.StepResult{},
		StartedAt:   time.Now().UTC(),
	}
	if err := e.store.CreateExecution(ctx, record); err != nil {
		return nil, err
	}

	logger := e.logger.With("execution_id", executionID, "skill", def.Name)

	if err := e.execFSM.Transition(ctx, executionID, def.Name, schema.ExecutionStatusCreated, schema.ExecutionStatusValidating); err != nil {
		return nil, err
	}
	record.FinalStatus = schema.ExecutionStatusValidating

	// Validation failure terminates the run before any step history exists.
	if vErr := e.validator.ValidateDefinition(def); vErr != nil {
		return e.failBeforeRun(ctx, record, vErr)
	}
	resolvedInputs, vErr := validation.ResolveInputs(def, inputs)
	if vErr != nil {
		return e.failBeforeRun(ctx, record, vErr)
	}
	record.Inputs = resolvedInputs

	runCtx, cancelRun := context.WithCancel(ctx)
	rc := newRunContext(executionID, def,
		record,
		expressions.NewScope(resolvedInputs, def.Config, callerContext),
		cancelRun)

	e.mu.Lock()
	e.running[executionID] = rc
	e.mu.Unlock()

	done := make(chan struct{})
	submitErr := e.pool.Submit(runCtx, func(c context.Context) error {
		defer close(done)
		e.run(c, rc, logger)
		return nil
	})
	if submitErr != nil {
		cancelRun()
		e.mu.Lock()
		delete(e.running, executionID)
		e.mu.Unlock()
		return e.failBeforeRun(ctx, record,
			schema.NewErrorf(schema.ErrCodeConflict, "run pool rejected execution: %s", submitErr.Error()).WithCause(submitErr))
	}
	<-done

	cancelRun()
	e.mu.Lock()
	delete(e.running, executionID)
	e.mu.Unlock()

	return rc.snapshot(), nil
}

// run executes the step loop and finalizes the record. All step-level
// failures are absorbed here; the record carries the outcome.
func (e *Engine) run(ctx context.Context, rc *runContext, logger *slog.Logger) {
	record := rc.record

	if err := e.execFSM.Transition(ctx, rc.executionID, record.SkillName, schema.ExecutionStatusValidating, schema.ExecutionStatusRunning); err != nil {
		logger.Error("execution start failed", "error", err)
		e.finalize(ctx, rc, err, logger)
		return
	}
	rc.setStatus(schema.ExecutionStatusRunning)
	logger.Info("skill execution started", "steps", len(rc.def.Steps))

	var runErr error
	for i := range rc.def.Steps {
		if ctx.Err() != nil {
			runErr = schema.NewError(schema.ErrCodeCancelled, "execution cancelled")
			break
		}
		step := &rc.def.Steps[i]

		res, err := e.executeStep(ctx, rc, step)
		rc.addResult(res)
		logger.Debug("step finished", "step", step.Name, "status", string(res.Status), "attempt", res.Attempt)
		if err != nil {
			runErr = err
			break
		}
	}

	e.finalize(ctx, rc, runErr, logger)
}

// finalize transitions the run to its terminal status, emits the error
// event when there is one, and persists the record. Post-cancellation work
// uses a fresh context.
func (e *Engine) finalize(ctx context.Context, rc *runContext, runErr error, logger *slog.Logger) {
	finCtx := ctx
	if ctx.Err() != nil {
		finCtx = context.Background()
	}

	record := rc.record
	final := schema.ExecutionStatusSucceeded
	if runErr != nil {
		if isCancelled(runErr) {
			final = schema.ExecutionStatusAborted
		} else {
			final = schema.ExecutionStatusFailed
		}

		payload := map[string]any{"error": runErr.Error()}
		var skErr *schema.SkillError
		if errors.As(runErr, &skErr) {
			payload["code"] = skErr.Code
			if skErr.Step != "" {
				payload["step"] = skErr.Step
			}
		}
		e.sink.emit(finCtx, rc.executionID, record.SkillName, "", schema.EventSkillError, payload)
	}

	if err := e.execFSM.Transition(finCtx, rc.executionID, record.SkillName, record.FinalStatus, final); err != nil {
		logger.Error("terminal transition failed", "error", err)
	}

	rc.mu.Lock()
	if runErr != nil {
		record.LastError = runErr.Error()
	}
	record.FinalStatus = final
	record.CompletedAt = time.Now().UTC()
	record.DurationMs = record.CompletedAt.Sub(record.StartedAt).Milliseconds()
	rc.mu.Unlock()

	if err := e.store.UpdateExecution(finCtx, record); err != nil {
		logger.Error("persist execution record failed", "error", err)
	}
	logger.Info("skill execution finished", "status", string(final), "duration_ms", record.DurationMs)
}

// failBeforeRun finalizes an execution that never reached the step loop.
func (e *Engine) failBeforeRun(ctx context.Context, record *schema.SkillExecutionRecord, cause error) (*schema.SkillExecutionRecord, error) {
	record.LastError = cause.Error()
	record.FinalStatus = schema.ExecutionStatusFailed
	record.CompletedAt = time.Now().UTC()
	record.DurationMs = record.CompletedAt.Sub(record.StartedAt).Milliseconds()

	payload := map[string]any{"error": cause.Error()}
	var skErr *schema.SkillError
	if errors.As(cause, &skErr) {
		payload["code"] = skErr.Code
	}
	e.sink.emit(ctx, record.ExecutionID, record.SkillName, "", schema.EventSkillError, payload)
	if err := e.execFSM.Transition(ctx, record.ExecutionID, record.SkillName, schema.ExecutionStatusValidating, schema.ExecutionStatusFailed); err != nil {
		e.logger.Error("terminal transition failed", "execution_id", record.ExecutionID, "error", err)
	}
	if err := e.store.UpdateExecution(ctx, record); err != nil {
		e.logger.Error("persist execution record failed", "execution_id", record.ExecutionID, "error", err)
	}
	return record, cause
}

// Cancel aborts an in-flight execution. Pending confirmations resolve as
// cancelled before the run context is torn down.
func (e *Engine) Cancel(executionID string) error {
	e.mu.Lock()
	rc, ok := e.running[executionID]
	e.mu.Unlock()
	if !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "execution %s is not running", executionID)
	}

	e.gateway.CancelPending(executionID)
	rc.cancel()
	return nil
}

// Confirm delivers a confirmation response to a waiting step.
func (e *Engine) Confirm(executionID, stepName, option string) error {
	return e.gateway.Resolve(executionID, stepName, option)
}

// Status returns the current record of an execution: a live snapshot for
// in-flight runs, the persisted record otherwise.
func (e *Engine) Status(ctx context.Context, executionID string) (*schema.SkillExecutionRecord, error) {
	e.mu.Lock()
	rc, ok := e.running[executionID]
	e.mu.Unlock()
	if ok {
		return rc.snapshot(), nil
	}
	return e.store.GetExecution(ctx, executionID)
}

// PendingConfirmations lists steps waiting on a confirmation for the given
// execution.
func (e *Engine) PendingConfirmations(executionID string) []string {
	return e.gateway.Pending(executionID)
}

// Events returns the persisted event log of an execution, ordered by
// sequence, starting after the given sequence number.
func (e *Engine) Events(ctx context.Context, executionID string, since int64) ([]*store.Event, error) {
	return e.store.GetEvents(ctx, executionID, since)
}

// Catalog exposes the skill catalog backing this engine.
func (e *Engine) Catalog() *catalog.Catalog {
	return e.catalog
}

// PoolMetrics reports run pool counters.
func (e *Engine) PoolMetrics() PoolMetrics {
	return e.pool.Metrics()
}

// Shutdown stops accepting new runs and drains in-flight ones.
func (e *Engine) Shutdown() {
	e.pool.Shutdown()
}
