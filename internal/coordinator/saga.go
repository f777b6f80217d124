package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jcmexdev/order-saga/internal/coordinator/sagalog"
	"github.com/jcmexdev/order-saga/internal/pkg/apperr"
	"github.com/jcmexdev/order-saga/internal/pkg/telemetry"
)

// State is the position of a run in the saga state machine.
type State string

const (
	StatePending           State = "Pending"
	StateValidating        State = "Validating"
	StatePaying            State = "Paying"
	StateGeneratingReceipt State = "GeneratingReceipt"
	StateUpdatingStatus    State = "UpdatingStatus"
	StateCompleted         State = "Completed"
	StateFailed            State = "Failed"
)

// ErrExecutionExists is returned by Start when the execution name was
// already used and there is nothing to resume. Callers treat it as a no-op.
var ErrExecutionExists = errors.New("execution already exists")

// Outcome is the result of one run. A failed run is a normal outcome, not
// an error: Err holds the step failure and FailedStep names the step.
// An interrupted run stopped on an infrastructure failure and is resumed by
// the next Start under the same name.
type Outcome struct {
	Name        string
	State       State
	Context     ExecutionContext
	FailedStep  string
	Err         error
	Interrupted bool
}

func (o Outcome) Succeeded() bool { return o.State == StateCompleted }

// Orchestrator runs the steps strictly in order. There is no compensation:
// when a step fails, effects of earlier steps stay in place.
type Orchestrator struct {
	steps   []Step
	log     sagalog.Repository
	metrics *telemetry.Metrics
	tracer  trace.Tracer
}

// NewOrchestrator builds an orchestrator over a fixed step list. log may be
// nil, in which case runs are neither registered nor recorded.
func NewOrchestrator(steps []Step, log sagalog.Repository, metrics *telemetry.Metrics) *Orchestrator {
	return &Orchestrator{
		steps:   steps,
		log:     log,
		metrics: metrics,
		tracer:  otel.Tracer("github.com/jcmexdev/order-saga/internal/coordinator"),
	}
}

// Start registers name in the execution registry and runs the saga.
//
// A name that was already used returns ErrExecutionExists, unless its run
// was interrupted: then the run continues from the logged context and the
// steps it already finished are skipped. An interrupted run, like an
// unavailable registry, is returned as an error carrying the cause.
func (o *Orchestrator) Start(ctx context.Context, name string, ec ExecutionContext) (Outcome, error) {
	ctx, span := o.tracer.Start(ctx, "saga "+name, trace.WithAttributes(
		attribute.String("saga.name", name),
		attribute.String("order.id", ec.OrderID),
	))
	defer span.End()

	var done map[string]bool
	if o.log != nil {
		payload, err := json.Marshal(ec)
		if err != nil {
			return Outcome{}, err
		}
		created, err := o.log.StartExecution(ctx, sagalog.NewEntry(ctx, name, sagalog.StatusStarted, "", string(payload), nil))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "registry unavailable")
			return Outcome{}, err
		}
		if !created {
			history, resumed, err := o.log.ResumeExecution(ctx, sagalog.NewEntry(ctx, name, sagalog.StatusResumed, "", "", nil))
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, "registry unavailable")
				return Outcome{}, err
			}
			if !resumed {
				finished := len(history) > 0 && history[len(history)-1].Status.Terminal()
				span.SetAttributes(attribute.Bool("saga.duplicate", true), attribute.Bool("saga.finished", finished))
				return Outcome{}, fmt.Errorf("%w: %s", ErrExecutionExists, name)
			}
			if ec, done, err = restore(history); err != nil {
				return Outcome{}, fmt.Errorf("saga %s: restore context: %w", name, err)
			}
			span.SetAttributes(attribute.Bool("saga.resumed", true), attribute.Int("saga.steps_done", len(done)))
			slog.InfoContext(ctx, "saga resumed", "saga", name, "order_id", ec.OrderID, "steps_done", len(done))
		}
	}

	outcome := o.run(ctx, name, ec, done)
	if !outcome.Succeeded() {
		span.RecordError(outcome.Err)
		span.SetStatus(codes.Error, outcome.FailedStep+" failed")
	}
	span.SetAttributes(attribute.String("saga.state", string(outcome.State)))
	if outcome.Interrupted {
		return outcome, fmt.Errorf("saga %s interrupted at %s: %w", name, outcome.FailedStep, outcome.Err)
	}
	return outcome, nil
}

// restore rebuilds the context of an interrupted run from its log: the
// newest snapshot and the names of the steps that finished.
func restore(history []sagalog.SagaLog) (ExecutionContext, map[string]bool, error) {
	var (
		ec       ExecutionContext
		snapshot string
		done     = make(map[string]bool)
	)
	for _, e := range history {
		switch e.Status {
		case sagalog.StatusStarted:
			snapshot = e.Payload
			clear(done)
		case sagalog.StatusStepDone:
			done[e.CurrentStep] = true
			if e.Payload != "" {
				snapshot = e.Payload
			}
		}
	}
	if snapshot == "" {
		return ec, nil, errors.New("no context snapshot in saga log")
	}
	if err := json.Unmarshal([]byte(snapshot), &ec); err != nil {
		return ec, nil, err
	}
	return ec, done, nil
}

// retryable reports whether err is an infrastructure failure that a later
// attempt can get past, as opposed to a business outcome of the step.
func retryable(err error) bool {
	return apperr.HasKind(err, apperr.KindPersistence) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

func (o *Orchestrator) run(ctx context.Context, name string, ec ExecutionContext, done map[string]bool) Outcome {
	state := StatePending
	slog.InfoContext(ctx, "saga started", "saga", name, "order_id", ec.OrderID)

	for _, step := range o.steps {
		state = step.State
		if done[step.Name] {
			slog.DebugContext(ctx, "saga step already done", "saga", name, "step", step.Name)
			continue
		}

		if field, ok := ec.missing(step.Reads); ok {
			err := apperr.Validation(fmt.Sprintf("step %s requires %s", step.Name, field))
			return o.fail(ctx, name, ec, step, err)
		}

		out, err := o.runStep(ctx, step, ec)
		if err != nil && retryable(err) {
			return o.interrupt(ctx, name, ec, step, err)
		}
		if mergeErr := ec.merge(step, out); mergeErr != nil {
			return o.fail(ctx, name, ec, step, mergeErr)
		}
		if err != nil {
			return o.fail(ctx, name, ec, step, err)
		}

		slog.InfoContext(ctx, "saga step done", "saga", name, "step", step.Name, "state", string(state))
		o.record(ctx, sagalog.NewEntry(ctx, name, sagalog.StatusStepDone, step.Name, o.snapshot(ctx, ec), nil))
	}

	last := ""
	if len(o.steps) > 0 {
		last = o.steps[len(o.steps)-1].Name
	}
	o.record(ctx, sagalog.NewEntry(ctx, name, sagalog.StatusCompleted, last, "", nil))
	o.metrics.SagaFinished("completed")
	slog.InfoContext(ctx, "saga completed", "saga", name, "order_id", ec.OrderID)

	return Outcome{Name: name, State: StateCompleted, Context: ec}
}

func (o *Orchestrator) runStep(ctx context.Context, step Step, ec ExecutionContext) (StepOutput, error) {
	ctx, span := o.tracer.Start(ctx, step.Name, trace.WithAttributes(attribute.String("saga.state", string(step.State))))
	defer span.End()

	started := time.Now()
	out, err := step.Run(ctx, ec)

	outcome := "ok"
	if err != nil {
		outcome = string(apperr.KindOf(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	o.metrics.StepObserved(step.Name, outcome, time.Since(started))
	return out, err
}

// fail moves the run to Failed. Nothing is rolled back.
func (o *Orchestrator) fail(ctx context.Context, name string, ec ExecutionContext, step Step, err error) Outcome {
	slog.WarnContext(ctx, "saga failed",
		"saga", name, "step", step.Name, "kind", string(apperr.KindOf(err)), "error", err)
	o.record(ctx, sagalog.NewEntry(ctx, name, sagalog.StatusFailed, step.Name, "",
		[]string{fmt.Sprintf("step %s failed: %v", step.Name, err)}))
	o.metrics.SagaFinished("failed")

	return Outcome{Name: name, State: StateFailed, Context: ec, FailedStep: step.Name, Err: err}
}

// interrupt stops the run at step without failing it. The step is run again
// when the execution is resumed.
func (o *Orchestrator) interrupt(ctx context.Context, name string, ec ExecutionContext, step Step, err error) Outcome {
	slog.WarnContext(ctx, "saga interrupted",
		"saga", name, "step", step.Name, "kind", string(apperr.KindOf(err)), "error", err)
	o.record(ctx, sagalog.NewEntry(ctx, name, sagalog.StatusInterrupted, step.Name, "",
		[]string{fmt.Sprintf("step %s interrupted: %v", step.Name, err)}))
	o.metrics.SagaFinished("interrupted")

	return Outcome{Name: name, State: step.State, Context: ec, FailedStep: step.Name, Err: err, Interrupted: true}
}

func (o *Orchestrator) snapshot(ctx context.Context, ec ExecutionContext) string {
	raw, err := json.Marshal(ec)
	if err != nil {
		slog.ErrorContext(ctx, "saga context not serializable", "order_id", ec.OrderID, "error", err)
		return ""
	}
	return string(raw)
}

// record appends to the saga log. It outlives ctx so a run stopped by
// cancellation still leaves its INTERRUPTED entry. A lost log entry does not
// change the run.
func (o *Orchestrator) record(ctx context.Context, entry *sagalog.SagaLog) {
	if o.log == nil {
		return
	}
	if err := o.log.Save(context.WithoutCancel(ctx), entry); err != nil {
		slog.ErrorContext(ctx, "saga log write failed",
			"saga", entry.SagaID, "status", string(entry.Status), "error", err)
	}
}
