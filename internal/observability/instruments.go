package observability

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MeterName is the instrumentation scope of every docflow instrument.
const MeterName = "docflow"

// Instruments groups the domain metrics. A nil *Instruments is valid and records nothing.
type Instruments struct {
	taskRuns            metric.Int64Counter
	taskDuration        metric.Float64Histogram
	alertsCreated       metric.Int64Counter
	escalations         metric.Int64Counter
	sweepErrors         metric.Int64Counter
	lockConflicts       metric.Int64Counter
	workflowTransitions metric.Int64Counter

	stale atomic.Int64
}

// NewInstruments registers the domain instruments on the global MeterProvider.
func NewInstruments() (*Instruments, error) {
	return NewInstrumentsWithMeter(otel.Meter(MeterName))
}

// NewInstrumentsWithMeter registers the domain instruments on meter.
func NewInstrumentsWithMeter(meter metric.Meter) (*Instruments, error) {
	var (
		i   Instruments
		err error
	)

	if i.taskRuns, err = meter.Int64Counter("docflow.tasks.runs",
		metric.WithDescription("Scheduled task runs by outcome")); err != nil {
		return nil, fmt.Errorf("tasks.runs: %w", err)
	}
	if i.taskDuration, err = meter.Float64Histogram("docflow.tasks.duration",
		metric.WithDescription("Scheduled task run duration"), metric.WithUnit("s")); err != nil {
		return nil, fmt.Errorf("tasks.duration: %w", err)
	}
	if i.alertsCreated, err = meter.Int64Counter("docflow.alerts.created",
		metric.WithDescription("Expiration alerts created")); err != nil {
		return nil, fmt.Errorf("alerts.created: %w", err)
	}
	if i.escalations, err = meter.Int64Counter("docflow.alerts.escalations",
		metric.WithDescription("Alert escalations performed")); err != nil {
		return nil, fmt.Errorf("alerts.escalations: %w", err)
	}
	if i.sweepErrors, err = meter.Int64Counter("docflow.alerts.sweep_errors",
		metric.WithDescription("Per-document sweep failures")); err != nil {
		return nil, fmt.Errorf("alerts.sweep_errors: %w", err)
	}
	if i.lockConflicts, err = meter.Int64Counter("docflow.locks.conflicts",
		metric.WithDescription("Lock acquisitions refused because another user holds the lease")); err != nil {
		return nil, fmt.Errorf("locks.conflicts: %w", err)
	}
	if i.workflowTransitions, err = meter.Int64Counter("docflow.workflow.transitions",
		metric.WithDescription("Approval workflow status transitions")); err != nil {
		return nil, fmt.Errorf("workflow.transitions: %w", err)
	}

	_, err = meter.Int64ObservableGauge("docflow.tasks.stale",
		metric.WithDescription("Tasks RUNNING for longer than their recurrence interval"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(i.stale.Load())
			return nil
		}))
	if err != nil {
		return nil, fmt.Errorf("tasks.stale: %w", err)
	}

	return &i, nil
}

func (i *Instruments) TaskRun(ctx context.Context, task, status string, d time.Duration) {
	if i == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("task", task), attribute.String("status", status))
	i.taskRuns.Add(ctx, 1, attrs)
	i.taskDuration.Record(ctx, d.Seconds(), attrs)
}

func (i *Instruments) AlertCreated(ctx context.Context, level int) {
	if i == nil {
		return
	}
	i.alertsCreated.Add(ctx, 1, metric.WithAttributes(attribute.String("level", strconv.Itoa(level))))
}

func (i *Instruments) Escalated(ctx context.Context, level int) {
	if i == nil {
		return
	}
	i.escalations.Add(ctx, 1, metric.WithAttributes(attribute.String("level", strconv.Itoa(level))))
}

func (i *Instruments) SweepError(ctx context.Context) {
	if i == nil {
		return
	}
	i.sweepErrors.Add(ctx, 1)
}

func (i *Instruments) LockConflict(ctx context.Context) {
	if i == nil {
		return
	}
	i.lockConflicts.Add(ctx, 1)
}

func (i *Instruments) WorkflowTransition(ctx context.Context, to string) {
	if i == nil {
		return
	}
	i.workflowTransitions.Add(ctx, 1, metric.WithAttributes(attribute.String("to", to)))
}

// SetStaleTasks publishes the current number of stale RUNNING tasks.
func (i *Instruments) SetStaleTasks(n int) {
	if i == nil {
		return
	}
	i.stale.Store(int64(n))
}
