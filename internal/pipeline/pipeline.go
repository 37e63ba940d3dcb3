// Package pipeline drives the feasible-memory scheduling pass end to end:
// graph analysis, scheduling with allocation, spill management and
// reconciliation into the final plan.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/memsched/internal/depgraph"
	"github.com/roach88/memsched/internal/ir"
	"github.com/roach88/memsched/internal/reconcile"
	"github.com/roach88/memsched/internal/scheduler"
	"github.com/roach88/memsched/internal/spill"
)

// Option configures a pipeline run.
type Option func(*options)

type options struct {
	logger    *slog.Logger
	priority  scheduler.Priority
	schedOpts []scheduler.Option
}

// WithLogger sets the logger for every stage.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithPriority overrides the ready-task priority named by the config.
func WithPriority(p scheduler.Priority) Option {
	return func(o *options) {
		o.priority = p
	}
}

// WithSchedulerOptions passes extra options to the scheduler stage.
func WithSchedulerOptions(opts ...scheduler.Option) Option {
	return func(o *options) {
		o.schedOpts = append(o.schedOpts, opts...)
	}
}

// Run schedules g under cfg and returns the reconciled plan.
//
// Every failure is returned as-is from the failing stage; pass failures
// carry an ir.ErrorCode (see ir.CodeOf). ctx is checked between stages and
// inside the scheduling loop.
func Run(ctx context.Context, g *ir.Graph, cfg ir.Config, opts ...Option) (*ir.Plan, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	log := o.logger.With("graph", g.Name)

	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	a, err := depgraph.Build(g)
	if err != nil {
		log.Info("graph rejected", "code", ir.CodeOf(err), "error", err)
		return nil, err
	}
	log.Debug("analysed graph", "analysis", a.String())
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	schedOpts := []scheduler.Option{scheduler.WithLogger(o.logger)}
	if o.priority != nil {
		schedOpts = append(schedOpts, scheduler.WithPriority(o.priority))
	}
	res, err := scheduler.Schedule(ctx, a, cfg, append(schedOpts, o.schedOpts...)...)
	if err != nil {
		log.Info("scheduling failed", "code", ir.CodeOf(err), "error", err)
		return nil, err
	}
	log.Debug("scheduled", "makespan", res.Makespan, "peak", res.Peak, "spills", len(res.Spills))
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sched, err := spill.Run(ctx, a, res, cfg, spill.WithLogger(o.logger))
	if err != nil {
		log.Info("spill management failed", "code", ir.CodeOf(err), "error", err)
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	plan, err := reconcile.Reconcile(a, sched, cfg)
	if err != nil {
		log.Error("reconciliation failed", "error", err)
		return nil, err
	}
	log.Info("plan ready",
		"makespan", plan.Report.Makespan,
		"peak", plan.Report.PeakUsage,
		"capacity", plan.Report.Capacity,
		"spills", plan.Report.SpillCount,
		"copy_tasks", plan.Report.CopyTasks)
	return plan, nil
}

// Digest is the determinism fingerprint of a plan: identical inputs must
// produce identical digests.
func Digest(plan *ir.Plan) (string, error) {
	return ir.PlanDigest(plan)
}
