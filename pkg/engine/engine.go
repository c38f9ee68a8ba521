// Package engine orchestrates a diagnostic run: the prediagnostic gate,
// argument and host-fact pruning, batch construction, the bounded worker
// pool, the postdiagnostic stage, and the run summary.
package engine

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/hostprobe/hostprobe/pkg/hostfacts"
	"github.com/hostprobe/hostprobe/pkg/module"
	"github.com/hostprobe/hostprobe/pkg/options"
	"github.com/hostprobe/hostprobe/pkg/registry"
	"github.com/hostprobe/hostprobe/pkg/stores"
	"github.com/hostprobe/hostprobe/pkg/telemetry"
)

// Config carries the run-wide settings of an Engine.
type Config struct {
	// Concurrency is the requested worker count, clamped to
	// [1, MaxConcurrency]; zero means DefaultConcurrency.
	Concurrency int

	// PerfImpactOK allows performance-impacting modules to run.
	PerfImpactOK bool

	// Output receives user-facing notifications and the summary. A nil
	// Output discards them.
	Output io.Writer
}

// Engine drives one or more diagnostic runs. The store, metrics, and event
// publisher are optional; a nil value disables that sink.
type Engine struct {
	logger    zerolog.Logger
	cfg       Config
	opts      *options.Options
	collector *hostfacts.Collector

	store   stores.Store
	metrics *telemetry.Metrics
	tracer  *telemetry.Tracer
	events  *telemetry.EventPublisher
}

// New creates an engine.
func New(cfg Config, opts *options.Options, collector *hostfacts.Collector, logger zerolog.Logger) *Engine {
	if cfg.Concurrency == 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.Output == nil {
		cfg.Output = io.Discard
	}
	return &Engine{
		logger:    logger.With().Str("component", "engine").Logger(),
		cfg:       cfg,
		opts:      opts,
		collector: collector,
	}
}

// WithStore persists run history to the given store.
func (e *Engine) WithStore(store stores.Store) *Engine {
	e.store = store
	return e
}

// WithTelemetry attaches the metrics, tracing, and event sinks.
func (e *Engine) WithTelemetry(metrics *telemetry.Metrics, tracer *telemetry.Tracer, events *telemetry.EventPublisher) *Engine {
	e.metrics = metrics
	e.tracer = tracer
	e.events = events
	return e
}

// Run executes one full diagnostic run over the three placement registries.
// The prediagnostic stage runs serially and is a hard gate: any
// prediagnostic FAILURE aborts before scheduling. The run registry is then
// pruned, class-sorted, batched, and executed on the worker pool; the
// postdiagnostic stage runs serially afterwards and its failures are logged,
// not fatal.
func (e *Engine) Run(ctx context.Context, prediags, mods, postdiags *registry.Registry) (*Summary, error) {
	runID := uuid.New().String()
	started := time.Now()
	logger := e.logger.With().Str("run_id", runID).Logger()

	ctx, span := e.tracer.Start(ctx, "hostprobe.run",
		attribute.String("run_id", runID),
		attribute.Int("modules", mods.Len()))
	defer span.End()

	e.metrics.RecordRunStarted()
	e.events.Publish(ctx, telemetry.NewEvent(telemetry.EventRunStarted, runID, ""))

	if e.store != nil {
		if err := e.store.CreateRun(ctx, &stores.Run{
			ID:        runID,
			StartedAt: started,
			Status:    stores.RunStatusRunning,
		}); err != nil {
			logger.Warn().Err(err).Msg("Failed to record run start")
		}
	}

	summary, err := e.run(ctx, logger, runID, prediags, mods, postdiags)

	status := stores.RunStatusCompleted
	if err != nil {
		status = stores.RunStatusFailed
	}
	e.metrics.RecordRunCompleted(string(status), time.Since(started))
	if err != nil {
		span.RecordFailure(err)
		e.events.Publish(ctx, telemetry.NewEvent(telemetry.EventRunFailed, runID, err.Error()))
	} else {
		e.events.Publish(ctx, telemetry.NewEvent(telemetry.EventRunCompleted, runID, ""))
	}

	if e.store != nil {
		if serr := e.store.FinishRun(ctx, runID, status, summarizeForStore(summary, err)); serr != nil {
			logger.Warn().Err(serr).Msg("Failed to record run completion")
		}
		if summary != nil {
			e.persistResults(ctx, logger, runID, mods)
		}
	}

	return summary, err
}

func (e *Engine) run(ctx context.Context, logger zerolog.Logger, runID string, prediags, mods, postdiags *registry.Registry) (*Summary, error) {
	facts := e.collector.Collect(ctx, e.cfg.PerfImpactOK)
	facts.ExportEnv()

	if err := e.runSerial(ctx, logger, prediags, true); err != nil {
		return nil, err
	}

	combined, err := mods.CombinedConstraint()
	if err != nil {
		return nil, err
	}

	pruner := NewPruner(facts, e.collector.Which, logger)
	pruner.ReconcileArguments(mods, e.opts, combined)
	if err := pruner.ApplyHostFacts(mods, e.opts); err != nil {
		return nil, err
	}
	for reason, count := range pruner.Histogram {
		e.metrics.RecordSkips(string(reason), count)
	}

	mods.SortByClass()
	batches := CreateBatches(mods.Modules())
	logger.Info().
		Int("modules", mods.Len()).
		Int("batches", len(batches)).
		Int("pruned", len(pruner.Pruned)).
		Msg("Schedule constructed")

	runCtx := NewRunContext(e.cfg.Output, logger)
	pool := NewPool(e.opts, runCtx, logger)
	pool.StartWorkers(ctx, ClampConcurrency(e.cfg.Concurrency))

	scheduled := 0
	for _, batch := range batches {
		scheduled += pool.EnqueueBatch(batch)
		pool.WaitDrained()
	}
	pool.Shutdown()
	runCtx.Finish()
	logger.Info().Int("scheduled", scheduled).Msg("All batches completed")

	for _, mod := range mods.Modules() {
		e.metrics.RecordModuleExecution(string(mod.Verdict))
		e.events.Publish(ctx, telemetry.NewEvent(telemetry.EventModuleCompleted, runID, mod.Name))
	}

	if err := e.runSerial(ctx, logger, postdiags, false); err != nil {
		logger.Warn().Err(err).Msg("Postdiagnostic stage reported failure")
	}

	return Summarize(mods, pruner.Histogram), nil
}

// runSerial executes a placement registry one module at a time. When fatal
// is set, a FAILURE verdict or an execution error aborts with
// PrediagnosticFailureError; otherwise failures are logged and reported
// through the returned error without carrying typed significance.
func (e *Engine) runSerial(ctx context.Context, logger zerolog.Logger, reg *registry.Registry, fatal bool) error {
	if reg == nil {
		return nil
	}

	var firstFailure error
	for _, mod := range reg.Modules() {
		if !mod.Applicable {
			logger.Info().
				Str("module", mod.Name).
				Str("reason", mod.WhySkipping).
				Msg("Skipping module")
			continue
		}

		if _, err := mod.Run(ctx, e.opts); err != nil {
			var rerr *module.RunFailureError
			if errors.As(err, &rerr) {
				if fatal {
					return &PrediagnosticFailureError{Name: mod.Name, Summary: rerr.Error()}
				}
				logger.Warn().Err(err).Str("module", mod.Name).Msg("Module execution failed")
				if firstFailure == nil {
					firstFailure = err
				}
				continue
			}
			return err
		}

		if mod.Verdict == module.VerdictFailure {
			if fatal {
				return &PrediagnosticFailureError{Name: mod.Name, Summary: mod.Summary}
			}
			if firstFailure == nil {
				firstFailure = errors.New(mod.Summary)
			}
		}
	}
	return firstFailure
}

// persistResults writes the per-module outcomes of a finished run.
func (e *Engine) persistResults(ctx context.Context, logger zerolog.Logger, runID string, mods *registry.Registry) {
	for _, mod := range mods.Modules() {
		result := &stores.ModuleResult{
			RunID:   runID,
			Name:    mod.Name,
			Class:   mod.Constraint.First("class"),
			Verdict: string(mod.Verdict),
			Summary: mod.Summary,
		}
		if err := e.store.CreateModuleResult(ctx, result); err != nil {
			logger.Warn().Err(err).Str("module", mod.Name).Msg("Failed to record module result")
		}
	}
}

func summarizeForStore(summary *Summary, err error) string {
	if err != nil {
		return err.Error()
	}
	if summary == nil {
		return ""
	}
	if summary.AllDiagnosticsSucceeded() {
		return "all diagnostics succeeded"
	}
	return "diagnostics reported findings"
}
