package rules

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/liamcoop/curation/warehouse"
)

// ClientFactory opens the warehouse client for one run. runAs names the
// service identity to impersonate; empty means the ambient credentials.
type ClientFactory interface {
	NewClient(ctx context.Context, projectID, runAs string) (warehouse.Client, error)
}

// ClientFactoryFunc adapts a function to ClientFactory.
type ClientFactoryFunc func(ctx context.Context, projectID, runAs string) (warehouse.Client, error)

func (f ClientFactoryFunc) NewClient(ctx context.Context, projectID, runAs string) (warehouse.Client, error) {
	return f(ctx, projectID, runAs)
}

// StaticClient returns a factory that always hands out client.
func StaticClient(client warehouse.Client) ClientFactory {
	return ClientFactoryFunc(func(context.Context, string, string) (warehouse.Client, error) {
		return client, nil
	})
}

// Observer is notified as a run progresses.
type Observer interface {
	RuleFinished(run *PipelineRun, summary RuleSummary)
	RunFinished(run *PipelineRun)
}

// RunRequest describes one pipeline run.
type RunRequest struct {
	Target  Target
	Rules   []Declaration
	RunAs   string
	Options Options
}

// RuleQueries pairs a rule with the queries it would run.
type RuleQueries struct {
	Rule    string      `json:"rule"`
	Info    Metadata    `json:"info"`
	Queries []QuerySpec `json:"queries"`
}

// Engine drives rules through adaptation, setup and execution.
type Engine struct {
	clients   ClientFactory
	adapter   *Adapter
	runner    *Runner
	logger    *slog.Logger
	observers []Observer
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithObserver registers observers notified after each rule and run.
func WithObserver(obs ...Observer) EngineOption {
	return func(en *Engine) {
		en.observers = append(en.observers, obs...)
	}
}

// NewEngine creates an engine that opens warehouse clients through clients
// and logs every step to logger.
func NewEngine(clients ClientFactory, logger *slog.Logger, opts ...EngineOption) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	en := &Engine{
		clients: clients,
		adapter: NewAdapter(logger),
		runner:  NewRunner(logger),
		logger:  logger,
	}
	for _, opt := range opts {
		opt(en)
	}
	return en
}

// CleanDataset runs req.Rules in order against one warehouse client. The
// first error ends the run: the returned PipelineRun still holds every job
// collected so far and the error is a *RunError wrapping the cause.
func (en *Engine) CleanDataset(ctx context.Context, req RunRequest) (*PipelineRun, error) {
	run := &PipelineRun{
		ID:        uuid.NewString(),
		Target:    req.Target,
		StartedAt: time.Now().UTC(),
		Jobs:      []QueryJobResult{},
		Rules:     []RuleSummary{},
	}
	logger := en.logger.With(
		"run_id", run.ID,
		"project", req.Target.ProjectID,
		"dataset", req.Target.DatasetID,
		"sandbox", req.Target.SandboxDatasetID,
	)

	if err := req.Target.Validate(); err != nil {
		return en.abort(logger, run, -1, "", err)
	}

	client, err := en.clients.NewClient(ctx, req.Target.ProjectID, req.RunAs)
	if err != nil {
		return en.abort(logger, run, -1, "", fmt.Errorf("failed to create warehouse client: %w", err))
	}
	if closer, ok := client.(io.Closer); ok {
		defer func() {
			if err := closer.Close(); err != nil {
				logger.Warn("failed to close warehouse client", "error", err)
			}
		}()
	}

	logger.Info("starting pipeline run", "rules", len(req.Rules), "run_as", req.RunAs)

	for i, decl := range req.Rules {
		logger.Info(fmt.Sprintf("Applying cleaning rule %s %d/%d", decl.Name, i+1, len(req.Rules)),
			"rule", decl.Name,
			"index", i,
		)
		summary, err := en.runRule(ctx, logger, client, run, decl, req.Options)
		run.Rules = append(run.Rules, summary)
		for _, obs := range en.observers {
			obs.RuleFinished(run, summary)
		}
		if err != nil {
			return en.abort(logger, run, i, decl.Name, err)
		}
	}

	run.FinishedAt = time.Now().UTC()
	logger.Info("pipeline run finished",
		"jobs", len(run.Jobs),
		"rules", len(run.Rules),
		"duration", run.FinishedAt.Sub(run.StartedAt),
	)
	en.notifyRunFinished(run)
	return run, nil
}

func (en *Engine) runRule(ctx context.Context, logger *slog.Logger, client warehouse.Client, run *PipelineRun, decl Declaration, opts Options) (RuleSummary, error) {
	start := time.Now()
	summary := RuleSummary{Rule: decl.Name}
	finish := func(err error) (RuleSummary, error) {
		summary.Duration = time.Since(start)
		summary.Succeeded = err == nil
		if err != nil {
			summary.Error = err.Error()
		}
		return summary, err
	}

	inv, err := en.adapter.Adapt(decl, run.Target, opts)
	if err != nil {
		return finish(err)
	}
	for _, w := range inv.Warnings {
		summary.Warnings = append(summary.Warnings, w.Error())
	}

	if err := inv.Setup(ctx, client); err != nil {
		logger.Error("rule setup failed", "rule", decl.Name, "module", inv.Info.ModuleName, "function", inv.Info.FunctionName, "error", err)
		return finish(fmt.Errorf("failed to set up rule %s: %w", decl.Name, err))
	}

	specs, err := produceQueries(decl.Name, inv)
	if err != nil {
		logger.Error("rule produced no usable queries", "rule", decl.Name, "error", err)
		return finish(err)
	}
	summary.Queries = len(specs)

	jobs, err := en.runner.Run(ctx, client, specs, inv.Info)
	run.Jobs = append(run.Jobs, jobs...)
	for _, job := range jobs {
		if job.Succeeded() {
			summary.Jobs++
		}
	}
	if err != nil {
		return finish(err)
	}

	logger.Info(fmt.Sprintf("For clean rule %s, %d jobs were run successfully for %d queries", inv.Info, summary.Jobs, summary.Queries),
		"rule", decl.Name,
	)
	return finish(nil)
}

func (en *Engine) abort(logger *slog.Logger, run *PipelineRun, index int, rule string, cause error) (*PipelineRun, error) {
	jobs := make([]QueryJobResult, len(run.Jobs))
	copy(jobs, run.Jobs)

	runErr := &RunError{RunID: run.ID, Rule: rule, Index: index, Jobs: jobs, Err: cause}
	run.Err = runErr
	run.FinishedAt = time.Now().UTC()

	logger.Error("pipeline run aborted", "rule", rule, "index", index, "jobs", len(jobs), "error", cause)
	en.notifyRunFinished(run)
	return run, runErr
}

func (en *Engine) notifyRunFinished(run *PipelineRun) {
	for _, obs := range en.observers {
		obs.RunFinished(run)
	}
}

// Preview adapts every rule and collects its queries without touching the
// warehouse. It uses the same target validation and adaptation as
// CleanDataset.
func (en *Engine) Preview(req RunRequest) ([]RuleQueries, error) {
	if err := req.Target.Validate(); err != nil {
		return nil, err
	}
	out := make([]RuleQueries, 0, len(req.Rules))
	for _, decl := range req.Rules {
		inv, err := en.adapter.Adapt(decl, req.Target, req.Options)
		if err != nil {
			return nil, fmt.Errorf("failed to adapt rule %s: %w", decl.Name, err)
		}
		specs, err := produceQueries(decl.Name, inv)
		if err != nil {
			return nil, err
		}
		out = append(out, RuleQueries{Rule: decl.Name, Info: inv.Info, Queries: specs})
	}
	return out, nil
}

// QueryList returns the queries every rule of req would run, in order.
func (en *Engine) QueryList(req RunRequest) ([]QuerySpec, error) {
	plan, err := en.Preview(req)
	if err != nil {
		return nil, err
	}
	var specs []QuerySpec
	for _, rq := range plan {
		specs = append(specs, rq.Queries...)
	}
	return specs, nil
}

// produceQueries calls the invocation's query producer and validates every
// spec so that no query of a rule runs when any of them is malformed.
func produceQueries(rule string, inv *Invocation) ([]QuerySpec, error) {
	specs, err := inv.Queries()
	if err != nil {
		return nil, fmt.Errorf("failed to produce queries for rule %s: %w", rule, err)
	}
	for _, spec := range specs {
		if err := spec.Validate(); err != nil {
			var qe *InvalidQuerySpecError
			if errors.As(err, &qe) {
				qe.Rule = rule
			}
			return nil, err
		}
	}
	return specs, nil
}
