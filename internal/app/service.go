package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/liamcoop/curation/ledger"
	"github.com/liamcoop/curation/rules"
)

// ErrSelection is wrapped when a Selection names neither or both of a
// stage and explicit rules
var ErrSelection = errors.New("exactly one of stage or rules must be given")

// Selection picks the rules for one run, either a stage or an explicit list
type Selection struct {
	Target  rules.Target
	Stage   string
	Rules   []string
	RunAs   string
	Options rules.Options
}

// Request resolves sel into a run request. skipped lists stage rules whose
// gate evaluated to false.
func (a *App) Request(sel Selection) (req rules.RunRequest, skipped []string, err error) {
	switch {
	case sel.Stage != "" && len(sel.Rules) > 0, sel.Stage == "" && len(sel.Rules) == 0:
		return rules.RunRequest{}, nil, ErrSelection
	case sel.Stage != "":
		plan, err := a.Stages.Plan(sel.Stage, sel.Target, sel.Options)
		if err != nil {
			return rules.RunRequest{}, nil, err
		}
		plan.Request.RunAs = sel.RunAs
		return plan.Request, plan.Skipped, nil
	default:
		decls, err := a.Registry.Resolve(sel.Rules)
		if err != nil {
			return rules.RunRequest{}, nil, err
		}
		return rules.RunRequest{
			Target:  sel.Target,
			Rules:   decls,
			RunAs:   sel.RunAs,
			Options: sel.Options,
		}, nil, nil
	}
}

// Preview returns the queries req would run. Plans are cached by request;
// cached reports whether this one came from the cache.
func (a *App) Preview(req rules.RunRequest) (plan []rules.RuleQueries, cached bool, err error) {
	key := rules.PreviewKey(req)
	if key != "" {
		if plan := a.PreviewCache.Get(key); plan != nil {
			return plan, true, nil
		}
	}
	plan, err = a.Engine.Preview(req)
	if err != nil {
		return nil, false, err
	}
	if key != "" {
		a.PreviewCache.Set(key, plan)
	}
	return plan, false, nil
}

// Run executes req, records the outcome in the ledger and archives the
// manifest. The returned record is never nil; err is the run's *RunError
// joined with any ledger failure.
func (a *App) Run(ctx context.Context, req rules.RunRequest) (*ledger.Record, error) {
	run, runErr := a.Engine.CleanDataset(ctx, req)
	rec := ledger.FromRun(run)
	logger := a.Logger.With("run_id", rec.ID)

	// the ledger write must not be cut short by a cancelled run
	saveCtx := context.WithoutCancel(ctx)
	var saveErr error
	if err := a.Ledger.Save(saveCtx, rec); err != nil {
		logger.Error("failed to record run in ledger", "error", err)
		saveErr = fmt.Errorf("failed to record run %s: %w", rec.ID, err)
	}

	if a.Archiver != nil {
		key, err := a.Archiver.Archive(saveCtx, rec)
		if err != nil {
			logger.Warn("failed to archive run manifest", "error", err)
		} else {
			logger.Info("archived run manifest", "key", key)
		}
	}
	return &rec, errors.Join(runErr, saveErr)
}
