package rules

import (
	"errors"
	"fmt"
	"strings"

	"github.com/liamcoop/curation/warehouse"
)

// ErrNotImplemented is returned by rule capabilities a rule does not provide.
var ErrNotImplemented = errors.New("not implemented")

// MissingParameterError names every required parameter a caller left out.
type MissingParameterError struct {
	Rule    string
	Missing []string
}

func (e *MissingParameterError) Error() string {
	return fmt.Sprintf("rule %s is missing required parameters: %s", e.Rule, strings.Join(e.Missing, ", "))
}

// CompatibilityWarning is recorded when the adapter falls back to an older
// construction signature. It never aborts a run.
type CompatibilityWarning struct {
	Rule   string
	Detail string
}

func (w *CompatibilityWarning) Error() string {
	return fmt.Sprintf("rule %s: %s", w.Rule, w.Detail)
}

// QueryExecutionError reports a job that completed with a non-empty error
// list.
type QueryExecutionError struct {
	ProjectID string
	Info      Metadata
	JobID     string
	Query     string
	Errors    []warehouse.JobError
}

func (e *QueryExecutionError) Error() string {
	msgs := make([]string, 0, len(e.Errors))
	for _, je := range e.Errors {
		msgs = append(msgs, je.String())
	}
	return fmt.Sprintf("job %s for rule %s in project %s failed: %s\nquery: %s",
		e.JobID, e.Info, e.ProjectID, strings.Join(msgs, "; "), e.Query)
}

// UnsupportedRuleShapeError reports a declaration that is neither a
// structured nor a legacy rule.
type UnsupportedRuleShapeError struct {
	Rule   string
	Reason string
}

func (e *UnsupportedRuleShapeError) Error() string {
	return fmt.Sprintf("rule %s has an unsupported shape: %s", e.Rule, e.Reason)
}

// InvalidQuerySpecError reports a QuerySpec rejected before job
// configuration was built.
type InvalidQuerySpecError struct {
	Rule   string
	Query  string
	Reason string
}

func (e *InvalidQuerySpecError) Error() string {
	if e.Rule != "" {
		return fmt.Sprintf("invalid query spec for rule %s: %s", e.Rule, e.Reason)
	}
	return "invalid query spec: " + e.Reason
}

// RunError ends a pipeline run. Jobs holds every job collected before the
// failure, including the failed one.
type RunError struct {
	RunID string
	Rule  string
	Index int
	Jobs  []QueryJobResult
	Err   error
}

func (e *RunError) Error() string {
	if e.Rule == "" {
		return fmt.Sprintf("run %s failed: %v", e.RunID, e.Err)
	}
	return fmt.Sprintf("run %s failed at rule %d (%s) after %d jobs: %v", e.RunID, e.Index, e.Rule, len(e.Jobs), e.Err)
}

func (e *RunError) Unwrap() error {
	return e.Err
}
