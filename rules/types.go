package rules

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/liamcoop/curation/warehouse"
)

// Options holds rule-specific parameter values keyed by parameter name.
type Options map[string]any

// String returns the option as a string. Non-string values are formatted
// with %v; a missing or nil value reports false.
func (o Options) String(name string) (string, bool) {
	v, ok := o[name]
	if !ok || v == nil {
		return "", false
	}
	if s, ok := v.(string); ok {
		return s, true
	}
	return fmt.Sprintf("%v", v), true
}

// Clone returns a shallow copy of o.
func (o Options) Clone() Options {
	out := make(Options, len(o))
	for k, v := range o {
		out[k] = v
	}
	return out
}

// Target identifies the datasets one rule run operates on. The engine
// supplies these positionally, never through Options.
type Target struct {
	ProjectID        string `json:"project_id" yaml:"project_id"`
	DatasetID        string `json:"dataset_id" yaml:"dataset_id"`
	SandboxDatasetID string `json:"sandbox_dataset_id" yaml:"sandbox_dataset_id"`
	TableNamer       string `json:"table_namer,omitempty" yaml:"table_namer,omitempty"`
}

var (
	// Project IDs may also carry hyphens.
	validProjectID = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_-]*$`)
	validDatasetID = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)
)

// Validate checks that the engine-supplied identifiers are present and safe
// to splice into table references.
func (t Target) Validate() error {
	var missing []string
	if t.ProjectID == "" {
		missing = append(missing, ParamProjectID)
	}
	if t.DatasetID == "" {
		missing = append(missing, ParamDatasetID)
	}
	if t.SandboxDatasetID == "" {
		missing = append(missing, ParamSandboxDatasetID)
	}
	if len(missing) > 0 {
		return fmt.Errorf("target is missing %s", strings.Join(missing, ", "))
	}
	if !validProjectID.MatchString(t.ProjectID) {
		return fmt.Errorf("invalid %s %q", ParamProjectID, t.ProjectID)
	}
	for _, id := range []struct{ name, value string }{
		{ParamDatasetID, t.DatasetID},
		{ParamSandboxDatasetID, t.SandboxDatasetID},
		{ParamTableNamer, t.TableNamer},
	} {
		if id.value == "" && id.name == ParamTableNamer {
			continue
		}
		if !validDatasetID.MatchString(id.value) {
			return fmt.Errorf("invalid %s %q", id.name, id.value)
		}
	}
	return nil
}

// QuerySpec is one SQL statement plus its execution metadata.
type QuerySpec struct {
	Query              string                     `json:"query"`
	DestinationDataset string                     `json:"destination_dataset,omitempty"`
	DestinationTable   string                     `json:"destination_table,omitempty"`
	UseLegacySQL       bool                       `json:"use_legacy_sql,omitempty"`
	WriteDisposition   warehouse.WriteDisposition `json:"write_disposition,omitempty"`
}

// AllowLargeResults is derived from UseLegacySQL; the large-results flag
// only applies to legacy SQL writing to a destination table.
func (q QuerySpec) AllowLargeResults() bool {
	return q.UseLegacySQL
}

// HasDestination reports whether the query writes to an explicit table.
func (q QuerySpec) HasDestination() bool {
	return q.DestinationTable != "" || q.DestinationDataset != ""
}

// Validate checks the spec before a job configuration is built from it.
func (q QuerySpec) Validate() error {
	if strings.TrimSpace(q.Query) == "" {
		return &InvalidQuerySpecError{Query: q.Query, Reason: "query text is required"}
	}
	if q.DestinationTable != "" && q.DestinationDataset == "" {
		return &InvalidQuerySpecError{Query: q.Query, Reason: "destination table requires a destination dataset"}
	}
	if q.DestinationDataset != "" && q.DestinationTable == "" {
		return &InvalidQuerySpecError{Query: q.Query, Reason: "destination dataset requires a destination table"}
	}
	if q.WriteDisposition != "" && !q.WriteDisposition.Valid() {
		return &InvalidQuerySpecError{Query: q.Query, Reason: fmt.Sprintf("unknown write disposition %q", q.WriteDisposition)}
	}
	return nil
}

// JobConfig validates q and builds the warehouse job configuration for it.
// The destination, disposition and large-results flag are only set when q
// names a destination.
func (q QuerySpec) JobConfig(projectID string) (warehouse.JobConfig, error) {
	if err := q.Validate(); err != nil {
		return warehouse.JobConfig{}, err
	}

	cfg := warehouse.JobConfig{UseLegacySQL: q.UseLegacySQL}
	if q.HasDestination() {
		cfg.AllowLargeResults = q.AllowLargeResults()
		cfg.Destination = &warehouse.TableRef{
			ProjectID: projectID,
			DatasetID: q.DestinationDataset,
			TableID:   q.DestinationTable,
		}
		cfg.WriteDisposition = q.WriteDisposition
		if cfg.WriteDisposition == "" {
			cfg.WriteDisposition = warehouse.WriteEmpty
		}
	}
	return cfg, nil
}

// JobState is the terminal state of a query job.
type JobState string

const (
	JobSucceeded JobState = "succeeded"
	JobFailed    JobState = "failed"
)

// QueryJobResult is the outcome of executing one QuerySpec.
type QueryJobResult struct {
	JobID  string               `json:"job_id"`
	Rule   string               `json:"rule"`
	Query  string               `json:"query"`
	State  JobState             `json:"state"`
	Errors []warehouse.JobError `json:"errors,omitempty"`
}

// Succeeded reports whether the job finished without errors.
func (r QueryJobResult) Succeeded() bool {
	return r.State == JobSucceeded
}

// Unknown is the placeholder for metadata that could not be determined.
const Unknown = "unknown"

// Metadata describes where a rule is declared. It is used in log lines and
// error messages only.
type Metadata struct {
	Rule         string `json:"rule"`
	FunctionName string `json:"function"`
	ModuleName   string `json:"module"`
	File         string `json:"file,omitempty"`
	Line         int    `json:"line,omitempty"`
}

func (m Metadata) String() string {
	if m.Line > 0 {
		return fmt.Sprintf("%s.%s:%d", m.ModuleName, m.FunctionName, m.Line)
	}
	return m.ModuleName + "." + m.FunctionName
}

// maxJobIDNameLen bounds the rule name portion of a job id prefix.
const maxJobIDNameLen = 10

// JobIDPrefix returns the prefix for jobs submitted on behalf of the rule:
// its short name truncated to ten characters followed by an underscore.
func (m Metadata) JobIDPrefix() string {
	name := m.Rule
	if name == "" || name == Unknown {
		name = m.ModuleName
		if i := strings.LastIndexAny(name, "/."); i >= 0 {
			name = name[i+1:]
		}
	}
	if len(name) > maxJobIDNameLen {
		name = name[:maxJobIDNameLen]
	}
	return name + "_"
}

// RuleSummary records what one rule did during a pipeline run.
type RuleSummary struct {
	Rule      string        `json:"rule"`
	Queries   int           `json:"queries"`
	Jobs      int           `json:"jobs"`
	Duration  time.Duration `json:"duration"`
	Warnings  []string      `json:"warnings,omitempty"`
	Error     string        `json:"error,omitempty"`
	Succeeded bool          `json:"succeeded"`
}

// PipelineRun aggregates one CleanDataset call across all of its rules.
type PipelineRun struct {
	ID         string           `json:"id"`
	Target     Target           `json:"target"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
	Jobs       []QueryJobResult `json:"jobs"`
	Rules      []RuleSummary    `json:"rules"`
	Err        error            `json:"-"`
}

// Succeeded reports whether every rule of the run completed.
func (r *PipelineRun) Succeeded() bool {
	return r.Err == nil
}

// Status returns "succeeded" or "failed".
func (r *PipelineRun) Status() string {
	if r.Err != nil {
		return string(JobFailed)
	}
	return string(JobSucceeded)
}
