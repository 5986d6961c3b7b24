// Package stages groups cleaning rules into named, ordered pipelines. Each
// entry may carry a CEL gate evaluated against the run's facts.
package stages

import (
	"github.com/liamcoop/curation/rules"
)

// Entry is one rule of a stage
type Entry struct {
	Rule string `yaml:"rule" json:"rule"`
	// When is an optional CEL expression; the rule is skipped when it evaluates to false
	When string `yaml:"when,omitempty" json:"when,omitempty"`
}

// Definition is a named ordered list of rules
type Definition struct {
	Name        string         `yaml:"name" json:"name"`
	Description string         `yaml:"description,omitempty" json:"description,omitempty"`
	Rules       []Entry        `yaml:"rules" json:"rules"`
	Options     map[string]any `yaml:"options,omitempty" json:"options,omitempty"`
}

// RuleNames returns the rule names in stage order
func (d Definition) RuleNames() []string {
	names := make([]string, len(d.Rules))
	for i, e := range d.Rules {
		names[i] = e.Rule
	}
	return names
}

// Facts are the values gate expressions can reference
type Facts struct {
	Project    string
	Dataset    string
	Sandbox    string
	TableNamer string
	Stage      string
	Options    map[string]any
}

// FactsFor builds the facts for running stage against target
func FactsFor(stage string, target rules.Target, opts rules.Options) Facts {
	return Facts{
		Project:    target.ProjectID,
		Dataset:    target.DatasetID,
		Sandbox:    target.SandboxDatasetID,
		TableNamer: target.TableNamer,
		Stage:      stage,
		Options:    opts,
	}
}

func (f Facts) activation() map[string]any {
	opts := f.Options
	if opts == nil {
		opts = map[string]any{}
	}
	return map[string]any{
		"project":     f.Project,
		"dataset":     f.Dataset,
		"sandbox":     f.Sandbox,
		"table_namer": f.TableNamer,
		"stage":       f.Stage,
		"options":     opts,
	}
}

// Plan is the outcome of gating a stage for one run
type Plan struct {
	Stage   string
	Request rules.RunRequest
	// Skipped lists the rules whose gate evaluated to false
	Skipped []string
}
