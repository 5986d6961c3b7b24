package rules

import (
	"context"
	"fmt"

	"github.com/liamcoop/curation/warehouse"
)

// Rule is the capability set of a structured cleaning rule.
type Rule interface {
	// QuerySpecs returns the rule's queries in execution order.
	QuerySpecs() ([]QuerySpec, error)

	// Setup runs before any query, e.g. to create lookup tables.
	Setup(ctx context.Context, client warehouse.Client) error

	// SandboxTableNames lists the tables the rule backs rows up into.
	SandboxTableNames() []string

	// SetupValidation prepares whatever Validate needs.
	SetupValidation(ctx context.Context, client warehouse.Client) error

	// Validate checks the cleaned data after the rule ran.
	Validate(ctx context.Context, client warehouse.Client) error
}

// StructuredFunc constructs a structured rule for a target.
type StructuredFunc func(target Target, opts Options) (Rule, error)

// LegacyFunc produces query specs directly. Legacy rules have no setup phase
// and never receive a table namer.
type LegacyFunc func(projectID, datasetID, sandboxDatasetID string, opts Options) ([]QuerySpec, error)

// Param declares one rule-specific parameter. A parameter without a default
// must be supplied by the caller.
type Param struct {
	Name        string `json:"name"`
	Required    bool   `json:"required"`
	Default     any    `json:"default,omitempty"`
	Description string `json:"description,omitempty"`
}

// Declaration describes a rule to the engine. Exactly one of New and Legacy
// must be set.
type Declaration struct {
	Name        string
	Description string
	Params      []Param

	// AcceptsTableNamer is false for structured rules whose constructor
	// predates table namers. The adapter withholds the namer from them.
	AcceptsTableNamer bool

	New    StructuredFunc
	Legacy LegacyFunc
}

// Kind returns "structured", "legacy" or "" for a malformed declaration.
func (d Declaration) Kind() string {
	switch {
	case d.New != nil && d.Legacy == nil:
		return "structured"
	case d.Legacy != nil && d.New == nil:
		return "legacy"
	default:
		return ""
	}
}

// Param looks up a declared parameter by name.
func (d Declaration) Param(name string) (Param, bool) {
	for _, p := range d.Params {
		if p.Name == name {
			return p, true
		}
	}
	return Param{}, false
}

// Validate checks the declaration's shape and parameter list.
func (d Declaration) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("rule declaration has no name")
	}

	switch {
	case d.New == nil && d.Legacy == nil:
		return &UnsupportedRuleShapeError{Rule: d.Name, Reason: "neither a constructor nor a legacy function is set"}
	case d.New != nil && d.Legacy != nil:
		return &UnsupportedRuleShapeError{Rule: d.Name, Reason: "both a constructor and a legacy function are set"}
	}

	seen := make(map[string]bool, len(d.Params))
	for _, p := range d.Params {
		if p.Name == "" {
			return fmt.Errorf("rule %s declares a parameter without a name", d.Name)
		}
		if seen[p.Name] {
			return fmt.Errorf("rule %s declares parameter %s more than once", d.Name, p.Name)
		}
		seen[p.Name] = true
		if p.Required && p.Default != nil {
			return fmt.Errorf("rule %s: required parameter %s cannot have a default", d.Name, p.Name)
		}
	}
	return nil
}
