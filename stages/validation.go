package stages

import (
	"fmt"
	"regexp"

	"github.com/liamcoop/curation/rules"
)

// maxRulesPerStage bounds the size of a stage definition
const maxRulesPerStage = 200

var validIdentifier = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ValidateDefinition checks a stage's name, its entries, and that every
// rule is registered
func ValidateDefinition(def Definition, registry rules.Registry) error {
	if err := validateIdentifier(def.Name); err != nil {
		return fmt.Errorf("invalid stage name: %w", err)
	}

	if len(def.Rules) == 0 {
		return fmt.Errorf("stage must contain at least one rule")
	}
	if len(def.Rules) > maxRulesPerStage {
		return fmt.Errorf("stage contains %d rules, maximum allowed is %d", len(def.Rules), maxRulesPerStage)
	}

	seen := make(map[string]bool, len(def.Rules))
	for i, entry := range def.Rules {
		if entry.Rule == "" {
			return fmt.Errorf("entry %d has no rule name", i)
		}
		if seen[entry.Rule] {
			return fmt.Errorf("rule %s listed more than once", entry.Rule)
		}
		seen[entry.Rule] = true

		if registry != nil {
			if _, err := registry.Get(entry.Rule); err != nil {
				return err
			}
		}
	}

	for name := range def.Options {
		if rules.IsReserved(name) {
			return fmt.Errorf("option %s is reserved for the engine", name)
		}
	}
	return nil
}

// validateIdentifier validates a stage name
// Must match ^[a-zA-Z_][a-zA-Z0-9_]*$ and be 1-100 characters
func validateIdentifier(name string) error {
	if len(name) == 0 {
		return fmt.Errorf("identifier cannot be empty")
	}
	if len(name) > 100 {
		return fmt.Errorf("identifier length %d exceeds maximum of 100 characters", len(name))
	}
	if !validIdentifier.MatchString(name) {
		return fmt.Errorf("must match pattern ^[a-zA-Z_][a-zA-Z0-9_]*$ (start with letter or underscore, followed by letters, digits, or underscores)")
	}
	return nil
}
