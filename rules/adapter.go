package rules

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"runtime"
	"strings"

	"github.com/liamcoop/curation/warehouse"
)

// Invocation is one rule adapted against a concrete target. It closes over
// the run's identifiers and is never reused across runs.
type Invocation struct {
	Queries  func() ([]QuerySpec, error)
	Setup    func(ctx context.Context, client warehouse.Client) error
	Info     Metadata
	Rule     Rule // nil for legacy rules
	Warnings []error
}

// Adapter normalizes structured and legacy declarations into Invocations.
type Adapter struct {
	logger *slog.Logger
}

// NewAdapter creates an adapter logging to logger.
func NewAdapter(logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{logger: logger}
}

// Adapt resolves options for decl and builds its invocation for target.
// Missing required parameters fail before the rule is constructed.
func (a *Adapter) Adapt(decl Declaration, target Target, supplied Options) (*Invocation, error) {
	if err := decl.Validate(); err != nil {
		return nil, err
	}

	resolved, err := ResolveOptions(decl, supplied)
	if err != nil {
		a.logger.Error("rule parameters not satisfied", "rule", decl.Name, "error", err)
		return nil, err
	}
	opts := withDefaults(decl, resolved)

	if decl.Legacy != nil {
		return a.adaptLegacy(decl, target, opts), nil
	}
	return a.adaptStructured(decl, target, opts)
}

func (a *Adapter) adaptStructured(decl Declaration, target Target, opts Options) (*Invocation, error) {
	info := funcMetadata(decl.Name, decl.New)
	inv := &Invocation{Info: info}

	if !decl.AcceptsTableNamer && target.TableNamer != "" {
		warning := &CompatibilityWarning{
			Rule:   decl.Name,
			Detail: fmt.Sprintf("constructor does not accept a table namer, %q was not passed", target.TableNamer),
		}
		a.logger.Warn("rule constructed without table namer",
			"rule", decl.Name,
			"module", info.ModuleName,
			"function", info.FunctionName,
			"table_namer", target.TableNamer,
		)
		inv.Warnings = append(inv.Warnings, warning)
		target.TableNamer = ""
	}

	rule, err := decl.New(target, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to construct rule %s: %w", decl.Name, err)
	}
	if rule == nil {
		return nil, &UnsupportedRuleShapeError{Rule: decl.Name, Reason: "constructor returned no rule"}
	}

	inv.Rule = rule
	inv.Queries = rule.QuerySpecs
	inv.Setup = rule.Setup
	return inv, nil
}

func (a *Adapter) adaptLegacy(decl Declaration, target Target, opts Options) *Invocation {
	fn := decl.Legacy
	return &Invocation{
		Info: funcMetadata(decl.Name, fn),
		Queries: func() ([]QuerySpec, error) {
			return fn(target.ProjectID, target.DatasetID, target.SandboxDatasetID, opts)
		},
		Setup: func(context.Context, warehouse.Client) error { return nil },
	}
}

// funcMetadata describes fn via the runtime symbol table. Fields that cannot
// be determined are set to Unknown.
func funcMetadata(rule string, fn any) Metadata {
	info := Metadata{Rule: rule, FunctionName: Unknown, ModuleName: Unknown}
	if rule == "" {
		info.Rule = Unknown
	}

	v := reflect.ValueOf(fn)
	if !v.IsValid() || v.Kind() != reflect.Func || v.IsNil() {
		return info
	}
	f := runtime.FuncForPC(v.Pointer())
	if f == nil {
		return info
	}

	// f.Name() is "<import path>.<function>", where the import path may
	// itself contain dots before its last slash.
	full := f.Name()
	slash := strings.LastIndex(full, "/")
	if dot := strings.Index(full[slash+1:], "."); dot >= 0 {
		info.ModuleName = full[:slash+1+dot]
		info.FunctionName = full[slash+1+dot+1:]
	} else if full != "" {
		info.FunctionName = full
	}

	file, line := f.FileLine(f.Entry())
	if file != "" {
		info.File = file
		info.Line = line
	}
	return info
}
