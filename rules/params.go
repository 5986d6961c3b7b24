package rules

import "sort"

// Engine-supplied parameter names. Rules receive these through Target and
// never through Options.
const (
	ParamProjectID        = "project_id"
	ParamDatasetID        = "dataset_id"
	ParamSandboxDatasetID = "sandbox_dataset_id"
	ParamTableNamer       = "table_namer"
)

var reservedParams = map[string]bool{
	ParamProjectID:        true,
	ParamDatasetID:        true,
	ParamSandboxDatasetID: true,
	ParamTableNamer:       true,
}

// IsReserved reports whether name is supplied by the engine itself.
func IsReserved(name string) bool {
	return reservedParams[name]
}

// ResolveOptions filters supplied down to the parameters decl declares.
// Reserved and undeclared names are dropped silently. Every required
// parameter missing from the result is reported in one MissingParameterError.
// Defaults are not echoed into the result.
func ResolveOptions(decl Declaration, supplied Options) (Options, error) {
	resolved := make(Options)
	var missing []string

	for _, p := range decl.Params {
		if IsReserved(p.Name) {
			continue
		}
		if v, ok := supplied[p.Name]; ok {
			resolved[p.Name] = v
			continue
		}
		if p.Required {
			missing = append(missing, p.Name)
		}
	}

	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, &MissingParameterError{Rule: decl.Name, Missing: missing}
	}
	return resolved, nil
}

// withDefaults returns resolved plus the defaults of declared optional
// parameters the caller did not supply.
func withDefaults(decl Declaration, resolved Options) Options {
	opts := resolved.Clone()
	for _, p := range decl.Params {
		if IsReserved(p.Name) || p.Default == nil {
			continue
		}
		if _, ok := opts[p.Name]; !ok {
			opts[p.Name] = p.Default
		}
	}
	return opts
}
