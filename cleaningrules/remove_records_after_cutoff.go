package cleaningrules

import (
	"fmt"
	"strings"

	"github.com/liamcoop/curation/rules"
	"github.com/liamcoop/curation/warehouse"
)

const (
	// RemoveRecordsAfterCutoffName is the registry name of the legacy
	// RemoveRecordsAfterCutoff rule
	RemoveRecordsAfterCutoffName = "remove_records_after_cutoff"

	// ParamTables restricts RemoveRecordsAfterCutoff to a comma separated
	// subset of its tables
	ParamTables = "tables"
)

// cutoffDateColumns maps each table to the date compared against the cutoff
var cutoffDateColumns = map[string]string{
	"condition_occurrence": "condition_start_date",
	"procedure_occurrence": "procedure_date",
	"visit_occurrence":     "visit_start_date",
	"drug_exposure":        "drug_exposure_start_date",
	"device_exposure":      "device_exposure_start_date",
	"observation":          "observation_date",
	"measurement":          "measurement_date",
}

var defaultCutoffTables = "condition_occurrence,procedure_occurrence,visit_occurrence,drug_exposure,device_exposure,observation,measurement"

var selectAfterCutoff = mustTemplate("select_after_cutoff", `
SELECT *
FROM {{.Table}}
WHERE {{.DateColumn}} > DATE '{{.Cutoff}}'`)

var deleteAfterCutoff = mustTemplate("delete_after_cutoff", `
DELETE FROM {{.Table}}
WHERE {{.DateColumn}} > DATE '{{.Cutoff}}'`)

// RemoveRecordsAfterCutoff copies records dated after the cutoff into the
// sandbox and deletes them. For each table it returns the sandbox copy
// followed by the delete.
func RemoveRecordsAfterCutoff(projectID, datasetID, sandboxDatasetID string, opts rules.Options) ([]rules.QuerySpec, error) {
	cutoff, err := parseCutoff(opts)
	if err != nil {
		return nil, err
	}
	tables, err := cutoffTables(opts)
	if err != nil {
		return nil, err
	}

	specs := make([]rules.QuerySpec, 0, 2*len(tables))
	for _, table := range tables {
		data := map[string]string{
			"Table":      "`" + projectID + "." + datasetID + "." + table + "`",
			"DateColumn": cutoffDateColumns[table],
			"Cutoff":     cutoff,
		}
		sel, err := render(selectAfterCutoff, data)
		if err != nil {
			return nil, err
		}
		del, err := render(deleteAfterCutoff, data)
		if err != nil {
			return nil, err
		}
		specs = append(specs,
			rules.QuerySpec{
				Query:              sel,
				DestinationDataset: sandboxDatasetID,
				DestinationTable:   table + "_after_cutoff",
				WriteDisposition:   warehouse.WriteTruncate,
			},
			rules.QuerySpec{Query: del},
		)
	}
	return specs, nil
}

func cutoffTables(opts rules.Options) ([]string, error) {
	raw, ok := opts.String(ParamTables)
	if !ok || strings.TrimSpace(raw) == "" {
		raw = defaultCutoffTables
	}
	var tables []string
	for _, t := range strings.Split(raw, ",") {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, known := cutoffDateColumns[t]; !known {
			return nil, fmt.Errorf("table %s has no cutoff date column", t)
		}
		tables = append(tables, t)
	}
	return tables, nil
}

func RemoveRecordsAfterCutoffDeclaration() rules.Declaration {
	return rules.Declaration{
		Name:        RemoveRecordsAfterCutoffName,
		Description: "Sandboxes and removes records dated after the cutoff date",
		Params: []rules.Param{
			{Name: ParamCutoffDate, Required: true, Description: "YYYY-MM-DD; later records are removed"},
			{Name: ParamTables, Default: defaultCutoffTables, Description: "Comma separated tables to clean"},
		},
		Legacy: RemoveRecordsAfterCutoff,
	}
}
