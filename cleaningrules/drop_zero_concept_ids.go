package cleaningrules

import (
	"github.com/liamcoop/curation/rules"
)

// DropZeroConceptIDsName is the registry name of DropZeroConceptIDs
const DropZeroConceptIDsName = "drop_zero_concept_ids"

// zeroConceptTable lists the columns checked in one affected table
type zeroConceptTable struct {
	Table           string
	ID              string
	SourceConceptID string
	ConceptID       string
}

// The death table is deliberately absent so suppressed cause concepts survive.
var zeroConceptTables = []zeroConceptTable{
	{"condition_occurrence", "condition_occurrence_id", "condition_source_concept_id", "condition_concept_id"},
	{"procedure_occurrence", "procedure_occurrence_id", "procedure_source_concept_id", "procedure_concept_id"},
	{"visit_occurrence", "visit_occurrence_id", "visit_source_concept_id", "visit_concept_id"},
	{"drug_exposure", "drug_exposure_id", "drug_source_concept_id", "drug_concept_id"},
	{"device_exposure", "device_exposure_id", "device_source_concept_id", "device_concept_id"},
	{"observation", "observation_id", "observation_source_concept_id", "observation_concept_id"},
	{"measurement", "measurement_id", "measurement_source_concept_id", "measurement_concept_id"},
}

var sandboxZeroConceptIDs = mustTemplate("sandbox_zero_concept_ids", `
CREATE OR REPLACE TABLE {{.SandboxTable}} AS (
SELECT *
FROM {{.Table}}
WHERE
({{.SourceConceptID}} IS NULL OR {{.SourceConceptID}} = 0)
AND ({{.ConceptID}} IS NULL OR {{.ConceptID}} = 0)
)`)

var dropZeroConceptIDs = mustTemplate("drop_zero_concept_ids", `
DELETE FROM {{.Table}}
WHERE
{{.ID}} IN (
SELECT {{.ID}}
FROM {{.SandboxTable}}
)`)

// DropZeroConceptIDs removes rows whose standard and source concept ids are
// both zero or NULL, keeping a copy of them in the sandbox.
type DropZeroConceptIDs struct {
	rules.BaseRule
}

func NewDropZeroConceptIDs(target rules.Target, _ rules.Options) (rules.Rule, error) {
	tables := make([]string, len(zeroConceptTables))
	for i, t := range zeroConceptTables {
		tables[i] = t.Table
	}
	return &DropZeroConceptIDs{
		BaseRule: rules.BaseRule{
			Target:           target,
			IssueNumbers:     []string{"DC975"},
			Description:      "Drops rows with concept_id and source_concept_ids containing zero or null",
			AffectedDatasets: []string{"deid_clean", "controlled_tier_deid_clean"},
			AffectedTables:   tables,
		},
	}, nil
}

// QuerySpecs returns every sandbox query followed by every delete.
func (r *DropZeroConceptIDs) QuerySpecs() ([]rules.QuerySpec, error) {
	sandbox := make([]rules.QuerySpec, 0, len(zeroConceptTables))
	drops := make([]rules.QuerySpec, 0, len(zeroConceptTables))

	for _, t := range zeroConceptTables {
		data := map[string]string{
			"Table":           r.Table(t.Table),
			"SandboxTable":    r.SandboxTable(r.SandboxTableFor(t.Table)),
			"ID":              t.ID,
			"SourceConceptID": t.SourceConceptID,
			"ConceptID":       t.ConceptID,
		}
		q, err := render(sandboxZeroConceptIDs, data)
		if err != nil {
			return nil, err
		}
		sandbox = append(sandbox, rules.QuerySpec{Query: q})

		q, err = render(dropZeroConceptIDs, data)
		if err != nil {
			return nil, err
		}
		drops = append(drops, rules.QuerySpec{Query: q})
	}
	return append(sandbox, drops...), nil
}

func DropZeroConceptIDsDeclaration() rules.Declaration {
	return rules.Declaration{
		Name:              DropZeroConceptIDsName,
		Description:       "Drops rows with concept_id and source_concept_ids containing zero or null",
		AcceptsTableNamer: true,
		New:               NewDropZeroConceptIDs,
	}
}
