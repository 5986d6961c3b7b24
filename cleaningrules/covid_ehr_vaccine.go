package cleaningrules

import (
	"context"
	"fmt"

	"github.com/liamcoop/curation/rules"
	"github.com/liamcoop/curation/warehouse"
)

const (
	// CovidEHRVaccineConceptSuppressionName is the registry name of
	// CovidEHRVaccineConceptSuppression
	CovidEHRVaccineConceptSuppressionName = "covid_ehr_vaccine_concept_suppression"

	// ParamCutoffDate is the YYYY-MM-DD date used by cutoff based rules
	ParamCutoffDate = "cutoff_date"

	covidConceptsTable = "covid_vaccine_concepts"
)

type vaccineTable struct {
	Table           string
	ID              string
	ConceptID       string
	SourceConceptID string
	DateColumn      string
}

var vaccineTables = []vaccineTable{
	{"observation", "observation_id", "observation_concept_id", "observation_source_concept_id", "observation_date"},
	{"drug_exposure", "drug_exposure_id", "drug_concept_id", "drug_source_concept_id", "drug_exposure_start_date"},
	{"procedure_occurrence", "procedure_occurrence_id", "procedure_concept_id", "procedure_source_concept_id", "procedure_date"},
}

var covidConceptLookup = mustTemplate("covid_concept_lookup", `
SELECT c.concept_id, c.concept_code, c.vocabulary_id, c.concept_name
FROM {{.Concept}} c
WHERE (c.vocabulary_id = 'CVX' AND c.concept_code IN ('207', '208', '210', '211', '212', '213', '217', '218', '219', '221', '225', '226', '227', '228', '229', '230', '300', '301', '302'))
OR (LOWER(c.concept_name) LIKE '%covid%' AND LOWER(c.concept_name) LIKE '%vaccin%')`)

var sandboxCovidVaccine = mustTemplate("sandbox_covid_vaccine", `
CREATE OR REPLACE TABLE {{.SandboxTable}} AS (
SELECT t.*
FROM {{.Table}} t
WHERE ({{.ConceptID}} IN (SELECT concept_id FROM {{.Lookup}})
OR {{.SourceConceptID}} IN (SELECT concept_id FROM {{.Lookup}}))
AND {{.DateColumn}} > DATE '{{.Cutoff}}'
)`)

var dropCovidVaccine = mustTemplate("drop_covid_vaccine", `
DELETE FROM {{.Table}}
WHERE {{.ID}} IN (
SELECT {{.ID}}
FROM {{.SandboxTable}}
)`)

// CovidEHRVaccineConceptSuppression removes EHR records of COVID-19 vaccine
// concepts dated after the cutoff date. Setup materialises the vaccine
// concept lookup into the sandbox.
type CovidEHRVaccineConceptSuppression struct {
	rules.BaseRule
	cutoff string
}

func NewCovidEHRVaccineConceptSuppression(target rules.Target, opts rules.Options) (rules.Rule, error) {
	cutoff, err := parseCutoff(opts)
	if err != nil {
		return nil, err
	}
	tables := make([]string, len(vaccineTables))
	for i, t := range vaccineTables {
		tables[i] = t.Table
	}
	return &CovidEHRVaccineConceptSuppression{
		BaseRule: rules.BaseRule{
			Target:           target,
			IssueNumbers:     []string{"DC1692"},
			Description:      "Suppress COVID EHR vaccine concepts dated after the cutoff date",
			AffectedDatasets: []string{"combined"},
			AffectedTables:   tables,
		},
		cutoff: cutoff,
	}, nil
}

// LookupTable returns the sandbox table holding the vaccine concepts
func (r *CovidEHRVaccineConceptSuppression) LookupTable() warehouse.TableRef {
	return warehouse.TableRef{
		ProjectID: r.ProjectID,
		DatasetID: r.SandboxDatasetID,
		TableID:   r.SandboxTableFor(covidConceptsTable),
	}
}

func (r *CovidEHRVaccineConceptSuppression) Setup(ctx context.Context, client warehouse.Client) error {
	q, err := render(covidConceptLookup, map[string]string{"Concept": r.Table("concept")})
	if err != nil {
		return err
	}
	lookup := r.LookupTable()
	cfg := warehouse.JobConfig{Destination: &lookup, WriteDisposition: warehouse.WriteTruncate}
	info := rules.Metadata{
		Rule:         CovidEHRVaccineConceptSuppressionName,
		ModuleName:   "cleaningrules",
		FunctionName: "CovidEHRVaccineConceptSuppression.Setup",
	}
	if err := runSetupQuery(ctx, client, q, cfg, info); err != nil {
		return fmt.Errorf("failed to create vaccine concept lookup %s: %w", lookup, err)
	}
	return nil
}

func (r *CovidEHRVaccineConceptSuppression) SandboxTableNames() []string {
	return append(r.BaseRule.SandboxTableNames(), r.SandboxTableFor(covidConceptsTable))
}

func (r *CovidEHRVaccineConceptSuppression) QuerySpecs() ([]rules.QuerySpec, error) {
	lookup := r.SandboxTable(r.SandboxTableFor(covidConceptsTable))
	var sandbox, drops []rules.QuerySpec
	for _, t := range vaccineTables {
		data := map[string]string{
			"Table":           r.Table(t.Table),
			"SandboxTable":    r.SandboxTable(r.SandboxTableFor(t.Table)),
			"Lookup":          lookup,
			"ID":              t.ID,
			"ConceptID":       t.ConceptID,
			"SourceConceptID": t.SourceConceptID,
			"DateColumn":      t.DateColumn,
			"Cutoff":          r.cutoff,
		}
		q, err := render(sandboxCovidVaccine, data)
		if err != nil {
			return nil, err
		}
		sandbox = append(sandbox, rules.QuerySpec{Query: q})

		q, err = render(dropCovidVaccine, data)
		if err != nil {
			return nil, err
		}
		drops = append(drops, rules.QuerySpec{Query: q})
	}
	return append(sandbox, drops...), nil
}

// CovidEHRVaccineConceptSuppressionDeclaration is declared without table
// namer support; the adapter withholds any namer supplied for it.
func CovidEHRVaccineConceptSuppressionDeclaration() rules.Declaration {
	return rules.Declaration{
		Name:        CovidEHRVaccineConceptSuppressionName,
		Description: "Suppress COVID EHR vaccine concepts dated after the cutoff date",
		Params: []rules.Param{{
			Name:        ParamCutoffDate,
			Required:    true,
			Description: "Records dated after this YYYY-MM-DD date are suppressed",
		}},
		New: NewCovidEHRVaccineConceptSuppression,
	}
}
