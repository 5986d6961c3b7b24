package cleaningrules

import (
	"fmt"

	"github.com/liamcoop/curation/rules"
)

const (
	// QRIDToRIDName is the registry name of QRIDToRID
	QRIDToRIDName = "qrid_to_rid"

	// ParamQRMapDataset names the dataset holding the response id lookup
	ParamQRMapDataset = "deid_questionnaire_response_map_dataset"

	deidQuestionnaireResponseMap = "_deid_questionnaire_response_map"
)

var qridToRIDMapping = mustTemplate("qrid_rid_mapping", `
UPDATE {{.Observation}} t
SET questionnaire_response_id = d.research_response_id
FROM (
    SELECT
        o.observation_id,
        m.research_response_id
    FROM {{.Observation}} o
    LEFT JOIN {{.Map}} m
    ON o.questionnaire_response_id = m.questionnaire_response_id
    ) d
WHERE t.observation_id = d.observation_id`)

// QRIDToRID remaps observation.questionnaire_response_id to the randomly
// generated research_response_id of the deid lookup table.
type QRIDToRID struct {
	rules.BaseRule
	mapDataset string
}

func NewQRIDToRID(target rules.Target, opts rules.Options) (rules.Rule, error) {
	mapDataset, _ := opts.String(ParamQRMapDataset)
	if mapDataset == "" {
		return nil, fmt.Errorf("%s cannot be empty", ParamQRMapDataset)
	}
	return &QRIDToRID{
		BaseRule: rules.BaseRule{
			Target:       target,
			IssueNumbers: []string{"DC1347", "DC518", "DC-2065"},
			Description: "Remap the QID (questionnaire_response_id) from the observation table to the " +
				"RID (research_response_id) found in the deid questionnaire response mapping lookup table.",
			AffectedDatasets: []string{"controlled_tier_deid", "registered_tier_deid"},
			AffectedTables:   []string{"observation"},
		},
		mapDataset: mapDataset,
	}, nil
}

func (r *QRIDToRID) QuerySpecs() ([]rules.QuerySpec, error) {
	q, err := render(qridToRIDMapping, map[string]string{
		"Observation": r.Table("observation"),
		"Map":         "`" + r.ProjectID + "." + r.mapDataset + "." + deidQuestionnaireResponseMap + "`",
	})
	if err != nil {
		return nil, err
	}
	return []rules.QuerySpec{{Query: q}}, nil
}

func QRIDToRIDDeclaration() rules.Declaration {
	return rules.Declaration{
		Name:        QRIDToRIDName,
		Description: "Remaps questionnaire_response_id in observation to research_response_id",
		Params: []rules.Param{{
			Name:        ParamQRMapDataset,
			Required:    true,
			Description: "Dataset containing the _deid_questionnaire_response_map lookup table",
		}},
		AcceptsTableNamer: true,
		New:               NewQRIDToRID,
	}
}
