package main

import (
	"github.com/liamcoop/curation/internal/app"
	"github.com/liamcoop/curation/ledger"
	"github.com/liamcoop/curation/rules"
	"github.com/liamcoop/curation/stages"
)

// API Request and Response Models

// RunRequest is the body of POST /runs and POST /preview. Exactly one of
// Stage and Rules is set.
type RunRequest struct {
	rules.Target
	Stage   string         `json:"stage,omitempty" example:"combined"`
	Rules   []string       `json:"rules,omitempty" example:"drop_zero_concept_ids"`
	RunAs   string         `json:"run_as,omitempty" example:"cleaner@project.iam.gserviceaccount.com"`
	Options map[string]any `json:"options,omitempty"`
} // @name RunRequest

func (r RunRequest) selection() app.Selection {
	return app.Selection{
		Target:  r.Target,
		Stage:   r.Stage,
		Rules:   r.Rules,
		RunAs:   r.RunAs,
		Options: rules.Options(r.Options),
	}
}

// RuleResponse describes a registered rule
type RuleResponse struct {
	Name              string        `json:"name" example:"drop_zero_concept_ids"`
	Description       string        `json:"description,omitempty"`
	Kind              string        `json:"kind" example:"structured"`
	AcceptsTableNamer bool          `json:"accepts_table_namer"`
	Params            []rules.Param `json:"params"`
} // @name RuleResponse

func toRuleResponse(d rules.Declaration) RuleResponse {
	params := d.Params
	if params == nil {
		params = []rules.Param{}
	}
	return RuleResponse{
		Name:              d.Name,
		Description:       d.Description,
		Kind:              d.Kind(),
		AcceptsTableNamer: d.AcceptsTableNamer,
		Params:            params,
	}
}

// RulesListResponse represents the response for listing rules
type RulesListResponse struct {
	Rules []RuleResponse `json:"rules"`
} // @name RulesListResponse

// StagesListResponse represents the response for listing stages
type StagesListResponse struct {
	Stages []stages.Definition `json:"stages"`
} // @name StagesListResponse

// PreviewResponse lists the queries a run would execute
type PreviewResponse struct {
	Rules   []rules.RuleQueries `json:"rules"`
	Skipped []string            `json:"skipped,omitempty"`
	Cached  bool                `json:"cached"`
} // @name PreviewResponse

// RunResponse is the outcome of a run; Error is set when the run failed
type RunResponse struct {
	Run     *ledger.Record `json:"run"`
	Skipped []string       `json:"skipped,omitempty"`
	Error   string         `json:"error,omitempty"`
} // @name RunResponse

// RunsListResponse represents the response for listing runs
type RunsListResponse struct {
	Runs []ledger.Record `json:"runs"`
} // @name RunsListResponse

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error" example:"invalid request body"`
	Details string `json:"details,omitempty" example:"unexpected end of JSON input"`
} // @name ErrorResponse
