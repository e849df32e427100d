package main

import (
	"time"

	"github.com/liamcoop/decisions/enginemanager"
	"github.com/liamcoop/decisions/rules"
)

// API request and response models

// EvaluateRequest runs an ad hoc configuration against a batch of rows
type EvaluateRequest struct {
	Config  rules.Config `json:"config"`
	Rows    []rules.Row  `json:"rows"`
	Explain bool         `json:"explain,omitempty"`
} // @name EvaluateRequest

// ActionsRequest runs a served decision set against a batch of rows
type ActionsRequest struct {
	Rows    []rules.Row `json:"rows"`
	Explain bool        `json:"explain,omitempty"`
} // @name ActionsRequest

// ActionsResponse carries the output column and, when requested, the per-row decisions
type ActionsResponse struct {
	Key            string           `json:"key" example:"bucket"`
	Values         []any            `json:"values"`
	Decisions      []rules.Decision `json:"decisions,omitempty"`
	EvaluationTime string           `json:"evaluationTime" example:"1.2ms"`
} // @name ActionsResponse

// DecisionSetRequest creates or replaces a decision set
type DecisionSetRequest struct {
	Name          string     `json:"name" example:"pricing"`
	Key           string     `json:"key" example:"bucket"`
	DefaultAction string     `json:"default_action" example:"low"`
	Dialect       string     `json:"dialect,omitempty" example:"cel"`
	Rules         [][]string `json:"rules"`
	Active        *bool      `json:"active,omitempty" example:"true"`
} // @name DecisionSetRequest

// DecisionSetResponse represents a decision set in API responses
type DecisionSetResponse struct {
	ID            string     `json:"id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	Name          string     `json:"name" example:"pricing"`
	Key           string     `json:"key" example:"bucket"`
	DefaultAction string     `json:"default_action" example:"low"`
	Dialect       string     `json:"dialect" example:"cel"`
	Rules         [][]string `json:"rules"`
	Active        bool       `json:"active" example:"true"`
	Source        string     `json:"source,omitempty" example:"store"`
	CreatedAt     time.Time  `json:"created_at" example:"2024-01-15T10:30:00Z"`
	UpdatedAt     time.Time  `json:"updated_at" example:"2024-01-15T10:30:00Z"`
} // @name DecisionSetResponse

// DecisionSetsListResponse lists the served decision sets
type DecisionSetsListResponse struct {
	DecisionSets []DecisionSetResponse `json:"decisionSets"`
} // @name DecisionSetsListResponse

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error" example:"evaluation failed"`
	Details string `json:"details,omitempty"`
} // @name ErrorResponse

// HealthResponse represents the health check response
type HealthResponse struct {
	Status       string `json:"status" example:"healthy"`
	DecisionSets int    `json:"decisionSets" example:"3"`
	Uptime       string `json:"uptime,omitempty" example:"1h2m3s"`
	Error        string `json:"error,omitempty"`
} // @name HealthResponse

func (r DecisionSetRequest) toDecisionSet(name string) (*rules.DecisionSet, error) {
	defs, err := rules.RulesFromPairs(r.Rules)
	if err != nil {
		return nil, err
	}
	active := true
	if r.Active != nil {
		active = *r.Active
	}
	return &rules.DecisionSet{
		Name:          name,
		Key:           r.Key,
		DefaultAction: r.DefaultAction,
		Dialect:       rules.Dialect(r.Dialect),
		Rules:         defs,
		Active:        active,
	}, nil
}

func toDecisionSetResponse(ds *rules.DecisionSet, source enginemanager.Source) DecisionSetResponse {
	return DecisionSetResponse{
		ID:            ds.ID,
		Name:          ds.Name,
		Key:           ds.Key,
		DefaultAction: ds.DefaultAction,
		Dialect:       string(ds.Dialect),
		Rules:         rules.ConfigFromDecisionSet(ds).RuleConfig.Rules,
		Active:        ds.Active,
		Source:        string(source),
		CreatedAt:     ds.CreatedAt,
		UpdatedAt:     ds.UpdatedAt,
	}
}

func toActionsResponse(key string, report *rules.Report, explain bool, elapsed time.Duration) ActionsResponse {
	resp := ActionsResponse{
		Key:            key,
		Values:         report.Column.Values,
		EvaluationTime: elapsed.String(),
	}
	if explain {
		resp.Decisions = report.Decisions
	}
	return resp
}
