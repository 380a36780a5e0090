package main

import (
	"time"

	"github.com/liamcoop/ruleengine/harness"
	"github.com/liamcoop/ruleengine/pricing"
	"github.com/liamcoop/ruleengine/regression"
	"github.com/liamcoop/ruleengine/rules"
	"github.com/liamcoop/ruleengine/script"
)

// RuleRequest is the body of rule creation and update.
type RuleRequest struct {
	ID         string            `json:"id,omitempty"`
	Name       string            `json:"name"`
	ShortName  string            `json:"short_name"`
	ContextID  string            `json:"context_id"`
	Code       string            `json:"code"`
	Status     rules.Status      `json:"status,omitempty"`
	DebugMode  bool              `json:"debug_mode"`
	Parameters []rules.Parameter `json:"parameters,omitempty"`
	RulesUsed  []string          `json:"rules_used,omitempty"`
	TablesUsed []string          `json:"tables_used,omitempty"`
	TestCases  []rules.TestCase  `json:"test_cases,omitempty"`
}

// apply copies the request onto rule.
func (req RuleRequest) apply(rule *rules.Rule) {
	rule.Name = req.Name
	rule.ShortName = req.ShortName
	rule.ContextID = req.ContextID
	rule.Code = req.Code
	rule.Status = req.Status
	rule.DebugMode = req.DebugMode
	rule.Parameters = req.Parameters
	rule.RulesUsed = req.RulesUsed
	rule.TablesUsed = req.TablesUsed
	rule.TestCases = req.TestCases
}

// ExecuteRequest is the body of a rule execution. Debug runs draft rules,
// traces calls and records the execution.
type ExecuteRequest struct {
	Args  map[string]any `json:"args"`
	Debug bool           `json:"debug"`
}

// ExecuteResponse is the result of a rule execution.
type ExecuteResponse struct {
	*script.Result
	ExecutionTime string `json:"executionTime"`
}

// FromExecutionRequest turns a recorded execution into a test case. Save
// appends the case to the rule.
type FromExecutionRequest struct {
	ExecutionID string `json:"execution_id"`
	Description string `json:"description"`
	Save        bool   `json:"save"`
}

// OutcomeResponse is one test case outcome.
type OutcomeResponse struct {
	Description string        `json:"description"`
	Passed      bool          `json:"passed"`
	Expected    script.Triple `json:"expected"`
	Actual      script.Triple `json:"actual"`
	Diff        string        `json:"diff,omitempty"`
	Error       string        `json:"error,omitempty"`
}

// TestReportResponse is the outcome of every test case of a rule.
type TestReportResponse struct {
	RuleID   string            `json:"rule_id"`
	RuleName string            `json:"rule_name"`
	Passed   bool              `json:"passed"`
	Failed   int               `json:"failed"`
	Outcomes []OutcomeResponse `json:"outcomes"`
	Report   string            `json:"report"`
}

func newTestReportResponse(r *harness.Report) TestReportResponse {
	resp := TestReportResponse{
		RuleID:   r.RuleID,
		RuleName: r.RuleName,
		Passed:   r.Passed(),
		Failed:   r.Failed(),
		Outcomes: make([]OutcomeResponse, 0, len(r.Outcomes)),
		Report:   r.String(),
	}
	for _, o := range r.Outcomes {
		or := OutcomeResponse{
			Description: o.Description,
			Passed:      o.Passed,
			Expected:    o.Expected,
			Actual:      o.Actual,
			Diff:        o.Diff,
		}
		if o.Err != nil {
			or.Error = o.Err.Error()
		}
		resp.Outcomes = append(resp.Outcomes, or)
	}
	return resp
}

// ResultResponse answers get_result.
type ResultResponse struct {
	Product string       `json:"product"`
	Kind    string       `json:"kind"`
	Value   script.Value `json:"value"`
	Errors  []string     `json:"errors"`
}

// PriceResponse is the priced product.
type PriceResponse struct {
	Product string        `json:"product"`
	Total   *pricing.Line `json:"total"`
	Errors  []string      `json:"errors"`
}

// EligibilityResponse is the eligibility decision of a product.
type EligibilityResponse struct {
	Product string `json:"product"`
	pricing.EligibilityLine
	Errors []string `json:"errors"`
}

// RegressionResponse summarizes a regression run.
type RegressionResponse struct {
	StartedAt time.Time            `json:"started_at"`
	Duration  string               `json:"duration"`
	Passed    bool                 `json:"passed"`
	Reports   []TestReportResponse `json:"reports"`
	Untested  []string             `json:"untested"`
	Summary   string               `json:"summary"`
}

func newRegressionResponse(s *regression.Summary) RegressionResponse {
	resp := RegressionResponse{
		StartedAt: s.StartedAt,
		Duration:  s.Duration.String(),
		Passed:    s.Passed(),
		Reports:   make([]TestReportResponse, 0, len(s.Reports)),
		Untested:  append([]string{}, s.Untested...),
		Summary:   s.String(),
	}
	for _, r := range s.Reports {
		resp.Reports = append(resp.Reports, newTestReportResponse(r))
	}
	return resp
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// HealthResponse is the health check body.
type HealthResponse struct {
	Status  string `json:"status"`
	Mode    string `json:"mode"`
	Rules   int    `json:"rules"`
	Reloads int64  `json:"reloads,omitempty"`
	Error   string `json:"error,omitempty"`
}
