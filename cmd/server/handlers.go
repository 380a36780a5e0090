package main

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/liamcoop/ruleengine/catalog"
	"github.com/liamcoop/ruleengine/dispatch"
	"github.com/liamcoop/ruleengine/execlog"
	"github.com/liamcoop/ruleengine/harness"
	"github.com/liamcoop/ruleengine/internal/logger"
	"github.com/liamcoop/ruleengine/offered"
	"github.com/liamcoop/ruleengine/pricing"
	"github.com/liamcoop/ruleengine/rules"
	"github.com/liamcoop/ruleengine/script"
	"github.com/liamcoop/ruleengine/table"
)

// DefaultExecutionsLimit bounds listed executions when no limit is given.
const DefaultExecutionsLimit = 50

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "healthy", Mode: s.mode()}
	if s.db != nil {
		if err := s.db.PingContext(r.Context()); err != nil {
			resp.Status = "unhealthy"
			resp.Error = err.Error()
			respondJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
	}
	if s.live != nil {
		resp.Reloads = s.live.Reloads()
	}
	validated, err := s.runtime().Engine.ValidatedRules()
	if err != nil {
		resp.Status = "unhealthy"
		resp.Error = err.Error()
		respondJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	resp.Rules = len(validated)
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	list, err := s.runtime().Engine.Store().List()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list rules", err)
		return
	}
	if list == nil {
		list = []*rules.Rule{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"rules": list})
}

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var req RuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.Name == "" || req.Code == "" {
		respondError(w, http.StatusBadRequest, "name and code are required", nil)
		return
	}

	now := time.Now()
	rule := &rules.Rule{ID: req.ID, CreatedAt: now, UpdatedAt: now}
	req.apply(rule)

	if err := s.runtime().Engine.AddRule(rule); err != nil {
		if errors.Is(err, rules.ErrRuleExists) {
			respondError(w, http.StatusConflict, "rule already exists", err)
			return
		}
		respondError(w, http.StatusBadRequest, "failed to add rule", err)
		return
	}
	respondJSON(w, http.StatusCreated, rule)
}

func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	rule, ok := s.loadRule(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, rule)
}

func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	rule, ok := s.loadRule(w, r)
	if !ok {
		return
	}
	var req RuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	req.apply(rule)
	rule.UpdatedAt = time.Now()

	if err := s.runtime().Engine.UpdateRule(rule); err != nil {
		respondError(w, http.StatusBadRequest, "failed to update rule", err)
		return
	}
	respondJSON(w, http.StatusOK, rule)
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "ruleId")
	if err := s.runtime().Engine.DeleteRule(ruleID); err != nil {
		respondRuleError(w, "failed to delete rule", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleValidateRule activates a draft rule.
func (s *Server) handleValidateRule(w http.ResponseWriter, r *http.Request) {
	rule, err := s.runtime().Engine.Validate(chi.URLParam(r, "ruleId"))
	if err != nil {
		respondRuleError(w, "rule cannot be validated", err)
		return
	}
	respondJSON(w, http.StatusOK, rule)
}

func (s *Server) handleExecuteRule(w http.ResponseWriter, r *http.Request) {
	var req ExecuteRequest
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.Args == nil {
		req.Args = map[string]any{}
	}

	start := time.Now()
	res, err := s.runtime().Engine.Execute(r.Context(), chi.URLParam(r, "ruleId"), req.Args, rules.ExecuteOptions{Debug: req.Debug})
	if err != nil {
		respondRuleError(w, "rule cannot run", err)
		return
	}
	respondJSON(w, http.StatusOK, ExecuteResponse{Result: res, ExecutionTime: time.Since(start).String()})
}

func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	if s.execlog == nil {
		respondError(w, http.StatusNotFound, "execution log is disabled", nil)
		return
	}
	limit := DefaultExecutionsLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer", err)
			return
		}
		limit = n
	}
	entries, err := s.execlog.List(r.Context(), chi.URLParam(r, "ruleId"), limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list executions", err)
		return
	}
	if entries == nil {
		entries = []*execlog.Entry{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"executions": entries})
}

func (s *Server) handleRunTests(w http.ResponseWriter, r *http.Request) {
	rule, ok := s.loadRule(w, r)
	if !ok {
		return
	}
	if len(rule.TestCases) == 0 {
		respondError(w, http.StatusUnprocessableEntity, "rule has no test cases", nil)
		return
	}
	report, err := s.harness().RunAll(r.Context(), rule)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to run tests", err)
		return
	}
	respondJSON(w, http.StatusOK, newTestReportResponse(report))
}

// handleTestFromExecution builds a test case from a recorded debug
// execution of the rule.
func (s *Server) handleTestFromExecution(w http.ResponseWriter, r *http.Request) {
	if s.execlog == nil {
		respondError(w, http.StatusNotFound, "execution log is disabled", nil)
		return
	}
	rule, ok := s.loadRule(w, r)
	if !ok {
		return
	}
	var req FromExecutionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	entry, err := s.execlog.Get(r.Context(), req.ExecutionID)
	if errors.Is(err, execlog.ErrNotFound) {
		respondError(w, http.StatusNotFound, "execution not found", err)
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to read execution", err)
		return
	}
	if entry.RuleID != rule.ID {
		respondError(w, http.StatusBadRequest, "execution belongs to another rule", nil)
		return
	}

	tc := harness.FromEntry(*entry, req.Description)
	if req.Save {
		rule.TestCases = append(rule.TestCases, tc)
		rule.UpdatedAt = time.Now()
		if err := s.runtime().Engine.UpdateRule(rule); err != nil {
			respondError(w, http.StatusBadRequest, "failed to save test case", err)
			return
		}
		tc = rule.TestCases[len(rule.TestCases)-1]
	}
	respondJSON(w, http.StatusCreated, tc)
}

// handleGetResult answers get_result for a product or one of its coverages,
// addressed as PRODUCT or PRODUCT.COVERAGE in the code parameter.
func (s *Server) handleGetResult(w http.ResponseWriter, r *http.Request) {
	args, ok := decodeArgs(w, r)
	if !ok {
		return
	}
	code, kind := chi.URLParam(r, "code"), chi.URLParam(r, "kind")
	value, errs, err := s.runtime().Products.GetResult(r.Context(), code, kind, args)
	if err != nil {
		respondProductError(w, err)
		return
	}
	if errs == nil {
		errs = []string{}
	}
	respondJSON(w, http.StatusOK, ResultResponse{Product: code, Kind: kind, Value: value, Errors: errs})
}

func (s *Server) handlePrice(w http.ResponseWriter, r *http.Request) {
	product, args, ok := s.productRequest(w, r)
	if !ok {
		return
	}
	calc := pricing.NewCalculator(s.runtime().Engine, s.cfg.Pricing.Concurrency)
	total, errs, err := calc.PriceProduct(r.Context(), product, args)
	if err != nil {
		respondProductError(w, err)
		return
	}
	if errs == nil {
		errs = []string{}
	}
	respondJSON(w, http.StatusOK, PriceResponse{Product: product.Code, Total: total, Errors: errs})
}

func (s *Server) handleEligibility(w http.ResponseWriter, r *http.Request) {
	product, args, ok := s.productRequest(w, r)
	if !ok {
		return
	}
	line, errs, err := pricing.Eligibility(r.Context(), product, args)
	if err != nil {
		respondProductError(w, err)
		return
	}
	if errs == nil {
		errs = []string{}
	}
	respondJSON(w, http.StatusOK, EligibilityResponse{Product: product.Code, EligibilityLine: line, Errors: errs})
}

func (s *Server) handleContextTree(w http.ResponseWriter, r *http.Request) {
	cctx, err := s.runtime().Contexts.Context(chi.URLParam(r, "contextId"))
	if err != nil {
		if errors.Is(err, catalog.ErrUnknownContext) {
			respondError(w, http.StatusNotFound, "context not found", err)
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to read context", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"id":   cctx.ID,
		"name": cctx.Name,
		"tree": cctx.Tree(),
	})
}

func (s *Server) handleLastRegression(w http.ResponseWriter, r *http.Request) {
	summary, err := s.schedule.Last()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "last regression run failed", err)
		return
	}
	if summary == nil {
		respondError(w, http.StatusNotFound, "no regression run yet", nil)
		return
	}
	body := newRegressionResponse(summary)
	if next, ok := s.schedule.NextRun(); ok {
		respondJSON(w, http.StatusOK, map[string]any{"last": body, "next_run": next})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"last": body})
}

func (s *Server) handleRunRegression(w http.ResponseWriter, r *http.Request) {
	s.schedule.RunNow(r.Context())
	summary, err := s.schedule.Last()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "regression run failed", err)
		return
	}
	respondJSON(w, http.StatusOK, newRegressionResponse(summary))
}

// loadRule reads the rule named by the ruleId parameter, answering 404
// itself when it does not exist.
func (s *Server) loadRule(w http.ResponseWriter, r *http.Request) (*rules.Rule, bool) {
	rule, err := s.runtime().Engine.Store().Get(chi.URLParam(r, "ruleId"))
	if err != nil {
		respondRuleError(w, "failed to read rule", err)
		return nil, false
	}
	return rule, true
}

func (s *Server) productRequest(w http.ResponseWriter, r *http.Request) (*offered.Offered, map[string]any, bool) {
	args, ok := decodeArgs(w, r)
	if !ok {
		return nil, nil, false
	}
	product, err := s.runtime().Products.Get(chi.URLParam(r, "code"))
	if err != nil {
		respondProductError(w, err)
		return nil, nil, false
	}
	return product, args, true
}

// decodeArgs reads execution args: the body is the args object itself.
// An empty body means no args.
func decodeArgs(w http.ResponseWriter, r *http.Request) (map[string]any, bool) {
	args, err := script.DecodeArgs(r.Body)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return nil, false
	}
	return args, true
}

func respondRuleError(w http.ResponseWriter, message string, err error) {
	switch {
	case errors.Is(err, rules.ErrRuleNotFound):
		respondError(w, http.StatusNotFound, "rule not found", err)
	case errors.Is(err, rules.ErrRuleNotValidated):
		respondError(w, http.StatusConflict, message, err)
	case errors.Is(err, script.ErrForbiddenReference), errors.Is(err, script.ErrSyntax),
		errors.Is(err, dispatch.ErrUnresolvedCapability), errors.Is(err, table.ErrTableNotFound):
		respondError(w, http.StatusUnprocessableEntity, message, err)
	default:
		respondError(w, http.StatusInternalServerError, message, err)
	}
}

func respondProductError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, offered.ErrProductNotFound):
		respondError(w, http.StatusNotFound, "product not found", err)
	case errors.Is(err, offered.ErrNonExistingRuleKind):
		respondError(w, http.StatusNotFound, "no rule of this kind for the product", err)
	case errors.Is(err, rules.ErrRuleNotFound), errors.Is(err, rules.ErrRuleNotValidated):
		respondError(w, http.StatusConflict, "product rule cannot run", err)
	default:
		respondError(w, http.StatusUnprocessableEntity, "failed to evaluate product", err)
	}
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Warn("failed to write response", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, message string, err error) {
	logger.HTTPStatus(status)
	if status >= http.StatusInternalServerError {
		logger.Error(message, "error", err)
	}
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	respondJSON(w, status, resp)
}
