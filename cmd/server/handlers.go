package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/liamcoop/decisions/enginemanager"
	"github.com/liamcoop/decisions/internal/logger"
	"github.com/liamcoop/decisions/rules"
)

// maxBodyBytes bounds request bodies
const maxBodyBytes = 32 << 20

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:       "healthy",
		DecisionSets: len(s.manager.List()),
		Uptime:       time.Since(s.startedAt).Truncate(time.Second).String(),
	}

	if s.db != nil {
		if err := s.db.PingContext(r.Context()); err != nil {
			resp.Status = "unhealthy"
			resp.Error = err.Error()
			respondJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
	}

	respondJSON(w, http.StatusOK, resp)
}

// handleEvaluate runs a configuration supplied in the request
func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req EvaluateRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.Rows == nil {
		respondError(w, http.StatusBadRequest, "rows are required", nil)
		return
	}

	if err := req.Config.Validate(); err != nil {
		respondError(w, http.StatusBadRequest, "invalid configuration", err)
		return
	}
	engine, err := req.Config.Engine(rules.WithObserver(s.metrics), rules.WithLogger(logger.Logger))
	if err != nil {
		respondError(w, statusFor(err), "invalid configuration", err)
		return
	}

	s.decide(w, engine, req.Rows, req.Explain)
}

// handleActions runs a served decision set
func (s *Server) handleActions(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	engine, err := s.manager.GetEngine(name)
	if err != nil {
		respondError(w, http.StatusNotFound, "decision set not found", err)
		return
	}

	var req ActionsRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.Rows == nil {
		respondError(w, http.StatusBadRequest, "rows are required", nil)
		return
	}

	s.decide(w, engine, req.Rows, req.Explain)
}

func (s *Server) decide(w http.ResponseWriter, engine *rules.DecisionEngine, rows []rules.Row, explain bool) {
	for _, row := range rows {
		rules.NormalizeRow(row)
	}
	table := rules.NewTableFromRows(rows)

	start := time.Now()
	report, err := engine.Decide(table)
	if err != nil {
		respondError(w, statusFor(err), "evaluation failed", err)
		return
	}

	respondJSON(w, http.StatusOK, toActionsResponse(engine.RuleSet().Key(), report, explain, time.Since(start)))
}

func (s *Server) handleListDecisionSets(w http.ResponseWriter, r *http.Request) {
	names := s.manager.List()
	resp := DecisionSetsListResponse{DecisionSets: make([]DecisionSetResponse, 0, len(names))}
	for _, name := range names {
		me, err := s.manager.Get(name)
		if err != nil {
			// removed between List and Get
			continue
		}
		resp.DecisionSets = append(resp.DecisionSets, toDecisionSetResponse(me.DecisionSet, me.Source))
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCreateDecisionSet(w http.ResponseWriter, r *http.Request) {
	var req DecisionSetRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	ds, err := req.toDecisionSet(req.Name)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid decision set", err)
		return
	}
	ds.ID = uuid.New().String()

	if err := s.manager.Create(ds); err != nil {
		respondError(w, statusFor(err), "failed to create decision set", err)
		return
	}

	respondJSON(w, http.StatusCreated, toDecisionSetResponse(ds, enginemanager.SourceStore))
}

func (s *Server) handleGetDecisionSet(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	if me, err := s.manager.Get(name); err == nil {
		respondJSON(w, http.StatusOK, toDecisionSetResponse(me.DecisionSet, me.Source))
		return
	}

	// inactive sets are stored but not served
	ds, err := s.store.Get(name)
	if err != nil {
		respondError(w, statusFor(err), "decision set not found", err)
		return
	}
	respondJSON(w, http.StatusOK, toDecisionSetResponse(ds, enginemanager.SourceStore))
}

func (s *Server) handleUpdateDecisionSet(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var req DecisionSetRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.Name != "" && req.Name != name {
		respondError(w, http.StatusBadRequest, "name in body does not match path", nil)
		return
	}

	ds, err := req.toDecisionSet(name)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid decision set", err)
		return
	}

	if err := s.manager.Update(ds); err != nil {
		respondError(w, statusFor(err), "failed to update decision set", err)
		return
	}

	respondJSON(w, http.StatusOK, toDecisionSetResponse(ds, enginemanager.SourceStore))
}

func (s *Server) handleDeleteDecisionSet(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	if err := s.manager.Delete(name); err != nil {
		respondError(w, statusFor(err), "failed to delete decision set", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// statusFor maps engine and store errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case rules.IsConfigError(err):
		return http.StatusBadRequest
	case rules.IsEvaluationError(err):
		return http.StatusUnprocessableEntity
	case errors.Is(err, rules.ErrDecisionSetNotFound):
		return http.StatusNotFound
	case errors.Is(err, rules.ErrDecisionSetExists):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// decodeJSON decodes the body keeping numbers exact; rows normalize them later
func decodeJSON(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return fmt.Errorf("failed to read body: %w", err)
	}
	if len(body) > maxBodyBytes {
		return fmt.Errorf("request body exceeds %d bytes", maxBodyBytes)
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	return dec.Decode(v)
}

// Helper functions
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string, err error) {
	response := ErrorResponse{Error: message}
	if err != nil {
		response.Details = err.Error()
	}

	switch {
	case status >= 500:
		logger.ErrorHttp5xx()
		logger.Error(message, "status", status, "error", err)
	case status >= 400:
		logger.WarnHttp4xx(status)
	}

	respondJSON(w, status, response)
}
