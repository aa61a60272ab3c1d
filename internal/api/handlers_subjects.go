// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/ManuGH/timegate/internal/api/middleware"
	"github.com/ManuGH/timegate/internal/log"
	"github.com/ManuGH/timegate/internal/schedule"
	"github.com/ManuGH/timegate/internal/store"
	"github.com/ManuGH/timegate/internal/telemetry"
	"github.com/go-chi/chi/v5"
)

const maxBodyBytes = 64 << 10

// subjectRequest is the PUT body. Enabled defaults to true.
type subjectRequest struct {
	Name    string `json:"name"`
	Enabled *bool  `json:"enabled"`
}

type usageRequest struct {
	Window  string     `json:"window"`
	At      *time.Time `json:"at"`
	Minutes int        `json:"minutes"`
	Count   int        `json:"count"`
}

type coverageDay struct {
	Day   string `json:"day"`
	Hours []int  `json:"hours"`
}

type coverageResponse struct {
	SubjectKey string        `json:"subjectKey"`
	Covered    int           `json:"coveredHours"`
	Days       []coverageDay `json:"days"`
	Grid       schedule.Grid `json:"grid"`
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		writeProblem(w, r, http.StatusBadRequest, problemBadRequest, "Bad Request", "INVALID_BODY", err.Error(), nil)
		return false
	}
	return true
}

// writeStoreError maps store and validation failures onto problem responses.
func (s *Server) writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *schedule.ValidationError
	switch {
	case errors.As(err, &verr):
		writeProblem(w, r, http.StatusBadRequest, problemValidation, "Validation Failed", "VALIDATION_FAILED", err.Error(),
			map[string]any{"field": verr.Field})
	case errors.Is(err, store.ErrSubjectNotFound), errors.Is(err, store.ErrRuleNotFound):
		writeProblem(w, r, http.StatusNotFound, problemNotFound, "Not Found", "NOT_FOUND", err.Error(), nil)
	default:
		logger := log.WithContext(r.Context(), s.logger)
		logger.Error().Err(err).Str(log.FieldEvent, "api.store_failed").Str(log.FieldPath, r.URL.Path).Msg("store operation failed")
		middleware.AddSpanAttributes(r, telemetry.ErrorAttributes("store")...)
		writeProblem(w, r, http.StatusInternalServerError, problemInternal, "Internal Server Error", "INTERNAL", "", nil)
	}
}

func (s *Server) handleListSubjects(w http.ResponseWriter, r *http.Request) {
	subjects, err := s.store.ListSubjects(r.Context())
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, subjects)
}

func (s *Server) handlePutSubject(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	var req subjectRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	subj := schedule.Subject{Key: key, Name: req.Name, Enabled: true}
	if req.Enabled != nil {
		subj.Enabled = *req.Enabled
	}
	saved, err := s.store.UpsertSubject(r.Context(), subj)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	s.engine.NotifyRulesChanged()
	writeJSON(w, http.StatusOK, saved)
}

func (s *Server) handleDeleteSubject(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteSubject(r.Context(), chi.URLParam(r, "key")); err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	s.engine.NotifyRulesChanged()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	subj, ok, err := s.store.SubjectByKey(r.Context(), key)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	if !ok {
		s.writeStoreError(w, r, fmt.Errorf("%w: %s", store.ErrSubjectNotFound, key))
		return
	}
	rules, err := s.store.RulesForSubject(r.Context(), subj.ID)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rules)
}

func (s *Server) handleCreateRules(w http.ResponseWriter, r *http.Request) {
	var req store.CatalogEntry
	if !decodeJSON(w, r, &req) {
		return
	}
	p, win, budget, err := req.Template()
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	created, err := s.engine.AuthorRules(r.Context(), chi.URLParam(r, "key"), p, win, budget)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeProblem(w, r, http.StatusBadRequest, problemBadRequest, "Bad Request", "INVALID_ID", "rule id must be a positive integer", nil)
		return
	}
	if err := s.store.DeleteRule(r.Context(), id); err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	s.engine.NotifyRulesChanged()
	w.WriteHeader(http.StatusNoContent)
}

// handleDecision evaluates at ?at= (RFC 3339) or the current time.
func (s *Server) handleDecision(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	now := s.now()
	if raw := r.URL.Query().Get("at"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeProblem(w, r, http.StatusBadRequest, problemBadRequest, "Bad Request", "INVALID_TIME", "at must be RFC 3339", nil)
			return
		}
		now = t
	}

	d := s.engine.Evaluate(key, now)
	var ruleID int64
	if d.Rule != nil {
		ruleID = d.Rule.ID
	}
	middleware.AddSpanAttributes(r, telemetry.DecisionAttributes(key, d.Blocked, string(d.Reason), ruleID, d.UsageDegraded)...)
	writeJSON(w, http.StatusOK, d)
}

// handleCoverage renders JSON, or the text grid with ?format=text.
func (s *Server) handleCoverage(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	grid, err := s.engine.SubjectCoverage(r.Context(), key)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}

	if r.URL.Query().Get("format") == "text" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = io.WriteString(w, grid.String())
		return
	}

	resp := coverageResponse{SubjectKey: key, Covered: grid.Count(), Grid: grid, Days: make([]coverageDay, 0, 7)}
	for d := schedule.Monday; d <= schedule.Sunday; d++ {
		hours := grid.Hours(d)
		if hours == nil {
			hours = []int{}
		}
		resp.Days = append(resp.Days, coverageDay{Day: d.String(), Hours: hours})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRecordUsage(w http.ResponseWriter, r *http.Request) {
	if s.recorder == nil {
		writeProblem(w, r, http.StatusNotImplemented, problemNoRecorder, "Not Implemented", "USAGE_NOT_CONFIGURED",
			"no usage backend is configured", nil)
		return
	}
	var req usageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	win, err := schedule.ParseWindow(req.Window)
	if err != nil || !win.Valid() {
		writeProblem(w, r, http.StatusBadRequest, problemValidation, "Validation Failed", "VALIDATION_FAILED",
			fmt.Sprintf("invalid window %q", req.Window), map[string]any{"field": "window"})
		return
	}
	if req.Minutes < 0 || req.Count < 0 {
		writeProblem(w, r, http.StatusBadRequest, problemValidation, "Validation Failed", "VALIDATION_FAILED",
			"minutes and count must be non-negative", nil)
		return
	}
	at := s.now()
	if req.At != nil {
		at = *req.At
	}
	if err := s.recorder.Record(r.Context(), chi.URLParam(r, "key"), win, at, req.Minutes, req.Count); err != nil {
		logger := log.WithContext(r.Context(), s.logger)
		logger.Warn().Err(err).Str(log.FieldEvent, "api.usage_record_failed").Msg("usage record failed")
		writeProblem(w, r, http.StatusBadGateway, problemInternal, "Bad Gateway", "USAGE_BACKEND", err.Error(), nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
