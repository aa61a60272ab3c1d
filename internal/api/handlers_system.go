// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"net/http"

	"github.com/ManuGH/timegate/internal/log"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Healthy(); err != nil {
		writeProblem(w, r, http.StatusServiceUnavailable, problemNotReady, "Service Unavailable", "NOT_READY", err.Error(), nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"snapshotVersion": s.engine.Stats().Version,
	})
}

func (s *Server) handleIndexStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Stats())
}

func (s *Server) handleIndexRebuild(w http.ResponseWriter, r *http.Request) {
	snap, err := s.engine.RebuildNow(r.Context())
	if err != nil {
		logger := log.WithContext(r.Context(), s.logger)
		logger.Error().Err(err).Str(log.FieldEvent, "api.rebuild_failed").Msg("manual rebuild failed")
		writeProblem(w, r, http.StatusInternalServerError, problemInternal, "Rebuild Failed", "REBUILD_FAILED", err.Error(), nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"version":  snap.Version(),
		"subjects": snap.Len(),
		"rules":    snap.RuleCount(),
		"dropped":  snap.Dropped(),
	})
}
