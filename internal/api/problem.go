// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"encoding/json"
	"net/http"

	"github.com/ManuGH/timegate/internal/api/middleware"
	"github.com/ManuGH/timegate/internal/log"
)

// Problem types.
const (
	problemBadRequest = "request/invalid"
	problemValidation = "rules/validation"
	problemNotFound   = "system/not_found"
	problemNotReady   = "system/not_ready"
	problemInternal   = "system/internal"
	problemNoRecorder = "usage/not_configured"
)

// writeProblem writes an RFC 7807 problem details response.
//
//   - type: canonical machine identifier, e.g. "system/not_found".
//   - title: short human-readable label.
//   - code: stable machine-readable short code, e.g. "NOT_FOUND".
//   - detail: explanation of this specific error.
func writeProblem(w http.ResponseWriter, r *http.Request, status int, problemType, title, code, detail string, extra map[string]any) {
	reqID := log.RequestIDFromContext(r.Context())
	if reqID == "" {
		reqID = w.Header().Get(middleware.HeaderRequestID)
	}

	res := map[string]any{
		"type":     problemType,
		"title":    title,
		"status":   status,
		"code":     code,
		"instance": r.URL.EscapedPath(),
	}
	if reqID != "" {
		res["requestId"] = reqID
	}
	if detail != "" {
		res["detail"] = detail
	}
	for k, v := range extra {
		switch k {
		case "type", "title", "status", "detail", "instance", "code":
			log.L().Warn().Str("key", k).Str("problem_type", problemType).Msg("ignoring reserved key in problem extras")
			continue
		}
		res[k] = v
	}

	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(res); err != nil {
		log.L().Error().Err(err).Str("type", problemType).Int("status", status).Msg("failed to encode problem response")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.L().Error().Err(err).Int("status", status).Msg("failed to encode response")
	}
}
