// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package middleware

import (
	"net/http"
	"time"

	"github.com/ManuGH/timegate/internal/log"
	"github.com/rs/zerolog"
)

// Logging writes one access log line per request. Health and metrics probes
// are logged at debug.
func Logging() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := wrap(w)
			next.ServeHTTP(sw, r)

			logger := log.WithComponentFromContext(r.Context(), "api")
			var evt *zerolog.Event
			switch {
			case sw.status >= 500:
				evt = logger.Error()
			case sw.status >= 400:
				evt = logger.Warn()
			case isProbe(r.URL.Path):
				evt = logger.Debug()
			default:
				evt = logger.Info()
			}
			evt.Str(log.FieldEvent, "http.request").
				Str("method", r.Method).
				Str(log.FieldPath, r.URL.Path).
				Str("route", routePattern(r)).
				Int("status", sw.status).
				Int("bytes", sw.bytes).
				Dur("duration", time.Since(start)).
				Str("remote_addr", r.RemoteAddr).
				Msg("request served")
		})
	}
}

func isProbe(path string) bool {
	switch path {
	case "/healthz", "/readyz", "/metrics":
		return true
	}
	return false
}
