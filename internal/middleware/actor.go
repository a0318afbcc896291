// Copyright (c) 2026 Madalin Gabriel Ignisca <hi@madalin.me>
// Copyright (c) 2026 Vlah Software House SRL <contact@vlah.sh>
// All rights reserved. See LICENSE for details.

package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
)

// contextKey is an unexported type for context keys to prevent collisions.
type contextKey string

const (
	// ActorKey is the context key for the authenticated actor name.
	ActorKey contextKey = "actor"
)

// DefaultActorHeader is set by the gateway after it authenticates a caller.
const DefaultActorHeader = "X-Authenticated-User"

// LoadActor copies the actor name from header into the request context.
// Downstream handlers can access it via ActorFromCtx(). This middleware
// does NOT enforce authentication; it just loads the actor if present.
func LoadActor(header string) func(http.Handler) http.Handler {
	if header == "" {
		header = DefaultActorHeader
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if actor := strings.TrimSpace(r.Header.Get(header)); actor != "" {
				r = r.WithContext(context.WithValue(r.Context(), ActorKey, actor))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireActor rejects state-changing requests that carry no actor with
// 401. Safe methods pass through so reads stay anonymous.
// Must be applied after LoadActor in the middleware chain.
func RequireActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			next.ServeHTTP(w, r)
			return
		}
		if ActorFromCtx(r.Context()) == "" {
			writeError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "an authenticated actor is required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ActorFromCtx extracts the actor name from the request context.
// Returns "" if no actor is loaded.
func ActorFromCtx(ctx context.Context) string {
	actor, _ := ctx.Value(ActorKey).(string)
	return actor
}

// writeError sends the API error envelope. Middleware answers before any
// handler runs, so it cannot use the handlers' writer.
func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": code, "message": message})
}
